package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TopK != 5 {
		t.Errorf("TopK = %d, want 5", cfg.TopK)
	}
	if cfg.Index.DedupThreshold != 0.92 {
		t.Errorf("DedupThreshold = %f, want 0.92", cfg.Index.DedupThreshold)
	}
	if cfg.Rerank.ShortlistMultiplier != 4 {
		t.Errorf("ShortlistMultiplier = %d, want 4", cfg.Rerank.ShortlistMultiplier)
	}
}

func TestLoadOverridesAndFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docrag.yaml")
	yaml := `
top_k: 8
embedder:
  model: custom-embed
index:
  dimensions: 768
rerank:
  late_weight: 0.5
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.TopK != 8 {
		t.Errorf("TopK = %d, want override 8", cfg.TopK)
	}
	if cfg.Embedder.Model != "custom-embed" {
		t.Errorf("Model = %q", cfg.Embedder.Model)
	}
	if cfg.Index.Dimensions != 768 {
		t.Errorf("Dimensions = %d", cfg.Index.Dimensions)
	}
	if cfg.Rerank.LateWeight != 0.5 {
		t.Errorf("LateWeight = %f", cfg.Rerank.LateWeight)
	}
	// Unset fields fall back to defaults.
	if cfg.Embedder.BatchSize != 64 {
		t.Errorf("BatchSize = %d, want default 64", cfg.Embedder.BatchSize)
	}
	if cfg.Index.M != 16 {
		t.Errorf("M = %d, want default 16", cfg.Index.M)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("top_k: [not a number"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("malformed yaml accepted")
	}
}

func TestAPIKeyResolution(t *testing.T) {
	t.Setenv("DOCRAG_TEST_KEY", "sk-test")
	e := EmbedderConfig{APIKeyEnv: "DOCRAG_TEST_KEY"}
	if got := e.APIKey(); got != "sk-test" {
		t.Errorf("APIKey() = %q", got)
	}

	t.Setenv("OPENAI_API_KEY", "sk-fallback")
	if got := (EmbedderConfig{}).APIKey(); got != "sk-fallback" {
		t.Errorf("APIKey() fallback = %q", got)
	}
}
