package ann

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"docrag/pkg/store"
	"docrag/pkg/util"
)

const (
	graphFileName  = "hnsw_index.bin"
	chunksFileName = "hnsw_chunks.json"
)

// graphFile is the gob wire form of the index graph. Chunks travel
// separately as JSON so they stay inspectable.
type graphFile struct {
	Dim      int
	M        int
	Entry    int
	MaxLevel int
	Nodes    []nodeFile
}

type nodeFile struct {
	Vec       []float32
	Level     int
	Neighbors [][]int32
}

// Save writes the graph and its chunks under dir/corpusID. Both artifacts
// are written to temp files first so a crash never leaves a torn index.
func (ix *Index) Save(dir, corpusID string) error {
	if corpusID == "" {
		return fmt.Errorf("ann: empty corpus id")
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	target := filepath.Join(dir, corpusID)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("ann: creating index dir: %w", err)
	}

	gf := graphFile{
		Dim:      ix.cfg.Dim,
		M:        ix.cfg.M,
		Entry:    ix.entry,
		MaxLevel: ix.maxLevel,
		Nodes:    make([]nodeFile, len(ix.nodes)),
	}
	for i, n := range ix.nodes {
		gf.Nodes[i] = nodeFile{Vec: n.vec, Level: n.level, Neighbors: n.neighbors}
	}

	if err := writeAtomic(filepath.Join(target, graphFileName), func(f *os.File) error {
		return gob.NewEncoder(f).Encode(&gf)
	}); err != nil {
		return fmt.Errorf("ann: writing graph: %w", err)
	}

	if err := writeAtomic(filepath.Join(target, chunksFileName), func(f *os.File) error {
		return json.NewEncoder(f).Encode(ix.chunks)
	}); err != nil {
		return fmt.Errorf("ann: writing chunks: %w", err)
	}

	util.Debugf(util.DebugSummary, "ann: saved index for corpus %s (%d chunks)", corpusID, len(ix.chunks))
	return nil
}

// Load replaces the index contents with a previously saved corpus. It
// fails closed: on any error the in-memory index is left untouched and
// the caller should fall back to other backends.
func (ix *Index) Load(dir, corpusID string) error {
	if corpusID == "" {
		return fmt.Errorf("ann: empty corpus id")
	}

	target := filepath.Join(dir, corpusID)

	gfRaw, err := os.Open(filepath.Join(target, graphFileName))
	if err != nil {
		return fmt.Errorf("ann: opening graph: %w", err)
	}
	defer gfRaw.Close()

	var gf graphFile
	if err := gob.NewDecoder(gfRaw).Decode(&gf); err != nil {
		return fmt.Errorf("ann: decoding graph: %w", err)
	}
	if gf.Dim != ix.cfg.Dim {
		return fmt.Errorf("ann: saved index has %d dims, want %d", gf.Dim, ix.cfg.Dim)
	}

	cfRaw, err := os.Open(filepath.Join(target, chunksFileName))
	if err != nil {
		return fmt.Errorf("ann: opening chunks: %w", err)
	}
	defer cfRaw.Close()

	var chunks []*store.Chunk
	if err := json.NewDecoder(cfRaw).Decode(&chunks); err != nil {
		return fmt.Errorf("ann: decoding chunks: %w", err)
	}
	if len(chunks) != len(gf.Nodes) {
		return fmt.Errorf("ann: %d chunks for %d graph nodes", len(chunks), len(gf.Nodes))
	}

	nodes := make([]*node, len(gf.Nodes))
	for i, nf := range gf.Nodes {
		nodes[i] = &node{vec: nf.Vec, level: nf.Level, neighbors: nf.Neighbors}
	}

	ix.mu.Lock()
	ix.nodes = nodes
	ix.chunks = chunks
	ix.entry = gf.Entry
	ix.maxLevel = gf.MaxLevel
	ix.ready = len(chunks) > 0
	ix.mu.Unlock()

	util.Debugf(util.DebugSummary, "ann: loaded index for corpus %s (%d chunks)", corpusID, len(chunks))
	return nil
}

// Exists reports whether a saved index for corpusID is present on disk.
func Exists(dir, corpusID string) bool {
	if corpusID == "" {
		return false
	}
	_, err1 := os.Stat(filepath.Join(dir, corpusID, graphFileName))
	_, err2 := os.Stat(filepath.Join(dir, corpusID, chunksFileName))
	return err1 == nil && err2 == nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
