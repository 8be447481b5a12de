// Package loader parses documents into chunks ready for ingestion.
// Plain text splits into fixed-size windows with overlap, markdown splits
// on headings, CSV renders row groups. Each chunk carries a source label
// like "report.txt p. 3" so answers can cite their origin.
package loader

import (
	"encoding/csv"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"docrag/pkg/store"
	"docrag/pkg/util"
)

// Config holds chunking parameters.
type Config struct {
	ChunkSize    int // target chunk length in characters
	ChunkOverlap int // characters shared between consecutive chunks
}

// DefaultConfig returns the standard 500/100 split.
func DefaultConfig() Config {
	return Config{ChunkSize: 500, ChunkOverlap: 100}
}

// Loader turns files into chunks.
type Loader struct {
	cfg Config
}

// New creates a loader.
func New(cfg Config) *Loader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 5
	}
	return &Loader{cfg: cfg}
}

// SupportedExt reports whether the loader can parse a file extension.
func SupportedExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ".txt", ".md", ".markdown", ".csv":
		return true
	}
	return false
}

// LoadFile parses a single file into chunks. Unsupported extensions
// return an error; empty files return no chunks.
func (l *Loader) LoadFile(path string) ([]*store.Chunk, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !SupportedExt(ext) {
		return nil, fmt.Errorf("loader: unsupported file type %q", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loader: reading %s: %w", path, err)
	}
	base := filepath.Base(path)

	var chunks []*store.Chunk
	switch ext {
	case ".md", ".markdown":
		chunks = l.chunkMarkdown(base, string(data))
	case ".csv":
		chunks, err = l.chunkCSV(base, string(data))
		if err != nil {
			return nil, err
		}
	default:
		chunks = l.chunkText(base, string(data))
	}

	util.Debugf(util.DebugDetailed, "loader: %s produced %d chunks", base, len(chunks))
	return chunks, nil
}

// LoadDir walks root and parses every supported file.
func (l *Loader) LoadDir(root string) ([]*store.Chunk, error) {
	var all []*store.Chunk
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !SupportedExt(filepath.Ext(path)) {
			return nil
		}
		chunks, err := l.LoadFile(path)
		if err != nil {
			util.Debugf(util.DebugSummary, "loader: skipping %s: %v", path, err)
			return nil
		}
		all = append(all, chunks...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loader: walking %s: %w", root, err)
	}
	util.Debugf(util.DebugSummary, "loader: loaded %d chunks from %s", len(all), root)
	return all, nil
}

// chunkText splits plain text into overlapping windows, breaking at
// paragraph or sentence boundaries where possible. Windows are numbered
// as pages for citation.
func (l *Loader) chunkText(base, text string) []*store.Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []*store.Chunk
	page := 1
	for start := 0; start < len(text); {
		end := start + l.cfg.ChunkSize
		if end >= len(text) {
			end = len(text)
		} else {
			end = breakPoint(text, start, end)
		}

		if c := store.NewChunk(text[start:end], fmt.Sprintf("%s p. %d", base, page)); c != nil {
			chunks = append(chunks, c)
			page++
		}

		if end == len(text) {
			break
		}
		next := end - l.cfg.ChunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// breakPoint moves a cut position back to the nearest paragraph, newline
// or sentence boundary, falling back to the hard limit.
func breakPoint(text string, start, end int) int {
	window := text[start:end]
	for _, sep := range []string{"\n\n", "\n", ". ", " "} {
		if i := strings.LastIndex(window, sep); i > len(window)/2 {
			return start + i + len(sep)
		}
	}
	return end
}

// chunkMarkdown splits on headings, one chunk per section. Sections
// bigger than the chunk size fall back to windowed splitting.
func (l *Loader) chunkMarkdown(base, text string) []*store.Chunk {
	var chunks []*store.Chunk
	var heading string
	var body strings.Builder

	flush := func() {
		content := strings.TrimSpace(body.String())
		body.Reset()
		if content == "" {
			return
		}
		source := base
		if heading != "" {
			source = base + " § " + heading
		}
		if len(content) > l.cfg.ChunkSize*2 {
			for _, sub := range l.chunkText(base, content) {
				sub.Source = source
				chunks = append(chunks, sub)
			}
			return
		}
		if c := store.NewChunk(content, source); c != nil {
			chunks = append(chunks, c)
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "#") {
			flush()
			heading = strings.TrimSpace(strings.TrimLeft(line, "#"))
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	flush()
	return chunks
}

// chunkCSV renders row groups as text, repeating the header in every
// chunk so each stays self-describing.
func (l *Loader) chunkCSV(base, text string) ([]*store.Chunk, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("loader: parsing csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := strings.Join(records[0], ", ")
	rows := records[1:]

	// Size row groups so a rendered chunk lands near the target length.
	rowsPerChunk := 1
	if len(header) > 0 {
		rowsPerChunk = l.cfg.ChunkSize / (len(header) + 1)
	}
	if rowsPerChunk < 1 {
		rowsPerChunk = 1
	}

	var chunks []*store.Chunk
	page := 1
	for start := 0; start < len(rows); start += rowsPerChunk {
		end := start + rowsPerChunk
		if end > len(rows) {
			end = len(rows)
		}
		var b strings.Builder
		b.WriteString(header)
		b.WriteString("\n")
		for _, row := range rows[start:end] {
			b.WriteString(strings.Join(row, ", "))
			b.WriteString("\n")
		}
		if c := store.NewChunk(b.String(), fmt.Sprintf("%s p. %d", base, page)); c != nil {
			chunks = append(chunks, c)
			page++
		}
	}
	return chunks, nil
}
