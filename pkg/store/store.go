package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"docrag/pkg/util"
)

const defaultDims = 768

// Store is the exact vector backend plus the metadata-filtered lexical
// store. It serves as the fallback retrieval path when the ANN index is
// absent, and as a secondary signal source.
type Store struct {
	db    *sql.DB
	dims  int
	quant QuantizationMode
	fts   bool
}

// Option configures a Store at open time.
type Option func(*Store)

// WithDimensions sets the embedding dimensionality (default 768).
func WithDimensions(dims int) Option {
	return func(s *Store) {
		if dims > 0 {
			s.dims = dims
		}
	}
}

// WithQuantization selects how vectors are stored on disk.
func WithQuantization(mode QuantizationMode) Option {
	return func(s *Store) { s.quant = mode }
}

// Open opens or creates a store at the given path.
func Open(path string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	sqlite_vec.Auto()

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dims: defaultDims}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA temp_store=MEMORY",
		"PRAGMA busy_timeout=10000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content_hash TEXT NOT NULL UNIQUE,
			content TEXT NOT NULL,
			source TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_chunks USING vec0(
			rowid INTEGER PRIMARY KEY,
			embedding %s distance_metric=cosine,
			chunk_id INTEGER PARTITION KEY
		)`, s.vectorColumnDef()),
		`CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(source)`,
	}
	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to init schema: %w", err)
		}
	}

	return s.initFTS5()
}

func (s *Store) vectorColumnDef() string {
	if s.quant == QuantizeInt8 {
		return fmt.Sprintf("int8[%d]", s.dims)
	}
	return fmt.Sprintf("float[%d]", s.dims)
}

// initFTS5 creates the lexical table and sync triggers. FTS5 over content
// and source is the metadata-filtered fallback backend. Builds whose SQLite
// lacks the fts5 module (go-sqlite3 needs the sqlite_fts5 build tag) degrade
// to vector-only search instead of failing Open.
func (s *Store) initFTS5() error {
	_, err := s.db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			content,
			source,
			content='chunks',
			content_rowid='id'
		)
	`)
	if err != nil {
		if strings.Contains(err.Error(), "no such module") {
			util.Debugf(util.DebugSummary, "FTS5 unavailable, lexical search disabled: %v", err)
			return nil
		}
		return fmt.Errorf("create FTS5 table: %w", err)
	}
	s.fts = true

	triggers := []string{
		`CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
			INSERT INTO chunks_fts(rowid, content, source)
			VALUES (NEW.id, NEW.content, NEW.source);
		END`,
		`CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
			INSERT INTO chunks_fts(chunks_fts, rowid, content, source)
			VALUES ('delete', OLD.id, OLD.content, OLD.source);
		END`,
	}
	for _, t := range triggers {
		if _, err := s.db.Exec(t); err != nil {
			if !strings.Contains(err.Error(), "already exists") {
				return fmt.Errorf("create trigger: %w", err)
			}
		}
	}

	return nil
}

func (s *Store) serializeEmbedding(embedding []float32) ([]byte, error) {
	if s.quant == QuantizeInt8 {
		return SerializeInt8(QuantizeToInt8Unit(embedding)), nil
	}
	return sqlite_vec.SerializeFloat32(embedding)
}

// vectorParam is the SQL expression binding an embedding blob. int8 columns
// reject raw blobs unless they pass through vec_int8.
func (s *Store) vectorParam() string {
	if s.quant == QuantizeInt8 {
		return "vec_int8(?)"
	}
	return "?"
}

// HasLexical reports whether the FTS5 lexical backend is available.
func (s *Store) HasLexical() bool {
	return s.fts
}

// AddChunks saves chunks with their embeddings in a single transaction.
// Chunks without an embedding or with content already present are skipped.
func (s *Store) AddChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	chunkStmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO chunks (content_hash, content, source) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer func() { _ = chunkStmt.Close() }()

	vecStmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO vec_chunks (rowid, embedding, chunk_id) VALUES (?, %s, ?)`, s.vectorParam()))
	if err != nil {
		return err
	}
	defer func() { _ = vecStmt.Close() }()

	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}

		res, err := chunkStmt.ExecContext(ctx, c.ContentHash(), c.Content, c.Source)
		if err != nil {
			return fmt.Errorf("failed to insert chunk %q: %w", c.Source, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			continue // duplicate content
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		blob, err := s.serializeEmbedding(c.Embedding)
		if err != nil {
			return fmt.Errorf("failed to serialize embedding: %w", err)
		}
		if _, err := vecStmt.ExecContext(ctx, id, blob, id); err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}

	return tx.Commit()
}

// SearchVector finds the k nearest chunks to the query embedding.
// Results are score-descending with a similarity annotation (1 - cosine
// distance). An empty store yields an empty result, not an error.
//
// Uses two-phase search: the KNN scan runs over the vector table alone,
// since sqlite-vec rejects knn queries joined with other tables, then the
// matched chunk rows are loaded by id.
func (s *Store) SearchVector(ctx context.Context, embedding []float32, k int) ([]*Chunk, error) {
	blob, err := s.serializeEmbedding(embedding)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT chunk_id, distance
		FROM vec_chunks
		WHERE embedding MATCH %s
		ORDER BY distance
		LIMIT ?
	`, s.vectorParam()), blob, k)
	if err != nil {
		return nil, fmt.Errorf("KNN search failed: %w", err)
	}

	var ids []int64
	var distances []float64
	for rows.Next() {
		var id int64
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			_ = rows.Close()
			return nil, err
		}
		ids = append(ids, id)
		distances = append(distances, distance)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	chunkRows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, content, source
		FROM chunks
		WHERE id IN (%s)
	`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("chunk fetch failed: %w", err)
	}
	defer func() { _ = chunkRows.Close() }()

	byID := make(map[int64]*Chunk, len(ids))
	for chunkRows.Next() {
		var id int64
		var chunk Chunk
		if err := chunkRows.Scan(&id, &chunk.Content, &chunk.Source); err != nil {
			return nil, err
		}
		byID[id] = &chunk
	}
	if err := chunkRows.Err(); err != nil {
		return nil, err
	}

	results := make([]*Chunk, 0, len(ids))
	for i, id := range ids {
		c, ok := byID[id]
		if !ok {
			continue
		}
		c.SetScore(ScoreSimilarity, 1.0-distances[i])
		results = append(results, c)
	}
	return results, nil
}

// SearchText finds chunks lexically matching the query via FTS5/BM25.
// BM25 ranks are negated so results are score-descending like every other
// retrieval path.
func (s *Store) SearchText(ctx context.Context, query string, k int) ([]*Chunk, error) {
	if !s.fts {
		return nil, nil
	}
	match := ExtractMatchTerms(query)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.content, c.source, bm25(chunks_fts) AS rank
		FROM chunks_fts f
		JOIN chunks c ON c.id = f.rowid
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, match, k)
	if err != nil {
		// Malformed FTS5 syntax degrades to no lexical results.
		if strings.Contains(err.Error(), "fts5") {
			return nil, nil
		}
		return nil, fmt.Errorf("lexical search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []*Chunk
	for rows.Next() {
		var chunk Chunk
		var rank float64
		if err := rows.Scan(&chunk.Content, &chunk.Source, &rank); err != nil {
			return nil, err
		}
		chunk.SetScore(ScoreSimilarity, -rank)
		results = append(results, &chunk)
	}
	return results, rows.Err()
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Clear removes every chunk and embedding.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, q := range []string{`DELETE FROM vec_chunks`, `DELETE FROM chunks`} {
		if _, err := tx.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}
