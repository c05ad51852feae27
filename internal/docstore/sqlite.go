package docstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kairoslabs/kairos/internal/embed"
	"github.com/kairoslabs/kairos/internal/logging"
)

// SQLite stores documents in a single SQLite database.
// Thread-safety: all methods are safe for concurrent use via internal mutex,
// since transcriber workers and jobs commit documents simultaneously.
type SQLite struct {
	db       *sql.DB
	path     string // cleaned file path, empty for in-memory stores
	mu       sync.RWMutex
	embedder embed.Embedder // optional: nil disables semantic search
}

// Open creates a store at dbPath (":memory:" for tests), creating tables
// if needed. Uses WAL mode for file-based databases.
func Open(dbPath string, embedder embed.Embedder) (*SQLite, error) {
	connStr := dbPath
	if dbPath == ":memory:" {
		// Shared cache so all pooled connections see the same database.
		// The database name must be unique per store: a bare ":memory:"
		// with shared cache is process-global, which would alias every
		// in-memory notebook onto one documents table.
		connStr = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if dbPath != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}

	s := &SQLite{db: db, embedder: embedder}
	if dbPath != ":memory:" {
		s.path = filepath.Clean(dbPath)
	}

	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return s, nil
}

func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		metadata TEXT NOT NULL,
		embedding BLOB,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// AddDocuments stores the chunks and returns their assigned ids in input
// order. Embedding failures are logged and leave the document searchable
// by keyword only; a bad embedding call must not lose the chunk.
func (s *SQLite) AddDocuments(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	type row struct {
		id        string
		text      string
		metadata  []byte
		embedding []byte
	}

	rows := make([]row, 0, len(docs))
	for _, doc := range docs {
		meta, err := json.Marshal(doc.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshal metadata: %w", err)
		}

		r := row{id: uuid.NewString(), text: doc.Text, metadata: meta}
		if s.embedder != nil {
			vec, err := s.embedder.Embed(ctx, doc.Text)
			if err != nil {
				logging.Warn("Embedding failed, keyword search only for document", "error", err)
			} else {
				r.embedding = encodeEmbedding(vec)
			}
		}
		rows = append(rows, r)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO documents (id, text, metadata, embedding) VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if _, err := stmt.Exec(r.id, r.text, r.metadata, r.embedding); err != nil {
			return nil, err
		}
		ids = append(ids, r.id)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Get returns a stored document by id.
func (s *SQLite) Get(id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc Document
	var meta []byte
	err := s.db.QueryRow(
		"SELECT id, text, metadata FROM documents WHERE id = ?", id,
	).Scan(&doc.ID, &doc.Text, &meta)
	if err == sql.ErrNoRows {
		return Document{}, fmt.Errorf("document %s: not found", id)
	}
	if err != nil {
		return Document{}, err
	}

	if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
		return Document{}, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return doc, nil
}

// Count returns the number of stored documents.
func (s *SQLite) Count() (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&n)
	return n, err
}

// SimilaritySearch returns up to k documents ranked by cosine similarity
// to the query embedding. Without an embedder it falls back to keyword
// matching, so search degrades rather than failing outright.
func (s *SQLite) SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error) {
	if k <= 0 {
		return nil, nil
	}

	if s.embedder != nil && s.embedder.Available() {
		queryVec, err := s.embedder.Embed(ctx, query)
		if err == nil {
			return s.searchByEmbedding(queryVec, k)
		}
		logging.Warn("Query embedding failed, falling back to keyword search", "error", err)
	}

	return s.searchByKeyword(query, k)
}

type scored struct {
	doc   Document
	score float32
}

// searchByEmbedding ranks all embedded documents by cosine similarity.
// A full scan is fine at notebook scale (hundreds to low thousands of chunks).
func (s *SQLite) searchByEmbedding(queryVec []float32, k int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT id, text, metadata, embedding FROM documents WHERE embedding IS NOT NULL")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []scored
	for rows.Next() {
		var doc Document
		var meta, blob []byte
		if err := rows.Scan(&doc.ID, &doc.Text, &meta, &blob); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
		candidates = append(candidates, scored{
			doc:   doc,
			score: embed.CosineSimilarity(queryVec, decodeEmbedding(blob)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]Document, len(candidates))
	for i, c := range candidates {
		out[i] = c.doc
	}
	return out, nil
}

// searchByKeyword ranks documents by how many query words they contain.
func (s *SQLite) searchByKeyword(query string, k int) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT id, text, metadata FROM documents")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	words := strings.Fields(strings.ToLower(query))

	var candidates []scored
	for rows.Next() {
		var doc Document
		var meta []byte
		if err := rows.Scan(&doc.ID, &doc.Text, &meta); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}

		text := strings.ToLower(doc.Text)
		var hits float32
		for _, w := range words {
			if strings.Contains(text, w) {
				hits++
			}
		}
		if hits > 0 {
			candidates = append(candidates, scored{doc: doc, score: hits})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]Document, len(candidates))
	for i, c := range candidates {
		out[i] = c.doc
	}
	return out, nil
}

// Persist writes the store's contents to path. When path is the store's
// own database file the data is already there, so the WAL is folded into
// it instead: removing and rewriting the open file would leave the
// connection on an unlinked inode and lose every later write. Other
// targets get a VACUUM INTO a temp file renamed into place.
func (s *SQLite) Persist(path string) error {
	if path == "" {
		return fmt.Errorf("persist: empty path")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" && filepath.Clean(path) == s.path {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return fmt.Errorf("persist: checkpoint: %w", err)
		}
		return nil
	}

	tmp := path + ".tmp"
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("persist: remove stale file: %w", err)
	}
	if _, err := s.db.Exec("VACUUM INTO ?", tmp); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

// encodeEmbedding serializes a float32 vector as little-endian bytes.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeEmbedding deserializes a little-endian float32 vector.
func decodeEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
