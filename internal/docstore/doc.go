// Package docstore persists document chunks with metadata and embeddings
// and answers similarity queries over them. Each notebook owns one store.
package docstore

import "context"

// Document is one stored text chunk with its metadata.
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"page_content"`
	Metadata map[string]any `json:"metadata"`
}

// Index returns the document's ingestion sequence index from metadata.
// JSON round-trips turn numbers into float64, so both forms are handled.
// Returns -1 when the metadata carries no index.
func (d Document) Index() int {
	switch v := d.Metadata["_index"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return -1
	}
}

// Store is the interface the notebook core depends on. The shipped
// implementation is SQLite-backed; tests substitute fakes.
type Store interface {
	// AddDocuments stores chunks, assigning ids, and returns the ids in
	// input order.
	AddDocuments(ctx context.Context, docs []Document) ([]string, error)

	// Get returns a stored document by id.
	Get(id string) (Document, error)

	// SimilaritySearch returns up to k documents most relevant to query.
	SimilaritySearch(ctx context.Context, query string, k int) ([]Document, error)

	// Persist writes the store's contents to path.
	Persist(path string) error

	// Close releases the underlying resources.
	Close() error
}
