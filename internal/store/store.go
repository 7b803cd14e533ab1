// Package store holds the vector store backends. The core consumes the
// external store through the narrow VectorStore interface; it never owns
// the index.
package store

import (
	"context"
	"errors"

	"github.com/docsift/docsift/pkg/models"
)

// ErrUnsupported is returned by backends lacking an optional capability
// (listing all ids, keyword search). Callers degrade explicitly instead
// of failing.
var ErrUnsupported = errors.New("store: operation unsupported by this backend")

// Filter scopes a query to one framework. A chunk matches if its own tag
// equals the requested one or the generic "common" tag.
type Filter struct {
	Framework models.Framework
}

// Match is one query hit with a provider-specific score.
type Match struct {
	Chunk models.Chunk
	Score float64
}

// VectorStore is the contract every backend implements. Query and
// KeywordQuery are safe for concurrent use; conflicting index mutation
// (two simultaneous syncs) is the caller's problem to serialize.
type VectorStore interface {
	// Init prepares the backend (schema migration, collection creation)
	// for vectors of the given dimensionality.
	Init(ctx context.Context, dim int) error
	// Upsert writes chunks with their vectors; idempotent by chunk id.
	Upsert(ctx context.Context, chunks []models.EmbeddedChunk) error
	DeleteMany(ctx context.Context, ids []string) error
	DeleteAll(ctx context.Context) error
	// Query runs dense similarity search.
	Query(ctx context.Context, vector []float32, topK int, f Filter) ([]Match, error)
	// KeywordQuery runs sparse/keyword search; may return ErrUnsupported.
	KeywordQuery(ctx context.Context, query string, topK int, f Filter) ([]Match, error)
	// ListIDs enumerates every chunk id in the index; may return
	// ErrUnsupported (smart update then degrades to upsert-only).
	ListIDs(ctx context.Context) ([]string, error)
	GetChunk(ctx context.Context, id string) (models.Chunk, bool, error)
	// Stats returns the total record count.
	Stats(ctx context.Context) (int64, error)
	Close()
}
