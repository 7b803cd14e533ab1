package models

import "errors"

// Framework labels a documentation subset. A chunk tagged "common" is
// relevant to every framework and matches any framework filter.
type Framework string

const (
	FrameworkFlow   Framework = "flow"
	FrameworkHilla  Framework = "hilla"
	FrameworkCommon Framework = "common"
)

// Valid reports whether f is a known framework tag.
func (f Framework) Valid() bool {
	switch f {
	case FrameworkFlow, FrameworkHilla, FrameworkCommon:
		return true
	}
	return false
}

// Matches reports whether a chunk tagged f satisfies the requested filter.
// An empty filter matches everything; "common" chunks match every filter.
func (f Framework) Matches(requested Framework) bool {
	if requested == "" {
		return true
	}
	return f == requested || f == FrameworkCommon
}

// ErrNotFound is returned by lookups when an id or path has no entry.
var ErrNotFound = errors.New("not found")

// Document is one source file as produced by the loader. Immutable after
// loading; its chunks are the persisted unit.
type Document struct {
	Path      string            `json:"path"`
	Body      string            `json:"body"`
	Framework Framework         `json:"framework"`
	SourceURL string            `json:"source_url"`
	Title     string            `json:"title"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// Chunk is a bounded span of one document's body, the atomic unit of
// embedding and retrieval.
type Chunk struct {
	ID        string            `json:"id"`
	Content   string            `json:"content"`
	Level     int               `json:"level"`
	Heading   string            `json:"heading,omitempty"`
	ParentID  string            `json:"parent_id,omitempty"`
	Framework Framework         `json:"framework"`
	SourceURL string            `json:"source_url"`
	Path      string            `json:"path"`
	Title     string            `json:"title"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// EmbeddedChunk pairs a chunk with its dense vector.
type EmbeddedChunk struct {
	Chunk  Chunk     `json:"chunk"`
	Vector []float32 `json:"vector"`
}

// RetrievalResult is the query-time view of a chunk. The score is on a
// provider-specific scale and only orders results within one query.
type RetrievalResult struct {
	ID        string    `json:"id"`
	Framework Framework `json:"framework"`
	Content   string    `json:"content"`
	SourceURL string    `json:"source_url"`
	Path      string    `json:"path"`
	Title     string    `json:"title,omitempty"`
	Heading   string    `json:"heading,omitempty"`
	Score     float64   `json:"score"`
}
