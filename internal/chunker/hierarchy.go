package chunker

import (
	"path"
	"strings"

	"github.com/docsift/docsift/pkg/models"
)

// FileChunks groups one file's chunks in document order for relationship
// building.
type FileChunks struct {
	Path   string
	Chunks []*models.Chunk
}

// Hierarchy maps a file path to the index document that contains it,
// derived from directory structure. It drives cross-file parent links.
type Hierarchy struct {
	parents map[string]string
}

// HierarchyFromPaths derives the directory hierarchy from the loaded file
// set: a file is a child of its directory's index.md, and a directory's
// index.md is a child of the parent directory's index.md. Mappings are
// only recorded when the index file actually exists in the set.
func HierarchyFromPaths(paths []string) *Hierarchy {
	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		present[normPath(p)] = true
	}

	h := &Hierarchy{parents: make(map[string]string)}
	for _, raw := range paths {
		p := normPath(raw)
		dir := path.Dir(p)
		var parent string
		if path.Base(p) == "index.md" {
			if dir == "." {
				continue // root index has no parent
			}
			parent = path.Join(path.Dir(dir), "index.md")
		} else {
			parent = path.Join(dir, "index.md")
		}
		if present[parent] && parent != p {
			h.parents[p] = parent
		}
	}
	return h
}

// ParentOf returns the index document containing p, if any.
func (h *Hierarchy) ParentOf(p string) (string, bool) {
	if h == nil {
		return "", false
	}
	parent, ok := h.parents[normPath(p)]
	return parent, ok
}

// ChunkAll chunks every document and, when hierarchical, links the
// chunks into a parent/child tree before flattening them into one slice
// in document order. Parent links are assigned while each file's chunks
// are still individually addressable; the flattened copy is taken last.
func (c *Chunker) ChunkAll(docs []models.Document, hierarchical bool) []models.Chunk {
	files := make([]FileChunks, 0, len(docs))
	paths := make([]string, 0, len(docs))
	total := 0
	for _, doc := range docs {
		docChunks := c.Chunk(doc)
		refs := make([]*models.Chunk, len(docChunks))
		for i := range docChunks {
			refs[i] = &docChunks[i]
		}
		files = append(files, FileChunks{Path: doc.Path, Chunks: refs})
		paths = append(paths, doc.Path)
		total += len(docChunks)
	}

	if hierarchical {
		Build(files, HierarchyFromPaths(paths))
	}

	out := make([]models.Chunk, 0, total)
	for _, f := range files {
		for _, ch := range f.Chunks {
			out = append(out, *ch)
		}
	}
	return out
}

// Build links chunks into a parent/child tree: heading-level nesting
// within each file, then cross-file links via the directory hierarchy.
// Chunks are mutated in place.
func Build(files []FileChunks, h *Hierarchy) {
	firstChunk := make(map[string]*models.Chunk, len(files))
	for _, f := range files {
		buildFileRelations(f.Chunks)
		if len(f.Chunks) > 0 {
			firstChunk[normPath(f.Path)] = f.Chunks[0]
		}
	}

	// A file's first chunk becomes a child of its directory index
	// document, overriding any intra-file parent.
	for _, f := range files {
		if len(f.Chunks) == 0 {
			continue
		}
		parentPath, ok := h.ParentOf(f.Path)
		if !ok {
			continue
		}
		if parent, ok := firstChunk[parentPath]; ok {
			f.Chunks[0].ParentID = parent.ID
		}
	}
}

// buildFileRelations assigns intra-file parents with a stack of open
// sections. A chunk closes every open section at its own level or deeper
// (equal levels are siblings); the remaining top, if any, is its parent.
// Level-0 chunks carry no heading context: they neither receive a parent
// nor can parent anything, so they leave the stack alone.
func buildFileRelations(chunks []*models.Chunk) {
	var stack []*models.Chunk
	for _, ch := range chunks {
		if ch.Level == 0 {
			continue
		}
		for len(stack) > 0 && stack[len(stack)-1].Level >= ch.Level {
			stack = stack[:len(stack)-1]
		}
		if len(stack) > 0 {
			ch.ParentID = stack[len(stack)-1].ID
		}
		stack = append(stack, ch)
	}
}

func normPath(p string) string {
	return strings.TrimPrefix(strings.ReplaceAll(p, "\\", "/"), "./")
}
