package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/docsift/docsift/pkg/models"
)

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Outcome records what happened to one file during a load. A skipped file
// carries the reason so the run report can enumerate the gaps.
type Outcome struct {
	Path    string `json:"path"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// Loader reads a directory tree of markdown documents, splitting the
// frontmatter header from the body and attaching provenance metadata.
type Loader struct {
	Root   string
	Reader FileReader
}

func New(root string) *Loader {
	return &Loader{Root: root, Reader: &DefaultFileReader{}}
}

// Load walks the tree and returns a document per readable markdown file.
// A file that fails to read or parse is skipped with a recorded reason,
// never aborting the whole load.
func (l *Loader) Load() ([]models.Document, []Outcome, error) {
	var docs []models.Document
	var outcomes []Outcome

	err := godirwalk.Walk(l.Root, &godirwalk.Options{
		Unsorted: false,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				if shouldSkipDir(path) {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(strings.ToLower(path), ".md") {
				return nil
			}

			relPath := rel(l.Root, path)
			b, err := l.Reader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				outcomes = append(outcomes, Outcome{Path: relPath, Skipped: true, Reason: "read: " + err.Error()})
				return nil
			}

			doc, err := Parse(relPath, string(b))
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to parse frontmatter")
				outcomes = append(outcomes, Outcome{Path: relPath, Skipped: true, Reason: "frontmatter: " + err.Error()})
				return nil
			}

			docs = append(docs, doc)
			outcomes = append(outcomes, Outcome{Path: relPath})
			return nil
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk %s: %w", l.Root, err)
	}
	return docs, outcomes, nil
}

// Parse splits an optional frontmatter block from the body and builds a
// document. The block is delimited by lines of three hyphens and holds a
// flat key: value section (quoted strings, booleans and numbers allowed).
func Parse(relPath, raw string) (models.Document, error) {
	front, body, err := splitFrontmatter(raw)
	if err != nil {
		return models.Document{}, err
	}

	doc := models.Document{
		Path:      filepath.ToSlash(relPath),
		Body:      body,
		Framework: models.FrameworkCommon,
	}

	if len(front) == 0 {
		return doc, nil
	}

	var meta map[string]any
	if err := yaml.Unmarshal(front, &meta); err != nil {
		return models.Document{}, fmt.Errorf("unmarshal: %w", err)
	}

	extra := make(map[string]string)
	for k, v := range meta {
		s := stringify(v)
		switch k {
		case "framework":
			fw := models.Framework(strings.ToLower(s))
			if !fw.Valid() {
				return models.Document{}, fmt.Errorf("unknown framework tag %q", s)
			}
			doc.Framework = fw
		case "source", "source_url":
			doc.SourceURL = s
		case "title":
			doc.Title = s
		default:
			extra[k] = s
		}
	}
	if len(extra) > 0 {
		doc.Extra = extra
	}
	return doc, nil
}

// splitFrontmatter returns the raw frontmatter block (nil if absent) and
// the body. Both delimiters are lines of exactly three hyphens, so lines
// like "----" or "---text" belong to the block or body, not the fence.
// An opening delimiter without a closing one is an error.
func splitFrontmatter(raw string) ([]byte, string, error) {
	norm := strings.ReplaceAll(raw, "\r\n", "\n")
	rest, opened := strings.CutPrefix(norm, "---\n")
	if !opened {
		if norm == "---" {
			return nil, "", fmt.Errorf("unterminated frontmatter block")
		}
		return nil, norm, nil
	}

	for off := 0; ; {
		line, tail, more := strings.Cut(rest[off:], "\n")
		if line == "---" {
			front := strings.TrimSuffix(rest[:off], "\n")
			return []byte(front), tail, nil
		}
		if !more {
			return nil, "", fmt.Errorf("unterminated frontmatter block")
		}
		off += len(line) + 1
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func shouldSkipDir(path string) bool {
	base := filepath.Base(path)
	return base != "." && (strings.HasPrefix(base, ".") || base == "node_modules")
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return p
	}
	return r
}
