package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/docsift/docsift/pkg/models"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "index.md", "---\ntitle: Docs Home\nframework: common\n---\n# Welcome\n")
	writeFile(t, root, "guide/grid.md", "---\ntitle: Grid\nframework: flow\nsource: https://example.com/grid\n---\n# Grid\n\nBody.\n")
	writeFile(t, root, "guide/plain.md", "# No Frontmatter\n\nJust markdown.\n")
	writeFile(t, root, "guide/broken.md", "---\ntitle: never closed\n")
	writeFile(t, root, "guide/bad-tag.md", "---\nframework: angular\n---\nBody.\n")
	writeFile(t, root, "notes.txt", "not markdown")
	writeFile(t, root, ".hidden/secret.md", "# Hidden\n")
	writeFile(t, root, "node_modules/dep/readme.md", "# Dep\n")

	docs, outcomes, err := New(root).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	byPath := map[string]models.Document{}
	for _, d := range docs {
		byPath[d.Path] = d
	}
	if len(docs) != 3 {
		t.Errorf("loaded %d docs, want 3: %v", len(docs), byPath)
	}

	grid, ok := byPath["guide/grid.md"]
	if !ok {
		t.Fatal("guide/grid.md not loaded")
	}
	if grid.Title != "Grid" || grid.Framework != models.FrameworkFlow || grid.SourceURL != "https://example.com/grid" {
		t.Errorf("grid metadata = %+v", grid)
	}
	if grid.Body != "# Grid\n\nBody.\n" {
		t.Errorf("grid body = %q", grid.Body)
	}

	plain, ok := byPath["guide/plain.md"]
	if !ok {
		t.Fatal("guide/plain.md not loaded")
	}
	if plain.Framework != models.FrameworkCommon {
		t.Errorf("missing frontmatter should default to common, got %q", plain.Framework)
	}

	skipped := map[string]string{}
	for _, o := range outcomes {
		if o.Skipped {
			skipped[filepath.ToSlash(o.Path)] = o.Reason
		}
	}
	if len(skipped) != 2 {
		t.Errorf("skipped = %v, want broken.md and bad-tag.md", skipped)
	}
	if _, ok := skipped["guide/broken.md"]; !ok {
		t.Error("unterminated frontmatter should be skipped with a reason")
	}
	if _, ok := skipped["guide/bad-tag.md"]; !ok {
		t.Error("unknown framework tag should be skipped with a reason")
	}
	if _, ok := byPath[".hidden/secret.md"]; ok {
		t.Error("hidden directories must not be walked")
	}
	if _, ok := byPath["node_modules/dep/readme.md"]; ok {
		t.Error("node_modules must not be walked")
	}
}

type failingReader struct{}

func (failingReader) ReadFile(string) ([]byte, error) {
	return nil, os.ErrPermission
}

func TestLoad_UnreadableFileIsSkipped(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "doc.md", "# Doc\n")

	l := New(root)
	l.Reader = failingReader{}
	docs, outcomes, err := l.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("loaded %d docs, want 0", len(docs))
	}
	if len(outcomes) != 1 || !outcomes[0].Skipped {
		t.Errorf("outcomes = %+v, want one skip", outcomes)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    models.Document
		wantErr bool
	}{
		{
			name: "full frontmatter",
			raw:  "---\ntitle: \"Quoted Title\"\nframework: hilla\nsource_url: https://example.com\norder: 42\ndraft: true\n---\nBody text.",
			want: models.Document{
				Path: "doc.md", Body: "Body text.",
				Framework: models.FrameworkHilla,
				Title:     "Quoted Title",
				SourceURL: "https://example.com",
				Extra:     map[string]string{"order": "42", "draft": "true"},
			},
		},
		{
			name: "no frontmatter",
			raw:  "# Heading\n\nBody.",
			want: models.Document{Path: "doc.md", Body: "# Heading\n\nBody.", Framework: models.FrameworkCommon},
		},
		{
			name: "windows line endings",
			raw:  "---\r\ntitle: CRLF\r\n---\r\nBody.",
			want: models.Document{Path: "doc.md", Body: "Body.", Framework: models.FrameworkCommon, Title: "CRLF"},
		},
		{
			name: "empty frontmatter block",
			raw:  "---\n\n---\nBody.",
			want: models.Document{Path: "doc.md", Body: "Body.", Framework: models.FrameworkCommon},
		},
		{
			name:    "unterminated frontmatter",
			raw:     "---\ntitle: oops\nBody without closing.",
			wantErr: true,
		},
		{
			name:    "four-hyphen line is not a delimiter",
			raw:     "---\ntitle: oops\n---- stray\nBody.",
			wantErr: true,
		},
		{
			name: "dashed lines in the body stay intact",
			raw:  "---\ntitle: Rules\n---\n--- not a fence\n\nBody.",
			want: models.Document{
				Path: "doc.md", Body: "--- not a fence\n\nBody.",
				Framework: models.FrameworkCommon, Title: "Rules",
			},
		},
		{
			name:    "unknown framework",
			raw:     "---\nframework: svelte\n---\nBody.",
			wantErr: true,
		},
		{
			name: "framework tag is case insensitive",
			raw:  "---\nframework: Flow\n---\nBody.",
			want: models.Document{Path: "doc.md", Body: "Body.", Framework: models.FrameworkFlow},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse("doc.md", tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got.Path != tt.want.Path || got.Body != tt.want.Body ||
				got.Framework != tt.want.Framework || got.Title != tt.want.Title ||
				got.SourceURL != tt.want.SourceURL {
				t.Errorf("Parse = %+v, want %+v", got, tt.want)
			}
			if len(tt.want.Extra) > 0 {
				for k, v := range tt.want.Extra {
					if got.Extra[k] != v {
						t.Errorf("Extra[%q] = %q, want %q", k, got.Extra[k], v)
					}
				}
			}
		})
	}
}
