package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func loadWithArgs(t *testing.T, configPath string, args ...string) (Specification, error) {
	t.Helper()
	oldArgs := os.Args
	os.Args = append([]string{"docsift"}, args...)
	t.Cleanup(func() { os.Args = oldArgs })

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	return Load(configPath, fs)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadWithArgs(t, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Provider != "stub" {
		t.Errorf("Provider = %q, want stub", cfg.Provider)
	}
	if cfg.Dim != 1536 {
		t.Errorf("Dim = %d, want 1536", cfg.Dim)
	}
	if cfg.ChunkSize != 1000 || cfg.ChunkOverlap != 200 {
		t.Errorf("chunking = %d/%d, want 1000/200", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if cfg.BatchSize != 50 || cfg.MaxRetries != 3 || cfg.RetryBaseMs != 1000 {
		t.Errorf("embed batching = %d/%d/%d", cfg.BatchSize, cfg.MaxRetries, cfg.RetryBaseMs)
	}
	if cfg.Store != "postgres" {
		t.Errorf("Store = %q, want postgres", cfg.Store)
	}
	if cfg.Strategy != "smart" {
		t.Errorf("Strategy = %q, want smart", cfg.Strategy)
	}
	if !cfg.DeterministicIDs || !cfg.Hierarchical {
		t.Error("deterministic ids and hierarchy should default on")
	}
	if cfg.Rerank.Model != "rerank-v3.5" {
		t.Errorf("Rerank.Model = %q", cfg.Rerank.Model)
	}
	if cfg.Auth.Enabled {
		t.Error("auth should default off")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docsift.yaml")
	yaml := `
provider: openai
embedDim: 3072
store: qdrant
collection: docs
chunkSize: 800
chunkOverlap: 100
strategy: clear
rerank:
  enabled: true
  model: rerank-english-v3.0
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadWithArgs(t, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "openai" || cfg.Dim != 3072 {
		t.Errorf("provider/dim = %q/%d", cfg.Provider, cfg.Dim)
	}
	if cfg.Store != "qdrant" || cfg.Collection != "docs" {
		t.Errorf("store = %q/%q", cfg.Store, cfg.Collection)
	}
	if cfg.ChunkSize != 800 || cfg.ChunkOverlap != 100 {
		t.Errorf("chunking = %d/%d", cfg.ChunkSize, cfg.ChunkOverlap)
	}
	if !cfg.Rerank.Enabled || cfg.Rerank.Model != "rerank-english-v3.0" {
		t.Errorf("rerank = %+v", cfg.Rerank)
	}
	// Untouched keys keep their defaults.
	if cfg.BatchSize != 50 {
		t.Errorf("BatchSize = %d, want default 50", cfg.BatchSize)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "docsift.yaml")
	if err := os.WriteFile(path, []byte("provider: openai\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DOCSIFT_PROVIDER", "vertexai")
	t.Setenv("DOCSIFT_EMBED_MODEL", "gemini-embedding-001")

	cfg, err := loadWithArgs(t, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "vertexai" {
		t.Errorf("Provider = %q, env should beat the file", cfg.Provider)
	}
	if cfg.EmbedModel != "gemini-embedding-001" {
		t.Errorf("EmbedModel = %q", cfg.EmbedModel)
	}
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("DOCSIFT_PROVIDER", "vertexai")

	cfg, err := loadWithArgs(t, "", "--provider", "openai", "--embed-dim", "3072")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider != "openai" {
		t.Errorf("Provider = %q, flags should beat env", cfg.Provider)
	}
	if cfg.Dim != 3072 {
		t.Errorf("Dim = %d, want 3072", cfg.Dim)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	if _, err := loadWithArgs(t, "/nonexistent/docsift.yaml"); err == nil {
		t.Error("expected error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Specification {
		var c Specification
		setDefaults(&c)
		return &c
	}

	tests := []struct {
		name    string
		mutate  func(*Specification)
		wantErr bool
	}{
		{"defaults pass", func(*Specification) {}, false},
		{"bad dimension", func(c *Specification) { c.Dim = 768 }, true},
		{"dim 3072 ok", func(c *Specification) { c.Dim = 3072 }, false},
		{"unknown store", func(c *Specification) { c.Store = "redis" }, true},
		{"postgres needs url", func(c *Specification) { c.Database = "  " }, true},
		{"qdrant needs collection", func(c *Specification) { c.Store = "qdrant"; c.Collection = "" }, true},
		{"qdrant ok", func(c *Specification) { c.Store = "qdrant" }, false},
		{"overlap >= size", func(c *Specification) { c.ChunkOverlap = c.ChunkSize }, true},
		{"negative overlap", func(c *Specification) { c.ChunkOverlap = -1 }, true},
		{"zero chunk size", func(c *Specification) { c.ChunkSize = 0 }, true},
		{"zero batch size", func(c *Specification) { c.BatchSize = 0 }, true},
		{"zero retries", func(c *Specification) { c.MaxRetries = 0 }, true},
		{"zero input tokens", func(c *Specification) { c.MaxInputTokens = 0 }, true},
		{"unknown strategy", func(c *Specification) { c.Strategy = "merge" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := validate(c)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate: err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_DefaultsLogLevel(t *testing.T) {
	var c Specification
	setDefaults(&c)
	c.LogLevel = ""
	if err := validate(&c); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", c.LogLevel)
	}
}
