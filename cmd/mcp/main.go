package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/embed"
	"github.com/docsift/docsift/internal/mcp"
	"github.com/docsift/docsift/internal/rerank"
	"github.com/docsift/docsift/internal/search"
	"github.com/docsift/docsift/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("docsift-mcp", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	// stdout carries the MCP protocol; logs go to stderr.
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	zlog.Logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	ctx := context.Background()
	st, err := newStore(ctx, &cfg)
	if err != nil {
		log.Fatalf("Failed to connect to store: %v", err)
	}
	defer st.Close()

	client, err := newEmbedClient(ctx, &cfg)
	if err != nil {
		log.Fatalf("Failed to create embedding client: %v", err)
	}

	var reranker rerank.Client
	if cfg.Rerank.Enabled {
		reranker = rerank.NewHTTPClient(rerank.Config{
			BaseURL: cfg.Rerank.BaseURL,
			APIKey:  cfg.Rerank.APIKey,
			Model:   cfg.Rerank.Model,
		})
	}

	svc := search.NewService(st, client, reranker)

	if err := mcp.NewServer(svc).Serve(ctx); err != nil {
		log.Fatalf("mcp server: %v", err)
	}
}

func newEmbedClient(ctx context.Context, cfg *config.Specification) (embed.Client, error) {
	clientConfig := &embed.ClientConfig{
		APIKey:     cfg.APIKey,
		EmbedModel: cfg.EmbedModel,
		Dim:        cfg.Dim,
		ProjectID:  cfg.ProjectID,
		Location:   cfg.Location,
	}
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		clientConfig.Provider = embed.ProviderOpenAI
	case "vertexai", "google":
		clientConfig.Provider = embed.ProviderVertexAI
	case "stub":
		clientConfig.Provider = embed.ProviderStub
	default:
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}
	return embed.NewClient(ctx, clientConfig)
}

func newStore(ctx context.Context, cfg *config.Specification) (store.VectorStore, error) {
	switch strings.ToLower(cfg.Store) {
	case "qdrant":
		return store.NewQdrant(cfg.QdrantHost, cfg.QdrantPort, cfg.Collection)
	default:
		return store.NewPostgres(ctx, cfg.Database)
	}
}
