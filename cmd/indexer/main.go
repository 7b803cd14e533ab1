package main

import (
	"context"
	"log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/docsift/docsift/internal/chunker"
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/embed"
	"github.com/docsift/docsift/internal/index"
	"github.com/docsift/docsift/internal/loader"
	"github.com/docsift/docsift/internal/store"
)

func main() {
	fs := pflag.NewFlagSet("docsift-indexer", pflag.ExitOnError)
	fs.Bool("dry-run", false, "Chunk and report without writing to the store")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage
	dryRun, _ := fs.GetBool("dry-run")

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	zlog.Logger = logger

	strategy, err := index.ParseStrategy(cfg.Strategy)
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	start := time.Now()

	// Load
	docs, outcomes, err := loader.New(cfg.SourceRoot).Load()
	if err != nil {
		log.Fatalf("load failed: %v", err)
	}
	skipped := 0
	for _, o := range outcomes {
		if o.Skipped {
			skipped++
			logger.Warn().Str("path", o.Path).Str("reason", o.Reason).Msg("file skipped")
		}
	}
	logger.Info().Int("files", len(docs)).Int("skipped", skipped).Msg("documents loaded")

	// Chunk + relate
	ck := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap, cfg.DeterministicIDs)
	chunks := ck.ChunkAll(docs, cfg.Hierarchical)
	logger.Info().Int("chunks", len(chunks)).Msg("chunking complete")

	if dryRun {
		logger.Info().Dur("dur", time.Since(start)).Msg("dry run, skipping embed and sync")
		return
	}

	// Embed
	client, err := newEmbedClient(ctx, &cfg)
	if err != nil {
		log.Fatalf("Failed to create embedding client: %v", err)
	}
	gen, err := embed.NewGenerator(client)
	if err != nil {
		log.Fatal(err)
	}
	gen.BatchSize = cfg.BatchSize
	gen.MaxRetries = cfg.MaxRetries
	gen.BaseDelay = time.Duration(cfg.RetryBaseMs) * time.Millisecond
	gen.MaxTokens = cfg.MaxInputTokens

	embedded, err := gen.Generate(ctx, chunks)
	if err != nil {
		// Loud failure: a silently skipped batch would leave holes in
		// the index with no record of the gap.
		log.Fatalf("embedding run failed: %v", err)
	}

	// Sync
	st, err := newStore(ctx, &cfg)
	if err != nil {
		log.Fatalf("Failed to connect to store: %v", err)
	}
	defer st.Close()

	if err := st.Init(ctx, client.Dim()); err != nil {
		log.Fatalf("store init failed: %v", err)
	}

	report, err := index.New(st, cfg.BatchSize).Sync(ctx, embedded, strategy)
	if err != nil {
		log.Fatalf("index sync failed: %v", err)
	}

	total, err := st.Stats(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read index stats")
	}

	logger.Info().
		Int("upserted", report.Upserted).
		Int("deleted", report.Deleted).
		Int("unchanged", report.Unchanged).
		Bool("listing_unavailable", report.ListingUnavailable).
		Int64("index_total", total).
		Int("files", len(docs)).
		Int("files_skipped", skipped).
		Dur("dur", time.Since(start)).
		Msg("ingestion complete")
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
