package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/docsift/docsift/internal/auth"
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/embed"
	"github.com/docsift/docsift/internal/rerank"
	"github.com/docsift/docsift/internal/search"
	"github.com/docsift/docsift/internal/store"
	"github.com/docsift/docsift/pkg/models"
)

func main() {
	fs := pflag.NewFlagSet("docsift-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("store", cfg.Store).
		Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).
		Msg("starting docsift api")

	auth.Initialize(cfg.Auth.JwtSecret, cfg.Auth.Enabled)
	if auth.IsEnabled() {
		logger.Info().Msg("authentication is enabled")
	} else {
		logger.Info().Msg("authentication is disabled - running in open mode")
	}

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
	logger.Info().Int("embedding_dim", client.Dim()).Str("embed_model", cfg.EmbedModel).Msg("embedding client initialized")

	if err := st.Init(ctx, client.Dim()); err != nil {
		log.Fatalf("Failed to initialize store: %v", err)
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

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthzHandler(st))

	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]bool{"enabled": auth.IsEnabled()}); err != nil {
			http.Error(w, "Failed to encode response", 500)
		}
	})

	mux.HandleFunc("/search", auth.Middleware(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		q := r.URL.Query().Get("q")
		if strings.TrimSpace(q) == "" {
			http.Error(w, "missing query parameter q", http.StatusBadRequest)
			return
		}

		opts := search.Options{
			Framework: models.Framework(r.URL.Query().Get("framework")),
		}
		var badParam error
		opts.MaxResults, badParam = intParam(r, "max_results")
		if badParam == nil {
			opts.MaxTokens, badParam = intParam(r, "max_tokens")
		}
		if badParam != nil {
			http.Error(w, badParam.Error(), http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
		defer cancel()

		results, err := svc.Search(ctx, q, opts)
		if err != nil {
			status := http.StatusInternalServerError
			var optErr *search.OptionError
			if errors.As(err, &optErr) {
				status = http.StatusBadRequest
			}
			http.Error(w, err.Error(), status)
			return
		}

		for i := range results {
			if math.IsNaN(results[i].Score) || math.IsInf(results[i].Score, 0) {
				results[i].Score = 0
			}
		}
		writeJSON(w, map[string]any{"results": emptyIfNil(results)})

		hlog.FromRequest(r).Info().Str("path", "/search").Str("q", q).
			Int("results", len(results)).Dur("dur", time.Since(start)).Msg("served")
	}))

	mux.HandleFunc("/chunks/", auth.Middleware(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/chunks/")
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		result, err := svc.GetChunk(ctx, id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if result == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, result)
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, v)
	}
	return n, nil
}

// pinger is the optional liveness check a backend may expose.
type pinger interface {
	Ping(ctx context.Context) error
}

// healthzHandler reports the store's reachability when the backend can
// be pinged, and plain process liveness otherwise.
func healthzHandler(st store.VectorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p, ok := st.(pinger); ok {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				http.Error(w, "store unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func emptyIfNil(results []models.RetrievalResult) []models.RetrievalResult {
	if results == nil {
		return []models.RetrievalResult{}
	}
	return results
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
