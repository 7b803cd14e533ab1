// Package search is the query-time counterpart of the ingestion pipeline:
// hybrid retrieval over the vector store, merged, reranked and trimmed to
// a token budget.
package search

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/docsift/docsift/internal/cache"
	"github.com/docsift/docsift/internal/embed"
	"github.com/docsift/docsift/internal/rerank"
	"github.com/docsift/docsift/internal/store"
	"github.com/docsift/docsift/pkg/models"
)

const (
	DefaultMaxResults = 5
	MinResults        = 1
	MaxResults        = 20

	DefaultMaxTokens = 1500
	MinTokens        = 100
	MaxTokens        = 5000

	// maxCandidates caps how many candidates each provider is asked for.
	maxCandidates = 100

	// tokensPerChar approximates the token cost of result content.
	tokensPerChar = 0.25
)

// Options scope one search call.
type Options struct {
	MaxResults int
	MaxTokens  int
	Framework  models.Framework
}

// OptionError reports a search option outside its allowed bounds, so
// callers can map it to a bad-request response with errors.As.
type OptionError struct {
	msg string
}

func (e *OptionError) Error() string { return e.msg }

func optionErrorf(format string, args ...any) error {
	return &OptionError{msg: fmt.Sprintf(format, args...)}
}

// normalize applies defaults and validates bounds.
func (o *Options) normalize() error {
	if o.MaxResults == 0 {
		o.MaxResults = DefaultMaxResults
	}
	if o.MaxResults < MinResults || o.MaxResults > MaxResults {
		return optionErrorf("max results must be in [%d, %d], got %d", MinResults, MaxResults, o.MaxResults)
	}
	if o.MaxTokens == 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.MaxTokens < MinTokens || o.MaxTokens > MaxTokens {
		return optionErrorf("max tokens must be in [%d, %d], got %d", MinTokens, MaxTokens, o.MaxTokens)
	}
	if o.Framework != "" && !o.Framework.Valid() {
		return optionErrorf("unknown framework %q", o.Framework)
	}
	return nil
}

// Service runs hybrid search. Stateless per call; the provider handles
// are shared and safe for concurrent querying.
type Service struct {
	store    store.VectorStore
	embedder embed.Client
	reranker rerank.Client // nil disables reranking

	chunks *cache.Cache[models.Chunk]
}

func NewService(st store.VectorStore, embedder embed.Client, reranker rerank.Client) *Service {
	return &Service{
		store:    st,
		embedder: embedder,
		reranker: reranker,
		chunks:   cache.New[models.Chunk](cache.DefaultCapacity),
	}
}

// candidate is one merged chunk with its per-source scores.
type candidate struct {
	chunk    models.Chunk
	semScore float64
	keyScore float64
	inBoth   bool
}

// Search returns relevance-ordered results under the caller's budgets.
// Query-time failures degrade rather than error: if the hybrid pipeline
// breaks anywhere past retrieval, the call falls back to plain semantic
// search, because a partial answer beats none.
func (s *Service) Search(ctx context.Context, query string, opts Options) ([]models.RetrievalResult, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	results, err := s.hybrid(ctx, query, opts)
	if err != nil {
		log.Warn().Err(err).Str("query", query).Msg("hybrid search failed, falling back to semantic-only")
		return s.semanticOnly(ctx, query, opts)
	}
	return results, nil
}

func (s *Service) hybrid(ctx context.Context, query string, opts Options) ([]models.RetrievalResult, error) {
	cleaned := cleanQuery(query)
	if cleaned == "" {
		cleaned = query
	}
	log.Debug().Str("cleaned", cleaned).Strs("terms", significantTerms(cleaned)).Msg("search query")

	vec, err := s.embedder.EmbedOne(ctx, cleaned)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	fetchK := min(opts.MaxResults*3, maxCandidates)
	filter := store.Filter{Framework: opts.Framework}

	// Exactly two concurrent requests; both settle before merging. The
	// keyword path is allowed to fail quietly (degraded availability),
	// the semantic path is not.
	var semMatches, keyMatches []store.Match
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semMatches, err = s.store.Query(gctx, vec, fetchK, filter)
		if err != nil {
			return fmt.Errorf("semantic query: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		m, err := s.store.KeywordQuery(gctx, cleaned, fetchK, filter)
		if err != nil {
			log.Warn().Err(err).Msg("keyword query unavailable, blending semantic only")
			return nil
		}
		keyMatches = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := mergeCandidates(semMatches, keyMatches)
	if len(merged) <= 1 {
		// Nothing meaningful to reorder.
		return budget(toResults(merged), opts.MaxTokens), nil
	}

	ordered := s.rerankOrFallback(ctx, query, merged, opts.MaxResults)
	return budget(ordered, opts.MaxTokens), nil
}

// semanticOnly is the degraded path: dense retrieval at the requested
// size, no keyword blending, no reranking.
func (s *Service) semanticOnly(ctx context.Context, query string, opts Options) ([]models.RetrievalResult, error) {
	cleaned := cleanQuery(query)
	if cleaned == "" {
		cleaned = query
	}
	vec, err := s.embedder.EmbedOne(ctx, cleaned)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.store.Query(ctx, vec, opts.MaxResults, store.Filter{Framework: opts.Framework})
	if err != nil {
		return nil, fmt.Errorf("semantic query: %w", err)
	}

	out := make([]models.RetrievalResult, 0, len(matches))
	for _, m := range matches {
		out = append(out, toResult(m.Chunk, m.Score))
	}
	return budget(out, opts.MaxTokens), nil
}

// mergeCandidates deduplicates by chunk id. A chunk found by both
// providers carries both scores; one found by only one has the other
// score at zero.
func mergeCandidates(sem, key []store.Match) []candidate {
	byID := make(map[string]int, len(sem))
	merged := make([]candidate, 0, len(sem)+len(key))

	for _, m := range sem {
		byID[m.Chunk.ID] = len(merged)
		merged = append(merged, candidate{chunk: m.Chunk, semScore: m.Score})
	}
	for _, m := range key {
		if i, ok := byID[m.Chunk.ID]; ok {
			merged[i].keyScore = m.Score
			merged[i].inBoth = true
			continue
		}
		merged = append(merged, candidate{chunk: m.Chunk, keyScore: m.Score})
	}
	return merged
}

// rerankOrFallback submits the original (non-cleaned) query and every
// candidate's content to the reranker; its order and scores fully
// replace the provisional merge order. If reranking is unavailable the
// merge order stands, preferring dual-source candidates and then the
// score sum, so reranker downtime never blocks a search.
func (s *Service) rerankOrFallback(ctx context.Context, query string, merged []candidate, topN int) []models.RetrievalResult {
	if s.reranker != nil {
		docs := make([]string, len(merged))
		for i, c := range merged {
			docs[i] = c.chunk.Content
		}
		ranked, err := s.reranker.Rerank(ctx, query, docs, topN)
		if err == nil {
			out := make([]models.RetrievalResult, 0, len(ranked))
			for _, r := range ranked {
				out = append(out, toResult(merged[r.Index].chunk, r.Score))
			}
			return out
		}
		log.Warn().Err(err).Msg("reranking failed, keeping merge order")
	}

	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].inBoth != merged[j].inBoth {
			return merged[i].inBoth
		}
		return merged[i].semScore+merged[i].keyScore > merged[j].semScore+merged[j].keyScore
	})
	if len(merged) > topN {
		merged = merged[:topN]
	}
	return toResults(merged)
}

// budget trims results to the token budget in rank order, always keeping
// the first result even when it alone exceeds the budget.
func budget(results []models.RetrievalResult, maxTokens int) []models.RetrievalResult {
	var total float64
	out := results[:0]
	for i, r := range results {
		cost := tokensPerChar * float64(len(r.Content))
		if i > 0 && total+cost > float64(maxTokens) {
			break
		}
		total += cost
		out = append(out, r)
	}
	return out
}

// GetChunk fetches one chunk by id. Absence is a normal outcome and
// returns nil, not an error.
func (s *Service) GetChunk(ctx context.Context, id string) (*models.RetrievalResult, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("chunk id is required")
	}
	if strings.Contains(id, "..") || strings.ContainsAny(id, "/\\") {
		return nil, fmt.Errorf("invalid chunk id %q", id)
	}

	if ch, ok := s.chunks.Get(id); ok {
		r := toResult(ch, 0)
		return &r, nil
	}

	ch, found, err := s.store.GetChunk(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get chunk: %w", err)
	}
	if !found {
		return nil, nil
	}
	s.chunks.Set(id, ch)
	r := toResult(ch, 0)
	return &r, nil
}

func toResults(cands []candidate) []models.RetrievalResult {
	out := make([]models.RetrievalResult, 0, len(cands))
	for _, c := range cands {
		out = append(out, toResult(c.chunk, c.semScore+c.keyScore))
	}
	return out
}

func toResult(c models.Chunk, score float64) models.RetrievalResult {
	return models.RetrievalResult{
		ID:        c.ID,
		Framework: c.Framework,
		Content:   c.Content,
		SourceURL: c.SourceURL,
		Path:      c.Path,
		Title:     c.Title,
		Heading:   c.Heading,
		Score:     score,
	}
}

var (
	punctRe = regexp.MustCompile(`[^a-z0-9\s-]+`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// cleanQuery lowercases, strips punctuation except hyphens and collapses
// whitespace.
func cleanQuery(q string) string {
	q = strings.ToLower(q)
	q = punctRe.ReplaceAllString(q, "")
	q = spaceRe.ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}

// significantTerms extracts up to ten terms longer than two characters,
// used for diagnostics.
func significantTerms(q string) []string {
	var terms []string
	for _, t := range strings.Fields(q) {
		if len(t) > 2 {
			terms = append(terms, t)
			if len(terms) == 10 {
				break
			}
		}
	}
	return terms
}
