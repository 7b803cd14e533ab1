package embed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog/log"

	"github.com/docsift/docsift/pkg/models"
)

const (
	// DefaultBatchSize is how many chunks go into one provider call.
	DefaultBatchSize = 50
	// DefaultMaxRetries is attempts per batch before the run fails.
	DefaultMaxRetries = 3
	// DefaultBaseDelay grows linearly per attempt (delay = base * attempt).
	DefaultBaseDelay = time.Second
	// DefaultMaxTokens leaves headroom under the provider's hard input limit.
	DefaultMaxTokens = 8000
)

// BatchError reports which batch exhausted its retries and why. The run
// aborts rather than skipping the batch, so the index never silently
// misses a slice of chunks.
type BatchError struct {
	Batch    int
	Attempts int
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("embedding batch %d failed after %d attempts: %v", e.Batch, e.Attempts, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// tokenizer truncates text to an exact token count.
type tokenizer interface {
	Truncate(text string, maxTokens int) string
}

type tiktokenizer struct {
	enc *tiktoken.Tiktoken
}

func (t *tiktokenizer) Truncate(text string, maxTokens int) string {
	ids := t.enc.Encode(text, nil, nil)
	if len(ids) <= maxTokens {
		return text
	}
	return t.enc.Decode(ids[:maxTokens])
}

// Generator converts chunks into embedded chunks in fixed-size batches,
// with exact-token input truncation and bounded retry per batch.
type Generator struct {
	Client     Client
	BatchSize  int
	MaxRetries int
	BaseDelay  time.Duration
	MaxTokens  int

	tok tokenizer
}

func NewGenerator(client Client) (*Generator, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return &Generator{
		Client:     client,
		BatchSize:  DefaultBatchSize,
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxTokens:  DefaultMaxTokens,
		tok:        &tiktokenizer{enc: enc},
	}, nil
}

// Generate embeds every chunk, batch by batch, strictly sequentially.
// One batch's retries finish before the next batch starts; this keeps
// backpressure simple and stays inside provider rate limits.
func (g *Generator) Generate(ctx context.Context, chunks []models.Chunk) ([]models.EmbeddedChunk, error) {
	out := make([]models.EmbeddedChunk, 0, len(chunks))

	for start, batchNum := 0, 0; start < len(chunks); start, batchNum = start+g.BatchSize, batchNum+1 {
		end := min(start+g.BatchSize, len(chunks))
		batch := chunks[start:end]

		inputs := make([]string, len(batch))
		for i, ch := range batch {
			inputs[i] = g.tok.Truncate(buildInput(ch), g.MaxTokens)
		}

		vecs, err := g.embedWithRetry(ctx, batchNum, inputs)
		if err != nil {
			return nil, err
		}

		for i, ch := range batch {
			out = append(out, models.EmbeddedChunk{Chunk: ch, Vector: vecs[i]})
		}
		log.Debug().Int("batch", batchNum).Int("chunks", len(batch)).Msg("embedded batch")
	}
	return out, nil
}

// embedWithRetry submits one batch with a linearly increasing delay
// between attempts. A dimension mismatch fails the whole batch the same
// way a provider error does; a wrong-sized vector must never reach the
// index.
func (g *Generator) embedWithRetry(ctx context.Context, batchNum int, inputs []string) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= g.MaxRetries; attempt++ {
		vecs, err := g.Client.EmbedBatch(ctx, inputs)
		if err == nil {
			err = validateDims(vecs, len(inputs), g.Client.Dim())
		}
		if err == nil {
			return vecs, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < g.MaxRetries {
			delay := g.BaseDelay * time.Duration(attempt)
			log.Warn().Err(err).Int("batch", batchNum).Int("attempt", attempt).
				Dur("delay", delay).Msg("embedding batch failed, retrying")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return nil, &BatchError{Batch: batchNum, Attempts: g.MaxRetries, Err: lastErr}
}

func validateDims(vecs [][]float32, want, dim int) error {
	if len(vecs) != want {
		return fmt.Errorf("got %d vectors for %d inputs", len(vecs), want)
	}
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("vector %d has dimension %d, expected %d", i, len(v), dim)
		}
	}
	return nil
}

// buildInput prefixes the raw content with whatever context the chunk
// carries. The generic "common" tag adds nothing, so it is left out.
func buildInput(ch models.Chunk) string {
	var b strings.Builder
	if ch.Title != "" {
		b.WriteString("Title: " + ch.Title + "\n")
	}
	if ch.Heading != "" {
		b.WriteString("Heading: " + ch.Heading + "\n")
	}
	if ch.Framework != "" && ch.Framework != models.FrameworkCommon {
		b.WriteString("Framework: " + string(ch.Framework) + "\n")
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
	b.WriteString(ch.Content)
	return b.String()
}
