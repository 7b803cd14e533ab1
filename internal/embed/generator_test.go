package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/docsift/docsift/pkg/models"
)

type mockClient struct {
	dim            int
	embedBatchFunc func(ctx context.Context, texts []string) ([][]float32, error)
}

func (m *mockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return m.embedBatchFunc(ctx, texts)
}

func (m *mockClient) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.embedBatchFunc(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *mockClient) Dim() int { return m.dim }

// passTok is a no-op tokenizer so tests don't depend on encoding data.
type passTok struct{}

func (passTok) Truncate(text string, _ int) string { return text }

// charTok truncates by characters, one char per token.
type charTok struct{}

func (charTok) Truncate(text string, maxTokens int) string {
	if len(text) <= maxTokens {
		return text
	}
	return text[:maxTokens]
}

func okVectors(dim int) func(ctx context.Context, texts []string) ([][]float32, error) {
	return func(_ context.Context, texts []string) ([][]float32, error) {
		vecs := make([][]float32, len(texts))
		for i := range vecs {
			vecs[i] = make([]float32, dim)
		}
		return vecs, nil
	}
}

func testGenerator(c Client) *Generator {
	return &Generator{
		Client:     c,
		BatchSize:  DefaultBatchSize,
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  time.Millisecond,
		MaxTokens:  DefaultMaxTokens,
		tok:        passTok{},
	}
}

func someChunks(n int) []models.Chunk {
	chunks := make([]models.Chunk, n)
	for i := range chunks {
		chunks[i] = models.Chunk{
			ID:      fmt.Sprintf("doc-%d", i),
			Content: fmt.Sprintf("content %d", i),
		}
	}
	return chunks
}

func TestGenerate_Batching(t *testing.T) {
	var sizes []int
	client := &mockClient{dim: 4}
	client.embedBatchFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		sizes = append(sizes, len(texts))
		return okVectors(4)(ctx, texts)
	}

	g := testGenerator(client)
	out, err := g.Generate(context.Background(), someChunks(120))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(out) != 120 {
		t.Errorf("got %d embedded chunks, want 120", len(out))
	}
	want := []int{50, 50, 20}
	if len(sizes) != len(want) {
		t.Fatalf("batch sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("batch %d size = %d, want %d", i, sizes[i], want[i])
		}
	}
	for i, ec := range out {
		if ec.Chunk.ID != fmt.Sprintf("doc-%d", i) {
			t.Fatalf("chunk order broken at %d: %s", i, ec.Chunk.ID)
		}
		if len(ec.Vector) != 4 {
			t.Fatalf("chunk %d vector dim = %d", i, len(ec.Vector))
		}
	}
}

func TestGenerate_InputContext(t *testing.T) {
	tests := []struct {
		name     string
		chunk    models.Chunk
		contains []string
		excludes []string
	}{
		{
			name: "full context",
			chunk: models.Chunk{
				Title: "Grid", Heading: "Sorting", Framework: models.FrameworkFlow,
				Content: "the body",
			},
			contains: []string{"Title: Grid\n", "Heading: Sorting\n", "Framework: flow\n", "\n\nthe body"},
		},
		{
			name:     "common framework omitted",
			chunk:    models.Chunk{Title: "Grid", Framework: models.FrameworkCommon, Content: "the body"},
			excludes: []string{"Framework:"},
			contains: []string{"Title: Grid\n"},
		},
		{
			name:     "bare content has no context block",
			chunk:    models.Chunk{Content: "just text"},
			contains: []string{"just text"},
			excludes: []string{"Title:", "\n\n"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildInput(tt.chunk)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("input %q missing %q", got, want)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("input %q should not contain %q", got, bad)
				}
			}
		})
	}
}

func TestGenerate_Truncation(t *testing.T) {
	client := &mockClient{dim: 2}
	var sent string
	client.embedBatchFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		sent = texts[0]
		return okVectors(2)(ctx, texts)
	}

	g := testGenerator(client)
	g.tok = charTok{}
	g.MaxTokens = 10

	long := models.Chunk{ID: "a", Content: strings.Repeat("z", 100)}
	if _, err := g.Generate(context.Background(), []models.Chunk{long}); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(sent) != 10 {
		t.Errorf("sent input length = %d, want 10", len(sent))
	}
}

func TestGenerate_RetryThenSuccess(t *testing.T) {
	client := &mockClient{dim: 3}
	calls := 0
	client.embedBatchFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("rate limited")
		}
		return okVectors(3)(ctx, texts)
	}

	g := testGenerator(client)
	out, err := g.Generate(context.Background(), someChunks(2))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(out) != 2 {
		t.Errorf("got %d chunks, want 2", len(out))
	}
}

func TestGenerate_BatchFailsAfterRetries(t *testing.T) {
	client := &mockClient{dim: 3}
	calls := 0
	client.embedBatchFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		calls++
		return nil, errors.New("provider down")
	}

	g := testGenerator(client)
	g.BatchSize = 2
	_, err := g.Generate(context.Background(), someChunks(5))
	if err == nil {
		t.Fatal("expected error")
	}
	var be *BatchError
	if !errors.As(err, &be) {
		t.Fatalf("error %T is not a BatchError", err)
	}
	if be.Batch != 0 || be.Attempts != 3 {
		t.Errorf("BatchError = {Batch:%d Attempts:%d}, want {0 3}", be.Batch, be.Attempts)
	}
	if calls != 3 {
		t.Errorf("provider calls = %d, want 3", calls)
	}
}

func TestGenerate_DimensionMismatchRetried(t *testing.T) {
	client := &mockClient{dim: 1536}
	calls := 0
	client.embedBatchFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		calls++
		vecs := make([][]float32, len(texts))
		for i := range vecs {
			vecs[i] = make([]float32, 1000) // wrong dimension
		}
		return vecs, nil
	}

	g := testGenerator(client)
	_, err := g.Generate(context.Background(), someChunks(1))
	if err == nil {
		t.Fatal("expected error on wrong dimensions")
	}
	if calls != 3 {
		t.Errorf("a bad dimension should retry like a provider error, calls = %d", calls)
	}
	if !strings.Contains(err.Error(), "dimension") {
		t.Errorf("error %q should name the dimension mismatch", err)
	}
}

func TestGenerate_VectorCountMismatch(t *testing.T) {
	client := &mockClient{dim: 2}
	client.embedBatchFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 2}}, nil // one vector regardless of input size
	}

	g := testGenerator(client)
	_, err := g.Generate(context.Background(), someChunks(3))
	if err == nil {
		t.Fatal("expected error on vector count mismatch")
	}
}

func TestGenerate_ContextCancellation(t *testing.T) {
	client := &mockClient{dim: 2}
	client.embedBatchFunc = func(_ context.Context, _ []string) ([][]float32, error) {
		return nil, errors.New("transient")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	g := testGenerator(client)
	g.BaseDelay = time.Minute // would hang without cancellation
	_, err := g.Generate(ctx, someChunks(1))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestGenerate_Empty(t *testing.T) {
	client := &mockClient{dim: 2}
	client.embedBatchFunc = func(_ context.Context, _ []string) ([][]float32, error) {
		t.Fatal("provider should not be called for zero chunks")
		return nil, nil
	}

	g := testGenerator(client)
	out, err := g.Generate(context.Background(), nil)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("got %d chunks, want 0", len(out))
	}
}
