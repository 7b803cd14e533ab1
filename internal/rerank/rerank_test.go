package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRerank(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/rerank" {
			t.Errorf("path = %q, want /v2/rerank", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"index": 1, "relevance_score": 0.93},
				{"index": 0, "relevance_score": 0.21},
			},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "rerank-v3.5"})
	results, err := c.Rerank(context.Background(), "sort a grid", []string{"doc one", "doc two"}, 2)
	if err != nil {
		t.Fatalf("Rerank: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("auth header = %q", gotAuth)
	}
	if gotBody["model"] != "rerank-v3.5" || gotBody["query"] != "sort a grid" {
		t.Errorf("request body = %v", gotBody)
	}
	if n, ok := gotBody["top_n"].(float64); !ok || n != 2 {
		t.Errorf("top_n = %v", gotBody["top_n"])
	}

	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Index != 1 || results[0].Score != 0.93 {
		t.Errorf("results[0] = %+v", results[0])
	}
}

func TestRerank_ErrorResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"message": "rate limit exceeded"})
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Rerank(context.Background(), "q", []string{"doc"}, 1)
	if err == nil || !strings.Contains(err.Error(), "rate limit exceeded") {
		t.Errorf("err = %v, want the provider message surfaced", err)
	}
}

func TestRerank_IndexOutOfRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"index": 5, "relevance_score": 0.9}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, APIKey: "k"})
	if _, err := c.Rerank(context.Background(), "q", []string{"only doc"}, 1); err == nil {
		t.Error("expected error for out-of-range result index")
	}
}

func TestRerank_MissingAPIKey(t *testing.T) {
	c := NewHTTPClient(Config{BaseURL: "http://localhost:9"})
	if _, err := c.Rerank(context.Background(), "q", []string{"doc"}, 1); err == nil {
		t.Error("expected error without an api key")
	}
}

func TestRerank_EmptyDocuments(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewHTTPClient(Config{BaseURL: srv.URL, APIKey: "k"})
	results, err := c.Rerank(context.Background(), "q", nil, 1)
	if err != nil || results != nil {
		t.Errorf("Rerank = %v, %v; want nil, nil", results, err)
	}
	if called {
		t.Error("no request should be made for zero documents")
	}
}
