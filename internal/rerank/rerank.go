// Package rerank wraps an external second-pass relevance scorer. The
// provider jointly reads the query and each candidate's full text, which
// usually beats either first-pass ranking on its own.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Result references one reranked document by its index in the submitted
// slice, with the provider's relevance score.
type Result struct {
	Index int     `json:"index"`
	Score float64 `json:"relevance_score"`
}

// Client reranks a candidate set against a query.
type Client interface {
	Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error)
}

// Config holds configuration for the HTTP rerank client.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
}

// HTTPClient talks to a Cohere-compatible /v2/rerank endpoint.
type HTTPClient struct {
	config Config
	http   *http.Client
}

func NewHTTPClient(config Config) *HTTPClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.cohere.com"
	}
	if config.Model == "" {
		config.Model = "rerank-v3.5"
	}
	return &HTTPClient{
		config: config,
		http:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *HTTPClient) Rerank(ctx context.Context, query string, documents []string, topN int) ([]Result, error) {
	if c.config.APIKey == "" {
		return nil, errors.New("RERANK_API_KEY unset")
	}
	if len(documents) == 0 {
		return nil, nil
	}

	payload := map[string]any{
		"model":     c.config.Model,
		"query":     query,
		"documents": documents,
		"top_n":     topN,
	}

	b, _ := json.Marshal(payload)
	url := strings.TrimSuffix(c.config.BaseURL, "/") + "/v2/rerank"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Message != "" {
			return nil, fmt.Errorf("rerank: %s", e.Message)
		}
		return nil, fmt.Errorf("rerank: %s", resp.Status)
	}

	var out struct {
		Results []Result `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}

	for _, r := range out.Results {
		if r.Index < 0 || r.Index >= len(documents) {
			return nil, fmt.Errorf("rerank: result index %d out of range", r.Index)
		}
	}
	return out.Results, nil
}
