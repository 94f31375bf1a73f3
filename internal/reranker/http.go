package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPConfig holds settings for a text-embeddings-inference compatible rerank endpoint.
type HTTPConfig struct {
	// BaseURL of the inference server, e.g. http://localhost:8081.
	BaseURL string

	// Model is reported in logs only; the server decides which model runs.
	Model string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// HTTPScorer implements Scorer over POST /rerank.
type HTTPScorer struct {
	baseURL string
	model   string
	client  *http.Client
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
}

type rerankHit struct {
	Index int     `json:"index"`
	Score float32 `json:"score"`
}

// NewHTTPScorer creates a scorer for a remote cross-encoder.
func NewHTTPScorer(cfg HTTPConfig) *HTTPScorer {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	model := cfg.Model
	if model == "" {
		model = "cross-encoder"
	}
	return &HTTPScorer{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		model:   model,
		client:  client,
	}
}

// Score sends all pairs in one request and reassembles scores by index.
func (s *HTTPScorer) Score(ctx context.Context, query string, texts []string) ([]float32, error) {
	jsonBody, err := json.Marshal(rerankRequest{Query: query, Texts: texts, RawScores: true})
	if err != nil {
		return nil, fmt.Errorf("marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/rerank", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send rerank request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("rerank API error (status %d): %s", resp.StatusCode, string(body))
	}

	var hits []rerankHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("decode rerank response: %w", err)
	}

	scores := make([]float32, len(texts))
	for i := range scores {
		scores[i] = missingScore
	}
	for _, h := range hits {
		if h.Index >= 0 && h.Index < len(scores) {
			scores[h.Index] = h.Score
		}
	}
	return scores, nil
}

// ModelName returns the configured model label.
func (s *HTTPScorer) ModelName() string {
	return s.model
}

var _ Scorer = (*HTTPScorer)(nil)
