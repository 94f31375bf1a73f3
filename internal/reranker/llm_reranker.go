package reranker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/knoguchi/learnpath/internal/llm"
)

// LLMScorer uses an LLM as a cross-encoder: the model sees the query and every
// candidate together and returns a relevance score per candidate.
type LLMScorer struct {
	llmClient llm.LLM
	model     string
}

// LLMScorerOption is a functional option for configuring LLMScorer.
type LLMScorerOption func(*LLMScorer)

// WithModel sets the model to use for scoring.
func WithModel(model string) LLMScorerOption {
	return func(s *LLMScorer) {
		s.model = model
	}
}

// NewLLMScorer creates a new LLM-based scorer.
func NewLLMScorer(llmClient llm.LLM, opts ...LLMScorerOption) *LLMScorer {
	s := &LLMScorer{
		llmClient: llmClient,
		model:     llmClient.ModelName(),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// relevanceScore represents the structured output from the LLM.
type relevanceScore struct {
	DocIndex int     `json:"doc_index"`
	Score    float32 `json:"score"`
}

type rerankResponse struct {
	Scores []relevanceScore `json:"scores"`
}

// Score asks the LLM to rate each text's relevance to the query.
func (s *LLMScorer) Score(ctx context.Context, query string, texts []string) ([]float32, error) {
	if len(texts) == 0 {
		return []float32{}, nil
	}

	response, err := s.llmClient.Generate(ctx, buildRerankPrompt(query, texts), llm.GenerateOptions{
		Model:       s.model,
		Temperature: 0.0,
		MaxTokens:   1024,
		JSON:        true,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM scoring failed: %w", err)
	}

	return parseRerankResponse(response, len(texts))
}

// ModelName returns the LLM model used for scoring.
func (s *LLMScorer) ModelName() string {
	return s.model
}

// buildRerankPrompt constructs the prompt for LLM-based scoring.
func buildRerankPrompt(query string, texts []string) string {
	var sb strings.Builder

	sb.WriteString("You are a relevance scoring system for a catalog of learning resources. ")
	sb.WriteString("Score how well each resource helps a learner with the query.\n\n")
	sb.WriteString("Query: ")
	sb.WriteString(query)
	sb.WriteString("\n\n")

	sb.WriteString("Resources to score:\n")
	for i, text := range texts {
		if len(text) > 500 {
			text = text[:500] + "..."
		}
		fmt.Fprintf(&sb, "[Doc %d]: %s\n", i, text)
	}

	sb.WriteString(`
Score each resource from 0.0 to 1.0 based on relevance to the query.
Output ONLY valid JSON in this exact format:
{"scores": [{"doc_index": 0, "score": 0.9}, {"doc_index": 1, "score": 0.3}, ...]}

Be strict: irrelevant resources should score below 0.3, somewhat relevant 0.3-0.7, highly relevant above 0.7.`)

	return sb.String()
}

// parseRerankResponse extracts scores from the LLM response. Positions the model
// skipped are NaN so fusion falls back to the similarity score for them.
func parseRerankResponse(response string, numTexts int) ([]float32, error) {
	response = strings.TrimSpace(response)

	// Models sometimes wrap JSON in markdown code fences
	if idx := strings.Index(response, "```"); idx != -1 {
		start := idx + 3
		if strings.HasPrefix(response[start:], "json") {
			start += len("json")
		}
		if end := strings.Index(response[start:], "```"); end != -1 {
			response = response[start : start+end]
		}
	}
	response = strings.TrimSpace(response)

	var parsed rerankResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse rerank response: %w", err)
	}

	scores := make([]float32, numTexts)
	for i := range scores {
		scores[i] = missingScore
	}

	for _, s := range parsed.Scores {
		if s.DocIndex < 0 || s.DocIndex >= numTexts {
			continue
		}
		scores[s.DocIndex] = min(max(s.Score, 0), 1)
	}

	return scores, nil
}

var _ Scorer = (*LLMScorer)(nil)
