package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds settings for an OpenAI-compatible embeddings endpoint
// (OpenAI itself, text-embeddings-inference, vLLM).
type OpenAIConfig struct {
	// BaseURL is the API root including the version segment, e.g. http://tei:8080/v1.
	BaseURL string
	APIKey  string
	Model   string

	// HTTPClient is an optional custom HTTP client.
	HTTPClient *http.Client
}

// OpenAIBackend implements Backend over the /embeddings endpoint.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend creates an OpenAI-compatible embedding backend.
func NewOpenAIBackend(cfg OpenAIConfig) *OpenAIBackend {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	return &OpenAIBackend{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

// EmbedBatch sends all texts in one request and reorders the response by index.
func (b *OpenAIBackend) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := b.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:          texts,
		Model:          openai.EmbeddingModel(b.model),
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}

	results := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range for %d inputs", d.Index, len(texts))
		}
		results[d.Index] = d.Embedding
	}
	for i, v := range results {
		if len(v) == 0 {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
	}

	return results, nil
}

// ModelName returns the name of the embedding model being used.
func (b *OpenAIBackend) ModelName() string {
	return b.model
}

var _ Backend = (*OpenAIBackend)(nil)
