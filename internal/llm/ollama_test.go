package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaClient_Generate(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ollamaResponse{Model: got.Model, Response: "hello", Done: true})
	}))
	defer srv.Close()

	c := NewOllamaClient(WithBaseURL(srv.URL+"/"), WithModel("mistral"))
	out, err := c.Generate(context.Background(), "say hi", GenerateOptions{
		SystemPrompt: "be brief",
		MaxTokens:    16,
		JSON:         true,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", out)

	assert.Equal(t, "mistral", got.Model)
	assert.Equal(t, "say hi", got.Prompt)
	assert.Equal(t, "be brief", got.System)
	assert.Equal(t, "json", got.Format)
	assert.False(t, got.Stream)
	assert.Equal(t, 0.0, got.Options["temperature"])
	assert.Equal(t, 16.0, got.Options["num_predict"])
}

func TestOllamaClient_ModelOverride(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Response: "ok"})
	}))
	defer srv.Close()

	c := NewOllamaClient(WithBaseURL(srv.URL), WithModel(""))
	assert.Equal(t, DefaultModel, c.ModelName())

	_, err := c.Generate(context.Background(), "p", GenerateOptions{Model: "qwen2"})
	require.NoError(t, err)
	assert.Equal(t, "qwen2", got.Model)
	assert.Empty(t, got.Format)
}

func TestOllamaClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewOllamaClient(WithBaseURL(srv.URL))
	_, err := c.Generate(context.Background(), "p", GenerateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}
