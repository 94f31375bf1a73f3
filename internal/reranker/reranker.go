// Package reranker provides cross-encoder re-scoring of search candidates.
//
// A cross-encoder sees the query and a candidate together, which gives finer
// relevance judgements than vector similarity at a higher cost per pair. It is
// applied to the candidate window returned by the index, never to the whole catalog.
//
// # Trade-offs
//
// Reranking is a process-wide configuration option (RERANK_ENABLED).
//
//   - Latency: one extra model call per search over top_k pairs
//   - Quality: promotes relevant items the embedding ranked lower
//
// Disable it for latency-sensitive deployments; fusion then uses similarity scores.
package reranker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/knoguchi/learnpath/internal/vectorstore"
)

// ErrNotReady is returned when Score is called before Load has completed successfully.
var ErrNotReady = errors.New("reranker not ready")

// Scorer is a pairwise relevance model runtime.
type Scorer interface {
	// Score returns one relevance score per text, in input order. A NaN entry
	// means the model produced no score for that position.
	Score(ctx context.Context, query string, texts []string) ([]float32, error)

	// ModelName returns the model identifier for logging.
	ModelName() string
}

// CrossEncoder wraps a Scorer with one-time loading and candidate reduction.
type CrossEncoder struct {
	scorer Scorer
	logger *slog.Logger

	once    sync.Once
	ready   atomic.Bool
	failed  atomic.Bool
	loadErr error
}

// NewCrossEncoder creates a reranker over the given scorer.
func NewCrossEncoder(scorer Scorer, logger *slog.Logger) *CrossEncoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &CrossEncoder{scorer: scorer, logger: logger}
}

// Load warms the scorer with a single pair. Only the first call does any work;
// a failure is permanent for the lifetime of the CrossEncoder.
func (r *CrossEncoder) Load(ctx context.Context) error {
	r.once.Do(func() {
		start := time.Now()

		scores, err := r.scorer.Score(ctx, "warmup", []string{"warmup"})
		switch {
		case err != nil:
			r.loadErr = fmt.Errorf("warmup scoring: %w", err)
		case len(scores) != 1:
			r.loadErr = fmt.Errorf("warmup scoring: got %d scores, want 1", len(scores))
		}
		if r.loadErr != nil {
			r.failed.Store(true)
			return
		}

		r.ready.Store(true)
		r.logger.Info("reranker loaded",
			"model", r.scorer.ModelName(),
			"duration", time.Since(start),
		)
	})
	return r.loadErr
}

// Ready reports whether Load completed successfully.
func (r *CrossEncoder) Ready() bool {
	return r.ready.Load()
}

// ModelName returns the scorer model name.
func (r *CrossEncoder) ModelName() string {
	return r.scorer.ModelName()
}

// Score returns one relevance score per candidate, aligned with candidates.
// An empty candidate list returns an empty slice without calling the model.
func (r *CrossEncoder) Score(ctx context.Context, query string, candidates []vectorstore.Candidate) ([]float32, error) {
	if !r.ready.Load() {
		if r.failed.Load() {
			return nil, fmt.Errorf("%w: %w", ErrNotReady, r.loadErr)
		}
		return nil, ErrNotReady
	}

	if len(candidates) == 0 {
		return []float32{}, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = CandidateContext(c)
	}

	scores, err := r.scorer.Score(ctx, query, texts)
	if err != nil {
		return nil, fmt.Errorf("score %d candidates: %w", len(candidates), err)
	}
	if len(scores) != len(candidates) {
		return nil, fmt.Errorf("scorer returned %d scores for %d candidates", len(scores), len(candidates))
	}
	return scores, nil
}

// CandidateContext reduces a candidate to the short text the cross-encoder sees:
// "title | url", or whichever part exists, or the resource id.
func CandidateContext(c vectorstore.Candidate) string {
	title, url := c.Title(), c.URL()
	switch {
	case title != "" && url != "":
		return title + " | " + url
	case title != "":
		return title
	case url != "":
		return url
	default:
		return c.ResourceID()
	}
}

// missingScore marks positions the model did not score.
var missingScore = float32(math.NaN())
