// Package service implements the retrieval pipeline: encode the query, search the
// filtered index, rerank the candidate window and fuse the scores into result cards.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/knoguchi/learnpath/internal/embedder"
	"github.com/knoguchi/learnpath/internal/filter"
	"github.com/knoguchi/learnpath/internal/metrics"
	"github.com/knoguchi/learnpath/internal/ranking"
	"github.com/knoguchi/learnpath/internal/reranker"
	"github.com/knoguchi/learnpath/internal/vectorstore"
)

// DefaultTopK is the candidate window requested from the index when the caller gives none.
const DefaultTopK = 20

// Encoder embeds texts under a role.
type Encoder interface {
	Encode(ctx context.Context, texts []string, role embedder.Role) ([][]float32, error)
}

// Reranker scores candidates against a query, aligned with the input order.
type Reranker interface {
	Score(ctx context.Context, query string, candidates []vectorstore.Candidate) ([]float32, error)
}

// Query is one search request.
type Query struct {
	Text   string
	TopK   int
	Filter *filter.SearchFilter
}

// SearchResult is the ranked, truncated output of a search.
type SearchResult struct {
	Results    []ranking.ResultCard
	Candidates int
	Reranked   bool
}

// SearchServiceConfig configures a SearchService.
type SearchServiceConfig struct {
	// RerankEnabled turns the cross-encoder stage on. When it is on, a nil
	// Reranker makes every search fail with ErrServiceUnavailable.
	RerankEnabled bool

	// DefaultTopK is used when a query has no positive TopK.
	DefaultTopK int

	// ResultLimit is the number of cards returned (default 5).
	ResultLimit int

	Logger *slog.Logger
}

// SearchService runs searches. It holds only read-only handles and is safe
// for concurrent use.
type SearchService struct {
	encoder   Encoder
	index     vectorstore.Index
	reranker  Reranker
	readiness *ReadinessTracker
	searchLog SearchLogger

	rerankEnabled bool
	defaultTopK   int
	resultLimit   int
	logger        *slog.Logger
}

// SearchServiceOption is a functional option for configuring SearchService.
type SearchServiceOption func(*SearchService)

// WithReranker sets the cross-encoder used when reranking is enabled.
func WithReranker(r Reranker) SearchServiceOption {
	return func(s *SearchService) {
		s.reranker = r
	}
}

// WithSearchLogger records every successful search.
func WithSearchLogger(l SearchLogger) SearchServiceOption {
	return func(s *SearchService) {
		s.searchLog = l
	}
}

// NewSearchService creates a new SearchService
func NewSearchService(
	encoder Encoder,
	index vectorstore.Index,
	readiness *ReadinessTracker,
	cfg SearchServiceConfig,
	opts ...SearchServiceOption,
) *SearchService {
	s := &SearchService{
		encoder:       encoder,
		index:         index,
		readiness:     readiness,
		rerankEnabled: cfg.RerankEnabled,
		defaultTopK:   cfg.DefaultTopK,
		resultLimit:   cfg.ResultLimit,
		logger:        cfg.Logger,
	}
	if s.defaultTopK <= 0 {
		s.defaultTopK = DefaultTopK
	}
	if s.resultLimit <= 0 {
		s.resultLimit = ranking.DefaultLimit
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Readiness returns the current readiness snapshot.
func (s *SearchService) Readiness() Readiness {
	return s.readiness.Snapshot()
}

// Search answers a query with up to ResultLimit ranked result cards.
// Any stage failure aborts the search; there is no partial result.
func (s *SearchService) Search(ctx context.Context, q Query) (SearchResult, error) {
	start := time.Now()

	res, err := s.search(ctx, q)
	if err != nil {
		var se *StageError
		if errors.As(err, &se) {
			metrics.SearchErrorsTotal.WithLabelValues(string(se.Stage), kindLabel(se.Kind)).Inc()
		}
		return SearchResult{}, err
	}

	s.recordSearch(ctx, q, res, time.Since(start))
	return res, nil
}

func (s *SearchService) search(ctx context.Context, q Query) (SearchResult, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return SearchResult{}, stageErr(StageValidate, ErrInvalidQuery, errors.New("query text is empty"))
	}

	topK := q.TopK
	if topK == 0 {
		topK = s.defaultTopK
	}
	topK = vectorstore.NormalizeLimit(topK)

	if err := s.checkReady(); err != nil {
		return SearchResult{}, err
	}

	// Step 1: Embed the query
	stageStart := time.Now()
	vectors, err := s.encoder.Encode(ctx, []string{text}, embedder.RoleQuery)
	if err != nil {
		return SearchResult{}, stageErr(StageEncode, modelErrKind(err), err)
	}
	metrics.ObserveStage(string(StageEncode), stageStart)

	// Index and rerank calls run to completion once issued; a client that
	// goes away does not abort them halfway.
	callCtx := context.WithoutCancel(ctx)

	// Step 2: Filtered nearest-neighbor search over the top_k window
	stageStart = time.Now()
	candidates, err := s.index.Search(callCtx, vectors[0], filter.Compile(q.Filter), topK)
	if err != nil {
		return SearchResult{}, stageErr(StageSearch, indexErrKind(err), err)
	}
	metrics.ObserveStage(string(StageSearch), stageStart)
	metrics.SearchCandidates.Observe(float64(len(candidates)))

	// Step 3: Rerank the whole window so lower-similarity items can reach the top
	var scores []float32
	if s.rerankEnabled {
		stageStart = time.Now()
		scores, err = s.reranker.Score(callCtx, text, candidates)
		if err != nil {
			return SearchResult{}, stageErr(StageRerank, modelErrKind(err), err)
		}
		metrics.ObserveStage(string(StageRerank), stageStart)
	}

	// Step 4: Fuse, sort, truncate
	return SearchResult{
		Results:    ranking.Fuse(candidates, scores, s.resultLimit),
		Candidates: len(candidates),
		Reranked:   s.rerankEnabled,
	}, nil
}

// checkReady fails fast when a capability the search needs is missing or still loading.
func (s *SearchService) checkReady() error {
	if s.encoder == nil {
		return stageErr(StageEncode, ErrServiceUnavailable, errors.New("encoder is not configured"))
	}
	if s.index == nil {
		return stageErr(StageSearch, ErrServiceUnavailable, errors.New("vector index is not configured"))
	}
	if s.rerankEnabled && s.reranker == nil {
		return stageErr(StageRerank, ErrServiceUnavailable, errors.New("reranking is enabled but no reranker is configured"))
	}

	snap := s.readiness.Snapshot()
	if !snap.EncoderReady {
		return stageErr(StageEncode, ErrNotReady, embedder.ErrNotReady)
	}
	if s.rerankEnabled && !snap.RerankerReady {
		return stageErr(StageRerank, ErrNotReady, reranker.ErrNotReady)
	}
	return nil
}

// Embed encodes passages for the /embed endpoint. It needs only the encoder.
func (s *SearchService) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.encoder == nil {
		return nil, stageErr(StageEncode, ErrServiceUnavailable, errors.New("encoder is not configured"))
	}
	if !s.readiness.Snapshot().EncoderReady {
		return nil, stageErr(StageEncode, ErrNotReady, embedder.ErrNotReady)
	}

	vectors, err := s.encoder.Encode(ctx, texts, embedder.RolePassage)
	if err != nil {
		return nil, stageErr(StageEncode, modelErrKind(err), err)
	}
	return vectors, nil
}

func (s *SearchService) recordSearch(ctx context.Context, q Query, res SearchResult, took time.Duration) {
	if s.searchLog == nil {
		return
	}

	ids := make([]string, len(res.Results))
	for i, card := range res.Results {
		ids[i] = card.ResourceID
	}

	err := s.searchLog.LogSearch(ctx, SearchLogEntry{
		Query:       strings.TrimSpace(q.Text),
		TopK:        q.TopK,
		Filter:      q.Filter,
		ResultIDs:   ids,
		Candidates:  res.Candidates,
		Reranked:    res.Reranked,
		DurationMs:  took.Milliseconds(),
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("failed to record search log", "error", err)
	}
}

func modelErrKind(err error) error {
	if errors.Is(err, embedder.ErrNotReady) || errors.Is(err, reranker.ErrNotReady) {
		return ErrNotReady
	}
	return ErrInferenceFailed
}

func indexErrKind(err error) error {
	if errors.Is(err, vectorstore.ErrIndexUnavailable) {
		return ErrIndexUnavailable
	}
	return ErrIndexQueryFailed
}

func kindLabel(kind error) string {
	switch kind {
	case ErrInvalidQuery:
		return "invalid_query"
	case ErrNotReady:
		return "not_ready"
	case ErrServiceUnavailable:
		return "service_unavailable"
	case ErrIndexUnavailable:
		return "index_unavailable"
	case ErrIndexQueryFailed:
		return "index_query_failed"
	case ErrInferenceFailed:
		return "inference_failed"
	default:
		return "unknown"
	}
}
