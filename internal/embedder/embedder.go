// Package embedder provides the embedding encoder used for queries and passages,
// and the model backends it runs on.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrNotReady is returned when Encode is called before Load has completed successfully.
var ErrNotReady = errors.New("encoder not ready")

// Role selects the input prefix the embedding model was trained with.
type Role int

const (
	// RoleQuery marks search queries.
	RoleQuery Role = iota
	// RolePassage marks catalog passages.
	RolePassage
)

const (
	QueryPrefix   = "query: "
	PassagePrefix = "passage: "
)

// Prefix returns the role marker prepended to inputs of this role.
func (r Role) Prefix() string {
	if r == RoleQuery {
		return QueryPrefix
	}
	return PassagePrefix
}

func (r Role) String() string {
	if r == RoleQuery {
		return "query"
	}
	return "passage"
}

// Backend is an embedding model runtime.
type Backend interface {
	// EmbedBatch returns one embedding per input text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// ModelName returns the name of the embedding model being used.
	ModelName() string
}

type loadState int32

const (
	stateUninitialized loadState = iota
	stateLoading
	stateReady
	stateFailed
)

// Encoder maps text to unit-length vectors with role-conditioned prefixes.
// It must be loaded once before use; a failed load is permanent.
type Encoder struct {
	backend   Backend
	dimension int
	logger    *slog.Logger

	once    sync.Once
	state   atomic.Int32
	loadErr error
}

// NewEncoder creates an encoder producing vectors of the given dimension.
func NewEncoder(backend Backend, dimension int, logger *slog.Logger) *Encoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{
		backend:   backend,
		dimension: dimension,
		logger:    logger,
	}
}

// Load warms up the backend and verifies the vector dimension.
// Only the first call does any work; later calls return the first result.
func (e *Encoder) Load(ctx context.Context) error {
	e.once.Do(func() {
		e.state.Store(int32(stateLoading))
		start := time.Now()

		vectors, err := modelBackend(e.backend).EmbedBatch(ctx, []string{PassagePrefix + "warmup"})
		switch {
		case err != nil:
			e.loadErr = fmt.Errorf("warmup embedding: %w", err)
		case len(vectors) != 1:
			e.loadErr = fmt.Errorf("warmup embedding: got %d vectors, want 1", len(vectors))
		case len(vectors[0]) != e.dimension:
			e.loadErr = fmt.Errorf("model %s produces %d-dimensional vectors, configured %d",
				e.backend.ModelName(), len(vectors[0]), e.dimension)
		}

		if e.loadErr != nil {
			e.state.Store(int32(stateFailed))
			return
		}

		e.state.Store(int32(stateReady))
		e.logger.Info("encoder loaded",
			"model", e.backend.ModelName(),
			"dimension", e.dimension,
			"duration", time.Since(start),
		)
	})
	return e.loadErr
}

// modelBackend strips caching decorators so the warmup reaches the model itself.
func modelBackend(b Backend) Backend {
	for {
		w, ok := b.(interface{ Unwrap() Backend })
		if !ok {
			return b
		}
		b = w.Unwrap()
	}
}

// Ready reports whether Load completed successfully.
func (e *Encoder) Ready() bool {
	return loadState(e.state.Load()) == stateReady
}

// Dimension returns the dimensionality of the produced vectors.
func (e *Encoder) Dimension() int {
	return e.dimension
}

// ModelName returns the backend model name.
func (e *Encoder) ModelName() string {
	return e.backend.ModelName()
}

// Encode embeds texts under the given role and L2-normalizes every vector.
// An empty input yields an empty result without calling the backend.
func (e *Encoder) Encode(ctx context.Context, texts []string, role Role) ([][]float32, error) {
	switch loadState(e.state.Load()) {
	case stateReady:
	case stateFailed:
		return nil, fmt.Errorf("%w: %w", ErrNotReady, e.loadErr)
	default:
		return nil, ErrNotReady
	}

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	inputs := make([]string, len(texts))
	for i, t := range texts {
		inputs[i] = WithPrefix(t, role)
	}

	vectors, err := e.backend.EmbedBatch(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("embed %s batch: %w", role, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embed %s batch: got %d vectors for %d texts", role, len(vectors), len(texts))
	}

	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(v), e.dimension)
		}
		Normalize(v)
	}
	return vectors, nil
}

// WithPrefix prepends the role marker unless text already carries a known one.
func WithPrefix(text string, role Role) string {
	if HasRolePrefix(text) {
		return text
	}
	return role.Prefix() + text
}

// HasRolePrefix reports whether text starts with a query or passage marker.
func HasRolePrefix(text string) bool {
	return strings.HasPrefix(text, QueryPrefix) || strings.HasPrefix(text, PassagePrefix)
}

// Normalize scales v in place to unit L2 norm. Zero vectors are left unchanged.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
