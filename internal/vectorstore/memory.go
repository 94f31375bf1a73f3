package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/knoguchi/learnpath/internal/filter"
)

// Point is a vector with its payload as held by MemoryIndex.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// MemoryIndex is an exact, brute-force cosine index kept in memory.
// It backs local development and tests where no Qdrant server is available.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	points    []Point
}

// NewMemoryIndex creates an empty in-memory index for vectors of the given dimension.
func NewMemoryIndex(dimension int) *MemoryIndex {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &MemoryIndex{dimension: dimension}
}

// EnsureCollection is a no-op; the in-memory collection always exists.
func (m *MemoryIndex) EnsureCollection(ctx context.Context) error {
	return nil
}

// Upsert inserts points, replacing any existing point with the same id.
func (m *MemoryIndex) Upsert(points ...Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range points {
		if len(p.Vector) != m.dimension {
			return fmt.Errorf("point %s: vector dimension %d, want %d", p.ID, len(p.Vector), m.dimension)
		}
		replaced := false
		for i := range m.points {
			if m.points[i].ID == p.ID {
				m.points[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			m.points = append(m.points, p)
		}
	}
	return nil
}

// Search scores every point matching pred and returns the top limit by cosine similarity.
func (m *MemoryIndex) Search(ctx context.Context, vector []float32, pred *filter.Predicate, limit int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("search: %w: %w", ErrIndexUnavailable, err)
	}
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("search: %w: query dimension %d, want %d", ErrQueryFailed, len(vector), m.dimension)
	}
	limit = NormalizeLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := make([]Candidate, 0, len(m.points))
	for _, p := range m.points {
		if !pred.Matches(p.Payload) {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:      p.ID,
			Payload: p.Payload,
			Score:   cosine(vector, p.Vector),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var (
	_ Index       = (*MemoryIndex)(nil)
	_ Provisioner = (*MemoryIndex)(nil)
)
