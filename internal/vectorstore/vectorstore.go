// Package vectorstore provides interfaces and implementations for nearest-neighbor
// search over the learning-resource catalog.
package vectorstore

import (
	"context"
	"errors"

	"github.com/knoguchi/learnpath/internal/filter"
)

// Payload field names stored on every catalog point.
const (
	PayloadResourceID  = "resource_id"
	PayloadTitle       = "title"
	PayloadURL         = "url"
	PayloadSkills      = "skills"
	PayloadLevel       = filter.FieldLevel
	PayloadLicense     = filter.FieldLicense
	PayloadDurationMin = filter.FieldDurationMin
	PayloadMediaType   = filter.FieldMediaType
)

var (
	// ErrIndexUnavailable is returned when the index cannot be reached or
	// rejected the query for a transient reason.
	ErrIndexUnavailable = errors.New("vector index unavailable")

	// ErrQueryFailed is returned when the index answered with a non-transient error.
	ErrQueryFailed = errors.New("vector index query failed")
)

// Candidate is one nearest-neighbor hit with its payload and similarity score.
// Candidates are read-only once returned by an Index.
type Candidate struct {
	ID      string
	Payload map[string]any
	Score   float32
}

// ResourceID returns the catalog resource id, falling back to the point id.
func (c Candidate) ResourceID() string {
	if id := c.String(PayloadResourceID); id != "" {
		return id
	}
	return c.ID
}

// Title returns the resource title, or "" when absent.
func (c Candidate) Title() string { return c.String(PayloadTitle) }

// URL returns the resource url, or "" when absent.
func (c Candidate) URL() string { return c.String(PayloadURL) }

// String returns a string payload field, or "" when absent or not a string.
func (c Candidate) String(key string) string {
	s, _ := c.Payload[key].(string)
	return s
}

// Skills returns the skill tags in stored order.
func (c Candidate) Skills() []string {
	switch v := c.Payload[PayloadSkills].(type) {
	case []string:
		return v
	case []any:
		skills := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				skills = append(skills, s)
			}
		}
		return skills
	default:
		return nil
	}
}

// DurationMin returns the estimated duration in minutes.
func (c Candidate) DurationMin() (int, bool) { return c.Int(PayloadDurationMin) }

// Level returns the difficulty level.
func (c Candidate) Level() (int, bool) { return c.Int(PayloadLevel) }

// Int returns a numeric payload field as an int.
func (c Candidate) Int(key string) (int, bool) {
	switch v := c.Payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	default:
		return 0, false
	}
}

// Index is the nearest-neighbor search capability consumed by the search pipeline.
type Index interface {
	// Search returns up to limit candidates ordered by descending similarity.
	// Only points satisfying pred are considered; a nil pred matches everything.
	// A limit below 1 is treated as 1.
	Search(ctx context.Context, vector []float32, pred *filter.Predicate, limit int) ([]Candidate, error)
}

// Provisioner prepares the backing collection before the first search.
type Provisioner interface {
	// EnsureCollection creates the collection if it does not exist. It is idempotent.
	EnsureCollection(ctx context.Context) error
}

// NormalizeLimit coerces a requested limit to at least 1.
func NormalizeLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	return limit
}
