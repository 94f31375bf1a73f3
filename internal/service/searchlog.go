package service

import (
	"context"
	"time"

	"github.com/knoguchi/learnpath/internal/filter"
)

// SearchLogEntry is one recorded search.
type SearchLogEntry struct {
	Query       string
	TopK        int
	Filter      *filter.SearchFilter
	ResultIDs   []string
	Candidates  int
	Reranked    bool
	DurationMs  int64
	RequestedAt time.Time
}

// SearchLogger persists search history. Failures are logged by the caller and
// never fail the search.
type SearchLogger interface {
	LogSearch(ctx context.Context, entry SearchLogEntry) error
}
