package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/knoguchi/learnpath/internal/service"
)

const createSearchLogTable = `
	CREATE TABLE IF NOT EXISTS search_logs (
		id           UUID PRIMARY KEY,
		query        TEXT NOT NULL,
		top_k        INTEGER NOT NULL,
		filter       JSONB,
		result_ids   TEXT[] NOT NULL,
		candidates   INTEGER NOT NULL,
		reranked     BOOLEAN NOT NULL,
		duration_ms  BIGINT NOT NULL,
		requested_at TIMESTAMPTZ NOT NULL
	)
`

// SearchLogRepo implements service.SearchLogger
type SearchLogRepo struct {
	db *DB
}

// NewSearchLogRepo creates a new search log repository
func NewSearchLogRepo(db *DB) *SearchLogRepo {
	return &SearchLogRepo{db: db}
}

// EnsureSchema creates the search_logs table if it does not exist.
func (r *SearchLogRepo) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Pool.Exec(ctx, createSearchLogTable); err != nil {
		return fmt.Errorf("failed to create search_logs table: %w", err)
	}
	return nil
}

// LogSearch inserts one search log row.
func (r *SearchLogRepo) LogSearch(ctx context.Context, entry service.SearchLogEntry) error {
	args, err := searchLogArgs(uuid.New(), entry)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO search_logs (id, query, top_k, filter, result_ids, candidates, reranked, duration_ms, requested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	if _, err := r.db.Pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert search log: %w", err)
	}
	return nil
}

func searchLogArgs(id uuid.UUID, entry service.SearchLogEntry) ([]any, error) {
	var filterJSON []byte
	if !entry.Filter.IsEmpty() {
		var err error
		filterJSON, err = json.Marshal(entry.Filter)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal filter: %w", err)
		}
	}

	resultIDs := entry.ResultIDs
	if resultIDs == nil {
		resultIDs = []string{}
	}

	return []any{
		id,
		entry.Query,
		entry.TopK,
		filterJSON,
		resultIDs,
		entry.Candidates,
		entry.Reranked,
		entry.DurationMs,
		entry.RequestedAt,
	}, nil
}

var _ service.SearchLogger = (*SearchLogRepo)(nil)
