package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/knoguchi/learnpath/internal/filter"
)

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 1, NormalizeLimit(-3))
	assert.Equal(t, 1, NormalizeLimit(0))
	assert.Equal(t, 20, NormalizeLimit(20))
}

func TestCandidate_Accessors(t *testing.T) {
	c := Candidate{
		ID: "point-1",
		Payload: map[string]any{
			"resource_id":  "res-42",
			"title":        "Intro to Go",
			"url":          "https://example.com/go",
			"skills":       []any{"go", "", "concurrency"},
			"duration_min": int64(30),
			"level":        2.0,
		},
	}

	assert.Equal(t, "res-42", c.ResourceID())
	assert.Equal(t, "Intro to Go", c.Title())
	assert.Equal(t, "https://example.com/go", c.URL())
	assert.Equal(t, []string{"go", "concurrency"}, c.Skills())

	d, ok := c.DurationMin()
	assert.True(t, ok)
	assert.Equal(t, 30, d)

	l, ok := c.Level()
	assert.True(t, ok)
	assert.Equal(t, 2, l)
}

func TestCandidate_ResourceIDFallsBackToPointID(t *testing.T) {
	c := Candidate{ID: "point-7", Payload: map[string]any{}}
	assert.Equal(t, "point-7", c.ResourceID())
	assert.Nil(t, c.Skills())

	_, ok := c.DurationMin()
	assert.False(t, ok)
}

func TestParseQdrantURL(t *testing.T) {
	tests := []struct {
		raw     string
		host    string
		port    int
		tls     bool
		wantErr bool
	}{
		{raw: "localhost:6334", host: "localhost", port: 6334},
		{raw: "qdrant", host: "qdrant", port: 6334},
		{raw: "http://qdrant:7000", host: "qdrant", port: 7000},
		{raw: "https://cloud.qdrant.io:6334", host: "cloud.qdrant.io", port: 6334, tls: true},
		{raw: "https://cloud.qdrant.io", host: "cloud.qdrant.io", port: 6334, tls: true},
		{raw: "ftp://qdrant:1", wantErr: true},
		{raw: "qdrant:abc", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			host, port, tls, err := parseQdrantURL(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, host)
			assert.Equal(t, tt.port, port)
			assert.Equal(t, tt.tls, tls)
		})
	}
}

func TestToQdrantFilter(t *testing.T) {
	assert.Nil(t, toQdrantFilter(nil))

	level := 2
	pred := filter.Compile(&filter.SearchFilter{
		LevelLTE:  &level,
		LicenseIn: []string{"cc-by", "mit"},
	})

	f := toQdrantFilter(pred)
	require.NotNil(t, f)
	require.Len(t, f.GetMust(), 2)
	assert.Empty(t, f.GetShould())
	assert.Empty(t, f.GetMustNot())

	rangeCond := f.GetMust()[0].GetField()
	require.NotNil(t, rangeCond)
	assert.Equal(t, "level", rangeCond.GetKey())
	assert.Equal(t, 2.0, rangeCond.GetRange().GetLte())

	matchCond := f.GetMust()[1].GetField()
	require.NotNil(t, matchCond)
	assert.Equal(t, "license", matchCond.GetKey())
	assert.Equal(t, []string{"cc-by", "mit"}, matchCond.GetMatch().GetKeywords().GetStrings())
}

func TestPayloadToMap(t *testing.T) {
	payload := map[string]*qdrant.Value{
		"title":        qdrant.NewValueString("Go"),
		"level":        qdrant.NewValueInt(2),
		"duration_min": qdrant.NewValueDouble(12.5),
		"free":         qdrant.NewValueBool(true),
		"skills":       qdrant.NewValueFromList(qdrant.NewValueString("go"), qdrant.NewValueString("testing")),
	}

	m := payloadToMap(payload)
	assert.Equal(t, "Go", m["title"])
	assert.Equal(t, int64(2), m["level"])
	assert.Equal(t, 12.5, m["duration_min"])
	assert.Equal(t, true, m["free"])
	assert.Equal(t, []any{"go", "testing"}, m["skills"])

	c := Candidate{Payload: m}
	assert.Equal(t, []string{"go", "testing"}, c.Skills())
}

func TestPointID(t *testing.T) {
	assert.Equal(t, "", pointID(nil))
	assert.Equal(t, "42", pointID(qdrant.NewIDNum(42)))
	assert.Equal(t, "5c56c793-69f3-4fbf-87e6-c4bf54c28c26", pointID(qdrant.NewIDUUID("5c56c793-69f3-4fbf-87e6-c4bf54c28c26")))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unavailable", status.Error(codes.Unavailable, "connection refused"), ErrIndexUnavailable},
		{"deadline", status.Error(codes.DeadlineExceeded, "slow"), ErrIndexUnavailable},
		{"context deadline", context.DeadlineExceeded, ErrIndexUnavailable},
		{"not found", status.Error(codes.NotFound, "collection missing"), ErrQueryFailed},
		{"invalid", status.Error(codes.InvalidArgument, "bad vector"), ErrQueryFailed},
		{"plain", errors.New("boom"), ErrQueryFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyError("search", tt.err)
			assert.ErrorIs(t, err, tt.want)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestEnsurePayloadIndexes_ToleratesExisting(t *testing.T) {
	created := map[string]qdrant.FieldType{}
	err := ensurePayloadIndexes(context.Background(), func(ctx context.Context, field string, fieldType qdrant.FieldType) error {
		created[field] = fieldType
		if field == PayloadLevel {
			return status.Error(codes.AlreadyExists, "index already exists")
		}
		return nil
	})
	require.NoError(t, err)

	assert.Len(t, created, 4)
	assert.Equal(t, qdrant.FieldType_FieldTypeInteger, created[PayloadDurationMin])
	assert.Equal(t, qdrant.FieldType_FieldTypeKeyword, created[PayloadMediaType])
}

func TestEnsurePayloadIndexes_RetriesAfterPartialFailure(t *testing.T) {
	failLicense := true
	var attempts []string
	create := func(ctx context.Context, field string, fieldType qdrant.FieldType) error {
		attempts = append(attempts, field)
		if field == PayloadLicense && failLicense {
			return status.Error(codes.Unavailable, "connection reset")
		}
		return nil
	}

	err := ensurePayloadIndexes(context.Background(), create)
	require.ErrorIs(t, err, ErrIndexUnavailable)
	assert.Equal(t, []string{PayloadLevel, PayloadLicense}, attempts)

	// The next start runs again over every field.
	failLicense = false
	attempts = nil
	require.NoError(t, ensurePayloadIndexes(context.Background(), create))
	assert.Equal(t, []string{PayloadLevel, PayloadLicense, PayloadDurationMin, PayloadMediaType}, attempts)
}

func TestMemoryIndex_SearchOrdersAndFilters(t *testing.T) {
	idx := NewMemoryIndex(2)
	require.NoError(t, idx.Upsert(
		Point{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"level": int64(1)}},
		Point{ID: "b", Vector: []float32{0.8, 0.6}, Payload: map[string]any{"level": int64(2)}},
		Point{ID: "c", Vector: []float32{1, 0.01}, Payload: map[string]any{"level": int64(3)}},
	))

	got, err := idx.Search(context.Background(), []float32{1, 0}, nil, 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.Equal(t, "b", got[2].ID)

	level := 2
	got, err = idx.Search(context.Background(), []float32{1, 0}, filter.Compile(&filter.SearchFilter{LevelLTE: &level}), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, c := range got {
		l, ok := c.Level()
		require.True(t, ok)
		assert.LessOrEqual(t, l, level)
	}
}

func TestMemoryIndex_LimitCoercedToOne(t *testing.T) {
	idx := NewMemoryIndex(2)
	require.NoError(t, idx.Upsert(
		Point{ID: "a", Vector: []float32{1, 0}},
		Point{ID: "b", Vector: []float32{0, 1}},
	))

	got, err := idx.Search(context.Background(), []float32{1, 0}, nil, 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMemoryIndex_UpsertReplaces(t *testing.T) {
	idx := NewMemoryIndex(2)
	require.NoError(t, idx.Upsert(Point{ID: "a", Vector: []float32{1, 0}}))
	require.NoError(t, idx.Upsert(Point{ID: "a", Vector: []float32{0, 1}}))

	got, err := idx.Search(context.Background(), []float32{0, 1}, nil, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 1.0, got[0].Score, 1e-6)
}

func TestMemoryIndex_Errors(t *testing.T) {
	idx := NewMemoryIndex(2)
	assert.Error(t, idx.Upsert(Point{ID: "bad", Vector: []float32{1}}))

	_, err := idx.Search(context.Background(), []float32{1}, nil, 1)
	assert.ErrorIs(t, err, ErrQueryFailed)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = idx.Search(ctx, []float32{1, 0}, nil, 1)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}
