package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int { return &v }

func TestCompile_AbsentFilter(t *testing.T) {
	assert.Nil(t, Compile(nil))
	assert.Nil(t, Compile(&SearchFilter{}))
	assert.Nil(t, Compile(&SearchFilter{LicenseIn: []string{}, MediaIn: nil}))
}

func TestCompile_AllFields(t *testing.T) {
	f := &SearchFilter{
		LevelLTE:    intPtr(2),
		LicenseIn:   []string{"cc-by", "mit"},
		DurationLTE: intPtr(45),
		MediaIn:     []string{"video"},
	}

	p := Compile(f)
	require.NotNil(t, p)

	want := &Predicate{Clauses: []Clause{
		{Field: FieldLevel, Op: OpLTE, Bound: 2},
		{Field: FieldLicense, Op: OpIn, Values: []string{"cc-by", "mit"}},
		{Field: FieldDurationMin, Op: OpLTE, Bound: 45},
		{Field: FieldMediaType, Op: OpIn, Values: []string{"video"}},
	}}
	assert.Equal(t, want, p)
}

func TestCompile_Deterministic(t *testing.T) {
	f := &SearchFilter{MediaIn: []string{"article"}, LevelLTE: intPtr(3)}
	assert.Equal(t, Compile(f), Compile(f))
}

func TestCompile_CopiesSets(t *testing.T) {
	licenses := []string{"cc-by"}
	p := Compile(&SearchFilter{LicenseIn: licenses})
	licenses[0] = "changed"

	require.NotNil(t, p)
	assert.Equal(t, []string{"cc-by"}, p.Clauses[0].Values)
}

func TestPredicate_Matches(t *testing.T) {
	p := Compile(&SearchFilter{LevelLTE: intPtr(2), MediaIn: []string{"video", "article"}})

	tests := []struct {
		name    string
		payload map[string]any
		want    bool
	}{
		{"below bound", map[string]any{"level": int64(1), "media_type": "video"}, true},
		{"at bound", map[string]any{"level": 2.0, "media_type": "article"}, true},
		{"above bound", map[string]any{"level": int64(3), "media_type": "video"}, false},
		{"wrong media", map[string]any{"level": int64(1), "media_type": "podcast"}, false},
		{"missing level", map[string]any{"media_type": "video"}, false},
		{"level not numeric", map[string]any{"level": "1", "media_type": "video"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Matches(tt.payload))
		})
	}
}

func TestPredicate_NilMatchesEverything(t *testing.T) {
	var p *Predicate
	assert.True(t, p.Matches(nil))
	assert.True(t, p.Matches(map[string]any{"level": int64(9)}))
}

func TestClause_String(t *testing.T) {
	assert.Equal(t, "level<=2", Clause{Field: FieldLevel, Op: OpLTE, Bound: 2}.String())
	assert.Equal(t, "license in [mit]", Clause{Field: FieldLicense, Op: OpIn, Values: []string{"mit"}}.String())
}
