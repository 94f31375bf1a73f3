// Package filter compiles structured search filters into conjunctive predicates
// over the metadata fields stored alongside each indexed learning resource.
package filter

import (
	"fmt"
	"math"
)

// Indexed payload field names the compiler targets.
const (
	FieldLevel       = "level"
	FieldLicense     = "license"
	FieldDurationMin = "duration_min"
	FieldMediaType   = "media_type"
)

// SearchFilter is the structured filter accepted by the search API.
// A nil pointer or an empty set means "no constraint on that field".
type SearchFilter struct {
	LevelLTE    *int     `json:"level_lte,omitempty"`
	LicenseIn   []string `json:"license_in,omitempty"`
	DurationLTE *int     `json:"duration_lte,omitempty"`
	MediaIn     []string `json:"media_in,omitempty"`
}

// IsEmpty reports whether no field of the filter is set.
func (f *SearchFilter) IsEmpty() bool {
	if f == nil {
		return true
	}
	return f.LevelLTE == nil && len(f.LicenseIn) == 0 && f.DurationLTE == nil && len(f.MediaIn) == 0
}

// Op is the comparison a clause performs.
type Op string

const (
	// OpLTE holds when the field value is less than or equal to Bound.
	OpLTE Op = "lte"
	// OpIn holds when the field value is one of Values.
	OpIn Op = "in"
)

// Clause is a single condition on one indexed field.
type Clause struct {
	Field  string
	Op     Op
	Bound  int64
	Values []string
}

// Predicate is a conjunction of clauses: every clause must hold.
type Predicate struct {
	Clauses []Clause
}

// Compile translates a search filter into a predicate.
// It returns nil when the filter is absent or has no field set.
// Clauses are emitted in a fixed field order so identical filters
// compile to structurally equal predicates.
func Compile(f *SearchFilter) *Predicate {
	if f.IsEmpty() {
		return nil
	}

	p := &Predicate{}
	if f.LevelLTE != nil {
		p.Clauses = append(p.Clauses, Clause{Field: FieldLevel, Op: OpLTE, Bound: int64(*f.LevelLTE)})
	}
	if len(f.LicenseIn) > 0 {
		p.Clauses = append(p.Clauses, Clause{Field: FieldLicense, Op: OpIn, Values: cloneStrings(f.LicenseIn)})
	}
	if f.DurationLTE != nil {
		p.Clauses = append(p.Clauses, Clause{Field: FieldDurationMin, Op: OpLTE, Bound: int64(*f.DurationLTE)})
	}
	if len(f.MediaIn) > 0 {
		p.Clauses = append(p.Clauses, Clause{Field: FieldMediaType, Op: OpIn, Values: cloneStrings(f.MediaIn)})
	}
	return p
}

// Matches evaluates the predicate against a payload in-process.
// A nil predicate matches everything. A clause on a missing field does not match,
// which is how the index treats conditions on absent payload keys.
func (p *Predicate) Matches(payload map[string]any) bool {
	if p == nil {
		return true
	}
	for _, c := range p.Clauses {
		if !c.Matches(payload) {
			return false
		}
	}
	return true
}

// Matches evaluates a single clause against a payload.
func (c Clause) Matches(payload map[string]any) bool {
	raw, ok := payload[c.Field]
	if !ok {
		return false
	}

	switch c.Op {
	case OpLTE:
		v, ok := toFloat(raw)
		if !ok {
			return false
		}
		return v <= float64(c.Bound)
	case OpIn:
		s, ok := raw.(string)
		if !ok {
			return false
		}
		for _, want := range c.Values {
			if s == want {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// String renders the clause for logs.
func (c Clause) String() string {
	if c.Op == OpLTE {
		return fmt.Sprintf("%s<=%d", c.Field, c.Bound)
	}
	return fmt.Sprintf("%s in %v", c.Field, c.Values)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func cloneStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
