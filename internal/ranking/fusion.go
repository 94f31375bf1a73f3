// Package ranking fuses similarity and rerank scores into the final ordered result list.
package ranking

import (
	"math"
	"sort"
	"strings"

	"github.com/knoguchi/learnpath/internal/vectorstore"
)

const (
	// DefaultLimit is the number of result cards returned per search.
	DefaultLimit = 5

	// maxWhySkills caps how many skill tags the rationale lists.
	maxWhySkills = 5
)

// ResultCard is the user-facing projection of a candidate.
type ResultCard struct {
	ResourceID  string   `json:"resource_id"`
	Title       string   `json:"title,omitempty"`
	URL         string   `json:"url,omitempty"`
	Why         string   `json:"why,omitempty"`
	DurationMin *int     `json:"duration_min,omitempty"`
	Skills      []string `json:"skills,omitempty"`
	Score       float32  `json:"score"`
}

type scored struct {
	candidate vectorstore.Candidate
	score     float32
}

// Fuse selects each candidate's final score, sorts descending and truncates to limit.
//
// rerankScores is nil when reranking was not performed. Otherwise the score at
// position i belongs to candidates[i]; a missing or NaN entry falls back to the
// candidate's similarity score. Ties keep the index order.
func Fuse(candidates []vectorstore.Candidate, rerankScores []float32, limit int) []ResultCard {
	if limit <= 0 {
		limit = DefaultLimit
	}

	items := make([]scored, len(candidates))
	for i, c := range candidates {
		items[i] = scored{candidate: c, score: FinalScore(c, i, rerankScores)}
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].score > items[j].score
	})

	if len(items) > limit {
		items = items[:limit]
	}

	cards := make([]ResultCard, len(items))
	for i, it := range items {
		cards[i] = toCard(it.candidate, it.score)
	}
	return cards
}

// FinalScore picks the rerank score at position i when present, else the similarity score.
func FinalScore(c vectorstore.Candidate, i int, rerankScores []float32) float32 {
	if i < len(rerankScores) {
		if s := rerankScores[i]; !math.IsNaN(float64(s)) {
			return s
		}
	}
	if math.IsNaN(float64(c.Score)) {
		return 0
	}
	return c.Score
}

// Why builds the rationale from the first skill tags, or "" when there are none.
func Why(skills []string) string {
	if len(skills) == 0 {
		return ""
	}
	if len(skills) > maxWhySkills {
		skills = skills[:maxWhySkills]
	}
	return "Covers: " + strings.Join(skills, ", ")
}

func toCard(c vectorstore.Candidate, score float32) ResultCard {
	skills := c.Skills()
	card := ResultCard{
		ResourceID: c.ResourceID(),
		Title:      c.Title(),
		URL:        c.URL(),
		Why:        Why(skills),
		Skills:     skills,
		Score:      score,
	}
	if d, ok := c.DurationMin(); ok {
		card.DurationMin = &d
	}
	return card
}
