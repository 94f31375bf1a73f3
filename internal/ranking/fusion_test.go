package ranking

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knoguchi/learnpath/internal/vectorstore"
)

func cand(id string, sim float32, skills ...string) vectorstore.Candidate {
	payload := map[string]any{
		"resource_id": id,
		"title":       "Title " + id,
		"url":         "https://example.com/" + id,
	}
	if len(skills) > 0 {
		list := make([]any, len(skills))
		for i, s := range skills {
			list[i] = s
		}
		payload["skills"] = list
	}
	return vectorstore.Candidate{ID: "pt-" + id, Payload: payload, Score: sim}
}

func ids(cards []ResultCard) []string {
	out := make([]string, len(cards))
	for i, c := range cards {
		out[i] = c.ResourceID
	}
	return out
}

// asCandidates turns cards back into candidates scored by the card score.
func asCandidates(cards []ResultCard) []vectorstore.Candidate {
	out := make([]vectorstore.Candidate, len(cards))
	for i, card := range cards {
		payload := map[string]any{vectorstore.PayloadResourceID: card.ResourceID}
		if card.Title != "" {
			payload[vectorstore.PayloadTitle] = card.Title
		}
		if card.URL != "" {
			payload[vectorstore.PayloadURL] = card.URL
		}
		if len(card.Skills) > 0 {
			payload[vectorstore.PayloadSkills] = card.Skills
		}
		if card.DurationMin != nil {
			payload[vectorstore.PayloadDurationMin] = *card.DurationMin
		}
		out[i] = vectorstore.Candidate{ID: card.ResourceID, Payload: payload, Score: card.Score}
	}
	return out
}

func TestFuse_SimilarityOnly(t *testing.T) {
	cards := Fuse([]vectorstore.Candidate{
		cand("a", 0.7),
		cand("b", 0.9),
		cand("c", 0.8),
	}, nil, DefaultLimit)

	assert.Equal(t, []string{"b", "c", "a"}, ids(cards))
	assert.Equal(t, float32(0.9), cards[0].Score)
	assert.Equal(t, float32(0.8), cards[1].Score)
	assert.Equal(t, float32(0.7), cards[2].Score)
}

func TestFuse_RerankPromotesLowerSimilarity(t *testing.T) {
	candidates := make([]vectorstore.Candidate, 20)
	for i := range candidates {
		candidates[i] = cand(fmt.Sprintf("r%02d", i), 0.9-float32(i)*0.01)
	}
	scores := make([]float32, 20)
	scores[17] = 10

	cards := Fuse(candidates, scores, DefaultLimit)
	require.Len(t, cards, 5)
	assert.Equal(t, "r17", cards[0].ResourceID)
	assert.Equal(t, float32(10), cards[0].Score)
}

func TestFuse_MissingRerankFallsBack(t *testing.T) {
	candidates := []vectorstore.Candidate{cand("a", 0.2), cand("b", 0.5), cand("c", 0.4)}
	scores := []float32{0.9, float32(math.NaN())}

	cards := Fuse(candidates, scores, DefaultLimit)
	assert.Equal(t, []string{"a", "b", "c"}, ids(cards))
	assert.Equal(t, []float32{0.9, 0.5, 0.4}, []float32{cards[0].Score, cards[1].Score, cards[2].Score})
}

func TestFuse_NaNSimilarityIsZero(t *testing.T) {
	cards := Fuse([]vectorstore.Candidate{cand("a", float32(math.NaN())), cand("b", -0.1)}, nil, DefaultLimit)
	assert.Equal(t, []string{"a", "b"}, ids(cards))
	assert.Equal(t, float32(0), cards[0].Score)
}

func TestFuse_StableTies(t *testing.T) {
	candidates := []vectorstore.Candidate{cand("first", 0.5), cand("second", 0.5), cand("third", 0.9), cand("fourth", 0.5)}
	cards := Fuse(candidates, nil, DefaultLimit)
	assert.Equal(t, []string{"third", "first", "second", "fourth"}, ids(cards))
}

func TestFuse_Truncation(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for n := 0; n <= 25; n++ {
		candidates := make([]vectorstore.Candidate, n)
		scores := make([]float32, n)
		for i := range candidates {
			candidates[i] = cand(fmt.Sprint(i), rng.Float32()*2-1)
			scores[i] = rng.Float32()*20 - 10
		}

		want := min(n, 5)
		assert.Len(t, Fuse(candidates, nil, DefaultLimit), want, "n=%d without rerank", n)
		assert.Len(t, Fuse(candidates, scores, DefaultLimit), want, "n=%d with rerank", n)
	}
}

func TestFuse_SortsBeforeTruncating(t *testing.T) {
	candidates := []vectorstore.Candidate{
		cand("a", 0.1), cand("b", 0.2), cand("c", 0.3), cand("d", 0.4),
		cand("e", 0.5), cand("f", 0.6), cand("g", 0.99),
	}
	cards := Fuse(candidates, nil, DefaultLimit)
	assert.Equal(t, []string{"g", "f", "e", "d", "c"}, ids(cards))
}

func TestFuse_Idempotent(t *testing.T) {
	candidates := []vectorstore.Candidate{
		cand("a", 0.3, "go"), cand("b", 0.8), cand("c", 0.8, "sql", "joins"),
		cand("d", 0.1), cand("e", 0.6), cand("f", 0.7),
	}
	first := Fuse(candidates, []float32{2, 1, 1, 0.5, 3, 0}, DefaultLimit)
	second := Fuse(asCandidates(first), nil, DefaultLimit)
	assert.Equal(t, first, second)
}

func TestFuse_NonPositiveLimitUsesDefault(t *testing.T) {
	candidates := make([]vectorstore.Candidate, 8)
	for i := range candidates {
		candidates[i] = cand(fmt.Sprint(i), 0.5)
	}
	assert.Len(t, Fuse(candidates, nil, 0), DefaultLimit)
}

func TestFuse_CardShape(t *testing.T) {
	c := cand("py101", 0.9, "python", "variables", "loops", "functions", "lists", "dicts")
	c.Payload["duration_min"] = int64(45)

	cards := Fuse([]vectorstore.Candidate{c}, nil, DefaultLimit)
	require.Len(t, cards, 1)

	card := cards[0]
	assert.Equal(t, "py101", card.ResourceID)
	assert.Equal(t, "Title py101", card.Title)
	assert.Equal(t, "https://example.com/py101", card.URL)
	assert.Equal(t, "Covers: python, variables, loops, functions, lists", card.Why)
	assert.Equal(t, []string{"python", "variables", "loops", "functions", "lists", "dicts"}, card.Skills)
	require.NotNil(t, card.DurationMin)
	assert.Equal(t, 45, *card.DurationMin)
}

func TestWhy(t *testing.T) {
	assert.Equal(t, "", Why(nil))
	assert.Equal(t, "Covers: go", Why([]string{"go"}))
}

func TestFinalScore(t *testing.T) {
	c := cand("a", 0.4)
	assert.Equal(t, float32(0.4), FinalScore(c, 0, nil))
	assert.Equal(t, float32(7), FinalScore(c, 0, []float32{7}))
	assert.Equal(t, float32(0.4), FinalScore(c, 1, []float32{7}))
}
