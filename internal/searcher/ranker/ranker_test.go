package ranker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/config"
)

func testRanker() *Ranker {
	return New(config.Default().Ranking)
}

var params = RankParams{TotalDocs: 100, AvgDocLength: 10, AsOf: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

func TestFieldPriority(t *testing.T) {
	r := testRanker()
	score := func(f analysis.Field) float64 {
		return r.TermScore(Match{Field: f, Frequency: 1, DocFreq: 5}, 10, params)
	}
	assert.Greater(t, score(analysis.FieldIdentifier), score(analysis.FieldKeyword))
	assert.Greater(t, score(analysis.FieldKeyword), score(analysis.FieldLiteral))
	assert.Greater(t, score(analysis.FieldKeyword), score(analysis.FieldComment))
}

func TestIDFIsPositive(t *testing.T) {
	assert.Greater(t, computeIDF(10, 10), 0.0)
	assert.Greater(t, computeIDF(10, 1), computeIDF(10, 9))
	assert.Greater(t, computeIDF(1, 3), 0.0)
}

func TestTFNorm(t *testing.T) {
	assert.Equal(t, 0.0, computeTFNorm(0, 10, 10))
	assert.Greater(t, computeTFNorm(3, 10, 10), computeTFNorm(1, 10, 10))
	assert.Greater(t, computeTFNorm(1, 5, 10), computeTFNorm(1, 20, 10))
	assert.Greater(t, computeTFNorm(1, 5, 0), 0.0)
}

func TestRelevanceCountsEachFieldOncePerClause(t *testing.T) {
	r := testRanker()
	one := Match{Field: analysis.FieldIdentifier, Frequency: 1, DocFreq: 5}
	single := r.Relevance([][]Match{{one}}, 10, params)
	twice := r.Relevance([][]Match{{one, one}}, 10, params)
	assert.Equal(t, single, twice)

	withComment := r.Relevance([][]Match{{one, {Field: analysis.FieldComment, Frequency: 1, DocFreq: 5}}}, 10, params)
	assert.Greater(t, withComment, single)

	twoClauses := r.Relevance([][]Match{{one}, {one}}, 10, params)
	assert.InDelta(t, 2*single, twoClauses, 1e-9)
}

func TestFuzzyBoostLowersScore(t *testing.T) {
	r := testRanker()
	exact := r.TermScore(Match{Field: analysis.FieldIdentifier, Frequency: 1, DocFreq: 5}, 10, params)
	fuzzy := r.TermScore(Match{Field: analysis.FieldIdentifier, Frequency: 1, DocFreq: 5, Boost: r.FuzzyPenalty()}, 10, params)
	assert.Less(t, fuzzy, exact)
}

func TestPopularityIsMonotonicAndBounded(t *testing.T) {
	r := testRanker()
	assert.Equal(t, 0.0, r.Popularity(0))
	assert.Equal(t, 0.0, r.Popularity(-4))
	prev := 0.0
	for _, s := range []float64{1, 10, 100, 1e6} {
		p := r.Popularity(s)
		assert.Greater(t, p, prev)
		assert.Less(t, p, config.Default().Ranking.PopularityWeight)
		prev = p
	}
}

func TestRecencyDecays(t *testing.T) {
	r := testRanker()
	half := config.Default().Ranking.RecencyHalfLife
	fresh := r.Recency(params.AsOf, params.AsOf)
	old := r.Recency(params.AsOf.Add(-half), params.AsOf)
	assert.InDelta(t, config.Default().Ranking.RecencyWeight, fresh, 1e-9)
	assert.InDelta(t, fresh/2, old, 1e-9)
	assert.Equal(t, fresh, r.Recency(params.AsOf.Add(time.Hour), params.AsOf))
	assert.Equal(t, 0.0, r.Recency(time.Time{}, params.AsOf))
}

func TestScoreMonotonicInSourceScore(t *testing.T) {
	r := testRanker()
	doc := func(score float64) *index.Document {
		return &index.Document{Record: snippet.Record{Language: "go", Score: score, FetchedAt: params.AsOf}}
	}
	assert.Greater(t, r.Score(1.5, doc(50), params), r.Score(1.5, doc(5), params))
	assert.GreaterOrEqual(t, r.Score(1.5, doc(5), params), r.Score(1.5, doc(5), params))
}

func TestLanguageBonus(t *testing.T) {
	r := testRanker()
	doc := &index.Document{Record: snippet.Record{Language: "go"}}
	p := params
	p.Languages = []string{"go"}
	assert.Greater(t, r.Score(1, doc, p), r.Score(1, doc, params))
}

func TestBefore(t *testing.T) {
	assert.True(t, Before(ScoredDoc{DocID: 9, Score: 2}, ScoredDoc{DocID: 1, Score: 1}))
	assert.True(t, Before(ScoredDoc{DocID: 1, Score: 1}, ScoredDoc{DocID: 2, Score: 1}))
	assert.False(t, Before(ScoredDoc{DocID: 2, Score: 1}, ScoredDoc{DocID: 2, Score: 1}))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.2346, Round(1.23456))
}
