// Package ranker scores candidate documents: field-weighted BM25 relevance
// plus a language-filter bonus and bounded popularity and recency signals.
package ranker

import (
	"math"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/config"
)

const (
	k1 = 1.2
	b  = 0.75
)

// ScoredDoc is a ranked hit. Segment and Ord locate the document in the
// snapshot it was scored against.
type ScoredDoc struct {
	DocID   uint64  `json:"doc_id"`
	Score   float64 `json:"score"`
	Segment int     `json:"-"`
	Ord     uint32  `json:"-"`
}

// Before reports whether a ranks ahead of b: higher score first, ties broken
// by ascending DocID.
func Before(a, b ScoredDoc) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.DocID < b.DocID
}

type RankParams struct {
	TotalDocs    int
	AvgDocLength float64
	// AsOf is the reference time for recency.
	AsOf time.Time
	// Languages is the query's language filter; matching documents get the
	// language bonus.
	Languages []string
}

// Match is one term of a clause found in a document.
type Match struct {
	Field     analysis.Field
	Frequency int
	DocFreq   int
	// Boost scales the term, below 1 for fuzzy expansions.
	Boost float64
}

type Ranker struct {
	cfg config.RankingConfig
}

func New(cfg config.RankingConfig) *Ranker {
	return &Ranker{cfg: cfg}
}

func (r *Ranker) FieldWeight(f analysis.Field) float64 {
	switch f {
	case analysis.FieldIdentifier:
		return r.cfg.IdentifierWeight
	case analysis.FieldKeyword:
		return r.cfg.KeywordWeight
	case analysis.FieldLiteral:
		return r.cfg.LiteralWeight
	case analysis.FieldComment:
		return r.cfg.CommentWeight
	default:
		return 0
	}
}

func (r *Ranker) FuzzyPenalty() float64 {
	return r.cfg.FuzzyPenalty
}

// TermScore is the weighted BM25 contribution of one matched term.
func (r *Ranker) TermScore(m Match, docLength int, params RankParams) float64 {
	boost := m.Boost
	if boost == 0 {
		boost = 1
	}
	idf := computeIDF(int64(params.TotalDocs), int64(m.DocFreq))
	tfNorm := computeTFNorm(float64(m.Frequency), float64(docLength), params.AvgDocLength)
	return r.FieldWeight(m.Field) * boost * idf * tfNorm
}

// Relevance sums clause scores. Within a clause each field counts once, at
// its best matching term, so the verbatim and folded spellings of one
// identifier are not double counted.
func (r *Ranker) Relevance(clauses [][]Match, docLength int, params RankParams) float64 {
	var total float64
	for _, matches := range clauses {
		best := make(map[analysis.Field]float64, len(analysis.Fields))
		for _, m := range matches {
			if s := r.TermScore(m, docLength, params); s > best[m.Field] {
				best[m.Field] = s
			}
		}
		for _, s := range best {
			total += s
		}
	}
	return total
}

// Popularity maps a source score onto [0, PopularityWeight). It grows with
// log(1+score) and saturates, so popularity can reorder close matches but
// never outweighs a clearly better text match.
func (r *Ranker) Popularity(score float64) float64 {
	if score <= 0 {
		return 0
	}
	x := math.Log1p(score)
	return r.cfg.PopularityWeight * x / (1 + x)
}

// Recency halves every RecencyHalfLife of age relative to asOf.
func (r *Ranker) Recency(fetchedAt, asOf time.Time) float64 {
	if fetchedAt.IsZero() || r.cfg.RecencyHalfLife <= 0 {
		return 0
	}
	age := asOf.Sub(fetchedAt)
	if age < 0 {
		age = 0
	}
	return r.cfg.RecencyWeight * math.Exp2(-float64(age)/float64(r.cfg.RecencyHalfLife))
}

// Proximity rewards query words found next to each other in query order,
// as in "parse json" against parse_json.
func (r *Ranker) Proximity(adjacentPairs int) float64 {
	return r.cfg.ProximityWeight * float64(adjacentPairs)
}

func (r *Ranker) LanguageBonus(doc *index.Document, languages []string) float64 {
	for _, l := range languages {
		if doc.Language == l {
			return r.cfg.LanguageBonus
		}
	}
	return 0
}

// Score combines relevance with the document signals and rounds to four
// decimals so equal inputs give bit-identical scores for cursor comparison.
func (r *Ranker) Score(relevance float64, doc *index.Document, params RankParams) float64 {
	s := relevance +
		r.LanguageBonus(doc, params.Languages) +
		r.Popularity(doc.Score) +
		r.Recency(doc.FetchedAt, params.AsOf)
	return Round(s)
}

func Round(score float64) float64 {
	return math.Round(score*10000) / 10000
}

// computeIDF is the BM25 idf with the +1 inside the log, positive even for
// terms present in every document.
func computeIDF(totalDocs int64, docFreq int64) float64 {
	if docFreq > totalDocs {
		totalDocs = docFreq
	}
	numerator := float64(totalDocs) - float64(docFreq) + 0.5
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq float64, docLength float64, avgDocLength float64) float64 {
	if termFreq == 0 {
		return 0
	}
	if avgDocLength == 0 {
		avgDocLength = 1
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}
