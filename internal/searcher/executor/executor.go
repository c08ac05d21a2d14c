// Package executor runs parsed queries against an index snapshot: it
// resolves clauses to term keys, merges posting lists across segments,
// applies filters before scoring and pages through ranked hits.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sahilm/fuzzy"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/merger"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/config"
)

const (
	maxPrefixExpansions = 256
	summaryBytes        = 160
)

// Source hands out refcounted snapshots. *indexer.Manager implements it.
type Source interface {
	Acquire() *index.Snapshot
}

type Request struct {
	Query   string
	Filters index.Filters
	Cursor  string
	Limit   int
}

type Hit struct {
	DocID      uint64             `json:"doc_id"`
	SnippetID  string             `json:"snippet_id"`
	Score      float64            `json:"score"`
	Summary    string             `json:"summary"`
	Language   string             `json:"language,omitempty"`
	SourceKind snippet.SourceKind `json:"source_kind,omitempty"`
	SourceURL  string             `json:"source_url,omitempty"`
}

type Page struct {
	Query       string   `json:"query"`
	Results     []Hit    `json:"results"`
	NextCursor  string   `json:"next_cursor,omitempty"`
	TotalHits   int      `json:"total_hits"`
	Degraded    bool     `json:"degraded"`
	Quarantined []uint64 `json:"quarantined_segments,omitempty"`
	Generation  uint64   `json:"generation"`
}

type Executor struct {
	source Source
	ranker *ranker.Ranker
	cfg    config.SearchConfig
	logger *slog.Logger
	now    func() time.Time
}

func New(source Source, rankCfg config.RankingConfig, searchCfg config.SearchConfig) *Executor {
	return &Executor{
		source: source,
		ranker: ranker.New(rankCfg),
		cfg:    searchCfg,
		logger: slog.Default().With("component", "query-executor"),
		now:    time.Now,
	}
}

// Search parses req.Query and executes it.
func (e *Executor) Search(ctx context.Context, req Request) (*Page, error) {
	plan, err := parser.Parse(req.Query, e.cfg.MaxClauses)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, plan, req)
}

// Limit clamps a requested page size to the configured bounds.
func (e *Executor) Limit(requested int) int {
	if requested <= 0 {
		requested = e.cfg.DefaultLimit
	}
	if e.cfg.MaxResults > 0 && requested > e.cfg.MaxResults {
		requested = e.cfg.MaxResults
	}
	return max(requested, 1)
}

// alt is one term key a clause word may match, with its score boost.
type alt struct {
	key   string
	boost float64
}

// resolved is a clause with each word mapped to its alternatives.
type resolved struct {
	parser.Clause
	words [][]alt
}

// segmentPostings holds the postings fetched from one segment by term key.
type segmentPostings map[string]index.PostingList

// Execute runs plan over a snapshot taken at call time. req.Query is only
// echoed; filters from the plan and req.Filters both apply.
func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan, req Request) (*Page, error) {
	var after *ranker.ScoredDoc
	asOf := e.now().UTC().Truncate(time.Second)
	if req.Cursor != "" {
		c, err := DecodeCursor(req.Cursor)
		if err != nil {
			return nil, err
		}
		after, asOf = c.position(), c.AsOf
	}
	filters := index.Filters{
		Languages:   append(slices.Clone(plan.Filters.Languages), req.Filters.Languages...),
		SourceKinds: append(slices.Clone(plan.Filters.SourceKinds), req.Filters.SourceKinds...),
		Tags:        append(slices.Clone(plan.Filters.Tags), req.Filters.Tags...),
	}.Normalize()
	limit := e.Limit(req.Limit)

	snap := e.source.Acquire()
	defer snap.Release()

	clauses := e.resolve(snap, plan)
	params := ranker.RankParams{
		TotalDocs:    snap.LiveDocs,
		AvgDocLength: snap.AvgDocLength(),
		AsOf:         asOf,
		Languages:    filters.Languages,
	}

	// Pass one fetches postings and counts live document frequencies across
	// the whole snapshot, so idf does not depend on segment boundaries.
	keys := uniqueKeys(clauses)
	perSegment := make([]segmentPostings, len(snap.Segments))
	docFreq := make(map[string]int, len(keys))
	var skipped []uint64
	for i, seg := range snap.Segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sp, err := fetch(seg, keys)
		if err != nil {
			e.logger.Warn("segment excluded from query", "segment_id", seg.View.ID(), "error", err)
			skipped = append(skipped, seg.View.ID())
			continue
		}
		perSegment[i] = sp
		for key, pl := range sp {
			for _, p := range pl {
				if seg.Live(p.Ord) {
					docFreq[key]++
				}
			}
		}
	}

	top := merger.New(limit, after)
	total := 0
	for i, seg := range snap.Segments {
		if perSegment[i] == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := e.scoreSegment(ctx, i, seg, perSegment[i], clauses, plan, filters, docFreq, params, top)
		if err != nil {
			return nil, err
		}
		total += n
	}

	ranked := top.Results()
	page := &Page{
		Query:       req.Query,
		Results:     make([]Hit, 0, len(ranked)),
		TotalHits:   total,
		Quarantined: append(slices.Clone(snap.Quarantined), skipped...),
		Generation:  snap.Generation,
	}
	page.Degraded = len(page.Quarantined) > 0
	for _, r := range ranked {
		doc, err := snap.Segments[r.Segment].View.Document(r.Ord)
		if err != nil {
			return nil, fmt.Errorf("loading document %d: %w", r.DocID, err)
		}
		page.Results = append(page.Results, Hit{
			DocID:      r.DocID,
			SnippetID:  doc.ID,
			Score:      r.Score,
			Summary:    doc.Summary(summaryBytes),
			Language:   doc.Language,
			SourceKind: doc.SourceKind,
			SourceURL:  doc.SourceURL,
		})
	}
	if top.More() && len(ranked) > 0 {
		last := ranked[len(ranked)-1]
		page.NextCursor = Cursor{Score: last.Score, DocID: last.DocID, AsOf: asOf}.Encode()
	}

	e.logger.Info("query executed",
		"query", plan.RawQuery,
		"clauses", len(plan.Clauses),
		"candidates", total,
		"results", len(page.Results),
		"generation", snap.Generation,
		"degraded", page.Degraded,
	)
	return page, nil
}

// scoreSegment offers the segment's matching live documents to top and
// returns how many matched.
func (e *Executor) scoreSegment(
	ctx context.Context,
	segIdx int,
	seg index.Segment,
	postings segmentPostings,
	clauses []resolved,
	plan *parser.QueryPlan,
	filters index.Filters,
	docFreq map[string]int,
	params ranker.RankParams,
	top *merger.TopK,
) (int, error) {
	var must, should, mustNot [][]uint32
	haveMust := false
	for _, c := range clauses {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		ords := clauseOrds(c, postings)
		switch c.Occur {
		case parser.Must:
			must, haveMust = append(must, ords), true
		case parser.Should:
			should = append(should, ords)
		case parser.MustNot:
			mustNot = append(mustNot, ords)
		}
	}

	var candidates []uint32
	switch {
	case haveMust:
		candidates = must[0]
		for _, ords := range must[1:] {
			candidates = index.Intersect(candidates, ords)
		}
	case plan.Positive():
		candidates = index.Union(should...)
	default:
		candidates = make([]uint32, seg.View.DocCount())
		for i := range candidates {
			candidates[i] = uint32(i)
		}
	}
	if allowed := seg.View.Allowed(filters); allowed != nil {
		candidates = index.Intersect(candidates, allowed.ToArray())
	}
	if len(mustNot) > 0 {
		candidates = index.Subtract(candidates, index.Union(mustNot...))
	}

	// pairs indexes consecutive scoring term clauses for the proximity bonus.
	var pairs []int
	for i := 0; i+1 < len(clauses); i++ {
		if isScoringTerm(clauses[i]) && isScoringTerm(clauses[i+1]) {
			pairs = append(pairs, i)
		}
	}

	matched := 0
	matches := make([][]ranker.Match, 0, len(clauses))
	for _, ord := range candidates {
		if !seg.Live(ord) {
			continue
		}
		doc, err := seg.View.Document(ord)
		if err != nil {
			e.logger.Warn("skipping unreadable document", "segment_id", seg.View.ID(), "ord", ord, "error", err)
			continue
		}
		matched++
		matches = matches[:0]
		for _, c := range clauses {
			if c.Occur == parser.MustNot {
				continue
			}
			matches = append(matches, clauseMatches(c, postings, ord, docFreq)...)
		}
		relevance := e.ranker.Relevance(matches, seg.View.DocLength(ord), params)
		if len(matches) > 1 {
			adjacent := 0
			for _, i := range pairs {
				if phraseAt([][]alt{clauses[i].words[0], clauses[i+1].words[0]}, postings, ord) {
					adjacent++
				}
			}
			relevance += e.ranker.Proximity(adjacent)
		}
		top.Offer(ranker.ScoredDoc{
			DocID:   doc.DocID,
			Score:   e.ranker.Score(relevance, doc, params),
			Segment: segIdx,
			Ord:     ord,
		})
	}
	return matched, nil
}

// resolve maps every clause word to term keys. Prefix and fuzzy clauses are
// expanded against the snapshot's dictionaries.
func (e *Executor) resolve(snap *index.Snapshot, plan *parser.QueryPlan) []resolved {
	out := make([]resolved, 0, len(plan.Clauses))
	for _, c := range plan.Clauses {
		r := resolved{Clause: c}
		switch c.Kind {
		case parser.Prefix:
			r.words = [][]alt{e.prefixAlts(snap, c.Words[0])}
		case parser.Fuzzy:
			r.words = [][]alt{e.fuzzyAlts(snap, c.Words[0])}
		default:
			for _, w := range c.Words {
				r.words = append(r.words, exactAlts(w))
			}
		}
		out = append(out, r)
	}
	return out
}

func isScoringTerm(c resolved) bool {
	return c.Kind == parser.Term && c.Occur != parser.MustNot
}

func exactAlts(word string) []alt {
	keys := analysis.Expand(word)
	out := make([]alt, len(keys))
	for i, k := range keys {
		out[i] = alt{key: k, boost: 1}
	}
	return out
}

func (e *Executor) prefixAlts(snap *index.Snapshot, word string) []alt {
	folded := strings.ToLower(word)
	seen := make(map[string]struct{})
	for _, f := range analysis.Fields {
		prefix := analysis.Key(f, folded)
		for _, seg := range snap.Segments {
			for _, term := range seg.View.TermsWithPrefix(prefix) {
				seen[term] = struct{}{}
			}
		}
	}
	terms := make([]string, 0, len(seen))
	for t := range seen {
		terms = append(terms, t)
	}
	slices.Sort(terms)
	if len(terms) > maxPrefixExpansions {
		e.logger.Debug("prefix expansion truncated", "prefix", word, "terms", len(terms))
		terms = terms[:maxPrefixExpansions]
	}
	out := make([]alt, len(terms))
	for i, t := range terms {
		out[i] = alt{key: t, boost: 1}
	}
	return out
}

// fuzzyAlts keeps the exact spellings of word and adds the dictionary
// identifiers and keywords that best match it as a subsequence, sharing its
// first letter and at most a few characters longer.
func (e *Executor) fuzzyAlts(snap *index.Snapshot, word string) []alt {
	out := exactAlts(word)
	folded := strings.ToLower(word)
	first, _ := utf8.DecodeRuneInString(folded)
	limit := e.cfg.FuzzyExpansions
	if limit <= 0 {
		return out
	}
	seen := make(map[string]struct{})
	for _, a := range out {
		seen[a.key] = struct{}{}
	}
	for _, f := range []analysis.Field{analysis.FieldIdentifier, analysis.FieldKeyword} {
		dict := make(map[string]struct{})
		for _, seg := range snap.Segments {
			for _, term := range seg.View.TermsWithPrefix(analysis.Key(f, string(first))) {
				text := analysis.Text(term)
				if len(text) <= len(folded)+3 && text == strings.ToLower(text) {
					dict[text] = struct{}{}
				}
			}
		}
		words := make([]string, 0, len(dict))
		for w := range dict {
			words = append(words, w)
		}
		slices.Sort(words)
		added := 0
		for _, m := range fuzzy.Find(folded, words) {
			key := analysis.Key(f, m.Str)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, alt{key: key, boost: e.ranker.FuzzyPenalty()})
			if added++; added >= limit {
				break
			}
		}
	}
	return out
}

func uniqueKeys(clauses []resolved) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, c := range clauses {
		for _, alts := range c.words {
			for _, a := range alts {
				if _, ok := seen[a.key]; !ok {
					seen[a.key] = struct{}{}
					keys = append(keys, a.key)
				}
			}
		}
	}
	return keys
}

func fetch(seg index.Segment, keys []string) (segmentPostings, error) {
	sp := make(segmentPostings, len(keys))
	for _, key := range keys {
		pl, err := seg.View.Postings(key)
		if err != nil {
			return nil, fmt.Errorf("reading postings for %q: %w", key, err)
		}
		if len(pl) > 0 {
			sp[key] = pl
		}
	}
	return sp, nil
}

// wordOrds is the sorted union of ordinals matching any alternative.
func wordOrds(alts []alt, postings segmentPostings) []uint32 {
	lists := make([][]uint32, 0, len(alts))
	for _, a := range alts {
		if pl, ok := postings[a.key]; ok {
			lists = append(lists, index.Ords(pl))
		}
	}
	return index.Union(lists...)
}

// clauseOrds returns the sorted ordinals matching the clause.
func clauseOrds(c resolved, postings segmentPostings) []uint32 {
	if len(c.words) == 0 {
		return nil
	}
	ords := wordOrds(c.words[0], postings)
	if c.Kind != parser.Phrase {
		return ords
	}
	for _, alts := range c.words[1:] {
		ords = index.Intersect(ords, wordOrds(alts, postings))
	}
	if len(c.words) == 1 {
		return ords
	}
	out := ords[:0:0]
	for _, ord := range ords {
		if phraseAt(c.words, postings, ord) {
			out = append(out, ord)
		}
	}
	return out
}

// phraseAt reports whether the words occur at consecutive positions in ord.
func phraseAt(words [][]alt, postings segmentPostings, ord uint32) bool {
	positions := make([]map[int]struct{}, len(words))
	for i, alts := range words {
		positions[i] = make(map[int]struct{})
		for _, a := range alts {
			if p, ok := postings[a.key].Find(ord); ok {
				for _, pos := range p.Positions {
					positions[i][pos] = struct{}{}
				}
			}
		}
	}
	for start := range positions[0] {
		ok := true
		for i := 1; i < len(words); i++ {
			if _, hit := positions[i][start+i]; !hit {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

// clauseMatches lists, per clause word, the terms present in ord. Each word
// of a phrase scores on its own.
func clauseMatches(c resolved, postings segmentPostings, ord uint32, docFreq map[string]int) [][]ranker.Match {
	var out [][]ranker.Match
	for _, alts := range c.words {
		var word []ranker.Match
		for _, a := range alts {
			p, ok := postings[a.key].Find(ord)
			if !ok {
				continue
			}
			word = append(word, ranker.Match{
				Field:     analysis.FieldOf(a.key),
				Frequency: p.Frequency,
				DocFreq:   docFreq[a.key],
				Boost:     a.boost,
			})
		}
		if len(word) > 0 {
			out = append(out, word)
		}
	}
	return out
}
