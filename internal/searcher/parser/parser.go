// Package parser turns a query string into a QueryPlan: term, phrase, prefix
// and fuzzy clauses with required/optional/excluded occurrence, plus inline
// metadata filters.
package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/analysis"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/snippet"
	apperrors "github.com/Adithya-Monish-Kumar-K/snippet-search/pkg/errors"
)

// DefaultMaxClauses applies when Parse is given a non-positive limit.
const DefaultMaxClauses = 32

type Occur int

const (
	Should Occur = iota
	Must
	MustNot
)

func (o Occur) String() string {
	switch o {
	case Must:
		return "+"
	case MustNot:
		return "-"
	default:
		return ""
	}
}

type Kind int

const (
	Term Kind = iota
	Phrase
	Prefix
	Fuzzy
)

// Clause is one matching unit. Term, Prefix and Fuzzy clauses carry a single
// word; a Phrase carries its words in order.
type Clause struct {
	Kind  Kind
	Occur Occur
	Words []string
}

func (c Clause) String() string {
	switch c.Kind {
	case Phrase:
		return c.Occur.String() + `"` + strings.Join(c.Words, " ") + `"`
	case Prefix:
		return c.Occur.String() + c.Words[0] + "*"
	case Fuzzy:
		return c.Occur.String() + c.Words[0] + "~"
	default:
		return c.Occur.String() + c.Words[0]
	}
}

type QueryPlan struct {
	Clauses  []Clause
	Filters  index.Filters
	RawQuery string
}

// Positive reports whether any clause can contribute matches.
func (p *QueryPlan) Positive() bool {
	for _, c := range p.Clauses {
		if c.Occur != MustNot {
			return true
		}
	}
	return false
}

// HasRequired reports whether any clause is required.
func (p *QueryPlan) HasRequired() bool {
	for _, c := range p.Clauses {
		if c.Occur == Must {
			return true
		}
	}
	return false
}

// Normalized renders the plan canonically: clauses sorted, filters
// normalized. Plans that match the same documents with the same scores
// render the same.
func (p *QueryPlan) Normalized() string {
	clauses := make([]string, len(p.Clauses))
	for i, c := range p.Clauses {
		clauses[i] = c.String()
	}
	sort.Strings(clauses)
	f := p.Filters.Normalize()
	parts := []string{strings.Join(clauses, " ")}
	for _, l := range f.Languages {
		parts = append(parts, "lang:"+l)
	}
	for _, k := range f.SourceKinds {
		parts = append(parts, "source:"+string(k))
	}
	for _, t := range f.Tags {
		parts = append(parts, "tag:"+t)
	}
	return strings.Join(parts, "|")
}

type token struct {
	text   string
	pos    int
	quoted bool
}

// Parse builds a plan from query. Bare words are optional, "+word" and
// quoted phrases are required, "-word" and "NOT word" exclude. AND makes
// both of its operands and later bare words required until OR. Operators
// are recognised only in upper case so code words like "and" stay
// searchable.
func Parse(query string, maxClauses int) (*QueryPlan, error) {
	if maxClauses <= 0 {
		maxClauses = DefaultMaxClauses
	}
	fail := func(pos int, format string, args ...any) error {
		return &apperrors.QueryParseError{Query: query, Pos: pos, Reason: fmt.Sprintf(format, args...)}
	}
	tokens, err := lex(query, fail)
	if err != nil {
		return nil, err
	}

	plan := &QueryPlan{Clauses: make([]Clause, 0, len(tokens)), RawQuery: query}
	var required, negate, hasOperand bool
	negatePos := 0
	// pending is an AND/OR still waiting for its right operand.
	var pending *token
	// last holds the clause indexes of the previous operand so AND can
	// promote it.
	var last []int
	for _, tok := range tokens {
		if !tok.quoted {
			switch tok.text {
			case "AND", "OR":
				if !hasOperand || pending != nil || negate {
					return nil, fail(tok.pos, "dangling operator %s", tok.text)
				}
				pending = &tok
				required = tok.text == "AND"
				if required {
					for _, i := range last {
						if plan.Clauses[i].Occur == Should {
							plan.Clauses[i].Occur = Must
						}
					}
				}
				continue
			case "NOT":
				if negate {
					return nil, fail(tok.pos, "dangling operator NOT")
				}
				negate, negatePos = true, tok.pos
				continue
			}
		}

		occur := Should
		if required {
			occur = Must
		}
		if negate {
			occur = MustNot
		}
		start := len(plan.Clauses)
		isFilter, err := parseOperand(plan, tok, occur, negate, fail)
		if err != nil {
			return nil, err
		}
		if !isFilter && len(plan.Clauses) == start && negate {
			// "NOT ==" has nothing to exclude.
			return nil, fail(negatePos, "dangling operator NOT")
		}
		last = last[:0]
		for i := start; i < len(plan.Clauses); i++ {
			last = append(last, i)
		}
		hasOperand = true
		pending = nil
		negate = false
		if len(plan.Clauses) > maxClauses {
			return nil, fail(tok.pos, "too many clauses (limit %d)", maxClauses)
		}
	}
	if negate {
		return nil, fail(negatePos, "dangling operator NOT")
	}
	if pending != nil {
		return nil, fail(pending.pos, "dangling operator %s", pending.text)
	}
	plan.Filters = plan.Filters.Normalize()
	return plan, nil
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

// lex splits query on whitespace, keeping quoted phrases (with an optional
// leading + or -) as single tokens.
func lex(query string, fail func(int, string, ...any) error) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(query) {
		if isSpace(query[i]) {
			i++
			continue
		}
		start := i
		if query[i] == '+' || query[i] == '-' {
			if i+1 < len(query) && query[i+1] == '"' {
				i++
			}
		}
		if query[i] == '"' {
			end := strings.IndexByte(query[i+1:], '"')
			if end < 0 {
				return nil, fail(i, "unbalanced quote")
			}
			i += end + 2
			tokens = append(tokens, token{text: query[start:i], pos: start, quoted: true})
			continue
		}
		for i < len(query) && !isSpace(query[i]) {
			if query[i] == '"' {
				return nil, fail(i, "unbalanced quote")
			}
			i++
		}
		tokens = append(tokens, token{text: query[start:i], pos: start})
	}
	return tokens, nil
}

// parseOperand appends the clauses for one token, or records a filter.
func parseOperand(plan *QueryPlan, tok token, occur Occur, negated bool, fail func(int, string, ...any) error) (bool, error) {
	text := tok.text
	switch text[0] {
	case '+':
		if occur != MustNot {
			occur = Must
		}
		text = text[1:]
	case '-':
		occur = MustNot
		text = text[1:]
	}
	if text == "" {
		return false, fail(tok.pos, "dangling operator %s", tok.text)
	}

	if tok.quoted {
		words := analysis.QueryWords(text[1 : len(text)-1])
		if len(words) == 0 {
			return false, fail(tok.pos, "empty phrase")
		}
		if occur == Should {
			occur = Must
		}
		plan.Clauses = append(plan.Clauses, Clause{Kind: Phrase, Occur: occur, Words: words})
		return false, nil
	}

	if key, value, ok := strings.Cut(text, ":"); ok && isFilterKey(key) {
		if negated || text != tok.text {
			return false, fail(tok.pos, "filter %s cannot be negated or required", key)
		}
		if value == "" {
			return false, fail(tok.pos, "empty filter value for %s", key)
		}
		switch strings.ToLower(key) {
		case "lang", "language":
			plan.Filters.Languages = append(plan.Filters.Languages, value)
		case "source":
			kind, err := snippet.ParseSourceKind(value)
			if err != nil {
				return false, fail(tok.pos, "unknown source kind %q", value)
			}
			plan.Filters.SourceKinds = append(plan.Filters.SourceKinds, kind)
		case "tag":
			plan.Filters.Tags = append(plan.Filters.Tags, value)
		}
		return true, nil
	}

	kind := Term
	switch {
	case strings.HasSuffix(text, "*"):
		kind, text = Prefix, strings.TrimSuffix(text, "*")
	case strings.HasSuffix(text, "~"):
		kind, text = Fuzzy, strings.TrimSuffix(text, "~")
	}
	words := analysis.QueryWords(text)
	if kind != Term {
		if len(words) == 0 {
			return false, fail(tok.pos, "dangling operator %s", tok.text[len(tok.text)-1:])
		}
		// Only the final word carries the wildcard; "json.lo*" is json
		// followed by the prefix lo.
		for _, w := range words[:len(words)-1] {
			plan.Clauses = append(plan.Clauses, Clause{Kind: Term, Occur: occur, Words: []string{w}})
		}
		plan.Clauses = append(plan.Clauses, Clause{Kind: kind, Occur: occur, Words: []string{words[len(words)-1]}})
		return false, nil
	}
	for _, w := range words {
		plan.Clauses = append(plan.Clauses, Clause{Kind: Term, Occur: occur, Words: []string{w}})
	}
	return false, nil
}

func isFilterKey(key string) bool {
	switch strings.ToLower(key) {
	case "lang", "language", "source", "tag":
		return true
	}
	return false
}
