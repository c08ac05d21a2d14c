package analysis

import (
	"github.com/kljensen/snowball/english"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// stemWord reduces a folded comment word to its snowball stem. Stop words and
// single characters are dropped.
func stemWord(w string) (string, bool) {
	if len(w) < 2 {
		return "", false
	}
	if _, stop := stopWords[w]; stop {
		return "", false
	}
	s := english.Stem(w, false)
	if s == "" {
		return "", false
	}
	return s, true
}
