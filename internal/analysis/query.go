package analysis

import "strings"

// Expand maps one query word onto the term keys it can match in any field.
// Identifiers match verbatim, case-folded or compacted; comment matches go
// through the same stemmer as indexing. Duplicates are removed and order
// follows field priority.
func Expand(word string) []string {
	word = strings.TrimSpace(word)
	if word == "" {
		return nil
	}
	folded := fold(word)
	out := make([]string, 0, 6)
	seen := make(map[string]struct{}, 6)
	add := func(term string) {
		if _, dup := seen[term]; dup {
			return
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	add(Key(FieldIdentifier, word))
	add(Key(FieldIdentifier, folded))
	if c := compact(folded); c != "" {
		add(Key(FieldIdentifier, c))
	}
	add(Key(FieldKeyword, folded))
	add(Key(FieldLiteral, folded))
	if s, ok := stemWord(folded); ok {
		add(Key(FieldComment, s))
	}
	return out
}

// QueryWords splits free text (a phrase body, a bare query word with
// punctuation) into the words Expand accepts. Identifier characters are kept
// together so "parse_json" stays one word while "json.loads" becomes two.
func QueryWords(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !isIdentRune(r)
	})
}
