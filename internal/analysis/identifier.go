package analysis

import (
	"strings"
	"unicode"
)

// SplitIdentifier breaks an identifier into its camelCase, PascalCase,
// snake_case and kebab-case parts, keeping acronyms together:
// "parseJSONValue" -> [parse JSON Value], "HTTP_server2" -> [HTTP server 2].
// Identifiers with a single part return that part.
func SplitIdentifier(ident string) []string {
	var parts []string
	for _, chunk := range strings.FieldsFunc(ident, func(r rune) bool {
		return r == '_' || r == '$' || r == '-'
	}) {
		parts = append(parts, splitCase(chunk)...)
	}
	return parts
}

func splitCase(s string) []string {
	runes := []rune(s)
	if len(runes) == 0 {
		return nil
	}
	var parts []string
	start := 0
	for i := 1; i < len(runes); i++ {
		prev, cur := runes[i-1], runes[i]
		boundary := false
		switch {
		case unicode.IsLower(prev) && unicode.IsUpper(cur):
			boundary = true
		case unicode.IsUpper(prev) && unicode.IsUpper(cur) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			boundary = true
		case unicode.IsDigit(prev) != unicode.IsDigit(cur):
			boundary = true
		}
		if boundary {
			parts = append(parts, string(runes[start:i]))
			start = i
		}
	}
	return append(parts, string(runes[start:]))
}

// compact drops separators from a folded identifier so parse_json and
// parseJson meet at "parsejson". It returns "" when nothing remains.
func compact(folded string) string {
	return strings.Map(func(r rune) rune {
		if r == '_' || r == '$' || r == '-' {
			return -1
		}
		return r
	}, folded)
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '$'
}

func isIdentRune(r rune) bool {
	return isIdentStart(r) || unicode.IsDigit(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
