package analysis

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// genericVariant is the fallback for unknown languages. It has no keyword
// table: identifier runs, numbers, quoted strings and C or shell style
// comments are recognised, everything else is punctuation.
type genericVariant struct{}

func (genericVariant) lex(src string) ([]lexeme, bool) {
	return scanGeneric(src, true), true
}

func scanGeneric(src string, comments bool) []lexeme {
	var out []lexeme
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case comments && strings.HasPrefix(src[i:], "//"):
			end := lineEnd(src, i)
			out = append(out, lexeme{text: src[i+2 : end], class: ClassComment})
			i = end
		case comments && strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				out = append(out, lexeme{text: src[i+2:], class: ClassComment})
				i = len(src)
				break
			}
			out = append(out, lexeme{text: src[i+2 : i+2+end], class: ClassComment})
			i += end + 4
		case comments && r == '#' && (i+1 == len(src) || src[i+1] == ' ' || src[i+1] == '!'):
			end := lineEnd(src, i)
			out = append(out, lexeme{text: src[i+1 : end], class: ClassComment})
			i = end
		case r == '"' || r == '\'' || r == '`':
			end := closingQuote(src, i+size, r)
			out = append(out, lexeme{text: src[i:end], class: ClassLiteral})
			i = end
		case unicode.IsDigit(r):
			j := i + size
			for j < len(src) {
				r2, s2 := utf8.DecodeRuneInString(src[j:])
				if !isIdentRune(r2) && r2 != '.' {
					break
				}
				j += s2
			}
			out = append(out, lexeme{text: src[i:j], class: ClassLiteral})
			i = j
		case isIdentStart(r):
			j := i + size
			for j < len(src) {
				r2, s2 := utf8.DecodeRuneInString(src[j:])
				if !isIdentRune(r2) {
					break
				}
				j += s2
			}
			out = append(out, lexeme{text: src[i:j], class: ClassIdentifier})
			i = j
		default:
			out = append(out, lexeme{text: string(r), class: ClassPunctuation})
			i += size
		}
	}
	return out
}

func lineEnd(src string, from int) int {
	if n := strings.IndexByte(src[from:], '\n'); n >= 0 {
		return from + n
	}
	return len(src)
}

// closingQuote returns the index just past the quote closing a string that
// starts at from. Unterminated strings end at the line end, backtick strings
// may span lines.
func closingQuote(src string, from int, quote rune) int {
	for i := from; i < len(src); {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case r == '\\':
			i += size
			if i < len(src) {
				_, s2 := utf8.DecodeRuneInString(src[i:])
				i += s2
			}
			continue
		case r == quote:
			return i + size
		case r == '\n' && quote != '`':
			return i
		}
		i += size
	}
	return len(src)
}
