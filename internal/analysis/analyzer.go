// Package analysis turns snippet text into field-qualified index terms. It
// understands code: identifiers are kept verbatim and also split into their
// camelCase and snake_case parts, string and number literals go to a separate
// literal field, and comments are stemmed like prose into a comment field.
//
// The tokenizer variant is chosen from a fixed table keyed by canonical
// language: tree-sitter grammars where one is linked in, chroma lexers for
// other known languages, and a generic punctuation-based scanner otherwise.
package analysis

import (
	"strings"
	"unicode/utf8"
)

// Class is the lexical class of a token.
type Class uint8

const (
	ClassIdentifier Class = iota + 1
	ClassKeyword
	ClassLiteral
	ClassComment
	ClassPunctuation
)

func (c Class) String() string {
	switch c {
	case ClassIdentifier:
		return "identifier"
	case ClassKeyword:
		return "keyword"
	case ClassLiteral:
		return "literal"
	case ClassComment:
		return "comment"
	case ClassPunctuation:
		return "punctuation"
	default:
		return "unknown"
	}
}

// Field is the index field a term belongs to. It is the first byte of every
// term key.
type Field byte

const (
	FieldIdentifier Field = 'i'
	FieldKeyword    Field = 'k'
	FieldLiteral    Field = 'l'
	FieldComment    Field = 'c'
)

// Fields lists the indexed fields in descending ranking priority.
var Fields = []Field{FieldIdentifier, FieldKeyword, FieldLiteral, FieldComment}

func (f Field) String() string {
	switch f {
	case FieldIdentifier:
		return "identifier"
	case FieldKeyword:
		return "keyword"
	case FieldLiteral:
		return "literal"
	case FieldComment:
		return "comment"
	default:
		return "unknown"
	}
}

// Key builds the term key for text in field f.
func Key(f Field, text string) string {
	return string(f) + ":" + text
}

// FieldOf returns the field encoded in a term key, or 0 for punctuation and
// malformed keys.
func FieldOf(term string) Field {
	if len(term) < 2 || term[1] != ':' {
		return 0
	}
	switch f := Field(term[0]); f {
	case FieldIdentifier, FieldKeyword, FieldLiteral, FieldComment:
		return f
	}
	return 0
}

// Text strips the field prefix from a term key.
func Text(term string) string {
	if FieldOf(term) == 0 {
		return term
	}
	return term[2:]
}

// Token is one analyzed unit. Term is a field-qualified key for indexable
// classes and the raw text for punctuation. Several tokens may share a
// position: the verbatim, folded and compact forms of one identifier do.
// Primary marks the one canonical token of each source unit (the folded
// identifier, or the keyword, literal word, comment word or punctuation
// itself); alternate spellings and sub-tokens are not primary.
type Token struct {
	Term     string
	Position int
	Class    Class
	Primary  bool
}

// Indexable reports whether the token produces a posting.
func (t Token) Indexable() bool {
	return t.Class != ClassPunctuation
}

// lexeme is what a variant produces before field expansion.
type lexeme struct {
	text  string
	class Class
}

type variant interface {
	lex(src string) ([]lexeme, bool)
}

// Analyze tokenizes text with the variant registered for language. The result
// depends only on its inputs. Invalid UTF-8 or NUL bytes yield no tokens.
func Analyze(text, language string) []Token {
	if text == "" || !utf8.ValidString(text) || strings.IndexByte(text, 0) >= 0 {
		return nil
	}
	lang := Canonical(language)
	for _, v := range variantsFor(lang) {
		if lexemes, ok := v.lex(text); ok {
			return emit(lexemes)
		}
	}
	lexemes, _ := genericVariant{}.lex(text)
	return emit(lexemes)
}

// Variant names the tokenizer variant used for language.
func Variant(language string) string {
	lang := Canonical(language)
	if _, ok := treeSitterGrammars[lang]; ok {
		return "tree-sitter"
	}
	if chromaLexer(lang) != nil {
		return "lexer"
	}
	return "generic"
}

func variantsFor(lang string) []variant {
	var out []variant
	if g, ok := treeSitterGrammars[lang]; ok {
		out = append(out, g)
	}
	if l := chromaLexer(lang); l != nil {
		out = append(out, chromaVariant{lexer: l})
	}
	return out
}

// emit expands lexemes into positioned tokens.
func emit(lexemes []lexeme) []Token {
	e := emitter{seen: make(map[string]int)}
	for _, lx := range lexemes {
		switch lx.class {
		case ClassIdentifier:
			e.identifier(lx.text)
		case ClassKeyword:
			for _, w := range words(lx.text) {
				e.primary(e.add(Key(FieldKeyword, fold(w)), e.pos, ClassKeyword))
				e.pos++
			}
		case ClassLiteral:
			for _, w := range words(lx.text) {
				e.primary(e.add(Key(FieldLiteral, fold(w)), e.pos, ClassLiteral))
				e.pos++
			}
		case ClassComment:
			for _, w := range words(lx.text) {
				if s, ok := stemWord(fold(w)); ok {
					e.primary(e.add(Key(FieldComment, s), e.pos, ClassComment))
					e.pos++
				}
			}
		case ClassPunctuation:
			if t := strings.TrimSpace(lx.text); t != "" {
				e.tokens = append(e.tokens, Token{Term: t, Position: e.pos, Class: ClassPunctuation, Primary: true})
			}
		}
	}
	return e.tokens
}

type emitter struct {
	tokens []Token
	pos    int
	// seen maps term to the index of its latest token, so the folded form of
	// an already-lowercase identifier is not emitted twice.
	seen map[string]int
}

// add appends a token unless the same term was already emitted at pos, and
// returns the index of the token carrying it.
func (e *emitter) add(term string, pos int, class Class) int {
	if idx, ok := e.seen[term]; ok && e.tokens[idx].Position == pos {
		return idx
	}
	e.seen[term] = len(e.tokens)
	e.tokens = append(e.tokens, Token{Term: term, Position: pos, Class: class})
	return len(e.tokens) - 1
}

func (e *emitter) primary(idx int) {
	e.tokens[idx].Primary = true
}

func (e *emitter) identifier(raw string) {
	if raw == "" {
		return
	}
	start := e.pos
	folded := fold(raw)
	e.add(Key(FieldIdentifier, raw), start, ClassIdentifier)
	e.primary(e.add(Key(FieldIdentifier, folded), start, ClassIdentifier))
	if c := compact(folded); c != "" {
		e.add(Key(FieldIdentifier, c), start, ClassIdentifier)
	}
	parts := SplitIdentifier(raw)
	if len(parts) > 1 {
		for i, p := range parts {
			e.add(Key(FieldIdentifier, fold(p)), start+i, ClassIdentifier)
		}
		e.pos = start + len(parts)
		return
	}
	e.pos = start + 1
}

func fold(s string) string {
	return strings.ToLower(s)
}

// words splits literal and comment text into letter/digit runs.
func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !isWordRune(r)
	})
}
