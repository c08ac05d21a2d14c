package analysis

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

// chromaVariant maps chroma token categories onto analysis classes for
// languages without a linked tree-sitter grammar.
type chromaVariant struct {
	lexer chroma.Lexer
}

func chromaLexer(lang string) chroma.Lexer {
	if lang == "" {
		return nil
	}
	return lexers.Get(lang)
}

func (v chromaVariant) lex(src string) ([]lexeme, bool) {
	it, err := v.lexer.Tokenise(nil, src)
	if err != nil {
		return nil, false
	}
	var out []lexeme
	for tok := it(); tok != chroma.EOF; tok = it() {
		switch t := tok.Type; {
		case t.InCategory(chroma.Comment):
			out = append(out, lexeme{text: tok.Value, class: ClassComment})
		case t.InCategory(chroma.Literal):
			out = append(out, lexeme{text: tok.Value, class: ClassLiteral})
		case t.InCategory(chroma.Keyword):
			out = append(out, lexeme{text: tok.Value, class: ClassKeyword})
		case t.InCategory(chroma.Name):
			// Names may carry sigils or dots (@decorator, pkg.Func).
			out = append(out, scanGeneric(tok.Value, false)...)
		case t.InCategory(chroma.Operator), t.InCategory(chroma.Punctuation):
			out = append(out, lexeme{text: tok.Value, class: ClassPunctuation})
		default:
			out = append(out, scanGeneric(tok.Value, false)...)
		}
	}
	return out, true
}

// DetectLanguage guesses the language of untagged code with chroma's
// analysers. It returns "" when no lexer claims the text.
func DetectLanguage(code string) string {
	l := lexers.Analyse(code)
	if l == nil {
		return ""
	}
	return Canonical(l.Config().Name)
}
