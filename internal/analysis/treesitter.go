package analysis

import (
	"strings"
	"sync"
	"unsafe"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_c "github.com/tree-sitter/tree-sitter-c/bindings/go"
	tree_sitter_cpp "github.com/tree-sitter/tree-sitter-cpp/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// treeSitterVariant classifies the leaves of a concrete syntax tree. Parsers
// are not safe for concurrent use, so each grammar keeps a pool.
type treeSitterVariant struct {
	name     string
	language *tree_sitter.Language
	parsers  sync.Pool
}

var treeSitterGrammars = map[string]*treeSitterVariant{}

func registerGrammar(name string, ptr unsafe.Pointer) {
	v := &treeSitterVariant{name: name, language: tree_sitter.NewLanguage(ptr)}
	v.parsers.New = func() any {
		p := tree_sitter.NewParser()
		if err := p.SetLanguage(v.language); err != nil {
			p.Close()
			return nil
		}
		return p
	}
	treeSitterGrammars[name] = v
}

func init() {
	registerGrammar("python", tree_sitter_python.Language())
	registerGrammar("javascript", tree_sitter_javascript.Language())
	registerGrammar("typescript", tree_sitter_typescript.LanguageTypescript())
	registerGrammar("tsx", tree_sitter_typescript.LanguageTSX())
	registerGrammar("java", tree_sitter_java.Language())
	registerGrammar("c", tree_sitter_c.Language())
	registerGrammar("cpp", tree_sitter_cpp.Language())
	registerGrammar("rust", tree_sitter_rust.Language())
}

func (v *treeSitterVariant) lex(src string) ([]lexeme, bool) {
	p, _ := v.parsers.Get().(*tree_sitter.Parser)
	if p == nil {
		return nil, false
	}
	defer v.parsers.Put(p)

	code := []byte(src)
	tree := p.Parse(code, nil)
	if tree == nil {
		return nil, false
	}
	defer tree.Close()

	var out []lexeme
	walkLeaves(tree.RootNode(), code, &out)
	return out, true
}

func walkLeaves(n *tree_sitter.Node, code []byte, out *[]lexeme) {
	kind := n.Kind()
	if n.ChildCount() == 0 || isCommentKind(kind) || isStringKind(kind) {
		start, end := n.StartByte(), n.EndByte()
		if start >= end || end > uint(len(code)) {
			return
		}
		text := string(code[start:end])
		*out = append(*out, lexeme{text: text, class: classifyLeaf(n, kind, text)})
		return
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		if c := n.Child(i); c != nil {
			walkLeaves(c, code, out)
		}
	}
}

func classifyLeaf(n *tree_sitter.Node, kind, text string) Class {
	switch {
	case isCommentKind(kind):
		return ClassComment
	case isStringKind(kind), isNumberKind(kind):
		return ClassLiteral
	case !n.IsNamed():
		if isAlphaWord(text) {
			return ClassKeyword
		}
		return ClassPunctuation
	case isIdentifierKind(kind):
		return ClassIdentifier
	case isAlphaWord(text):
		// true, false, None, this, primitive types.
		return ClassKeyword
	default:
		return ClassPunctuation
	}
}

func isCommentKind(kind string) bool {
	return strings.Contains(kind, "comment")
}

func isStringKind(kind string) bool {
	switch kind {
	case "string", "string_literal", "raw_string_literal", "char_literal",
		"character_literal", "template_string", "concatenated_string",
		"text_block", "system_lib_string", "interpreted_string_literal":
		return true
	}
	return false
}

func isNumberKind(kind string) bool {
	return strings.Contains(kind, "number") || strings.Contains(kind, "integer") ||
		strings.Contains(kind, "float")
}

func isIdentifierKind(kind string) bool {
	return strings.Contains(kind, "identifier") || kind == "name" || kind == "variable_name" || kind == "metavariable"
}

func isAlphaWord(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !isIdentRune(r) {
			return false
		}
	}
	return true
}
