package analysis

import (
	"testing"

	"github.com/kljensen/snowball/english"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// positions indexes analyzed tokens by term.
func positions(tokens []Token) map[string][]int {
	out := make(map[string][]int)
	for _, t := range tokens {
		if t.Indexable() {
			out[t.Term] = append(out[t.Term], t.Position)
		}
	}
	return out
}

func TestAnalyzeIdentifierVariants(t *testing.T) {
	got := positions(Analyze("parseJSON_value = 42", ""))

	assert.Equal(t, []int{0}, got["i:parseJSON_value"])
	assert.Equal(t, []int{0}, got["i:parsejson_value"])
	assert.Equal(t, []int{0}, got["i:parsejsonvalue"])
	assert.Equal(t, []int{0}, got["i:parse"])
	assert.Equal(t, []int{1}, got["i:json"])
	assert.Equal(t, []int{2}, got["i:value"])
	assert.Equal(t, []int{3}, got["l:42"])
}

func TestAnalyzeLowercaseIdentifierEmittedOnce(t *testing.T) {
	tokens := Analyze("x", "")
	require.Len(t, tokens, 1)
	assert.Equal(t, Token{Term: "i:x", Position: 0, Class: ClassIdentifier, Primary: true}, tokens[0])
}

func TestAnalyzeLiteralsAndComments(t *testing.T) {
	got := positions(Analyze(`x = "Hello World" // Parsing the values`, ""))

	assert.Equal(t, []int{0}, got["i:x"])
	assert.Equal(t, []int{1}, got["l:hello"])
	assert.Equal(t, []int{2}, got["l:world"])
	assert.Equal(t, []int{3}, got[Key(FieldComment, english.Stem("parsing", false))])
	assert.Equal(t, []int{4}, got[Key(FieldComment, english.Stem("values", false))])
	assert.NotContains(t, got, "c:the")
	assert.NotContains(t, got, "i:Hello", "string contents are not identifiers")
}

func TestAnalyzeMalformedInput(t *testing.T) {
	assert.Empty(t, Analyze("abc\x00def", "python"))
	assert.Empty(t, Analyze("\xff\xfe\xfd", ""))
	assert.Empty(t, Analyze("", "go"))
}

func TestAnalyzeDeterministic(t *testing.T) {
	src := "def parse_json(s):\n    return json.loads(s)\n"
	assert.Equal(t, Analyze(src, "python"), Analyze(src, "python"))
}

func TestAnalyzePythonTreeSitter(t *testing.T) {
	src := "def parse_json(s):\n    # decode the payload\n    return json.loads(s)\n"
	got := positions(Analyze(src, "py"))

	for _, term := range []string{"k:def", "k:return", "i:parse_json", "i:parse", "i:json", "i:loads", "i:s"} {
		assert.Contains(t, got, term)
	}
	assert.Contains(t, got, Key(FieldComment, english.Stem("decode", false)))
	assert.Contains(t, got, Key(FieldComment, english.Stem("payload", false)))
	assert.NotContains(t, got, "i:def", "keywords are not identifiers")
	assert.Len(t, got["i:json"], 2)
}

func TestAnalyzeJavaScriptStrings(t *testing.T) {
	got := positions(Analyze(`const msg = "parse failed"; JSON.parse(msg);`, "javascript"))

	assert.Contains(t, got, "k:const")
	assert.Contains(t, got, "i:JSON")
	assert.Contains(t, got, "i:json")
	assert.Contains(t, got, "i:parse")
	assert.Contains(t, got, "l:parse")
	assert.Contains(t, got, "l:failed")
}

func TestAnalyzeLexerVariant(t *testing.T) {
	got := positions(Analyze(`func main() { fmt.Println("hi") }`, "golang"))

	assert.Contains(t, got, "k:func")
	assert.Contains(t, got, "i:main")
	assert.Contains(t, got, "i:fmt")
	assert.Contains(t, got, "i:Println")
	assert.Contains(t, got, "i:println")
	assert.Contains(t, got, "l:hi")
}

func TestPrimaryTokens(t *testing.T) {
	var primary []string
	for _, tok := range Analyze("Parse_JSON(x)", "") {
		if tok.Primary {
			primary = append(primary, tok.Term)
		}
	}
	assert.Equal(t, []string{"i:parse_json", "(", "i:x", ")"}, primary)
}

func TestPunctuationConsumesNoPosition(t *testing.T) {
	tokens := Analyze("a.b", "")
	require.Len(t, tokens, 3)
	assert.Equal(t, 0, tokens[0].Position)
	assert.Equal(t, ClassPunctuation, tokens[1].Class)
	assert.Equal(t, 1, tokens[2].Position)
}

func TestVariant(t *testing.T) {
	assert.Equal(t, "tree-sitter", Variant("python"))
	assert.Equal(t, "tree-sitter", Variant("C++"))
	assert.Equal(t, "lexer", Variant("go"))
	assert.Equal(t, "generic", Variant(""))
	assert.Equal(t, "generic", Variant("unknown"))
}

func TestSplitIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"parseJSONValue", []string{"parse", "JSON", "Value"}},
		{"HTTP_server2", []string{"HTTP", "server", "2"}},
		{"snake_case_name", []string{"snake", "case", "name"}},
		{"IOError", []string{"IO", "Error"}},
		{"getX", []string{"get", "X"}},
		{"x", []string{"x"}},
		{"__init__", []string{"init"}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitIdentifier(tt.in))
		})
	}
}

func TestCanonical(t *testing.T) {
	tests := map[string]string{
		"Golang":     "go",
		" JS ":       "javascript",
		"py":         "python",
		"C++":        "cpp",
		"c#":         "csharp",
		"shell":      "bash",
		"plaintext":  "",
		"":           "",
		"typescript": "typescript",
	}
	for in, want := range tests {
		assert.Equal(t, want, Canonical(in), in)
	}
}

func TestExpand(t *testing.T) {
	alts := Expand("parseJson")
	assert.Equal(t, []string{"i:parseJson", "i:parsejson", "k:parsejson", "l:parsejson",
		Key(FieldComment, english.Stem("parsejson", false))}, alts)

	alts = Expand("parse_json")
	assert.Contains(t, alts, "i:parsejson")

	for _, term := range Expand("the") {
		assert.NotEqual(t, FieldComment, FieldOf(term), "stop words have no comment form")
	}
	assert.Nil(t, Expand("  "))
}

func TestFieldOf(t *testing.T) {
	assert.Equal(t, FieldIdentifier, FieldOf("i:parse"))
	assert.Equal(t, FieldComment, FieldOf("c:pars"))
	assert.Equal(t, Field(0), FieldOf("("))
	assert.Equal(t, Field(0), FieldOf("x:foo"))
	assert.Equal(t, "parse", Text("i:parse"))
	assert.Equal(t, "(", Text("("))
}

func TestQueryWords(t *testing.T) {
	assert.Equal(t, []string{"json", "loads"}, QueryWords("json.loads"))
	assert.Equal(t, []string{"parse_json"}, QueryWords("parse_json()"))
}
