package normalize

import (
	"regexp"
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"

	"github.com/Adithya-Monish-Kumar-K/snippet-search/internal/analysis"
)

// Hints are what a scraper knows about a snippet besides its code.
type Hints struct {
	Tags     []string
	Declared string
	Filename string
}

var languageTags = map[string]bool{
	"python": true, "javascript": true, "typescript": true, "java": true,
	"csharp": true, "go": true, "rust": true, "ruby": true, "php": true,
	"sql": true, "bash": true, "cpp": true, "c": true, "kotlin": true,
	"swift": true, "scala": true,
}

type pattern struct {
	language string
	res      []*regexp.Regexp
}

func compile(language string, exprs ...string) pattern {
	p := pattern{language: language}
	for _, e := range exprs {
		p.res = append(p.res, regexp.MustCompile("(?i)"+e))
	}
	return p
}

// Checked in order; the first language with any matching pattern wins.
var patterns = []pattern{
	compile("python", `def \w+\(`, `import `, `print\(`, `if __name__`),
	compile("javascript", `const `, `let `, `function `, `=>`, `console\.log`),
	compile("typescript", `interface `, `: string`, `: number`, `type `),
	compile("java", `public class`, `public static void`, `System\.out`),
	compile("csharp", `namespace `, `public class`, `Console\.Write`),
	compile("go", `func `, `package `, `fmt\.`, `go `),
	compile("rust", `fn `, `let mut`, `impl `, `use `),
	compile("ruby", `def `, `end`, `puts `, `require `),
	compile("php", `<\?php`, `function `, `echo `, `\$`),
	compile("sql", `SELECT `, `FROM `, `WHERE `, `INSERT INTO`),
	compile("bash", `#!/bin/bash`, `echo `, `\$\(`, `if \[\[`),
}

// DetectLanguage picks a canonical language for code. Sources are tried in
// order: a language tag, the declared language, the filename, chroma's
// content analysers and finally the keyword pattern table. It returns ""
// when nothing matches.
func DetectLanguage(code string, h Hints) string {
	for _, t := range h.Tags {
		if l := analysis.Canonical(t); languageTags[l] {
			return l
		}
	}
	if l := analysis.Canonical(h.Declared); l != "" {
		return l
	}
	if h.Filename != "" {
		if lexer := lexers.Match(h.Filename); lexer != nil {
			if l := analysis.Canonical(lexer.Config().Name); l != "" {
				return l
			}
		}
	}
	if l := analysis.DetectLanguage(code); l != "" {
		return l
	}
	return matchPatterns(code)
}

func matchPatterns(code string) string {
	if strings.TrimSpace(code) == "" {
		return ""
	}
	for _, p := range patterns {
		for _, re := range p.res {
			if re.MatchString(code) {
				return p.language
			}
		}
	}
	return ""
}
