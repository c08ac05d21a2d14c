package analysis

import "strings"

var languageAliases = map[string]string{
	"golang":      "go",
	"js":          "javascript",
	"node":        "javascript",
	"nodejs":      "javascript",
	"node.js":     "javascript",
	"jsx":         "javascript",
	"ecmascript":  "javascript",
	"ts":          "typescript",
	"py":          "python",
	"py3":         "python",
	"python3":     "python",
	"python2":     "python",
	"c++":         "cpp",
	"cxx":         "cpp",
	"cc":          "cpp",
	"hpp":         "cpp",
	"h":           "c",
	"c#":          "csharp",
	"cs":          "csharp",
	"sh":          "bash",
	"shell":       "bash",
	"zsh":         "bash",
	"console":     "bash",
	"rb":          "ruby",
	"rs":          "rust",
	"kt":          "kotlin",
	"objc":        "objectivec",
	"objective-c": "objectivec",
	"ps1":         "powershell",
	"yml":         "yaml",
	"md":          "markdown",
	"pl":          "perl",
	"postgresql":  "sql",
	"mysql":       "sql",
	"plpgsql":     "sql",
	"text":        "",
	"txt":         "",
	"plaintext":   "",
	"plain":       "",
	"none":        "",
	"unknown":     "",
}

// Canonical maps a language tag to its canonical lowercase name. Unknown or
// empty tags become "".
func Canonical(language string) string {
	l := strings.ToLower(strings.TrimSpace(language))
	if alias, ok := languageAliases[l]; ok {
		return alias
	}
	return l
}
