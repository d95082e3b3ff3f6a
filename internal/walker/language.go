package walker

import (
	"path"
	"strings"
)

// languageByExt maps lower-case extensions to language hints.
var languageByExt = map[string]string{
	".go":    "go",
	".rs":    "rust",
	".py":    "python",
	".pyi":   "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".cjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".kt":    "kotlin",
	".kts":   "kotlin",
	".scala": "scala",
	".c":     "c",
	".h":     "c",
	".cc":    "cpp",
	".cpp":   "cpp",
	".cxx":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".swift": "swift",
	".rb":    "ruby",
	".php":   "php",
	".lua":   "lua",
	".ex":    "elixir",
	".exs":   "elixir",
	".erl":   "erlang",
	".hs":    "haskell",
	".sh":    "shell",
	".bash":  "shell",
	".zsh":   "shell",
	".sql":   "sql",
	".html":  "html",
	".htm":   "html",
	".css":   "css",
	".scss":  "scss",
	".vue":   "vue",
	".svelte": "svelte",
	".twig":  "twig",
	".md":    "markdown",
	".mdx":   "markdown",
	".rst":   "rst",
	".txt":   "text",
	".json":  "json",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".xml":   "xml",
	".ini":   "ini",
	".proto": "protobuf",
	".graphql": "graphql",
	".tf":    "terraform",
}

// languageByName covers files identified by their full name.
var languageByName = map[string]string{
	"Dockerfile":  "dockerfile",
	"Makefile":    "makefile",
	"makefile":    "makefile",
	"GNUmakefile": "makefile",
	"Jenkinsfile": "groovy",
	"go.mod":      "gomod",
}

// DetectLanguage returns a language hint for a slash-separated path, or ""
// when unknown.
func DetectLanguage(p string) string {
	base := path.Base(p)
	if lang, ok := languageByName[base]; ok {
		return lang
	}
	return languageByExt[strings.ToLower(path.Ext(base))]
}
