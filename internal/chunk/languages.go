package chunk

import (
	"path"
	"strings"
)

// languageMap maps lower-case extensions (no dot) to language names.
var languageMap = map[string]string{
	"rs": "rust",

	"py": "python", "pyi": "python", "pyw": "python",

	"js": "javascript", "mjs": "javascript", "cjs": "javascript",
	"ts": "typescript", "mts": "typescript", "cts": "typescript",
	"jsx": "javascriptreact",
	"tsx": "typescriptreact",

	"go": "go",

	"java": "java",
	"kt":   "kotlin", "kts": "kotlin",

	"c": "c", "h": "c",
	"cpp": "cpp", "hpp": "cpp", "cc": "cpp", "cxx": "cpp", "hxx": "cpp",
	"cs": "csharp",

	"rb": "ruby", "rake": "ruby",
	"php":   "php",
	"swift": "swift",
	"scala": "scala", "sc": "scala",

	"sh": "shell", "bash": "shell", "zsh": "shell", "fish": "shell",
	"sql": "sql",

	"html": "html", "htm": "html",
	"css":  "css",
	"scss": "scss", "sass": "scss", "less": "less",
	"vue":    "vue",
	"svelte": "svelte",

	"json": "json",
	"yaml": "yaml", "yml": "yaml",
	"toml": "toml",
	"ini":  "ini", "cfg": "ini", "conf": "ini",

	"md": "markdown", "mdx": "markdown",
	"rst": "restructuredtext",
	"txt": "text",

	"tf": "terraform", "hcl": "terraform",

	"xml": "xml",
	"csv": "csv",
}

// Extension returns the lower-case extension of p without the dot.
func Extension(p string) string {
	ext := path.Ext(strings.ReplaceAll(p, "\\", "/"))
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// DetectLanguage returns the language for p's extension, or "" if unknown.
func DetectLanguage(p string) string {
	return languageMap[Extension(p)]
}

// IsIndexable reports whether files with p's extension are indexed.
func IsIndexable(p string) bool {
	_, ok := languageMap[Extension(p)]
	return ok
}
