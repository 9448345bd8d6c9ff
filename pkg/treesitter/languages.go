package treesitter

import (
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

var languages = map[string]*sitter.Language{
	"python": python.GetLanguage(),
}

var extensions = map[string]string{
	".py":  "python",
	".pyi": "python",
}

func GetLanguage(name string) *sitter.Language {
	return languages[name]
}

// LanguageForFile returns the language name for path's extension, or ""
// when the extension is not supported.
func LanguageForFile(path string) string {
	return extensions[strings.ToLower(filepath.Ext(path))]
}

func SupportedLanguages() []string {
	keys := make([]string, 0, len(languages))
	for k := range languages {
		keys = append(keys, k)
	}
	return keys
}
