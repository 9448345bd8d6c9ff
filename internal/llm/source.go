package llm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultMaxSourceBytes bounds the source excerpt placed in a prompt.
const DefaultMaxSourceBytes = 64 * 1024

var DefaultInclude = []string{"**/*.py"}

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"dist":         true,
	"build":        true,
	"target":       true,
}

// SourceOptions selects which files of a working copy reach the prompt.
type SourceOptions struct {
	Include  []string
	Exclude  []string
	MaxBytes int
}

// CollectSource concatenates the files under root matching opts, each
// under a "# file: <rel>" header, in lexical walk order. Collection stops
// once MaxBytes is reached; the file that crosses the limit is cut short.
func CollectSource(root string, opts SourceOptions) (string, error) {
	include := opts.Include
	if len(include) == 0 {
		include = DefaultInclude
	}
	limit := opts.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}

	var b strings.Builder
	errLimit := errors.New("limit reached")

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if matchAny(opts.Exclude, rel) || !matchAny(include, rel) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}

		header := "# file: " + rel + "\n"
		remaining := limit - b.Len() - len(header)
		if remaining <= 0 {
			return errLimit
		}
		if len(content) > 0 && content[len(content)-1] != '\n' {
			content = append(content, '\n')
		}
		content = append(content, '\n')

		b.WriteString(header)
		if len(content) > remaining {
			b.Write(content[:remaining])
			return errLimit
		}
		b.Write(content)
		return nil
	})
	if err != nil && !errors.Is(err, errLimit) {
		return "", fmt.Errorf("failed to collect source: %w", err)
	}
	return b.String(), nil
}

func matchAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, rel); err == nil && ok {
			return true
		}
	}
	return false
}
