// Package django discovers the REST endpoints of a Django or Django REST
// Framework project by parsing its Python sources with tree-sitter.
package django

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/dpolishuk/apidocs/internal/logging"
	"github.com/dpolishuk/apidocs/internal/models"
	"github.com/dpolishuk/apidocs/pkg/treesitter"
)

// DefaultExclude keeps tests and migrations out of the scan.
var DefaultExclude = []string{"**/tests/**", "**/test_*.py", "**/migrations/**"}

var skipDirs = map[string]bool{
	".git":          true,
	"node_modules":  true,
	"__pycache__":   true,
	".venv":         true,
	"venv":          true,
	"site-packages": true,
	".tox":          true,
	"dist":          true,
	"build":         true,
}

type Scanner struct {
	exclude []string
	logger  *zap.Logger
}

// NewScanner creates a scanner that ignores paths matching any of the
// doublestar patterns in exclude, relative to the scanned root.
func NewScanner(exclude []string, logger *zap.Logger) *Scanner {
	return &Scanner{
		exclude: exclude,
		logger:  logging.Component(logger, "django"),
	}
}

// Scan parses every Python file under root and returns the endpoints
// reachable from its URL configuration. Files that fail to parse are
// skipped. The result is never nil.
func (s *Scanner) Scan(ctx context.Context, root string) ([]models.EndpointDescriptor, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("failed to scan %s: not a directory", root)
	}

	parser := treesitter.NewParser()
	defer parser.Close()

	var mods []*module
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != root && skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if treesitter.LanguageForFile(path) != "python" || s.excluded(rel) {
			return nil
		}

		content, err := os.ReadFile(path)
		if err != nil {
			s.logger.Warn("failed to read file", zap.String("file", rel), zap.Error(err))
			return nil
		}
		m, err := parseModule(ctx, parser, rel, content)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("failed to parse file", zap.String("file", rel), zap.Error(err))
			return nil
		}
		mods = append(mods, m)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	descs := resolve(mods)
	s.logger.Info("scan complete",
		zap.String("root", root),
		zap.Int("files", len(mods)),
		zap.Int("endpoints", len(descs)))
	return descs, nil
}

func (s *Scanner) excluded(rel string) bool {
	for _, pattern := range s.exclude {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
	}
	return false
}

// resolve walks URL configurations from every module that no other module
// includes, expanding include() chains and router registrations.
func resolve(mods []*module) []models.EndpointDescriptor {
	sort.Slice(mods, func(i, j int) bool { return mods[i].Rel < mods[j].Rel })
	idx := newIndex(mods)

	var routed []*module
	for _, m := range mods {
		if m.hasRoutes() {
			routed = append(routed, m)
		}
	}

	r := &resolver{idx: idx, routed: routed, active: map[string]bool{}}
	included := map[string]bool{}
	for _, m := range routed {
		for _, e := range m.URLs {
			if e.Include == "" {
				continue
			}
			if target := r.find(e.Include); target != nil && target != m {
				included[target.Rel] = true
			}
		}
	}

	for _, m := range routed {
		if !included[m.Rel] {
			r.expand(m, "")
		}
	}
	if r.out == nil {
		return []models.EndpointDescriptor{}
	}
	return r.out
}

type resolver struct {
	idx    *index
	routed []*module
	active map[string]bool
	out    []models.EndpointDescriptor
}

// find returns the module for a dotted include target. Projects that keep
// their sources below a directory ("src/app/urls.py") match by suffix.
func (r *resolver) find(dotted string) *module {
	for _, m := range r.routed {
		if m.Dotted == dotted {
			return m
		}
	}
	for _, m := range r.routed {
		if strings.HasSuffix(m.Dotted, "."+dotted) {
			return m
		}
	}
	return nil
}

func (r *resolver) expand(m *module, prefix string) {
	if r.active[m.Rel] {
		return
	}
	r.active[m.Rel] = true
	defer delete(r.active, m.Rel)

	routerMounted := false
	for _, e := range m.URLs {
		route := prefix + routePath(e.Route, e.Regex)
		switch {
		case e.Include != "":
			if target := r.find(e.Include); target != nil {
				r.expand(target, route)
			}
		case e.IncludeRouter:
			routerMounted = true
			for _, reg := range m.Routers {
				r.out = append(r.out, r.idx.routerDescriptors(route, reg)...)
			}
		default:
			r.out = append(r.out, r.idx.viewDescriptor(joinRoute("", route), e))
		}
	}
	if !routerMounted {
		for _, reg := range m.Routers {
			r.out = append(r.out, r.idx.routerDescriptors(prefix, reg)...)
		}
	}
}
