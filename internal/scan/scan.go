// Package scan discovers and opens local store files beneath configured
// directory roots.
//
// A file that cannot be opened as a valid store is skipped with a warning
// and reported in the Result; one bad file never aborts a scan. Scans run
// only when asked; nothing watches the filesystem.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sourcegraph/conc/iter"

	"github.com/soda-auto/soda-sim-sub008/internal/slot"
	"github.com/soda-auto/soda-sim-sub008/internal/store"
)

// DefaultPattern matches store files at any depth below a root.
const DefaultPattern = "**/*.ssdb"

// OpenFunc opens one store file.
type OpenFunc func(path string) (*store.Store, error)

// Skipped records a candidate file that could not be opened.
type Skipped struct {
	Path string
	Err  error
}

// Result is the outcome of one scan.
type Result struct {
	// Paths lists every discovered candidate in scan order: roots in the
	// order given, files within a root in lexical order.
	Paths []string

	// Opened holds the stores opened by this scan, keyed by absolute path.
	// Paths that were already open are not reopened and do not appear here.
	Opened map[string]*store.Store

	// Skipped lists candidates that failed to open, in scan order.
	Skipped []Skipped
}

// Scanner discovers store files.
type Scanner struct {
	pattern string
	open    OpenFunc
	logger  *slog.Logger
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithPattern sets the doublestar pattern matched relative to each root.
func WithPattern(pattern string) Option {
	return func(s *Scanner) { s.pattern = pattern }
}

// WithOpener replaces store.Open as the function used to open candidates.
func WithOpener(open OpenFunc) Option {
	return func(s *Scanner) { s.open = open }
}

// WithLogger sets the logger used for skip warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) { s.logger = logger }
}

// New creates a Scanner. Without options it matches DefaultPattern and opens
// files with store.Open.
func New(opts ...Option) (*Scanner, error) {
	s := &Scanner{
		pattern: DefaultPattern,
		open:    func(path string) (*store.Store, error) { return store.Open(path) },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if !doublestar.ValidatePattern(s.pattern) {
		return nil, fmt.Errorf("invalid scan pattern %q", s.pattern)
	}
	return s, nil
}

// Discover lists candidate files under roots in scan order. Paths are
// absolute and each appears once, at its first position. A missing root is
// reported as skipped rather than failing the scan.
func (s *Scanner) Discover(roots []string) ([]string, []Skipped) {
	var (
		paths   []string
		skipped []Skipped
		seen    = make(map[string]bool)
	)

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			skipped = append(skipped, Skipped{Path: root, Err: err})
			continue
		}

		info, err := os.Stat(abs)
		if err != nil {
			s.logger.Warn("scan root unavailable", "root", abs, "error", err)
			skipped = append(skipped, Skipped{Path: abs, Err: slot.NewStorageUnavailable("scan.discover", abs, err)})
			continue
		}
		if !info.IsDir() {
			err := slot.NewStorageUnavailable("scan.discover", abs, errors.New("not a directory"))
			s.logger.Warn("scan root unavailable", "root", abs, "error", err)
			skipped = append(skipped, Skipped{Path: abs, Err: err})
			continue
		}

		matches, err := doublestar.Glob(os.DirFS(abs), s.pattern, doublestar.WithFilesOnly())
		if err != nil {
			s.logger.Warn("scan root glob failed", "root", abs, "error", err)
			skipped = append(skipped, Skipped{Path: abs, Err: fmt.Errorf("glob: %w", err)})
			continue
		}
		sort.Strings(matches)

		for _, m := range matches {
			p := filepath.Join(abs, filepath.FromSlash(m))
			if seen[p] {
				continue
			}
			seen[p] = true
			paths = append(paths, p)
		}
	}

	return paths, skipped
}

// Scan discovers candidates under roots and opens every one not already in
// open. Files are opened concurrently; the result order is still the scan
// order. Scan returns an error only when ctx is done before opening starts.
func (s *Scanner) Scan(ctx context.Context, roots []string, open map[string]bool) (Result, error) {
	paths, skipped := s.Discover(roots)
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var pending []string
	for _, p := range paths {
		if !open[p] {
			pending = append(pending, p)
		}
	}

	type attempt struct {
		path  string
		store *store.Store
		err   error
	}
	attempts := iter.Map(pending, func(p *string) attempt {
		st, err := s.open(*p)
		return attempt{path: *p, store: st, err: err}
	})

	result := Result{
		Paths:   make([]string, 0, len(paths)),
		Opened:  make(map[string]*store.Store, len(attempts)),
		Skipped: skipped,
	}
	failed := make(map[string]bool)
	for _, a := range attempts {
		if a.err != nil {
			s.logger.Warn("skipping unreadable store", "path", a.path, "error", a.err)
			result.Skipped = append(result.Skipped, Skipped{Path: a.path, Err: a.err})
			failed[a.path] = true
			continue
		}
		s.logger.Debug("opened store", "path", a.path)
		result.Opened[a.path] = a.store
	}
	for _, p := range paths {
		if !failed[p] {
			result.Paths = append(result.Paths, p)
		}
	}

	return result, nil
}
