// Package manager aggregates local stores and remote sources into one slot
// catalog and classifies each slot's sync state per source.
//
// Local stores are discovered by scanning configured roots. A designated
// default store is always open and receives new slots; every other
// mutation goes to the store that owns the slot. When two stores hold the
// same ID, the store scanned last owns it. The default store is scanned
// first, so any configured root shadows it.
//
// Remote calls carry the configured timeout and honor cancellation. A
// source whose listing fails reports NotChecked for every slot; unknown is
// never reported as a definite state.
//
// All Manager methods are safe for concurrent use and are serialized.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/soda-auto/soda-sim-sub008/internal/metrics"
	"github.com/soda-auto/soda-sim-sub008/internal/scan"
	"github.com/soda-auto/soda-sim-sub008/internal/slot"
	"github.com/soda-auto/soda-sim-sub008/internal/source"
	"github.com/soda-auto/soda-sim-sub008/internal/store"
)

// DefaultStoreName is the file name of the default store when no explicit
// path is configured.
const DefaultStoreName = "Default.ssdb"

// DefaultRemoteTimeout bounds each remote call when Options leave it unset.
const DefaultRemoteTimeout = 10 * time.Second

// Options configures a Manager.
type Options struct {
	// Roots are scanned in order. Later roots take precedence.
	Roots []string

	// Pattern is the doublestar pattern matched below each root.
	// Defaults to scan.DefaultPattern.
	Pattern string

	// DefaultStore is the path of the store receiving new slots. Defaults
	// to DefaultStoreName in the first root.
	DefaultStore string

	// RemoteTimeout bounds each remote call. Defaults to DefaultRemoteTimeout.
	RemoteTimeout time.Duration

	// StoreOptions are passed to every store.Open.
	StoreOptions []store.Option

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer
}

// Manager is the single entry point for slot queries and mutations.
type Manager struct {
	mu sync.Mutex

	roots         []string
	defaultPath   string
	remoteTimeout time.Duration
	storeOpts     []store.Option
	scanner       *scan.Scanner
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tracer        trace.Tracer

	stores  map[string]*store.Store
	order   []string // precedence order, lowest first; default store first
	sources *source.Registry
	cache   map[cacheKey]listing
	closed  bool
}

type cacheKey struct {
	source string
	typ    slot.Type
}

// New creates a Manager. No store is opened until the first Rescan.
func New(opts Options) (*Manager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	defaultPath := opts.DefaultStore
	if defaultPath == "" {
		if len(opts.Roots) == 0 {
			return nil, errors.New("manager: a root or a default store path is required")
		}
		defaultPath = filepath.Join(opts.Roots[0], DefaultStoreName)
	}
	defaultPath, err := filepath.Abs(defaultPath)
	if err != nil {
		return nil, fmt.Errorf("manager: default store path: %w", err)
	}

	timeout := opts.RemoteTimeout
	if timeout <= 0 {
		timeout = DefaultRemoteTimeout
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/soda-auto/soda-sim-sub008/internal/manager")
	}

	m := &Manager{
		roots:         append([]string(nil), opts.Roots...),
		defaultPath:   defaultPath,
		remoteTimeout: timeout,
		storeOpts:     opts.StoreOptions,
		logger:        logger,
		metrics:       opts.Metrics,
		tracer:        tracer,
		stores:        make(map[string]*store.Store),
		sources:       source.NewRegistry(),
		cache:         make(map[cacheKey]listing),
	}

	scanOpts := []scan.Option{
		scan.WithLogger(logger),
		scan.WithOpener(m.openStore),
	}
	if opts.Pattern != "" {
		scanOpts = append(scanOpts, scan.WithPattern(opts.Pattern))
	}
	m.scanner, err = scan.New(scanOpts...)
	if err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}

	return m, nil
}

func (m *Manager) openStore(path string) (*store.Store, error) {
	return store.Open(path, m.storeOpts...)
}

// DefaultStorePath returns the absolute path of the default store.
func (m *Manager) DefaultStorePath() string {
	return m.defaultPath
}

// Close closes every source and store. Calling Close more than once is safe.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var errs []error
	for _, src := range m.sources.List() {
		m.sources.Unregister(src.Name())
		if err := src.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close source %s: %w", src.Name(), err))
		}
	}
	for path, st := range m.stores {
		if err := st.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store %s: %w", path, err))
		}
	}
	m.stores = map[string]*store.Store{}
	m.order = nil
	m.cache = map[cacheKey]listing{}
	return errors.Join(errs...)
}

func (m *Manager) checkOpen() error {
	if m.closed {
		return errors.New("manager is closed")
	}
	return nil
}

// StoreInfo describes one open local store.
type StoreInfo struct {
	Path    string
	Default bool
	Slots   int
}

// Stores lists open stores in precedence order, lowest first.
func (m *Manager) Stores(ctx context.Context) ([]StoreInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]StoreInfo, 0, len(m.order))
	for _, path := range m.order {
		n, err := m.stores[path].Count(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, StoreInfo{Path: path, Default: path == m.defaultPath, Slots: n})
	}
	return out, nil
}

// ScanReport summarizes a rescan.
type ScanReport struct {
	// Opened lists stores opened by this rescan.
	Opened []string
	// Closed lists stores closed because their files disappeared.
	Closed []string
	// Skipped lists candidates that failed to open.
	Skipped []scan.Skipped
	// Open is the number of stores open after the rescan.
	Open int
}

// Rescan opens the default store if needed, discovers store files under
// the roots and opens the new ones. Stores already open stay open; stores
// whose files vanished are closed. Unreadable files are skipped and
// reported, never fatal.
func (m *Manager) Rescan(ctx context.Context) (ScanReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return ScanReport{}, err
	}
	return m.rescan(ctx)
}

func (m *Manager) rescan(ctx context.Context) (ScanReport, error) {
	var report ScanReport

	if _, ok := m.stores[m.defaultPath]; !ok {
		st, err := m.openDefault()
		if err != nil {
			m.logger.Warn("default store unavailable", "path", m.defaultPath, "error", err)
			report.Skipped = append(report.Skipped, scan.Skipped{Path: m.defaultPath, Err: err})
		} else {
			m.stores[m.defaultPath] = st
			report.Opened = append(report.Opened, m.defaultPath)
		}
	}

	open := make(map[string]bool, len(m.stores))
	for path := range m.stores {
		open[path] = true
	}

	result, err := m.scanner.Scan(ctx, m.roots, open)
	if err != nil {
		return report, err
	}
	for path, st := range result.Opened {
		m.stores[path] = st
	}
	report.Skipped = append(report.Skipped, result.Skipped...)

	discovered := make(map[string]bool, len(result.Paths))
	order := make([]string, 0, len(result.Paths)+1)
	if _, ok := m.stores[m.defaultPath]; ok {
		order = append(order, m.defaultPath)
		discovered[m.defaultPath] = true
	}
	for _, path := range result.Paths {
		if discovered[path] {
			continue
		}
		discovered[path] = true
		order = append(order, path)
		if _, ok := result.Opened[path]; ok {
			report.Opened = append(report.Opened, path)
		}
	}

	for path, st := range m.stores {
		if discovered[path] {
			continue
		}
		if err := st.Close(); err != nil {
			m.logger.Warn("failed to close vanished store", "path", path, "error", err)
		}
		delete(m.stores, path)
		report.Closed = append(report.Closed, path)
	}

	m.order = order
	report.Open = len(order)
	m.metrics.ObserveScan(report.Open, len(report.Skipped))
	m.logger.Debug("rescan complete", "open", report.Open, "opened", len(report.Opened), "skipped", len(report.Skipped))
	return report, nil
}

func (m *Manager) openDefault() (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(m.defaultPath), 0o755); err != nil {
		return nil, slot.NewStorageUnavailable("manager.rescan", m.defaultPath, err)
	}
	return m.openStore(m.defaultPath)
}

// ensureScanned opens stores on first use.
func (m *Manager) ensureScanned(ctx context.Context) error {
	if m.order != nil {
		return nil
	}
	_, err := m.rescan(ctx)
	return err
}

// defaultStore returns the open default store.
func (m *Manager) defaultStore(op string) (*store.Store, error) {
	st, ok := m.stores[m.defaultPath]
	if !ok {
		return nil, slot.NewStorageUnavailable(op, m.defaultPath, errors.New("default store is not open"))
	}
	return st, nil
}
