package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/soda-auto/soda-sim-sub008/internal/compression"
	"github.com/soda-auto/soda-sim-sub008/internal/config"
	"github.com/soda-auto/soda-sim-sub008/internal/manager"
	"github.com/soda-auto/soda-sim-sub008/internal/metrics"
	"github.com/soda-auto/soda-sim-sub008/internal/source"
	"github.com/soda-auto/soda-sim-sub008/internal/source/memsource"
	"github.com/soda-auto/soda-sim-sub008/internal/source/mongosource"
	"github.com/soda-auto/soda-sim-sub008/internal/source/natssource"
	"github.com/soda-auto/soda-sim-sub008/internal/store"
)

// DefaultConfigFile is looked up in the working directory when no config
// path is given.
const DefaultConfigFile = "slotdb.yaml"

// SourceFactory builds a source from its configuration.
type SourceFactory func(cfg config.Source, logger *slog.Logger) (source.Source, error)

// app is the state one command invocation works with.
type app struct {
	cfg       config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	codec     *compression.Codec
	manager   *manager.Manager
	formatter *OutputFormatter
}

// openApp loads the configuration, installs the logger and builds a
// manager with every configured source registered. Stores are opened
// lazily by the manager on first use.
func openApp(cmd *cobra.Command, opts *RootOptions) (*app, error) {
	formatter := newFormatter(cmd, opts)

	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}

	logger := newLogger(cfg.Log, opts.Verbose, formatter.GetErrWriter())
	slog.SetDefault(logger)

	codec, err := compression.NewCodec(cfg.Compression.Level, cfg.Compression.IsEnabled())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create codec", err)
	}

	m := metrics.New()
	storeOpts := append([]store.Option{store.WithCodec(codec)}, opts.StoreOptions...)
	mgr, err := manager.New(manager.Options{
		Roots:         cfg.Roots,
		Pattern:       cfg.Pattern,
		DefaultStore:  cfg.DefaultStore,
		RemoteTimeout: cfg.RemoteTimeout,
		StoreOptions:  storeOpts,
		Logger:        logger,
		Metrics:       m,
	})
	if err != nil {
		_ = codec.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create manager", err)
	}

	a := &app{
		cfg:       cfg,
		logger:    logger,
		metrics:   m,
		codec:     codec,
		manager:   mgr,
		formatter: formatter,
	}

	factory := opts.NewSource
	if factory == nil {
		factory = newSource
	}
	for _, sc := range cfg.Sources {
		src, err := factory(sc, logger)
		if err == nil {
			err = mgr.RegisterSource(src)
		}
		if err != nil {
			_ = a.close()
			return nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to set up source %q", sc.Name), err)
		}
		formatter.VerboseLog("registered source %s (%s)", sc.Name, sc.Kind)
	}
	return a, nil
}

// close releases the manager and codec and writes the metrics textfile
// when one is configured.
func (a *app) close() error {
	var errs []error
	if err := a.manager.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.codec.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.cfg.MetricsFile != "" {
		if err := a.metrics.WriteFile(a.cfg.MetricsFile); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// finish closes a and folds a close failure into *err.
func (a *app) finish(err *error) {
	if cerr := a.close(); cerr != nil {
		if *err == nil {
			*err = cerr
		} else {
			a.logger.Error("error closing", "error", cerr)
		}
	}
}

// loadConfig reads the explicit config path, or ./slotdb.yaml when it
// exists, or falls back to defaults rooted at the working directory.
func loadConfig(opts *RootOptions) (config.Config, error) {
	path := opts.ConfigPath
	if path == "" {
		if _, err := os.Stat(DefaultConfigFile); err == nil {
			path = DefaultConfigFile
		}
	}

	cfg := config.Default()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return config.Config{}, err
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return config.Config{}, err
	}
	if len(cfg.Roots) == 0 {
		cfg.Roots = []string{wd}
	}
	if opts.DefaultStore != "" {
		if cfg.DefaultStore, err = config.ExpandPath(opts.DefaultStore, wd); err != nil {
			return config.Config{}, err
		}
	}
	return cfg, nil
}

// newLogger builds the process logger on w. Verbose forces debug level.
func newLogger(cfg config.Log, verbose bool, w io.Writer) *slog.Logger {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

// newSource builds a source adapter for cfg.Kind.
func newSource(cfg config.Source, logger *slog.Logger) (source.Source, error) {
	types, err := source.ParseTypeSet(cfg.Types)
	if err != nil {
		return nil, err
	}

	switch cfg.Kind {
	case config.KindMongo:
		return mongosource.New(mongosource.Config{
			Name:       cfg.Name,
			URI:        cfg.URL,
			Database:   cfg.Database,
			Collection: cfg.Collection,
			Types:      types,
			Logger:     logger,
		})
	case config.KindNATS:
		return natssource.New(natssource.Config{
			Name:   cfg.Name,
			URL:    cfg.URL,
			Bucket: cfg.Bucket,
			Types:  types,
			Logger: logger,
		})
	case config.KindMemory:
		return memsource.New(cfg.Name, types), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}

// storeName shortens a store path for table output.
func storeName(path string) string {
	if path == "" {
		return "-"
	}
	return filepath.Base(path)
}
