// Package config loads the slotdb configuration file.
//
// The file is YAML. It is validated against an embedded CUE schema before
// being decoded, so type errors, unknown fields and invalid enum values are
// reported with their path in the document.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

// Source kinds.
const (
	KindMongo  = "mongo"
	KindNATS   = "nats"
	KindMemory = "memory"
)

// Config is the decoded configuration.
type Config struct {
	Roots         []string      `yaml:"roots"`
	Pattern       string        `yaml:"pattern"`
	DefaultStore  string        `yaml:"default_store"`
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
	Compression   Compression   `yaml:"compression"`
	Log           Log           `yaml:"log"`
	MetricsFile   string        `yaml:"metrics_file"`
	Sources       []Source      `yaml:"sources"`
}

// Compression configures payload compression at rest.
type Compression struct {
	Enabled *bool `yaml:"enabled"`
	Level   int   `yaml:"level"`
}

// IsEnabled reports whether compression is on. It defaults to true.
func (c Compression) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Source configures one remote source.
type Source struct {
	Name       string   `yaml:"name"`
	Kind       string   `yaml:"kind"`
	URL        string   `yaml:"url"`
	Database   string   `yaml:"database"`
	Collection string   `yaml:"collection"`
	Bucket     string   `yaml:"bucket"`
	Types      []string `yaml:"types"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Pattern:       "**/*.ssdb",
		RemoteTimeout: 10 * time.Second,
		Compression:   Compression{Level: 2},
		Log:           Log{Level: "info", Format: "text"},
	}
}

// Load reads and validates the file at path. Relative paths in the file
// are resolved against the file's directory.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	cfg, err := Parse(data, filepath.Dir(abs))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse validates and decodes data. Relative paths are resolved against
// baseDir; "~/" expands to the home directory.
func Parse(data []byte, baseDir string) (Config, error) {
	if err := validate(data); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if len(bytes.TrimSpace(data)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := cfg.check(); err != nil {
		return Config{}, err
	}
	if err := cfg.resolvePaths(baseDir); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// validate checks the YAML document against #Config.
func validate(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	value := ctx.Encode(doc)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := def.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config:\n%s", strings.TrimSpace(cueerrors.Details(err, nil)))
	}
	return nil
}

// check enforces rules the schema cannot express.
func (c *Config) check() error {
	if c.RemoteTimeout <= 0 {
		return errors.New("invalid config: remote_timeout must be positive")
	}
	seen := make(map[string]bool, len(c.Sources))
	for _, s := range c.Sources {
		if seen[s.Name] {
			return fmt.Errorf("invalid config: duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

func (c *Config) resolvePaths(baseDir string) error {
	for i, root := range c.Roots {
		p, err := ExpandPath(root, baseDir)
		if err != nil {
			return err
		}
		c.Roots[i] = p
	}
	var err error
	if c.DefaultStore, err = ExpandPath(c.DefaultStore, baseDir); err != nil {
		return err
	}
	if c.MetricsFile, err = ExpandPath(c.MetricsFile, baseDir); err != nil {
		return err
	}
	return nil
}

// ExpandPath expands a leading "~/" and makes relative paths absolute
// against baseDir. An empty path stays empty.
func ExpandPath(p, baseDir string) (string, error) {
	if p == "" {
		return "", nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %s: %w", p, err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}
	if !filepath.IsAbs(p) && baseDir != "" {
		p = filepath.Join(baseDir, p)
	}
	return filepath.Clean(p), nil
}

// SlogLevel maps the configured level name to a slog.Level.
func (l Log) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
