package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/gofrs/flock"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/soda-auto/soda-sim-sub008/internal/compression"
	"github.com/soda-auto/soda-sim-sub008/internal/slot"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is one open local store file.
type Store struct {
	db        *sqlx.DB
	path      string
	lock      *flock.Flock
	codec     *compression.Codec
	ownsCodec bool
	now       func() time.Time
	ids       slot.IDGenerator
}

type options struct {
	now   func() time.Time
	ids   slot.IDGenerator
	codec *compression.Codec
}

// Option configures Open.
type Option func(*options)

// WithClock sets the time source used to stamp LastModified.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator sets the generator used for slots stored without an ID.
func WithIDGenerator(g slot.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// WithCodec sets a shared payload codec. The store does not close it.
func WithCodec(c *compression.Codec) Option {
	return func(o *options) { o.codec = c }
}

// Open opens or creates the store file at path.
//
// Open fails with a StorageUnavailable error, without side effects on the
// caller, when the file is locked by another handle, is not a SQLite
// database, fails the quick integrity check, holds tables that do not belong
// to a slot store, or cannot be migrated to the expected schema. Only empty
// databases and existing slot stores are migrated.
func Open(path string, opts ...Option) (*Store, error) {
	o := &options{
		now: time.Now,
		ids: slot.UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(o)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, slot.NewStorageUnavailable("store.open", path, fmt.Errorf("lock: %w", err))
	}
	if !locked {
		return nil, slot.NewStorageUnavailable("store.open", path, errors.New("store is already open by another handle"))
	}

	db, err := openDB(path)
	if err != nil {
		_ = lock.Unlock()
		return nil, slot.NewStorageUnavailable("store.open", path, err)
	}

	s := &Store{
		db:   db,
		path: path,
		lock: lock,
		now:  o.now,
		ids:  o.ids,
	}

	if o.codec != nil {
		s.codec = o.codec
	} else {
		codec, err := compression.NewCodec(2, true)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("store.open: %w", err)
		}
		s.codec = codec
		s.ownsCodec = true
	}

	return s, nil
}

// openDB connects, verifies integrity and applies pragmas and migrations.
func openDB(path string) (*sqlx.DB, error) {
	// Open database (creates file if doesn't exist)
	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := quickCheck(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := checkTables(db); err != nil {
		db.Close()
		return nil, err
	}

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return db, nil
}

// Close releases the database connection and the file lock.
// Calling Close more than once is safe.
func (s *Store) Close() error {
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
		s.db = nil
	}
	if s.ownsCodec && s.codec != nil {
		errs = append(errs, s.codec.Close())
		s.codec = nil
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Unlock())
		s.lock = nil
	}
	return errors.Join(errs...)
}

// Path returns the file path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// quickCheck runs SQLite's quick integrity check. A non-database file fails
// here with "file is not a database".
func quickCheck(db *sqlx.DB) error {
	var result string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// storeTables are the tables a slot store may contain.
var storeTables = map[string]bool{
	"goose_db_version": true,
	"slots":            true,
	"payloads":         true,
}

// checkTables refuses databases written by anything else. It runs before
// pragmas and migrations so a foreign file is left untouched.
func checkTables(db *sqlx.DB) error {
	var names []string
	err := db.Select(&names,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	var foreign []string
	for _, name := range names {
		if !storeTables[name] {
			foreign = append(foreign, name)
		}
	}
	if len(foreign) > 0 {
		return fmt.Errorf("not a slot store: unexpected tables %v", foreign)
	}
	return nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema brings the schema up to date with the embedded migrations.
// This function is idempotent.
func applySchema(db *sqlx.DB) error {
	migrations, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	// The provider must not be closed: Close would close db as well.
	provider, err := goose.NewProvider(goose.DialectSQLite3, db.DB, migrations)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}

	if _, err := provider.Up(context.Background()); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// storageErr wraps a failed statement on an open store.
func (s *Store) storageErr(op string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return err
	}
	return slot.NewStorageUnavailable(op, s.path, err)
}
