// Package sqlstore implements kvstore.Store on a SQL table.
//
// Two dialects are supported: SQLite through the pure-Go modernc.org/sqlite
// driver and Postgres through lib/pq. Keys are compared bytewise in both
// (SQLite's default BINARY collation, Postgres' "C" collation) so GetNextKey
// agrees with the in-memory store.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/hupe1980/vatstore/kvstore"
)

// Dialect selects the SQL flavor.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// ErrInvalidTable is returned for table names that are not plain identifiers.
var ErrInvalidTable = errors.New("sqlstore: invalid table name")

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Store is a kvstore.Store backed by database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	table   string
	migrate bool

	qGet, qSet, qDelete, qNext string
}

var _ kvstore.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTable sets the table name. Default "kv".
func WithTable(name string) Option {
	return func(s *Store) { s.table = name }
}

// WithoutMigrate skips CREATE TABLE on open.
func WithoutMigrate() Option {
	return func(s *Store) { s.migrate = false }
}

// New wraps an open database.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	s := &Store{db: db, dialect: dialect, table: "kv", migrate: true}
	for _, opt := range opts {
		opt(s)
	}
	if !identRe.MatchString(s.table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, s.table)
	}
	s.prepareQueries()
	if s.migrate {
		if err := s.createTable(ctx); err != nil {
			return nil, fmt.Errorf("sqlstore: migrate: %w", err)
		}
	}
	return s, nil
}

// OpenSQLite opens a SQLite database at dsn (for example "file:vat.db" or ":memory:").
func OpenSQLite(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// A vat is single-threaded; one connection also keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)
	s, err := New(ctx, db, SQLite, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres opens a Postgres database using a lib/pq connection string.
func OpenPostgres(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	s, err := New(ctx, db, Postgres, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) prepareQueries() {
	ph := func(n int) string {
		if s.dialect == Postgres {
			return fmt.Sprintf("$%d", n)
		}
		return "?"
	}
	s.qGet = fmt.Sprintf("SELECT value FROM %s WHERE key = %s", s.table, ph(1))
	s.qSet = fmt.Sprintf("INSERT INTO %s (key, value) VALUES (%s, %s) ON CONFLICT (key) DO UPDATE SET value = excluded.value", s.table, ph(1), ph(2))
	s.qDelete = fmt.Sprintf("DELETE FROM %s WHERE key = %s", s.table, ph(1))
	s.qNext = fmt.Sprintf("SELECT key FROM %s WHERE key > %s ORDER BY key LIMIT 1", s.table, ph(1))
}

func (s *Store) createTable(ctx context.Context) error {
	keyType := "TEXT"
	if s.dialect == Postgres {
		keyType = `TEXT COLLATE "C"`
	}
	query := strings.Join([]string{
		"CREATE TABLE IF NOT EXISTS ", s.table, " (",
		"key ", keyType, " PRIMARY KEY, ",
		"value TEXT NOT NULL)",
	}, "")
	_, err := s.db.ExecContext(ctx, query)
	return err
}

// Get implements kvstore.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, s.qGet, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlstore: get %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements kvstore.Store.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(ctx, s.qSet, key, value); err != nil {
		return fmt.Errorf("sqlstore: set %q: %w", key, err)
	}
	return nil
}

// Delete implements kvstore.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.qDelete, key); err != nil {
		return fmt.Errorf("sqlstore: delete %q: %w", key, err)
	}
	return nil
}

// GetNextKey implements kvstore.Store.
func (s *Store) GetNextKey(ctx context.Context, prior string) (string, bool, error) {
	var key string
	err := s.db.QueryRowContext(ctx, s.qNext, prior).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlstore: next key after %q: %w", prior, err)
	}
	return key, true, nil
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
