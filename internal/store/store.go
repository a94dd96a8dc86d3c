// Package store persists games, players, cards, draws, claims, penalties and
// sessions in SQLite or Postgres through database/sql.
//
// Every mutating game operation runs inside WithTx and locks the game row
// first, which serialises sequence advancement and win-position allocation
// per game.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Options configures Open.
type Options struct {
	Driver Driver
	// DSN is a file path for SQLite or a connection URL for Postgres.
	DSN         string
	MaxAttempts int
	Logger      *log.Logger
}

// Store owns the database handle.
type Store struct {
	db          *sql.DB
	driver      Driver
	maxAttempts int
	logger      *log.Logger
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs statements against the database or an open transaction.
type Queries struct {
	q      querier
	driver Driver
}

// Open connects, pings and migrates the database.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}

	var (
		db  *sql.DB
		err error
	)
	switch opts.Driver {
	case DriverSQLite, "":
		opts.Driver = DriverSQLite
		db, err = sql.Open("sqlite", sqliteDSN(opts.DSN))
	case DriverPostgres:
		db, err = sql.Open("postgres", opts.DSN)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", opts.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", opts.Driver, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", opts.Driver, err)
	}

	s := &Store{
		db:          db,
		driver:      opts.Driver,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger.WithPrefix("store"),
	}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(path string) string {
	if path == "" {
		path = "bingo.db"
	}
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Driver reports the dialect in use.
func (s *Store) Driver() Driver {
	return s.driver
}

// Read returns queries that run outside any transaction.
func (s *Store) Read() *Queries {
	return &Queries{q: s.db, driver: s.driver}
}

// WithTx runs fn in a transaction, committing when it returns nil. Lock
// contention and serialization failures are retried with backoff up to
// MaxAttempts; any other error rolls back and is returned as is.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !isTransient(err) {
			return err
		}
		s.logger.Debug("Retrying transaction", "attempt", attempt, "error", err)

		backoff := time.Duration(attempt*attempt) * 5 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%w: %v", ErrTransient, err)
}

func (s *Store) runTx(ctx context.Context, fn func(q *Queries) error) (err error) {
	var opts *sql.TxOptions
	if s.driver == DriverPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	}

	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&Queries{q: tx, driver: s.driver}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders into $N for Postgres.
func (q *Queries) rebind(query string) string {
	if q.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate is appended to row-locking selects. SQLite transactions already
// hold the database write lock from BEGIN IMMEDIATE.
func (q *Queries) forUpdate() string {
	if q.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (q *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := q.q.ExecContext(ctx, q.rebind(query), args...)
	return res, classify(err)
}

func (q *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return q.q.QueryRowContext(ctx, q.rebind(query), args...)
}

func (q *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := q.q.QueryContext(ctx, q.rebind(query), args...)
	return rows, classify(err)
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
