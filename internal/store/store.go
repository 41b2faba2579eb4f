// Package store provides SQL-backed persistence for tesd.
//
// SQLite (modernc.org/sqlite) is the default engine; PostgreSQL is available
// through the pgx stdlib driver. Queries are written with '?' placeholders
// and rebound for postgres.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound indicates the task does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrAttemptClosed indicates the attempt is finalized or superseded.
	ErrAttemptClosed = errors.New("attempt is closed")
	// ErrLogOrder indicates an executor log out of sequence or beyond the
	// declared executor count.
	ErrLogOrder = errors.New("executor log out of order")
)

// Driver names accepted in Config.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the database engine.
type Config struct {
	Driver string
	DSN    string
}

// Store provides access to the tesd database.
type Store struct {
	db       *sql.DB
	postgres bool
}

// New opens (creating if needed) a SQLite database at dbPath and runs
// migrations.
func New(dbPath string) (*Store, error) {
	return Open(context.Background(), Config{Driver: DriverSQLite, DSN: dbPath})
}

// Open connects to the configured engine and runs migrations.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	var (
		db  *sql.DB
		err error
		pg  bool
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		dir := filepath.Dir(cfg.DSN)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		db, err = sql.Open("sqlite", cfg.DSN+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)")
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	case DriverPostgres, "pgx":
		db, err = sql.Open("pgx", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		pg = true
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	s := &Store{db: db, postgres: pg}
	if err := s.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		state TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		project TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		spec TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS task_logs (
		task_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		outputs TEXT NOT NULL DEFAULT '[]',
		system_logs TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (task_id, attempt)
	)`,
	`CREATE TABLE IF NOT EXISTS executor_logs (
		task_id TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		idx INTEGER NOT NULL,
		start_time TEXT NOT NULL DEFAULT '',
		end_time TEXT NOT NULL DEFAULT '',
		stdout TEXT NOT NULL DEFAULT '',
		stderr TEXT NOT NULL DEFAULT '',
		exit_code INTEGER NOT NULL,
		host_ip TEXT NOT NULL DEFAULT '',
		ports TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (task_id, attempt, idx)
	)`,
	`CREATE TABLE IF NOT EXISTS task_events (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		action TEXT NOT NULL,
		from_state TEXT NOT NULL DEFAULT '',
		to_state TEXT NOT NULL DEFAULT '',
		inputs_hash TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_order ON tasks(created_at, id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project)`,
	`CREATE INDEX IF NOT EXISTS idx_task_events_task_id ON task_events(task_id)`,
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// q rebinds '?' placeholders to '$n' for postgres.
func (s *Store) q(query string) string {
	if !s.postgres {
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
