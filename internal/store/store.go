// Package store keeps the spot inventory, tariffs and session archive in
// SQLite so a restart resumes where the previous process stopped.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/cenkalti/backoff/v5"
	"github.com/jmoiron/sqlx"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"parking-manager/internal/parking"

	_ "modernc.org/sqlite"
)

var dbSystem = semconv.DBSystemKey.String("sqlite")

var _ parking.Archive = (*Store)(nil)

type Store struct {
	db *sqlx.DB
}

// Open connects to the database at path, creating its directory as needed.
// The open and first ping are retried with exponential backoff.
func Open(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	db, err := backoff.Retry(ctx, func() (*sqlx.DB, error) {
		return connect(ctx, dsn)
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(3),
	)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	return &Store{db: db}, nil
}

func connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := otelsql.Open("sqlite", dsn, otelsql.WithAttributes(dbSystem))
	if err != nil {
		return nil, err
	}

	if err := otelsql.RegisterDBStatsMetrics(db, otelsql.WithAttributes(dbSystem)); err != nil {
		db.Close()
		return nil, err
	}

	sqlxDB := sqlx.NewDb(db, "sqlite")
	if err := sqlxDB.PingContext(ctx); err != nil {
		sqlxDB.Close()
		return nil, err
	}

	// SQLite has a single writer.
	sqlxDB.SetMaxOpenConns(1)
	sqlxDB.SetConnMaxLifetime(0)

	return sqlxDB, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS spots (
			id TEXT PRIMARY KEY,
			number INTEGER NOT NULL UNIQUE,
			category TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'FREE'
		);`,
		`CREATE TABLE IF NOT EXISTS tariffs (
			category TEXT PRIMARY KEY,
			first_hour TEXT NOT NULL,
			additional_hour TEXT NOT NULL,
			tolerance_minutes INTEGER NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			spot_id TEXT NOT NULL REFERENCES spots(id),
			spot_number INTEGER NOT NULL,
			plate TEXT NOT NULL,
			category TEXT NOT NULL,
			entry_time TEXT NOT NULL,
			exit_time TEXT,
			amount TEXT,
			elapsed_minutes INTEGER
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_open ON sessions(exit_time) WHERE exit_time IS NULL;`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_plate ON sessions(plate, entry_time);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
