// Package db records fix runs and their iterations in SQLite or Postgres.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver
	_ "github.com/mattn/go-sqlite3"
)

// Dialects accepted by Open.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// DB wraps the history database connection.
type DB struct {
	conn    *sql.DB
	dialect string
}

// DefaultDBPath returns ~/.fixloop/fixloop.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".fixloop")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "fixloop.db"), nil
}

// Open opens the database for driver ("sqlite" or "postgres") at dsn. An
// empty sqlite dsn uses DefaultDBPath.
func Open(driver, dsn string) (*DB, error) {
	switch driver {
	case DialectSQLite, "sqlite3", "":
		return openSQLite(dsn)
	case DialectPostgres, "pgx":
		return openPostgres(dsn)
	}
	return nil, fmt.Errorf("unsupported database driver %q", driver)
}

func openSQLite(path string) (*DB, error) {
	if path == "" {
		p, err := DefaultDBPath()
		if err != nil {
			return nil, err
		}
		path = p
	} else if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", path, err)
		}
	}

	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return &DB{conn: conn, dialect: DialectSQLite}, nil
}

func openPostgres(dsn string) (*DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{conn: conn, dialect: DialectPostgres}, nil
}

// New wraps an existing connection. dialect selects placeholder style and
// schema.
func New(conn *sql.DB, dialect string) *DB {
	return &DB{conn: conn, dialect: dialect}
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Dialect reports "sqlite" or "postgres".
func (d *DB) Dialect() string {
	return d.dialect
}

// Rebind adapts a query written with ? placeholders to the connection's
// dialect.
func (d *DB) Rebind(query string) string {
	return d.rebind(query)
}

// rebind rewrites ? placeholders as $1, $2, ... for postgres.
func (d *DB) rebind(query string) string {
	if d.dialect != DialectPostgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS fix_runs (
    id               TEXT PRIMARY KEY,
    source           TEXT NOT NULL,
    status           TEXT NOT NULL CHECK(status IN ('fixing','testing','done','failed')),
    iterations       INTEGER NOT NULL,
    max_iterations   INTEGER NOT NULL,
    issues_fixed     INTEGER NOT NULL,
    issues_remaining INTEGER NOT NULL,
    changed          BOOLEAN NOT NULL DEFAULT FALSE,
    syntax_valid     BOOLEAN NOT NULL DEFAULT TRUE,
    flagged          TEXT,
    duration_ms      INTEGER,
    created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fix_runs_created ON fix_runs(created_at DESC);

CREATE TABLE IF NOT EXISTS fix_iterations (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id       TEXT NOT NULL REFERENCES fix_runs(id) ON DELETE CASCADE,
    iteration    INTEGER NOT NULL,
    severity     TEXT,
    description  TEXT,
    strategy     TEXT NOT NULL,
    changed      BOOLEAN NOT NULL DEFAULT FALSE,
    rolled_back  BOOLEAN NOT NULL DEFAULT FALSE,
    syntax_valid BOOLEAN NOT NULL DEFAULT TRUE,
    flagged      TEXT,
    passed       BOOLEAN NOT NULL DEFAULT FALSE,
    error        TEXT
);
CREATE INDEX IF NOT EXISTS idx_fix_iterations_run ON fix_iterations(run_id, iteration);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS fix_runs (
    id               TEXT PRIMARY KEY,
    source           TEXT NOT NULL,
    status           TEXT NOT NULL CHECK(status IN ('fixing','testing','done','failed')),
    iterations       INTEGER NOT NULL,
    max_iterations   INTEGER NOT NULL,
    issues_fixed     INTEGER NOT NULL,
    issues_remaining INTEGER NOT NULL,
    changed          BOOLEAN NOT NULL DEFAULT FALSE,
    syntax_valid     BOOLEAN NOT NULL DEFAULT TRUE,
    flagged          TEXT,
    duration_ms      INTEGER,
    created_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fix_runs_created ON fix_runs(created_at DESC);

CREATE TABLE IF NOT EXISTS fix_iterations (
    id           BIGSERIAL PRIMARY KEY,
    run_id       TEXT NOT NULL REFERENCES fix_runs(id) ON DELETE CASCADE,
    iteration    INTEGER NOT NULL,
    severity     TEXT,
    description  TEXT,
    strategy     TEXT NOT NULL,
    changed      BOOLEAN NOT NULL DEFAULT FALSE,
    rolled_back  BOOLEAN NOT NULL DEFAULT FALSE,
    syntax_valid BOOLEAN NOT NULL DEFAULT TRUE,
    flagged      TEXT,
    passed       BOOLEAN NOT NULL DEFAULT FALSE,
    error        TEXT
);
CREATE INDEX IF NOT EXISTS idx_fix_iterations_run ON fix_iterations(run_id, iteration);
`

func (d *DB) schema() string {
	if d.dialect == DialectPostgres {
		return schemaPostgres
	}
	return schemaSQLite
}

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(d.schema()); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	tables := []string{"fix_iterations", "fix_runs", "schema_version"}
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}
