package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/stellar/go/support/db"
)

//go:embed sqlmigrations/*.sql
var sqlMigrations embed.FS

const busyTimeoutMillis = 10_000

// DB is the handle to the record store. It is opened once at startup and
// handed to every reader and writer that needs it.
type DB struct {
	db.SessionInterface
}

func openSQLiteDB(dbFilePath string) (*db.Session, error) {
	if err := ensureDir(dbFilePath); err != nil {
		return nil, err
	}

	// 1. Use Write-Ahead Logging (WAL), readers don't block the single writer.
	// 2. Use synchronous=NORMAL, which is faster and still safe in WAL mode.
	// 3. Wait for the write lock instead of failing with SQLITE_BUSY.
	session, err := db.Open("sqlite3", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=%d",
		dbFilePath, busyTimeoutMillis,
	))
	if err != nil {
		return nil, fmt.Errorf("open failed: %w", err)
	}

	if err = runSQLMigrations(session.DB.DB, "sqlite3"); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("could not run SQL migrations: %w", err)
	}
	return session, nil
}

// ensureDir creates the directory holding the database file, if needed.
func ensureDir(dbFilePath string) error {
	dir := filepath.Dir(dbFilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create database directory %q: %w", dir, err)
	}
	return nil
}

func OpenSQLiteDBWithPrometheusMetrics(dbFilePath string, namespace string, sub db.Subservice, registry *prometheus.Registry) (*DB, error) {
	session, err := openSQLiteDB(dbFilePath)
	if err != nil {
		return nil, err
	}
	result := DB{
		SessionInterface: db.RegisterMetrics(session, namespace, sub, registry),
	}
	return &result, nil
}

func OpenSQLiteDB(dbFilePath string) (*DB, error) {
	session, err := openSQLiteDB(dbFilePath)
	if err != nil {
		return nil, err
	}
	result := DB{
		SessionInterface: session,
	}
	return &result, nil
}

// CheckHealth runs a trivial query to make sure the store is reachable.
func (d *DB) CheckHealth(ctx context.Context) error {
	var one int
	if err := d.GetRaw(ctx, &one, "SELECT 1"); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func runSQLMigrations(db *sql.DB, dialect string) error {
	m := &migrate.AssetMigrationSource{
		Asset: sqlMigrations.ReadFile,
		AssetDir: func() func(string) ([]string, error) {
			return func(path string) ([]string, error) {
				dirEntry, err := sqlMigrations.ReadDir(path)
				if err != nil {
					return nil, err
				}
				entries := make([]string, 0)
				for _, e := range dirEntry {
					entries = append(entries, e.Name())
				}

				return entries, nil
			}
		}(),
		Dir: "sqlmigrations",
	}
	_, err := migrate.ExecMax(db, dialect, m, migrate.Up, 0)
	return err
}
