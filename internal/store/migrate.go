package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sync"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

// goose keeps its base FS and dialect in package state.
var gooseMu sync.Mutex

func migrationSource(driver string) (fs.FS, goose.Dialect, error) {
	switch driver {
	case DriverPostgres:
		sub, err := fs.Sub(postgresMigrations, "migrations/postgres")
		return sub, goose.DialectPostgres, err
	case DriverSQLite:
		sub, err := fs.Sub(sqliteMigrations, "migrations/sqlite")
		return sub, goose.DialectSQLite3, err
	default:
		return nil, "", fmt.Errorf("unknown driver %q", driver)
	}
}

// Migrate applies all pending migrations for driver to db.
func Migrate(ctx context.Context, driver string, db *sql.DB) error {
	fsys, dialect, err := migrationSource(driver)
	if err != nil {
		return err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect(string(dialect)); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("migrate %s: %w", driver, err)
	}
	return nil
}

// SchemaVersion returns the latest applied migration version.
func SchemaVersion(ctx context.Context, driver string, db *sql.DB) (int64, error) {
	_, dialect, err := migrationSource(driver)
	if err != nil {
		return 0, err
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	if err := goose.SetDialect(string(dialect)); err != nil {
		return 0, fmt.Errorf("goose dialect: %w", err)
	}
	return goose.GetDBVersionContext(ctx, db)
}

// OpenDB opens a database/sql handle for maintenance tasks without
// migrating.
func OpenDB(driver, url string) (*sql.DB, error) {
	switch driver {
	case DriverPostgres:
		return sql.Open("pgx", url)
	case DriverSQLite:
		return sql.Open("sqlite", url)
	default:
		return nil, fmt.Errorf("unknown driver %q", driver)
	}
}
