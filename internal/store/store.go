// Package store implements the record, catalog, journal and user stores on
// PostgreSQL (pgx) and SQLite (modernc.org/sqlite).
//
// Both engines enforce the single-active-record rule with a partial unique
// index on vehicles(plate) WHERE status = 'activo'. Violations come back as
// core.ErrConflict; missing rows as core.ErrNotFound.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/campa/internal/auth"
	"github.com/JonMunkholm/campa/internal/core"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is everything the binaries need from persistence.
type Store interface {
	core.RecordStore
	auth.UserStore
	Ping(ctx context.Context) error
	Close()
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*SQLite)(nil)
)

// PoolOptions tunes the PostgreSQL connection pool. Zero values keep the
// pgxpool defaults. SQLite ignores them.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// Open connects to the database named by driver and url and applies
// pending migrations.
func Open(ctx context.Context, driver, url string, pool PoolOptions) (Store, error) {
	switch driver {
	case DriverPostgres:
		pg, err := OpenPostgres(ctx, url, pool)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case DriverSQLite:
		lite, err := OpenSQLite(ctx, url)
		if err != nil {
			return nil, err
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

func newID() string {
	return uuid.New().String()
}

// vehicleColumns is the column list every vehicle query selects, in scan
// order.
const vehicleColumns = `id, plate, brand, model, location, detail, entry_at, status,
	registered_by, registered_by_name, departed_at, departed_by, departed_by_name`

// deleteChunk bounds the ids bound into one DELETE statement.
const deleteChunk = 500

func notFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
}

func conflict(kind, key string, err error) error {
	return fmt.Errorf("%s %s: %w (%v)", kind, key, core.ErrConflict, err)
}
