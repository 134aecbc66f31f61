package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/JonMunkholm/campa/internal/auth"
	"github.com/JonMunkholm/campa/internal/core"
)

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

const pgUniqueViolation = "23505"

// Postgres is the PostgreSQL store.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects a pool to url and migrates the schema.
func OpenPostgres(ctx context.Context, url string, opts PoolOptions) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConnIdleTime = 5 * time.Minute
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()
	if err := Migrate(ctx, DriverPostgres, db); err != nil {
		pool.Close()
		return nil, err
	}

	return &Postgres{pool: pool}, nil
}

// NewPostgres wraps an existing pool. The schema must already be migrated.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Ping(ctx context.Context) error { return p.pool.Ping(ctx) }

func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) NewID() string { return newID() }

// pgError classifies a driver error.
func pgError(kind, key string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(kind, key)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return conflict(kind, key, err)
	}
	return fmt.Errorf("%s %s: %w", kind, key, err)
}

func scanVehicle(row pgx.CollectableRow) (core.VehicleRecord, error) {
	var v core.VehicleRecord
	err := row.Scan(
		&v.ID, &v.Plate, &v.Brand, &v.Model, &v.Location, &v.Detail, &v.EntryAt, &v.Status,
		&v.RegisteredBy, &v.RegisteredByName, &v.DepartedAt, &v.DepartedBy, &v.DepartedByName,
	)
	return v, err
}

func (p *Postgres) queryVehicles(ctx context.Context, q DBTX, query string, args ...any) ([]core.VehicleRecord, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanVehicle)
}

func (p *Postgres) AllVehicles(ctx context.Context) ([]core.VehicleRecord, error) {
	return p.queryVehicles(ctx, p.pool,
		`SELECT `+vehicleColumns+` FROM vehicles ORDER BY entry_at DESC`)
}

func (p *Postgres) ActiveVehicles(ctx context.Context) ([]core.VehicleRecord, error) {
	return p.queryVehicles(ctx, p.pool,
		`SELECT `+vehicleColumns+` FROM vehicles WHERE status = $1 ORDER BY entry_at ASC`,
		core.StatusActive)
}

func (p *Postgres) CountActive(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM vehicles WHERE status = $1`, core.StatusActive).Scan(&n)
	return n, err
}

func (p *Postgres) VehiclesBetween(ctx context.Context, start, end time.Time) ([]core.VehicleRecord, error) {
	return p.queryVehicles(ctx, p.pool,
		`SELECT `+vehicleColumns+` FROM vehicles
		 WHERE entry_at >= $1 AND entry_at <= $2
		 ORDER BY entry_at ASC`,
		start, end)
}

func (p *Postgres) SearchVehicles(ctx context.Context, query string) ([]core.VehicleRecord, error) {
	return p.queryVehicles(ctx, p.pool,
		`SELECT `+vehicleColumns+` FROM vehicles
		 WHERE strpos(upper(plate), upper($1)) > 0
		 ORDER BY entry_at DESC`,
		query)
}

func (p *Postgres) DepartedBefore(ctx context.Context, cutoff time.Time) ([]core.VehicleRecord, error) {
	return p.queryVehicles(ctx, p.pool,
		`SELECT `+vehicleColumns+` FROM vehicles
		 WHERE status = $1 AND departed_at < $2
		 ORDER BY departed_at ASC`,
		core.StatusDeparted, cutoff)
}

func (p *Postgres) GetVehicle(ctx context.Context, id string) (core.VehicleRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = $1`, id)
	if err != nil {
		return core.VehicleRecord{}, pgError("vehicle", id, err)
	}
	v, err := pgx.CollectExactlyOneRow(rows, scanVehicle)
	if err != nil {
		return core.VehicleRecord{}, pgError("vehicle", id, err)
	}
	return v, nil
}

func (p *Postgres) IsPlateActive(ctx context.Context, plate string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM vehicles WHERE plate = $1 AND status = $2)`,
		plate, core.StatusActive).Scan(&exists)
	return exists, err
}

func (p *Postgres) CreateVehicle(ctx context.Context, v core.VehicleRecord) (core.VehicleRecord, error) {
	if v.ID == "" {
		v.ID = newID()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO vehicles (`+vehicleColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		v.ID, v.Plate, v.Brand, v.Model, v.Location, v.Detail, v.EntryAt, v.Status,
		v.RegisteredBy, v.RegisteredByName, v.DepartedAt, v.DepartedBy, v.DepartedByName,
	)
	if err != nil {
		return core.VehicleRecord{}, pgError("vehicle", v.Plate, err)
	}
	return v, nil
}

func (p *Postgres) UpdateVehicle(ctx context.Context, v core.VehicleRecord) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE vehicles SET
			plate = $2, brand = $3, model = $4, location = $5, detail = $6, entry_at = $7,
			status = $8, registered_by = $9, registered_by_name = $10,
			departed_at = $11, departed_by = $12, departed_by_name = $13
		 WHERE id = $1`,
		v.ID, v.Plate, v.Brand, v.Model, v.Location, v.Detail, v.EntryAt,
		v.Status, v.RegisteredBy, v.RegisteredByName,
		v.DepartedAt, v.DepartedBy, v.DepartedByName,
	)
	if err != nil {
		return pgError("vehicle", v.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("vehicle", v.ID)
	}
	return nil
}

// DeleteVehicles removes ids in a single transaction.
func (p *Postgres) DeleteVehicles(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var total int64
	for start := 0; start < len(ids); start += deleteChunk {
		end := min(start+deleteChunk, len(ids))
		tag, err := tx.Exec(ctx, `DELETE FROM vehicles WHERE id = ANY($1)`, ids[start:end])
		if err != nil {
			return 0, fmt.Errorf("delete vehicles: %w", err)
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(total), nil
}

// Catalog

func (p *Postgres) Brands(ctx context.Context) ([]core.Brand, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, name FROM brands ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[core.Brand])
}

func (p *Postgres) FindOrCreateBrand(ctx context.Context, name string) (core.Brand, error) {
	var b core.Brand
	err := p.pool.QueryRow(ctx,
		`WITH ins AS (
			INSERT INTO brands (id, name) VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING
			RETURNING id, name
		)
		SELECT id, name FROM ins
		UNION ALL
		SELECT id, name FROM brands WHERE name = $2
		LIMIT 1`,
		newID(), name).Scan(&b.ID, &b.Name)
	if err != nil {
		return core.Brand{}, pgError("brand", name, err)
	}
	return b, nil
}

func (p *Postgres) DeleteBrand(ctx context.Context, id string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM models WHERE brand_id = $1`, id); err != nil {
		return fmt.Errorf("delete models of brand %s: %w", id, err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM brands WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete brand %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("brand", id)
	}
	return tx.Commit(ctx)
}

func (p *Postgres) Models(ctx context.Context, brandID string) ([]core.Model, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, brand_id FROM models WHERE brand_id = $1 ORDER BY name`, brandID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[core.Model])
}

func (p *Postgres) FindOrCreateModel(ctx context.Context, name, brandID string) (core.Model, error) {
	var m core.Model
	err := p.pool.QueryRow(ctx,
		`WITH ins AS (
			INSERT INTO models (id, name, brand_id) VALUES ($1, $2, $3)
			ON CONFLICT (brand_id, name) DO NOTHING
			RETURNING id, name, brand_id
		)
		SELECT id, name, brand_id FROM ins
		UNION ALL
		SELECT id, name, brand_id FROM models WHERE brand_id = $3 AND name = $2
		LIMIT 1`,
		newID(), name, brandID).Scan(&m.ID, &m.Name, &m.BrandID)
	if err != nil {
		return core.Model{}, pgError("model", name, err)
	}
	return m, nil
}

func (p *Postgres) DeleteModel(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM models WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete model %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("model", id)
	}
	return nil
}

// Journal

func (p *Postgres) InsertAudit(ctx context.Context, e core.AuditEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO audit_log (id, action, severity, user_id, user_name, ip_address,
			user_agent, subject, rows_affected, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Action, e.Severity, e.UserID, e.UserName, e.IPAddress,
		e.UserAgent, e.Subject, e.RowsAffected, e.Reason, e.CreatedAt,
	)
	return err
}

func (p *Postgres) ListAudit(ctx context.Context, limit int) ([]core.AuditEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, action, severity, coalesce(user_id, ''), coalesce(user_name, ''),
			coalesce(ip_address, ''), coalesce(user_agent, ''), coalesce(subject, ''),
			rows_affected, coalesce(reason, ''), created_at
		 FROM audit_log ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[core.AuditEntry])
}

func (p *Postgres) InsertImportHistory(ctx context.Context, h core.ImportHistoryEntry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO import_history (id, file_name, fingerprint, user_id, created, skipped,
			errored, outcome, message, started_at, duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		h.ID, h.FileName, h.Fingerprint, h.UserID, h.Created, h.Skipped,
		h.Errored, h.Outcome, h.Message, h.StartedAt, h.Duration,
	)
	return err
}

func (p *Postgres) ListImportHistory(ctx context.Context, limit int) ([]core.ImportHistoryEntry, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, file_name, fingerprint, user_id, created, skipped, errored, outcome,
			coalesce(message, ''), started_at, duration_ms
		 FROM import_history ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[core.ImportHistoryEntry])
}

// Users

const userColumns = `id, email, role, full_name, created_at`

func scanUser(row pgx.CollectableRow) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Email, &u.Role, &u.FullName, &u.CreatedAt)
	return u, err
}

func (p *Postgres) CreateUser(ctx context.Context, u auth.User, passwordHash string) (auth.User, error) {
	u.ID = newID()
	_, err := p.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, role, full_name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, passwordHash, u.Role, u.FullName, u.CreatedAt)
	if err != nil {
		return auth.User{}, pgError("user", u.Email, err)
	}
	return u, nil
}

func (p *Postgres) UserByEmail(ctx context.Context, email string) (auth.User, string, error) {
	var u auth.User
	var hash string
	err := p.pool.QueryRow(ctx,
		`SELECT `+userColumns+`, password_hash FROM users WHERE email = $1`, email).
		Scan(&u.ID, &u.Email, &u.Role, &u.FullName, &u.CreatedAt, &hash)
	if err != nil {
		return auth.User{}, "", pgError("user", email, err)
	}
	return u, hash, nil
}

func (p *Postgres) GetUser(ctx context.Context, id string) (auth.User, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	if err != nil {
		return auth.User{}, pgError("user", id, err)
	}
	u, err := pgx.CollectExactlyOneRow(rows, scanUser)
	if err != nil {
		return auth.User{}, pgError("user", id, err)
	}
	return u, nil
}

func (p *Postgres) ListUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY full_name NULLS LAST, email`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanUser)
}

func (p *Postgres) UpdateUser(ctx context.Context, u auth.User) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE users SET role = $2, full_name = $3 WHERE id = $1`, u.ID, u.Role, u.FullName)
	if err != nil {
		return pgError("user", u.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("user", u.ID)
	}
	return nil
}

func (p *Postgres) SetPassword(ctx context.Context, id, passwordHash string) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	if err != nil {
		return pgError("user", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("user", id)
	}
	return nil
}

func (p *Postgres) DeleteUser(ctx context.Context, id string) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return pgError("user", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("user", id)
	}
	return nil
}

func (p *Postgres) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&n)
	return n, err
}
