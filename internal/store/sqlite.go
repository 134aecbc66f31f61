package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/campa/internal/auth"
	"github.com/JonMunkholm/campa/internal/core"
)

// SQLite is the single-node store. Timestamps are stored as epoch
// milliseconds.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens the database file at path (":memory:" for a private
// in-memory database) and migrates the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; an in-memory database also lives on a single
	// connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if err := Migrate(ctx, DriverSQLite, db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLite{db: db}, nil
}

// NewSQLite wraps an open database. The schema must already be migrated.
func NewSQLite(db *sql.DB) *SQLite {
	return &SQLite{db: db}
}

// DB exposes the underlying handle for migrations and maintenance.
func (s *SQLite) DB() *sql.DB { return s.db }

func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLite) Close() { s.db.Close() }

func (s *SQLite) NewID() string { return newID() }

func sqliteError(kind, key string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return notFound(kind, key)
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return conflict(kind, key, err)
		}
	}
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return conflict(kind, key, err)
	}
	return fmt.Errorf("%s %s: %w", kind, key, err)
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteVehicle(row rowScanner) (core.VehicleRecord, error) {
	var (
		v        core.VehicleRecord
		entry    int64
		departed sql.NullInt64
	)
	err := row.Scan(
		&v.ID, &v.Plate, &v.Brand, &v.Model, &v.Location, &v.Detail, &entry, &v.Status,
		&v.RegisteredBy, &v.RegisteredByName, &departed, &v.DepartedBy, &v.DepartedByName,
	)
	if err != nil {
		return core.VehicleRecord{}, err
	}
	v.EntryAt = fromMillis(entry)
	if departed.Valid {
		at := fromMillis(departed.Int64)
		v.DepartedAt = &at
	}
	return v, nil
}

func (s *SQLite) queryVehicles(ctx context.Context, query string, args ...any) ([]core.VehicleRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.VehicleRecord
	for rows.Next() {
		v, err := scanSQLiteVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLite) AllVehicles(ctx context.Context) ([]core.VehicleRecord, error) {
	return s.queryVehicles(ctx, `SELECT `+vehicleColumns+` FROM vehicles ORDER BY entry_at DESC`)
}

func (s *SQLite) ActiveVehicles(ctx context.Context) ([]core.VehicleRecord, error) {
	return s.queryVehicles(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles WHERE status = ? ORDER BY entry_at ASC`,
		string(core.StatusActive))
}

func (s *SQLite) CountActive(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM vehicles WHERE status = ?`, string(core.StatusActive)).Scan(&n)
	return n, err
}

func (s *SQLite) VehiclesBetween(ctx context.Context, start, end time.Time) ([]core.VehicleRecord, error) {
	return s.queryVehicles(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles
		 WHERE entry_at >= ? AND entry_at <= ?
		 ORDER BY entry_at ASC`,
		toMillis(start), toMillis(end))
}

func (s *SQLite) SearchVehicles(ctx context.Context, query string) ([]core.VehicleRecord, error) {
	return s.queryVehicles(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles
		 WHERE instr(upper(plate), upper(?)) > 0
		 ORDER BY entry_at DESC`,
		query)
}

func (s *SQLite) DepartedBefore(ctx context.Context, cutoff time.Time) ([]core.VehicleRecord, error) {
	return s.queryVehicles(ctx,
		`SELECT `+vehicleColumns+` FROM vehicles
		 WHERE status = ? AND departed_at < ?
		 ORDER BY departed_at ASC`,
		string(core.StatusDeparted), toMillis(cutoff))
}

func (s *SQLite) GetVehicle(ctx context.Context, id string) (core.VehicleRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE id = ?`, id)
	v, err := scanSQLiteVehicle(row)
	if err != nil {
		return core.VehicleRecord{}, sqliteError("vehicle", id, err)
	}
	return v, nil
}

func (s *SQLite) IsPlateActive(ctx context.Context, plate string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM vehicles WHERE plate = ? AND status = ?)`,
		plate, string(core.StatusActive)).Scan(&exists)
	return exists, err
}

func (s *SQLite) CreateVehicle(ctx context.Context, v core.VehicleRecord) (core.VehicleRecord, error) {
	if v.ID == "" {
		v.ID = newID()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vehicles (`+vehicleColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Plate, v.Brand, v.Model, v.Location, v.Detail, toMillis(v.EntryAt), string(v.Status),
		v.RegisteredBy, v.RegisteredByName, nullMillis(v.DepartedAt), v.DepartedBy, v.DepartedByName,
	)
	if err != nil {
		return core.VehicleRecord{}, sqliteError("vehicle", v.Plate, err)
	}
	return v, nil
}

func (s *SQLite) UpdateVehicle(ctx context.Context, v core.VehicleRecord) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE vehicles SET
			plate = ?, brand = ?, model = ?, location = ?, detail = ?, entry_at = ?,
			status = ?, registered_by = ?, registered_by_name = ?,
			departed_at = ?, departed_by = ?, departed_by_name = ?
		 WHERE id = ?`,
		v.Plate, v.Brand, v.Model, v.Location, v.Detail, toMillis(v.EntryAt),
		string(v.Status), v.RegisteredBy, v.RegisteredByName,
		nullMillis(v.DepartedAt), v.DepartedBy, v.DepartedByName,
		v.ID,
	)
	if err != nil {
		return sqliteError("vehicle", v.ID, err)
	}
	return requireRow(res, "vehicle", v.ID)
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

// DeleteVehicles removes ids in a single transaction, in chunks that stay
// under the bound-parameter limit.
func (s *SQLite) DeleteVehicles(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for start := 0; start < len(ids); start += deleteChunk {
		chunk := ids[start:min(start+deleteChunk, len(ids))]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		res, err := tx.ExecContext(ctx, `DELETE FROM vehicles WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return 0, fmt.Errorf("delete vehicles: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return int(total), nil
}

// Catalog

func (s *SQLite) Brands(ctx context.Context) ([]core.Brand, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM brands ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Brand
	for rows.Next() {
		var b core.Brand
		if err := rows.Scan(&b.ID, &b.Name); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *SQLite) FindOrCreateBrand(ctx context.Context, name string) (core.Brand, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO brands (id, name) VALUES (?, ?) ON CONFLICT (name) DO NOTHING`,
		newID(), name); err != nil {
		return core.Brand{}, sqliteError("brand", name, err)
	}

	var b core.Brand
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM brands WHERE name = ?`, name).Scan(&b.ID, &b.Name)
	if err != nil {
		return core.Brand{}, sqliteError("brand", name, err)
	}
	return b, nil
}

func (s *SQLite) DeleteBrand(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM models WHERE brand_id = ?`, id); err != nil {
		return fmt.Errorf("delete models of brand %s: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM brands WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete brand %s: %w", id, err)
	}
	if err := requireRow(res, "brand", id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Models(ctx context.Context, brandID string) ([]core.Model, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, brand_id FROM models WHERE brand_id = ? ORDER BY name`, brandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.Model
	for rows.Next() {
		var m core.Model
		if err := rows.Scan(&m.ID, &m.Name, &m.BrandID); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) FindOrCreateModel(ctx context.Context, name, brandID string) (core.Model, error) {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO models (id, name, brand_id) VALUES (?, ?, ?) ON CONFLICT (brand_id, name) DO NOTHING`,
		newID(), name, brandID); err != nil {
		return core.Model{}, sqliteError("model", name, err)
	}

	var m core.Model
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, brand_id FROM models WHERE brand_id = ? AND name = ?`, brandID, name).
		Scan(&m.ID, &m.Name, &m.BrandID)
	if err != nil {
		return core.Model{}, sqliteError("model", name, err)
	}
	return m, nil
}

func (s *SQLite) DeleteModel(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM models WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete model %s: %w", id, err)
	}
	return requireRow(res, "model", id)
}

// Journal

func (s *SQLite) InsertAudit(ctx context.Context, e core.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (id, action, severity, user_id, user_name, ip_address,
			user_agent, subject, rows_affected, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Action), string(e.Severity), e.UserID, e.UserName, e.IPAddress,
		e.UserAgent, e.Subject, e.RowsAffected, e.Reason, toMillis(e.CreatedAt),
	)
	return err
}

func (s *SQLite) ListAudit(ctx context.Context, limit int) ([]core.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action, severity, coalesce(user_id, ''), coalesce(user_name, ''),
			coalesce(ip_address, ''), coalesce(user_agent, ''), coalesce(subject, ''),
			rows_affected, coalesce(reason, ''), created_at
		 FROM audit_log ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.AuditEntry
	for rows.Next() {
		var (
			e       core.AuditEntry
			created int64
		)
		if err := rows.Scan(&e.ID, &e.Action, &e.Severity, &e.UserID, &e.UserName,
			&e.IPAddress, &e.UserAgent, &e.Subject, &e.RowsAffected, &e.Reason, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLite) InsertImportHistory(ctx context.Context, h core.ImportHistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO import_history (id, file_name, fingerprint, user_id, created, skipped,
			errored, outcome, message, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.FileName, h.Fingerprint, h.UserID, h.Created, h.Skipped,
		h.Errored, h.Outcome, h.Message, toMillis(h.StartedAt), h.Duration,
	)
	return err
}

func (s *SQLite) ListImportHistory(ctx context.Context, limit int) ([]core.ImportHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, file_name, fingerprint, user_id, created, skipped, errored, outcome,
			coalesce(message, ''), started_at, duration_ms
		 FROM import_history ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.ImportHistoryEntry
	for rows.Next() {
		var (
			h       core.ImportHistoryEntry
			started int64
		)
		if err := rows.Scan(&h.ID, &h.FileName, &h.Fingerprint, &h.UserID, &h.Created, &h.Skipped,
			&h.Errored, &h.Outcome, &h.Message, &started, &h.Duration); err != nil {
			return nil, err
		}
		h.StartedAt = fromMillis(started)
		out = append(out, h)
	}
	return out, rows.Err()
}

// Users

func scanSQLiteUser(row rowScanner, extra ...any) (auth.User, error) {
	var (
		u       auth.User
		role    string
		created int64
	)
	dest := append([]any{&u.ID, &u.Email, &role, &u.FullName, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return auth.User{}, err
	}
	u.Role = core.Role(role)
	u.CreatedAt = fromMillis(created)
	return u, nil
}

func (s *SQLite) CreateUser(ctx context.Context, u auth.User, passwordHash string) (auth.User, error) {
	u.ID = newID()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, role, full_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, passwordHash, string(u.Role), u.FullName, toMillis(u.CreatedAt))
	if err != nil {
		return auth.User{}, sqliteError("user", u.Email, err)
	}
	return u, nil
}

func (s *SQLite) UserByEmail(ctx context.Context, email string) (auth.User, string, error) {
	var hash string
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+`, password_hash FROM users WHERE email = ?`, email)
	u, err := scanSQLiteUser(row, &hash)
	if err != nil {
		return auth.User{}, "", sqliteError("user", email, err)
	}
	return u, hash, nil
}

func (s *SQLite) GetUser(ctx context.Context, id string) (auth.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanSQLiteUser(row)
	if err != nil {
		return auth.User{}, sqliteError("user", id, err)
	}
	return u, nil
}

func (s *SQLite) ListUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY full_name IS NULL, full_name, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.User
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLite) UpdateUser(ctx context.Context, u auth.User) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET role = ?, full_name = ? WHERE id = ?`, string(u.Role), u.FullName, u.ID)
	if err != nil {
		return sqliteError("user", u.ID, err)
	}
	return requireRow(res, "user", u.ID)
}

func (s *SQLite) SetPassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash = ? WHERE id = ?`, passwordHash, id)
	if err != nil {
		return sqliteError("user", id, err)
	}
	return requireRow(res, "user", id)
}

func (s *SQLite) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return sqliteError("user", id, err)
	}
	return requireRow(res, "user", id)
}

func (s *SQLite) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM users`).Scan(&n)
	return n, err
}
