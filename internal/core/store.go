package core

import (
	"context"
	"time"
)

// VehicleStore persists vehicle records. Implementations return errors
// wrapping ErrNotFound and ErrConflict where applicable.
type VehicleStore interface {
	// NewID allocates an identifier for a record not yet written.
	NewID() string

	// AllVehicles returns every record, newest entry first.
	AllVehicles(ctx context.Context) ([]VehicleRecord, error)
	// ActiveVehicles returns active records, oldest entry first.
	ActiveVehicles(ctx context.Context) ([]VehicleRecord, error)
	CountActive(ctx context.Context) (int, error)
	// VehiclesBetween returns records whose entry falls in [start, end].
	VehiclesBetween(ctx context.Context, start, end time.Time) ([]VehicleRecord, error)
	// SearchVehicles matches plates containing query, case-insensitively.
	SearchVehicles(ctx context.Context, query string) ([]VehicleRecord, error)
	// DepartedBefore returns departed records whose departure is before cutoff.
	DepartedBefore(ctx context.Context, cutoff time.Time) ([]VehicleRecord, error)
	GetVehicle(ctx context.Context, id string) (VehicleRecord, error)
	IsPlateActive(ctx context.Context, plate string) (bool, error)

	// CreateVehicle inserts v. An empty ID is allocated by the store.
	CreateVehicle(ctx context.Context, v VehicleRecord) (VehicleRecord, error)
	UpdateVehicle(ctx context.Context, v VehicleRecord) error
	// DeleteVehicles removes all ids in one transaction and returns the count.
	DeleteVehicles(ctx context.Context, ids []string) (int, error)
}

// CatalogStore persists brands and models.
type CatalogStore interface {
	Brands(ctx context.Context) ([]Brand, error)
	// FindOrCreateBrand returns the brand with exactly this name, creating it
	// when absent. name is already normalised.
	FindOrCreateBrand(ctx context.Context, name string) (Brand, error)
	DeleteBrand(ctx context.Context, id string) error
	Models(ctx context.Context, brandID string) ([]Model, error)
	FindOrCreateModel(ctx context.Context, name, brandID string) (Model, error)
	DeleteModel(ctx context.Context, id string) error
}

// JournalStore persists the audit log and the import history.
type JournalStore interface {
	InsertAudit(ctx context.Context, e AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]AuditEntry, error)
	InsertImportHistory(ctx context.Context, h ImportHistoryEntry) error
	ListImportHistory(ctx context.Context, limit int) ([]ImportHistoryEntry, error)
}

// RecordStore is everything the Service needs from persistence.
type RecordStore interface {
	VehicleStore
	CatalogStore
	JournalStore
}
