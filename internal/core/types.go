package core

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Status is the lifecycle state of a vehicle record.
type Status string

const (
	StatusActive   Status = "activo"
	StatusDeparted Status = "salido"
)

// ImportedBy marks the registering and departing user of records created by
// a CSV import.
const ImportedBy = "importado"

// VehicleRecord is one stay of a vehicle in the lot.
type VehicleRecord struct {
	ID               string     `json:"id"`
	Plate            string     `json:"plate"`
	Brand            string     `json:"brand"`
	Model            string     `json:"model"`
	Location         string     `json:"location"`
	Detail           *string    `json:"detail,omitempty"`
	EntryAt          time.Time  `json:"entryAt"`
	Status           Status     `json:"status"`
	RegisteredBy     string     `json:"registeredBy"`
	RegisteredByName *string    `json:"registeredByName,omitempty"`
	DepartedAt       *time.Time `json:"departedAt,omitempty"`
	DepartedBy       *string    `json:"departedBy,omitempty"`
	DepartedByName   *string    `json:"departedByName,omitempty"`
}

// IsActive reports whether the vehicle is still parked.
func (v VehicleRecord) IsActive() bool {
	return v.Status == StatusActive
}

// EntryMillis returns the entry time as epoch milliseconds, the precision
// used for duplicate detection.
func (v VehicleRecord) EntryMillis() int64 {
	return v.EntryAt.UnixMilli()
}

// DaysParked returns whole days between entry and now.
func (v VehicleRecord) DaysParked(now time.Time) int {
	if now.Before(v.EntryAt) {
		return 0
	}
	return int(now.Sub(v.EntryAt) / (24 * time.Hour))
}

// checkDeparture verifies that DepartedAt is set iff the record has departed.
func (v VehicleRecord) checkDeparture() error {
	switch v.Status {
	case StatusActive:
		if v.DepartedAt != nil {
			return ErrDepartureMismatch
		}
	case StatusDeparted:
		if v.DepartedAt == nil {
			return ErrDepartureMismatch
		}
	default:
		return ErrInvalidStatus
	}
	return nil
}

// NormalizePlate returns the canonical form of a plate: NFKC, trimmed and
// upper case.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(norm.NFKC.String(plate)))
}

// Brand is a vehicle make from the catalog.
type Brand struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Model is a vehicle model belonging to a brand.
type Model struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	BrandID string `json:"brandId"`
}

// NormalizeBrandName trims and upper-cases a brand name.
func NormalizeBrandName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// NormalizeModelName trims a model name and capitalises its first letter.
func NormalizeModelName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	r := []rune(name)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

// Role grants access to administrative operations.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Identity is the authenticated caller of an operation. It is passed
// explicitly into every operation that records who did what.
type Identity struct {
	UserID   string `json:"userId"`
	FullName string `json:"fullName,omitempty"`
	Role     Role   `json:"role"`
}

// IsAdmin reports whether the caller holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// DisplayName returns the full name, or the user id when no name is set.
func (i Identity) DisplayName() string {
	if i.FullName != "" {
		return i.FullName
	}
	return i.UserID
}

// ImportPhase indicates the current stage of an import.
type ImportPhase string

const (
	PhaseStarting    ImportPhase = "starting"
	PhaseReading     ImportPhase = "reading"
	PhaseReconciling ImportPhase = "reconciling"
	PhaseWriting     ImportPhase = "writing"
	PhaseComplete    ImportPhase = "complete"
	PhaseFailed      ImportPhase = "failed"
	PhaseCancelled   ImportPhase = "cancelled"
)

// ImportProgress represents the current state of an import.
type ImportProgress struct {
	ImportID   string      `json:"importId"`
	FileName   string      `json:"fileName"`
	Phase      ImportPhase `json:"phase"`
	ToWrite    int         `json:"toWrite"`
	Written    int         `json:"written"`
	BytesRead  int64       `json:"bytesRead"`
	BytesTotal int64       `json:"bytesTotal"`
	Error      string      `json:"error,omitempty"`
}

// Percent returns progress as 0-100. Writes dominate once the create-list is
// known; before that, bytes read are used.
func (p ImportProgress) Percent() int {
	if p.ToWrite > 0 {
		return (p.Written * 100) / p.ToWrite
	}
	if p.BytesTotal > 0 {
		return int((p.BytesRead * 100) / p.BytesTotal)
	}
	return 0
}

func strPtr(s string) *string {
	return &s
}

func derefOr(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}
