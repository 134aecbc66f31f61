package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// ActiveVehicle is an active record with the whole days it has been parked.
type ActiveVehicle struct {
	VehicleRecord
	DaysParked int `json:"daysParked"`
}

// RegisterEntry records a vehicle entering the lot. The plate is normalised,
// the status forced to active and the registering user taken from id. Brand
// and model are added to the catalog when missing. The store assigns the id.
//
// Returns ErrPlateActive when the plate already has an active record.
func (s *Service) RegisterEntry(ctx context.Context, id Identity, v VehicleRecord) (VehicleRecord, error) {
	if id.UserID == "" {
		return VehicleRecord{}, ErrNoIdentity
	}

	v.Plate = NormalizePlate(v.Plate)
	if v.Plate == "" {
		return VehicleRecord{}, ErrEmptyPlate
	}

	active, err := s.store.IsPlateActive(ctx, v.Plate)
	if err != nil {
		return VehicleRecord{}, fmt.Errorf("check plate %s: %w", v.Plate, err)
	}
	if active {
		return VehicleRecord{}, ErrPlateActive
	}

	if err := s.catalogFor(ctx, &v); err != nil {
		return VehicleRecord{}, err
	}

	if v.EntryAt.IsZero() {
		v.EntryAt = s.now()
	}
	v.EntryAt = v.EntryAt.Truncate(time.Millisecond)
	v.Location = orPlaceholder(strings.TrimSpace(v.Location))
	v.Status = StatusActive
	v.RegisteredBy = id.UserID
	v.RegisteredByName = nil
	if id.FullName != "" {
		v.RegisteredByName = strPtr(id.FullName)
	}
	v.DepartedAt, v.DepartedBy, v.DepartedByName = nil, nil, nil
	v.ID = ""
	if v.Detail != nil && strings.TrimSpace(*v.Detail) == "" {
		v.Detail = nil
	}

	created, err := s.store.CreateVehicle(ctx, v)
	if errors.Is(err, ErrConflict) {
		return VehicleRecord{}, ErrPlateActive
	}
	if err != nil {
		return VehicleRecord{}, fmt.Errorf("create vehicle: %w", err)
	}

	s.LogAudit(ctx, AuditLogParams{
		Action:       ActionVehicleCreate,
		Actor:        id,
		Subject:      created.Plate,
		RowsAffected: 1,
	})
	s.publishVehicles(ctx)

	return created, nil
}

// catalogFor find-or-creates the brand and model of v and rewrites their
// names to the catalog spelling. Blank values become the placeholder.
func (s *Service) catalogFor(ctx context.Context, v *VehicleRecord) error {
	brand := NormalizeBrandName(v.Brand)
	if brand == "" || brand == noValue {
		v.Brand, v.Model = noValue, orPlaceholder(NormalizeModelName(v.Model))
		return nil
	}

	b, err := s.FindOrCreateBrand(ctx, brand)
	if err != nil {
		return err
	}
	v.Brand = b.Name

	model := NormalizeModelName(v.Model)
	if model == "" || model == noValue {
		v.Model = noValue
		return nil
	}
	m, err := s.FindOrCreateModel(ctx, model, b.ID)
	if err != nil {
		return err
	}
	v.Model = m.Name
	return nil
}

// MarkDeparted sets the record to departed now, on behalf of id.
func (s *Service) MarkDeparted(ctx context.Context, id Identity, recordID string) (VehicleRecord, error) {
	if id.UserID == "" {
		return VehicleRecord{}, ErrNoIdentity
	}
	if recordID == "" {
		return VehicleRecord{}, ErrEmptyID
	}

	v, err := s.store.GetVehicle(ctx, recordID)
	if err != nil {
		return VehicleRecord{}, err
	}
	if !v.IsActive() {
		return VehicleRecord{}, ErrAlreadyDeparted
	}

	at := s.now().Truncate(time.Millisecond)
	v.Status = StatusDeparted
	v.DepartedAt = &at
	v.DepartedBy = strPtr(id.UserID)
	v.DepartedByName = nil
	if id.FullName != "" {
		v.DepartedByName = strPtr(id.FullName)
	}

	if err := s.store.UpdateVehicle(ctx, v); err != nil {
		return VehicleRecord{}, fmt.Errorf("mark departed %s: %w", recordID, err)
	}

	s.LogAudit(ctx, AuditLogParams{
		Action:       ActionVehicleDepart,
		Actor:        id,
		Subject:      v.Plate,
		RowsAffected: 1,
	})
	s.publishVehicles(ctx)

	return v, nil
}

// UpdateVehicle replaces a stored record. The departure fields must agree
// with the status, and the change must not leave two active records for one
// plate.
func (s *Service) UpdateVehicle(ctx context.Context, id Identity, v VehicleRecord) (VehicleRecord, error) {
	if id.UserID == "" {
		return VehicleRecord{}, ErrNoIdentity
	}
	if v.ID == "" {
		return VehicleRecord{}, ErrEmptyID
	}

	v.Plate = NormalizePlate(v.Plate)
	if v.Plate == "" {
		return VehicleRecord{}, ErrEmptyPlate
	}
	if err := v.checkDeparture(); err != nil {
		return VehicleRecord{}, err
	}
	v.EntryAt = v.EntryAt.Truncate(time.Millisecond)
	if v.DepartedAt != nil {
		at := v.DepartedAt.Truncate(time.Millisecond)
		v.DepartedAt = &at
	}

	current, err := s.store.GetVehicle(ctx, v.ID)
	if err != nil {
		return VehicleRecord{}, err
	}

	if v.IsActive() && !(current.IsActive() && current.Plate == v.Plate) {
		active, err := s.store.IsPlateActive(ctx, v.Plate)
		if err != nil {
			return VehicleRecord{}, fmt.Errorf("check plate %s: %w", v.Plate, err)
		}
		if active {
			return VehicleRecord{}, ErrPlateActive
		}
	}

	err = s.store.UpdateVehicle(ctx, v)
	if errors.Is(err, ErrConflict) {
		return VehicleRecord{}, ErrPlateActive
	}
	if err != nil {
		return VehicleRecord{}, fmt.Errorf("update vehicle %s: %w", v.ID, err)
	}

	s.LogAudit(ctx, AuditLogParams{
		Action:       ActionVehicleUpdate,
		Actor:        id,
		Subject:      v.ID,
		RowsAffected: 1,
	})
	s.publishVehicles(ctx)

	return v, nil
}

// DeleteVehicle removes one record. Admin only.
func (s *Service) DeleteVehicle(ctx context.Context, id Identity, recordID string) error {
	if recordID == "" {
		return ErrEmptyID
	}
	n, err := s.DeleteVehicles(ctx, id, []string{recordID})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteVehicles removes all ids in one atomic batch and returns how many
// records were deleted. Admin only.
func (s *Service) DeleteVehicles(ctx context.Context, id Identity, ids []string) (int, error) {
	if !id.IsAdmin() {
		return 0, ErrForbidden
	}
	for _, recordID := range ids {
		if recordID == "" {
			return 0, ErrEmptyID
		}
	}
	if len(ids) == 0 {
		return 0, nil
	}

	n, err := s.store.DeleteVehicles(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("delete vehicles: %w", err)
	}

	s.LogAudit(ctx, AuditLogParams{
		Action:       ActionVehicleDelete,
		Actor:        id,
		Subject:      strings.Join(ids, ","),
		RowsAffected: n,
	})
	s.publishVehicles(ctx)

	return n, nil
}

// DeleteByPeriod permanently removes every record whose entry falls in
// [start, end] in one atomic batch. Admin only.
//
// The returned error covers caller mistakes (ErrForbidden, ErrInvalidPeriod);
// store failures are reported through the Result.
func (s *Service) DeleteByPeriod(ctx context.Context, id Identity, start, end time.Time) (Result, error) {
	if !id.IsAdmin() {
		return nil, ErrForbidden
	}
	if start.After(end) {
		return nil, ErrInvalidPeriod
	}

	n, err := s.deletePeriod(ctx, start, end)
	if err != nil {
		s.log(ctx).Error("delete by period failed", "from", start, "to", end, "error", err)
		return periodDeleteFailure(err), nil
	}

	s.LogAudit(ctx, AuditLogParams{
		Action:       ActionPeriodDelete,
		Actor:        id,
		Subject:      FormatDate(start, s.loc) + " - " + FormatDate(end, s.loc),
		RowsAffected: n,
	})
	if n > 0 {
		s.publishVehicles(ctx)
	}

	return Success{Message: deletedMessage(n), Tag: TagDelete}, nil
}

func (s *Service) deletePeriod(ctx context.Context, start, end time.Time) (int, error) {
	records, err := s.store.VehiclesBetween(ctx, start, end)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	ids := make([]string, len(records))
	for i, v := range records {
		ids[i] = v.ID
	}
	return s.store.DeleteVehicles(ctx, ids)
}

// ListVehicles returns every record, newest entry first.
func (s *Service) ListVehicles(ctx context.Context) ([]VehicleRecord, error) {
	return s.store.AllVehicles(ctx)
}

// ListActive returns the vehicles currently parked, longest stay first.
func (s *Service) ListActive(ctx context.Context) ([]ActiveVehicle, error) {
	records, err := s.store.ActiveVehicles(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]ActiveVehicle, len(records))
	for i, v := range records {
		out[i] = ActiveVehicle{VehicleRecord: v, DaysParked: v.DaysParked(now)}
	}
	return out, nil
}

// CountActive returns the number of vehicles currently parked.
func (s *Service) CountActive(ctx context.Context) (int, error) {
	return s.store.CountActive(ctx)
}

// Search returns records whose plate contains query, ignoring case. A blank
// query returns every record.
func (s *Service) Search(ctx context.Context, query string) ([]VehicleRecord, error) {
	query = NormalizePlate(query)
	if query == "" {
		return s.store.AllVehicles(ctx)
	}
	return s.store.SearchVehicles(ctx, query)
}

// Between returns the records whose entry falls in [start, end].
func (s *Service) Between(ctx context.Context, start, end time.Time) ([]VehicleRecord, error) {
	if start.After(end) {
		return nil, ErrInvalidPeriod
	}
	return s.store.VehiclesBetween(ctx, start, end)
}

// Export writes the records entered in [start, end] to w. An empty period
// is a Success with its own message, not a Failure.
func (s *Service) Export(ctx context.Context, id Identity, start, end time.Time, w io.Writer) Result {
	if start.After(end) {
		return exportFailure(ErrInvalidPeriod)
	}

	records, err := s.store.VehiclesBetween(ctx, start, end)
	if err != nil {
		return exportFailure(err)
	}
	if len(records) == 0 {
		return Success{Message: msgNothingExport, Tag: TagExport}
	}

	n, err := WriteExport(w, records, s.loc)
	if err != nil {
		s.log(ctx).Error("export failed", "user_id", id.UserID, "written", n, "error", err)
		return exportFailure(err)
	}

	s.metrics.AddExportRows(n)
	s.log(ctx).Info("export finished", "user_id", id.UserID, "rows", n)

	return Success{Message: exportedMessage(n), Tag: TagExport}
}
