package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Row-level reconciliation errors. They land in the summary's error list and
// never stop the run.
var (
	ErrUnparseableEntry     = errors.New("invalid date: entry")
	ErrUnparseableDeparture = errors.New("invalid date: departure")
)

// ReconcileOptions carries everything Reconcile needs besides the data.
type ReconcileOptions struct {
	// Importer is recorded as the registering name when a row has none.
	Importer Identity

	// Location is used to interpret dates without a zone. Defaults to time.Local.
	Location *time.Location

	// Now is used for rows with a blank entry date. Defaults to time.Now.
	Now func() time.Time

	// NewID allocates ids for rows without one. Defaults to a random UUID.
	NewID func() string
}

func (o *ReconcileOptions) defaults() {
	if o.Location == nil {
		o.Location = time.Local
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.NewID == nil {
		o.NewID = func() string { return uuid.New().String() }
	}
}

// runState is the bookkeeping of one reconciliation: the read-only snapshot
// grouped by plate and the plates this run has made active.
type runState struct {
	byPlate   map[string][]VehicleRecord
	activated map[string]struct{}
}

func newRunState(existing []VehicleRecord) *runState {
	st := &runState{
		byPlate:   make(map[string][]VehicleRecord),
		activated: make(map[string]struct{}),
	}
	for _, v := range existing {
		p := NormalizePlate(v.Plate)
		st.byPlate[p] = append(st.byPlate[p], v)
	}
	return st
}

func (st *runState) hasActive(plate string) bool {
	for _, v := range st.byPlate[plate] {
		if v.IsActive() {
			return true
		}
	}
	return false
}

func (st *runState) hasEntry(plate string, millis int64) bool {
	for _, v := range st.byPlate[plate] {
		if v.EntryMillis() == millis {
			return true
		}
	}
	return false
}

// PlannedCreate is a record Reconcile decided to create, with the CSV line
// it came from.
type PlannedCreate struct {
	Record VehicleRecord
	Line   string
}

// Reconcile decides, for each data line in order, whether to create a record,
// skip it as a duplicate, or record it as an error. existing is the snapshot
// taken before the run; it is never modified. The returned records carry ids
// and are ready to be written in order.
//
// Row order matters: the first active row for a plate wins and later active
// rows for the same plate in the same file are skipped.
func Reconcile(existing []VehicleRecord, lines []string, delim rune, opts ReconcileOptions) ([]VehicleRecord, ImportSummary) {
	plan, summary := ReconcilePlan(existing, lines, delim, opts)
	creates := make([]VehicleRecord, len(plan))
	for i, p := range plan {
		creates[i] = p.Record
	}
	return creates, summary
}

// ReconcilePlan is Reconcile keeping the source line of every create, so a
// row the store later rejects can be reported in the summary.
func ReconcilePlan(existing []VehicleRecord, lines []string, delim rune, opts ReconcileOptions) ([]PlannedCreate, ImportSummary) {
	opts.defaults()

	st := newRunState(existing)
	var (
		plan    []PlannedCreate
		summary ImportSummary
	)

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		rec, skip, err := reconcileLine(st, line, delim, &opts)
		switch {
		case err != nil:
			summary.addError(line)
		case skip:
			summary.Skipped++
		default:
			plan = append(plan, PlannedCreate{Record: rec, Line: line})
			summary.Created++
		}
	}

	return plan, summary
}

// reconcileLine applies the duplicate rules to one line. It returns the
// record to create, or skip=true for a duplicate.
func reconcileLine(st *runState, line string, delim rune, opts *ReconcileOptions) (rec VehicleRecord, skip bool, err error) {
	row, err := ParseLine(line, delim)
	if err != nil {
		return VehicleRecord{}, false, err
	}

	active := row.IsActive()

	if active {
		if _, seen := st.activated[row.Plate]; seen {
			return VehicleRecord{}, true, nil
		}
		if st.hasActive(row.Plate) {
			return VehicleRecord{}, true, nil
		}
	}

	entry := ParseDate(row.Entry, opts.Location)
	if entry == nil && row.Entry != "" {
		return VehicleRecord{}, false, fmt.Errorf("%w: %q", ErrUnparseableEntry, row.Entry)
	}
	if entry != nil && st.hasEntry(row.Plate, entry.UnixMilli()) {
		return VehicleRecord{}, true, nil
	}

	rec, err = buildRecord(row, entry, active, opts)
	if err != nil {
		return VehicleRecord{}, false, err
	}

	if active {
		st.activated[row.Plate] = struct{}{}
	}
	return rec, false, nil
}

func buildRecord(row CsvRow, entry *time.Time, active bool, opts *ReconcileOptions) (VehicleRecord, error) {
	id := row.ID
	if id == "" {
		id = opts.NewID()
	}

	entryAt := opts.Now()
	if entry != nil {
		entryAt = *entry
	}

	rec := VehicleRecord{
		ID:           id,
		Plate:        row.Plate,
		Brand:        orPlaceholder(row.Brand),
		Model:        orPlaceholder(row.Model),
		Location:     orPlaceholder(row.Location),
		EntryAt:      entryAt.Truncate(time.Millisecond),
		Status:       StatusActive,
		RegisteredBy: ImportedBy,
	}
	if row.Detail != "" {
		rec.Detail = strPtr(row.Detail)
	}
	if row.RegisteredBy != "" {
		rec.RegisteredByName = strPtr(row.RegisteredBy)
	} else if name := opts.Importer.FullName; name != "" {
		rec.RegisteredByName = strPtr(name)
	}

	if active {
		return rec, nil
	}

	departed := ParseDate(row.Departure, opts.Location)
	if departed == nil {
		return VehicleRecord{}, fmt.Errorf("%w: %q", ErrUnparseableDeparture, row.Departure)
	}
	at := departed.Truncate(time.Millisecond)
	rec.Status = StatusDeparted
	rec.DepartedAt = &at
	rec.DepartedBy = strPtr(ImportedBy)
	if row.DepartedByName != "" && row.DepartedByName != noValue {
		rec.DepartedByName = strPtr(row.DepartedByName)
	}
	return rec, nil
}

func orPlaceholder(s string) string {
	if s == "" {
		return noValue
	}
	return s
}
