package core

import "errors"

// Storage sentinels. Store implementations wrap these so callers can match
// with errors.Is regardless of engine.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record conflict")
)

// Vehicle rule violations.
var (
	ErrPlateActive       = errors.New("vehicle already active for plate")
	ErrAlreadyDeparted   = errors.New("vehicle already departed")
	ErrEmptyID           = errors.New("record id is empty")
	ErrEmptyPlate        = errors.New("plate is empty")
	ErrEmptyName         = errors.New("name is empty")
	ErrDepartureMismatch = errors.New("departure time must be set iff the vehicle has departed")
	ErrInvalidStatus     = errors.New("invalid vehicle status")
	ErrInvalidPeriod     = errors.New("invalid period: start is after end")
)

// Import and authorization errors.
var (
	ErrEmptyFile      = errors.New("empty file: no header line")
	ErrImportNotFound = errors.New("import not found")
	ErrImportCanceled = errors.New("import cancelled")
	ErrForbidden      = errors.New("forbidden: admin role required")
	ErrNoIdentity     = errors.New("invalid token: no authenticated user")
)
