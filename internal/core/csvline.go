package core

import (
	"errors"
	"strings"
)

// Column positions of the import/export file.
const (
	colID = iota
	colPlate
	colBrand
	colModel
	colLocation
	colDetail
	colEntry
	colRegisteredBy
	colDeparture
	colDepartedBy
)

// noValue is the placeholder the export writes for absent optional fields.
const noValue = "-"

// ErrMissingPlate is returned for a line without a plate token.
var ErrMissingPlate = errors.New("line has no plate")

// CsvRow holds the positional fields of one data line. Absent trailing
// fields are empty strings.
type CsvRow struct {
	ID             string
	Plate          string
	Brand          string
	Model          string
	Location       string
	Detail         string
	Entry          string
	RegisteredBy   string
	Departure      string
	DepartedByName string
}

// IsActive reports whether the row describes a vehicle still in the lot:
// the departure field is blank or "-".
func (r CsvRow) IsActive() bool {
	return r.Departure == "" || r.Departure == noValue
}

// DetectDelimiter picks ';' when the header contains one and ',' otherwise.
func DetectDelimiter(header string) rune {
	if strings.Contains(strings.ToUpper(strings.TrimSpace(header)), ";") {
		return ';'
	}
	return ','
}

// ParseLine splits one data line on delim. Each token is trimmed and then
// has surrounding double quotes stripped. Quoted delimiters are not
// supported. The plate is normalised; a missing plate is an error.
func ParseLine(line string, delim rune) (CsvRow, error) {
	tokens := splitTokens(line, delim)

	get := func(i int) string {
		if i < len(tokens) {
			return tokens[i]
		}
		return ""
	}

	plate := NormalizePlate(get(colPlate))
	if plate == "" {
		return CsvRow{}, ErrMissingPlate
	}

	return CsvRow{
		ID:             get(colID),
		Plate:          plate,
		Brand:          get(colBrand),
		Model:          get(colModel),
		Location:       get(colLocation),
		Detail:         get(colDetail),
		Entry:          get(colEntry),
		RegisteredBy:   get(colRegisteredBy),
		Departure:      get(colDeparture),
		DepartedByName: get(colDepartedBy),
	}, nil
}

func splitTokens(line string, delim rune) []string {
	parts := strings.Split(line, string(delim))
	for i, p := range parts {
		parts[i] = stripQuotes(strings.TrimSpace(p))
	}
	return parts
}

// stripQuotes removes one pair of surrounding double quotes. A token with
// only a leading or only a trailing quote is left as is.
func stripQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
