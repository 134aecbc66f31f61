package core

import (
	"bufio"
	"io"
	"strings"
	"time"
)

// ExportHeader is the first line of every export file.
const ExportHeader = `"ID";"Matricula";"Marca";"Modelo";"Ubicacion";"Detalle";"FechaIngreso";"UsuarioIngreso";"FechaSalida";"UsuarioSalida"`

// WriteExport writes records as a semicolon-delimited, fully quoted file and
// returns the number of data rows written. Fields are wrapped in quotes
// without escaping, so a value containing '"' produces a line that cannot
// be read back faithfully.
func WriteExport(w io.Writer, records []VehicleRecord, loc *time.Location) (int, error) {
	bw := bufio.NewWriter(w)

	if _, err := bw.WriteString(ExportHeader + "\n"); err != nil {
		return 0, err
	}

	n := 0
	for _, v := range records {
		if _, err := bw.WriteString(exportLine(v, loc) + "\n"); err != nil {
			return n, err
		}
		n++
	}

	if err := bw.Flush(); err != nil {
		return n, err
	}
	return n, nil
}

func exportLine(v VehicleRecord, loc *time.Location) string {
	departure := noValue
	if v.DepartedAt != nil {
		departure = FormatDate(*v.DepartedAt, loc)
	}

	fields := []string{
		v.ID,
		v.Plate,
		v.Brand,
		v.Model,
		v.Location,
		derefOr(v.Detail, ""),
		FormatDate(v.EntryAt, loc),
		derefOr(v.RegisteredByName, v.RegisteredBy),
		departure,
		derefOr(v.DepartedByName, noValue),
	}

	for i, f := range fields {
		fields[i] = `"` + f + `"`
	}
	return strings.Join(fields, ";")
}
