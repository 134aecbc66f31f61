package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OperationTag tells the caller which operation produced a Success.
// Export results trigger a follow-up download or share on the client.
type OperationTag string

const (
	TagGeneric OperationTag = "generic"
	TagImport  OperationTag = "import"
	TagExport  OperationTag = "export"
	TagDelete  OperationTag = "delete"
)

// Result is the outcome of a long-running operation. The concrete type is
// one of Pending, Success or Failure; switch on it exhaustively.
type Result interface {
	isResult()
}

// Pending means the operation is still running.
type Pending struct{}

// Success carries a user-facing message and the operation tag.
type Success struct {
	Message string
	Tag     OperationTag
}

// Failure carries a user-facing message describing why the whole
// operation failed.
type Failure struct {
	Message string
}

func (Pending) isResult() {}
func (Success) isResult() {}
func (Failure) isResult() {}

// resultJSON is the wire form shared by all result variants.
type resultJSON struct {
	State   string       `json:"state"`
	Message string       `json:"message,omitempty"`
	Tag     OperationTag `json:"tag,omitempty"`
}

// MarshalResult encodes any Result variant as {"state": ..., ...}.
func MarshalResult(r Result) ([]byte, error) {
	switch v := r.(type) {
	case Pending:
		return json.Marshal(resultJSON{State: "pending"})
	case Success:
		return json.Marshal(resultJSON{State: "success", Message: v.Message, Tag: v.Tag})
	case Failure:
		return json.Marshal(resultJSON{State: "failure", Message: v.Message})
	case nil:
		return nil, fmt.Errorf("marshal result: nil")
	default:
		return nil, fmt.Errorf("marshal result: unknown variant %T", r)
	}
}

// ImportSummary counts the outcome of one import run.
// Updated is always zero: reconciliation never updates existing records.
type ImportSummary struct {
	Created    int      `json:"created"`
	Updated    int      `json:"updated"`
	Skipped    int      `json:"skipped"`
	Errored    int      `json:"errored"`
	ErrorLines []string `json:"errorLines,omitempty"`
}

func (s *ImportSummary) addError(line string) {
	s.ErrorLines = append(s.ErrorLines, line)
	s.Errored = len(s.ErrorLines)
}

// Message renders the summary shown to the user when an import finishes.
func (s ImportSummary) Message() string {
	var b strings.Builder
	b.WriteString("Importación finalizada.\n\n")
	fmt.Fprintf(&b, "Registros nuevos creados: %d\n", s.Created)
	fmt.Fprintf(&b, "Registros existentes actualizados: %d\n", s.Updated)
	fmt.Fprintf(&b, "Registros omitidos (duplicados): %d\n", s.Skipped)
	fmt.Fprintf(&b, "Filas con error: %d", s.Errored)
	return b.String()
}

// User-facing messages for results.
const (
	msgEmptyCSV      = "El archivo CSV está vacío."
	msgNothingExport = "No se encontraron vehículos en el rango de fechas."
	msgNoIdentity    = "No se pudo identificar al usuario actual."
)

func exportedMessage(n int) string {
	return fmt.Sprintf("Reporte de %d vehículos exportado.", n)
}

func deletedMessage(n int) string {
	return fmt.Sprintf("%d registros han sido eliminados permanentemente.", n)
}

func readFailure(err error) Failure {
	return Failure{Message: "Error al leer el archivo: " + err.Error()}
}

func exportFailure(err error) Failure {
	return Failure{Message: "Error al exportar el reporte: " + err.Error()}
}

func snapshotFailure(err error) Failure {
	return Failure{Message: "No se pudieron obtener los registros existentes: " + err.Error()}
}

func writeFailure(written, total int, err error) Failure {
	return Failure{Message: fmt.Sprintf("Error al guardar los registros (%d de %d guardados): %s", written, total, err.Error())}
}

func cancelledFailure(written, total int) Failure {
	return Failure{Message: fmt.Sprintf("Importación cancelada. %d de %d registros guardados.", written, total)}
}

func periodDeleteFailure(err error) Failure {
	return Failure{Message: "No se pudieron eliminar los registros: " + err.Error()}
}
