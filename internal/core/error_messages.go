package core

// error_messages.go maps technical errors to user-facing messages with codes
// that users can quote to support.
//
// Codes by category:
//
//	VEH001  plate already active            "vehicle already active"
//	VEH002  vehicle already departed        "vehicle already departed"
//	VEH003  record not found                "record not found"
//	VEH004  invalid record data             "record id is empty", "plate is empty", "name is empty",
//	                                        "departure time must be set", "invalid vehicle status"
//	VEH005  invalid period                  "invalid period"
//	IMP001  empty CSV file                  "empty file"
//	IMP002  too many imports                "too many imports"
//	IMP003  import session not found        "import not found"
//	IMP004  import cancelled                "import cancelled"
//	FILE001 file too large                  "file too large"
//	FILE002 no file                         "no file provided"
//	FILE003 invalid date                    "invalid date"
//	FILE004 no archive configured           "archive storage is not configured"
//	AUTH001 bad credentials                 "invalid credentials"
//	AUTH002 bad or expired session          "invalid token", "token is expired", "token revoked"
//	AUTH003 admin required                  "forbidden"
//	AUTH004 account without profile         "user profile not found"
//	AUTH005 invalid account data            "invalid email", "invalid role", "password too short"
//	DB001   unique violation                "duplicate key", "unique constraint"
//	DB002   store unreachable               "connection refused"
//	DB003   connection interrupted          "connection reset"
//	DB004   conflicting operations          "deadlock"
//	REQ001  request cancelled               "context canceled"
//	REQ002  request timed out               "context deadline exceeded", "timeout"
//	REQ003  malformed request               "malformed request"
//	RATE001 rate limited                    "rate limit"
//	ERR000  anything else
//
// Patterns are matched case-insensitively with strings.Contains and the first
// match wins, so specific patterns come before general ones.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-facing error information with guidance.
type UserMessage struct {
	Message string // What happened
	Action  string // What to do about it
	Code    string // Support reference
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var (
	msgPlateActive = UserMessage{
		Message: "Vehículo ya se encuentra en campa",
		Action:  "Si es una nueva entrada, debe marcar la salida del registro anterior para poder crear uno nuevo.",
		Code:    "VEH001",
	}
	msgInvalidRecord = UserMessage{
		Message: "Los datos del vehículo no son válidos",
		Action:  "Revise matrícula, estado y fechas",
		Code:    "VEH004",
	}
	msgExpiredSession = UserMessage{
		Message: "La sesión no es válida o ha caducado",
		Action:  "Inicie sesión de nuevo",
		Code:    "AUTH002",
	}
	msgInvalidAccount = UserMessage{
		Message: "Los datos del usuario no son válidos",
		Action:  "Revise el correo y el rol",
		Code:    "AUTH005",
	}
	msgUniqueViolation = UserMessage{
		Message: "Ya existe un registro con esos datos",
		Action:  "Revise los duplicados",
		Code:    "DB001",
	}
	msgTimeout = UserMessage{
		Message: "La operación ha excedido el tiempo límite",
		Action:  "Inténtelo con un archivo más pequeño o más tarde",
		Code:    "REQ002",
	}
)

var errorPatterns = []errorPattern{
	// Vehicle rules
	{pattern: "vehicle already active", msg: msgPlateActive},
	{pattern: "vehicle already departed", msg: UserMessage{
		Message: "El vehículo ya tiene registrada la salida",
		Action:  "Actualice la lista de vehículos",
		Code:    "VEH002",
	}},
	{pattern: "record not found", msg: UserMessage{
		Message: "Registro no encontrado",
		Action:  "Puede haber sido eliminado por otro usuario",
		Code:    "VEH003",
	}},
	{pattern: "record id is empty", msg: msgInvalidRecord},
	{pattern: "plate is empty", msg: msgInvalidRecord},
	{pattern: "name is empty", msg: msgInvalidRecord},
	{pattern: "departure time must be set", msg: msgInvalidRecord},
	{pattern: "invalid vehicle status", msg: msgInvalidRecord},
	{pattern: "invalid period", msg: UserMessage{
		Message: "El periodo indicado no es válido",
		Action:  "La fecha de inicio debe ser anterior a la de fin",
		Code:    "VEH005",
	}},

	// Import
	{pattern: "empty file", msg: UserMessage{
		Message: msgEmptyCSV,
		Action:  "Seleccione un archivo con cabecera y filas de datos",
		Code:    "IMP001",
	}},
	{pattern: "too many imports", msg: UserMessage{
		Message: "Hay otras importaciones en curso",
		Action:  "Espere un momento e inténtelo de nuevo",
		Code:    "IMP002",
	}},
	{pattern: "import not found", msg: UserMessage{
		Message: "Importación no encontrada",
		Action:  "Puede haber caducado; inicie una nueva importación",
		Code:    "IMP003",
	}},
	{pattern: "import cancelled", msg: UserMessage{
		Message: "La importación fue cancelada",
		Action:  "Inicie una nueva importación cuando quiera",
		Code:    "IMP004",
	}},

	// Files
	{pattern: "file too large", msg: UserMessage{
		Message: "El archivo supera el tamaño máximo permitido",
		Action:  "Divida el archivo en partes más pequeñas",
		Code:    "FILE001",
	}},
	{pattern: "no file provided", msg: UserMessage{
		Message: "No se ha seleccionado ningún archivo",
		Action:  "Seleccione un archivo CSV",
		Code:    "FILE002",
	}},
	{pattern: "invalid date", msg: UserMessage{
		Message: "Formato de fecha no válido",
		Action:  "Use dd/MM/yyyy o dd/MM/yyyy HH:mm",
		Code:    "FILE003",
	}},
	{pattern: "archive storage is not configured", msg: UserMessage{
		Message: "No hay almacenamiento de archivo configurado",
		Action:  "Descargue la exportación o contacte con el administrador",
		Code:    "FILE004",
	}},

	// Authentication and authorization
	{pattern: "invalid credentials", msg: UserMessage{
		Message: "Usuario o contraseña incorrectos",
		Action:  "Compruebe sus credenciales",
		Code:    "AUTH001",
	}},
	{pattern: "invalid token", msg: msgExpiredSession},
	{pattern: "token is expired", msg: msgExpiredSession},
	{pattern: "token revoked", msg: msgExpiredSession},
	{pattern: "forbidden", msg: UserMessage{
		Message: "No tiene permisos para esta operación",
		Action:  "Solicite la acción a un administrador",
		Code:    "AUTH003",
	}},
	{pattern: "user profile not found", msg: UserMessage{
		Message: "No se encontraron los datos del perfil de usuario",
		Action:  "Contacte con un administrador",
		Code:    "AUTH004",
	}},
	{pattern: "invalid email", msg: msgInvalidAccount},
	{pattern: "invalid role", msg: msgInvalidAccount},
	{pattern: "password too short", msg: UserMessage{
		Message: "La contraseña es demasiado corta",
		Action:  "Use al menos 8 caracteres",
		Code:    "AUTH005",
	}},

	// Storage
	{pattern: "duplicate key", msg: msgUniqueViolation},
	{pattern: "unique constraint", msg: msgUniqueViolation},
	{pattern: "connection refused", msg: UserMessage{
		Message: "No se puede conectar con la base de datos",
		Action:  "Inténtelo de nuevo en unos momentos",
		Code:    "DB002",
	}},
	{pattern: "connection reset", msg: UserMessage{
		Message: "Se interrumpió la conexión con la base de datos",
		Action:  "Inténtelo de nuevo",
		Code:    "DB003",
	}},
	{pattern: "deadlock", msg: UserMessage{
		Message: "La base de datos estaba ocupada con operaciones en conflicto",
		Action:  "Inténtelo de nuevo",
		Code:    "DB004",
	}},

	// Requests
	{pattern: "context canceled", msg: UserMessage{
		Message: "La solicitud fue cancelada",
		Action:  "Inténtelo de nuevo",
		Code:    "REQ001",
	}},
	{pattern: "context deadline exceeded", msg: msgTimeout},
	{pattern: "timeout", msg: msgTimeout},
	{pattern: "malformed request", msg: UserMessage{
		Message: "La solicitud no es válida",
		Action:  "Revise los datos enviados",
		Code:    "REQ003",
	}},
	{pattern: "rate limit", msg: UserMessage{
		Message: "Demasiadas solicitudes",
		Action:  "Espere un momento antes de volver a intentarlo",
		Code:    "RATE001",
	}},
}

var defaultMessage = UserMessage{
	Message: "Se produjo un error inesperado",
	Action:  "Inténtelo de nuevo o contacte con soporte",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-facing message. Unknown
// errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}
	return defaultMessage
}

// FormatUserError renders "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err matches a known pattern.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err; it returns nil for a nil error.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{Technical: err, User: MapError(err)}
}
