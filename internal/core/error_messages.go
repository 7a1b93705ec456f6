// Package core provides the validation and export logic for personal-detail records.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support
// reference. Messages are in Spanish, the language of the form.
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL001 - Invalid record: one or more fields failed validation
//	         Action: Corrige los campos marcados
//	         Match: ErrInvalidRecord, ValidationErrors
//
//	VAL002 - Unknown field: an edit named a field the form does not have
//	         Action: Recarga el formulario
//	         Match: ErrUnknownField
//
//	VAL003 - Invalid date: a date could not be parsed
//	         Action: Usa el formato AAAA-MM-DD
//	         Patterns: "invalid date"
//
//	VAL004 - Invalid value: an edit carried a value the field cannot hold
//	         Action: Revisa el valor ingresado
//	         Match: ErrInvalidValue
//
// # Export Errors (EXP001-EXP099)
//
//	EXP001 - Serialization failed: the Excel file could not be generated
//	         Action: Intenta de nuevo; tus datos se conservaron
//	         Match: *SerializationError
//
//	EXP002 - Delivery failed: the file was generated but not saved/sent
//	         Action: Intenta de nuevo; tus datos se conservaron
//	         Match: *DeliveryError
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Export in progress: a confirmation is already running
//	         Action: Espera a que termine la descarga
//	         Match: ErrSubmitting
//
//	SES002 - Nothing to confirm: confirm called outside the confirmation step
//	         Action: Envía el formulario antes de confirmar
//	         Match: ErrNotConfirming
//
// # Request Errors (REQ001-REQ099)
//
//	REQ001 - Request cancelled        Patterns: "context canceled"
//	REQ002 - Request timeout          Patterns: "context deadline exceeded"
//	REQ003 - Request too large        Patterns: "request body too large"
//	REQ004 - Malformed request        Match: ErrEmptyBody
//	                                  Patterns: "invalid character", "cannot unmarshal",
//	                                  "json: unknown field", "unexpected eof"
//	REQ005 - Invalid query parameter  Match: ErrInvalidParam
//
// # Rate Limiting (RATE001-RATE099)
//
//	RATE001 - Rate limited            Patterns: "rate limit"
//
// # Audit Errors (AUD001-AUD099)
//
//	AUD001 - Audit store unavailable  Patterns: "export audit", "connection refused"
//	AUD002 - History disabled         Patterns: "export history is not enabled"
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//
// # Matching
//
// Typed and sentinel errors are matched first with errors.Is / errors.As, so
// wrapping never hides them. Remaining errors fall back to case-insensitive
// substring patterns; the first match wins.
package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by the hosts around the core.
var (
	// ErrInvalidRecord is returned when a record fails validation at confirm time.
	ErrInvalidRecord = errors.New("record failed validation")

	// ErrSubmitting is returned when an export is already in progress.
	ErrSubmitting = errors.New("export already in progress")

	// ErrNotConfirming is returned when confirm or cancel is called outside the confirmation step.
	ErrNotConfirming = errors.New("record is not awaiting confirmation")

	// ErrEmptyBody is returned when a request that needs a body has none.
	ErrEmptyBody = errors.New("empty request body")

	// ErrInvalidParam is returned for a malformed query parameter.
	ErrInvalidParam = errors.New("invalid query parameter")
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

var (
	msgInvalidRecord = UserMessage{
		Message: "Hay campos con errores",
		Action:  "Corrige los campos marcados",
		Code:    "VAL001",
	}
	msgUnknownField = UserMessage{
		Message: "El campo no existe en el formulario",
		Action:  "Recarga el formulario",
		Code:    "VAL002",
	}
	msgInvalidValue = UserMessage{
		Message: "Valor no válido para el campo",
		Action:  "Revisa el valor ingresado",
		Code:    "VAL004",
	}
	msgSerialization = UserMessage{
		Message: "No se pudo generar el archivo Excel",
		Action:  "Intenta de nuevo; tus datos se conservaron",
		Code:    "EXP001",
	}
	msgDelivery = UserMessage{
		Message: "No se pudo entregar el archivo Excel",
		Action:  "Intenta de nuevo; tus datos se conservaron",
		Code:    "EXP002",
	}
	msgSubmitting = UserMessage{
		Message: "Ya se está generando el archivo",
		Action:  "Espera a que termine la descarga",
		Code:    "SES001",
	}
	msgNotConfirming = UserMessage{
		Message: "No hay datos pendientes de confirmar",
		Action:  "Envía el formulario antes de confirmar",
		Code:    "SES002",
	}
	msgCancelled = UserMessage{
		Message: "La solicitud fue cancelada",
		Action:  "Intenta de nuevo",
		Code:    "REQ001",
	}
	msgTimeout = UserMessage{
		Message: "La solicitud tardó demasiado",
		Action:  "Intenta de nuevo en unos momentos",
		Code:    "REQ002",
	}
	msgMalformed = UserMessage{
		Message: "La solicitud no tiene un formato válido",
		Action:  "Envía un JSON válido",
		Code:    "REQ004",
	}
	msgInvalidParam = UserMessage{
		Message: "Parámetro de consulta no válido",
		Action:  "Revisa los parámetros de la URL",
		Code:    "REQ005",
	}
	msgAuditStore = UserMessage{
		Message: "No se pudo registrar la exportación",
		Action:  "Revisa la conexión con la base de datos de auditoría",
		Code:    "AUD001",
	}
)

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// More specific patterns come before general ones.
var errorPatterns = []errorPattern{
	{
		pattern: "invalid date",
		msg: UserMessage{
			Message: "Fecha inválida",
			Action:  "Usa el formato AAAA-MM-DD",
			Code:    "VAL003",
		},
	},
	{pattern: "context canceled", msg: msgCancelled},
	{pattern: "context deadline exceeded", msg: msgTimeout},
	{
		pattern: "request body too large",
		msg: UserMessage{
			Message: "La solicitud es demasiado grande",
			Action:  "Reduce el tamaño de los datos enviados",
			Code:    "REQ003",
		},
	},
	{pattern: "invalid character", msg: msgMalformed},
	{pattern: "cannot unmarshal", msg: msgMalformed},
	{pattern: "json: unknown field", msg: msgMalformed},
	{pattern: "unexpected eof", msg: msgMalformed},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Demasiadas solicitudes",
			Action:  "Espera un momento antes de intentarlo de nuevo",
			Code:    "RATE001",
		},
	},
	{
		pattern: "export history is not enabled",
		msg: UserMessage{
			Message: "El historial de exportaciones no está disponible",
			Action:  "Configura AUDIT_DATABASE_URL para guardar el historial",
			Code:    "AUD002",
		},
	},
	{pattern: "export audit", msg: msgAuditStore},
	{pattern: "connection refused", msg: msgAuditStore},
}

// defaultMessage is returned when no pattern matches.
var defaultMessage = UserMessage{
	Message: "Ocurrió un error inesperado",
	Action:  "Intenta de nuevo o contacta a soporte",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns an empty UserMessage for a nil error.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var (
		serErr *SerializationError
		delErr *DeliveryError
		valErr ValidationErrors
	)
	switch {
	case errors.As(err, &serErr):
		return msgSerialization
	case errors.As(err, &delErr):
		return msgDelivery
	case errors.Is(err, ErrSubmitting):
		return msgSubmitting
	case errors.Is(err, ErrNotConfirming):
		return msgNotConfirming
	case errors.Is(err, ErrInvalidRecord), errors.As(err, &valErr):
		return msgInvalidRecord
	case errors.Is(err, ErrUnknownField):
		return msgUnknownField
	case errors.Is(err, ErrInvalidValue):
		return msgInvalidValue
	case errors.Is(err, ErrEmptyBody):
		return msgMalformed
	case errors.Is(err, ErrInvalidParam):
		return msgInvalidParam
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	}

	errStr := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(errStr, p.pattern) {
			return p.msg
		}
	}
	return defaultMessage
}

// FormatUserError returns a formatted error string for display.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := MapError(err)
	if msg.Action != "" {
		return fmt.Sprintf("%s (Código: %s). %s", msg.Message, msg.Code, msg.Action)
	}
	return fmt.Sprintf("%s (Código: %s)", msg.Message, msg.Code)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
