package core

// validation.go provides the business rules a Record must satisfy before export.
//
// Every field is checked independently: all rules run and all violations are
// reported together, one message per field. Validation never fails with an
// error; the result is purely data (an ErrorMap). Anything that depends on the
// current date takes it as an explicit argument so results are reproducible.

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// MinimumAge is the youngest age, in whole years, accepted at submission.
const MinimumAge = 18

// DateLayout is the ISO date format used for fecha_de_nacimiento.
const DateLayout = "2006-01-02"

// emailRegex is the deliberately loose local@domain.tld check used by the form.
var emailRegex = regexp.MustCompile(`\S+@\S+\.\S+`)

// User-facing validation messages.
const (
	MsgNombreRequerido    = "El nombre es requerido"
	MsgNombreCorto        = "Mínimo 3 caracteres"
	MsgApellidoRequerido  = "El apellido es requerido"
	MsgGeneroRequerido    = "Selecciona tu género"
	MsgGeneroInvalido     = "Género inválido"
	MsgEmailRequerido     = "El email es requerido"
	MsgEmailInvalido      = "Email inválido"
	MsgFechaRequerida     = "La fecha de nacimiento es requerida"
	MsgFechaInvalida      = "Fecha de nacimiento inválida"
	MsgFechaFutura        = "La fecha de nacimiento no puede ser hoy o en el futuro"
	MsgEdadMinima         = "Debes tener al menos 18 años"
	MsgDireccionRequerida = "La dirección es requerida"
	MsgSaludoRequerido    = "El saludo es requerido"
	MsgSaludoInvalido     = "Saludo inválido"
)

var requiredMessages = map[string]string{
	FieldSaludo:          MsgSaludoRequerido,
	FieldNombre:          MsgNombreRequerido,
	FieldApellido:        MsgApellidoRequerido,
	FieldGenero:          MsgGeneroRequerido,
	FieldEmailAddr:       MsgEmailRequerido,
	FieldFechaNacimiento: MsgFechaRequerida,
	FieldDireccion:       MsgDireccionRequerida,
}

var enumMessages = map[string]string{
	FieldSaludo: MsgSaludoInvalido,
	FieldGenero: MsgGeneroInvalido,
}

// ErrorMap maps a field name to its validation message.
// A field that is absent from the map is valid.
type ErrorMap map[string]string

// Valid returns true if no field has an error.
func (m ErrorMap) Valid() bool {
	return len(m) == 0
}

// Fields returns the invalid field names in Record order.
func (m ErrorMap) Fields() []string {
	order := make(map[string]int, len(FieldSpecs))
	for i, spec := range FieldSpecs {
		order[spec.Name] = i
	}
	fields := make([]string, 0, len(m))
	for f := range m {
		fields = append(fields, f)
	}
	sort.SliceStable(fields, func(i, j int) bool {
		oi, iok := order[fields[i]]
		oj, jok := order[fields[j]]
		if iok && jok {
			return oi < oj
		}
		if iok != jok {
			return iok
		}
		return fields[i] < fields[j]
	})
	return fields
}

// Err converts the map into an error, or nil when the record is valid.
func (m ErrorMap) Err() error {
	if m.Valid() {
		return nil
	}
	errs := make(ValidationErrors, 0, len(m))
	for _, f := range m.Fields() {
		errs = append(errs, ValidationError{Field: f, Message: m[f]})
	}
	return errs
}

// ValidationError represents a single validation error for a field.
type ValidationError struct {
	Field   string // Field name
	Value   string // The invalid value, when useful for display
	Message string // Human-readable error message
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

// ValidationErrors is every field error of a rejected record.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	parts := make([]string, len(e))
	for i, ve := range e {
		parts[i] = ve.Error()
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validate checks rec against every field rule, using now as the current time.
// It never returns nil; an empty map means the record is valid.
func Validate(rec Record, now time.Time) ErrorMap {
	errs := make(ErrorMap)
	for _, spec := range FieldSpecs {
		value, _ := rec.Get(spec.Name)
		if msg := validateField(spec, value, now); msg != "" {
			errs[spec.Name] = msg
		}
	}
	return errs
}

// validateField returns the message for the first rule value breaks, or "".
func validateField(spec FieldSpec, value string, now time.Time) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		if spec.Required {
			return requiredMessages[spec.Name]
		}
		return ""
	}

	// Presence is judged on the trimmed value, length on the value as typed.
	if spec.MinLength > 0 && utf8.RuneCountInString(value) < spec.MinLength {
		return fmt.Sprintf("Mínimo %d caracteres", spec.MinLength)
	}

	switch spec.Type {
	case FieldEnum:
		if !contains(spec.EnumValues, trimmed) {
			return enumMessages[spec.Name]
		}
	case FieldEmail:
		if !emailRegex.MatchString(value) {
			return MsgEmailInvalido
		}
	case FieldDate:
		return validateBirthDate(trimmed, now)
	}
	return ""
}

// validateBirthDate enforces "strictly before today" and the minimum age.
// The date is interpreted in now's location so "today" is the caller's today.
func validateBirthDate(value string, now time.Time) string {
	birth, err := ParseDate(value, now.Location())
	if err != nil {
		return MsgFechaInvalida
	}
	today := truncateToDate(now)
	if !birth.Before(today) {
		return MsgFechaFutura
	}
	if Age(birth, today) < MinimumAge {
		return MsgEdadMinima
	}
	return ""
}

// ParseDate parses an ISO date in the given location.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (use YYYY-MM-DD): %w", value, err)
	}
	return t, nil
}

// Age returns the number of whole years between birth and on. A year only
// counts once the birth month and day have been reached.
func Age(birth, on time.Time) int {
	years := on.Year() - birth.Year()
	if on.Month() < birth.Month() || (on.Month() == birth.Month() && on.Day() < birth.Day()) {
		years--
	}
	return years
}

func truncateToDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func contains(values []string, v string) bool {
	for _, ev := range values {
		if ev == v {
			return true
		}
	}
	return false
}
