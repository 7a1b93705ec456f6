// Package core provides the validation and export logic for personal-detail records.
// This package has no UI dependencies and can be used by any frontend.
package core

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownField is returned when an edit names a field the Record does not have.
	ErrUnknownField = errors.New("unknown field")

	// ErrInvalidValue is returned when an edit carries a value the field cannot hold.
	ErrInvalidValue = errors.New("invalid field value")
)

// FieldType represents the expected data type for a Record field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldEmail
)

// Field names, in Record order. They double as column headers in the export.
const (
	FieldSaludo          = "saludo"
	FieldNombre          = "nombre"
	FieldApellido        = "apellido"
	FieldGenero          = "genero"
	FieldEmailAddr       = "email"
	FieldFechaNacimiento = "fecha_de_nacimiento"
	FieldDireccion       = "direccion"
	FieldEdad            = "edad"
)

// FieldSpec defines the rules and presentation metadata for a single field.
type FieldSpec struct {
	Name       string    // Field name, also the export column header
	Label      string    // Form label
	Type       FieldType // Expected data type
	Required   bool      // Must be non-empty
	MinLength  int       // Minimum length in runes of the untrimmed value (0 = none)
	EnumValues []string  // Valid values for FieldEnum type
}

// Saludos lists the accepted salutations.
var Saludos = []string{"Sr.", "Sra.", "Srta.", "Otro"}

// Generos lists the accepted gender options.
var Generos = []string{"Masculino", "Femenino", "No estoy seguro"}

// FieldSpecs describes every core field in Record order.
// The optional edad flag is not listed; it is exported only when present.
var FieldSpecs = []FieldSpec{
	{Name: FieldSaludo, Label: "Saludo", Type: FieldEnum, Required: true, EnumValues: Saludos},
	{Name: FieldNombre, Label: "Nombre", Type: FieldText, Required: true, MinLength: 3},
	{Name: FieldApellido, Label: "Apellido", Type: FieldText, Required: true},
	{Name: FieldGenero, Label: "Género", Type: FieldEnum, Required: true, EnumValues: Generos},
	{Name: FieldEmailAddr, Label: "Email", Type: FieldEmail, Required: true},
	{Name: FieldFechaNacimiento, Label: "Fecha de Nacimiento", Type: FieldDate, Required: true},
	{Name: FieldDireccion, Label: "Dirección", Type: FieldText, Required: true},
}

// Record is a single personal-detail submission.
type Record struct {
	Saludo            string `json:"saludo" yaml:"saludo"`
	Nombre            string `json:"nombre" yaml:"nombre"`
	Apellido          string `json:"apellido" yaml:"apellido"`
	Genero            string `json:"genero" yaml:"genero"`
	Email             string `json:"email" yaml:"email"`
	FechaDeNacimiento string `json:"fecha_de_nacimiento" yaml:"fecha_de_nacimiento"`
	Direccion         string `json:"direccion" yaml:"direccion"`

	// Edad is the optional "mayor de edad" flag carried by one form variant.
	Edad *bool `json:"edad,omitempty" yaml:"edad,omitempty"`
}

// Get returns the string value of a core field.
func (r Record) Get(field string) (string, error) {
	switch field {
	case FieldSaludo:
		return r.Saludo, nil
	case FieldNombre:
		return r.Nombre, nil
	case FieldApellido:
		return r.Apellido, nil
	case FieldGenero:
		return r.Genero, nil
	case FieldEmailAddr:
		return r.Email, nil
	case FieldFechaNacimiento:
		return r.FechaDeNacimiento, nil
	case FieldDireccion:
		return r.Direccion, nil
	case FieldEdad:
		if r.Edad == nil {
			return "", nil
		}
		return FormatFlag(*r.Edad), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, field)
}

// Set applies a single field edit. Values are stored as given; validation
// happens on submit, never on edit.
func (r *Record) Set(field, value string) error {
	switch field {
	case FieldSaludo:
		r.Saludo = value
	case FieldNombre:
		r.Nombre = value
	case FieldApellido:
		r.Apellido = value
	case FieldGenero:
		r.Genero = value
	case FieldEmailAddr:
		r.Email = value
	case FieldFechaNacimiento:
		r.FechaDeNacimiento = value
	case FieldDireccion:
		r.Direccion = value
	case FieldEdad:
		if strings.TrimSpace(value) == "" {
			r.Edad = nil
			return nil
		}
		b, ok := ParseFlag(value)
		if !ok {
			return fmt.Errorf("%w for %s: %q", ErrInvalidValue, FieldEdad, value)
		}
		r.Edad = &b
	default:
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return nil
}

// Columns returns the export header row for the record.
func (r Record) Columns() []string {
	cols := make([]string, 0, len(FieldSpecs)+1)
	for _, spec := range FieldSpecs {
		cols = append(cols, spec.Name)
	}
	if r.Edad != nil {
		cols = append(cols, FieldEdad)
	}
	return cols
}

// Values returns the export data row, aligned with Columns.
func (r Record) Values() []string {
	cols := r.Columns()
	vals := make([]string, len(cols))
	for i, col := range cols {
		vals[i], _ = r.Get(col)
	}
	return vals
}

// IsZero reports whether the record is the empty draft.
func (r Record) IsZero() bool {
	return r == Record{}
}

// FormatFlag renders a boolean flag the way the spreadsheet expects it.
func FormatFlag(b bool) string {
	if b {
		return "Sí"
	}
	return "No"
}

// ParseFlag accepts checkbox and spreadsheet representations of a boolean.
func ParseFlag(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on", "1", "yes", "sí", "si":
		return true, true
	case "false", "off", "0", "no":
		return false, true
	}
	return false, false
}
