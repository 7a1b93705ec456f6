package core

import (
	"errors"
	"reflect"
	"testing"
)

func TestRecord_SetGet(t *testing.T) {
	var rec Record
	for _, spec := range FieldSpecs {
		if err := rec.Set(spec.Name, "v-"+spec.Name); err != nil {
			t.Fatalf("Set(%q) error = %v", spec.Name, err)
		}
	}
	for _, spec := range FieldSpecs {
		got, err := rec.Get(spec.Name)
		if err != nil {
			t.Fatalf("Get(%q) error = %v", spec.Name, err)
		}
		if got != "v-"+spec.Name {
			t.Errorf("Get(%q) = %q, want %q", spec.Name, got, "v-"+spec.Name)
		}
	}
}

func TestRecord_SetStoresRawValue(t *testing.T) {
	var rec Record
	if err := rec.Set(FieldNombre, "  Ana  "); err != nil {
		t.Fatal(err)
	}
	if rec.Nombre != "  Ana  " {
		t.Errorf("Nombre = %q, want untrimmed value", rec.Nombre)
	}
}

func TestRecord_UnknownField(t *testing.T) {
	var rec Record
	if err := rec.Set("telefono", "123"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("Set() error = %v, want ErrUnknownField", err)
	}
	if err := rec.Set(FieldEdad, "quizas"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("Set(edad) error = %v, want ErrInvalidValue", err)
	}
	if _, err := rec.Get("telefono"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("Get() error = %v, want ErrUnknownField", err)
	}
	if !rec.IsZero() {
		t.Error("failed Set modified the record")
	}
}

func TestRecord_EdadFlag(t *testing.T) {
	var rec Record

	if err := rec.Set(FieldEdad, "on"); err != nil {
		t.Fatal(err)
	}
	if rec.Edad == nil || !*rec.Edad {
		t.Fatalf("Edad = %v, want true", rec.Edad)
	}
	if got, _ := rec.Get(FieldEdad); got != "Sí" {
		t.Errorf("Get(edad) = %q, want Sí", got)
	}

	if err := rec.Set(FieldEdad, ""); err != nil {
		t.Fatal(err)
	}
	if rec.Edad != nil {
		t.Errorf("Edad = %v, want nil after clearing", *rec.Edad)
	}

	if err := rec.Set(FieldEdad, "tal vez"); err == nil {
		t.Error("Set(edad, \"tal vez\") expected error")
	}
}

func TestRecord_Columns(t *testing.T) {
	base := []string{"saludo", "nombre", "apellido", "genero", "email", "fecha_de_nacimiento", "direccion"}

	var rec Record
	if got := rec.Columns(); !reflect.DeepEqual(got, base) {
		t.Errorf("Columns() = %v, want %v", got, base)
	}

	no := false
	rec.Edad = &no
	want := append(append([]string{}, base...), "edad")
	if got := rec.Columns(); !reflect.DeepEqual(got, want) {
		t.Errorf("Columns() with edad = %v, want %v", got, want)
	}
	if vals := rec.Values(); vals[len(vals)-1] != "No" {
		t.Errorf("last value = %q, want No", vals[len(vals)-1])
	}
}

func TestParseFlag(t *testing.T) {
	tests := []struct {
		in     string
		want   bool
		wantOK bool
	}{
		{"true", true, true},
		{"on", true, true},
		{"Sí", true, true},
		{"SI", true, true},
		{" 1 ", true, true},
		{"false", false, true},
		{"No", false, true},
		{"off", false, true},
		{"", false, false},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseFlag(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseFlag(%q) = (%v, %v), want (%v, %v)", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
