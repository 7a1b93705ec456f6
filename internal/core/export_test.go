package core

import (
	"bytes"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"
)

func openWorkbook(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestExport_SingleSheetLayout(t *testing.T) {
	data, err := NewExporter("").Export(validRecord())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	f := openWorkbook(t, data)
	sheets := f.GetSheetList()
	if len(sheets) != 1 || sheets[0] != "Datos" {
		t.Fatalf("sheets = %v, want [Datos]", sheets)
	}

	rows, err := f.GetRows("Datos")
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}

	wantHeader := []string{"saludo", "nombre", "apellido", "genero", "email", "fecha_de_nacimiento", "direccion"}
	if !reflect.DeepEqual(rows[0], wantHeader) {
		t.Errorf("header = %v, want %v", rows[0], wantHeader)
	}
	wantRow := []string{"Sr.", "Ana", "Lopez", "Femenino", "ana@x.com", "2000-01-01", "Calle 1"}
	if !reflect.DeepEqual(rows[1], wantRow) {
		t.Errorf("data row = %v, want %v", rows[1], wantRow)
	}
}

func TestExport_RoundTrip(t *testing.T) {
	yes, no := true, false
	records := []Record{
		validRecord(),
		{
			Saludo:            "Srta.",
			Nombre:            "María José",
			Apellido:          "Núñez-Ñandú",
			Genero:            "No estoy seguro",
			Email:             "mj@correo.ec",
			FechaDeNacimiento: "1990-02-28",
			Direccion:         "Av. Siempre Viva 742, Quito",
		},
		func() Record { r := validRecord(); r.Edad = &yes; return r }(),
		func() Record { r := validRecord(); r.Edad = &no; return r }(),
	}

	exp := NewExporter("")
	for _, rec := range records {
		t.Run(rec.Nombre, func(t *testing.T) {
			data, err := exp.Export(rec)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			got, err := exp.ReadBack(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("ReadBack() error = %v", err)
			}
			if !reflect.DeepEqual(got, rec) {
				t.Errorf("round trip = %+v, want %+v", got, rec)
			}
		})
	}
}

func TestExport_EdadFlagAsText(t *testing.T) {
	tests := []struct {
		flag bool
		want string
	}{
		{true, "Sí"},
		{false, "No"},
	}

	for _, tt := range tests {
		rec := validRecord()
		flag := tt.flag
		rec.Edad = &flag

		data, err := NewExporter("").Export(rec)
		if err != nil {
			t.Fatalf("Export() error = %v", err)
		}
		rows, err := openWorkbook(t, data).GetRows("Datos")
		if err != nil {
			t.Fatalf("GetRows() error = %v", err)
		}
		last := len(rows[0]) - 1
		if rows[0][last] != "edad" || rows[1][last] != tt.want {
			t.Errorf("edad column = %q/%q, want edad/%q", rows[0][last], rows[1][last], tt.want)
		}
	}
}

func TestExport_CustomSheetName(t *testing.T) {
	data, err := NewExporter("Registro").Export(validRecord())
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}
	if sheets := openWorkbook(t, data).GetSheetList(); len(sheets) != 1 || sheets[0] != "Registro" {
		t.Errorf("sheets = %v, want [Registro]", sheets)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestExport_SerializationError(t *testing.T) {
	err := NewExporter("").WriteTo(failingWriter{}, validRecord())
	if err == nil {
		t.Fatal("WriteTo() expected error")
	}

	var se *SerializationError
	if !errors.As(err, &se) {
		t.Fatalf("error type = %T, want *SerializationError", err)
	}
	if !IsSerializationError(err) {
		t.Error("IsSerializationError() = false, want true")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error %q should mention the cause", err)
	}
	if MapError(err).Code != "EXP001" {
		t.Errorf("MapError code = %q, want EXP001", MapError(err).Code)
	}
}

func TestExport_InvalidSheetName(t *testing.T) {
	_, err := NewExporter("bad/name:[]").Export(validRecord())
	if !IsSerializationError(err) {
		t.Errorf("Export() error = %v, want SerializationError", err)
	}
}

func TestFilename(t *testing.T) {
	now := time.Date(2024, 6, 1, 23, 30, 0, 0, time.UTC)
	tests := []struct {
		nombre string
		want   string
	}{
		{"Ana", "datos-Ana-2024-06-01.xlsx"},
		{"  Ana  ", "datos-Ana-2024-06-01.xlsx"},
		{"María José", "datos-María José-2024-06-01.xlsx"},
		{"../etc", "datos-.._etc-2024-06-01.xlsx"},
	}
	for _, tt := range tests {
		rec := validRecord()
		rec.Nombre = tt.nombre
		if got := Filename(rec, now); got != tt.want {
			t.Errorf("Filename(%q) = %q, want %q", tt.nombre, got, tt.want)
		}
	}
}

func TestScenario_ValidateThenExport(t *testing.T) {
	rec := Record{
		Saludo:            "Sr.",
		Nombre:            "Ana",
		Apellido:          "Lopez",
		Genero:            "Femenino",
		Email:             "ana@x.com",
		FechaDeNacimiento: "2000-01-01",
		Direccion:         "Calle 1",
	}
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	if errs := Validate(rec, now); !errs.Valid() {
		t.Fatalf("Validate() = %v, want valid", errs)
	}

	art, err := NewExporter("").Artifact(rec, now)
	if err != nil {
		t.Fatalf("Artifact() error = %v", err)
	}
	if !strings.HasPrefix(art.Filename, "datos-Ana-2024-06-01") {
		t.Errorf("Filename = %q, want prefix datos-Ana-2024-06-01", art.Filename)
	}
	if art.ContentType != ContentTypeXLSX {
		t.Errorf("ContentType = %q", art.ContentType)
	}
	if len(art.Data) == 0 {
		t.Error("artifact has no data")
	}
}

func TestReadBack_RejectsForeignWorkbook(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	f.NewSheet("Otra")
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if _, err := NewExporter("").ReadBack(&buf); err == nil {
		t.Error("ReadBack() expected error for a two-sheet workbook")
	}
}

func TestExport_RejectsValuesACellCannotHold(t *testing.T) {
	tests := []struct {
		name      string
		direccion string
		wantInErr string
	}{
		{"too long", strings.Repeat("a", excelize.TotalCellChars+1), "at most 32767"},
		{"control character", "Calle\x0b1", "U+000B"},
		{"invalid utf-8", "Calle \xff 1", "UTF-8"},
		{"noncharacter", "Calle \uFFFE 1", "U+FFFE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			rec.Direccion = tt.direccion
			if errs := Validate(rec, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)); !errs.Valid() {
				t.Fatalf("record should pass validation, got %v", errs)
			}

			data, err := NewExporter("").Export(rec)
			if data != nil {
				t.Error("Export() returned data for an unstorable value")
			}
			var se *SerializationError
			if !errors.As(err, &se) {
				t.Fatalf("Export() error = %v, want *SerializationError", err)
			}
			if se.Op != "write row" {
				t.Errorf("Op = %q, want write row", se.Op)
			}
			if !strings.Contains(err.Error(), FieldDireccion) || !strings.Contains(err.Error(), tt.wantInErr) {
				t.Errorf("error %q should name the field and mention %q", err, tt.wantInErr)
			}
		})
	}
}

func TestExport_RoundTripsCellLimits(t *testing.T) {
	tests := []struct {
		name      string
		direccion string
	}{
		{"exactly at the limit", strings.Repeat("ñ", excelize.TotalCellChars)},
		{"tabs and newlines", "Calle Mayor 1\n2º\tB"},
		{"astral plane", "Calle 🏠 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			rec.Direccion = tt.direccion

			data, err := NewExporter("").Export(rec)
			if err != nil {
				t.Fatalf("Export() error = %v", err)
			}
			got, err := NewExporter("").ReadBack(bytes.NewReader(data))
			if err != nil {
				t.Fatalf("ReadBack() error = %v", err)
			}
			if got.Direccion != tt.direccion {
				t.Errorf("direccion changed: got %d bytes, want %d", len(got.Direccion), len(tt.direccion))
			}
		})
	}
}
