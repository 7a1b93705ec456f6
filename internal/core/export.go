package core

// export.go turns a validated Record into a single-sheet XLSX workbook.
//
// The workbook always has the same shape:
//   - one sheet (named "Datos" unless configured otherwise)
//   - row 1: field names in Record order
//   - row 2: the Record's values; the optional edad flag as "Sí"/"No"
//
// Every failure while building or encoding the workbook is reported as a
// *SerializationError so callers can tell it apart from delivery problems and
// keep the record for a retry.

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// ContentTypeXLSX is the MIME type of the exported workbook.
const ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// DefaultSheetName is the name of the single worksheet in every export.
const DefaultSheetName = "Datos"

// SerializationError reports a failure to produce the workbook bytes.
type SerializationError struct {
	Op  string // Step that failed, e.g. "write row"
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialization failed: %s: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

// IsSerializationError reports whether err is (or wraps) a SerializationError.
func IsSerializationError(err error) bool {
	var se *SerializationError
	return errors.As(err, &se)
}

// Artifact is an export ready to be offered to the user.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Exporter writes Records as XLSX workbooks.
type Exporter struct {
	SheetName string
}

// NewExporter creates an exporter for the given sheet name.
// An empty name falls back to DefaultSheetName.
func NewExporter(sheetName string) *Exporter {
	if strings.TrimSpace(sheetName) == "" {
		sheetName = DefaultSheetName
	}
	return &Exporter{SheetName: sheetName}
}

func (e *Exporter) sheet() string {
	if e == nil || e.SheetName == "" {
		return DefaultSheetName
	}
	return e.SheetName
}

// Export serializes rec and returns the workbook bytes.
func (e *Exporter) Export(rec Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.WriteTo(&buf, rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Artifact serializes rec and names it for the export date now.
func (e *Exporter) Artifact(rec Record, now time.Time) (Artifact, error) {
	data, err := e.Export(rec)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		Filename:    Filename(rec, now),
		ContentType: ContentTypeXLSX,
		Data:        data,
	}, nil
}

// WriteTo serializes rec as a workbook into w.
func (e *Exporter) WriteTo(w io.Writer, rec Record) error {
	f, err := e.build(rec)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Write(w); err != nil {
		return &SerializationError{Op: "encode workbook", Err: err}
	}
	return nil
}

// build assembles the in-memory workbook.
func (e *Exporter) build(rec Record) (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := e.sheet()

	fail := func(op string, err error) (*excelize.File, error) {
		f.Close()
		return nil, &SerializationError{Op: op, Err: err}
	}

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return fail("name sheet", err)
	}

	header := toRow(rec.Columns())
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fail("write header", err)
	}
	values := rec.Values()
	for i, v := range values {
		if err := checkCell(v); err != nil {
			return fail("write row", fmt.Errorf("%s: %w", header[i], err))
		}
	}
	data := toRow(values)
	if err := f.SetSheetRow(sheet, "A2", &data); err != nil {
		return fail("write row", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fail("header style", err)
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return fail("header style", err)
	}

	lastCol, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return fail("column width", err)
	}
	if err := f.SetColWidth(sheet, "A", lastCol, 22); err != nil {
		return fail("column width", err)
	}

	return f, nil
}

// toRow converts string cells to the slice type excelize expects.
// Cells are always written as text so dates and numbers round-trip unchanged.
func toRow(values []string) []interface{} {
	row := make([]interface{}, len(values))
	for i, v := range values {
		row[i] = v
	}
	return row
}

// checkCell rejects values a workbook cell cannot hold unchanged: excelize
// truncates long text and the XML encoder replaces invalid characters.
func checkCell(v string) error {
	if !utf8.ValidString(v) {
		return errors.New("value is not valid UTF-8")
	}
	if n := utf8.RuneCountInString(v); n > excelize.TotalCellChars {
		return fmt.Errorf("value has %d characters, a cell holds at most %d", n, excelize.TotalCellChars)
	}
	for _, r := range v {
		if !isXMLChar(r) {
			return fmt.Errorf("value contains %U, which a workbook cannot store", r)
		}
	}
	return nil
}

// isXMLChar reports whether r is allowed in an XML 1.0 document.
func isXMLChar(r rune) bool {
	switch {
	case r == '\t' || r == '\n' || r == '\r':
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	}
	return false
}

// ReadBack parses a workbook produced by Export and returns its data row as a Record.
func (e *Exporter) ReadBack(r io.Reader) (Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Record{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) != 1 {
		return Record{}, fmt.Errorf("expected exactly one sheet, found %d", len(sheets))
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Record{}, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) != 2 {
		return Record{}, fmt.Errorf("expected header and one data row, found %d rows", len(rows))
	}

	var rec Record
	header, values := rows[0], rows[1]
	for i, col := range header {
		// Trailing empty cells are not returned by GetRows.
		var v string
		if i < len(values) {
			v = values[i]
		}
		if err := rec.Set(col, v); err != nil {
			return Record{}, fmt.Errorf("column %d: %w", i+1, err)
		}
	}
	return rec, nil
}

// Filename returns the download name for rec exported on now's date:
// datos-<nombre>-<YYYY-MM-DD>.xlsx. Path separators and control characters in
// the name are replaced so the result is always a single path element.
func Filename(rec Record, now time.Time) string {
	return fmt.Sprintf("datos-%s-%s.xlsx", safeNamePart(rec.Nombre), now.Format(DateLayout))
}

func safeNamePart(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}
