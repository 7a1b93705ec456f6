package core

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{name: "nil error returns empty", err: nil, wantCode: ""},
		{name: "serialization error", err: &SerializationError{Op: "encode workbook", Err: errors.New("boom")}, wantCode: "EXP001"},
		{name: "wrapped serialization error", err: fmt.Errorf("confirm: %w", &SerializationError{Op: "write row", Err: errors.New("x")}), wantCode: "EXP001"},
		{name: "delivery error", err: &DeliveryError{Filename: "a.xlsx", Err: errors.New("closed pipe")}, wantCode: "EXP002"},
		{name: "submitting", err: ErrSubmitting, wantCode: "SES001"},
		{name: "not confirming", err: fmt.Errorf("confirm: %w", ErrNotConfirming), wantCode: "SES002"},
		{name: "invalid record", err: ErrInvalidRecord, wantCode: "VAL001"},
		{name: "validation errors", err: ValidationErrors{{Field: "nombre", Message: MsgNombreCorto}}, wantCode: "VAL001"},
		{name: "unknown field", err: fmt.Errorf("%w: %q", ErrUnknownField, "x"), wantCode: "VAL002"},
		{name: "invalid date text", err: errors.New(`invalid date "x" (use YYYY-MM-DD)`), wantCode: "VAL003"},
		{name: "context canceled", err: context.Canceled, wantCode: "REQ001"},
		{name: "deadline exceeded", err: fmt.Errorf("export: %w", context.DeadlineExceeded), wantCode: "REQ002"},
		{name: "body too large", err: errors.New("http: request body too large"), wantCode: "REQ003"},
		{name: "bad json", err: errors.New("invalid character 'x' looking for beginning of value"), wantCode: "REQ004"},
		{name: "unknown json field", err: errors.New(`json: unknown field "telefono"`), wantCode: "REQ004"},
		{name: "empty body", err: ErrEmptyBody, wantCode: "REQ004"},
		{name: "invalid value", err: fmt.Errorf("%w for edad: %q", ErrInvalidValue, "quizas"), wantCode: "VAL004"},
		{name: "invalid param", err: fmt.Errorf("limit %q: %w", "abc", ErrInvalidParam), wantCode: "REQ005"},
		{name: "history disabled", err: errors.New("export history is not enabled"), wantCode: "AUD002"},
		{name: "rate limit", err: errors.New("rate limit exceeded"), wantCode: "RATE001"},
		{name: "audit store", err: errors.New("insert export audit: dial tcp: connection refused"), wantCode: "AUD001"},
		{name: "case insensitive", err: errors.New("RATE LIMIT"), wantCode: "RATE001"},
		{name: "unknown error returns default", err: errors.New("some random internal error"), wantCode: "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
			if tt.err != nil && got.Message == "" {
				t.Error("MapError() message is empty")
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	result := FormatUserError(&SerializationError{Op: "encode workbook", Err: errors.New("boom")})

	expected := "No se pudo generar el archivo Excel (Código: EXP001). Intenta de nuevo; tus datos se conservaron"
	if result != expected {
		t.Errorf("FormatUserError() = %q, want %q", result, expected)
	}
	if FormatUserError(nil) != "" {
		t.Error("FormatUserError(nil) should be empty")
	}
}

func TestIsUserFacing(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error is not user facing", nil, false},
		{"known error is user facing", ErrSubmitting, true},
		{"unknown error is not user facing", errors.New("random internal error xyz"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUserFacing(tt.err); got != tt.want {
				t.Errorf("IsUserFacing() = %v, want %v", got, tt.want)
			}
		})
	}
}
