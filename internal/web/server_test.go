package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/detalles/internal/config"
	"github.com/JonMunkholm/detalles/internal/core"
	"github.com/JonMunkholm/detalles/internal/session"
	"github.com/google/uuid"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type fakeHistory struct {
	events []core.ExportEvent
	err    error
	limit  int
}

func (f *fakeHistory) RecentExports(_ context.Context, limit int) ([]core.ExportEvent, error) {
	f.limit = limit
	return f.events, f.err
}

func testConfig(t *testing.T, env map[string]string) *config.Config {
	t.Helper()
	if env == nil {
		env = map[string]string{}
	}
	if _, ok := env["RATE_LIMIT_ENABLED"]; !ok {
		env["RATE_LIMIT_ENABLED"] = "false"
	}
	cfg, err := config.LoadFrom(config.MapLookup(env))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	return cfg
}

func newTestServer(t *testing.T, history core.AuditLister) (*Server, *session.Session) {
	t.Helper()
	sess := session.New(core.NewExporter(""), nil, fixedClock, core.NewLogAuditRecorder(nil))
	srv := NewServer(testConfig(t, nil), sess, history, fixedClock)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv, sess
}

func validForm() url.Values {
	return url.Values{
		"saludo":              {"Sra."},
		"nombre":              {"Ana"},
		"apellido":            {"López"},
		"genero":              {"Femenino"},
		"email":               {"ana@example.com"},
		"fecha_de_nacimiento": {"1990-05-20"},
		"direccion":           {"Calle Mayor 1"},
	}
}

func do(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func postForm(srv *Server, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(srv, req)
}

func postJSON(srv *Server, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return do(srv, req)
}

func TestHandleForm(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := do(srv, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Detalles Personales") {
		t.Error("form page not rendered")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("security headers missing")
	}
	if rec.Header().Get("Content-Security-Policy") == "" {
		t.Error("CSP header missing")
	}
}

func TestHandleSubmit_InvalidShowsErrors(t *testing.T) {
	srv, sess := newTestServer(t, nil)

	form := validForm()
	form.Set("nombre", "Al")
	rec := postForm(srv, "/submit", form)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), core.MsgNombreCorto) {
		t.Error("nombre error not rendered")
	}
	if sess.Snapshot().Phase != session.PhaseDraft {
		t.Error("invalid submit left draft phase")
	}
}

func TestHandleSubmit_JSONStatus(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := postJSON(srv, "/submit", "")

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	var state StateResponse
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatal(err)
	}
	if state.Errors[core.FieldEmailAddr] != core.MsgEmailRequerido {
		t.Errorf("email error = %q", state.Errors[core.FieldEmailAddr])
	}
}

func TestConfirmFlow_DownloadsAndResets(t *testing.T) {
	srv, sess := newTestServer(t, nil)

	rec := postForm(srv, "/submit", validForm())
	if !strings.Contains(rec.Body.String(), "Confirmar y Descargar") {
		t.Fatalf("summary not shown: %s", rec.Body.String())
	}

	rec = postForm(srv, "/confirm", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != core.ContentTypeXLSX {
		t.Errorf("Content-Type = %q", ct)
	}
	_, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	if err != nil {
		t.Fatalf("Content-Disposition: %v", err)
	}
	if params["filename"] != "datos-Ana-2024-06-01.xlsx" {
		t.Errorf("filename = %q", params["filename"])
	}

	got, err := core.NewExporter("").ReadBack(bytes.NewReader(rec.Body.Bytes()))
	if err != nil {
		t.Fatalf("ReadBack() error = %v", err)
	}
	if got.Apellido != "López" {
		t.Errorf("Apellido = %q", got.Apellido)
	}
	if !sess.Snapshot().Record.IsZero() {
		t.Error("record not reset after download")
	}
}

func TestConfirm_WithoutSubmitConflicts(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/confirm", nil)
	req.Header.Set("Accept", "application/json")
	rec := do(srv, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	var resp ErrorResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Code != "SES002" {
		t.Errorf("code = %q, want SES002", resp.Code)
	}
}

func TestConfirm_SerializationFailureKeepsRecord(t *testing.T) {
	sess := session.New(core.NewExporter("bad:name"), nil, fixedClock, nil)
	srv := NewServer(testConfig(t, nil), sess, nil, fixedClock)
	defer srv.Shutdown(context.Background())

	postForm(srv, "/submit", validForm())
	rec := postForm(srv, "/confirm", nil)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "EXP001") {
		t.Error("failure notice not shown")
	}
	snap := sess.Snapshot()
	if snap.Record.Nombre != "Ana" || snap.Phase != session.PhaseConfirming {
		t.Errorf("session after failure = %+v", snap)
	}
}

func TestHandleCancel(t *testing.T) {
	srv, sess := newTestServer(t, nil)
	postForm(srv, "/submit", validForm())

	rec := postForm(srv, "/cancel", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `value="Ana"`) {
		t.Error("form not shown with the kept record")
	}
	if sess.Snapshot().Phase != session.PhaseDraft {
		t.Error("cancel did not return to draft")
	}
}

func TestHandleField(t *testing.T) {
	srv, sess := newTestServer(t, nil)

	rec := postJSON(srv, "/field", `{"field":"nombre","value":"Beatriz"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if sess.Snapshot().Record.Nombre != "Beatriz" {
		t.Error("edit not applied")
	}

	rec = postJSON(srv, "/field", `{"field":"telefono","value":"1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", rec.Code)
	}

	rec = postForm(srv, "/field", url.Values{"field": {"edad"}, "value": {"on"}})
	if rec.Code != http.StatusOK {
		t.Errorf("form edit status = %d", rec.Code)
	}
	if e := sess.Snapshot().Record.Edad; e == nil || !*e {
		t.Error("edad flag not set")
	}
}

func TestHandleField_InvalidValueIsClientError(t *testing.T) {
	srv, sess := newTestServer(t, nil)

	rec := postForm(srv, "/field", url.Values{"field": {"edad"}, "value": {"quizas"}})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("form status = %d, want 400", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "VAL004") {
		t.Errorf("form body missing VAL004: %s", rec.Body.String())
	}

	rec = postJSON(srv, "/field", `{"field":"edad","value":"quizas"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("JSON status = %d, want 400", rec.Code)
	}
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != "VAL004" {
		t.Errorf("code = %q, want VAL004", resp.Code)
	}

	form := validForm()
	form.Set("edad", "quizas")
	rec = postForm(srv, "/submit", form)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("submit status = %d, want 400", rec.Code)
	}
	if sess.Snapshot().Record.Edad != nil {
		t.Error("invalid edad value was stored")
	}
}

func TestHandleField_HTMXReturnsFragment(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/field", strings.NewReader("field=nombre&value=Ana"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("HX-Request", "true")
	rec := do(srv, req)

	body := rec.Body.String()
	if strings.Contains(body, "<html") || !strings.HasPrefix(body, `<section id="formulario">`) {
		t.Errorf("expected fragment, got %s", body)
	}
}

func TestHandleValidate(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantValid  bool
	}{
		{"valid record", `{"saludo":"Sr.","nombre":"Juan","apellido":"Pérez","genero":"Masculino","email":"j@p.es","fecha_de_nacimiento":"1980-01-01","direccion":"Av. 1"}`, http.StatusOK, true},
		{"invalid record", `{"nombre":"Jo"}`, http.StatusOK, false},
		{"unknown field", `{"telefono":"1"}`, http.StatusBadRequest, false},
		{"empty body", ``, http.StatusBadRequest, false},
		{"malformed", `{`, http.StatusBadRequest, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(srv, "/api/validate", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				var resp ErrorResponse
				json.NewDecoder(rec.Body).Decode(&resp)
				if resp.Code != "REQ004" {
					t.Errorf("code = %q, want REQ004", resp.Code)
				}
				return
			}
			var resp ValidateResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.Valid != tt.wantValid {
				t.Errorf("valid = %v, want %v (%v)", resp.Valid, tt.wantValid, resp.Errors)
			}
		})
	}
}

func TestHandleExportHistory(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		srv, _ := newTestServer(t, nil)
		rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/exports", nil))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("lists events", func(t *testing.T) {
		hist := &fakeHistory{events: []core.ExportEvent{{ID: uuid.New(), Outcome: core.OutcomeDelivered}}}
		srv, _ := newTestServer(t, hist)
		rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/exports?limit=9999", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if hist.limit != maxHistoryLimit {
			t.Errorf("limit = %d, want %d", hist.limit, maxHistoryLimit)
		}
		if !strings.Contains(rec.Body.String(), `"outcome":"delivered"`) {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}
	})

	t.Run("invalid limit", func(t *testing.T) {
		hist := &fakeHistory{}
		srv, _ := newTestServer(t, hist)
		for _, limit := range []string{"abc", "0", "-3"} {
			rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/exports?limit="+limit, nil))
			if rec.Code != http.StatusBadRequest {
				t.Errorf("limit=%s: status = %d, want 400", limit, rec.Code)
			}
			var resp ErrorResponse
			json.NewDecoder(rec.Body).Decode(&resp)
			if resp.Code != "REQ005" {
				t.Errorf("limit=%s: code = %q, want REQ005", limit, resp.Code)
			}
		}
		if hist.limit != 0 {
			t.Error("store queried with an invalid limit")
		}
	})

	t.Run("store error", func(t *testing.T) {
		srv, _ := newTestServer(t, &fakeHistory{err: errors.New("query export audit: connection refused")})
		rec := do(srv, httptest.NewRequest(http.MethodGet, "/api/exports", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
	})
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := do(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("healthz = %d %s", rec.Code, rec.Body.String())
	}
}

func TestRateLimit(t *testing.T) {
	sess := session.New(nil, nil, fixedClock, nil)
	cfg := testConfig(t, map[string]string{
		"RATE_LIMIT_ENABLED":             "true",
		"RATE_LIMIT_REQUESTS_PER_MINUTE": "2",
	})
	srv := NewServer(cfg, sess, nil, fixedClock)
	defer srv.Shutdown(context.Background())

	for i := 0; i < 2; i++ {
		if rec := do(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := do(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	now := fixedNow
	rl := &rateLimiter{visitors: map[string]*visitor{}, rate: 1, window: time.Minute, now: func() time.Time { return now }}

	if !rl.allow("a") {
		t.Fatal("first request rejected")
	}
	if rl.allow("a") {
		t.Fatal("second request allowed")
	}
	if !rl.allow("b") {
		t.Fatal("other client rejected")
	}
	now = now.Add(2 * time.Minute)
	if !rl.allow("a") {
		t.Fatal("request after window rejected")
	}
}

func TestMaxBody(t *testing.T) {
	sess := session.New(nil, nil, fixedClock, nil)
	cfg := testConfig(t, map[string]string{"EXPORT_MAX_BODY_BYTES": "32"})
	srv := NewServer(cfg, sess, nil, fixedClock)
	defer srv.Shutdown(context.Background())

	rec := postJSON(srv, "/api/validate", `{"nombre":"`+strings.Repeat("x", 64)+`"}`)
	var resp ErrorResponse
	json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Code != "REQ003" {
		t.Errorf("code = %q, want REQ003 (status %d)", resp.Code, rec.Code)
	}
}
