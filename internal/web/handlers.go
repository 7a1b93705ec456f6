package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/JonMunkholm/detalles/internal/core"
	"github.com/JonMunkholm/detalles/internal/logging"
	"github.com/JonMunkholm/detalles/internal/session"
	"github.com/JonMunkholm/detalles/internal/web/templates"
	"github.com/google/uuid"
)

var errHistoryDisabled = errors.New("export history is not enabled")

// maxHistoryLimit caps GET /api/exports?limit=.
const maxHistoryLimit = 500

// FieldEdit is a single (fieldName, newValue) edit.
type FieldEdit struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// StateResponse is the JSON view of the session.
type StateResponse struct {
	Phase        string        `json:"phase"`
	Record       core.Record   `json:"record"`
	Errors       core.ErrorMap `json:"errors"`
	Notice       string        `json:"notice,omitempty"`
	LastExportID string        `json:"lastExportId,omitempty"`
}

// ValidateResponse is returned by POST /api/validate.
type ValidateResponse struct {
	Valid  bool          `json:"valid"`
	Errors core.ErrorMap `json:"errors"`
}

func (s *Server) view() templates.FormView {
	st := s.session.Snapshot()
	return templates.FormView{
		Record: st.Record,
		Errors: st.Errors,
		Phase:  st.Phase.String(),
		Notice: st.Notice,
	}
}

func (s *Server) state() StateResponse {
	st := s.session.Snapshot()
	resp := StateResponse{
		Phase:  st.Phase.String(),
		Record: st.Record,
		Errors: st.Errors,
		Notice: st.Notice,
	}
	if resp.Errors == nil {
		resp.Errors = core.ErrorMap{}
	}
	if st.LastExportID != uuid.Nil {
		resp.LastExportID = st.LastExportID.String()
	}
	return resp
}

// render writes the current session in the format the request asked for.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int) {
	if wantsJSON(r) {
		writeJSON(w, status, s.state())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	var err error
	if isHTMX(r) {
		err = templates.FormSection(s.view()).Render(r.Context(), w)
	} else {
		err = templates.Page(s.view()).Render(r.Context(), w)
	}
	if err != nil {
		logging.FromContext(r.Context()).Error("render form", "error", err)
	}
}

// handleForm renders the form page.
func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK)
}

// handleSessionState returns the session as JSON.
func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

// handleField applies one field edit, sent as JSON {"field","value"} or as
// form values field= and value=.
func (s *Server) handleField(w http.ResponseWriter, r *http.Request) {
	var edit FieldEdit
	if isJSONBody(r) {
		if err := decodeJSON(r, &edit); err != nil {
			s.respondError(w, r, err, http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			s.respondError(w, r, err, http.StatusBadRequest)
			return
		}
		edit = FieldEdit{Field: r.PostForm.Get("field"), Value: r.PostForm.Get("value")}
	}

	if err := s.session.Set(edit.Field, edit.Value); err != nil {
		s.respondError(w, r, err, sessionStatus(err))
		return
	}
	s.render(w, r, http.StatusOK)
}

// handleSubmit validates the record. A form post carries every field and is
// applied first; an unchecked edad box clears the flag.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !isJSONBody(r) {
		if err := r.ParseForm(); err != nil {
			s.respondError(w, r, err, http.StatusBadRequest)
			return
		}
		if err := s.applyForm(r); err != nil {
			s.respondError(w, r, err, sessionStatus(err))
			return
		}
	}

	errs := s.session.Submit()
	logging.FromContext(r.Context()).Info("record submitted",
		"valid", errs.Valid(),
		"invalid_fields", errs.Fields(),
	)

	status := http.StatusOK
	if !errs.Valid() && wantsJSON(r) {
		status = http.StatusUnprocessableEntity
	}
	s.render(w, r, status)
}

func (s *Server) applyForm(r *http.Request) error {
	if len(r.PostForm) == 0 {
		return nil
	}
	for _, spec := range core.FieldSpecs {
		if _, ok := r.PostForm[spec.Name]; !ok {
			continue
		}
		if err := s.session.Set(spec.Name, r.PostForm.Get(spec.Name)); err != nil {
			return err
		}
	}
	return s.session.Set(core.FieldEdad, r.PostForm.Get(core.FieldEdad))
}

// handleCancel leaves the confirmation step and keeps the record.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Cancel(); err != nil {
		s.respondError(w, r, err, sessionStatus(err))
		return
	}
	s.render(w, r, http.StatusOK)
}

// handleConfirm exports the record and streams it as an attachment.
func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	sink := &responseSink{w: w}
	art, err := s.session.ConfirmTo(r.Context(), sink)
	logger := logging.FromContext(r.Context())

	if err != nil {
		if sink.started {
			// Headers are gone; the client sees a truncated download.
			logger.Error("export delivery interrupted", "error", err)
			return
		}
		s.respondError(w, r, err, sessionStatus(err))
		return
	}

	logger.Info("export delivered",
		"export_id", s.session.Snapshot().LastExportID.String(),
		"bytes", len(art.Data),
	)
}

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleValidate validates a JSON record without touching the session.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var rec core.Record
	if err := decodeJSON(r, &rec); err != nil {
		s.respondError(w, r, err, http.StatusBadRequest)
		return
	}

	errs := core.Validate(rec, s.clock())
	if errs == nil {
		errs = core.ErrorMap{}
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Valid: errs.Valid(), Errors: errs})
}

// handleExportHistory lists recent export audit events.
func (s *Server) handleExportHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, r, errHistoryDisabled, http.StatusNotFound)
		return
	}

	limit := core.DefaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, r, fmt.Errorf("limit %q: %w", v, core.ErrInvalidParam), http.StatusBadRequest)
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	events, err := s.history.RecentExports(r.Context(), limit)
	if err != nil {
		s.respondError(w, r, err, http.StatusServiceUnavailable)
		return
	}
	if events == nil {
		events = []core.ExportEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": events})
}

// sessionStatus maps session and export errors to HTTP status codes.
func sessionStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrSubmitting), errors.Is(err, session.ErrNotConfirming):
		return http.StatusConflict
	case errors.Is(err, session.ErrInvalidRecord):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrUnknownField), errors.Is(err, core.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func isJSONBody(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/json"
}

// decodeJSON decodes a single JSON value, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return core.ErrEmptyBody
		}
		return err
	}
	return nil
}

// responseSink delivers an artifact as the HTTP response body.
type responseSink struct {
	w       http.ResponseWriter
	started bool
}

func (s *responseSink) Deliver(ctx context.Context, a core.Artifact) error {
	if err := ctx.Err(); err != nil {
		return &core.DeliveryError{Filename: a.Filename, Err: err}
	}

	h := s.w.Header()
	h.Set("Content-Type", a.ContentType)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename}))
	h.Set("Content-Length", strconv.Itoa(len(a.Data)))
	s.started = true
	s.w.WriteHeader(http.StatusOK)

	if _, err := s.w.Write(a.Data); err != nil {
		return &core.DeliveryError{Filename: a.Filename, Err: err}
	}
	return nil
}
