// Package session holds the state of one user's form: the draft record, the
// last validation result and where the record is in the submit/confirm flow.
//
// The core validator and exporter are pure; Session is the only mutable state
// and the only place that decides when a record is reset.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonMunkholm/detalles/internal/core"
	"github.com/google/uuid"
)

// Sentinel errors returned by Session operations.
var (
	ErrSubmitting    = core.ErrSubmitting
	ErrNotConfirming = core.ErrNotConfirming
	ErrInvalidRecord = core.ErrInvalidRecord
)

// Phase is the step of the form flow a session is in.
type Phase int

const (
	// PhaseDraft: the record is freely editable.
	PhaseDraft Phase = iota
	// PhaseConfirming: the record passed validation and the summary is shown.
	PhaseConfirming
	// PhaseSubmitting: an export is in progress; repeat confirms are rejected.
	PhaseSubmitting
)

func (p Phase) String() string {
	switch p {
	case PhaseDraft:
		return "draft"
	case PhaseConfirming:
		return "confirming"
	case PhaseSubmitting:
		return "submitting"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// State is a point-in-time copy of a session for rendering.
type State struct {
	Record core.Record
	Errors core.ErrorMap
	Phase  Phase

	// Notice is the user-facing message of the last failed confirm, if any.
	Notice string
	// LastExportID identifies the most recent successful export.
	LastExportID uuid.UUID
}

// Session owns a single draft record.
type Session struct {
	exporter *core.Exporter
	sink     core.Sink
	clock    func() time.Time
	auditor  core.AuditRecorder
	newID    func() uuid.UUID

	mu         sync.Mutex
	record     core.Record
	errors     core.ErrorMap
	phase      Phase
	notice     string
	lastExport uuid.UUID
}

// New creates a session with an empty draft.
// A nil clock uses time.Now; a nil auditor logs export events through slog.
func New(exporter *core.Exporter, sink core.Sink, clock func() time.Time, auditor core.AuditRecorder) *Session {
	if exporter == nil {
		exporter = core.NewExporter("")
	}
	if clock == nil {
		clock = time.Now
	}
	if auditor == nil {
		auditor = core.NewLogAuditRecorder(nil)
	}
	return &Session{
		exporter: exporter,
		sink:     sink,
		clock:    clock,
		auditor:  auditor,
		newID:    uuid.New,
	}
}

// Set applies a field edit and clears that field's error.
// Editing while the summary is shown returns the session to the draft phase.
func (s *Session) Set(field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseSubmitting {
		return ErrSubmitting
	}
	if err := s.record.Set(field, value); err != nil {
		return err
	}
	delete(s.errors, field)
	s.phase = PhaseDraft
	return nil
}

// Submit validates the current record. A valid record moves the session to
// the confirming phase; otherwise the errors are kept for display.
func (s *Session) Submit() core.ErrorMap {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseSubmitting {
		return s.errors
	}

	s.errors = core.Validate(s.record, s.clock())
	s.notice = ""
	if s.errors.Valid() {
		s.phase = PhaseConfirming
	} else {
		s.phase = PhaseDraft
	}
	return s.errors
}

// Cancel abandons the pending confirmation. The record is kept.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case PhaseSubmitting:
		return ErrSubmitting
	case PhaseConfirming:
		s.phase = PhaseDraft
		s.notice = ""
		return nil
	}
	return ErrNotConfirming
}

// Confirm exports the record and hands it to the session's sink.
//
// The record is validated again first. On success the session starts over with
// an empty draft; on any export or delivery failure it stays in the confirming
// phase with the record untouched so the user can retry.
func (s *Session) Confirm(ctx context.Context) (core.Artifact, error) {
	return s.ConfirmTo(ctx, s.sink)
}

// ConfirmTo is Confirm with a sink chosen by the caller, such as the HTTP
// response of the confirming request. A nil sink skips delivery.
func (s *Session) ConfirmTo(ctx context.Context, sink core.Sink) (core.Artifact, error) {
	s.mu.Lock()
	switch s.phase {
	case PhaseSubmitting:
		s.mu.Unlock()
		return core.Artifact{}, ErrSubmitting
	case PhaseDraft:
		s.mu.Unlock()
		return core.Artifact{}, ErrNotConfirming
	}

	id := s.newID()
	now := s.clock()
	if errs := core.Validate(s.record, now); !errs.Valid() {
		s.errors = errs
		s.phase = PhaseDraft
		s.mu.Unlock()

		err := fmt.Errorf("%w: %w", ErrInvalidRecord, errs.Err())
		s.audit(ctx, core.NewExportEvent(ctx, id, core.OutcomeRejected, 0, err, now))
		return core.Artifact{}, err
	}

	rec := s.record
	s.phase = PhaseSubmitting
	s.mu.Unlock()

	art, err := s.exporter.Artifact(rec, now)
	outcome := core.OutcomeSerializationFailed
	if err == nil && sink != nil {
		if err = sink.Deliver(ctx, art); err != nil {
			outcome = core.OutcomeDeliveryFailed
		}
	}

	s.mu.Lock()
	if err != nil {
		s.phase = PhaseConfirming
		s.notice = core.FormatUserError(err)
	} else {
		s.record = core.Record{}
		s.errors = nil
		s.phase = PhaseDraft
		s.notice = ""
		s.lastExport = id
		outcome = core.OutcomeDelivered
	}
	s.mu.Unlock()

	s.audit(ctx, core.NewExportEvent(ctx, id, outcome, len(art.Data), err, now))
	if err != nil {
		return core.Artifact{}, err
	}
	return art, nil
}

// Snapshot returns a copy of the session state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	errs := make(core.ErrorMap, len(s.errors))
	for k, v := range s.errors {
		errs[k] = v
	}
	rec := s.record
	if rec.Edad != nil {
		b := *rec.Edad
		rec.Edad = &b
	}
	return State{
		Record:       rec,
		Errors:       errs,
		Phase:        s.phase,
		Notice:       s.notice,
		LastExportID: s.lastExport,
	}
}

// Reset discards the draft and any pending confirmation.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase == PhaseSubmitting {
		return ErrSubmitting
	}
	s.record = core.Record{}
	s.errors = nil
	s.phase = PhaseDraft
	s.notice = ""
	return nil
}

func (s *Session) audit(ctx context.Context, ev core.ExportEvent) {
	if err := s.auditor.RecordExport(ctx, ev); err != nil {
		slog.Warn("export audit failed", "export_id", ev.ID.String(), "error", err)
	}
}
