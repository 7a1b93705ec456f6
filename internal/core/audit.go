package core

// audit.go records the outcome of every export attempt.
//
// Audit entries never contain record contents: only the export id, outcome,
// artifact size, error code and request metadata. The default recorder writes
// to the structured log; PgAuditRecorder stores entries in PostgreSQL.

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ExportOutcome is the result of an export attempt.
type ExportOutcome string

const (
	OutcomeDelivered           ExportOutcome = "delivered"
	OutcomeRejected            ExportOutcome = "rejected"
	OutcomeSerializationFailed ExportOutcome = "serialization_failed"
	OutcomeDeliveryFailed      ExportOutcome = "delivery_failed"
)

// ExportEvent is a single audit entry.
type ExportEvent struct {
	ID        uuid.UUID     `json:"id"`
	Outcome   ExportOutcome `json:"outcome"`
	Bytes     int           `json:"bytes,omitempty"`
	ErrorCode string        `json:"errorCode,omitempty"`
	RequestID string        `json:"requestId,omitempty"`
	IPAddress string        `json:"ipAddress,omitempty"`
	UserAgent string        `json:"userAgent,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
}

// NewExportEvent builds an event for outcome, filling request metadata from ctx.
// A non-nil err is reduced to its user-facing code.
func NewExportEvent(ctx context.Context, id uuid.UUID, outcome ExportOutcome, size int, err error, now time.Time) ExportEvent {
	reqID, ip, ua := RequestMetaFromContext(ctx)
	ev := ExportEvent{
		ID:        id,
		Outcome:   outcome,
		Bytes:     size,
		RequestID: reqID,
		IPAddress: ip,
		UserAgent: ua,
		CreatedAt: now.UTC(),
	}
	if err != nil {
		ev.ErrorCode = MapError(err).Code
	}
	return ev
}

// AuditRecorder persists export events.
type AuditRecorder interface {
	RecordExport(ctx context.Context, ev ExportEvent) error
}

// AuditLister is implemented by recorders that can return past events.
type AuditLister interface {
	RecentExports(ctx context.Context, limit int) ([]ExportEvent, error)
}

// LogAuditRecorder writes export events to a slog logger.
type LogAuditRecorder struct {
	Logger *slog.Logger
}

// NewLogAuditRecorder creates a recorder writing to logger, or slog.Default when nil.
func NewLogAuditRecorder(logger *slog.Logger) *LogAuditRecorder {
	return &LogAuditRecorder{Logger: logger}
}

// RecordExport logs ev at info level, or warn level for failures.
func (r *LogAuditRecorder) RecordExport(ctx context.Context, ev ExportEvent) error {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	level := slog.LevelInfo
	if ev.Outcome != OutcomeDelivered {
		level = slog.LevelWarn
	}

	logger.Log(ctx, level, "export audit",
		"export_id", ev.ID.String(),
		"outcome", string(ev.Outcome),
		"bytes", ev.Bytes,
		"error_code", ev.ErrorCode,
		"request_id", ev.RequestID,
		"ip", ev.IPAddress,
	)
	return nil
}

// MultiAuditRecorder fans events out to several recorders.
// Every recorder is called; the first error is returned.
type MultiAuditRecorder []AuditRecorder

// RecordExport calls RecordExport on each recorder.
func (m MultiAuditRecorder) RecordExport(ctx context.Context, ev ExportEvent) error {
	var first error
	for _, r := range m {
		if err := r.RecordExport(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// TimeoutAuditRecorder bounds each write to Recorder and detaches it from the
// caller's cancellation, so a client disconnecting mid-download still leaves
// an audit entry.
type TimeoutAuditRecorder struct {
	Recorder AuditRecorder
	Timeout  time.Duration
}

// RecordExport forwards ev with a fresh deadline.
func (r TimeoutAuditRecorder) RecordExport(ctx context.Context, ev ExportEvent) error {
	ctx = context.WithoutCancel(ctx)
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	return r.Recorder.RecordExport(ctx, ev)
}
