package core

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// DefaultHistoryLimit is the default number of audit entries returned.
const DefaultHistoryLimit = 50

const exportAuditSchema = `
CREATE TABLE IF NOT EXISTS export_audit (
	id          uuid PRIMARY KEY,
	outcome     text        NOT NULL,
	bytes       integer     NOT NULL DEFAULT 0,
	error_code  text,
	request_id  text,
	ip_address  text,
	user_agent  text,
	created_at  timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS export_audit_created_at_idx ON export_audit (created_at);
`

// PgAuditRecorder stores export events in the export_audit table.
type PgAuditRecorder struct {
	db DBTX
}

// NewPgAuditRecorder creates a recorder backed by db (usually a *pgxpool.Pool).
func NewPgAuditRecorder(db DBTX) *PgAuditRecorder {
	return &PgAuditRecorder{db: db}
}

// EnsureSchema creates the export_audit table if it does not exist.
func (r *PgAuditRecorder) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, exportAuditSchema); err != nil {
		return fmt.Errorf("create export_audit: %w", err)
	}
	return nil
}

// RecordExport inserts ev.
func (r *PgAuditRecorder) RecordExport(ctx context.Context, ev ExportEvent) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO export_audit (id, outcome, bytes, error_code, request_id, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		pgtype.UUID{Bytes: ev.ID, Valid: true},
		string(ev.Outcome),
		int32(ev.Bytes),
		toPgText(ev.ErrorCode),
		toPgText(ev.RequestID),
		toPgText(ev.IPAddress),
		toPgText(ev.UserAgent),
		pgtype.Timestamptz{Time: ev.CreatedAt, Valid: true},
	)
	if err != nil {
		return fmt.Errorf("insert export audit: %w", err)
	}
	return nil
}

// RecentExports returns the newest events first.
func (r *PgAuditRecorder) RecentExports(ctx context.Context, limit int) ([]ExportEvent, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, outcome, bytes, error_code, request_id, ip_address, user_agent, created_at
		FROM export_audit
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query export audit: %w", err)
	}
	defer rows.Close()

	var events []ExportEvent
	for rows.Next() {
		ev, err := scanExportEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export audit: %w", err)
	}
	return events, nil
}

// PurgeBefore deletes events created before cutoff and returns the count.
func (r *PgAuditRecorder) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM export_audit WHERE created_at < $1`,
		pgtype.Timestamptz{Time: cutoff, Valid: true})
	if err != nil {
		return 0, fmt.Errorf("purge export audit: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanExportEvent(rows pgx.Rows) (ExportEvent, error) {
	var (
		id        pgtype.UUID
		outcome   string
		size      int32
		errorCode pgtype.Text
		requestID pgtype.Text
		ipAddress pgtype.Text
		userAgent pgtype.Text
		createdAt pgtype.Timestamptz
	)
	if err := rows.Scan(&id, &outcome, &size, &errorCode, &requestID, &ipAddress, &userAgent, &createdAt); err != nil {
		return ExportEvent{}, fmt.Errorf("scan export audit: %w", err)
	}
	return ExportEvent{
		ID:        uuid.UUID(id.Bytes),
		Outcome:   ExportOutcome(outcome),
		Bytes:     int(size),
		ErrorCode: errorCode.String,
		RequestID: requestID.String,
		IPAddress: ipAddress.String,
		UserAgent: userAgent.String,
		CreatedAt: createdAt.Time,
	}, nil
}

// toPgText converts a string to pgtype.Text; empty strings become NULL.
func toPgText(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: s, Valid: true}
}
