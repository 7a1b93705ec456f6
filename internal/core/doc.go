// Package core provides the validation and export logic for personal-detail records.
//
// The package is the only part of the application with decision logic. It is
// independent of any UI or transport layer and is used unchanged by the web
// form, the CLI and tests.
//
// # Records
//
// A [Record] holds the seven form fields plus the optional edad flag.
// [FieldSpecs] lists the fields in Record order with their rules; the same
// order is used for export columns and form rendering. Edits arrive as
// (field, value) pairs and are applied with [Record.Set].
//
// # Validation
//
// [Validate] runs every field rule and returns an [ErrorMap]; an empty map
// means the record is valid. The current time is a parameter so age and
// "not in the future" checks are deterministic:
//
//	errs := core.Validate(rec, time.Now())
//	if !errs.Valid() {
//	    // show errs[field] next to each field
//	}
//
// # Export
//
// [Exporter] writes a validated record as a single-sheet XLSX workbook
// (sheet "Datos", header row plus one data row). [Exporter.Artifact] also
// names the file with [Filename]. Failures are returned as
// [*SerializationError]; the caller keeps the record for a retry. A [Sink]
// hands the artifact to the user, for example [DirSink] for the CLI.
//
// # Audit
//
// Every export attempt can be reported to an [AuditRecorder] as an
// [ExportEvent]. Events carry only ids, outcome and sizes, never record
// contents. [PgAuditRecorder] stores them in PostgreSQL and
// [StartAuditRetention] purges old entries.
//
// # Error Handling
//
// Technical errors are mapped to Spanish user-facing messages with support
// codes by [MapError]: VAL for validation, EXP for export, SES for session
// state, REQ for request problems, AUD for audit storage.
package core
