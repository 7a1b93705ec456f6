// Package logging configures the process-wide slog logger and builds
// request-scoped loggers carrying chi's request id.
//
// Record contents are never logged: handlers log field names, error codes and
// export ids only.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattn/go-isatty"
)

// Supported output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Setup installs a logger writing to w as the slog default and returns it.
//
// Level values: "debug", "info", "warn", "error" (default: "info").
// Format values: "text", "json"; empty picks DefaultFormat for w.
func Setup(w io.Writer, level, format string) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if format == "" {
		format = DefaultFormat(w)
	}

	opts := &slog.HandlerOptions{
		Level: ParseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// DefaultFormat returns text for an interactive terminal and json otherwise,
// so piped or containerised output stays machine readable.
func DefaultFormat(w io.Writer) string {
	f, ok := w.(*os.File)
	if !ok {
		return FormatJSON
	}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		return FormatText
	}
	return FormatJSON
}

// ParseLevel converts a string log level to slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromContext returns the default logger, tagged with the chi request id
// when ctx carries one.
//
// Usage:
//
//	func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
//	    logger := logging.FromContext(r.Context())
//	    logger.Info("record submitted", "invalid_fields", errs.Fields())
//	}
func FromContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}

	return logger
}

// WithFields returns a request logger with additional structured fields.
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
