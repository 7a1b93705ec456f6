// Command detalles serves the personal-details form and validates or exports
// record files from the command line.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/detalles/internal/config"
	"github.com/JonMunkholm/detalles/internal/core"
	"github.com/JonMunkholm/detalles/internal/logging"
	"github.com/JonMunkholm/detalles/internal/session"
	"github.com/JonMunkholm/detalles/internal/web"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// CLI is the top-level command structure for detalles.
type CLI struct {
	Version kong.VersionFlag `help:"Show version." short:"V"`
	EnvFile string           `help:"Environment file loaded before reading configuration." default:".env" type:"path"`

	Serve    ServeCmd    `cmd:"" help:"Serve the form over HTTP."`
	Validate ValidateCmd `cmd:"" help:"Validate a record file."`
	Export   ExportCmd   `cmd:"" help:"Validate a record file and write it as an Excel workbook."`
	History  HistoryCmd  `cmd:"" help:"List recent exports from the audit database."`
}

// runtime carries what every command needs after startup.
type runtime struct {
	cfg *config.Config
	out io.Writer
}

// ServeCmd runs the HTTP form server.
type ServeCmd struct {
	Host string `help:"Override SERVER_HOST."`
	Port int    `help:"Override SERVER_PORT."`
}

// Run executes the serve command.
func (c *ServeCmd) Run(rt *runtime) error {
	cfg := rt.cfg
	if c.Host != "" {
		cfg.Server.Host = c.Host
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	audit, err := openAudit(ctx, cfg)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer audit.Close()

	if audit.store != nil {
		go core.StartAuditRetention(ctx, audit.store, core.RetentionConfig{
			RetentionDays: cfg.Audit.RetentionDays,
			Interval:      cfg.Audit.PurgeInterval,
		}, nil)
	}

	sess := session.New(core.NewExporter(cfg.Export.SheetName), nil, nil, audit.recorder)
	server := web.NewServer(cfg, sess, audit.lister(), nil)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("serve: shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

// ValidateCmd checks a record file without exporting it.
type ValidateCmd struct {
	File   string `arg:"" help:"Record file (.yaml, .yml, .json or .xlsx)." type:"existingfile"`
	Now    string `help:"Evaluate dates as of this day (YYYY-MM-DD)."`
	Format string `help:"Output format." enum:"text,json" default:"text"`
}

// Run executes the validate command.
func (c *ValidateCmd) Run(rt *runtime) error {
	clock, err := parseNow(c.Now)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	rec, err := readRecordFile(c.File, rt.cfg.Export.SheetName)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	errs := core.Validate(rec, clock())
	if c.Format == "json" {
		if errs == nil {
			errs = core.ErrorMap{}
		}
		enc := json.NewEncoder(rt.out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"valid": errs.Valid(), "errors": errs}); err != nil {
			return fmt.Errorf("validate: %w", err)
		}
	} else {
		printErrors(rt.out, c.File, errs)
	}

	if !errs.Valid() {
		return fmt.Errorf("%s: %w", c.File, core.ErrInvalidRecord)
	}
	return nil
}

// ExportCmd validates a record file and writes the workbook to a directory.
type ExportCmd struct {
	File  string `arg:"" help:"Record file (.yaml, .yml, .json or .xlsx)." type:"existingfile"`
	Out   string `help:"Output directory (default EXPORT_OUTPUT_DIR)." type:"path"`
	Now   string `help:"Export as of this day (YYYY-MM-DD); also names the file."`
	Force bool   `help:"Overwrite an existing file with the same name."`
}

// Run executes the export command.
func (c *ExportCmd) Run(rt *runtime) error {
	clock, err := parseNow(c.Now)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	rec, err := readRecordFile(c.File, rt.cfg.Export.SheetName)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}

	out := c.Out
	if out == "" {
		out = rt.cfg.Export.OutputDir
	}
	sink := core.NewDirSink(out)
	sink.Overwrite = c.Force

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	audit, err := openAudit(ctx, rt.cfg)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	defer audit.Close()

	sess := session.New(core.NewExporter(rt.cfg.Export.SheetName), sink, clock, audit.recorder)
	values := rec.Values()
	for i, col := range rec.Columns() {
		if err := sess.Set(col, values[i]); err != nil {
			return fmt.Errorf("export: %w", err)
		}
	}

	if errs := sess.Submit(); !errs.Valid() {
		printErrors(rt.out, c.File, errs)
		return fmt.Errorf("%s: %w", c.File, core.ErrInvalidRecord)
	}

	art, err := sess.Confirm(ctx)
	if err != nil {
		return fmt.Errorf("export: %w (%s)", err, core.MapError(err).Code)
	}
	fmt.Fprintf(rt.out, "wrote %s (%d bytes)\n", sink.Path(art.Filename), len(art.Data))
	return nil
}

// HistoryCmd prints recent export audit events.
type HistoryCmd struct {
	Limit int `help:"Number of events to show." default:"20"`
}

// Run executes the history command.
func (c *HistoryCmd) Run(rt *runtime) error {
	if !rt.cfg.Audit.Enabled() {
		return errors.New("history: AUDIT_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Audit.Timeout)
	defer cancel()

	audit, err := openAudit(ctx, rt.cfg)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	defer audit.Close()

	events, err := audit.store.RecentExports(ctx, c.Limit)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	printEvents(rt.out, events)
	return nil
}

// auditStack is the export audit wiring shared by the commands.
type auditStack struct {
	recorder core.AuditRecorder
	store    *core.PgAuditRecorder
	pool     *pgxpool.Pool
}

func (a *auditStack) lister() core.AuditLister {
	if a.store == nil {
		return nil
	}
	return a.store
}

// Close releases the database pool, if any.
func (a *auditStack) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

// openAudit always logs export events and, when a database URL is
// configured, also stores them in PostgreSQL.
func openAudit(ctx context.Context, cfg *config.Config) (*auditStack, error) {
	logRec := core.NewLogAuditRecorder(nil)
	if !cfg.Audit.Enabled() {
		return &auditStack{recorder: logRec}, nil
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.Audit.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse audit database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.Audit.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect audit database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.Audit.Timeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping audit database: %w", err)
	}

	store := core.NewPgAuditRecorder(pool)
	if err := store.EnsureSchema(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("export audit stored in database", "max_conns", cfg.Audit.MaxConns)

	return &auditStack{
		recorder: core.MultiAuditRecorder{
			logRec,
			core.TimeoutAuditRecorder{Recorder: store, Timeout: cfg.Audit.Timeout},
		},
		store: store,
		pool:  pool,
	}, nil
}

// readRecordFile decodes a Record from YAML, JSON or an exported workbook,
// chosen by file extension. Unknown keys are rejected.
func readRecordFile(path, sheetName string) (core.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return core.Record{}, err
	}
	defer f.Close()

	var rec core.Record
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(f)
		dec.KnownFields(true)
		if err := dec.Decode(&rec); err != nil {
			return core.Record{}, fmt.Errorf("decode %s: %w", path, err)
		}
	case ".json":
		dec := json.NewDecoder(f)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&rec); err != nil {
			return core.Record{}, fmt.Errorf("decode %s: %w", path, err)
		}
	case ".xlsx":
		if rec, err = core.NewExporter(sheetName).ReadBack(f); err != nil {
			return core.Record{}, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		return core.Record{}, fmt.Errorf("unsupported record file type %q", ext)
	}
	return rec, nil
}

// parseNow returns a clock fixed to day, or time.Now when day is empty.
func parseNow(day string) (func() time.Time, error) {
	if day == "" {
		return time.Now, nil
	}
	t, err := core.ParseDate(day, time.Local)
	if err != nil {
		return nil, err
	}
	return func() time.Time { return t }, nil
}

func printErrors(w io.Writer, name string, errs core.ErrorMap) {
	if errs.Valid() {
		fmt.Fprintf(w, "%s: OK\n", name)
		return
	}
	fmt.Fprintf(w, "%s: %d invalid field(s)\n", name, len(errs))
	for _, field := range errs.Fields() {
		fmt.Fprintf(w, "  %-20s %s\n", field, errs[field])
	}
}

func printEvents(w io.Writer, events []core.ExportEvent) {
	if len(events) == 0 {
		fmt.Fprintln(w, "no exports recorded")
		return
	}
	for _, ev := range events {
		code := ev.ErrorCode
		if code == "" {
			code = "-"
		}
		fmt.Fprintf(w, "%s  %s  %-20s %7d  %s\n",
			ev.CreatedAt.Local().Format(time.DateTime), ev.ID, ev.Outcome, ev.Bytes, code)
	}
}

// exitCode maps command errors to process exit codes: 2 for an invalid
// record, 1 for everything else.
func exitCode(err error) int {
	if errors.Is(err, core.ErrInvalidRecord) {
		return 2
	}
	return 1
}

// loadEnvFile loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("detalles"),
		kong.Description("Personal-details form: validation and Excel export."),
		kong.UsageOnError(),
		kong.Vars{"version": version + " " + commit + " " + date},
	)

	if err := loadEnvFile(cli.EnvFile); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
	logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	if err := kctx.Run(&runtime{cfg: cfg, out: os.Stdout}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(exitCode(err))
	}
}
