package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cbm/medreport/internal/config"
	"github.com/cbm/medreport/internal/domain/compilation"
	"github.com/cbm/medreport/internal/domain/report"
	"github.com/cbm/medreport/internal/domain/roster"
	"github.com/cbm/medreport/internal/domain/study"
	"github.com/cbm/medreport/internal/platform/convert"
	"github.com/cbm/medreport/internal/platform/db"
	"github.com/cbm/medreport/internal/platform/ledger"
	"github.com/cbm/medreport/internal/platform/logging"
	"github.com/cbm/medreport/internal/platform/metrics"
	"github.com/cbm/medreport/internal/platform/pdf"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "medreport",
		Short:        "Assemble per-patient medical report packets",
		SilenceUsage: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(datesCmd())
	root.AddCommand(patientsCmd())
	root.AddCommand(splitCmd())
	root.AddCommand(buildCmd())
	root.AddCommand(migrateCmd())
	return root
}

// app is the wiring shared by every command.
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	ledger  ledger.Store
	metrics *metrics.Collector
	svc     *compilation.Service
}

func newApp(ctx context.Context, out io.Writer) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(logging.Options{Format: logFormat(cfg), Level: cfg.LogLevel, Out: out})
	if err != nil {
		return nil, err
	}

	engine, err := pdf.NewEngine(pdf.TextEngine(cfg.TextEngine), cfg.UnidocLicenseKey)
	if err != nil {
		return nil, err
	}

	store, err := ledger.Open(ctx, ledger.Options{
		DSN:           cfg.LedgerDSN,
		Schema:        cfg.LedgerSchema,
		MigrationsDir: cfg.MigrationsDir,
		MaxConns:      cfg.DBMaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("open run ledger: %w", err)
	}

	collector := metrics.New()
	svc := compilation.NewService(
		compilation.Options{
			DataRoot:    cfg.DataRoot,
			OutputRoot:  cfg.OutputRoot,
			ScratchRoot: cfg.ScratchRoot,
			RosterFile:  cfg.RosterFile,
			Study: study.Options{
				RXMaxWidth:         cfg.RXMaxWidth,
				AudiometryDPI:      cfg.AudiometryDPI,
				AudiometryMaxWidth: cfg.AudiometryMaxWidth,
			},
		},
		compilation.Deps{
			Engine:   engine,
			Covers:   convert.NewLibreOffice(cfg.LibreOfficeBin),
			Images:   convert.NewImages(),
			Rescaler: convert.NewRescaler(),
			Ledger:   store,
			Metrics:  collector,
		},
		logger,
	)
	return &app{cfg: cfg, logger: logger, ledger: store, metrics: collector, svc: svc}, nil
}

func (a *app) Close() {
	if err := a.ledger.Close(); err != nil {
		a.logger.Warn().Msgf("close run ledger: %v", err)
	}
}

// logFormat keeps console output for development and switches to JSON
// elsewhere unless a format was chosen explicitly.
func logFormat(cfg *config.Config) string {
	if cfg.LogFormat == logging.FormatConsole && cfg.IsProduction() {
		return logging.FormatJSON
	}
	return cfg.LogFormat
}

// signalContext is cancelled on SIGINT or SIGTERM so a bulk run stops between
// patients.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signalContext()
	defer cancel()
	a, err := newApp(ctx, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func datesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dates",
		Short: "List compilation dates under DATA_ROOT",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(_ context.Context, a *app) error {
				dates, err := a.svc.Dates()
				if err != nil {
					return err
				}
				for _, d := range dates {
					fmt.Fprintln(cmd.OutOrStdout(), d)
				}
				return nil
			})
		},
	}
}

func patientsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patients",
		Short: "List the roster of a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			return withApp(cmd, func(_ context.Context, a *app) error {
				r, err := a.svc.Patients(date)
				if err != nil {
					return err
				}
				printRoster(cmd.OutOrStdout(), r)
				return nil
			})
		},
	}
	cmd.Flags().String("date", "", "Compilation date folder")
	cmd.MarkFlagRequired("date")
	return cmd
}

func splitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "split",
		Short: "Split bulk study documents into per-patient documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				run, err := a.svc.Split(ctx, date)
				if run != nil {
					printSplit(cmd.OutOrStdout(), run)
				}
				return err
			})
		},
	}
	cmd.Flags().String("date", "", "Compilation date folder")
	cmd.MarkFlagRequired("date")
	return cmd
}

func buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build report packets for one or every patient of a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			date, _ := cmd.Flags().GetString("date")
			row, _ := cmd.Flags().GetInt("row")
			return withApp(cmd, func(ctx context.Context, a *app) error {
				var (
					run *compilation.BuildRun
					err error
				)
				if row >= 0 {
					run, err = a.svc.BuildOne(ctx, date, row)
				} else {
					run, err = a.svc.BuildAll(ctx, date)
				}
				if run != nil && run.Summary != nil {
					printSummary(cmd.OutOrStdout(), run.Summary)
				}
				return err
			})
		},
	}
	cmd.Flags().String("date", "", "Compilation date folder")
	cmd.Flags().Int("row", -1, "Roster index as listed by `patients`; all patients when omitted")
	cmd.MarkFlagRequired("date")
	return cmd
}

func printRoster(w io.Writer, r *roster.Roster) {
	for _, p := range r.Records {
		fmt.Fprintf(w, "%3d  %s %s (%s) - %s\n", p.Index, p.LastName, p.FirstName, p.NationalID, p.Detail)
	}
	for _, d := range r.Dropped {
		fmt.Fprintf(w, "     row %d skipped: %s\n", d.SheetRow, d.Reason)
	}
}

func printSplit(w io.Writer, run *compilation.SplitRun) {
	fmt.Fprintf(w, "%-14s %-10s %s\n", "STUDY", "DOCUMENTS", "STATUS")
	for _, st := range run.Studies {
		status := "no bulk document"
		docs := st.Existing
		switch {
		case st.Ran():
			docs = len(st.Outcome.Artifacts)
			misses := 0
			if st.Outcome.Result != nil {
				misses = len(st.Outcome.Result.Misses)
			}
			status = fmt.Sprintf("split %s, %d pages unmatched", filepath.Base(st.Source), misses)
		case st.Existing > 0:
			status = "already split"
		}
		fmt.Fprintf(w, "%-14s %-10d %s\n", st.Study, docs, status)
	}
}

func printSummary(w io.Writer, sum *report.Summary) {
	for _, res := range sum.Results {
		var missing []string
		for _, it := range res.Items {
			if it.Status != report.ItemIncluded {
				missing = append(missing, it.Name)
			}
		}
		line := fmt.Sprintf("%-8s %s", res.Status, res.Patient)
		if res.Output != "" {
			line += fmt.Sprintf(" -> %s (%d pages)", res.Output, res.Pages)
		}
		if len(missing) > 0 {
			line += " missing: " + strings.Join(missing, ", ")
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "%d written (%d incomplete), %d failed\n", sum.Built, sum.Partial, sum.Failed)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run run-ledger database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				fmt.Fprintf(cmd.OutOrStdout(), "Running migrations on schema: %s\n", schema)
				count, err := db.EnsureSchema(ctx, m.Pool(), schema, m.Dir())
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("schema", "", "Target schema (default LEDGER_SCHEMA)")
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(ctx context.Context, m *db.Migrator, schema string) error {
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printMigrations(cmd.OutOrStdout(), schema, statuses)
				return nil
			})
		},
	}
	statusCmd.Flags().String("schema", "", "Target schema (default LEDGER_SCHEMA)")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, m *db.Migrator, schema string) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if !cfg.LedgerIsPostgres() {
		return fmt.Errorf("migrations need a postgres:// LEDGER_DSN; the SQLite ledger creates its table on open")
	}
	schema, _ := cmd.Flags().GetString("schema")
	if schema == "" {
		schema = cfg.LedgerSchema
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}
	if err := db.ValidSchema(schema); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	pool, err := db.NewPool(ctx, cfg.LedgerDSN, db.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, dir), schema)
}

func printMigrations(w io.Writer, schema string, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "Migration status for schema: %s\n", schema)
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
