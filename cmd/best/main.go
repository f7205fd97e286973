// Command best manages an embedded clinical observation store: one database
// file holding patients, visits, coded observations, and the reference
// vocabulary that resolves them.
package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/best/best/internal/config"
	"github.com/best/best/internal/demo"
	"github.com/best/best/internal/domain/codelookup"
	"github.com/best/best/internal/domain/concept"
	"github.com/best/best/internal/domain/observation"
	"github.com/best/best/internal/domain/patient"
	"github.com/best/best/internal/domain/visit"
	"github.com/best/best/internal/exporter"
	"github.com/best/best/internal/importer"
	"github.com/best/best/internal/platform/bundle"
	"github.com/best/best/internal/platform/cda"
	"github.com/best/best/internal/platform/db"
	"github.com/best/best/internal/platform/logging"
	"github.com/best/best/internal/platform/seed"
)

// Process exit codes, stable for scripting.
const (
	exitOK        = 0
	exitInvalid   = 2
	exitStorage   = 3
	exitDuplicate = 4
	exitIO        = 5
)

// Sentinels for failures that originate in the command layer itself.
var (
	errInvalid = errors.New("invalid input")
	errIO      = errors.New("i/o failure")
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		return exitCode(err)
	}
	return exitOK
}

// exitCode folds an error chain onto the documented exit codes. Anything
// unclassified counts as invalid input, which covers usage errors too.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, db.ErrDuplicate):
		return exitDuplicate
	case errors.Is(err, db.ErrFileLocked),
		errors.Is(err, db.ErrMigrationFailed),
		errors.Is(err, db.ErrChecksumMismatch),
		errors.Is(err, db.ErrConstraintViolation),
		errors.Is(err, db.ErrTransactionTimeout),
		errors.Is(err, db.ErrStorageFailure):
		return exitStorage
	case errors.Is(err, errIO),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, fs.ErrPermission):
		return exitIO
	case errors.Is(err, bundle.ErrInvalidStructure),
		errors.Is(err, cda.ErrSignatureInvalid),
		errors.Is(err, cda.ErrUnsigned),
		errors.Is(err, db.ErrNotFound),
		errors.Is(err, errInvalid):
		return exitInvalid
	default:
		return exitInvalid
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "best",
		Short:         "Clinical observation store engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("db", "", "database file (overrides BEST_DB_PATH)")

	root.AddCommand(
		newInitCmd(),
		newMigrateCmd(),
		newSeedCmd(),
		newImportCmd(),
		newExportCmd(),
		newDemoCmd(),
		newResetCmd(),
	)
	return root
}

// engine bundles the opened store with everything the commands call.
type engine struct {
	cfg   *config.Config
	store *db.Store
	log   zerolog.Logger

	patients     patient.Repository
	visits       visit.Repository
	observations observation.Repository
	resolver     *concept.Resolver

	closers []func() error
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
}

func openEngine(cmd *cobra.Command) (*engine, error) {
	return openEngineAt(cmd, "")
}

// openEngineAt wires configuration, logging, the store and the repositories.
// An explicit dbPath wins over the --db flag, which wins over the environment.
func openEngineAt(cmd *cobra.Command, dbPath string) (*engine, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalid, err)
	}
	if dbPath == "" {
		dbPath, _ = cmd.Flags().GetString("db")
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalid, err)
	}

	log, closeLog := logging.New(logging.Options{
		Path:       cfg.LogPath,
		Level:      cfg.LogLevel,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		Console:    cfg.IsDev(),
	})

	store, err := db.Open(cmd.Context(), cfg.DBPath, db.Options{
		BusyTimeout: cfg.BusyTimeout(),
		TxTimeout:   cfg.TxTimeout(),
	})
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	e := &engine{
		cfg:          cfg,
		store:        store,
		log:          log,
		patients:     patient.NewRepository(store),
		visits:       visit.NewRepository(store),
		observations: observation.NewRepository(store),
		closers:      []func() error{closeLog, store.Close},
	}
	e.resolver = concept.NewResolver(
		concept.NewRepository(store),
		codelookup.NewRepository(store),
		cfg.NormalizeCodes,
	)
	return e, nil
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init <dbPath>",
		Short: "Create the database file and apply the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngineAt(cmd, args[0])
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := db.NewMigrator(e.store).Up(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "initialised %s (%d migrations applied)\n", e.store.Path(), n)
			return nil
		},
	}
}

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := db.NewMigrator(e.store).Up(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			st, err := db.NewMigrator(e.store).Status(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "total:    %d\n", st.Total)
			fmt.Fprintf(out, "executed: %d\n", st.Executed)
			fmt.Fprintf(out, "pending:  %d\n", st.Pending)
			for _, name := range st.PendingNames {
				fmt.Fprintf(out, "  - %s\n", name)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Verify checksums of applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			m := db.NewMigrator(e.store)
			if err := m.Validate(cmd.Context()); err != nil {
				return err
			}
			st, err := m.Status(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checksums verified (%d applied)\n", st.Executed)
			return nil
		},
	})

	return cmd
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load the reference vocabulary and default users",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := db.NewMigrator(e.store).Up(cmd.Context()); err != nil {
				return err
			}
			res, err := seed.NewLoader(e.store, e.log).Run(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, f := range res.Files {
				fmt.Fprintf(out, "%-20s inserted %4d, skipped %4d\n", f.File, f.Inserted, f.Skipped)
			}
			inserted, skipped := res.Totals()
			fmt.Fprintf(out, "seed complete: %d inserted, %d already present\n", inserted, skipped)
			return nil
		},
	}
}

func newImportCmd() *cobra.Command {
	var strategy string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a bundle file (csv, json, hl7-cda, html)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch strategy {
			case "", bundle.StrategySkip, bundle.StrategyUpdate, bundle.StrategyError:
			default:
				return fmt.Errorf("%w: unknown strategy %q (want skip, update or error)", errInvalid, strategy)
			}

			content, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("%w: %w", errIO, err)
			}

			res := importer.ImportFile(content, args[0])
			if !res.Success {
				errOut := cmd.ErrOrStderr()
				for _, pe := range res.Errors {
					fmt.Fprintf(errOut, "parse: %s\n", pe.Error())
				}
				return fmt.Errorf("%w: %w", errInvalid, res.FirstError())
			}

			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			if strategy == "" {
				strategy = e.cfg.DuplicateStrat
			}
			svc := bundle.NewImportService(e.store, e.patients, e.visits, e.observations, e.resolver, e.log)
			rep, err := svc.ImportToDatabase(cmd.Context(), res.Data, bundle.ImportOptions{
				DuplicateStrategy:   strategy,
				BatchSize:           e.cfg.ImportBatchSize,
				TransactionTimeout:  e.cfg.TxTimeout(),
				KeepUnknownConcepts: e.cfg.KeepUnknown,
			})
			printReport(cmd.ErrOrStderr(), rep)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "import %s complete (upload %s)\n", res.Format, rep.UploadID)
			fmt.Fprintf(out, "patients:     %d imported, %d duplicates\n",
				rep.Statistics.Patients.Imported, rep.Statistics.Patients.Duplicates)
			fmt.Fprintf(out, "visits:       %d imported, %d duplicates\n",
				rep.Statistics.Visits.Imported, rep.Statistics.Visits.Duplicates)
			fmt.Fprintf(out, "observations: %d imported, %d duplicates\n",
				rep.Statistics.Observations.Imported, rep.Statistics.Observations.Duplicates)
			return nil
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "duplicate policy: skip, update or error")
	return cmd
}

func printReport(w io.Writer, rep *bundle.Report) {
	if rep == nil {
		return
	}
	for _, issue := range rep.Errors {
		fmt.Fprintf(w, "error: %s\n", issue.Message)
	}
	for _, issue := range rep.Warnings {
		fmt.Fprintf(w, "warning: %s\n", issue.Message)
	}
}

func newExportCmd() *cobra.Command {
	var (
		format   string
		patients []string
		title    string
		sign     bool
		keyPath  string
	)
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export the store as a bundle file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "json", "csv", "hl7":
			default:
				return fmt.Errorf("%w: unsupported format %q (want csv, json or hl7)", errInvalid, format)
			}
			if sign && keyPath == "" {
				return fmt.Errorf("%w: --sign requires --key", errInvalid)
			}
			if sign && format != "hl7" {
				return fmt.Errorf("%w: signing applies to --format hl7 only", errInvalid)
			}

			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			opts := exporter.DefaultOptions()
			opts.PatientCodes = patients
			opts.Title = title

			svc := exporter.NewService(e.patients, e.visits, e.observations, e.resolver, e.log)
			st, err := svc.Snapshot(cmd.Context(), opts)
			if err != nil {
				return err
			}

			var payload []byte
			switch format {
			case "json":
				payload, err = exporter.ToJSON(st)
			case "csv":
				payload, err = svc.ToCSV(cmd.Context(), st)
			case "hl7":
				var key []byte
				if sign {
					key, err = os.ReadFile(keyPath)
					if err != nil {
						return fmt.Errorf("%w: %w", errIO, err)
					}
				}
				payload, err = svc.ToCDA(cmd.Context(), st, key)
			}
			if err != nil {
				return err
			}

			if err := os.WriteFile(args[0], payload, 0o644); err != nil {
				return fmt.Errorf("%w: %w", errIO, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d patients, %d visits, %d observations to %s\n",
				st.Statistics.PatientCount, st.Statistics.VisitCount, st.Statistics.ObservationCount, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "output format: csv, json or hl7")
	cmd.Flags().StringSliceVar(&patients, "patients", nil, "limit to these patient codes")
	cmd.Flags().StringVar(&title, "title", "", "document title")
	cmd.Flags().BoolVar(&sign, "sign", false, "sign the hl7 document")
	cmd.Flags().StringVar(&keyPath, "key", "", "PEM file with the RSA private key")
	return cmd
}

func newDemoCmd() *cobra.Command {
	var (
		count   int
		seedVal int64
		cleanup bool
	)
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Generate or remove the synthetic demo cohort",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			gen := demo.NewGenerator(e.patients, e.visits, e.observations, e.log)
			out := cmd.OutOrStdout()

			if cleanup {
				n, err := gen.Cleanup(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "removed %d demo patient(s)\n", n)
				return nil
			}

			res, err := gen.Generate(cmd.Context(), demo.Config{PatientCount: count, Seed: seedVal})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "generated %d patients, %d visits, %d observations\n",
				res.Patients, res.Visits, res.Observations)
			fmt.Fprintf(out, "patient codes: %s\n", strings.Join(res.PatientCodes, ", "))
			return nil
		},
	}
	cmd.Flags().IntVar(&count, "count", demo.DefaultConfig().PatientCount, "number of demo patients")
	cmd.Flags().Int64Var(&seedVal, "seed", demo.DefaultConfig().Seed, "random seed (0 = time-based)")
	cmd.Flags().BoolVar(&cleanup, "cleanup", false, "delete the demo cohort instead of creating one")
	return cmd
}

func newResetCmd() *cobra.Command {
	var reseed bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe every table and re-apply the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			ctx := cmd.Context()
			if err := db.NewMigrator(e.store).Reset(ctx); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "database reset")

			if reseed {
				res, err := seed.NewLoader(e.store, e.log).Run(ctx)
				if err != nil {
					return err
				}
				inserted, _ := res.Totals()
				fmt.Fprintf(out, "reference data reloaded (%d rows)\n", inserted)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reseed, "seed", false, "reload reference data after the wipe")
	return cmd
}
