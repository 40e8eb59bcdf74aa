// Command eavetl loads every sheet of a workbook into an entity-attribute-value
// store in one transaction. Each run drops and recreates the two EAV tables.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"eavetl/internal/config"
	"eavetl/internal/eav"
	"eavetl/internal/metrics"
	"eavetl/internal/metrics/datadog"
	"eavetl/internal/metrics/prompush"
	"eavetl/internal/storage"
	"eavetl/internal/workbook"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "eavetl/internal/storage/all"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// runner is the pipeline entry point. *eav.Orchestrator satisfies it.
type runner interface {
	Run(ctx context.Context, cfg eav.RunConfig) (eav.Report, error)
}

// metricsBackend is a metrics.Backend the CLI must close at exit.
type metricsBackend interface {
	metrics.Backend
	Close() error
}

// Seams replaced by tests.
var (
	newRunner = func(logger eav.Logger) runner {
		return eav.NewOrchestrator(workbook.Opener, logger)
	}
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (metricsBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPushBackend = func(job, url string) (metrics.Backend, error) {
		return prompush.NewBackend(job, url)
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = log.Printf
)

// usageError marks bad invocations; they exit 2 instead of 1.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// runMain executes the CLI and returns the process exit code.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "eavetl: %v\n", err)
		var ue usageError
		if errors.As(err, &ue) {
			return 2
		}
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var cfgFile, envFile string

	root := &cobra.Command{
		Use:   "eavetl",
		Short: "Load a spreadsheet workbook into an EAV store",
		Long: `eavetl reads every sheet of a workbook (local path or s3://bucket/key),
registers one attribute per column and writes one fact per cell.

Each run resets the attribute and fact tables and loads the whole workbook in
a single transaction: either every sheet lands or the store is left as it was.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, cfgFile, envFile, stderr)
			if err != nil {
				return err
			}
			return runPipeline(cmd.Context(), cfg, stdout, stderr)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usageError{err} })

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file")
	pf.StringVar(&envFile, "env-file", config.DefaultEnvFile, "dotenv file (ignored when missing)")
	pf.String("workbook", config.DefaultWorkbook, "workbook path or s3://bucket/key")
	pf.String("db-kind", config.DefaultDBKind, "storage backend ("+strings.Join(storage.Kinds(), "|")+")")
	pf.String("db-dsn", "", "driver DSN (overrides DB_* parts)")
	pf.Int("batch-size", eav.DefaultBatchSize, "facts per insert")
	pf.String("metrics-backend", config.DefaultMetricsBackend, "metrics backend (none|datadog|pushgateway)")
	pf.BoolP("verbose", "v", false, "enable verbose logs")

	root.AddCommand(newValidateCmd(&cfgFile, &envFile, stdout, stderr))
	root.AddCommand(newVersionCmd(stdout))
	return root
}

func newValidateCmd(cfgFile, envFile *string, stdout, stderr io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(config.LoadOptions{ConfigFile: *cfgFile, EnvFile: *envFile, Flags: cmd.Flags()})
			if err != nil {
				return err
			}
			issues := config.Validate(cfg)
			printIssues(stdout, issues)
			if config.HasErrors(issues) {
				return errors.New("configuration is invalid")
			}
			fmt.Fprintf(stdout, "configuration is valid: workbook=%s db.kind=%s\n", cfg.Workbook, cfg.DB.Kind)
			return nil
		},
	}
}

func newVersionCmd(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(*cobra.Command, []string) {
			fmt.Fprintf(stdout, "eavetl %s\n", version)
		},
	}
}

// loadConfig loads and validates. Warnings go to stderr; any error-level
// issue fails the command.
func loadConfig(cmd *cobra.Command, cfgFile, envFile string, stderr io.Writer) (*config.Config, error) {
	cfg, err := config.Load(config.LoadOptions{ConfigFile: cfgFile, EnvFile: envFile, Flags: cmd.Flags()})
	if err != nil {
		return nil, err
	}
	issues := config.Validate(cfg)
	printIssues(stderr, issues)
	if config.HasErrors(issues) {
		return nil, errors.New("configuration is invalid")
	}
	return cfg, nil
}

func runPipeline(ctx context.Context, cfg *config.Config, stdout, stderr io.Writer) error {
	logger := log.New(stderr, "", log.LstdFlags)

	dsn, err := cfg.DB.ResolveDSN()
	if err != nil {
		return err
	}

	cleanup, err := initMetrics(ctx, cfg.Metrics)
	defer cleanup()
	if err != nil {
		return err
	}

	if cfg.Verbose {
		logger.Printf("pipeline: workbook=%s storage=%s batch_size=%d attribute_table=%s fact_table=%s metrics=%s",
			cfg.Workbook, cfg.DB.Kind, cfg.BatchSize, cfg.Schema.AttributeTable, cfg.Schema.FactTable, cfg.Metrics.Backend)
	}

	start := time.Now()
	rep, err := newRunner(logger).Run(ctx, eav.RunConfig{
		Workbook:  cfg.Workbook,
		Storage:   storage.Config{Kind: cfg.DB.Kind, DSN: dsn},
		BatchSize: cfg.BatchSize,
		Schema:    cfg.Schema,
	})
	if err != nil {
		return err
	}

	facts := 0
	for _, s := range rep.Sheets {
		facts += s.Facts
	}
	fmt.Fprintf(stdout, "loaded sheets=%d facts=%d run_id=%s duration=%s\n",
		len(rep.Sheets), facts, rep.RunID, time.Since(start).Truncate(time.Millisecond))
	if cfg.Verbose {
		renderReport(stdout, rep)
	}
	return nil
}

// initMetrics installs the configured backend and returns its cleanup, which
// is always non-nil and safe to call.
func initMetrics(ctx context.Context, m config.Metrics) (func(), error) {
	job := m.Job
	if job == "" {
		job = config.DefaultMetricsJob
	}

	switch strings.ToLower(strings.TrimSpace(m.Backend)) {
	case "", config.DefaultMetricsBackend:
		return func() {}, nil

	case "datadog":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName: job,
			Tags:    datadog.ParseTagsCSV(m.Tags),
		})
		if err != nil {
			return func() {}, fmt.Errorf("metrics: init datadog: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
		}, nil

	case "pushgateway":
		b, err := newPushBackend(job, m.PushgatewayURL)
		if err != nil {
			return func() {}, fmt.Errorf("metrics: init pushgateway: %w", err)
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway flush error: %v", err)
			}
		}, nil

	default:
		return func() {}, fmt.Errorf("unknown metrics backend %q (want none|datadog|pushgateway)", m.Backend)
	}
}
