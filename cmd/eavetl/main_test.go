package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/xuri/excelize/v2"

	"eavetl/internal/config"
	"eavetl/internal/eav"
	"eavetl/internal/metrics"
	"eavetl/internal/metrics/datadog"
)

// fakeRunner records the config it was given and returns a canned result.
type fakeRunner struct {
	err     error
	calls   atomic.Int64
	lastCfg eav.RunConfig
}

func (r *fakeRunner) Run(_ context.Context, cfg eav.RunConfig) (eav.Report, error) {
	r.calls.Add(1)
	r.lastCfg = cfg
	if r.err != nil {
		return eav.Report{State: eav.Failed}, r.err
	}
	return eav.Report{RunID: "run-1", State: eav.Committed, Sheets: []eav.SheetReport{{Name: "S", Facts: 4}}}, nil
}

// fakeMetricsBackend is a closable nop backend.
type fakeMetricsBackend struct {
	closeErr error
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) IncCounter(string, float64, metrics.Labels)       {}
func (b *fakeMetricsBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *fakeMetricsBackend) Flush() error                                     { return nil }
func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

func run(t *testing.T, args ...string) (stdout, stderr string, code int) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = runMain(context.Background(), args, &out, &errOut)
	return out.String(), errOut.String(), code
}

// isolatedArgs keeps tests away from a developer's .env file.
func isolatedArgs(t *testing.T, args ...string) []string {
	return append([]string{"--env-file", filepath.Join(t.TempDir(), "none.env")}, args...)
}

func writePeopleWorkbook(t *testing.T) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", "People"); err != nil {
		t.Fatalf("SetSheetName: %v", err)
	}
	for i, row := range [][]any{{"Name", "Age"}, {"Ana", 30}, {"Luis", nil}} {
		if err := f.SetSheetRow("People", fmt.Sprintf("A%d", i+1), &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}
	if _, err := f.NewSheet("Cities"); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	for i, row := range [][]any{{"City"}, {"Lima"}} {
		if err := f.SetSheetRow("Cities", fmt.Sprintf("A%d", i+1), &row); err != nil {
			t.Fatalf("SetSheetRow: %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "people.xlsx")
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	return path
}

func TestRunMain_Version(t *testing.T) {
	out, _, code := run(t, "version")
	if code != 0 || !strings.Contains(out, "eavetl dev") {
		t.Fatalf("code=%d out=%q", code, out)
	}
}

func TestRunMain_UnknownFlagIsUsageError(t *testing.T) {
	_, errOut, code := run(t, "--no-such-flag")
	if code != 2 {
		t.Fatalf("code=%d, want 2 (stderr=%q)", code, errOut)
	}
}

func TestRunMain_ValidateReportsIssues(t *testing.T) {
	out, _, code := run(t, isolatedArgs(t, "validate", "--db-kind", "sqlite", "--batch-size", "0")...)
	if code != 1 {
		t.Fatalf("code=%d, want 1", code)
	}
	if !strings.Contains(out, "batch_size") {
		t.Fatalf("stdout=%q, want the batch_size issue", out)
	}

	out, _, code = run(t, isolatedArgs(t, "validate", "--db-kind", "sqlite")...)
	if code != 0 || !strings.Contains(out, "configuration is valid") {
		t.Fatalf("code=%d out=%q", code, out)
	}
}

func TestRunMain_PassesResolvedConfigToRunner(t *testing.T) {
	r := &fakeRunner{}
	old := newRunner
	defer func() { newRunner = old }()
	newRunner = func(eav.Logger) runner { return r }

	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_DATABASE", "tourism")
	t.Setenv("DB_USER", "loader")
	t.Setenv("DB_PASSWORD", "secret")

	out, errOut, code := run(t, isolatedArgs(t, "--workbook", "book.xlsx", "--db-kind", "mysql", "--batch-size", "250")...)
	if code != 0 {
		t.Fatalf("code=%d stderr=%q", code, errOut)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("runner calls=%d, want 1", r.calls.Load())
	}
	got := r.lastCfg
	if got.Workbook != "book.xlsx" || got.BatchSize != 250 || got.Storage.Kind != "mysql" {
		t.Fatalf("unexpected run config: %+v", got)
	}
	if got.Storage.DSN != "loader:secret@tcp(db.internal:3306)/tourism?parseTime=true" {
		t.Fatalf("unexpected dsn: %q", got.Storage.DSN)
	}
	if got.Schema != eav.DefaultSchema() {
		t.Fatalf("unexpected schema: %+v", got.Schema)
	}
	if !strings.Contains(out, "loaded sheets=1 facts=4 run_id=run-1") {
		t.Fatalf("stdout=%q", out)
	}
}

func TestRunMain_RunnerErrorExits1(t *testing.T) {
	r := &fakeRunner{err: errors.New("boom")}
	old := newRunner
	defer func() { newRunner = old }()
	newRunner = func(eav.Logger) runner { return r }

	_, errOut, code := run(t, isolatedArgs(t, "--db-kind", "sqlite")...)
	if code != 1 || !strings.Contains(errOut, "boom") {
		t.Fatalf("code=%d stderr=%q", code, errOut)
	}
}

func TestRunMain_EndToEndSQLite(t *testing.T) {
	book := writePeopleWorkbook(t)
	dsn := "file:" + filepath.Join(t.TempDir(), "eav.db") + "?_pragma=foreign_keys(1)"

	out, errOut, code := run(t, isolatedArgs(t, "--workbook", book, "--db-kind", "sqlite", "--db-dsn", dsn, "-v")...)
	if code != 0 {
		t.Fatalf("code=%d stderr=%q", code, errOut)
	}
	if !strings.Contains(out, "loaded sheets=2 facts=5") {
		t.Fatalf("stdout=%q", out)
	}
	if !strings.Contains(errOut, "stage=commit status=ok") {
		t.Fatalf("stderr=%q, want commit log line", errOut)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	var nulls int
	if err := db.QueryRow(`SELECT COUNT(*) FROM eav_facts WHERE value IS NULL`).Scan(&nulls); err != nil {
		t.Fatalf("query: %v", err)
	}
	if nulls != 1 {
		t.Fatalf("expected 1 NULL fact (Luis's age), got %d", nulls)
	}
}

func TestRunMain_MissingWorkbookLogsAndExits1(t *testing.T) {
	dsn := "file:" + filepath.Join(t.TempDir(), "eav.db") + "?_pragma=foreign_keys(1)"

	_, errOut, code := run(t, isolatedArgs(t, "--workbook", filepath.Join(t.TempDir(), "nope.xlsx"), "--db-kind", "sqlite", "--db-dsn", dsn)...)
	if code != 1 {
		t.Fatalf("code=%d, want 1", code)
	}
	for _, want := range []string{"stage=open_workbook", "status=error", "SourceReadError"} {
		if !strings.Contains(errOut, want) {
			t.Fatalf("stderr=%q, want %q", errOut, want)
		}
	}
}

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	oldSet := setMetricsBackend
	defer func() { setMetricsBackend = oldSet }()
	setMetricsBackend = func(metrics.Backend) {
		t.Fatalf("setMetricsBackend must not be called for none")
	}

	for _, backend := range []string{"", "none"} {
		cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: backend})
		if err != nil {
			t.Fatalf("initMetrics(%q) err=%v", backend, err)
		}
		cleanup()
	}
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	b := &fakeMetricsBackend{}
	var gotOpts datadog.Options
	var setCalls atomic.Int64

	oldNew, oldSet := newDatadogBackend, setMetricsBackend
	defer func() { newDatadogBackend, setMetricsBackend = oldNew, oldSet }()
	newDatadogBackend = func(_ context.Context, opts datadog.Options) (metricsBackend, error) {
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(metrics.Backend) { setCalls.Add(1) }

	cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: "datadog", Tags: "team:data, region:eu"})
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	if gotOpts.JobName != config.DefaultMetricsJob {
		t.Fatalf("JobName=%q, want %q", gotOpts.JobName, config.DefaultMetricsJob)
	}
	if len(gotOpts.Tags) != 2 || gotOpts.Tags[1] != "region:eu" {
		t.Fatalf("Tags=%v", gotOpts.Tags)
	}
	if setCalls.Load() != 1 {
		t.Fatalf("setMetricsBackend calls=%d, want 1", setCalls.Load())
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("closed=%d, want 1", b.closed.Load())
	}
}

func TestInitMetrics_Datadog_CloseErrorIsLogged(t *testing.T) {
	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}

	oldNew, oldSet, oldLog := newDatadogBackend, setMetricsBackend, logPrintf
	defer func() { newDatadogBackend, setMetricsBackend, logPrintf = oldNew, oldSet, oldLog }()
	newDatadogBackend = func(context.Context, datadog.Options) (metricsBackend, error) { return b, nil }
	setMetricsBackend = func(metrics.Backend) {}

	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) { fmt.Fprintf(&logged, format, v...) }

	cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: "datadog"})
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	cleanup()

	if !strings.Contains(logged.String(), "metrics: datadog close error: flush failed") {
		t.Fatalf("log=%q", logged.String())
	}
}

func TestInitMetrics_PushgatewayFlushesOnCleanup(t *testing.T) {
	var pushes atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	oldSet := setMetricsBackend
	defer func() { setMetricsBackend = oldSet }()
	var installed metrics.Backend
	setMetricsBackend = func(b metrics.Backend) { installed = b }

	cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: "pushgateway", PushgatewayURL: srv.URL, Job: "eavetl_test"})
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	if installed == nil {
		t.Fatalf("backend was not installed")
	}
	installed.IncCounter(metrics.BatchesTotal, 1, nil)

	cleanup()
	if pushes.Load() != 1 {
		t.Fatalf("pushes=%d, want 1", pushes.Load())
	}
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: "statsd"})
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	cleanup()
	if !strings.Contains(err.Error(), "unknown metrics backend") {
		t.Fatalf("err=%q", err.Error())
	}
}
