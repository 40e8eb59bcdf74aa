package eav

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"eavetl/internal/etlerr"
	"eavetl/internal/metrics"
	"eavetl/internal/storage"
)

// Stage names used in errors, log lines and metrics.
const (
	StageConnect      = "connect"
	StageBegin        = "begin"
	StageSchemaReset  = "schema_reset"
	StageOpenWorkbook = "open_workbook"
	StageReadSheet    = "read_sheet"
	StageRegister     = "register_attributes"
	StageLoadFacts    = "load_facts"
	StageCommit       = "commit"
)

// State is a position in the run state machine.
type State int

const (
	Idle State = iota
	SchemaReset
	ProcessingSheet
	Committed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case SchemaReset:
		return "SchemaReset"
	case ProcessingSheet:
		return "ProcessingSheet"
	case Committed:
		return "Committed"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transition is reported to Orchestrator.OnTransition on every state change.
// Index is the 1-based sheet index when To is ProcessingSheet.
type Transition struct {
	From  State
	To    State
	Index int
	Sheet string
	Err   error
}

// Logger is the minimal logging interface used by the orchestrator.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// WorkbookSource is an open workbook. Sheets are listed in workbook order.
type WorkbookSource interface {
	SheetNames() []string
	ReadSheet(name string) (Sheet, error)
	Close() error
}

// OpenWorkbookFunc opens the workbook at path.
type OpenWorkbookFunc func(ctx context.Context, path string) (WorkbookSource, error)

// RunConfig is everything one run needs. It is passed explicitly so several
// independent runs can share a process.
type RunConfig struct {
	Workbook string
	Storage  storage.Config

	// BatchSize is the number of facts per insert. 0 means DefaultBatchSize.
	BatchSize int

	// Schema names the tables. The zero value means DefaultSchema().
	Schema Schema
}

func (c RunConfig) withDefaults() RunConfig {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Schema == (Schema{}) {
		c.Schema = DefaultSchema()
	}
	return c
}

func (c RunConfig) validate() error {
	if c.Workbook == "" {
		return etlerr.New(etlerr.InvalidArgument, "run: workbook path is empty")
	}
	if c.BatchSize < 0 {
		return etlerr.New(etlerr.InvalidArgument, "run: batch size must be >= 1, got %d", c.BatchSize)
	}
	return c.Schema.Validate()
}

// SheetReport summarizes one loaded sheet.
type SheetReport struct {
	Name       string
	Attributes int
	Rows       int
	Facts      int
	Batches    int
}

// Report summarizes a run. On failure it covers the sheets processed before
// the failure, none of which were committed.
type Report struct {
	RunID    string
	Sheets   []SheetReport
	Duration time.Duration
	State    State
}

// Orchestrator drives a full-refresh load of one workbook: schema reset, then
// registration and fact load per sheet, all inside one transaction.
type Orchestrator struct {
	Logger Logger

	// OnTransition, when set, observes every state change.
	OnTransition func(Transition)

	// Factory seams.
	NewRepository func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	OpenWorkbook  OpenWorkbookFunc
}

// NewOrchestrator returns an Orchestrator that opens stores through the
// storage registry and workbooks through open.
func NewOrchestrator(open OpenWorkbookFunc, logger Logger) *Orchestrator {
	return &Orchestrator{
		Logger:        logger,
		NewRepository: storage.New,
		OpenWorkbook:  open,
	}
}

// run is the state of one Run call.
type run struct {
	o     *Orchestrator
	id    string
	state State
	logf  func(format string, v ...any)
}

func (r *run) move(to State, index int, sheet string, err error) {
	t := Transition{From: r.state, To: to, Index: index, Sheet: sheet, Err: err}
	r.state = to
	if r.o.OnTransition != nil {
		r.o.OnTransition(t)
	}
}

// step times fn and records it in metrics and the log.
func (r *run) step(stage, sheet string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStep(stage, err, time.Since(start))
	if err == nil {
		if sheet != "" {
			r.logf("run_id=%s stage=%s sheet=%q status=ok duration=%s", r.id, stage, sheet, durMS(start))
		} else {
			r.logf("run_id=%s stage=%s status=ok duration=%s", r.id, stage, durMS(start))
		}
	}
	return err
}

// Run executes one full-refresh load. The store is changed only if every
// sheet loads and the commit succeeds; on any error the transaction is
// rolled back and the store is left as it was.
//
// Errors (see etlerr):
//   - InvalidArgument: bad RunConfig.
//   - Connection: repository open or transaction begin failed.
//   - Schema: schema reset failed.
//   - SourceRead: workbook or sheet unreadable.
//   - Registration: attribute insert or key read-back failed.
//   - Load: fact batch insert or commit failed.
func (o *Orchestrator) Run(ctx context.Context, cfg RunConfig) (rep Report, err error) {
	cfg = cfg.withDefaults()
	r := &run{o: o, id: uuid.NewString(), state: Idle, logf: o.logger()}
	rep.RunID = r.id
	start := time.Now()

	failStage, failSheet := "", ""
	defer func() {
		rep.Duration = time.Since(start)
		if err != nil {
			var e *etlerr.Error
			if errors.As(err, &e) {
				failStage, failSheet = e.Stage, e.Sheet
			}
			r.logf("run_id=%s stage=%s sheet=%q status=error kind=%s err=%v", r.id, failStage, failSheet, etlerr.KindOf(err), err)
			r.move(Failed, 0, failSheet, err)
		}
		rep.State = r.state
	}()

	if err := cfg.validate(); err != nil {
		return rep, err
	}
	if o.NewRepository == nil || o.OpenWorkbook == nil {
		return rep, etlerr.New(etlerr.InvalidArgument, "run: orchestrator is missing a repository or workbook factory")
	}

	var repo storage.Repository
	if err := r.step(StageConnect, "", func() (err error) {
		repo, err = o.NewRepository(ctx, cfg.Storage)
		return err
	}); err != nil {
		return rep, etlerr.Wrap(etlerr.Connection, StageConnect, "", err)
	}
	defer repo.Close()

	tx, err := repo.Begin(ctx)
	if err != nil {
		return rep, etlerr.Wrap(etlerr.Connection, StageBegin, "", err)
	}
	committed := false
	defer func() {
		if committed {
			return
		}
		if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
			r.logf("run_id=%s stage=rollback status=error err=%v", r.id, rbErr)
		}
	}()

	if err := r.step(StageSchemaReset, "", func() error {
		return ResetSchema(ctx, tx, cfg.Schema)
	}); err != nil {
		return rep, err
	}
	r.move(SchemaReset, 0, "", nil)

	var wb WorkbookSource
	if err := r.step(StageOpenWorkbook, "", func() (err error) {
		wb, err = o.OpenWorkbook(ctx, cfg.Workbook)
		return err
	}); err != nil {
		return rep, etlerr.Wrap(etlerr.SourceRead, StageOpenWorkbook, "", err)
	}
	defer func() {
		if cerr := wb.Close(); cerr != nil {
			r.logf("run_id=%s stage=close_workbook status=error err=%v", r.id, cerr)
		}
	}()

	names := wb.SheetNames()
	r.logf("run_id=%s workbook=%q sheets=%d batch_size=%d", r.id, cfg.Workbook, len(names), cfg.BatchSize)

	for i, name := range names {
		r.move(ProcessingSheet, i+1, name, nil)

		sr, err := r.loadSheet(ctx, tx, wb, cfg, name)
		if err != nil {
			return rep, err
		}
		rep.Sheets = append(rep.Sheets, sr)
	}

	if err := r.step(StageCommit, "", func() error { return tx.Commit(ctx) }); err != nil {
		return rep, etlerr.Wrap(etlerr.Load, StageCommit, "", err)
	}
	committed = true
	r.move(Committed, 0, "", nil)

	for _, s := range rep.Sheets {
		metrics.RecordRecords(metrics.KindAttributes, s.Attributes)
		metrics.RecordRecords(metrics.KindFacts, s.Facts)
		metrics.RecordBatches(s.Batches)
	}
	metrics.RecordRecords(metrics.KindSheets, len(rep.Sheets))
	r.logf("run_id=%s stage=done status=ok sheets=%d duration=%s", r.id, len(rep.Sheets), durMS(start))
	return rep, nil
}

// loadSheet reads, registers and loads one sheet.
func (r *run) loadSheet(ctx context.Context, tx storage.Tx, wb WorkbookSource, cfg RunConfig, name string) (SheetReport, error) {
	sr := SheetReport{Name: name}

	var sheet Sheet
	if err := r.step(StageReadSheet, name, func() (err error) {
		sheet, err = wb.ReadSheet(name)
		return err
	}); err != nil {
		return sr, etlerr.Wrap(etlerr.SourceRead, StageReadSheet, name, err)
	}
	if sheet.Name == "" {
		sheet.Name = name
	}

	var attrs AttributeMap
	if err := r.step(StageRegister, name, func() (err error) {
		attrs, err = RegisterAttributes(ctx, tx, cfg.Schema, name, sheet.Headers)
		return err
	}); err != nil {
		return sr, err
	}

	facts := ExtractFacts(sheet, attrs)
	if err := r.step(StageLoadFacts, name, func() (err error) {
		sr.Batches, err = LoadFacts(ctx, tx, cfg.Schema, facts, cfg.BatchSize)
		return err
	}); err != nil {
		return sr, etlerr.Wrap(etlerr.Load, StageLoadFacts, name, err)
	}

	sr.Attributes = len(attrs.ByPosition)
	sr.Rows = len(sheet.Rows)
	sr.Facts = len(facts)
	r.logf("run_id=%s sheet=%q attributes=%d rows=%d facts=%d batches=%d",
		r.id, name, sr.Attributes, sr.Rows, sr.Facts, sr.Batches)
	return sr, nil
}

func (o *Orchestrator) logger() func(format string, v ...any) {
	if o.Logger == nil {
		l := log.New(discardWriter{}, "", 0)
		return l.Printf
	}
	return o.Logger.Printf
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func durMS(start time.Time) time.Duration { return time.Since(start).Truncate(time.Millisecond) }
