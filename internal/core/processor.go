package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/tablesync/internal/codec"
	"github.com/JonMunkholm/tablesync/internal/config"
	"github.com/JonMunkholm/tablesync/internal/gateway"
	"github.com/JonMunkholm/tablesync/internal/logging"
)

// Recorder receives run results for metrics.
type Recorder interface {
	RecordTable(mode config.Mode, result TableResult)
	RecordRun(report *RunReport)
}

// Dependencies are the collaborators of a Processor.
type Dependencies struct {
	Source      gateway.Gateway // read by exports
	Destination gateway.Gateway // written by imports
	Codec       codec.Codec
	Logger      *slog.Logger
	Progress    ProgressCallback // optional
	Metrics     Recorder         // optional
}

// Option configures a Processor.
type Option func(*Processor)

// WithClock sets the clock used for file date stamps and run timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.now = now
	}
}

// Processor runs the export or import of every configured table.
type Processor struct {
	cfg   config.SyncConfig
	deps  Dependencies
	now   func() time.Time
	guard *RunGuard

	mu   sync.RWMutex
	last *RunReport
}

// NewProcessor validates the collaborators required by cfg.Mode. It opens no
// connection and touches no file.
func NewProcessor(cfg config.SyncConfig, deps Dependencies, opts ...Option) (*Processor, error) {
	switch cfg.Mode {
	case config.ModeExport:
		if deps.Source == nil {
			return nil, errors.New("export mode requires a source gateway")
		}
	case config.ModeImport:
		if deps.Destination == nil {
			return nil, errors.New("import mode requires a destination gateway")
		}
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidMode, cfg.Mode)
	}
	if deps.Codec == nil {
		return nil, errors.New("processor requires a file codec")
	}
	if len(cfg.Tables) == 0 {
		return nil, errors.New("processor requires at least one table")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	p := &Processor{
		cfg:   cfg,
		deps:  deps,
		now:   time.Now,
		guard: NewRunGuard(0),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process runs every configured table in order.
//
// By default the first failing table ends the run: the report holds the
// tables processed so far, including the failed one, and the error is that
// table's error. With ContinueOnError every table is attempted and the
// returned error joins all table errors.
//
// Returns ErrRunInProgress without a report if another run is active.
func (p *Processor) Process(ctx context.Context) (*RunReport, error) {
	if err := p.guard.Acquire(ctx); err != nil {
		return nil, err
	}
	defer p.guard.Release()

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	logger := logging.Enrich(ctx, p.deps.Logger)

	started := p.now()
	report := &RunReport{
		RunID:   runID,
		Mode:    p.cfg.Mode,
		Trigger: TriggerFromContext(ctx),
		Started: started,
	}

	logger.Info("run started",
		"mode", p.cfg.Mode,
		"trigger", report.Trigger,
		"tables", len(p.cfg.Tables),
		"format", p.cfg.FileFormat,
		"folder", p.cfg.Folder,
	)

	var errs []error
	for _, name := range p.cfg.Tables {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		// A table in flight finishes even if the run is cancelled, so an
		// import never stops between truncate and load.
		res := p.processTable(context.WithoutCancel(ctx), name, started)
		report.Results = append(report.Results, res)
		if p.deps.Metrics != nil {
			p.deps.Metrics.RecordTable(p.cfg.Mode, res)
		}

		if res.Err != nil {
			errs = append(errs, res.Err)
			if !p.cfg.ContinueOnError {
				break
			}
		}
	}

	report.Finished = p.now()
	p.setLast(report)
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordRun(report)
	}

	err := errors.Join(errs...)
	attrs := []any{
		"succeeded", report.Count(OutcomeSucceeded),
		"skipped", report.Count(OutcomeSkippedEmpty) + report.Count(OutcomeSkippedMissingFile),
		"failed", report.Count(OutcomeFailed),
		"rows", report.Rows(),
		"duration", report.Duration(),
	}
	if err != nil {
		msg := MapError(err)
		logger.Error("run completed with errors", append(attrs, "code", msg.Code, "error", err)...)
		return report, err
	}
	logger.Info("run completed", attrs...)
	return report, nil
}

// processTable runs the state machine of one table. day supplies the date
// stamp of the file name.
func (p *Processor) processTable(ctx context.Context, name string, day time.Time) TableResult {
	start := time.Now()
	path := p.cfg.FilePath(name, day)
	res := TableResult{Table: name, Path: path}

	p.emit(ctx, TableProgress{Table: name, Phase: PhaseStarted, Path: path})

	var err error
	switch p.cfg.Mode {
	case config.ModeExport:
		res.Outcome, res.Rows, err = p.exportTable(ctx, name, path)
	case config.ModeImport:
		res.Outcome, res.Rows, err = p.importTable(ctx, name, path)
	}
	res.Duration = time.Since(start)
	res.DurationMS = res.Duration.Milliseconds()

	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = fmt.Errorf("%s %s: %w", p.cfg.Mode, name, err)
		res.Error = res.Err.Error()
		p.emit(ctx, TableProgress{Table: name, Phase: PhaseFailed, Path: path, Error: res.Error})
		return res
	}

	phase := PhaseDone
	if res.Outcome.Skipped() {
		phase = PhaseSkipped
	}
	p.emit(ctx, TableProgress{Table: name, Phase: phase, Path: path, Rows: res.Rows})
	return res
}

// exportTable reads the table from the source and writes it to path.
// An empty table produces no file.
func (p *Processor) exportTable(ctx context.Context, name, path string) (Outcome, int, error) {
	p.emit(ctx, TableProgress{Table: name, Phase: PhaseExporting})
	data, err := p.deps.Source.Export(ctx, name)
	if err != nil {
		return "", 0, err
	}
	if data.IsEmpty() {
		return OutcomeSkippedEmpty, 0, nil
	}

	p.emit(ctx, TableProgress{Table: name, Phase: PhaseSaving, Path: path, Rows: data.Len()})
	if err := p.deps.Codec.Write(path, data); err != nil {
		return "", 0, err
	}
	return OutcomeSucceeded, data.Len(), nil
}

// importTable replaces the destination table's contents with the file at
// path. A missing or empty file leaves the table untouched. Truncate and
// load are separate operations: a failed load leaves the table empty.
func (p *Processor) importTable(ctx context.Context, name, path string) (Outcome, int, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return OutcomeSkippedMissingFile, 0, nil
		}
		return "", 0, err
	}

	p.emit(ctx, TableProgress{Table: name, Phase: PhaseReading, Path: path})
	data, err := p.deps.Codec.Read(path)
	if err != nil {
		return "", 0, err
	}
	if data.IsEmpty() {
		return OutcomeSkippedEmpty, 0, nil
	}

	p.emit(ctx, TableProgress{Table: name, Phase: PhaseTruncating, Rows: data.Len()})
	if err := p.deps.Destination.Truncate(ctx, name); err != nil {
		return "", 0, err
	}

	p.emit(ctx, TableProgress{Table: name, Phase: PhaseLoading, Rows: data.Len()})
	if err := p.deps.Destination.Load(ctx, name, data); err != nil {
		return "", 0, err
	}
	return OutcomeSucceeded, data.Len(), nil
}

func (p *Processor) emit(ctx context.Context, ev TableProgress) {
	if p.deps.Progress == nil {
		return
	}
	ev.RunID = logging.RunID(ctx)
	p.deps.Progress(ev)
}

func (p *Processor) setLast(r *RunReport) {
	p.mu.Lock()
	p.last = r
	p.mu.Unlock()
}

// LastReport returns the report of the most recent completed run, or nil.
func (p *Processor) LastReport() *RunReport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Running reports whether a run is active.
func (p *Processor) Running() bool {
	return p.guard.Active()
}

// Guard returns the processor's run guard.
func (p *Processor) Guard() *RunGuard {
	return p.guard
}
