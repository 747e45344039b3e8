package core

import (
	"log/slog"
	"time"

	"github.com/JonMunkholm/tablesync/internal/config"
)

// Outcome is the result of processing one table.
type Outcome string

const (
	OutcomeSkippedEmpty       Outcome = "skipped-empty"
	OutcomeSkippedMissingFile Outcome = "skipped-missing-file"
	OutcomeSucceeded          Outcome = "succeeded"
	OutcomeFailed             Outcome = "failed"
)

// Skipped reports whether the table was left untouched on purpose.
func (o Outcome) Skipped() bool {
	return o == OutcomeSkippedEmpty || o == OutcomeSkippedMissingFile
}

// TableResult records what happened to one table during a run.
type TableResult struct {
	Table      string        `json:"table"`
	Path       string        `json:"path"`
	Outcome    Outcome       `json:"outcome"`
	Rows       int           `json:"rows"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"durationMs"` // Duration in whole milliseconds
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"` // Err as text, for JSON consumers
}

// RunReport aggregates the results of one Process call.
type RunReport struct {
	RunID    string        `json:"runId"`
	Mode     config.Mode   `json:"mode"`
	Trigger  Trigger       `json:"trigger"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Results  []TableResult `json:"results"`
}

// Count returns the number of tables that ended with outcome o.
func (r *RunReport) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

// Failed reports whether any table failed.
func (r *RunReport) Failed() bool {
	return r.Count(OutcomeFailed) > 0
}

// Rows returns the total number of rows moved by successful tables.
func (r *RunReport) Rows() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeSucceeded {
			n += res.Rows
		}
	}
	return n
}

// Duration returns the wall time of the run.
func (r *RunReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Phase indicates the current stage of table processing.
type Phase string

const (
	PhaseStarted    Phase = "started"
	PhaseExporting  Phase = "exporting"
	PhaseSaving     Phase = "saving"
	PhaseReading    Phase = "reading"
	PhaseTruncating Phase = "truncating"
	PhaseLoading    Phase = "loading"
	PhaseDone       Phase = "done"
	PhaseSkipped    Phase = "skipped"
	PhaseFailed     Phase = "failed"
)

// TableProgress is emitted at every phase change of a table.
type TableProgress struct {
	RunID string
	Table string
	Phase Phase
	Path  string
	Rows  int
	Error string // Non-empty if Phase is PhaseFailed
}

// ProgressCallback receives progress events. It is called synchronously from
// the processing goroutine and must not block.
type ProgressCallback func(TableProgress)

// LogProgress returns a ProgressCallback that writes events to logger:
// terminal phases at info (failures at error), intermediate phases at debug.
func LogProgress(logger *slog.Logger) ProgressCallback {
	return func(p TableProgress) {
		attrs := []any{"run_id", p.RunID, "table", p.Table, "phase", p.Phase}
		if p.Path != "" {
			attrs = append(attrs, "path", p.Path)
		}
		if p.Rows > 0 {
			attrs = append(attrs, "rows", p.Rows)
		}

		switch p.Phase {
		case PhaseFailed:
			logger.Error("table failed", append(attrs, "error", p.Error)...)
		case PhaseDone:
			logger.Info("table done", attrs...)
		case PhaseSkipped:
			logger.Info("table skipped", attrs...)
		default:
			logger.Debug("table progress", attrs...)
		}
	}
}
