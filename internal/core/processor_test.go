package core

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/tablesync/internal/codec"
	"github.com/JonMunkholm/tablesync/internal/config"
	"github.com/JonMunkholm/tablesync/internal/table"
	"github.com/JonMunkholm/tablesync/internal/testutil"
)

// fakeGateway is an in-memory gateway that records every call.
type fakeGateway struct {
	mu     sync.Mutex
	tables map[string]*table.Table
	fail   map[string]error // table -> error returned by every operation
	calls  []string
	block  chan struct{} // when set, Export waits on it
	useCtx bool          // when set, Truncate and Load fail on a done ctx
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		tables: make(map[string]*table.Table),
		fail:   make(map[string]error),
	}
}

func (g *fakeGateway) record(call string) {
	g.mu.Lock()
	g.calls = append(g.calls, call)
	g.mu.Unlock()
}

func (g *fakeGateway) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

func (g *fakeGateway) Export(ctx context.Context, name string) (*table.Table, error) {
	g.record("export " + name)
	if g.block != nil {
		<-g.block
	}
	if err := g.fail[name]; err != nil {
		return nil, err
	}
	t, ok := g.tables[name]
	if !ok {
		return nil, errors.New("no such table: " + name)
	}
	return t, nil
}

func (g *fakeGateway) Truncate(ctx context.Context, name string) error {
	g.record("truncate " + name)
	if g.useCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	if err := g.fail[name]; err != nil {
		return err
	}
	t, ok := g.tables[name]
	if !ok {
		return errors.New("no such table: " + name)
	}
	empty, _ := table.New(t.Columns()...)
	g.tables[name] = empty
	return nil
}

func (g *fakeGateway) Load(ctx context.Context, name string, data *table.Table) error {
	g.record("load " + name)
	if g.useCtx && ctx.Err() != nil {
		return ctx.Err()
	}
	if err := g.fail[name]; err != nil {
		return err
	}
	g.tables[name] = data
	return nil
}

// fakeRecorder counts metric callbacks.
type fakeRecorder struct {
	tables []TableResult
	runs   int
}

func (r *fakeRecorder) RecordTable(mode config.Mode, result TableResult) {
	r.tables = append(r.tables, result)
}

func (r *fakeRecorder) RecordRun(report *RunReport) { r.runs++ }

var fixedDay = time.Date(2024, 3, 9, 14, 5, 6, 0, time.Local)

func fixedClock() time.Time { return fixedDay }

func mustTable(t *testing.T, cols []string, rows ...[]any) *table.Table {
	t.Helper()
	tbl, err := table.NewText(cols...)
	if err != nil {
		t.Fatalf("NewText: %v", err)
	}
	for _, r := range rows {
		if err := tbl.AppendRow(r...); err != nil {
			t.Fatalf("AppendRow: %v", err)
		}
	}
	return tbl
}

func syncConfig(t *testing.T, mode config.Mode, tables ...string) config.SyncConfig {
	t.Helper()
	return config.SyncConfig{
		Mode:        mode,
		Tables:      tables,
		FileFormat:  config.FormatCSV,
		Folder:      t.TempDir(),
		CSVEncoding: "utf-8",
	}
}

func newTestProcessor(t *testing.T, cfg config.SyncConfig, src, dst *fakeGateway, progress ProgressCallback, rec Recorder) *Processor {
	t.Helper()
	c, err := codec.For(cfg.FileFormat, codec.WithLogger(testutil.NewTestLogger(t)))
	if err != nil {
		t.Fatalf("codec.For: %v", err)
	}
	deps := Dependencies{
		Codec:    c,
		Logger:   testutil.NewTestLogger(t),
		Progress: progress,
		Metrics:  rec,
	}
	if src != nil {
		deps.Source = src
	}
	if dst != nil {
		deps.Destination = dst
	}
	p, err := NewProcessor(cfg, deps, WithClock(fixedClock))
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return p
}

func TestNewProcessor_Validation(t *testing.T) {
	c, _ := codec.For(config.FormatCSV)
	gw := newFakeGateway()

	tests := []struct {
		name string
		cfg  config.SyncConfig
		deps Dependencies
	}{
		{"export without source", config.SyncConfig{Mode: config.ModeExport, Tables: []string{"a"}}, Dependencies{Destination: gw, Codec: c}},
		{"import without destination", config.SyncConfig{Mode: config.ModeImport, Tables: []string{"a"}}, Dependencies{Source: gw, Codec: c}},
		{"no codec", config.SyncConfig{Mode: config.ModeExport, Tables: []string{"a"}}, Dependencies{Source: gw}},
		{"no tables", config.SyncConfig{Mode: config.ModeExport}, Dependencies{Source: gw, Codec: c}},
		{"bad mode", config.SyncConfig{Mode: "sideways", Tables: []string{"a"}}, Dependencies{Source: gw, Destination: gw, Codec: c}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProcessor(tt.cfg, tt.deps); err == nil {
				t.Error("NewProcessor() error = nil, want error")
			}
		})
	}

	_, err := NewProcessor(config.SyncConfig{Mode: "sideways", Tables: []string{"a"}}, Dependencies{Source: gw, Codec: c})
	if !errors.Is(err, config.ErrInvalidMode) {
		t.Errorf("bad mode error = %v, want ErrInvalidMode", err)
	}
}

func TestProcess_ExportWritesDateStampedFiles(t *testing.T) {
	src := newFakeGateway()
	src.tables["orders"] = mustTable(t, []string{"Id", "Customer"}, []any{int64(1), "Alice"}, []any{int64(2), "Bob"})
	src.tables["customers"] = mustTable(t, []string{"Name", "City"}, []any{"Alice", "Oslo"})

	cfg := syncConfig(t, config.ModeExport, "orders", "customers")
	rec := &fakeRecorder{}
	p := newTestProcessor(t, cfg, src, nil, nil, rec)

	report, err := p.Process(context.Background())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	wantFiles := map[string]string{
		"orders_20240309.csv":    "Id,Customer\n1,Alice\n2,Bob\n",
		"customers_20240309.csv": "Name,City\nAlice,Oslo\n",
	}
	for name, want := range wantFiles {
		got, err := os.ReadFile(filepath.Join(cfg.Folder, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(got) != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}

	if len(report.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2", len(report.Results))
	}
	for _, res := range report.Results {
		if res.Outcome != OutcomeSucceeded {
			t.Errorf("%s outcome = %s, want %s", res.Table, res.Outcome, OutcomeSucceeded)
		}
	}
	if report.Results[0].Rows != 2 || report.Results[1].Rows != 1 {
		t.Errorf("rows = %d,%d, want 2,1", report.Results[0].Rows, report.Results[1].Rows)
	}
	if report.Mode != config.ModeExport || report.RunID == "" || report.Trigger != TriggerOnce {
		t.Errorf("report header = %+v", report)
	}
	if len(rec.tables) != 2 || rec.runs != 1 {
		t.Errorf("recorder tables=%d runs=%d, want 2 and 1", len(rec.tables), rec.runs)
	}
	if p.LastReport() != report {
		t.Error("LastReport() does not return the latest report")
	}
}

func TestProcess_ExportEmptyTableWritesNothing(t *testing.T) {
	src := newFakeGateway()
	src.tables["empty_table"] = mustTable(t, []string{"id"})

	cfg := syncConfig(t, config.ModeExport, "empty_table")
	p := newTestProcessor(t, cfg, src, nil, nil, nil)

	report, err := p.Process(context.Background())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got := report.Results[0].Outcome; got != OutcomeSkippedEmpty {
		t.Errorf("outcome = %s, want %s", got, OutcomeSkippedEmpty)
	}

	entries, err := os.ReadDir(cfg.Folder)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("folder has %d entries, want 0", len(entries))
	}
}

func TestProcess_ImportReplacesContents(t *testing.T) {
	dst := newFakeGateway()
	dst.tables["orders"] = mustTable(t, []string{"id", "customer"}, []any{"99", "Old"})

	cfg := syncConfig(t, config.ModeImport, "orders")
	path := cfg.FilePath("orders", fixedDay)
	if err := os.WriteFile(path, []byte("id,customer\n1,Alice\n2,Bob\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var phases []Phase
	p := newTestProcessor(t, cfg, nil, dst, func(ev TableProgress) { phases = append(phases, ev.Phase) }, nil)

	report, err := p.Process(context.Background())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if got, want := dst.Calls(), []string{"truncate orders", "load orders"}; !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	want := mustTable(t, []string{"id", "customer"}, []any{"1", "Alice"}, []any{"2", "Bob"})
	if !dst.tables["orders"].Equal(want) {
		t.Errorf("orders = %v, want %v", dst.tables["orders"].Rows(), want.Rows())
	}
	if res := report.Results[0]; res.Outcome != OutcomeSucceeded || res.Rows != 2 || res.Path != path {
		t.Errorf("result = %+v", res)
	}

	wantPhases := []Phase{PhaseStarted, PhaseReading, PhaseTruncating, PhaseLoading, PhaseDone}
	if !reflect.DeepEqual(phases, wantPhases) {
		t.Errorf("phases = %v, want %v", phases, wantPhases)
	}
}

func TestProcess_ImportMissingFileSkips(t *testing.T) {
	dst := newFakeGateway()
	dst.tables["orders"] = mustTable(t, []string{"id"}, []any{"1"})

	cfg := syncConfig(t, config.ModeImport, "orders")
	p := newTestProcessor(t, cfg, nil, dst, nil, nil)

	report, err := p.Process(context.Background())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got := report.Results[0].Outcome; got != OutcomeSkippedMissingFile {
		t.Errorf("outcome = %s, want %s", got, OutcomeSkippedMissingFile)
	}
	if calls := dst.Calls(); len(calls) != 0 {
		t.Errorf("destination calls = %v, want none", calls)
	}
}

func TestProcess_ImportEmptyFileSkips(t *testing.T) {
	dst := newFakeGateway()
	cfg := syncConfig(t, config.ModeImport, "orders")
	if err := os.WriteFile(cfg.FilePath("orders", fixedDay), []byte("id,customer\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestProcessor(t, cfg, nil, dst, nil, nil)
	report, err := p.Process(context.Background())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got := report.Results[0].Outcome; got != OutcomeSkippedEmpty {
		t.Errorf("outcome = %s, want %s", got, OutcomeSkippedEmpty)
	}
	if calls := dst.Calls(); len(calls) != 0 {
		t.Errorf("destination calls = %v, want none", calls)
	}
}

func TestProcess_AbortsOnFirstFailure(t *testing.T) {
	src := newFakeGateway()
	src.tables["a"] = mustTable(t, []string{"id"}, []any{"1"})
	src.fail["b"] = errors.New("connection refused")
	src.tables["c"] = mustTable(t, []string{"id"}, []any{"3"})

	cfg := syncConfig(t, config.ModeExport, "a", "b", "c")
	p := newTestProcessor(t, cfg, src, nil, nil, nil)

	report, err := p.Process(context.Background())
	if err == nil {
		t.Fatal("Process() error = nil, want error")
	}
	if !strings.Contains(err.Error(), "export b") {
		t.Errorf("error = %q, want table context", err)
	}
	if len(report.Results) != 2 {
		t.Fatalf("len(Results) = %d, want 2 (c never attempted)", len(report.Results))
	}
	if report.Results[1].Outcome != OutcomeFailed || report.Results[1].Error == "" {
		t.Errorf("b result = %+v, want failed with error text", report.Results[1])
	}
	for _, call := range src.Calls() {
		if call == "export c" {
			t.Error("table c was exported after b failed")
		}
	}
}

func TestProcess_ContinueOnErrorJoinsErrors(t *testing.T) {
	errB := errors.New("b is broken")
	errC := errors.New("c is broken")

	src := newFakeGateway()
	src.fail["b"] = errB
	src.fail["c"] = errC
	src.tables["a"] = mustTable(t, []string{"id"}, []any{"1"})
	src.tables["d"] = mustTable(t, []string{"id"}, []any{"4"})

	cfg := syncConfig(t, config.ModeExport, "a", "b", "c", "d")
	cfg.ContinueOnError = true
	p := newTestProcessor(t, cfg, src, nil, nil, nil)

	report, err := p.Process(context.Background())
	if !errors.Is(err, errB) || !errors.Is(err, errC) {
		t.Errorf("error = %v, want both table errors joined", err)
	}
	if len(report.Results) != 4 {
		t.Fatalf("len(Results) = %d, want 4", len(report.Results))
	}
	if got := report.Count(OutcomeSucceeded); got != 2 {
		t.Errorf("succeeded = %d, want 2", got)
	}
	if got := report.Count(OutcomeFailed); got != 2 {
		t.Errorf("failed = %d, want 2", got)
	}
	if !report.Failed() {
		t.Error("Failed() = false, want true")
	}
}

func TestProcess_RejectsConcurrentRun(t *testing.T) {
	src := newFakeGateway()
	src.tables["orders"] = mustTable(t, []string{"id"}, []any{"1"})
	src.block = make(chan struct{})

	cfg := syncConfig(t, config.ModeExport, "orders")
	p := newTestProcessor(t, cfg, src, nil, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := p.Process(context.Background())
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !p.Running() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !p.Running() {
		t.Fatal("first run never started")
	}

	report, err := p.Process(context.Background())
	if !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second Process() error = %v, want ErrRunInProgress", err)
	}
	if report != nil {
		t.Error("second Process() returned a report")
	}

	close(src.block)
	if err := <-done; err != nil {
		t.Errorf("first Process() error = %v", err)
	}
}

func TestProcess_CancelledBetweenTables(t *testing.T) {
	src := newFakeGateway()
	src.tables["a"] = mustTable(t, []string{"id"}, []any{"1"})
	src.tables["b"] = mustTable(t, []string{"id"}, []any{"2"})

	cfg := syncConfig(t, config.ModeExport, "a", "b")

	ctx, cancel := context.WithCancel(context.Background())
	p := newTestProcessor(t, cfg, src, nil, func(ev TableProgress) {
		if ev.Table == "a" && ev.Phase == PhaseDone {
			cancel()
		}
	}, nil)

	report, err := p.Process(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if len(report.Results) != 1 {
		t.Errorf("len(Results) = %d, want 1", len(report.Results))
	}
}

func TestProcess_CancelAfterTruncateStillLoads(t *testing.T) {
	dst := newFakeGateway()
	dst.useCtx = true
	dst.tables["orders"] = mustTable(t, []string{"id"}, []any{"99"})
	dst.tables["lines"] = mustTable(t, []string{"id"}, []any{"98"})

	cfg := syncConfig(t, config.ModeImport, "orders", "lines")
	for _, name := range cfg.Tables {
		if err := os.WriteFile(cfg.FilePath(name, fixedDay), []byte("id\n1\n2\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := newTestProcessor(t, cfg, nil, dst, func(ev TableProgress) {
		if ev.Table == "orders" && ev.Phase == PhaseLoading {
			cancel()
		}
	}, nil)

	report, err := p.Process(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}

	if got, want := dst.Calls(), []string{"truncate orders", "load orders"}; !reflect.DeepEqual(got, want) {
		t.Errorf("calls = %v, want %v", got, want)
	}
	want := mustTable(t, []string{"id"}, []any{"1"}, []any{"2"})
	if !dst.tables["orders"].Equal(want) {
		t.Errorf("orders = %v, want %v", dst.tables["orders"].Rows(), want.Rows())
	}
	if len(report.Results) != 1 || report.Results[0].Outcome != OutcomeSucceeded {
		t.Errorf("results = %+v, want one succeeded table", report.Results)
	}
}

func TestProcess_TriggerFromContext(t *testing.T) {
	src := newFakeGateway()
	src.tables["a"] = mustTable(t, []string{"id"}, []any{"1"})

	p := newTestProcessor(t, syncConfig(t, config.ModeExport, "a"), src, nil, nil, nil)
	report, err := p.Process(ContextWithTrigger(context.Background(), TriggerManual))
	if err != nil {
		t.Fatal(err)
	}
	if report.Trigger != TriggerManual {
		t.Errorf("Trigger = %s, want %s", report.Trigger, TriggerManual)
	}
}

func TestProcess_ProgressCarriesRunID(t *testing.T) {
	src := newFakeGateway()
	src.tables["a"] = mustTable(t, []string{"id"}, []any{"1"})

	var events []TableProgress
	p := newTestProcessor(t, syncConfig(t, config.ModeExport, "a"), src, nil, func(ev TableProgress) {
		events = append(events, ev)
	}, nil)

	report, err := p.Process(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	wantPhases := []Phase{PhaseStarted, PhaseExporting, PhaseSaving, PhaseDone}
	if len(events) != len(wantPhases) {
		t.Fatalf("got %d events, want %d", len(events), len(wantPhases))
	}
	for i, ev := range events {
		if ev.Phase != wantPhases[i] {
			t.Errorf("event %d phase = %s, want %s", i, ev.Phase, wantPhases[i])
		}
		if ev.RunID != report.RunID {
			t.Errorf("event %d RunID = %q, want %q", i, ev.RunID, report.RunID)
		}
	}
}
