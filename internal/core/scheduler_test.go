package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/tablesync/internal/config"
	"github.com/JonMunkholm/tablesync/internal/testutil"
)

// fakeRunner records the trigger of every run and fails the first
// failures runs.
type fakeRunner struct {
	mu       sync.Mutex
	triggers []Trigger
	failures int
	ran      chan Trigger
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{ran: make(chan Trigger, 16)}
}

func (r *fakeRunner) Process(ctx context.Context) (*RunReport, error) {
	trigger := TriggerFromContext(ctx)
	r.mu.Lock()
	r.triggers = append(r.triggers, trigger)
	fail := r.failures > 0
	if fail {
		r.failures--
	}
	r.mu.Unlock()

	r.ran <- trigger
	if fail {
		return &RunReport{}, errors.New("connection refused")
	}
	return &RunReport{}, nil
}

func (r *fakeRunner) Triggers() []Trigger {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Trigger(nil), r.triggers...)
}

func waitRun(t *testing.T, r *fakeRunner) Trigger {
	t.Helper()
	select {
	case trig := <-r.ran:
		return trig
	case <-time.After(2 * time.Second):
		t.Fatal("runner was not invoked")
		return ""
	}
}

func startScheduler(t *testing.T, s *Scheduler) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Error("scheduler did not stop")
		}
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	r := newFakeRunner()
	logger := testutil.NewTestLogger(t)

	if _, err := NewScheduler(r, config.ScheduleConfig{Cron: "not a cron"}, logger); err == nil {
		t.Error("invalid cron accepted")
	}
	if _, err := NewScheduler(r, config.ScheduleConfig{}, logger); err == nil {
		t.Error("zero interval accepted")
	}
	if _, err := NewScheduler(r, config.ScheduleConfig{Cron: "0 2 * * *"}, logger); err != nil {
		t.Errorf("valid cron rejected: %v", err)
	}
}

func TestScheduler_CronNext(t *testing.T) {
	s, err := NewScheduler(newFakeRunner(), config.ScheduleConfig{Cron: "CRON_TZ=UTC 30 2 * * *"}, testutil.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	from := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)
	want := time.Date(2024, 3, 10, 2, 30, 0, 0, time.UTC)
	if got := s.Next(from); !got.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", from, got, want)
	}
}

func TestScheduler_IntervalNext(t *testing.T) {
	s, err := NewScheduler(newFakeRunner(), config.ScheduleConfig{Interval: 24 * time.Hour}, testutil.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	from := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)
	if got := s.Next(from); !got.Equal(from.Add(24 * time.Hour)) {
		t.Errorf("Next(%v) = %v", from, got)
	}
}

func TestScheduler_RunOnStartThenInterval(t *testing.T) {
	r := newFakeRunner()
	s, err := NewScheduler(r, config.ScheduleConfig{Interval: 20 * time.Millisecond, RunOnStart: true}, testutil.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	stop := startScheduler(t, s)

	if got := waitRun(t, r); got != TriggerStartup {
		t.Errorf("first trigger = %s, want %s", got, TriggerStartup)
	}
	if got := waitRun(t, r); got != TriggerSchedule {
		t.Errorf("second trigger = %s, want %s", got, TriggerSchedule)
	}
	stop()
}

func TestScheduler_ManualTrigger(t *testing.T) {
	r := newFakeRunner()
	s, err := NewScheduler(r, config.ScheduleConfig{Interval: time.Hour}, testutil.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	stop := startScheduler(t, s)
	defer stop()

	if !s.Trigger() {
		t.Fatal("Trigger() = false on an idle scheduler")
	}
	if got := waitRun(t, r); got != TriggerManual {
		t.Errorf("trigger = %s, want %s", got, TriggerManual)
	}
}

func TestScheduler_TriggerDoesNotQueueTwice(t *testing.T) {
	s, err := NewScheduler(newFakeRunner(), config.ScheduleConfig{Interval: time.Hour}, testutil.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}

	// Not running: the first trigger is buffered, the second is refused.
	if !s.Trigger() {
		t.Error("first Trigger() = false")
	}
	if s.Trigger() {
		t.Error("second Trigger() = true while one is pending")
	}
}

func TestScheduler_RetryImmediatelyOnce(t *testing.T) {
	r := newFakeRunner()
	r.failures = 5

	s, err := NewScheduler(r, config.ScheduleConfig{
		Interval:         time.Hour,
		RunOnStart:       true,
		RetryImmediately: true,
	}, testutil.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	stop := startScheduler(t, s)

	if got := waitRun(t, r); got != TriggerStartup {
		t.Errorf("first trigger = %s, want %s", got, TriggerStartup)
	}
	if got := waitRun(t, r); got != TriggerRetry {
		t.Errorf("second trigger = %s, want %s", got, TriggerRetry)
	}

	select {
	case trig := <-r.ran:
		t.Errorf("unexpected third run (%s): retry must fire only once", trig)
	case <-time.After(100 * time.Millisecond):
	}
	stop()
}

func TestScheduler_FailureWaitsForNextTick(t *testing.T) {
	r := newFakeRunner()
	r.failures = 1

	s, err := NewScheduler(r, config.ScheduleConfig{Interval: time.Hour, RunOnStart: true}, testutil.NewTestLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	stop := startScheduler(t, s)

	waitRun(t, r)
	select {
	case trig := <-r.ran:
		t.Errorf("unexpected run (%s) after failure without retry", trig)
	case <-time.After(100 * time.Millisecond):
	}
	stop()

	if got := len(r.Triggers()); got != 1 {
		t.Errorf("runs = %d, want 1", got)
	}
}
