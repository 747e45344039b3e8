package core

// scheduler.go drives recurring sync runs.
//
// A Scheduler invokes its Runner once per tick. Ticks come from a cron
// expression when one is configured, otherwise from a fixed interval
// measured from the end of the previous run. Manual triggers run the
// processor between ticks.
//
// A failed run is logged and the scheduler waits for the next tick; with
// RetryImmediately it refires the run once first. Scheduling never stops
// because of a failed run, only when the context is cancelled.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/JonMunkholm/tablesync/internal/config"
)

// Runner is the work invoked on every tick. *Processor satisfies it.
type Runner interface {
	Process(ctx context.Context) (*RunReport, error)
}

// intervalSchedule fires a fixed duration after the given time.
type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(t time.Time) time.Time {
	return t.Add(s.every)
}

// Scheduler runs a Runner on a cron or interval schedule.
type Scheduler struct {
	runner   Runner
	schedule cron.Schedule
	cfg      config.ScheduleConfig
	logger   *slog.Logger
	now      func() time.Time
	trigger  chan struct{}
}

// NewScheduler builds a scheduler from cfg. A cron expression takes
// precedence over the interval.
func NewScheduler(runner Runner, cfg config.ScheduleConfig, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var schedule cron.Schedule
	if cfg.Cron != "" {
		s, err := cron.ParseStandard(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("parse cron expression %q: %w", cfg.Cron, err)
		}
		schedule = s
	} else {
		if cfg.Interval <= 0 {
			return nil, errors.New("schedule interval must be positive")
		}
		schedule = intervalSchedule{every: cfg.Interval}
	}

	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}, nil
}

// Trigger requests a run as soon as the scheduler is idle. It never blocks.
// Returns false if a manual run is already pending.
func (s *Scheduler) Trigger() bool {
	select {
	case s.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Next returns the time of the tick following t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Run blocks, running the Runner on schedule until ctx is cancelled.
// It runs immediately on start when RunOnStart is set.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"cron", s.cfg.Cron,
		"interval", s.cfg.Interval,
		"run_on_start", s.cfg.RunOnStart,
		"retry_immediately", s.cfg.RetryImmediately,
	)

	if s.cfg.RunOnStart {
		s.runOnce(ctx, TriggerStartup)
	}

	for {
		next := s.schedule.Next(s.now())
		s.logger.Info("next processing time", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return nil
		case <-timer.C:
			s.runOnce(ctx, TriggerSchedule)
		case <-s.trigger:
			timer.Stop()
			s.runOnce(ctx, TriggerManual)
		}
	}
}

// runOnce invokes the runner and applies the failure policy.
func (s *Scheduler) runOnce(ctx context.Context, trigger Trigger) {
	_, err := s.runner.Process(ContextWithTrigger(ctx, trigger))
	if err == nil {
		return
	}
	if errors.Is(err, ErrRunInProgress) {
		s.logger.Warn("run skipped, previous run still active", "trigger", trigger)
		return
	}
	if ctx.Err() != nil {
		return
	}

	msg := MapError(err)
	s.logger.Error("sync run failed", "trigger", trigger, "code", msg.Code, "error", err)

	if s.cfg.RetryImmediately && trigger != TriggerRetry {
		s.logger.Info("refiring run immediately")
		s.runOnce(ctx, TriggerRetry)
	}
}
