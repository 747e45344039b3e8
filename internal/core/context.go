package core

import "context"

// Trigger names what started a run.
type Trigger string

const (
	TriggerOnce     Trigger = "once"     // one-shot CLI run
	TriggerStartup  Trigger = "startup"  // scheduler start
	TriggerSchedule Trigger = "schedule" // interval or cron tick
	TriggerManual   Trigger = "manual"   // ops API
	TriggerRetry    Trigger = "retry"    // immediate refire after a failure
)

type contextKey string

const ctxKeyTrigger contextKey = "sync_trigger"

// ContextWithTrigger records what started the run carried by ctx.
func ContextWithTrigger(ctx context.Context, t Trigger) context.Context {
	return context.WithValue(ctx, ctxKeyTrigger, t)
}

// TriggerFromContext returns the trigger stored in ctx, or TriggerOnce.
func TriggerFromContext(ctx context.Context) Trigger {
	if v, ok := ctx.Value(ctxKeyTrigger).(Trigger); ok {
		return v
	}
	return TriggerOnce
}
