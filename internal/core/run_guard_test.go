package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestRunGuard_AcquireRelease(t *testing.T) {
	guard := NewRunGuard(0)
	ctx := context.Background()

	if guard.Active() {
		t.Error("initial Active = true, want false")
	}

	if err := guard.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !guard.Active() {
		t.Error("after Acquire, Active = false, want true")
	}

	if err := guard.Acquire(ctx); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second Acquire error = %v, want ErrRunInProgress", err)
	}

	guard.Release()
	if guard.Active() {
		t.Error("after Release, Active = true, want false")
	}

	if err := guard.Acquire(ctx); err != nil {
		t.Errorf("Acquire after Release failed: %v", err)
	}
	guard.Release()
}

func TestRunGuard_WaitsUpToMaxWait(t *testing.T) {
	guard := NewRunGuard(100 * time.Millisecond)
	ctx := context.Background()

	if err := guard.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	start := time.Now()
	err := guard.Acquire(ctx)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}
	if elapsed < 90*time.Millisecond {
		t.Errorf("timeout too fast: %v", elapsed)
	}

	guard.Release()
}

func TestRunGuard_ConcurrentCallers(t *testing.T) {
	guard := NewRunGuard(0)

	var wg sync.WaitGroup
	var won atomic.Int32
	start := make(chan struct{})

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if guard.TryAcquire() {
				won.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if got := won.Load(); got != 1 {
		t.Errorf("callers holding the slot = %d, want 1", got)
	}
	guard.Release()
}

func TestRunGuard_ContextCancellation(t *testing.T) {
	guard := NewRunGuard(5 * time.Second)
	if err := guard.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- guard.Acquire(cancelCtx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Acquire did not return after context cancellation")
	}

	guard.Release()
}

func TestRunGuard_AcquireCancelledContext(t *testing.T) {
	guard := NewRunGuard(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := guard.Acquire(ctx); err != context.Canceled {
		t.Errorf("Acquire error = %v, want context.Canceled", err)
	}
	if guard.Active() {
		t.Error("cancelled Acquire must not take the slot")
	}
}

func TestRunGuard_UnblocksWaiter(t *testing.T) {
	guard := NewRunGuard(time.Second)
	ctx := context.Background()

	if err := guard.Acquire(ctx); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		if err := guard.Acquire(ctx); err != nil {
			t.Errorf("waiting Acquire failed: %v", err)
			return
		}
		close(acquired)
		guard.Release()
	}()

	time.Sleep(50 * time.Millisecond)
	guard.Release()

	select {
	case <-acquired:
	case <-time.After(500 * time.Millisecond):
		t.Error("waiter did not acquire after release")
	}
}

func TestRunGuard_WaitForDrain(t *testing.T) {
	guard := NewRunGuard(0)
	if err := guard.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	drainDone := make(chan error, 1)
	go func() {
		drainDone <- guard.WaitForDrain(context.Background())
	}()

	select {
	case <-drainDone:
		t.Error("WaitForDrain returned while a run is active")
	case <-time.After(50 * time.Millisecond):
	}

	guard.Release()

	select {
	case err := <-drainDone:
		if err != nil {
			t.Errorf("WaitForDrain returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Error("WaitForDrain did not complete after release")
	}
}

func TestRunGuard_WaitForDrain_ContextCancelled(t *testing.T) {
	guard := NewRunGuard(0)
	if err := guard.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer guard.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := guard.WaitForDrain(ctx); err != context.DeadlineExceeded {
		t.Errorf("expected context.DeadlineExceeded, got %v", err)
	}
}

func TestRunGuard_Status(t *testing.T) {
	guard := NewRunGuard(0)

	if status := guard.Status(); status.Active || !status.Started.IsZero() {
		t.Errorf("initial Status = %+v, want inactive", status)
	}

	guard.TryAcquire()
	status := guard.Status()
	if !status.Active {
		t.Error("Status.Active = false, want true")
	}
	if status.Started.IsZero() {
		t.Error("Status.Started is zero while active")
	}

	guard.Release()
	if guard.Status().Active {
		t.Error("Status.Active = true after Release")
	}
}
