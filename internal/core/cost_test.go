package core

import (
	"errors"
	"sync"
	"testing"
)

func TestCostTracker_ReserveCommit(t *testing.T) {
	tracker := NewCostTracker(0.10)

	if err := tracker.Reserve(0.0013); err != nil {
		t.Fatalf("Reserve() unexpected error: %v", err)
	}
	tracker.Commit(0.0013, 0.0011)

	if got := tracker.Spent(); got != 0.0011 {
		t.Errorf("Spent() = %v, want 0.0011", got)
	}
	if got := tracker.Remaining(); got != 0.10-0.0011 {
		t.Errorf("Remaining() = %v, want %v", got, 0.10-0.0011)
	}
}

func TestCostTracker_ReserveOverBudget(t *testing.T) {
	tracker := NewCostTracker(0.002)

	if err := tracker.Reserve(0.0013); err != nil {
		t.Fatalf("first Reserve() unexpected error: %v", err)
	}
	err := tracker.Reserve(0.0013)
	if err == nil {
		t.Fatal("second Reserve() expected budget error")
	}
	var perr *PipelineError
	if !errors.As(err, &perr) || perr.Code != ErrCodeBudgetExceeded {
		t.Errorf("error = %v, want code %q", err, ErrCodeBudgetExceeded)
	}
}

func TestCostTracker_ReleaseFreesBudget(t *testing.T) {
	tracker := NewCostTracker(0.0013)

	if err := tracker.Reserve(0.0013); err != nil {
		t.Fatalf("Reserve() unexpected error: %v", err)
	}
	tracker.Release(0.0013)

	if err := tracker.Reserve(0.0013); err != nil {
		t.Errorf("Reserve() after Release() unexpected error: %v", err)
	}
	if got := tracker.Spent(); got != 0 {
		t.Errorf("Spent() = %v, want 0 after release", got)
	}
}

func TestCostTracker_Concurrent(t *testing.T) {
	// 50 goroutines each commit 0.001 against a 0.1 budget; exactly the
	// committed spend must be visible at the end.
	tracker := NewCostTracker(0.1)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tracker.Reserve(0.001); err != nil {
				return
			}
			tracker.Commit(0.001, 0.001)
		}()
	}
	wg.Wait()

	got := tracker.Spent()
	if got < 0.049 || got > 0.051 {
		t.Errorf("Spent() = %v, want ~0.050", got)
	}
}

func TestNewCostTracker_NegativeBudget(t *testing.T) {
	tracker := NewCostTracker(-1)
	if err := tracker.Reserve(0.0001); err == nil {
		t.Error("Reserve() on negative budget expected error")
	}
}
