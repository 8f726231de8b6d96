package core

import "testing"

func TestCanTransitionBatch(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{BatchPending, BatchProcessing, true},
		{BatchPending, BatchCompleted, true},
		{BatchPending, BatchFailed, true},
		{BatchProcessing, BatchCompleted, true},
		{BatchProcessing, BatchFailed, true},

		// Never backward
		{BatchProcessing, BatchPending, false},
		{BatchCompleted, BatchProcessing, false},
		{BatchCompleted, BatchPending, false},

		// Terminal statuses never move
		{BatchCompleted, BatchFailed, false},
		{BatchFailed, BatchCompleted, false},
		{BatchFailed, BatchProcessing, false},

		// No self-transitions
		{BatchProcessing, BatchProcessing, false},

		{"bogus", BatchCompleted, false},
		{BatchPending, "bogus", false},
	}

	for _, tt := range tests {
		if got := CanTransitionBatch(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransitionBatch(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsTerminalBatchStatus(t *testing.T) {
	if !IsTerminalBatchStatus(BatchCompleted) || !IsTerminalBatchStatus(BatchFailed) {
		t.Error("completed and failed must be terminal")
	}
	if IsTerminalBatchStatus(BatchPending) || IsTerminalBatchStatus(BatchProcessing) {
		t.Error("pending and processing must not be terminal")
	}
}

func TestAllTerminal(t *testing.T) {
	records := []*BatchRecord{
		{BatchNumber: 1, Status: BatchCompleted},
		{BatchNumber: 2, Status: BatchCompleted},
		{BatchNumber: 3, Status: BatchProcessing},
	}
	if AllTerminal(records) {
		t.Error("AllTerminal = true with a processing batch, want false")
	}

	records[2].Status = BatchFailed
	if !AllTerminal(records) {
		t.Error("AllTerminal = false with all terminal batches, want true")
	}

	if AllTerminal(nil) {
		t.Error("AllTerminal(nil) = true, want false")
	}
}

func TestCountTerminal(t *testing.T) {
	records := []*BatchRecord{
		{Status: BatchCompleted},
		{Status: BatchCompleted},
		{Status: BatchFailed},
		{Status: BatchPending},
	}
	c := CountTerminal(records)
	if c.Completed != 2 || c.Failed != 1 || c.Total != 4 {
		t.Errorf("CountTerminal = %+v, want {Completed:2 Failed:1 Total:4}", c)
	}
}

func TestIsActiveSessionStatus(t *testing.T) {
	if !IsActiveSessionStatus(SessionInitiated) || !IsActiveSessionStatus(SessionProcessing) {
		t.Error("initiated and processing sessions must be active")
	}
	if IsActiveSessionStatus(SessionCompleted) {
		t.Error("completed sessions must not be active")
	}
}
