package core

import (
	"math"
	"time"
)

// Policy holds the batch sizing and budget constants for a deployment.
// A single Policy value is constructed at startup and passed to every
// component; nothing in this package mutates it after construction.
type Policy struct {
	// Sizing
	BatchSize        int
	MinValidItems    int
	MinContentLength int
	SelectionLimit   int

	// Cost
	CostPerItem    float64
	MaxTotalBudget float64

	// Pacing and retries
	PerItemSeconds   float64
	PerItemTimeout   time.Duration
	ItemPause        time.Duration
	InterBatchDelay  time.Duration
	MaxRetryAttempts int

	// Recovery
	RecoveryBaseDelay time.Duration
	RecoveryMaxDelay  time.Duration
	RecoveryWindow    time.Duration
	StallThreshold    time.Duration

	// Monitoring thresholds
	StallWarning        time.Duration
	BudgetWarningPct    float64
	BudgetCriticalPct   float64
	FailureRateAlertPct float64

	// Priority selection
	PriorityRecencyWindow time.Duration
	PriorityMinRecent     int
}

// DefaultPolicy returns the production defaults.
func DefaultPolicy() Policy {
	return Policy{
		BatchSize:        10,
		MinValidItems:    3,
		MinContentLength: 2000,
		SelectionLimit:   50,

		CostPerItem:    0.0013,
		MaxTotalBudget: 0.30,

		PerItemSeconds:   45,
		PerItemTimeout:   60 * time.Second,
		ItemPause:        2 * time.Second,
		InterBatchDelay:  30 * time.Second,
		MaxRetryAttempts: 3,

		RecoveryBaseDelay: 5 * time.Minute,
		RecoveryMaxDelay:  time.Hour,
		RecoveryWindow:    24 * time.Hour,
		StallThreshold:    time.Hour,

		StallWarning:        30 * time.Minute,
		BudgetWarningPct:    75,
		BudgetCriticalPct:   90,
		FailureRateAlertPct: 20,

		PriorityRecencyWindow: 24 * time.Hour,
		PriorityMinRecent:     10,
	}
}

// BudgetCheck is the result of validating a selection against the budget.
type BudgetCheck struct {
	ItemCount      int     `json:"item_count"`
	EstimatedCost  float64 `json:"estimated_cost"`
	WithinBudget   bool    `json:"within_budget"`
	UtilizationPct float64 `json:"utilization_pct"`
}

// Timeline estimates how long a run over n items will take.
type Timeline struct {
	BatchCount        int           `json:"batch_count"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
}

// BatchCount returns the number of batches needed for n items.
func (p Policy) BatchCount(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + p.BatchSize - 1) / p.BatchSize
}

// EstimatedCost returns the projected analysis cost for n items.
func (p Policy) EstimatedCost(n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(n) * p.CostPerItem
}

// ValidateBudget checks whether analyzing n items fits the budget ceiling.
func (p Policy) ValidateBudget(n int) BudgetCheck {
	cost := p.EstimatedCost(n)
	check := BudgetCheck{
		ItemCount:     n,
		EstimatedCost: cost,
		WithinBudget:  cost <= p.MaxTotalBudget,
	}
	if p.MaxTotalBudget > 0 {
		check.UtilizationPct = cost / p.MaxTotalBudget * 100
	}
	return check
}

// Timeline estimates wall-clock duration for n items: each batch runs its
// items sequentially, and successive batches start InterBatchDelay apart.
func (p Policy) Timeline(n int) Timeline {
	batches := p.BatchCount(n)
	perBatch := time.Duration(float64(p.BatchSize)*p.PerItemSeconds)*time.Second + p.InterBatchDelay
	return Timeline{
		BatchCount:        batches,
		EstimatedDuration: time.Duration(batches) * perBatch,
	}
}

// StaggerDelay returns the dispatch delay for a 1-based batch number.
// Batch 1 starts immediately; each later batch waits one more interval.
func (p Policy) StaggerDelay(batchNumber int) time.Duration {
	if batchNumber <= 1 {
		return 0
	}
	return time.Duration(batchNumber-1) * p.InterBatchDelay
}

// RecoveryDelay returns the re-submission delay for an item that has failed
// failureCount times: base * 2^(failureCount-1), capped at RecoveryMaxDelay.
func (p Policy) RecoveryDelay(failureCount int) time.Duration {
	if failureCount < 1 {
		failureCount = 1
	}
	d := time.Duration(float64(p.RecoveryBaseDelay) * math.Pow(2, float64(failureCount-1)))
	if d > p.RecoveryMaxDelay || d < 0 {
		return p.RecoveryMaxDelay
	}
	return d
}

// Partition splits ids into BatchSize chunks, preserving order. The last
// chunk may be smaller. The chunks share backing memory with ids.
func (p Policy) Partition(ids []int64) [][]int64 {
	if len(ids) == 0 {
		return nil
	}
	chunks := make([][]int64, 0, p.BatchCount(len(ids)))
	for start := 0; start < len(ids); start += p.BatchSize {
		end := start + p.BatchSize
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
