// Package orchestrator is the admission gate for batch processing runs. It
// selects candidate articles, validates them against content and budget
// policy, persists the session aggregate, and staggers one task per batch
// onto the work queue.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/curaition/bitcoin-newsletter/internal/core"
	"github.com/curaition/bitcoin-newsletter/internal/metrics"
)

// Request tunes one initiation. Force bypasses the validation and budget
// gates; Priority uses the recency-and-source-biased selection path.
type Request struct {
	Force    bool `json:"force_processing"`
	Priority bool `json:"priority_selection"`
}

// Orchestrator wires selection, policy, persistence, and dispatch.
type Orchestrator struct {
	policy     core.Policy
	store      core.JobStore
	selector   core.Selector
	dispatcher core.Dispatcher
	logger     *slog.Logger
}

func New(policy core.Policy, store core.JobStore, selector core.Selector, dispatcher core.Dispatcher, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		policy:     policy,
		store:      store,
		selector:   selector,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// InitiateBatchProcessing runs the admission pipeline. No durable state is
// created unless every gate passes (or Force is set); a rejected request
// leaves the system exactly as it found it.
func (o *Orchestrator) InitiateBatchProcessing(ctx context.Context, req Request) (*core.InitiationResult, error) {
	ids, err := o.selectCandidates(ctx, req.Priority)
	if err != nil {
		return nil, fmt.Errorf("select candidates: %w", err)
	}
	if len(ids) == 0 {
		o.logger.Info("initiation found no eligible items")
		metrics.InitiationsTotal.WithLabelValues(core.InitiationNoItems).Inc()
		return &core.InitiationResult{
			Status:  core.InitiationNoItems,
			Message: "no eligible items in the backlog",
		}, nil
	}

	validation, err := o.selector.ValidateForProcessing(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("validate candidates: %w", err)
	}
	if !validation.Passed && !req.Force {
		o.logger.Info("initiation rejected by validation", "summary", validation.Summary)
		metrics.InitiationsTotal.WithLabelValues(core.InitiationValidationFailed).Inc()
		return &core.InitiationResult{
			Status:     core.InitiationValidationFailed,
			Validation: validation,
			Message:    validation.Summary,
		}, nil
	}
	if len(validation.Valid) == 0 {
		// Forced past validation but nothing usable survived.
		metrics.InitiationsTotal.WithLabelValues(core.InitiationNoItems).Inc()
		return &core.InitiationResult{
			Status:     core.InitiationNoItems,
			Validation: validation,
			Message:    "no valid items after validation",
		}, nil
	}

	check := o.policy.ValidateBudget(len(validation.Valid))
	if !check.WithinBudget && !req.Force {
		o.logger.Info("initiation rejected by budget",
			"item_count", check.ItemCount,
			"estimated_cost", check.EstimatedCost,
			"budget", o.policy.MaxTotalBudget)
		metrics.InitiationsTotal.WithLabelValues(core.InitiationBudgetExceeded).Inc()
		return &core.InitiationResult{
			Status:  core.InitiationBudgetExceeded,
			Budget:  &check,
			Message: core.NewBudgetExceededError(check, o.policy.MaxTotalBudget).Message,
		}, nil
	}

	return o.admit(ctx, validation, check)
}

func (o *Orchestrator) selectCandidates(ctx context.Context, priority bool) ([]int64, error) {
	if priority {
		return o.selector.SelectPriority(ctx, o.policy.SelectionLimit)
	}
	return o.selector.SelectEligible(ctx, o.policy.SelectionLimit)
}

// admit creates the session aggregate and dispatches one task per batch.
// Batch records are created before any task is dispatched so a worker never
// fetches a record that does not exist yet.
func (o *Orchestrator) admit(ctx context.Context, validation *core.ValidationResult, check core.BudgetCheck) (*core.InitiationResult, error) {
	chunks := o.policy.Partition(validation.Valid)
	sessionID := core.NewUUIDv7()

	session, err := o.store.CreateSession(ctx, sessionID, len(validation.Valid), len(chunks), check.EstimatedCost)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	for i, chunk := range chunks {
		batchNumber := i + 1
		estimated := o.policy.EstimatedCost(len(chunk))
		if _, err := o.store.CreateBatchRecord(ctx, sessionID, batchNumber, chunk, estimated); err != nil {
			return nil, fmt.Errorf("create batch record %d: %w", batchNumber, err)
		}
	}

	for i := range chunks {
		batchNumber := i + 1
		task := core.Task{Kind: core.TaskBatch, SessionID: sessionID, BatchNumber: batchNumber}
		delay := o.policy.StaggerDelay(batchNumber)
		if err := o.dispatcher.Dispatch(ctx, task, delay); err != nil {
			return nil, fmt.Errorf("dispatch batch %d: %w", batchNumber, err)
		}
	}

	o.logger.Info("batch processing initiated",
		"session_id", sessionID,
		"total_items", session.TotalItems,
		"total_batches", session.TotalBatches,
		"estimated_cost", session.EstimatedCost)
	metrics.InitiationsTotal.WithLabelValues(core.InitiationStarted).Inc()
	metrics.SessionItemsTotal.Add(float64(session.TotalItems))

	return &core.InitiationResult{
		Status:             core.InitiationStarted,
		SessionID:          sessionID,
		TotalItems:         session.TotalItems,
		TotalBatches:       session.TotalBatches,
		EstimatedTotalCost: session.EstimatedCost,
		Validation:         validation,
		Budget:             &check,
	}, nil
}
