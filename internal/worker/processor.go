package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/curaition/bitcoin-newsletter/internal/core"
	"github.com/curaition/bitcoin-newsletter/internal/metrics"
	"github.com/curaition/bitcoin-newsletter/internal/trace"
)

// Processor executes one task at a time against the analysis service and
// the job store.
type Processor struct {
	policy   core.Policy
	retry    *core.RetryPolicy
	store    core.JobStore
	selector core.Selector
	analyzer core.Analyzer
	recorder core.AnalysisRecorder
	logger   *slog.Logger
}

func NewProcessor(policy core.Policy, store core.JobStore, selector core.Selector, analyzer core.Analyzer, recorder core.AnalysisRecorder, logger *slog.Logger) *Processor {
	return &Processor{
		policy:   policy,
		retry:    core.DefaultRetryPolicy(),
		store:    store,
		selector: selector,
		analyzer: analyzer,
		recorder: recorder,
		logger:   logger,
	}
}

// Handle routes a leased message by task kind. Undeliverable work is
// discarded so it cannot poison the queue.
func (p *Processor) Handle(ctx context.Context, msg Message) {
	task := msg.Task()
	switch task.Kind {
	case core.TaskBatch:
		p.processBatch(ctx, msg)
	case core.TaskItem:
		p.processItem(ctx, msg)
	default:
		p.logger.Error("unknown task kind", "kind", task.Kind)
		_ = msg.Discard()
	}
}

func (p *Processor) processBatch(ctx context.Context, msg Message) {
	task := msg.Task()
	logger := p.logger.With("session_id", task.SessionID, "batch", task.BatchNumber)
	ctx, span := trace.StartBatchSpan(ctx, task.SessionID, task.BatchNumber)
	defer span.End()

	record, err := p.store.GetBatchRecord(ctx, task.SessionID, task.BatchNumber)
	if err != nil {
		logger.Error("batch record missing, discarding task", "error", err)
		_ = msg.Discard()
		return
	}

	// Redelivery of an already-finished batch. The first attempt completed
	// but its ack was lost.
	if core.IsTerminalBatchStatus(record.Status) {
		logger.Info("batch already terminal, acking redelivery", "status", record.Status)
		_ = msg.Ack()
		return
	}

	session, err := p.store.GetSession(ctx, task.SessionID)
	if err != nil {
		logger.Error("session missing, discarding task", "error", err)
		_ = msg.Discard()
		return
	}

	if session.Status == core.SessionInitiated {
		// First batch to start moves the session to processing. Losing the
		// race to another batch is fine.
		if err := p.store.UpdateSessionStatus(ctx, task.SessionID, core.SessionProcessing); err != nil {
			logger.Debug("session already processing", "error", err)
		}
	}

	// A record still pending gets the explicit transition; a record already
	// processing is a redelivery after a mid-batch crash and resumes as is.
	if record.Status == core.BatchPending {
		if err := p.store.UpdateBatchStatus(ctx, task.SessionID, task.BatchNumber, core.BatchProcessing, core.NowFormatted(), ""); err != nil {
			logger.Error("batch transition to processing failed", "error", err)
			p.retryOrFail(ctx, msg, fmt.Sprintf("transition failed: %v", err))
			return
		}
	}

	// The tracker bounds this batch to the headroom the session had when
	// the batch started. Batches running in parallel each read their own
	// snapshot, so the session cap is a soft bound under concurrency; the
	// next session read picks up whatever the others committed.
	remaining := p.policy.MaxTotalBudget - session.ActualCost
	tracker := core.NewCostTracker(remaining)

	outcome, err := p.runItems(ctx, msg, record, tracker, logger)
	spent := tracker.Spent()
	if spent > 0 {
		if err := p.store.AddSessionCost(ctx, task.SessionID, spent); err != nil {
			logger.Error("session cost update failed", "error", err, "spent", spent)
		}
		metrics.AnalysisCostDollars.Add(spent)
	}

	if err != nil {
		// An aborted delivery still billed the session, so the record
		// gets the same spend; completion later adds only the final
		// delivery's cost on top.
		if spent > 0 {
			if addErr := p.store.AddBatchCost(ctx, task.SessionID, task.BatchNumber, spent); addErr != nil {
				logger.Error("batch cost update failed", "error", addErr, "spent", spent)
			}
		}
		trace.RecordError(span, err)
		p.retryOrFail(ctx, msg, err.Error())
		return
	}

	if err := p.store.UpdateBatchCompletion(ctx, task.SessionID, task.BatchNumber, outcome.processed, outcome.failed, spent); err != nil {
		logger.Error("batch completion update failed", "error", err)
		p.retryOrFail(ctx, msg, fmt.Sprintf("completion update failed: %v", err))
		return
	}

	logger.Info("batch completed",
		"items_processed", outcome.processed,
		"items_failed", outcome.failed,
		"actual_cost", spent,
		"duration", outcome.duration)
	metrics.BatchesTotal.WithLabelValues(core.BatchCompleted).Inc()
	metrics.BatchDuration.Observe(outcome.duration.Seconds())
	_ = msg.Ack()

	// Opportunistic finalize; the monitor is the backstop when this loses a
	// race or fails.
	if done, err := p.store.FinalizeSession(ctx, task.SessionID); err != nil {
		logger.Warn("finalize attempt failed", "error", err)
	} else if done {
		logger.Info("session finalized")
	}
}

type batchOutcome struct {
	processed int
	failed    int
	duration  time.Duration
}

// runItems analyzes each not-yet-analyzed item in the batch sequentially,
// pacing calls so the analysis service sees a smooth request rate. A
// returned error is systemic and aborts the whole batch; per-item failures
// are counted, not returned.
func (p *Processor) runItems(ctx context.Context, msg Message, record *core.BatchRecord, tracker *core.CostTracker, logger *slog.Logger) (batchOutcome, error) {
	start := time.Now()
	outcome := batchOutcome{}

	pending, err := p.recorder.Unanalyzed(ctx, record.ItemIDs)
	if err != nil {
		return outcome, fmt.Errorf("filter analyzed items: %w", err)
	}
	// Items analyzed by an earlier delivery of this batch count as processed.
	outcome.processed = len(record.ItemIDs) - len(pending)

	items, err := p.selector.FetchDetails(ctx, pending)
	if err != nil {
		return outcome, fmt.Errorf("fetch item details: %w", err)
	}
	outcome.failed += len(pending) - len(items)

	limiter := rate.NewLimiter(rate.Every(p.policy.ItemPause), 1)
	for _, item := range items {
		if err := limiter.Wait(ctx); err != nil {
			outcome.duration = time.Since(start)
			return outcome, fmt.Errorf("batch interrupted: %w", err)
		}
		// Long batches outlive the lease ack window without this.
		_ = msg.Extend()

		if systemic := p.analyzeOne(ctx, item, tracker, &outcome, logger); systemic != nil {
			outcome.duration = time.Since(start)
			return outcome, systemic
		}
	}

	outcome.duration = time.Since(start)
	return outcome, nil
}

// analyzeOne runs a single item. It returns a non-nil error only for
// systemic conditions where continuing the batch is pointless.
func (p *Processor) analyzeOne(ctx context.Context, item core.ItemDetail, tracker *core.CostTracker, outcome *batchOutcome, logger *slog.Logger) error {
	itemCtx, cancel := context.WithTimeout(ctx, p.policy.PerItemTimeout)
	result, err := p.analyzer.Analyze(itemCtx, item, tracker)
	cancel()

	if err != nil {
		var perr *core.PipelineError
		if errors.As(err, &perr) {
			if perr.Code == core.ErrCodeBudgetExceeded {
				return fmt.Errorf("session budget exhausted at item %d: %w", item.ID, err)
			}
			if perr.Retryable {
				return fmt.Errorf("analysis service failure at item %d: %w", item.ID, err)
			}
		}
		// Timeouts and malformed responses fail the one item only.
		logger.Warn("item analysis errored", "item_id", item.ID, "error", err)
		p.recordItemFailure(ctx, item.ID, outcome)
		return nil
	}

	if !result.Success {
		logger.Warn("item analysis failed", "item_id", item.ID, "reason", result.Error)
		p.recordItemFailure(ctx, item.ID, outcome)
		return nil
	}

	if err := p.recorder.RecordAnalysis(ctx, item.ID, result.SignalsFound, result.Cost); err != nil {
		logger.Error("analysis result not recorded", "item_id", item.ID, "error", err)
		p.recordItemFailure(ctx, item.ID, outcome)
		return nil
	}

	if err := p.store.ClearItemFailures(ctx, item.ID); err != nil {
		logger.Debug("failure count clear failed", "item_id", item.ID, "error", err)
	}
	outcome.processed++
	metrics.ItemsAnalyzedTotal.WithLabelValues("success").Inc()
	return nil
}

func (p *Processor) recordItemFailure(ctx context.Context, itemID int64, outcome *batchOutcome) {
	outcome.failed++
	metrics.ItemsAnalyzedTotal.WithLabelValues("failed").Inc()
	if _, err := p.store.RecordItemFailure(ctx, itemID); err != nil {
		p.logger.Error("failure count update failed", "item_id", itemID, "error", err)
	}
}

// retryOrFail handles a systemic batch failure: requeue with backoff while
// deliveries remain, otherwise mark the batch failed and drop the task.
func (p *Processor) retryOrFail(ctx context.Context, msg Message, reason string) {
	task := msg.Task()
	deliveries := msg.Deliveries()
	logger := p.logger.With("session_id", task.SessionID, "batch", task.BatchNumber)

	if deliveries < p.policy.MaxRetryAttempts {
		delay := core.CalculateBackoff(p.retry, deliveries)
		logger.Warn("batch failed, requeueing",
			"reason", reason,
			"attempt", deliveries,
			"retry_in", delay)
		_ = msg.Retry(delay)
		return
	}

	logger.Error("batch retries exhausted", "reason", reason, "attempts", deliveries)
	message := fmt.Sprintf("retries exhausted after %d attempts: %s", deliveries, reason)
	if err := p.store.UpdateBatchStatus(ctx, task.SessionID, task.BatchNumber, core.BatchFailed, "", message); err != nil {
		logger.Error("terminal failure not recorded", "error", err)
	}
	metrics.BatchesTotal.WithLabelValues(core.BatchFailed).Inc()
	_ = msg.Discard()

	if _, err := p.store.FinalizeSession(ctx, task.SessionID); err != nil {
		logger.Warn("finalize attempt failed", "error", err)
	}
}

// processItem handles a recovery re-submission of one failed item.
func (p *Processor) processItem(ctx context.Context, msg Message) {
	task := msg.Task()
	logger := p.logger.With("item_id", task.ItemID)
	ctx, span := trace.StartItemSpan(ctx, task.ItemID)
	defer span.End()

	pending, err := p.recorder.Unanalyzed(ctx, []int64{task.ItemID})
	if err != nil {
		logger.Error("analyzed check failed", "error", err)
		_ = msg.Retry(core.CalculateBackoff(p.retry, msg.Deliveries()))
		return
	}
	if len(pending) == 0 {
		logger.Info("item already analyzed, acking recovery task")
		_ = msg.Ack()
		return
	}

	items, err := p.selector.FetchDetails(ctx, pending)
	if err != nil || len(items) == 0 {
		logger.Error("item details unavailable, discarding recovery task", "error", err)
		_ = msg.Discard()
		return
	}

	// Recovery items run outside any session budget; allow headroom over
	// the estimate so an expensive article still completes.
	tracker := core.NewCostTracker(2 * p.policy.CostPerItem)

	itemCtx, cancel := context.WithTimeout(ctx, p.policy.PerItemTimeout)
	result, err := p.analyzer.Analyze(itemCtx, items[0], tracker)
	cancel()

	if err != nil || !result.Success {
		if err == nil {
			err = errors.New(result.Error)
		}
		trace.RecordError(span, err)
		count, recErr := p.store.RecordItemFailure(ctx, task.ItemID)
		if recErr != nil {
			logger.Error("failure count update failed", "error", recErr)
		}
		metrics.ItemsAnalyzedTotal.WithLabelValues("failed").Inc()

		if msg.Deliveries() >= p.policy.MaxRetryAttempts {
			logger.Error("item recovery exhausted", "failures", count, "error", err)
			_ = msg.Discard()
			return
		}
		logger.Warn("item recovery failed, requeueing", "failures", count, "error", err)
		_ = msg.Retry(core.CalculateBackoff(p.retry, msg.Deliveries()))
		return
	}

	if err := p.recorder.RecordAnalysis(ctx, task.ItemID, result.SignalsFound, result.Cost); err != nil {
		logger.Error("analysis result not recorded", "error", err)
		_ = msg.Retry(core.CalculateBackoff(p.retry, msg.Deliveries()))
		return
	}
	if err := p.store.ClearItemFailures(ctx, task.ItemID); err != nil {
		logger.Debug("failure count clear failed", "error", err)
	}

	logger.Info("item recovered", "signals_found", result.SignalsFound, "cost", result.Cost)
	metrics.ItemsAnalyzedTotal.WithLabelValues("success").Inc()
	metrics.AnalysisCostDollars.Add(result.Cost)
	_ = msg.Ack()
}
