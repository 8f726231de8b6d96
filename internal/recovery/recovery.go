// Package recovery re-submits items stranded by failed batches and fails
// batches stuck in a processing state past the staleness threshold.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/curaition/bitcoin-newsletter/internal/core"
	"github.com/curaition/bitcoin-newsletter/internal/metrics"
)

// StalledLister extends the job store with the scan the cleanup pass needs.
type StalledLister interface {
	// ListStalledBatches returns processing batch records whose StartedAt
	// is older than threshold.
	ListStalledBatches(ctx context.Context, threshold time.Duration) ([]*core.BatchRecord, error)
}

// Manager runs the two periodic recovery passes.
type Manager struct {
	policy     core.Policy
	store      core.JobStore
	stalled    StalledLister
	recorder   core.AnalysisRecorder
	dispatcher core.Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

func New(policy core.Policy, store core.JobStore, stalled StalledLister, recorder core.AnalysisRecorder, dispatcher core.Dispatcher, logger *slog.Logger) *Manager {
	return &Manager{
		policy:     policy,
		store:      store,
		stalled:    stalled,
		recorder:   recorder,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}
}

// RecoverFailedItems scans recent failed batches for items that never got
// an analysis record and re-submits each as an individual task. The delay
// grows with the item's failure count so a persistently broken article
// backs off instead of churning.
func (m *Manager) RecoverFailedItems(ctx context.Context) (int, error) {
	batches, err := m.store.ListFailedBatches(ctx, m.policy.RecoveryWindow)
	if err != nil {
		return 0, fmt.Errorf("list failed batches: %w", err)
	}

	resubmitted := 0
	seen := make(map[int64]bool)
	for _, record := range batches {
		pending, err := m.recorder.Unanalyzed(ctx, record.ItemIDs)
		if err != nil {
			m.logger.Error("unanalyzed scan failed",
				"session_id", record.SessionID,
				"batch", record.BatchNumber,
				"error", err)
			continue
		}

		for _, itemID := range pending {
			// The same item can sit in several failed batches across
			// sessions; submit it once per pass.
			if seen[itemID] {
				continue
			}
			seen[itemID] = true

			count, err := m.store.ItemFailureCount(ctx, itemID)
			if err != nil {
				m.logger.Error("failure count lookup failed", "item_id", itemID, "error", err)
				continue
			}
			delay := m.policy.RecoveryDelay(count)

			task := core.Task{Kind: core.TaskItem, ItemID: itemID}
			if err := m.dispatcher.Dispatch(ctx, task, delay); err != nil {
				if errors.Is(err, core.ErrTaskAlreadyScheduled) {
					// An earlier pass parked this item and it is not due
					// yet. Re-parking would push the due time out past
					// the next pass, over and over, so the delay cap
					// would never take effect.
					m.logger.Debug("item already awaiting re-analysis", "item_id", itemID)
					continue
				}
				m.logger.Error("item re-submission failed", "item_id", itemID, "error", err)
				continue
			}

			m.logger.Info("item re-submitted for analysis",
				"item_id", itemID,
				"failure_count", count,
				"delay", delay,
				"from_session", record.SessionID)
			metrics.RecoveredItemsTotal.Inc()
			resubmitted++
		}
	}

	if resubmitted > 0 {
		m.logger.Info("recovery pass complete", "items_resubmitted", resubmitted)
	}
	return resubmitted, nil
}

// CleanupStalledBatches fails batches that have sat in processing past the
// stall threshold. It does not retry them; the next RecoverFailedItems
// pass picks up whatever stayed unanalyzed.
func (m *Manager) CleanupStalledBatches(ctx context.Context) (int, error) {
	stalled, err := m.stalled.ListStalledBatches(ctx, m.policy.StallThreshold)
	if err != nil {
		return 0, fmt.Errorf("list stalled batches: %w", err)
	}

	failed := 0
	for _, record := range stalled {
		message := fmt.Sprintf("timed out: processing since %s exceeded %s threshold",
			record.StartedAt, m.policy.StallThreshold)
		if err := m.store.UpdateBatchStatus(ctx, record.SessionID, record.BatchNumber, core.BatchFailed, "", message); err != nil {
			m.logger.Error("stalled batch not failed",
				"session_id", record.SessionID,
				"batch", record.BatchNumber,
				"error", err)
			continue
		}

		m.logger.Warn("stalled batch failed by cleanup",
			"session_id", record.SessionID,
			"batch", record.BatchNumber,
			"started_at", record.StartedAt)
		metrics.StalledBatchesTotal.Inc()
		metrics.BatchesTotal.WithLabelValues(core.BatchFailed).Inc()
		failed++

		// Failing the last open batch makes the session finalizable.
		if _, err := m.store.FinalizeSession(ctx, record.SessionID); err != nil {
			m.logger.Warn("finalize attempt failed", "session_id", record.SessionID, "error", err)
		}
	}
	return failed, nil
}
