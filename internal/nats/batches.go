package nats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/curaition/bitcoin-newsletter/internal/core"
)

// UpdateBatchStatus moves a batch record between statuses, guarding the
// pending -> processing -> terminal ordering. startedAt and errorMessage
// are applied when non-empty.
func (b *Backend) UpdateBatchStatus(ctx context.Context, sessionID string, batchNumber int, status, startedAt, errorMessage string) error {
	var record core.BatchRecord
	err := b.batches.UpdateJSON(ctx, batchKey(sessionID, batchNumber), &record, func() error {
		if !core.CanTransitionBatch(record.Status, status) {
			return core.NewConflictError(
				fmt.Sprintf("Batch %d cannot move from '%s' to '%s'.", batchNumber, record.Status, status),
				map[string]any{
					"session_id":   sessionID,
					"batch_number": batchNumber,
					"from":         record.Status,
					"to":           status,
				},
			)
		}
		record.Status = status
		if startedAt != "" {
			record.StartedAt = startedAt
		}
		if errorMessage != "" {
			record.ErrorMessage = errorMessage
		}
		if core.IsTerminalBatchStatus(status) && record.CompletedAt == "" {
			record.CompletedAt = core.NowFormatted()
		}
		return nil
	})
	if err == jetstream.ErrKeyNotFound {
		return core.NewNotFoundError("Batch record", batchKey(sessionID, batchNumber))
	}
	return err
}

// UpdateBatchCompletion records a batch's final counts and marks it
// completed. actualCost is the final delivery's spend; it is added to any
// cost earlier deliveries already booked against the record.
func (b *Backend) UpdateBatchCompletion(ctx context.Context, sessionID string, batchNumber, itemsProcessed, itemsFailed int, actualCost float64) error {
	var record core.BatchRecord
	err := b.batches.UpdateJSON(ctx, batchKey(sessionID, batchNumber), &record, func() error {
		if !core.CanTransitionBatch(record.Status, core.BatchCompleted) {
			return core.NewConflictError(
				fmt.Sprintf("Batch %d cannot complete from '%s'.", batchNumber, record.Status),
				map[string]any{
					"session_id":   sessionID,
					"batch_number": batchNumber,
					"from":         record.Status,
				},
			)
		}
		record.Status = core.BatchCompleted
		record.ItemsProcessed = itemsProcessed
		record.ItemsFailed = itemsFailed
		record.ActualCost += actualCost
		record.CompletedAt = core.NowFormatted()
		return nil
	})
	if err == jetstream.ErrKeyNotFound {
		return core.NewNotFoundError("Batch record", batchKey(sessionID, batchNumber))
	}
	return err
}

// AddBatchCost adds delta to the batch record's actual cost without
// touching its status. Workers call it when a delivery spends money but
// aborts before completion, so the record matches the session's billing.
func (b *Backend) AddBatchCost(ctx context.Context, sessionID string, batchNumber int, delta float64) error {
	var record core.BatchRecord
	err := b.batches.UpdateJSON(ctx, batchKey(sessionID, batchNumber), &record, func() error {
		record.ActualCost += delta
		return nil
	})
	if err == jetstream.ErrKeyNotFound {
		return core.NewNotFoundError("Batch record", batchKey(sessionID, batchNumber))
	}
	return err
}

// ListFailedBatches returns failed batch records completed within the
// window, newest first.
func (b *Backend) ListFailedBatches(ctx context.Context, window time.Duration) ([]*core.BatchRecord, error) {
	keys, err := b.batches.Keys(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-window)

	var failed []*core.BatchRecord
	for _, key := range keys {
		var record core.BatchRecord
		if _, err := b.batches.GetJSON(ctx, key, &record); err != nil {
			continue
		}
		if record.Status != core.BatchFailed {
			continue
		}
		completedAt, err := core.ParseTime(record.CompletedAt)
		if err != nil || completedAt.Before(cutoff) {
			continue
		}
		failed = append(failed, &record)
	}

	sort.Slice(failed, func(i, j int) bool {
		return failed[i].CompletedAt > failed[j].CompletedAt
	})
	return failed, nil
}

// ListStalledBatches returns processing batch records whose StartedAt is
// older than threshold, oldest first.
func (b *Backend) ListStalledBatches(ctx context.Context, threshold time.Duration) ([]*core.BatchRecord, error) {
	keys, err := b.batches.Keys(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-threshold)

	var stalled []*core.BatchRecord
	for _, key := range keys {
		var record core.BatchRecord
		if _, err := b.batches.GetJSON(ctx, key, &record); err != nil {
			continue
		}
		if record.Status != core.BatchProcessing {
			continue
		}
		startedAt, err := core.ParseTime(record.StartedAt)
		if err != nil || startedAt.After(cutoff) {
			continue
		}
		stalled = append(stalled, &record)
	}

	sort.Slice(stalled, func(i, j int) bool {
		return stalled[i].StartedAt < stalled[j].StartedAt
	})
	return stalled, nil
}
