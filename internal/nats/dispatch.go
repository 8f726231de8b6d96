package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/curaition/bitcoin-newsletter/internal/core"
)

// Dispatch publishes a task to the work queue. A positive delay parks the
// task in the scheduled bucket instead; the scheduler's promotion pass
// publishes it once due. Staggered batch dispatch and recovery backoff
// both ride on this. A task already parked returns
// core.ErrTaskAlreadyScheduled and keeps its original due time.
func (b *Backend) Dispatch(ctx context.Context, task core.Task, delay time.Duration) error {
	if delay > 0 {
		due := time.Now().Add(delay)
		if err := b.scheduled.Add(ctx, scheduledKey(task), task, due); err != nil {
			if errors.Is(err, jetstream.ErrKeyExists) {
				return core.ErrTaskAlreadyScheduled
			}
			return fmt.Errorf("park %s task: %w", task.Kind, err)
		}
		return nil
	}
	return b.publish(ctx, task)
}

func (b *Backend) publish(ctx context.Context, task core.Task) error {
	data, err := marshalTask(task)
	if err != nil {
		return err
	}
	if _, err := b.js.Publish(ctx, TaskSubject(task.Kind), data); err != nil {
		return fmt.Errorf("publish %s task: %w", task.Kind, err)
	}
	return nil
}

// PromoteScheduled publishes every parked task whose due time has passed
// and removes it from the scheduled bucket. Returns how many tasks were
// promoted.
func (b *Backend) PromoteScheduled(ctx context.Context) (int, error) {
	due, err := b.scheduled.Due(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	promoted := 0
	var firstErr error
	for _, entry := range due {
		if err := b.publish(ctx, entry.Task); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := b.scheduled.Remove(ctx, entry.Key); err != nil {
			// The task is on the queue; a leftover scheduled entry would
			// publish it again next pass. Workers tolerate the duplicate
			// because batch state is checked before any work runs.
			slog.Warn("failed to remove promoted task", "key", entry.Key, "error", err)
		}
		promoted++
	}
	return promoted, firstErr
}
