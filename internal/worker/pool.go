// Package worker consumes batch and item tasks from the work queue and runs
// them through the analysis service.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/curaition/bitcoin-newsletter/internal/core"
	natsbackend "github.com/curaition/bitcoin-newsletter/internal/nats"
)

// Message is one in-flight task leased from the queue.
type Message interface {
	Task() core.Task
	Deliveries() int
	Ack() error
	Retry(delay time.Duration) error
	Discard() error
	Extend() error
}

// Source leases messages from the work queue. An empty slice with a nil
// error means no work was available within the fetch window.
type Source interface {
	Fetch(ctx context.Context, count int) ([]Message, error)
}

// NATSSource adapts the JetStream fetcher to the Source interface.
type NATSSource struct {
	fetcher *natsbackend.TaskFetcher
}

func NewNATSSource(fetcher *natsbackend.TaskFetcher) *NATSSource {
	return &NATSSource{fetcher: fetcher}
}

func (s *NATSSource) Fetch(ctx context.Context, count int) ([]Message, error) {
	msgs, err := s.fetcher.Fetch(ctx, count)
	if err != nil {
		return nil, err
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m
	}
	return out, nil
}

// Pool runs a fixed set of workers pulling from one shared source. Batches
// within one session still start staggered because their tasks surface on
// the queue staggered.
type Pool struct {
	source    Source
	processor *Processor
	workers   int
	logger    *slog.Logger
}

func NewPool(source Source, processor *Processor, workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		source:    source,
		processor: processor,
		workers:   workers,
		logger:    logger,
	}
}

// Run blocks until ctx is canceled. Workers drain their in-flight task
// before exiting; unfinished leases are redelivered by the queue.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error {
			return p.runWorker(ctx, id)
		})
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) runWorker(ctx context.Context, id int) error {
	logger := p.logger.With("worker", id)
	logger.Info("worker started")
	defer logger.Info("worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := p.source.Fetch(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error("fetch failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return nil
			}
			continue
		}

		for _, msg := range msgs {
			p.processor.Handle(ctx, msg)
		}
	}
}
