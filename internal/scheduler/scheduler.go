// Package scheduler drives the periodic passes: promoting deferred tasks
// onto the work queue, monitoring active sessions, and running recovery.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/curaition/bitcoin-newsletter/internal/metrics"
)

// Cadences for the periodic passes.
const (
	promoteInterval = 2 * time.Second
	monitorSpec     = "@every 5m"
	stalledSpec     = "@every 15m"
	recoverySpec    = "@every 30m"
)

// Promoter moves due deferred tasks onto the work queue.
type Promoter interface {
	PromoteScheduled(ctx context.Context) (int, error)
}

// MonitorPass is one evaluation sweep over active sessions.
type MonitorPass interface {
	RunOnce(ctx context.Context) error
}

// RecoveryPass runs the failed-item and stalled-batch sweeps.
type RecoveryPass interface {
	RecoverFailedItems(ctx context.Context) (int, error)
	CleanupStalledBatches(ctx context.Context) (int, error)
}

// Scheduler owns the cron entries and the promotion loop.
type Scheduler struct {
	promoter Promoter
	monitor  MonitorPass
	recovery RecoveryPass
	logger   *slog.Logger

	cron     *cron.Cron
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(promoter Promoter, monitor MonitorPass, recovery RecoveryPass, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		promoter: promoter,
		monitor:  monitor,
		recovery: recovery,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start registers the cron entries and launches the promotion loop. The
// promotion loop runs on a tight ticker because deferred batch tasks carry
// second-scale stagger delays.
func (s *Scheduler) Start() error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(monitorSpec, s.runMonitor); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(stalledSpec, s.runStalledCleanup); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(recoverySpec, s.runItemRecovery); err != nil {
		return err
	}
	s.cron.Start()

	s.wg.Add(1)
	go s.promoteLoop()

	s.logger.Info("scheduler started",
		"promote_interval", promoteInterval,
		"monitor", monitorSpec,
		"stalled_cleanup", stalledSpec,
		"item_recovery", recoverySpec)
	return nil
}

// Stop halts all passes. Safe to call more than once; blocks until the
// promotion loop has exited.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.cron != nil {
			s.cron.Stop()
		}
	})
	s.wg.Wait()
}

func (s *Scheduler) promoteLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), promoteInterval)
			n, err := s.promoter.PromoteScheduled(ctx)
			cancel()
			if err != nil {
				s.logger.Error("promotion pass failed", "error", err)
				continue
			}
			if n > 0 {
				s.logger.Debug("deferred tasks promoted", "count", n)
				metrics.TasksPromotedTotal.Add(float64(n))
			}
		}
	}
}

func (s *Scheduler) runMonitor() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := s.monitor.RunOnce(ctx); err != nil {
		s.logger.Error("monitor pass failed", "error", err)
	}
}

func (s *Scheduler) runStalledCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.recovery.CleanupStalledBatches(ctx); err != nil {
		s.logger.Error("stalled cleanup pass failed", "error", err)
	}
}

func (s *Scheduler) runItemRecovery() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := s.recovery.RecoverFailedItems(ctx); err != nil {
		s.logger.Error("item recovery pass failed", "error", err)
	}
}
