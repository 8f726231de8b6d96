package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/curaition/bitcoin-newsletter/internal/analysis"
	"github.com/curaition/bitcoin-newsletter/internal/api"
	"github.com/curaition/bitcoin-newsletter/internal/backlog"
	"github.com/curaition/bitcoin-newsletter/internal/monitor"
	natsbackend "github.com/curaition/bitcoin-newsletter/internal/nats"
	"github.com/curaition/bitcoin-newsletter/internal/orchestrator"
	"github.com/curaition/bitcoin-newsletter/internal/recovery"
	"github.com/curaition/bitcoin-newsletter/internal/scheduler"
	"github.com/curaition/bitcoin-newsletter/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App wires every component of the analysis pipeline.
type App struct {
	cfg     Config
	logger  *slog.Logger
	backend *natsbackend.Backend
	backlog *backlog.Store
	pool    *worker.Pool
	sched   *scheduler.Scheduler
	router  http.Handler
}

// NewApp builds the full pipeline from configuration. Callers own Close.
func NewApp(cfg Config, version string, logger *slog.Logger) (*App, error) {
	policy := cfg.Policy()

	backend, err := natsbackend.New(cfg.NatsURL, policy.MaxRetryAttempts)
	if err != nil {
		return nil, fmt.Errorf("connect backend: %w", err)
	}

	store, err := backlog.Open(cfg.BacklogPath)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("open backlog: %w", err)
	}

	sources, err := backlog.LoadPrioritySources(cfg.PrioritySourcesPath)
	if err != nil {
		backend.Close()
		store.Close()
		return nil, fmt.Errorf("load priority sources: %w", err)
	}

	selector := backlog.NewSelector(store, policy, sources, logger)
	analyzer := analysis.New(cfg.AnalysisURL, policy.CostPerItem, policy.PerItemTimeout)

	orch := orchestrator.New(policy, backend, selector, backend, logger)
	mon := monitor.New(policy, backend, natsbackend.NewAlertBroker(backend.Conn()), logger)
	rec := recovery.New(policy, backend, backend, store, backend, logger)

	processor := worker.NewProcessor(policy, backend, selector, analyzer, store, logger)
	pool := worker.NewPool(worker.NewNATSSource(backend.Fetcher()), processor, cfg.Workers, logger)

	sched := scheduler.New(backend, mon, rec, logger)

	handler := api.NewHandler(orch, backend, mon, rec, backend, version)

	return &App{
		cfg:     cfg,
		logger:  logger,
		backend: backend,
		backlog: store,
		pool:    pool,
		sched:   sched,
		router:  NewRouter(handler),
	}, nil
}

// Router exposes the HTTP surface, mainly for tests.
func (a *App) Router() http.Handler { return a.router }

// Backend exposes the job store backend, mainly for tests.
func (a *App) Backend() *natsbackend.Backend { return a.backend }

// Backlog exposes the article store, mainly for tests.
func (a *App) Backlog() *backlog.Store { return a.backlog }

// Run starts the HTTP server, the worker pool, and the scheduler, and
// blocks until ctx is canceled or a component fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer a.sched.Stop()

	httpServer := &http.Server{
		Addr:    ":" + a.cfg.Port,
		Handler: a.router,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return a.pool.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close releases the backend connection and the backlog database.
func (a *App) Close() {
	a.sched.Stop()
	if err := a.backlog.Close(); err != nil {
		a.logger.Error("backlog close failed", "error", err)
	}
	if err := a.backend.Close(); err != nil {
		a.logger.Error("backend close failed", "error", err)
	}
}
