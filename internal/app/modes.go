package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/predictsim/internal/domain"
	"github.com/alanyoungcy/predictsim/internal/pipeline"
	"github.com/alanyoungcy/predictsim/internal/server"
	"github.com/alanyoungcy/predictsim/internal/server/handler"
	"github.com/alanyoungcy/predictsim/internal/server/ws"
	"github.com/alanyoungcy/predictsim/internal/service"
)

// services holds the service layer built on top of Dependencies.
type services struct {
	sync    *service.SyncService
	trades  *service.TradeService
	markets *service.MarketService
	history *service.HistoryService
}

func (a *App) buildServices(deps *Dependencies) *services {
	return &services{
		sync: service.NewSyncService(
			deps.Sources, deps.Catalog, deps.History, deps.MarketCache,
			deps.Locks, deps.Bus, deps.Audit, deps.Notifier,
			a.cfg.Sync.LockTTL.Duration, a.logger,
		),
		trades: service.NewTradeService(deps.Ledger, deps.Bus, deps.Audit, service.TradeOptions{
			MaxQuantity:     a.cfg.Ledger.MaxQuantity,
			StartingBalance: a.cfg.Ledger.StartingBalanceDecimal(),
			MaxRetries:      a.cfg.Ledger.MaxRetries,
			RetryBackoff:    a.cfg.Ledger.RetryBackoff.Duration,
		}, a.logger),
		markets: service.NewMarketService(deps.Catalog, deps.MarketCache, a.logger),
		history: service.NewHistoryService(deps.Catalog, deps.History),
	}
}

// buildOrchestrator assembles the background jobs. The sync loop is nil when
// periodic sync is disabled.
func (a *App) buildOrchestrator(deps *Dependencies, svcs *services) (*pipeline.Orchestrator, *pipeline.SyncLoop) {
	var loop *pipeline.SyncLoop
	if a.cfg.Sync.Enabled {
		loop = pipeline.NewSyncLoop(
			svcs.sync,
			syncSources(a.cfg, deps.Sources),
			domain.ScopeKind(a.cfg.Sync.Scope),
			a.cfg.Sync.Interval.Duration,
			a.logger,
		)
	}
	var archiver *pipeline.Archiver
	if deps.Archiver != nil {
		archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	}
	return pipeline.NewOrchestrator(loop, archiver, a.cfg.Archive.Cron, a.logger), loop
}

// ServeMode runs the HTTP API, the WebSocket hub and the background jobs.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	svcs := a.buildServices(deps)
	orch, loop := a.buildOrchestrator(deps, svcs)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(ctx) })

	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error { return hub.Run(ctx) })

	var trigger handler.SyncTrigger
	if loop != nil {
		trigger = loop
	}
	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.ApiKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(deps.Health, a.logger),
		Markets: handler.NewMarketHandler(svcs.markets, svcs.history, a.logger),
		Sync:    handler.NewSyncHandler(svcs.sync, trigger, a.logger),
		Trades:  handler.NewTradeHandler(svcs.trades, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// WorkerMode runs only the background jobs.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting worker mode")
	orch, _ := a.buildOrchestrator(deps, a.buildServices(deps))
	return orch.Run(ctx)
}

// SyncMode runs one pass for every sync source, writes the results to stdout
// as JSON and returns. Any failed source makes the run fail after the others
// have been attempted.
func (a *App) SyncMode(ctx context.Context, deps *Dependencies) error {
	svc := a.buildServices(deps).sync
	scope := domain.SyncScope{Kind: domain.ScopeKind(a.cfg.Sync.Scope)}

	var (
		results []domain.SyncResult
		errs    []error
	)
	for _, src := range syncSources(a.cfg, deps.Sources) {
		res, err := svc.Run(ctx, domain.SyncRequest{Source: src, Scope: scope})
		if err != nil {
			a.logger.ErrorContext(ctx, "sync mode: pass failed",
				slog.String("source", src),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", src, err))
			continue
		}
		results = append(results, res)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return fmt.Errorf("app: write sync results: %w", err)
	}
	return errors.Join(errs...)
}
