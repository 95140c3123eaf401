package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/predictsim/internal/domain"
)

// SyncRunner runs one reconciliation pass. *service.SyncService satisfies it.
type SyncRunner interface {
	Run(ctx context.Context, req domain.SyncRequest) (domain.SyncResult, error)
}

// SyncLoop runs sync passes for every configured source on an interval and
// whenever Trigger is called.
type SyncLoop struct {
	runner   SyncRunner
	sources  []string
	scope    domain.ScopeKind
	interval time.Duration
	trigger  chan struct{}
	logger   *slog.Logger
}

// NewSyncLoop creates a SyncLoop.
func NewSyncLoop(runner SyncRunner, sources []string, scope domain.ScopeKind, interval time.Duration, logger *slog.Logger) *SyncLoop {
	return &SyncLoop{
		runner:   runner,
		sources:  sources,
		scope:    scope,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		logger:   logger,
	}
}

// Trigger requests an immediate pass. Requests made while one is already
// pending are coalesced.
func (l *SyncLoop) Trigger() {
	select {
	case l.trigger <- struct{}{}:
	default:
	}
}

// RunOnce syncs every source once. A failing source does not stop the others.
func (l *SyncLoop) RunOnce(ctx context.Context) {
	for _, src := range l.sources {
		res, err := l.runner.Run(ctx, domain.SyncRequest{
			Source: src,
			Scope:  domain.SyncScope{Kind: l.scope},
		})
		switch {
		case errors.Is(err, domain.ErrSyncInProgress):
			l.logger.DebugContext(ctx, "sync loop: pass already running", slog.String("source", src))
		case err != nil:
			l.logger.ErrorContext(ctx, "sync loop: pass failed",
				slog.String("source", src),
				slog.String("error", err.Error()),
			)
		case res.HistoryError != nil:
			l.logger.WarnContext(ctx, "sync loop: history not recorded",
				slog.String("source", src),
				slog.String("error", res.HistoryError.Error()),
			)
		}
	}
}

// RunLoop runs a pass immediately and then on every tick or trigger until the
// context is cancelled.
func (l *SyncLoop) RunLoop(ctx context.Context) error {
	l.RunOnce(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("sync loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.RunOnce(ctx)
		case <-l.trigger:
			l.RunOnce(ctx)
		}
	}
}
