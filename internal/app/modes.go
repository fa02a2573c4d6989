package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lphedger/internal/driver"
	"github.com/alanyoungcy/lphedger/internal/engine"
	"github.com/alanyoungcy/lphedger/internal/server"
	"github.com/alanyoungcy/lphedger/internal/server/handler"
	"github.com/alanyoungcy/lphedger/internal/server/ws"
)

// HedgeMode runs the full live loop: the polling driver evaluates every
// tracked position and places real orders on the venue, the archiver parks
// aged history in object storage, and the HTTP/WS API serves the dashboard.
func (a *App) HedgeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting hedge mode")
	return a.runHedging(ctx, deps)
}

// PaperMode runs the same loop as hedge mode but against the in-process venue
// simulator, so decisions, accounting, and history are real while orders are
// not.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	return a.runHedging(ctx, deps)
}

// MonitorMode serves the HTTP/WS API over persisted position state without
// running the rebalance loop. No venue adjustments happen in this mode.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	eng := a.buildEngine(deps)
	if err := eng.Restore(ctx); err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, eng)
	return g.Wait()
}

// runHedging is the shared hedge/paper loop: restore tracked positions, start
// the polling driver, and start the API server when enabled.
func (a *App) runHedging(ctx context.Context, deps *Dependencies) error {
	eng := a.buildEngine(deps)
	if err := eng.Restore(ctx); err != nil {
		return fmt.Errorf("%s mode: %w", a.cfg.Mode, err)
	}

	g, ctx := errgroup.WithContext(ctx)

	// Typed-nil guard: a nil *Archiver must stay a nil interface so the
	// driver skips its archive loop entirely.
	var arch driver.Archiver
	if deps.Archiver != nil {
		arch = deps.Archiver
	}
	drv := driver.New(eng, arch, driver.Config{
		PollInterval:    a.cfg.Driver.PollInterval.Duration,
		ArchiveInterval: a.cfg.Driver.ArchiveInterval.Duration,
		RetentionDays:   a.cfg.Driver.RetentionDays,
	}, a.logger)
	g.Go(func() error {
		return drv.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}

	return g.Wait()
}

// buildEngine constructs the rebalance engine from the wired dependencies.
func (a *App) buildEngine(deps *Dependencies) *engine.Engine {
	return engine.New(
		deps.LPReader,
		deps.Venue,
		deps.PositionStore,
		deps.RebalanceStore,
		deps.Notifier,
		deps.SignalBus,
		deps.PriceCache,
		a.engineConfig(),
		a.logger,
	)
}

// engineConfig maps the TOML engine section onto the engine's runtime config.
func (a *App) engineConfig() engine.Config {
	ec := a.cfg.Engine
	return engine.Config{
		RebalanceInterval:   ec.RebalanceInterval.Duration,
		Cooldown:            ec.Cooldown.Duration,
		HedgeRatioFloor:     ec.HedgeRatioFloor,
		FundingCutoff:       ec.FundingCutoff,
		MinNotionalUSD:      ec.MinNotionalUSD,
		MaxNotionalUSD:      ec.MaxNotionalUSD,
		DuplicateEpsilon:    ec.DuplicateEpsilon,
		MaxDailyRebalances:  ec.MaxDailyRebalances,
		MaxHourlyRebalances: ec.MaxHourlyRebalances,
		PriceSanityFloor:    ec.PriceSanityFloor,
		TakerFeeRate:        ec.TakerFeeRate,
		HistoryLimit:        ec.HistoryLimit,
		AuditRetries:        ec.AuditRetries,
	}
}

// startHTTPServer adds the WebSocket hub and HTTP server goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) {
	startedAt := time.Now().UTC()

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	health := handler.NewHealthHandler(a.logger)
	health.AddCheck("postgres", func(ctx context.Context) error {
		return deps.PG.Pool().Ping(ctx)
	})
	health.AddCheck("redis", deps.Redis.Ping)
	if deps.S3 != nil {
		health.AddCheck("s3", deps.S3.Health)
	}

	handlers := server.Handlers{
		Health:     health,
		Status:     handler.NewStatusHandler(a.cfg.Mode, startedAt, eng),
		Positions:  handler.NewPositionHandler(eng, a.logger),
		Rebalances: handler.NewRebalanceHandler(deps.RebalanceStore, a.logger),
		Prices:     handler.NewPriceHandler(deps.PriceCache, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
		)
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}
