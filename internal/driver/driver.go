// Package driver runs the periodic loops that keep the hedger alive: the
// polling loop that feeds every tracked position through a decision cycle,
// and the retention loop that pages aged rebalance history into cold storage.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Engine is the cycle entry point the driver ticks.
type Engine interface {
	RunCycle(ctx context.Context)
}

// Archiver moves rebalance history older than a cutoff into cold storage.
type Archiver interface {
	ArchiveRebalances(ctx context.Context, before time.Time) (int64, error)
}

// Config holds the driver loop timings.
type Config struct {
	// PollInterval is the spacing between decision cycles.
	PollInterval time.Duration

	// ArchiveInterval is the spacing between archive runs. Zero disables the
	// retention loop.
	ArchiveInterval time.Duration

	// RetentionDays is how long rebalance history stays in the primary store
	// before an archive run moves it out.
	RetentionDays int
}

// Normalized returns cfg with defaults applied.
func (c Config) Normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = time.Minute
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 90
	}
	return c
}

// Driver owns the background loops. It holds no position state of its own;
// all decisions happen inside the engine.
type Driver struct {
	engine   Engine
	archiver Archiver
	cfg      Config
	logger   *slog.Logger
}

// New creates a Driver. The archiver is optional; pass nil to run without
// the retention loop.
func New(engine Engine, archiver Archiver, cfg Config, logger *slog.Logger) *Driver {
	return &Driver{
		engine:   engine,
		archiver: archiver,
		cfg:      cfg.Normalized(),
		logger:   logger.With(slog.String("component", "driver")),
	}
}

// Run starts the loops and blocks until the context is cancelled. A cancelled
// context is a clean shutdown and returns nil.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "driver starting",
		slog.Duration("poll_interval", d.cfg.PollInterval),
		slog.Duration("archive_interval", d.cfg.ArchiveInterval),
		slog.Int("retention_days", d.cfg.RetentionDays),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := d.pollLoop(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("driver: poll loop: %w", err)
	})

	if d.archiver != nil && d.cfg.ArchiveInterval > 0 {
		g.Go(func() error {
			err := d.archiveLoop(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("driver: archive loop: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		d.logger.Error("driver stopped with error", slog.String("error", err.Error()))
		return err
	}

	d.logger.Info("driver stopped cleanly")
	return nil
}

// pollLoop runs one decision cycle immediately and then on every tick. A
// cycle that overruns the interval simply delays the next tick; cycles never
// overlap.
func (d *Driver) pollLoop(ctx context.Context) error {
	d.engine.RunCycle(ctx)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.engine.RunCycle(ctx)
		}
	}
}

// archiveLoop periodically moves rebalance rows older than the retention
// window into cold storage. Failures are logged and retried on the next tick.
func (d *Driver) archiveLoop(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.ArchiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -d.cfg.RetentionDays)
			archived, err := d.archiver.ArchiveRebalances(ctx, cutoff)
			if err != nil {
				d.logger.ErrorContext(ctx, "archive run failed",
					slog.String("error", err.Error()),
				)
				continue
			}
			if archived > 0 {
				d.logger.InfoContext(ctx, "archive run complete",
					slog.Time("cutoff", cutoff),
					slog.Int64("archived", archived),
				)
			}
		}
	}
}
