package bootstrap

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

const noShowInterval = time.Hour

// RunMaintenance releases expired holds and marks no-shows on their
// configured schedules until ctx is cancelled.
func (a *App) RunMaintenance(ctx context.Context) error {
	sweep := time.Duration(a.Config.Worker.ExpirationSweepSeconds) * time.Second

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return Every(gctx, sweep, "expire_holds", a.Logger, a.ExpireHolds)
	})
	g.Go(func() error {
		return Every(gctx, noShowInterval, "mark_no_shows", a.Logger, a.MarkNoShows)
	})
	a.Logger.Info("maintenance started", "sweep_interval", sweep, "no_show_after_hours", a.Config.Worker.NoShowAfterHours)
	return g.Wait()
}

func (a *App) ExpireHolds(ctx context.Context) error {
	expired, err := a.Holds.ExpireDue(ctx)
	if err != nil {
		return err
	}
	if len(expired) > 0 {
		a.Logger.Info("expired holds", "count", len(expired))
	}
	return nil
}

func (a *App) MarkNoShows(ctx context.Context) error {
	n, err := a.Gate.MarkNoShows(ctx, time.Duration(a.Config.Worker.NoShowAfterHours)*time.Hour)
	if err != nil {
		return err
	}
	if n > 0 {
		a.Logger.Info("marked no-shows", "count", n)
	}
	return nil
}
