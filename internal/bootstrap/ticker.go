package bootstrap

import (
	"context"
	"log/slog"
	"time"
)

// Every runs job once per interval until ctx is cancelled. A failing run is
// logged and the loop continues.
func Every(ctx context.Context, interval time.Duration, name string, logger *slog.Logger, job func(context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := job(ctx); err != nil {
				logger.Error("periodic job failed", "job", name, "error", err)
			}
		}
	}
}
