package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stadiumpark/parking/api"
	"github.com/stadiumpark/parking/config"
	httpSwagger "github.com/swaggo/http-swagger"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Run serves the HTTP API and blocks until ctx is cancelled or the server
// fails.
func Run(ctx context.Context, app *App) error {
	srv := &http.Server{
		Addr:              app.Config.HTTP.Address,
		Handler:           NewRouter(app),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	if app.Config.Storage == config.StorageMemory {
		// The store lives in this process, so no worker can reach its holds.
		g.Go(func() error { return app.RunMaintenance(gctx) })
	}
	g.Go(func() error {
		app.Logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen http %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func NewRouter(app *App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(app.Logger))

	r.GET("/health", func(c *gin.Context) {
		if err := app.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	group := r.Group("/api")
	api.NewEventHandler(app.Inventory, app.Logger).Register(group)
	api.NewCheckoutHandler(app.Checkout, app.Logger).Register(group)
	api.NewWebhookHandler(app.Webhooks, app.Checkout, app.Logger).Register(group)
	api.NewGateHandler(app.Gate, app.Logger).Register(group)

	if dir := app.Config.HTTP.SwaggerDir; dir != "" {
		r.Static("/swagger", dir)
		r.GET("/docs/*any", gin.WrapH(httpSwagger.Handler(httpSwagger.URL("/swagger/parking.swagger.json"))))
	}
	return r
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
