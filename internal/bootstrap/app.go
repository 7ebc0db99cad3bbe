package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stadiumpark/parking/config"
	"github.com/stadiumpark/parking/internal/cache"
	"github.com/stadiumpark/parking/internal/kafka"
	"github.com/stadiumpark/parking/internal/payment"
	"github.com/stadiumpark/parking/internal/qrcode"
	"github.com/stadiumpark/parking/internal/repository"
	"github.com/stadiumpark/parking/internal/repository/memory"
	"github.com/stadiumpark/parking/internal/service/checkout"
	"github.com/stadiumpark/parking/internal/service/gate"
	"github.com/stadiumpark/parking/internal/service/holds"
	"github.com/stadiumpark/parking/internal/service/inventory"
)

// App holds the wired services shared by the API and worker processes.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Inventory *inventory.InventoryService
	Holds     *holds.HoldService
	Checkout  *checkout.CheckoutService
	Gate      *gate.GateService
	Webhooks  *payment.WebhookVerifier

	pool     *pgxpool.Pool
	redis    *cache.RedisCache
	producer *kafka.Producer
}

type repositories struct {
	catalog      repository.CatalogRepository
	inventory    repository.InventoryRepository
	holds        repository.HoldRepository
	reservations repository.ReservationRepository
}

// NewApp connects to the configured backends and wires the services.
// Redis and Kafka are optional: without Redis gate sessions live in process
// memory and availability is not cached; without Kafka no events are sent.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	app := &App{Config: cfg, Logger: logger}

	repos, err := app.openStorage(ctx)
	if err != nil {
		return nil, err
	}

	var sessions gate.SessionStore = cache.NewLocalSessions()
	var inventoryOpts []inventory.InventoryServiceOption
	if cfg.Redis.Addr != "" {
		app.redis = cache.NewRedisCache(cfg.Redis, time.Duration(cfg.Booking.AvailabilityCacheTTL)*time.Second)
		if err := app.redis.Ping(ctx); err != nil {
			app.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		sessions = app.redis
		inventoryOpts = append(inventoryOpts, inventory.WithCache(app.redis))
	}

	checkoutOpts := []checkout.CheckoutServiceOption{
		checkout.WithHoldTTL(cfg.Booking.HoldTTL()),
		checkout.WithLatePaymentPolicy(cfg.Booking.LatePaymentPolicy),
	}
	gateOpts := []gate.GateServiceOption{
		gate.WithLocation(cfg.Booking.Location()),
		gate.WithSessionTTL(time.Duration(cfg.Booking.GateSessionTTLHours) * time.Hour),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		app.producer = kafka.NewProducer(cfg.Kafka.Brokers, logger)
		checkoutOpts = append(checkoutOpts, checkout.WithProducer(app.producer, cfg.Kafka.ReservationsTopic, cfg.Kafka.NotificationsTopic))
		gateOpts = append(gateOpts, gate.WithProducer(app.producer, cfg.Kafka.ReservationsTopic))
	}

	codec := qrcode.NewCodec(cfg.Booking.QRMarker)
	app.Inventory = inventory.NewInventoryService(repos.catalog, repos.inventory, logger, inventoryOpts...)
	app.Holds = holds.NewHoldService(repos.holds, app.Inventory, logger, holds.WithBatchSize(cfg.Worker.ExpirationBatchSize))
	app.Checkout = checkout.NewCheckoutService(
		repos.catalog,
		repos.reservations,
		app.Holds,
		payment.NewStripeGateway(cfg.Stripe, cfg.HTTP.BaseURL),
		codec,
		logger,
		checkoutOpts...,
	)
	app.Gate = gate.NewGateService(repos.catalog, repos.reservations, sessions, codec, app.Inventory, logger, gateOpts...)
	app.Webhooks = payment.NewWebhookVerifier(cfg.Stripe.WebhookSecret)
	return app, nil
}

func (a *App) openStorage(ctx context.Context) (*repositories, error) {
	if a.Config.Storage == config.StorageMemory {
		a.Logger.Warn("using in-memory storage; data is lost on restart")
		store := memory.NewStore()
		if path := a.Config.Memory.SeedFile; path != "" {
			seed, err := memory.LoadSeed(path)
			if err != nil {
				return nil, err
			}
			store.Load(seed)
			a.Logger.Info("memory store seeded", "file", path, "lots", len(seed.Lots), "events", len(seed.Events))
		}
		return &repositories{
			catalog:      store.Catalog(),
			inventory:    store.Inventory(),
			holds:        store.Holds(),
			reservations: store.Reservations(),
		}, nil
	}

	pool, err := pgxpool.New(ctx, a.Config.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	a.pool = pool

	if a.Config.Database.Migrate {
		if err := repository.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return &repositories{
		catalog:      repository.NewCatalogRepository(pool),
		inventory:    repository.NewInventoryRepository(pool),
		holds:        repository.NewHoldRepository(pool),
		reservations: repository.NewReservationRepository(pool),
	}, nil
}

// Health pings every configured backend.
func (a *App) Health(ctx context.Context) error {
	var errs []error
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("postgres: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) Close() error {
	var errs []error
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
