package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/stadiumpark/parking/internal/domain"
	"github.com/stadiumpark/parking/internal/repository"
	"github.com/stadiumpark/parking/internal/retry"
)

type InventoryUseCase interface {
	ListEvents(ctx context.Context) ([]domain.Event, error)
	ListAvailability(ctx context.Context, eventID string) ([]domain.LotAvailability, error)
	Ensure(ctx context.Context, eventID, lotID string) (*domain.Inventory, error)
	SetCapacity(ctx context.Context, eventID, lotID string, capacity int) (*domain.Inventory, error)
	Invalidate(ctx context.Context, eventID string)
}

// Cache versions each event's listing: SetAvailability must drop a listing
// whose version was bumped by an invalidation after GetAvailability.
type Cache interface {
	GetAvailability(ctx context.Context, eventID string) ([]domain.LotAvailability, int64, error)
	SetAvailability(ctx context.Context, eventID string, version int64, lots []domain.LotAvailability) error
	InvalidateAvailability(ctx context.Context, eventID string) error
}

type InventoryService struct {
	catalog   repository.CatalogRepository
	inventory repository.InventoryRepository
	cache     Cache
	logger    *slog.Logger
	policy    retry.Policy
}

type InventoryServiceOption func(*InventoryService)

func WithCache(cache Cache) InventoryServiceOption {
	return func(s *InventoryService) {
		s.cache = cache
	}
}

func WithRetryPolicy(p retry.Policy) InventoryServiceOption {
	return func(s *InventoryService) {
		s.policy = p
	}
}

func NewInventoryService(
	catalog repository.CatalogRepository,
	inventory repository.InventoryRepository,
	logger *slog.Logger,
	opts ...InventoryServiceOption,
) *InventoryService {
	s := &InventoryService{
		catalog:   catalog,
		inventory: inventory,
		logger:    logger,
		policy:    retry.DefaultPolicy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListEvents returns published events, soonest first.
func (s *InventoryService) ListEvents(ctx context.Context) ([]domain.Event, error) {
	events, err := retry.Read(ctx, s.policy, s.catalog.ListEvents)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(events))
	for _, e := range events {
		if e.IsPublished {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

// ListAvailability lists the lots buyers can pick for an event. Away and
// bye weeks list nothing.
func (s *InventoryService) ListAvailability(ctx context.Context, eventID string) ([]domain.LotAvailability, error) {
	cacheable := false
	var version int64
	if s.cache != nil {
		cached, v, err := s.cache.GetAvailability(ctx, eventID)
		switch {
		case err != nil:
			s.logger.Warn("availability cache read failed", "event_id", eventID, "error", err)
		case cached != nil:
			return cached, nil
		default:
			cacheable, version = true, v
		}
	}

	event, err := retry.Read(ctx, s.policy, func(ctx context.Context) (*domain.Event, error) {
		return s.catalog.GetEvent(ctx, eventID)
	})
	if err != nil {
		return nil, err
	}
	if !event.IsPublished {
		return nil, domain.ErrEventNotFound
	}
	lots := make([]domain.LotAvailability, 0)
	if !event.SellsParking() {
		return lots, nil
	}

	assignments, err := retry.Read(ctx, s.policy, func(ctx context.Context) ([]domain.EventLot, error) {
		return s.catalog.ListEventLots(ctx, eventID)
	})
	if err != nil {
		return nil, err
	}

	for _, el := range assignments {
		if !el.IsActive {
			continue
		}
		lot, err := s.catalog.GetLot(ctx, el.LotID)
		if err != nil {
			return nil, fmt.Errorf("load lot %s: %w", el.LotID, err)
		}
		if !lot.SellableOnline() {
			continue
		}
		inv, err := s.ensure(ctx, el, *lot)
		if err != nil {
			return nil, err
		}
		lots = append(lots, domain.LotAvailability{
			Lot:            *lot,
			PriceCents:     el.EffectivePrice(*lot),
			TotalCapacity:  inv.TotalCapacity,
			ReservedCount:  inv.ReservedCount,
			AvailableSpots: inv.Available(),
		})
	}
	sort.SliceStable(lots, func(i, j int) bool { return lots[i].Lot.Name < lots[j].Lot.Name })

	if cacheable {
		if err := s.cache.SetAvailability(ctx, eventID, version, lots); err != nil {
			s.logger.Warn("availability cache write failed", "event_id", eventID, "error", err)
		}
	}
	return lots, nil
}

// Ensure returns the inventory row for (event, lot), creating it from the
// effective capacity when the lot is sold for the first time.
func (s *InventoryService) Ensure(ctx context.Context, eventID, lotID string) (*domain.Inventory, error) {
	inv, err := s.inventory.Get(ctx, eventID, lotID)
	if err == nil {
		return inv, nil
	}
	if !errors.Is(err, domain.ErrInventoryNotFound) {
		return nil, err
	}

	el, err := s.catalog.GetEventLot(ctx, eventID, lotID)
	if err != nil {
		return nil, err
	}
	lot, err := s.catalog.GetLot(ctx, lotID)
	if err != nil {
		return nil, err
	}
	return s.ensure(ctx, *el, *lot)
}

func (s *InventoryService) ensure(ctx context.Context, el domain.EventLot, lot domain.Lot) (*domain.Inventory, error) {
	inv, err := s.inventory.EnsureRow(ctx, el.EventID, el.LotID, el.EffectiveCapacity(lot))
	if err != nil {
		return nil, fmt.Errorf("ensure inventory %s/%s: %w", el.EventID, el.LotID, err)
	}
	return inv, nil
}

// SetCapacity reconciles a row after an admin edits lot or override
// capacity. It refuses to drop below what is already reserved or held.
func (s *InventoryService) SetCapacity(ctx context.Context, eventID, lotID string, capacity int) (*domain.Inventory, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("%w: capacity must not be negative", domain.ErrInvalidInput)
	}
	if _, err := s.Ensure(ctx, eventID, lotID); err != nil {
		return nil, err
	}
	inv, err := s.inventory.SetCapacity(ctx, eventID, lotID, capacity)
	if err != nil {
		return nil, err
	}
	s.Invalidate(ctx, eventID)
	s.logger.Info("inventory capacity set", "event_id", eventID, "lot_id", lotID, "capacity", capacity)
	return inv, nil
}

func (s *InventoryService) Invalidate(ctx context.Context, eventID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAvailability(ctx, eventID); err != nil {
		s.logger.Warn("availability cache invalidation failed", "event_id", eventID, "error", err)
	}
}

var _ InventoryUseCase = (*InventoryService)(nil)
