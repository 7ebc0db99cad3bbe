package holds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/stadiumpark/parking/internal/domain"
	"github.com/stadiumpark/parking/internal/repository"
)

type HoldUseCase interface {
	Open(ctx context.Context, eventID, lotID string, ttl time.Duration) (*domain.Hold, error)
	AttachSession(ctx context.Context, holdID, sessionID string) error
	Cancel(ctx context.Context, holdID string) (*domain.Hold, error)
	Convert(ctx context.Context, holdID string, reservation *domain.Reservation) error
	ExpireDue(ctx context.Context) ([]domain.Hold, error)
}

// Ledger is the slice of the inventory service the hold manager needs.
type Ledger interface {
	Ensure(ctx context.Context, eventID, lotID string) (*domain.Inventory, error)
	Invalidate(ctx context.Context, eventID string)
}

type HoldService struct {
	holds     repository.HoldRepository
	ledger    Ledger
	logger    *slog.Logger
	now       func() time.Time
	batchSize int
}

type HoldServiceOption func(*HoldService)

func WithClock(now func() time.Time) HoldServiceOption {
	return func(s *HoldService) {
		s.now = now
	}
}

func WithBatchSize(n int) HoldServiceOption {
	return func(s *HoldService) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func NewHoldService(holds repository.HoldRepository, ledger Ledger, logger *slog.Logger, opts ...HoldServiceOption) *HoldService {
	s := &HoldService{
		holds:     holds,
		ledger:    ledger,
		logger:    logger,
		now:       time.Now,
		batchSize: 500,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open reserves one spot for ttl. It fails with domain.ErrCapacityExceeded
// when the lot is full and never takes partial capacity.
func (s *HoldService) Open(ctx context.Context, eventID, lotID string, ttl time.Duration) (*domain.Hold, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: hold ttl must be positive", domain.ErrInvalidInput)
	}
	hold := &domain.Hold{
		ID:        uuid.NewString(),
		EventID:   eventID,
		LotID:     lotID,
		Quantity:  1,
		ExpiresAt: s.now().Add(ttl),
	}

	err := s.holds.Create(ctx, hold)
	if errors.Is(err, domain.ErrInventoryNotFound) {
		if _, err = s.ledger.Ensure(ctx, eventID, lotID); err != nil {
			return nil, err
		}
		err = s.holds.Create(ctx, hold)
	}
	if err != nil {
		return nil, err
	}

	s.ledger.Invalidate(ctx, eventID)
	s.logger.Info("hold opened", "hold_id", hold.ID, "event_id", eventID, "lot_id", lotID, "expires_at", hold.ExpiresAt)
	return hold, nil
}

func (s *HoldService) AttachSession(ctx context.Context, holdID, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: empty session id", domain.ErrInvalidInput)
	}
	return s.holds.AttachSession(ctx, holdID, sessionID)
}

// Cancel releases an active hold. Cancelling a hold that already left the
// active state is a no-op that returns its current state.
func (s *HoldService) Cancel(ctx context.Context, holdID string) (*domain.Hold, error) {
	hold, changed, err := s.holds.Release(ctx, holdID, domain.HoldStatusCancelled)
	if err != nil {
		return nil, err
	}
	if changed {
		s.ledger.Invalidate(ctx, hold.EventID)
		s.logger.Info("hold cancelled", "hold_id", holdID)
	}
	return hold, nil
}

// Convert turns an unreleased hold into reservation. A hold past its expiry
// that the sweep has not reached yet still converts.
func (s *HoldService) Convert(ctx context.Context, holdID string, reservation *domain.Reservation) error {
	if err := s.holds.Convert(ctx, holdID, reservation); err != nil {
		return err
	}
	s.ledger.Invalidate(ctx, reservation.EventID)
	return nil
}

// ExpireDue releases every active hold whose expiry has passed, in batches.
func (s *HoldService) ExpireDue(ctx context.Context) ([]domain.Hold, error) {
	now := s.now()
	var expired []domain.Hold
	for {
		batch, err := s.holds.ExpireDue(ctx, now, s.batchSize)
		if err != nil {
			return expired, err
		}
		expired = append(expired, batch...)
		if len(batch) < s.batchSize {
			break
		}
	}

	touched := make(map[string]struct{})
	for _, h := range expired {
		if _, ok := touched[h.EventID]; ok {
			continue
		}
		touched[h.EventID] = struct{}{}
		s.ledger.Invalidate(ctx, h.EventID)
	}
	if len(expired) > 0 {
		s.logger.Info("expired holds released", "count", len(expired))
	}
	return expired, nil
}

var _ HoldUseCase = (*HoldService)(nil)
