package api

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/stadiumpark/parking/internal/domain"
	"github.com/stadiumpark/parking/internal/payment"
	"github.com/stadiumpark/parking/internal/service/checkout"
	"github.com/stadiumpark/parking/internal/service/gate"
	"github.com/stretchr/testify/mock"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type MockCheckoutUseCase struct {
	mock.Mock
}

func (m *MockCheckoutUseCase) StartCheckout(ctx context.Context, input checkout.StartCheckoutInput) (*checkout.StartCheckoutResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.StartCheckoutResult), args.Error(1)
}

func (m *MockCheckoutUseCase) OnPaymentCompleted(ctx context.Context, session *payment.Session) (*checkout.Outcome, error) {
	args := m.Called(ctx, session)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Outcome), args.Error(1)
}

func (m *MockCheckoutUseCase) OnPaymentExpired(ctx context.Context, session *payment.Session) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockCheckoutUseCase) Status(ctx context.Context, sessionID string) (*checkout.Outcome, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*checkout.Outcome), args.Error(1)
}

func (m *MockCheckoutUseCase) Pass(ctx context.Context, sessionID string) (*domain.Reservation, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

type MockGateUseCase struct {
	mock.Mock
}

func (m *MockGateUseCase) Scan(ctx context.Context, input gate.ScanInput) (*gate.ScanResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gate.ScanResult), args.Error(1)
}

func (m *MockGateUseCase) CheckIn(ctx context.Context, reservationID, lotID, agentID string) (*gate.ScanResult, error) {
	args := m.Called(ctx, reservationID, lotID, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gate.ScanResult), args.Error(1)
}

func (m *MockGateUseCase) Lookup(ctx context.Context, input gate.LookupInput) ([]domain.Reservation, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Reservation), args.Error(1)
}

func (m *MockGateUseCase) OpenSession(ctx context.Context, session domain.GateSession) (*domain.GateSession, error) {
	args := m.Called(ctx, session)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.GateSession), args.Error(1)
}

func (m *MockGateUseCase) SellInPerson(ctx context.Context, input gate.SaleInput) (*domain.Reservation, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *MockGateUseCase) MarkNoShows(ctx context.Context, after time.Duration) (int64, error) {
	args := m.Called(ctx, after)
	return args.Get(0).(int64), args.Error(1)
}

type MockInventoryUseCase struct {
	mock.Mock
}

func (m *MockInventoryUseCase) ListEvents(ctx context.Context) ([]domain.Event, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Event), args.Error(1)
}

func (m *MockInventoryUseCase) ListAvailability(ctx context.Context, eventID string) ([]domain.LotAvailability, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.LotAvailability), args.Error(1)
}

func (m *MockInventoryUseCase) Ensure(ctx context.Context, eventID, lotID string) (*domain.Inventory, error) {
	args := m.Called(ctx, eventID, lotID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Inventory), args.Error(1)
}

func (m *MockInventoryUseCase) SetCapacity(ctx context.Context, eventID, lotID string, capacity int) (*domain.Inventory, error) {
	args := m.Called(ctx, eventID, lotID, capacity)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Inventory), args.Error(1)
}

func (m *MockInventoryUseCase) Invalidate(ctx context.Context, eventID string) {
	m.Called(ctx, eventID)
}
