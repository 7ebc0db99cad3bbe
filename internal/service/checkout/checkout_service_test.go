package checkout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stadiumpark/parking/internal/domain"
	"github.com/stadiumpark/parking/internal/kafka"
	"github.com/stadiumpark/parking/internal/payment"
	"github.com/stadiumpark/parking/internal/qrcode"
	"github.com/stadiumpark/parking/internal/repository/memory"
	"github.com/stadiumpark/parking/internal/retry"
	"github.com/stadiumpark/parking/internal/service/holds"
	"github.com/stadiumpark/parking/internal/service/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Session), args.Error(1)
}

func (m *MockGateway) RetrieveSession(ctx context.Context, sessionID string) (*payment.Session, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Session), args.Error(1)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, payload any) error {
	args := m.Called(ctx, topic, key, payload)
	return args.Error(0)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc      *CheckoutService
	store    *memory.Store
	holds    *holds.HoldService
	gateway  *MockGateway
	producer *MockProducer
	clock    *fakeClock

	mu       sync.Mutex
	requests map[string]payment.SessionRequest
}

func newFixture(t *testing.T, capacity int, opts ...CheckoutServiceOption) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 9, 5, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	store.SetClock(clock.Now)
	store.PutEvent(domain.Event{ID: "home", Name: "vs. State", Date: "2026-09-05", Time: "18:00", IsPublished: true})
	store.PutEvent(domain.Event{ID: "away", Name: "at Tech", Date: "2026-09-12", Time: "11:00", IsPublished: true, IsAway: true})
	store.PutEvent(domain.Event{ID: "draft", Name: "TBA", Date: "2026-09-19", Time: domain.EventTimeTBD})
	store.PutLot(domain.Lot{ID: "lot-a", Name: "A Lot", Capacity: capacity, PriceCents: 2500, IsActive: true})
	store.PutLot(domain.Lot{ID: "lot-x", Name: "Church Lot", Capacity: 50, PriceCents: 1000, IsActive: true, IsThirdParty: true})
	store.PutLot(domain.Lot{ID: "lot-c", Name: "C Lot", Capacity: 50, PriceCents: 1000, IsActive: true})
	price := int64(3000)
	store.PutEventLot(domain.EventLot{EventID: "home", LotID: "lot-a", IsActive: true, PriceOverrideCents: &price})
	store.PutEventLot(domain.EventLot{EventID: "home", LotID: "lot-x", IsActive: true})
	store.PutEventLot(domain.EventLot{EventID: "home", LotID: "lot-c", IsActive: false})
	store.PutEventLot(domain.EventLot{EventID: "away", LotID: "lot-a", IsActive: true})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := inventory.NewInventoryService(store.Catalog(), store.Inventory(), logger)
	holdService := holds.NewHoldService(store.Holds(), ledger, logger, holds.WithClock(clock.Now))

	gateway := new(MockGateway)
	producer := new(MockProducer)
	producer.On("Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	base := []CheckoutServiceOption{
		WithProducer(producer, "reservations", "notifications"),
		WithClock(clock.Now),
		WithHoldTTL(30 * time.Minute),
		WithRetryPolicy(retry.Policy{MaxRetries: 0}),
	}
	svc := NewCheckoutService(store.Catalog(), store.Reservations(), holdService, gateway, qrcode.NewCodec("PARK"), logger, append(base, opts...)...)

	return &fixture{
		svc:      svc,
		store:    store,
		holds:    holdService,
		gateway:  gateway,
		producer: producer,
		clock:    clock,
		requests: make(map[string]payment.SessionRequest),
	}
}

func (f *fixture) expectSession(id string) {
	f.gateway.On("CreateSession", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			f.mu.Lock()
			f.requests[id] = args.Get(1).(payment.SessionRequest)
			f.mu.Unlock()
		}).
		Return(&payment.Session{ID: id, URL: "https://pay.example/" + id}, nil).
		Once()
}

func (f *fixture) paid(id string) *payment.Session {
	f.mu.Lock()
	req := f.requests[id]
	f.mu.Unlock()
	return &payment.Session{
		ID:              id,
		Paid:            true,
		Status:          "complete",
		PaymentIntentID: "pi_" + id,
		AmountTotal:     req.AmountCents,
		Metadata: payment.Metadata{
			EventID:      req.EventID,
			LotID:        req.LotID,
			HoldID:       req.HoldID,
			Email:        req.Email,
			Phone:        req.Phone,
			LicensePlate: req.LicensePlate,
		}.Map(),
	}
}

func (f *fixture) inventory(t *testing.T) *domain.Inventory {
	t.Helper()
	inv, err := f.store.Inventory().Get(context.Background(), "home", "lot-a")
	require.NoError(t, err)
	return inv
}

func buyer() StartCheckoutInput {
	return StartCheckoutInput{EventID: "home", LotID: "lot-a", Email: "Fan@Example.com", LicensePlate: "abc-123"}
}

func TestStartCheckout_OpensHoldAndSession(t *testing.T) {
	f := newFixture(t, 5)
	f.expectSession("cs_1")

	res, err := f.svc.StartCheckout(context.Background(), buyer())
	require.NoError(t, err)

	assert.Equal(t, "cs_1", res.SessionID)
	assert.Equal(t, "https://pay.example/cs_1", res.CheckoutURL)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), res.ExpiresAt)

	req := f.requests["cs_1"]
	assert.Equal(t, res.HoldID, req.HoldID)
	assert.Equal(t, res.ExpiresAt, req.ExpiresAt)
	assert.Equal(t, int64(3000), req.AmountCents)
	assert.Equal(t, "fan@example.com", req.Email)
	assert.Equal(t, "ABC123", req.LicensePlate)

	hold, err := f.store.Holds().GetBySession(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, res.HoldID, hold.ID)
	assert.Equal(t, 1, f.inventory(t).HeldCount)
}

func TestStartCheckout_GatewayFailureCancelsHold(t *testing.T) {
	f := newFixture(t, 1)
	f.gateway.On("CreateSession", mock.Anything, mock.Anything).Return(nil, errors.New("processor down"))

	_, err := f.svc.StartCheckout(context.Background(), buyer())
	assert.Error(t, err)
	assert.Equal(t, 0, f.inventory(t).HeldCount)
	assert.Equal(t, 1, f.inventory(t).Available())
}

func TestStartCheckout_Rejections(t *testing.T) {
	tests := []struct {
		name  string
		input func(StartCheckoutInput) StartCheckoutInput
		want  error
	}{
		{"missing email", func(in StartCheckoutInput) StartCheckoutInput { in.Email = ""; return in }, domain.ErrInvalidInput},
		{"bad email", func(in StartCheckoutInput) StartCheckoutInput { in.Email = "fan@"; return in }, domain.ErrInvalidInput},
		{"blank plate", func(in StartCheckoutInput) StartCheckoutInput { in.LicensePlate = " - "; return in }, domain.ErrInvalidInput},
		{"long plate", func(in StartCheckoutInput) StartCheckoutInput { in.LicensePlate = "ABCDEFGHIJK"; return in }, domain.ErrInvalidInput},
		{"unknown event", func(in StartCheckoutInput) StartCheckoutInput { in.EventID = "nope"; return in }, domain.ErrEventNotFound},
		{"unpublished event", func(in StartCheckoutInput) StartCheckoutInput { in.EventID = "draft"; return in }, domain.ErrEventNotFound},
		{"away game", func(in StartCheckoutInput) StartCheckoutInput { in.EventID = "away"; return in }, domain.ErrNotOnSale},
		{"unknown lot", func(in StartCheckoutInput) StartCheckoutInput { in.LotID = "nope"; return in }, domain.ErrLotNotFound},
		{"third-party lot", func(in StartCheckoutInput) StartCheckoutInput { in.LotID = "lot-x"; return in }, domain.ErrNotOnSale},
		{"inactive assignment", func(in StartCheckoutInput) StartCheckoutInput { in.LotID = "lot-c"; return in }, domain.ErrNotOnSale},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 5)
			_, err := f.svc.StartCheckout(context.Background(), tt.input(buyer()))
			assert.ErrorIs(t, err, tt.want)
			f.gateway.AssertNotCalled(t, "CreateSession", mock.Anything, mock.Anything)
		})
	}
}

func TestCapacityTwo_ThreeBuyers(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.expectSession("cs_1")
	f.expectSession("cs_2")

	_, err := f.svc.StartCheckout(ctx, buyer())
	require.NoError(t, err)
	_, err = f.svc.StartCheckout(ctx, buyer())
	require.NoError(t, err)
	_, err = f.svc.StartCheckout(ctx, buyer())
	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)

	for _, id := range []string{"cs_1", "cs_2"} {
		out, err := f.svc.OnPaymentCompleted(ctx, f.paid(id))
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, out.Status)
	}

	inv := f.inventory(t)
	assert.Equal(t, 2, inv.ReservedCount)
	assert.Equal(t, 0, inv.HeldCount)
	assert.Equal(t, 0, inv.Available())
}

func TestOnPaymentCompleted_MintsPass(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.expectSession("cs_1")
	_, err := f.svc.StartCheckout(ctx, buyer())
	require.NoError(t, err)

	out, err := f.svc.OnPaymentCompleted(ctx, f.paid("cs_1"))
	require.NoError(t, err)

	r := out.Reservation
	require.NotNil(t, r)
	assert.Equal(t, domain.PaymentSourcePresale, r.PaymentSource)
	assert.Equal(t, domain.CheckInPending, r.CheckInStatus)
	assert.Equal(t, "ABC123", r.LicensePlate)
	assert.Equal(t, int64(3000), r.AmountCents)
	assert.Equal(t, "pi_cs_1", r.PaymentIntentID)

	decoded, err := qrcode.NewCodec("PARK").Decode(r.QRCode)
	require.NoError(t, err)
	assert.Equal(t, r.ID, decoded.ReservationID)
	assert.Equal(t, r.VerificationToken, decoded.Token)

	f.producer.AssertCalled(t, "Publish", mock.Anything, "reservations", "cs_1", mock.MatchedBy(func(e kafka.ReservationEvent) bool {
		return e.Type == kafka.EventReservationConfirmed && e.ReservationID == r.ID
	}))
	f.producer.AssertCalled(t, "Publish", mock.Anything, "notifications", "cs_1", mock.Anything)
}

func TestOnPaymentCompleted_IdempotentUnderConcurrency(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.expectSession("cs_1")
	_, err := f.svc.StartCheckout(ctx, buyer())
	require.NoError(t, err)
	session := f.paid("cs_1")

	const deliveries = 10
	ids := make([]string, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := f.svc.OnPaymentCompleted(ctx, session)
			if assert.NoError(t, err) {
				ids[i] = out.Reservation.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.inventory(t).ReservedCount)
}

func TestOnPaymentCompleted_UnpaidIsPending(t *testing.T) {
	f := newFixture(t, 2)
	out, err := f.svc.OnPaymentCompleted(context.Background(), &payment.Session{ID: "cs_1"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, out.Status)
}

func TestOnPaymentCompleted_InvalidMetadata(t *testing.T) {
	f := newFixture(t, 2)
	_, err := f.svc.OnPaymentCompleted(context.Background(), &payment.Session{
		ID:       "cs_1",
		Paid:     true,
		Metadata: map[string]string{"event_id": "home"},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidMetadata)
}

func expireHold(t *testing.T, f *fixture) {
	t.Helper()
	f.clock.Advance(31 * time.Minute)
	expired, err := f.holds.ExpireDue(context.Background())
	require.NoError(t, err)
	require.Len(t, expired, 1)
}

func TestLatePayment_Reconcile(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.expectSession("cs_1")
	_, err := f.svc.StartCheckout(ctx, buyer())
	require.NoError(t, err)
	expireHold(t, f)

	out, err := f.svc.OnPaymentCompleted(ctx, f.paid("cs_1"))
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsReconciliation, out.Status)
	require.NotNil(t, out.Exception)
	assert.Equal(t, int64(3000), out.Exception.AmountCents)

	again, err := f.svc.OnPaymentCompleted(ctx, f.paid("cs_1"))
	require.NoError(t, err)
	assert.Equal(t, out.Exception.ID, again.Exception.ID)

	inv := f.inventory(t)
	assert.Equal(t, 0, inv.ReservedCount)
	assert.Equal(t, 1, inv.Available())

	status, err := f.svc.Status(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsReconciliation, status.Status)

	reconcileEvents := 0
	for _, call := range f.producer.Calls {
		if e, ok := call.Arguments.Get(3).(kafka.ReservationEvent); ok && e.Type == kafka.EventNeedsReconciliation && call.Arguments.String(1) == "reservations" {
			reconcileEvents++
		}
	}
	assert.Equal(t, 1, reconcileEvents)
}

func TestLatePayment_AdmitIfAvailable(t *testing.T) {
	f := newFixture(t, 1, WithLatePaymentPolicy(PolicyAdmitIfAvailable))
	ctx := context.Background()
	f.expectSession("cs_1")
	_, err := f.svc.StartCheckout(ctx, buyer())
	require.NoError(t, err)
	expireHold(t, f)

	out, err := f.svc.OnPaymentCompleted(ctx, f.paid("cs_1"))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, out.Status)
	assert.Equal(t, 1, f.inventory(t).ReservedCount)
}

func TestLatePayment_AdmitIfAvailableFallsBackWhenSoldOut(t *testing.T) {
	f := newFixture(t, 1, WithLatePaymentPolicy(PolicyAdmitIfAvailable))
	ctx := context.Background()
	f.expectSession("cs_1")
	f.expectSession("cs_2")

	_, err := f.svc.StartCheckout(ctx, buyer())
	require.NoError(t, err)
	expireHold(t, f)

	_, err = f.svc.StartCheckout(ctx, buyer())
	require.NoError(t, err)
	_, err = f.svc.OnPaymentCompleted(ctx, f.paid("cs_2"))
	require.NoError(t, err)

	out, err := f.svc.OnPaymentCompleted(ctx, f.paid("cs_1"))
	require.NoError(t, err)
	assert.Equal(t, StatusNeedsReconciliation, out.Status)
	assert.Equal(t, 1, f.inventory(t).ReservedCount)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()
	f.expectSession("cs_1")
	_, err := f.svc.StartCheckout(ctx, buyer())
	require.NoError(t, err)

	f.gateway.On("RetrieveSession", mock.Anything, "cs_1").Return(&payment.Session{ID: "cs_1"}, nil).Once()
	out, err := f.svc.Status(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, out.Status)

	f.gateway.On("RetrieveSession", mock.Anything, "cs_1").Return(f.paid("cs_1"), nil).Once()
	out, err = f.svc.Status(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, out.Status)

	out, err = f.svc.Status(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, out.Status)
	f.gateway.AssertNumberOfCalls(t, "RetrieveSession", 2)

	pass, err := f.svc.Pass(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, out.Reservation.ID, pass.ID)

	_, err = f.svc.Pass(ctx, "cs_unknown")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestStatus_UnknownSession(t *testing.T) {
	f := newFixture(t, 2)
	f.gateway.On("RetrieveSession", mock.Anything, "cs_nope").
		Return(nil, fmt.Errorf("%w: checkout session cs_nope", domain.ErrReservationNotFound)).Once()

	_, err := f.svc.Status(context.Background(), "cs_nope")
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestOnPaymentExpired_PublishesOnly(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.expectSession("cs_1")
	_, err := f.svc.StartCheckout(ctx, buyer())
	require.NoError(t, err)

	require.NoError(t, f.svc.OnPaymentExpired(ctx, f.paid("cs_1")))
	assert.Equal(t, 1, f.inventory(t).HeldCount)
	f.producer.AssertCalled(t, "Publish", mock.Anything, "reservations", "cs_1", mock.MatchedBy(func(e kafka.ReservationEvent) bool {
		return e.Type == kafka.EventCheckoutExpired && e.LotID == "lot-a"
	}))
	f.producer.AssertNotCalled(t, "Publish", mock.Anything, "notifications", mock.Anything, mock.Anything)
}
