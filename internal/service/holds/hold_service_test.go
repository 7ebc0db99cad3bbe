package holds

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stadiumpark/parking/internal/domain"
	"github.com/stadiumpark/parking/internal/repository/memory"
	"github.com/stadiumpark/parking/internal/service/inventory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

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

func setup(t *testing.T, capacity int) (*HoldService, *memory.Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 9, 5, 12, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	store.SetClock(clock.Now)
	store.PutEvent(domain.Event{ID: "home", Date: "2026-09-05", Time: "18:00", IsPublished: true})
	store.PutLot(domain.Lot{ID: "lot-a", Name: "A", Capacity: capacity, PriceCents: 2000, IsActive: true})
	store.PutEventLot(domain.EventLot{EventID: "home", LotID: "lot-a", IsActive: true})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := inventory.NewInventoryService(store.Catalog(), store.Inventory(), logger)
	return NewHoldService(store.Holds(), ledger, logger, WithClock(clock.Now), WithBatchSize(2)), store, clock
}

func inv(t *testing.T, store *memory.Store) *domain.Inventory {
	t.Helper()
	i, err := store.Inventory().Get(context.Background(), "home", "lot-a")
	require.NoError(t, err)
	return i
}

func TestOpen_CreatesInventoryRowLazily(t *testing.T) {
	svc, store, clock := setup(t, 2)

	hold, err := svc.Open(context.Background(), "home", "lot-a", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldStatusActive, hold.Status)
	assert.Equal(t, clock.Now().Add(30*time.Minute), hold.ExpiresAt)
	assert.Equal(t, 1, inv(t, store).HeldCount)
}

func TestOpen_SoldOut(t *testing.T) {
	svc, store, _ := setup(t, 2)
	ctx := context.Background()

	_, err := svc.Open(ctx, "home", "lot-a", 30*time.Minute)
	require.NoError(t, err)
	_, err = svc.Open(ctx, "home", "lot-a", 30*time.Minute)
	require.NoError(t, err)
	_, err = svc.Open(ctx, "home", "lot-a", 30*time.Minute)

	assert.ErrorIs(t, err, domain.ErrCapacityExceeded)
	assert.Equal(t, 2, inv(t, store).HeldCount)
}

func TestOpen_RejectsNonPositiveTTL(t *testing.T) {
	svc, _, _ := setup(t, 2)
	_, err := svc.Open(context.Background(), "home", "lot-a", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCancel_IsIdempotent(t *testing.T) {
	svc, store, _ := setup(t, 2)
	ctx := context.Background()
	hold, err := svc.Open(ctx, "home", "lot-a", 30*time.Minute)
	require.NoError(t, err)

	first, err := svc.Cancel(ctx, hold.ID)
	require.NoError(t, err)
	second, err := svc.Cancel(ctx, hold.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.HoldStatusCancelled, first.Status)
	assert.Equal(t, domain.HoldStatusCancelled, second.Status)
	assert.Equal(t, 0, inv(t, store).HeldCount)
}

func TestExpireDue_AtMinute31RestoresCapacity(t *testing.T) {
	svc, store, clock := setup(t, 3)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Open(ctx, "home", "lot-a", 30*time.Minute)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, inv(t, store).Available())

	clock.Advance(29 * time.Minute)
	expired, err := svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)

	clock.Advance(2 * time.Minute)
	expired, err = svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Len(t, expired, 3)
	assert.Equal(t, 3, inv(t, store).Available())
	for _, h := range expired {
		assert.True(t, h.Released())
	}
}

func TestConvert_AfterSweepFails(t *testing.T) {
	svc, store, clock := setup(t, 1)
	ctx := context.Background()
	hold, err := svc.Open(ctx, "home", "lot-a", 30*time.Minute)
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	_, err = svc.ExpireDue(ctx)
	require.NoError(t, err)

	err = svc.Convert(ctx, hold.ID, &domain.Reservation{ID: "r1", SessionID: "cs_1"})
	assert.ErrorIs(t, err, domain.ErrHoldExpired)
	assert.Equal(t, 0, inv(t, store).ReservedCount)
}

func TestConvert_PastExpiryBeforeSweepSucceeds(t *testing.T) {
	svc, store, clock := setup(t, 1)
	ctx := context.Background()
	hold, err := svc.Open(ctx, "home", "lot-a", 30*time.Minute)
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)
	res := &domain.Reservation{ID: "r1", SessionID: "cs_1"}
	require.NoError(t, svc.Convert(ctx, hold.ID, res))

	assert.Equal(t, "home", res.EventID)
	i := inv(t, store)
	assert.Equal(t, 1, i.ReservedCount)
	assert.Equal(t, 0, i.HeldCount)

	expired, err := svc.ExpireDue(ctx)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestAttachSession(t *testing.T) {
	svc, store, _ := setup(t, 1)
	ctx := context.Background()
	hold, err := svc.Open(ctx, "home", "lot-a", 30*time.Minute)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.AttachSession(ctx, hold.ID, ""), domain.ErrInvalidInput)
	require.NoError(t, svc.AttachSession(ctx, hold.ID, "cs_1"))

	got, err := store.Holds().GetBySession(ctx, "cs_1")
	require.NoError(t, err)
	assert.Equal(t, hold.ID, got.ID)
}
