// Package memory keeps the repository contracts in process memory. It backs
// local runs with storage "memory" and the concurrency tests of the services.
// A single mutex serializes every mutation, which gives the same guarantees
// the Postgres implementation gets from its conditional row updates.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stadiumpark/parking/internal/domain"
	"github.com/stadiumpark/parking/internal/repository"
)

type invKey struct{ eventID, lotID string }

type Store struct {
	mu           sync.Mutex
	events       map[string]domain.Event
	lots         map[string]domain.Lot
	eventLots    map[invKey]domain.EventLot
	inventory    map[invKey]*domain.Inventory
	holds        map[string]*domain.Hold
	reservations map[string]*domain.Reservation
	bySession    map[string]string
	exceptions   map[string]domain.PaymentException
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		events:       make(map[string]domain.Event),
		lots:         make(map[string]domain.Lot),
		eventLots:    make(map[invKey]domain.EventLot),
		inventory:    make(map[invKey]*domain.Inventory),
		holds:        make(map[string]*domain.Hold),
		reservations: make(map[string]*domain.Reservation),
		bySession:    make(map[string]string),
		exceptions:   make(map[string]domain.PaymentException),
		now:          time.Now,
	}
}

// SetClock replaces the time source used for row timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) PutEvent(e domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = e
}

func (s *Store) PutLot(l domain.Lot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lots[l.ID] = l
}

func (s *Store) PutEventLot(el domain.EventLot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventLots[invKey{el.EventID, el.LotID}] = el
}

// Views resolve the method name clashes between the repository contracts
// (Get and GetBySession exist on more than one of them).

type inventoryView struct{ *Store }

func (v inventoryView) Get(ctx context.Context, eventID, lotID string) (*domain.Inventory, error) {
	return v.getInventory(ctx, eventID, lotID)
}

type holdView struct{ *Store }

func (v holdView) Get(ctx context.Context, id string) (*domain.Hold, error) {
	return v.GetHold(ctx, id)
}

func (v holdView) GetBySession(ctx context.Context, sessionID string) (*domain.Hold, error) {
	return v.GetHoldBySession(ctx, sessionID)
}

func (s *Store) Catalog() repository.CatalogRepository          { return s }
func (s *Store) Inventory() repository.InventoryRepository      { return inventoryView{s} }
func (s *Store) Holds() repository.HoldRepository               { return holdView{s} }
func (s *Store) Reservations() repository.ReservationRepository { return s }

// Catalog

func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return &e, nil
}

func (s *Store) EventsOn(ctx context.Context, date string) ([]domain.Event, error) {
	all, _ := s.ListEvents(ctx)
	out := make([]domain.Event, 0)
	for _, e := range all {
		if e.Date == date {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) GetLot(ctx context.Context, id string) (*domain.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lots[id]
	if !ok {
		return nil, domain.ErrLotNotFound
	}
	return &l, nil
}

func (s *Store) GetEventLot(ctx context.Context, eventID, lotID string) (*domain.EventLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.eventLots[invKey{eventID, lotID}]
	if !ok {
		return nil, domain.ErrNotOnSale
	}
	return &el, nil
}

func (s *Store) ListEventLots(ctx context.Context, eventID string) ([]domain.EventLot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventLot, 0)
	for k, el := range s.eventLots {
		if k.eventID == eventID {
			out = append(out, el)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LotID < out[j].LotID })
	return out, nil
}

// Inventory

func (s *Store) getInventory(ctx context.Context, eventID, lotID string) (*domain.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.inventory[invKey{eventID, lotID}]
	if !ok {
		return nil, domain.ErrInventoryNotFound
	}
	cp := *inv
	return &cp, nil
}

func (s *Store) ListByEvent(ctx context.Context, eventID string) ([]domain.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Inventory, 0)
	for k, inv := range s.inventory {
		if k.eventID == eventID {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LotID < out[j].LotID })
	return out, nil
}

func (s *Store) EnsureRow(ctx context.Context, eventID, lotID string, capacity int) (*domain.Inventory, error) {
	s.mu.Lock()
	k := invKey{eventID, lotID}
	if _, ok := s.inventory[k]; !ok {
		s.inventory[k] = &domain.Inventory{EventID: eventID, LotID: lotID, TotalCapacity: capacity, UpdatedAt: s.now()}
	}
	s.mu.Unlock()
	return s.getInventory(ctx, eventID, lotID)
}

func (s *Store) SetCapacity(ctx context.Context, eventID, lotID string, capacity int) (*domain.Inventory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.inventory[invKey{eventID, lotID}]
	if !ok {
		return nil, domain.ErrInventoryNotFound
	}
	if inv.ReservedCount+inv.HeldCount > capacity {
		return nil, domain.ErrCapacityBelowCommitted
	}
	inv.TotalCapacity = capacity
	inv.UpdatedAt = s.now()
	cp := *inv
	return &cp, nil
}

// takeLocked is the conditional counterpart of the Postgres capacity guard.
func (s *Store) takeLocked(eventID, lotID string, qty int) (*domain.Inventory, error) {
	inv, ok := s.inventory[invKey{eventID, lotID}]
	if !ok {
		return nil, domain.ErrInventoryNotFound
	}
	if inv.HeldCount+inv.ReservedCount+qty > inv.TotalCapacity {
		return nil, domain.ErrCapacityExceeded
	}
	return inv, nil
}

// Holds

func (s *Store) Create(ctx context.Context, hold *domain.Hold) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, err := s.takeLocked(hold.EventID, hold.LotID, hold.Quantity)
	if err != nil {
		return err
	}
	if hold.SessionID != "" {
		for _, h := range s.holds {
			if h.SessionID == hold.SessionID {
				return domain.ErrDuplicateExternalSession
			}
		}
	}
	inv.HeldCount += hold.Quantity
	inv.UpdatedAt = s.now()
	now := s.now()
	hold.Status = domain.HoldStatusActive
	hold.CreatedAt, hold.UpdatedAt = now, now
	cp := *hold
	s.holds[hold.ID] = &cp
	return nil
}

func (s *Store) holdByID(id string) (*domain.Hold, error) {
	h, ok := s.holds[id]
	if !ok {
		return nil, domain.ErrHoldNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *Store) GetHold(ctx context.Context, id string) (*domain.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdByID(id)
}

func (s *Store) GetHoldBySession(ctx context.Context, sessionID string) (*domain.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.holds {
		if h.SessionID == sessionID {
			cp := *h
			return &cp, nil
		}
	}
	return nil, domain.ErrHoldNotFound
}

func (s *Store) AttachSession(ctx context.Context, holdID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return domain.ErrHoldNotFound
	}
	h.SessionID = sessionID
	h.UpdatedAt = s.now()
	return nil
}

func (s *Store) releaseLocked(h *domain.Hold, status domain.HoldStatus) {
	h.Status = status
	h.UpdatedAt = s.now()
	if inv, ok := s.inventory[invKey{h.EventID, h.LotID}]; ok {
		inv.HeldCount -= h.Quantity
		inv.UpdatedAt = s.now()
	}
}

func (s *Store) Release(ctx context.Context, holdID string, status domain.HoldStatus) (*domain.Hold, bool, error) {
	if status != domain.HoldStatusExpired && status != domain.HoldStatusCancelled {
		return nil, false, fmt.Errorf("release hold: invalid target status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return nil, false, domain.ErrHoldNotFound
	}
	if h.Status != domain.HoldStatusActive {
		cp := *h
		return &cp, false, nil
	}
	s.releaseLocked(h, status)
	cp := *h
	return &cp, true, nil
}

func (s *Store) ExpireDue(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	due := make([]*domain.Hold, 0)
	for _, h := range s.holds {
		if h.Status == domain.HoldStatusActive && h.ExpiresAt.Before(now) {
			due = append(due, h)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ExpiresAt.Before(due[j].ExpiresAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]domain.Hold, 0, len(due))
	for _, h := range due {
		s.releaseLocked(h, domain.HoldStatusExpired)
		out = append(out, *h)
	}
	return out, nil
}

func (s *Store) Convert(ctx context.Context, holdID string, res *domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holds[holdID]
	if !ok {
		return domain.ErrHoldNotFound
	}
	switch h.Status {
	case domain.HoldStatusConverted:
		return domain.ErrDuplicateExternalSession
	case domain.HoldStatusExpired, domain.HoldStatusCancelled:
		return domain.ErrHoldExpired
	}
	if res.SessionID != "" {
		if _, dup := s.bySession[res.SessionID]; dup {
			return domain.ErrDuplicateExternalSession
		}
	}
	inv, ok := s.inventory[invKey{h.EventID, h.LotID}]
	if !ok {
		return domain.ErrInventoryNotFound
	}
	h.Status = domain.HoldStatusConverted
	h.UpdatedAt = s.now()
	inv.HeldCount -= h.Quantity
	inv.ReservedCount += h.Quantity
	inv.UpdatedAt = s.now()
	res.EventID, res.LotID = h.EventID, h.LotID
	s.insertLocked(res)
	return nil
}

// Reservations

func (s *Store) insertLocked(res *domain.Reservation) {
	now := s.now()
	if res.CheckInStatus == "" {
		res.CheckInStatus = domain.CheckInPending
	}
	res.CreatedAt, res.UpdatedAt = now, now
	cp := *res
	s.reservations[res.ID] = &cp
	if res.SessionID != "" {
		s.bySession[res.SessionID] = res.ID
	}
}

func (s *Store) Insert(ctx context.Context, res *domain.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.SessionID != "" {
		if _, dup := s.bySession[res.SessionID]; dup {
			return domain.ErrDuplicateExternalSession
		}
	}
	inv, err := s.takeLocked(res.EventID, res.LotID, 1)
	if err != nil {
		return err
	}
	inv.ReservedCount++
	if res.CheckInStatus == domain.CheckInCheckedIn {
		inv.CheckedInCount++
	}
	inv.UpdatedAt = s.now()
	s.insertLocked(res)
	return nil
}

func (s *Store) GetByID(ctx context.Context, id string) (*domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *Store) GetBySession(ctx context.Context, sessionID string) (*domain.Reservation, error) {
	s.mu.Lock()
	id, ok := s.bySession[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return s.GetByID(ctx, id)
}

func (s *Store) Search(ctx context.Context, q repository.ReservationSearch) ([]domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Reservation, 0)
	if q.Plate == "" && q.Email == "" {
		return out, nil
	}
	for _, r := range s.reservations {
		if r.EventID != q.EventID || (q.LotID != "" && r.LotID != q.LotID) {
			continue
		}
		plateHit := q.Plate != "" && strings.Contains(r.LicensePlate, q.Plate)
		emailHit := q.Email != "" && strings.Contains(strings.ToLower(r.Email), q.Email)
		if plateHit || emailHit {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkCheckedIn(ctx context.Context, id, agentID string, at time.Time) (*domain.Reservation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, false, domain.ErrReservationNotFound
	}
	if r.CheckInStatus != domain.CheckInPending {
		cp := *r
		return &cp, false, nil
	}
	r.CheckInStatus = domain.CheckInCheckedIn
	r.CheckedInAt = &at
	r.CheckedInBy = agentID
	r.UpdatedAt = s.now()
	if inv, ok := s.inventory[invKey{r.EventID, r.LotID}]; ok {
		inv.CheckedInCount++
	}
	cp := *r
	return &cp, true, nil
}

func (s *Store) MarkNoShows(ctx context.Context, eventID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, r := range s.reservations {
		if r.EventID == eventID && r.CheckInStatus == domain.CheckInPending {
			r.CheckInStatus = domain.CheckInNoShow
			r.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

func (s *Store) RecordException(ctx context.Context, exc *domain.PaymentException) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.exceptions[exc.SessionID]; ok {
		return false, nil
	}
	exc.CreatedAt = s.now()
	s.exceptions[exc.SessionID] = *exc
	return true, nil
}

func (s *Store) GetExceptionBySession(ctx context.Context, sessionID string) (*domain.PaymentException, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exceptions[sessionID]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	return &e, nil
}

var (
	_ repository.CatalogRepository     = (*Store)(nil)
	_ repository.ReservationRepository = (*Store)(nil)
	_ repository.InventoryRepository   = inventoryView{}
	_ repository.HoldRepository        = holdView{}
)
