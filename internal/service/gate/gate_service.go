package gate

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stadiumpark/parking/internal/domain"
	"github.com/stadiumpark/parking/internal/kafka"
	"github.com/stadiumpark/parking/internal/qrcode"
	"github.com/stadiumpark/parking/internal/repository"
	"github.com/stadiumpark/parking/internal/retry"
)

type ScanStatus string

const (
	ScanValid            ScanStatus = "valid"
	ScanAlreadyCheckedIn ScanStatus = "already_checked_in"
	ScanWrongLot         ScanStatus = "wrong_lot"
	ScanWrongEvent       ScanStatus = "wrong_event"
	ScanInvalidQR        ScanStatus = "invalid_qr"
)

const minLookupQuery = 2

type GateUseCase interface {
	Scan(ctx context.Context, input ScanInput) (*ScanResult, error)
	CheckIn(ctx context.Context, reservationID, lotID, agentID string) (*ScanResult, error)
	Lookup(ctx context.Context, input LookupInput) ([]domain.Reservation, error)
	OpenSession(ctx context.Context, session domain.GateSession) (*domain.GateSession, error)
	SellInPerson(ctx context.Context, input SaleInput) (*domain.Reservation, error)
	MarkNoShows(ctx context.Context, after time.Duration) (int64, error)
}

type SessionStore interface {
	SaveGateSession(ctx context.Context, session domain.GateSession, ttl time.Duration) error
	GetGateSession(ctx context.Context, agentID string) (*domain.GateSession, error)
}

type QRCodec interface {
	Encode(reservationID string) (string, string, error)
	Decode(payload string) (qrcode.Payload, error)
}

type Ledger interface {
	Ensure(ctx context.Context, eventID, lotID string) (*domain.Inventory, error)
	Invalidate(ctx context.Context, eventID string)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

type ScanInput struct {
	QRCode  string
	LotID   string
	AgentID string
}

type LookupInput struct {
	Query   string
	LotID   string
	EventID string
}

type SaleInput struct {
	EventID      string
	LotID        string
	LicensePlate string
	Email        string
	Phone        string
	AgentID      string
}

type ScanResult struct {
	Success     bool
	Status      ScanStatus
	Message     string
	Reservation *domain.Reservation
}

type GateService struct {
	catalog      repository.CatalogRepository
	reservations repository.ReservationRepository
	sessions     SessionStore
	codec        QRCodec
	ledger       Ledger
	logger       *slog.Logger
	producer     Producer
	topic        string
	location     *time.Location
	sessionTTL   time.Duration
	now          func() time.Time
	policy       retry.Policy
}

type GateServiceOption func(*GateService)

func WithProducer(p Producer, topic string) GateServiceOption {
	return func(s *GateService) {
		s.producer = p
		s.topic = topic
	}
}

// WithLocation sets the venue time zone used to decide which event is today.
func WithLocation(loc *time.Location) GateServiceOption {
	return func(s *GateService) {
		s.location = loc
	}
}

func WithSessionTTL(ttl time.Duration) GateServiceOption {
	return func(s *GateService) {
		s.sessionTTL = ttl
	}
}

func WithClock(now func() time.Time) GateServiceOption {
	return func(s *GateService) {
		s.now = now
	}
}

func NewGateService(
	catalog repository.CatalogRepository,
	reservations repository.ReservationRepository,
	sessions SessionStore,
	codec QRCodec,
	ledger Ledger,
	logger *slog.Logger,
	opts ...GateServiceOption,
) *GateService {
	s := &GateService{
		catalog:      catalog,
		reservations: reservations,
		sessions:     sessions,
		codec:        codec,
		ledger:       ledger,
		logger:       logger,
		location:     time.UTC,
		sessionTTL:   12 * time.Hour,
		now:          time.Now,
		policy:       retry.DefaultPolicy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan runs a scanned payload through decode, token check, lot, event and
// status, stopping at the first failure. Only a pending pass at the right
// lot and event changes state.
func (s *GateService) Scan(ctx context.Context, input ScanInput) (*ScanResult, error) {
	payload, err := s.codec.Decode(strings.TrimSpace(input.QRCode))
	if err != nil {
		s.logger.Info("scan rejected", "agent_id", input.AgentID, "reason", err)
		return invalid(), nil
	}

	res, err := retry.Read(ctx, s.policy, func(ctx context.Context) (*domain.Reservation, error) {
		return s.reservations.GetByID(ctx, payload.ReservationID)
	})
	if errors.Is(err, domain.ErrReservationNotFound) {
		return invalid(), nil
	}
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(payload.Token), []byte(res.VerificationToken)) != 1 {
		s.logger.Warn("scan token mismatch", "reservation_id", res.ID, "agent_id", input.AgentID)
		return invalid(), nil
	}

	return s.admit(ctx, res, input.LotID, input.AgentID)
}

// CheckIn is the manual path from a lookup result. It skips decoding and
// the token check and runs the rest of the scan pipeline.
func (s *GateService) CheckIn(ctx context.Context, reservationID, lotID, agentID string) (*ScanResult, error) {
	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	return s.admit(ctx, res, lotID, agentID)
}

func (s *GateService) admit(ctx context.Context, res *domain.Reservation, lotID, agentID string) (*ScanResult, error) {
	if res.LotID != lotID {
		return &ScanResult{Status: ScanWrongLot, Message: s.wrongLotMessage(ctx, res.LotID), Reservation: res}, nil
	}

	events, err := s.activeEvents(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if _, ok := events[res.EventID]; !ok {
		return &ScanResult{Status: ScanWrongEvent, Message: "Pass is for a different event", Reservation: res}, nil
	}

	switch res.CheckInStatus {
	case domain.CheckInCheckedIn:
		return alreadyCheckedIn(res, s.location), nil
	case domain.CheckInNoShow:
		return invalid(), nil
	}

	updated, changed, err := s.reservations.MarkCheckedIn(ctx, res.ID, agentID, s.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		if updated.CheckInStatus == domain.CheckInCheckedIn {
			return alreadyCheckedIn(updated, s.location), nil
		}
		return invalid(), nil
	}

	s.logger.Info("checked in", "reservation_id", updated.ID, "lot_id", lotID, "agent_id", agentID)
	s.publish(ctx, kafka.EventReservationCheckedIn, updated)
	return &ScanResult{Success: true, Status: ScanValid, Message: "Checked in", Reservation: updated}, nil
}

func invalid() *ScanResult {
	return &ScanResult{Status: ScanInvalidQR, Message: "Pass not recognized"}
}

func alreadyCheckedIn(res *domain.Reservation, loc *time.Location) *ScanResult {
	msg := "Already checked in"
	if res.CheckedInAt != nil {
		msg = fmt.Sprintf("Already checked in at %s", res.CheckedInAt.In(loc).Format("3:04 PM"))
	}
	return &ScanResult{Status: ScanAlreadyCheckedIn, Message: msg, Reservation: res}
}

func (s *GateService) wrongLotMessage(ctx context.Context, lotID string) string {
	lot, err := s.catalog.GetLot(ctx, lotID)
	if err != nil {
		return "Pass is for a different lot"
	}
	return "Pass is for " + lot.Name
}

// activeEvents is the agent's session event, or every home event dated
// today in the venue time zone.
func (s *GateService) activeEvents(ctx context.Context, agentID string) (map[string]struct{}, error) {
	if s.sessions != nil && agentID != "" {
		session, err := s.sessions.GetGateSession(ctx, agentID)
		if err != nil {
			s.logger.Warn("gate session lookup failed", "agent_id", agentID, "error", err)
		} else if session != nil {
			return map[string]struct{}{session.EventID: {}}, nil
		}
	}

	today := s.now().In(s.location).Format("2006-01-02")
	events, err := retry.Read(ctx, s.policy, func(ctx context.Context) ([]domain.Event, error) {
		return s.catalog.EventsOn(ctx, today)
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(events))
	for _, e := range events {
		if e.SellsParking() {
			out[e.ID] = struct{}{}
		}
	}
	return out, nil
}

// Lookup finds passes by partial plate or email. A query with "@" only
// matches emails.
func (s *GateService) Lookup(ctx context.Context, input LookupInput) ([]domain.Reservation, error) {
	query := strings.TrimSpace(input.Query)
	if len(query) < minLookupQuery {
		return nil, fmt.Errorf("%w: query must have at least %d characters", domain.ErrInvalidInput, minLookupQuery)
	}

	search := repository.ReservationSearch{LotID: input.LotID, Email: strings.ToLower(query)}
	if !strings.Contains(query, "@") {
		search.Plate = domain.NormalizePlate(query)
	}

	var eventIDs []string
	if input.EventID != "" {
		eventIDs = []string{input.EventID}
	} else {
		active, err := s.activeEvents(ctx, "")
		if err != nil {
			return nil, err
		}
		for id := range active {
			eventIDs = append(eventIDs, id)
		}
		if len(eventIDs) == 0 {
			return nil, fmt.Errorf("%w: event_id is required when no event is scheduled today", domain.ErrInvalidInput)
		}
	}

	out := make([]domain.Reservation, 0)
	for _, id := range eventIDs {
		search.EventID = id
		found, err := retry.Read(ctx, s.policy, func(ctx context.Context) ([]domain.Reservation, error) {
			return s.reservations.Search(ctx, search)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

func (s *GateService) OpenSession(ctx context.Context, session domain.GateSession) (*domain.GateSession, error) {
	if session.AgentID == "" || session.LotID == "" || session.EventID == "" {
		return nil, fmt.Errorf("%w: agent_id, lot_id and event_id are required", domain.ErrInvalidInput)
	}
	if s.sessions == nil {
		return nil, errors.New("gate sessions are not configured")
	}
	if _, err := s.onSale(ctx, session.EventID, session.LotID); err != nil {
		return nil, err
	}

	session.StartedAt = s.now()
	if err := s.sessions.SaveGateSession(ctx, session, s.sessionTTL); err != nil {
		return nil, fmt.Errorf("save gate session: %w", err)
	}
	s.logger.Info("gate session opened", "agent_id", session.AgentID, "lot_id", session.LotID, "event_id", session.EventID)
	return &session, nil
}

// onSale returns the event-lot assignment when the event is a published
// home game and the lot is assigned to it.
func (s *GateService) onSale(ctx context.Context, eventID, lotID string) (*domain.EventLot, error) {
	event, err := s.catalog.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.SellsParking() {
		return nil, domain.ErrNotOnSale
	}
	el, err := s.catalog.GetEventLot(ctx, eventID, lotID)
	if err != nil {
		return nil, err
	}
	if !el.IsActive {
		return nil, domain.ErrNotOnSale
	}
	return el, nil
}

// SellInPerson records a spot sold at the gate. The buyer parks right away,
// so the reservation is born checked in.
func (s *GateService) SellInPerson(ctx context.Context, input SaleInput) (*domain.Reservation, error) {
	plate := domain.NormalizePlate(input.LicensePlate)
	if plate == "" || input.AgentID == "" {
		return nil, fmt.Errorf("%w: license_plate and agent_id are required", domain.ErrInvalidInput)
	}

	lot, err := s.catalog.GetLot(ctx, input.LotID)
	if err != nil {
		return nil, err
	}
	if !lot.IsActive || !lot.InPersonEnabled {
		return nil, domain.ErrInPersonDisabled
	}
	el, err := s.onSale(ctx, input.EventID, input.LotID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ledger.Ensure(ctx, input.EventID, input.LotID); err != nil {
		return nil, err
	}

	now := s.now()
	res := &domain.Reservation{
		ID:            uuid.NewString(),
		EventID:       input.EventID,
		LotID:         input.LotID,
		Email:         strings.ToLower(strings.TrimSpace(input.Email)),
		Phone:         strings.TrimSpace(input.Phone),
		LicensePlate:  plate,
		PaymentSource: domain.PaymentSourceInPerson,
		AmountCents:   el.EffectivePrice(*lot),
		PaidAt:        &now,
		CheckInStatus: domain.CheckInCheckedIn,
		CheckedInAt:   &now,
		CheckedInBy:   input.AgentID,
	}
	qr, token, err := s.codec.Encode(res.ID)
	if err != nil {
		return nil, fmt.Errorf("mint pass: %w", err)
	}
	res.QRCode, res.VerificationToken = qr, token

	if err := s.reservations.Insert(ctx, res); err != nil {
		return nil, err
	}
	s.ledger.Invalidate(ctx, input.EventID)
	s.logger.Info("in-person sale", "reservation_id", res.ID, "lot_id", res.LotID, "agent_id", input.AgentID)
	s.publish(ctx, kafka.EventInPersonSale, res)
	return res, nil
}

// MarkNoShows moves pending passes to no_show for home events whose day
// started more than after ago.
func (s *GateService) MarkNoShows(ctx context.Context, after time.Duration) (int64, error) {
	events, err := retry.Read(ctx, s.policy, s.catalog.ListEvents)
	if err != nil {
		return 0, err
	}

	now := s.now()
	var total int64
	for _, e := range events {
		day := e.Day(s.location)
		if !e.SellsParking() || day.IsZero() || !now.After(day.Add(after)) {
			continue
		}
		n, err := s.reservations.MarkNoShows(ctx, e.ID)
		if err != nil {
			return total, fmt.Errorf("mark no-shows for %s: %w", e.ID, err)
		}
		if n > 0 {
			s.logger.Info("marked no-shows", "event_id", e.ID, "count", n)
		}
		total += n
	}
	return total, nil
}

func (s *GateService) publish(ctx context.Context, kind string, r *domain.Reservation) {
	if s.producer == nil || s.topic == "" {
		return
	}
	event := kafka.ReservationEvent{
		Type:          kind,
		ReservationID: r.ID,
		SessionID:     r.SessionID,
		EventID:       r.EventID,
		LotID:         r.LotID,
		LicensePlate:  r.LicensePlate,
		AmountCents:   r.AmountCents,
		OccurredAt:    s.now(),
	}
	if err := s.producer.Publish(ctx, s.topic, event.Key(), event); err != nil {
		s.logger.Warn("publish gate event", "type", kind, "error", err)
	}
}

var _ GateUseCase = (*GateService)(nil)
