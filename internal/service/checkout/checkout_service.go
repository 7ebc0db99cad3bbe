package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stadiumpark/parking/internal/domain"
	"github.com/stadiumpark/parking/internal/kafka"
	"github.com/stadiumpark/parking/internal/payment"
	"github.com/stadiumpark/parking/internal/repository"
	"github.com/stadiumpark/parking/internal/retry"
	"github.com/stadiumpark/parking/internal/service/holds"
)

const (
	StatusConfirmed           = "confirmed"
	StatusPending             = "pending"
	StatusNeedsReconciliation = "needs_reconciliation"
)

// Late payment policies: what to do with a paid session whose hold was
// already released by the sweep.
const (
	PolicyReconcile        = "reconcile"
	PolicyAdmitIfAvailable = "admit_if_available"
)

const maxPlateLength = 10

type CheckoutUseCase interface {
	StartCheckout(ctx context.Context, input StartCheckoutInput) (*StartCheckoutResult, error)
	OnPaymentCompleted(ctx context.Context, session *payment.Session) (*Outcome, error)
	OnPaymentExpired(ctx context.Context, session *payment.Session) error
	Status(ctx context.Context, sessionID string) (*Outcome, error)
	Pass(ctx context.Context, sessionID string) (*domain.Reservation, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, payload any) error
}

type QRCodec interface {
	Encode(reservationID string) (string, string, error)
}

type StartCheckoutInput struct {
	EventID      string
	LotID        string
	Email        string
	Phone        string
	LicensePlate string
}

type StartCheckoutResult struct {
	CheckoutURL string
	SessionID   string
	HoldID      string
	ExpiresAt   time.Time
}

// Outcome is what a buyer sees for a payment session.
type Outcome struct {
	Status      string
	Reservation *domain.Reservation
	Exception   *domain.PaymentException
}

type CheckoutService struct {
	catalog            repository.CatalogRepository
	reservations       repository.ReservationRepository
	holds              holds.HoldUseCase
	gateway            payment.Gateway
	codec              QRCodec
	logger             *slog.Logger
	producer           Producer
	reservationsTopic  string
	notificationsTopic string
	holdTTL            time.Duration
	latePolicy         string
	now                func() time.Time
	policy             retry.Policy
}

type CheckoutServiceOption func(*CheckoutService)

func WithProducer(p Producer, reservationsTopic, notificationsTopic string) CheckoutServiceOption {
	return func(s *CheckoutService) {
		s.producer = p
		s.reservationsTopic = reservationsTopic
		s.notificationsTopic = notificationsTopic
	}
}

func WithHoldTTL(ttl time.Duration) CheckoutServiceOption {
	return func(s *CheckoutService) {
		s.holdTTL = ttl
	}
}

func WithLatePaymentPolicy(policy string) CheckoutServiceOption {
	return func(s *CheckoutService) {
		s.latePolicy = policy
	}
}

func WithClock(now func() time.Time) CheckoutServiceOption {
	return func(s *CheckoutService) {
		s.now = now
	}
}

func WithRetryPolicy(p retry.Policy) CheckoutServiceOption {
	return func(s *CheckoutService) {
		s.policy = p
	}
}

func NewCheckoutService(
	catalog repository.CatalogRepository,
	reservations repository.ReservationRepository,
	holdService holds.HoldUseCase,
	gateway payment.Gateway,
	codec QRCodec,
	logger *slog.Logger,
	opts ...CheckoutServiceOption,
) *CheckoutService {
	s := &CheckoutService{
		catalog:      catalog,
		reservations: reservations,
		holds:        holdService,
		gateway:      gateway,
		codec:        codec,
		logger:       logger,
		holdTTL:      30 * time.Minute,
		latePolicy:   PolicyReconcile,
		now:          time.Now,
		policy:       retry.DefaultPolicy,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CheckoutService) StartCheckout(ctx context.Context, input StartCheckoutInput) (*StartCheckoutResult, error) {
	input, err := normalizeInput(input)
	if err != nil {
		return nil, err
	}

	event, lot, el, err := s.sellable(ctx, input.EventID, input.LotID)
	if err != nil {
		return nil, err
	}

	hold, err := s.holds.Open(ctx, event.ID, lot.ID, s.holdTTL)
	if err != nil {
		return nil, err
	}

	session, err := s.gateway.CreateSession(ctx, payment.SessionRequest{
		HoldID:       hold.ID,
		EventID:      event.ID,
		LotID:        lot.ID,
		EventName:    fmt.Sprintf("%s, %s", event.Name, event.Date),
		LotName:      lot.Name,
		Email:        input.Email,
		Phone:        input.Phone,
		LicensePlate: input.LicensePlate,
		AmountCents:  el.EffectivePrice(*lot),
		ExpiresAt:    hold.ExpiresAt,
	})
	if err != nil {
		s.cancelHold(ctx, hold.ID)
		return nil, fmt.Errorf("open payment session: %w", err)
	}

	if err := s.holds.AttachSession(ctx, hold.ID, session.ID); err != nil {
		s.cancelHold(ctx, hold.ID)
		return nil, fmt.Errorf("attach session to hold: %w", err)
	}

	s.logger.Info("checkout started", "hold_id", hold.ID, "session_id", session.ID, "event_id", event.ID, "lot_id", lot.ID)
	return &StartCheckoutResult{
		CheckoutURL: session.URL,
		SessionID:   session.ID,
		HoldID:      hold.ID,
		ExpiresAt:   hold.ExpiresAt,
	}, nil
}

func (s *CheckoutService) cancelHold(ctx context.Context, holdID string) {
	if _, err := s.holds.Cancel(context.WithoutCancel(ctx), holdID); err != nil {
		s.logger.Error("cancel hold after failed checkout", "hold_id", holdID, "error", err)
	}
}

func normalizeInput(in StartCheckoutInput) (StartCheckoutInput, error) {
	in.EventID = strings.TrimSpace(in.EventID)
	in.LotID = strings.TrimSpace(in.LotID)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.LicensePlate = domain.NormalizePlate(in.LicensePlate)

	var problems []string
	if in.EventID == "" {
		problems = append(problems, "event_id is required")
	}
	if in.LotID == "" {
		problems = append(problems, "lot_id is required")
	}
	if at := strings.Index(in.Email, "@"); at <= 0 || at == len(in.Email)-1 {
		problems = append(problems, "a valid email is required")
	}
	if in.LicensePlate == "" || len(in.LicensePlate) > maxPlateLength {
		problems = append(problems, "a valid license plate is required")
	}
	if len(problems) > 0 {
		return in, fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return in, nil
}

// sellable loads the event, lot and assignment and checks that parking is
// on sale online for the pair.
func (s *CheckoutService) sellable(ctx context.Context, eventID, lotID string) (*domain.Event, *domain.Lot, *domain.EventLot, error) {
	event, err := retry.Read(ctx, s.policy, func(ctx context.Context) (*domain.Event, error) {
		return s.catalog.GetEvent(ctx, eventID)
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if !event.IsPublished {
		return nil, nil, nil, domain.ErrEventNotFound
	}
	if !event.SellsParking() {
		return nil, nil, nil, fmt.Errorf("%w: no home game", domain.ErrNotOnSale)
	}

	lot, err := retry.Read(ctx, s.policy, func(ctx context.Context) (*domain.Lot, error) {
		return s.catalog.GetLot(ctx, lotID)
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if !lot.SellableOnline() {
		return nil, nil, nil, fmt.Errorf("%w: lot is not sold online", domain.ErrNotOnSale)
	}

	el, err := retry.Read(ctx, s.policy, func(ctx context.Context) (*domain.EventLot, error) {
		return s.catalog.GetEventLot(ctx, eventID, lotID)
	})
	if err != nil {
		return nil, nil, nil, err
	}
	if !el.IsActive {
		return nil, nil, nil, domain.ErrNotOnSale
	}
	return event, lot, el, nil
}

// OnPaymentCompleted finalizes a paid session. It is safe to call any
// number of times, concurrently, for the same session.
func (s *CheckoutService) OnPaymentCompleted(ctx context.Context, session *payment.Session) (*Outcome, error) {
	if !session.Paid {
		s.logger.Info("checkout completed without payment yet", "session_id", session.ID)
		return &Outcome{Status: StatusPending}, nil
	}

	if existing, err := s.reservations.GetBySession(ctx, session.ID); err == nil {
		return confirmed(existing), nil
	} else if !errors.Is(err, domain.ErrReservationNotFound) {
		return nil, err
	}

	meta, err := payment.ParseMetadata(session.Metadata)
	if err != nil {
		return nil, err
	}

	reservation, err := s.newReservation(session, meta)
	if err != nil {
		return nil, err
	}

	err = s.holds.Convert(ctx, meta.HoldID, reservation)
	switch {
	case err == nil:
		s.logger.Info("reservation confirmed", "reservation_id", reservation.ID, "session_id", session.ID)
		s.publish(ctx, s.event(kafka.EventReservationConfirmed, reservation), true)
		return confirmed(reservation), nil
	case errors.Is(err, domain.ErrDuplicateExternalSession):
		existing, err := s.reservations.GetBySession(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("load reservation after duplicate: %w", err)
		}
		return confirmed(existing), nil
	case errors.Is(err, domain.ErrHoldExpired), errors.Is(err, domain.ErrHoldNotFound):
		return s.latePayment(ctx, session, meta, reservation, err)
	default:
		return nil, fmt.Errorf("convert hold %s: %w", meta.HoldID, err)
	}
}

func (s *CheckoutService) newReservation(session *payment.Session, meta payment.Metadata) (*domain.Reservation, error) {
	now := s.now()
	r := &domain.Reservation{
		ID:              uuid.NewString(),
		EventID:         meta.EventID,
		LotID:           meta.LotID,
		Email:           strings.ToLower(meta.Email),
		Phone:           meta.Phone,
		LicensePlate:    domain.NormalizePlate(meta.LicensePlate),
		PaymentSource:   domain.PaymentSourcePresale,
		AmountCents:     session.AmountTotal,
		SessionID:       session.ID,
		PaymentIntentID: session.PaymentIntentID,
		PaidAt:          &now,
		CheckInStatus:   domain.CheckInPending,
	}
	qr, token, err := s.codec.Encode(r.ID)
	if err != nil {
		return nil, fmt.Errorf("mint pass: %w", err)
	}
	r.QRCode, r.VerificationToken = qr, token
	return r, nil
}

// latePayment handles money that arrived after its hold was released.
func (s *CheckoutService) latePayment(ctx context.Context, session *payment.Session, meta payment.Metadata, reservation *domain.Reservation, cause error) (*Outcome, error) {
	s.logger.Warn("payment for released hold", "session_id", session.ID, "hold_id", meta.HoldID, "cause", cause, "policy", s.latePolicy)

	if s.latePolicy == PolicyAdmitIfAvailable && errors.Is(cause, domain.ErrHoldExpired) {
		err := s.reservations.Insert(ctx, reservation)
		switch {
		case err == nil:
			s.logger.Info("late payment admitted", "reservation_id", reservation.ID, "session_id", session.ID)
			s.publish(ctx, s.event(kafka.EventReservationConfirmed, reservation), true)
			return confirmed(reservation), nil
		case errors.Is(err, domain.ErrDuplicateExternalSession):
			existing, err := s.reservations.GetBySession(ctx, session.ID)
			if err != nil {
				return nil, err
			}
			return confirmed(existing), nil
		case errors.Is(err, domain.ErrCapacityExceeded):
			cause = err
		default:
			return nil, fmt.Errorf("admit late payment: %w", err)
		}
	}

	exc := &domain.PaymentException{
		ID:          uuid.NewString(),
		SessionID:   session.ID,
		HoldID:      meta.HoldID,
		EventID:     meta.EventID,
		LotID:       meta.LotID,
		Email:       strings.ToLower(meta.Email),
		AmountCents: session.AmountTotal,
		Reason:      cause.Error(),
		CreatedAt:   s.now(),
	}
	recorded, err := s.reservations.RecordException(ctx, exc)
	if err != nil {
		return nil, fmt.Errorf("record payment exception: %w", err)
	}
	if !recorded {
		stored, err := s.reservations.GetExceptionBySession(ctx, session.ID)
		if err != nil {
			return nil, err
		}
		return &Outcome{Status: StatusNeedsReconciliation, Exception: stored}, nil
	}

	s.publish(ctx, kafka.ReservationEvent{
		Type:        kafka.EventNeedsReconciliation,
		SessionID:   session.ID,
		HoldID:      meta.HoldID,
		EventID:     meta.EventID,
		LotID:       meta.LotID,
		Email:       exc.Email,
		AmountCents: exc.AmountCents,
		Reason:      exc.Reason,
		OccurredAt:  exc.CreatedAt,
	}, true)
	return &Outcome{Status: StatusNeedsReconciliation, Exception: exc}, nil
}

// OnPaymentExpired is informational. Capacity comes back through the sweep.
func (s *CheckoutService) OnPaymentExpired(ctx context.Context, session *payment.Session) error {
	s.logger.Info("checkout session expired", "session_id", session.ID)
	event := kafka.ReservationEvent{Type: kafka.EventCheckoutExpired, SessionID: session.ID, OccurredAt: s.now()}
	if meta, err := payment.ParseMetadata(session.Metadata); err == nil {
		event.HoldID, event.EventID, event.LotID = meta.HoldID, meta.EventID, meta.LotID
	}
	s.publish(ctx, event, false)
	return nil
}

// Status answers the success page. A paid session that has no reservation
// yet is finalized here instead of waiting for the webhook.
func (s *CheckoutService) Status(ctx context.Context, sessionID string) (*Outcome, error) {
	existing, err := retry.Read(ctx, s.policy, func(ctx context.Context) (*domain.Reservation, error) {
		return s.reservations.GetBySession(ctx, sessionID)
	})
	if err == nil {
		return confirmed(existing), nil
	}
	if !errors.Is(err, domain.ErrReservationNotFound) {
		return nil, err
	}

	if exc, err := s.reservations.GetExceptionBySession(ctx, sessionID); err == nil {
		return &Outcome{Status: StatusNeedsReconciliation, Exception: exc}, nil
	} else if !errors.Is(err, domain.ErrReservationNotFound) {
		return nil, err
	}

	session, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.Paid {
		return &Outcome{Status: StatusPending}, nil
	}
	return s.OnPaymentCompleted(ctx, session)
}

func (s *CheckoutService) Pass(ctx context.Context, sessionID string) (*domain.Reservation, error) {
	return retry.Read(ctx, s.policy, func(ctx context.Context) (*domain.Reservation, error) {
		return s.reservations.GetBySession(ctx, sessionID)
	})
}

func confirmed(r *domain.Reservation) *Outcome {
	return &Outcome{Status: StatusConfirmed, Reservation: r}
}

func (s *CheckoutService) event(kind string, r *domain.Reservation) kafka.ReservationEvent {
	return kafka.ReservationEvent{
		Type:          kind,
		ReservationID: r.ID,
		SessionID:     r.SessionID,
		EventID:       r.EventID,
		LotID:         r.LotID,
		Email:         r.Email,
		LicensePlate:  r.LicensePlate,
		AmountCents:   r.AmountCents,
		QRCode:        r.QRCode,
		OccurredAt:    s.now(),
	}
}

// publish is best effort: the reservation is already durable.
func (s *CheckoutService) publish(ctx context.Context, event kafka.ReservationEvent, notify bool) {
	if s.producer == nil {
		return
	}
	if s.reservationsTopic != "" {
		if err := s.producer.Publish(ctx, s.reservationsTopic, event.Key(), event); err != nil {
			s.logger.Warn("publish reservation event", "type", event.Type, "error", err)
		}
	}
	if notify && s.notificationsTopic != "" {
		if err := s.producer.Publish(ctx, s.notificationsTopic, event.Key(), event); err != nil {
			s.logger.Warn("publish notification", "type", event.Type, "error", err)
		}
	}
}

var _ CheckoutUseCase = (*CheckoutService)(nil)
