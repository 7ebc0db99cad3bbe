package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/stadiumpark/parking/config"
	"github.com/stadiumpark/parking/internal/domain"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// Checkout sessions must stay open at least this long.
const minSessionWindow = 30 * time.Minute

type StripeGateway struct {
	api      *client.API
	currency string
	baseURL  string
	now      func() time.Time
}

func NewStripeGateway(cfg config.StripeConfig, baseURL string) *StripeGateway {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)
	return &StripeGateway{api: api, currency: cfg.Currency, baseURL: baseURL, now: time.Now}
}

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		CustomerEmail:      stripe.String(req.Email),
		ClientReferenceID:  stripe.String(req.HoldID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(g.currency),
				UnitAmount: stripe.Int64(req.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:        stripe.String("Parking - " + req.LotName),
					Description: stripe.String(req.EventName),
				},
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(g.baseURL + "/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL: stripe.String(fmt.Sprintf("%s/events/%s/checkout?lot=%s&cancelled=true",
			g.baseURL, url.PathEscape(req.EventID), url.QueryEscape(req.LotID))),
		ExpiresAt: stripe.Int64(g.sessionExpiry(req.ExpiresAt).Unix()),
	}
	params.Context = ctx

	meta := Metadata{
		EventID:      req.EventID,
		LotID:        req.LotID,
		HoldID:       req.HoldID,
		Email:        req.Email,
		Phone:        req.Phone,
		LicensePlate: req.LicensePlate,
	}
	for k, v := range meta.Map() {
		params.AddMetadata(k, v)
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return fromStripe(s), nil
}

func (g *StripeGateway) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, retrieveError(sessionID, err)
	}
	return fromStripe(s), nil
}

// retrieveError reports an unknown session as domain.ErrReservationNotFound
// so callers answer 404 instead of treating it as an outage.
func retrieveError(sessionID string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && (se.Code == stripe.ErrorCodeResourceMissing || se.HTTPStatusCode == http.StatusNotFound) {
		return fmt.Errorf("%w: checkout session %s", domain.ErrReservationNotFound, sessionID)
	}
	return fmt.Errorf("retrieve checkout session %s: %w", sessionID, err)
}

// sessionExpiry aligns the session with the hold, pushed out to the
// processor's minimum window when the hold is shorter.
func (g *StripeGateway) sessionExpiry(holdExpiresAt time.Time) time.Time {
	earliest := g.now().Add(minSessionWindow + time.Minute)
	if holdExpiresAt.Before(earliest) {
		return earliest
	}
	return holdExpiresAt
}

func fromStripe(s *stripe.CheckoutSession) *Session {
	out := &Session{
		ID:          s.ID,
		URL:         s.URL,
		Status:      string(s.Status),
		Paid:        s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid || s.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired,
		AmountTotal: s.AmountTotal,
		Metadata:    s.Metadata,
	}
	if s.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	return out
}
