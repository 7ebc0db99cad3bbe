package payment

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stadiumpark/parking/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

const testSecret = "whsec_test"

func validMetadata() map[string]string {
	return Metadata{
		EventID:      "evt-home-1",
		LotID:        "lot-a",
		HoldID:       "0b7c6c3e-3f51-4b8e-9d44-7f0f7a1e2c11",
		Email:        "fan@example.com",
		LicensePlate: "ABC123",
	}.Map()
}

func TestParseMetadata(t *testing.T) {
	m, err := ParseMetadata(validMetadata())
	require.NoError(t, err)
	assert.Equal(t, "lot-a", m.LotID)
	assert.Empty(t, m.Phone)

	tests := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"missing hold", func(m map[string]string) { delete(m, "hold_id") }},
		{"hold not uuid", func(m map[string]string) { m["hold_id"] = "1 OR 1=1" }},
		{"blank plate", func(m map[string]string) { m["license_plate"] = "  " }},
		{"bad email", func(m map[string]string) { m["email"] = "nobody" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validMetadata()
			tt.mutate(raw)
			_, err := ParseMetadata(raw)
			assert.ErrorIs(t, err, domain.ErrInvalidMetadata)
		})
	}
}

func TestParseMetadata_ReportsMissingFieldsInOrder(t *testing.T) {
	for i := 0; i < 20; i++ {
		_, err := ParseMetadata(map[string]string{"email": "fan@example.com"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing event_id, lot_id, hold_id, license_plate")
	}
}

func TestRetrieveError(t *testing.T) {
	missing := &stripe.Error{Code: stripe.ErrorCodeResourceMissing, HTTPStatusCode: http.StatusNotFound, Msg: "No such checkout.session"}
	err := retrieveError("cs_unknown", missing)
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)

	outage := &stripe.Error{Type: stripe.ErrorTypeAPI, HTTPStatusCode: http.StatusInternalServerError}
	err = retrieveError("cs_1", outage)
	assert.NotErrorIs(t, err, domain.ErrReservationNotFound)
	assert.True(t, errors.Is(err, outage))
}

func TestSessionExpiry(t *testing.T) {
	now := time.Date(2026, 9, 5, 12, 0, 0, 0, time.UTC)
	g := &StripeGateway{now: func() time.Time { return now }}

	short := now.Add(29 * time.Minute)
	assert.Equal(t, now.Add(31*time.Minute), g.sessionExpiry(short))

	long := now.Add(2 * time.Hour)
	assert.Equal(t, long, g.sessionExpiry(long))
}

func TestFromStripe(t *testing.T) {
	s := fromStripe(&stripe.CheckoutSession{
		ID:            "cs_1",
		PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
		PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
		Metadata:      map[string]string{"lot_id": "lot-a"},
		ExpiresAt:     1757080800,
	})
	assert.True(t, s.Paid)
	assert.Equal(t, "pi_1", s.PaymentIntentID)
	assert.Equal(t, "lot-a", s.Metadata["lot_id"])
	assert.False(t, s.ExpiresAt.IsZero())
}

func signed(t *testing.T, payload string, secret string) string {
	t.Helper()
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return sp.Header
}

const completedPayload = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {"object": {
    "id": "cs_test_1",
    "object": "checkout.session",
    "payment_status": "paid",
    "status": "complete",
    "amount_total": 2500,
    "payment_intent": "pi_1",
    "metadata": {"event_id": "evt-home-1", "lot_id": "lot-a"}
  }}
}`

func TestWebhookVerifier_Parse(t *testing.T) {
	v := NewWebhookVerifier(testSecret)

	event, err := v.Parse([]byte(completedPayload), signed(t, completedPayload, testSecret))
	require.NoError(t, err)
	assert.Equal(t, EventCheckoutCompleted, event.Type)
	require.NotNil(t, event.Session)
	assert.Equal(t, "cs_test_1", event.Session.ID)
	assert.True(t, event.Session.Paid)
	assert.Equal(t, "pi_1", event.Session.PaymentIntentID)
	assert.Equal(t, int64(2500), event.Session.AmountTotal)
	assert.Equal(t, "lot-a", event.Session.Metadata["lot_id"])
}

func TestWebhookVerifier_RejectsBadSignatures(t *testing.T) {
	v := NewWebhookVerifier(testSecret)

	_, err := v.Parse([]byte(completedPayload), "")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = v.Parse([]byte(completedPayload), signed(t, completedPayload, "whsec_other"))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	header := signed(t, completedPayload, testSecret)
	tampered := []byte(completedPayload[:len(completedPayload)-2] + " }")
	_, err = v.Parse(tampered, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestWebhookVerifier_OtherEventTypes(t *testing.T) {
	payload := `{"id":"evt_2","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`
	event, err := NewWebhookVerifier(testSecret).Parse([]byte(payload), signed(t, payload, testSecret))
	require.NoError(t, err)
	assert.Equal(t, "charge.refunded", event.Type)
	assert.Nil(t, event.Session)
}
