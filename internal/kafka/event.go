package kafka

import "time"

const (
	EventReservationConfirmed = "reservation.confirmed"
	EventReservationCheckedIn = "reservation.checked_in"
	EventCheckoutExpired      = "checkout.expired"
	EventNeedsReconciliation  = "payment.needs_reconciliation"
	EventInPersonSale         = "reservation.in_person"
)

// ReservationEvent is the message body on the reservations and
// notifications topics. Keyed by SessionID when present, else ReservationID.
type ReservationEvent struct {
	Type          string    `json:"type"`
	ReservationID string    `json:"reservation_id,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	HoldID        string    `json:"hold_id,omitempty"`
	EventID       string    `json:"event_id"`
	LotID         string    `json:"lot_id"`
	Email         string    `json:"email,omitempty"`
	LicensePlate  string    `json:"license_plate,omitempty"`
	AmountCents   int64     `json:"amount_cents,omitempty"`
	QRCode        string    `json:"qr_code,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

func (e ReservationEvent) Key() string {
	if e.SessionID != "" {
		return e.SessionID
	}
	return e.ReservationID
}
