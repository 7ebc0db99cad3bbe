package domain

import (
	"strings"
	"time"
)

type PaymentSource string

const (
	PaymentSourcePresale  PaymentSource = "presale"
	PaymentSourceInPerson PaymentSource = "in_person"
	PaymentSourceComp     PaymentSource = "comp"
)

type CheckInStatus string

const (
	CheckInPending   CheckInStatus = "pending"
	CheckInCheckedIn CheckInStatus = "checked_in"
	CheckInNoShow    CheckInStatus = "no_show"
)

type Reservation struct {
	ID                string
	EventID           string
	LotID             string
	Email             string
	Phone             string
	LicensePlate      string
	PaymentSource     PaymentSource
	AmountCents       int64
	SessionID         string
	PaymentIntentID   string
	PaidAt            *time.Time
	QRCode            string
	VerificationToken string
	CheckInStatus     CheckInStatus
	CheckedInAt       *time.Time
	CheckedInBy       string
	Notes             string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PaymentException records a paid checkout session that could not be turned
// into a reservation automatically and needs an operator (refund or manual
// admission).
type PaymentException struct {
	ID          string
	SessionID   string
	HoldID      string
	EventID     string
	LotID       string
	Email       string
	AmountCents int64
	Reason      string
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// NormalizePlate upper-cases a license plate and strips everything except
// letters and digits, so "abc-123" and "ABC 123" match the same vehicle.
func NormalizePlate(plate string) string {
	var b strings.Builder
	b.Grow(len(plate))
	for _, r := range strings.ToUpper(plate) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
