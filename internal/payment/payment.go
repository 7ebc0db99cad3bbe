// Package payment talks to the card processor: it opens hosted checkout
// sessions and verifies the signed webhooks that report their outcome.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stadiumpark/parking/internal/domain"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

type SessionRequest struct {
	HoldID       string
	EventID      string
	LotID        string
	EventName    string
	LotName      string
	Email        string
	Phone        string
	LicensePlate string
	AmountCents  int64
	ExpiresAt    time.Time
}

type Session struct {
	ID              string
	URL             string
	Status          string
	Paid            bool
	PaymentIntentID string
	AmountTotal     int64
	ExpiresAt       time.Time
	Metadata        map[string]string
}

type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*Session, error)
}

// Metadata travels with the session and comes back in the webhook. It is
// untrusted until ParseMetadata accepts it.
type Metadata struct {
	EventID      string
	LotID        string
	HoldID       string
	Email        string
	Phone        string
	LicensePlate string
}

func (m Metadata) Map() map[string]string {
	return map[string]string{
		"event_id":      m.EventID,
		"lot_id":        m.LotID,
		"hold_id":       m.HoldID,
		"email":         m.Email,
		"phone":         m.Phone,
		"license_plate": m.LicensePlate,
	}
}

func ParseMetadata(raw map[string]string) (Metadata, error) {
	m := Metadata{
		EventID:      strings.TrimSpace(raw["event_id"]),
		LotID:        strings.TrimSpace(raw["lot_id"]),
		HoldID:       strings.TrimSpace(raw["hold_id"]),
		Email:        strings.TrimSpace(raw["email"]),
		Phone:        strings.TrimSpace(raw["phone"]),
		LicensePlate: strings.TrimSpace(raw["license_plate"]),
	}

	var missing []string
	for _, f := range []struct{ name, value string }{
		{"event_id", m.EventID},
		{"lot_id", m.LotID},
		{"hold_id", m.HoldID},
		{"email", m.Email},
		{"license_plate", m.LicensePlate},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return Metadata{}, fmt.Errorf("%w: missing %s", domain.ErrInvalidMetadata, strings.Join(missing, ", "))
	}
	if err := uuid.Validate(m.HoldID); err != nil {
		return Metadata{}, fmt.Errorf("%w: hold_id: %v", domain.ErrInvalidMetadata, err)
	}
	if !strings.Contains(m.Email, "@") {
		return Metadata{}, fmt.Errorf("%w: email", domain.ErrInvalidMetadata)
	}
	return m, nil
}
