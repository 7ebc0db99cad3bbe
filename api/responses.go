package api

import (
	"time"

	"github.com/stadiumpark/parking/internal/domain"
)

type reservationResponse struct {
	ID            string `json:"id"`
	EventID       string `json:"event_id"`
	LotID         string `json:"lot_id"`
	Email         string `json:"email,omitempty"`
	LicensePlate  string `json:"license_plate"`
	PaymentSource string `json:"payment_source"`
	CheckInStatus string `json:"check_in_status"`
	CheckedInAt   string `json:"checked_in_at,omitempty"`
	CheckedInBy   string `json:"checked_in_by,omitempty"`
}

func toReservationResponse(r *domain.Reservation) *reservationResponse {
	if r == nil {
		return nil
	}
	out := &reservationResponse{
		ID:            r.ID,
		EventID:       r.EventID,
		LotID:         r.LotID,
		Email:         r.Email,
		LicensePlate:  r.LicensePlate,
		PaymentSource: string(r.PaymentSource),
		CheckInStatus: string(r.CheckInStatus),
		CheckedInBy:   r.CheckedInBy,
	}
	if r.CheckedInAt != nil {
		out.CheckedInAt = r.CheckedInAt.Format(time.RFC3339)
	}
	return out
}

// passResponse is the buyer's copy and carries the QR payload.
type passResponse struct {
	reservationResponse
	QRCode      string `json:"qr_code"`
	AmountCents int64  `json:"amount_cents"`
	QRImageURL  string `json:"qr_image_url,omitempty"`
}

func toPassResponse(r *domain.Reservation) *passResponse {
	if r == nil {
		return nil
	}
	out := &passResponse{
		reservationResponse: *toReservationResponse(r),
		QRCode:              r.QRCode,
		AmountCents:         r.AmountCents,
	}
	if r.SessionID != "" {
		out.QRImageURL = "/api/passes/" + r.SessionID + "/qr.png"
	}
	return out
}
