package email

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stadiumpark/parking/internal/kafka"
)

// Sender delivers buyer-facing notifications. Delivery is logged only; the
// pass link is what a mail provider would put in the message body.
type Sender struct {
	baseURL string
	logger  *slog.Logger
}

func NewSender(baseURL string, logger *slog.Logger) *Sender {
	return &Sender{baseURL: baseURL, logger: logger}
}

func (s *Sender) Send(ctx context.Context, event kafka.ReservationEvent) error {
	if event.Email == "" {
		return nil
	}

	subject, body := s.compose(event)
	if subject == "" {
		return nil
	}
	s.logger.Info("email sent", "to", event.Email, "subject", subject, "body", body)
	return nil
}

func (s *Sender) compose(event kafka.ReservationEvent) (string, string) {
	switch event.Type {
	case kafka.EventReservationConfirmed:
		return "Your parking pass",
			fmt.Sprintf("Show this pass at the gate: %s/api/passes/%s", s.baseURL, event.SessionID)
	case kafka.EventNeedsReconciliation:
		return "We received your payment",
			"Your lot sold out before your payment arrived. Our staff will contact you about a refund or an alternative spot."
	default:
		return "", ""
	}
}
