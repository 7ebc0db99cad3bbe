package email

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stadiumpark/parking/internal/kafka"
	"github.com/stretchr/testify/assert"
)

func TestSender_Compose(t *testing.T) {
	s := NewSender("https://park.example", slog.New(slog.NewTextHandler(io.Discard, nil)))

	subject, body := s.compose(kafka.ReservationEvent{Type: kafka.EventReservationConfirmed, SessionID: "cs_1"})
	assert.Equal(t, "Your parking pass", subject)
	assert.Contains(t, body, "https://park.example/api/passes/cs_1")

	subject, _ = s.compose(kafka.ReservationEvent{Type: kafka.EventCheckoutExpired})
	assert.Empty(t, subject)

	assert.NoError(t, s.Send(context.Background(), kafka.ReservationEvent{Type: kafka.EventReservationConfirmed}))
}
