package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stadiumpark/parking/internal/payment"
	"github.com/stadiumpark/parking/internal/retry"
	"github.com/stadiumpark/parking/internal/service/checkout"
)

const maxWebhookBody = 64 << 10

type WebhookParser interface {
	Parse(payload []byte, signature string) (*payment.WebhookEvent, error)
}

type WebhookHandler struct {
	parser  WebhookParser
	service checkout.CheckoutUseCase
	logger  *slog.Logger
}

func NewWebhookHandler(parser WebhookParser, service checkout.CheckoutUseCase, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{parser: parser, service: service, logger: logger}
}

func (h *WebhookHandler) Register(router *gin.RouterGroup) {
	router.POST("/webhooks/stripe", h.stripe)
}

// stripe acknowledges every verified event. Business failures are logged
// and acknowledged; infrastructure failures get a 500 so the processor
// redelivers, which is safe because finalization is idempotent.
func (h *WebhookHandler) stripe(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	event, err := h.parser.Parse(body, c.GetHeader("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook rejected", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Webhook Error: " + err.Error()})
		return
	}

	ctx := c.Request.Context()
	switch event.Type {
	case payment.EventCheckoutCompleted:
		var out *checkout.Outcome
		out, err = h.service.OnPaymentCompleted(ctx, event.Session)
		if err == nil {
			h.logger.Info("checkout completed", "session_id", event.Session.ID, "status", out.Status)
		}
	case payment.EventCheckoutExpired:
		err = h.service.OnPaymentExpired(ctx, event.Session)
	default:
		h.logger.Debug("unhandled webhook event", "type", event.Type, "id", event.ID)
	}

	if err != nil {
		if retry.Transient(err) {
			h.logger.Error("webhook processing failed", "type", event.Type, "id", event.ID, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
			return
		}
		h.logger.Warn("webhook not applied", "type", event.Type, "id", event.ID, "error", err)
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
