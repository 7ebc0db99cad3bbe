package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stadiumpark/parking/internal/qrcode"
	"github.com/stadiumpark/parking/internal/service/checkout"
)

const qrImageSize = 320

type CheckoutHandler struct {
	service checkout.CheckoutUseCase
	logger  *slog.Logger
}

type checkoutRequest struct {
	EventID      string `json:"event_id" binding:"required"`
	LotID        string `json:"lot_id" binding:"required"`
	Email        string `json:"email" binding:"required,email"`
	Phone        string `json:"phone"`
	LicensePlate string `json:"license_plate" binding:"required"`
}

type checkoutResponse struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
	HoldID      string `json:"hold_id"`
	ExpiresAt   string `json:"expires_at"`
}

type sessionStatusResponse struct {
	Status      string        `json:"status"`
	Reservation *passResponse `json:"reservation,omitempty"`
}

func NewCheckoutHandler(service checkout.CheckoutUseCase, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{service: service, logger: logger}
}

func (h *CheckoutHandler) Register(router *gin.RouterGroup) {
	router.POST("/checkout", h.start)
	router.GET("/checkout/sessions/:session_id", h.status)
	router.GET("/passes/:session_id", h.pass)
	router.GET("/passes/:session_id/qr.png", h.qr)
}

func (h *CheckoutHandler) start(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := h.service.StartCheckout(c.Request.Context(), checkout.StartCheckoutInput{
		EventID:      req.EventID,
		LotID:        req.LotID,
		Email:        req.Email,
		Phone:        req.Phone,
		LicensePlate: req.LicensePlate,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, checkoutResponse{
		CheckoutURL: res.CheckoutURL,
		SessionID:   res.SessionID,
		HoldID:      res.HoldID,
		ExpiresAt:   res.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *CheckoutHandler) status(c *gin.Context) {
	out, err := h.service.Status(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, sessionStatusResponse{Status: out.Status, Reservation: toPassResponse(out.Reservation)})
}

func (h *CheckoutHandler) pass(c *gin.Context) {
	res, err := h.service.Pass(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toPassResponse(res))
}

func (h *CheckoutHandler) qr(c *gin.Context) {
	res, err := h.service.Pass(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	png, err := qrcode.RenderPNG(res.QRCode, qrImageSize)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Header("Cache-Control", "private, max-age=86400")
	c.Data(http.StatusOK, "image/png", png)
}
