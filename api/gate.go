package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stadiumpark/parking/internal/domain"
	"github.com/stadiumpark/parking/internal/service/gate"
)

type GateHandler struct {
	service gate.GateUseCase
	logger  *slog.Logger
}

type scanRequest struct {
	QRCode  string `json:"qr_code"`
	LotID   string `json:"lot_id" binding:"required"`
	AgentID string `json:"agent_id" binding:"required"`
}

type checkInRequest struct {
	LotID   string `json:"lot_id" binding:"required"`
	AgentID string `json:"agent_id" binding:"required"`
}

type sessionRequest struct {
	AgentID string `json:"agent_id" binding:"required"`
	LotID   string `json:"lot_id" binding:"required"`
	EventID string `json:"event_id" binding:"required"`
}

type saleRequest struct {
	EventID      string `json:"event_id" binding:"required"`
	LotID        string `json:"lot_id" binding:"required"`
	LicensePlate string `json:"license_plate" binding:"required"`
	AgentID      string `json:"agent_id" binding:"required"`
	Email        string `json:"email" binding:"omitempty,email"`
	Phone        string `json:"phone"`
}

type scanResponse struct {
	Success     bool                 `json:"success"`
	Status      string               `json:"status"`
	Message     string               `json:"message"`
	Reservation *reservationResponse `json:"reservation,omitempty"`
}

func NewGateHandler(service gate.GateUseCase, logger *slog.Logger) *GateHandler {
	return &GateHandler{service: service, logger: logger}
}

func (h *GateHandler) Register(router *gin.RouterGroup) {
	router.POST("/gate/scan", h.scan)
	router.GET("/gate/lookup", h.lookup)
	router.POST("/gate/reservations/:id/check-in", h.checkIn)
	router.POST("/gate/sessions", h.openSession)
	router.POST("/gate/sales", h.sell)
}

func (h *GateHandler) scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.service.Scan(c.Request.Context(), gate.ScanInput{QRCode: req.QRCode, LotID: req.LotID, AgentID: req.AgentID})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toScanResponse(res))
}

func (h *GateHandler) checkIn(c *gin.Context) {
	var req checkInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.service.CheckIn(c.Request.Context(), c.Param("id"), req.LotID, req.AgentID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, toScanResponse(res))
}

func (h *GateHandler) lookup(c *gin.Context) {
	found, err := h.service.Lookup(c.Request.Context(), gate.LookupInput{
		Query:   c.Query("query"),
		LotID:   c.Query("lot_id"),
		EventID: c.Query("event_id"),
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	out := make([]*reservationResponse, 0, len(found))
	for i := range found {
		out = append(out, toReservationResponse(&found[i]))
	}
	c.JSON(http.StatusOK, gin.H{"reservations": out})
}

func (h *GateHandler) openSession(c *gin.Context) {
	var req sessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s, err := h.service.OpenSession(c.Request.Context(), domain.GateSession{AgentID: req.AgentID, LotID: req.LotID, EventID: req.EventID})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *GateHandler) sell(c *gin.Context) {
	var req saleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.service.SellInPerson(c.Request.Context(), gate.SaleInput{
		EventID:      req.EventID,
		LotID:        req.LotID,
		LicensePlate: req.LicensePlate,
		Email:        req.Email,
		Phone:        req.Phone,
		AgentID:      req.AgentID,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, toPassResponse(res))
}

func toScanResponse(r *gate.ScanResult) scanResponse {
	return scanResponse{
		Success:     r.Success,
		Status:      string(r.Status),
		Message:     r.Message,
		Reservation: toReservationResponse(r.Reservation),
	}
}
