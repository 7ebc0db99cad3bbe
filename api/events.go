package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stadiumpark/parking/internal/domain"
	"github.com/stadiumpark/parking/internal/service/inventory"
)

type EventHandler struct {
	service inventory.InventoryUseCase
	logger  *slog.Logger
}

type eventResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Date         string `json:"date"`
	Time         string `json:"time"`
	Description  string `json:"description,omitempty"`
	IsAway       bool   `json:"is_away"`
	IsBye        bool   `json:"is_bye"`
	SellsParking bool   `json:"sells_parking"`
}

type lotAvailabilityResponse struct {
	LotID          string `json:"lot_id"`
	Name           string `json:"name"`
	PriceCents     int64  `json:"price_cents"`
	TotalCapacity  int    `json:"total_capacity"`
	AvailableSpots int    `json:"available_spots"`
	SoldOut        bool   `json:"sold_out"`
}

type capacityRequest struct {
	Capacity *int `json:"capacity" binding:"required"`
}

type inventoryResponse struct {
	EventID        string `json:"event_id"`
	LotID          string `json:"lot_id"`
	TotalCapacity  int    `json:"total_capacity"`
	ReservedCount  int    `json:"reserved_count"`
	HeldCount      int    `json:"held_count"`
	CheckedInCount int    `json:"checked_in_count"`
	AvailableSpots int    `json:"available_spots"`
}

func NewEventHandler(service inventory.InventoryUseCase, logger *slog.Logger) *EventHandler {
	return &EventHandler{service: service, logger: logger}
}

func (h *EventHandler) Register(router *gin.RouterGroup) {
	router.GET("/events", h.list)
	router.GET("/events/:event_id/lots", h.lots)
	router.PUT("/admin/events/:event_id/lots/:lot_id/capacity", h.setCapacity)
}

func (h *EventHandler) list(c *gin.Context) {
	events, err := h.service.ListEvents(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, toEventResponse(e))
	}
	c.JSON(http.StatusOK, out)
}

func (h *EventHandler) lots(c *gin.Context) {
	lots, err := h.service.ListAvailability(c.Request.Context(), c.Param("event_id"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	out := make([]lotAvailabilityResponse, 0, len(lots))
	for _, l := range lots {
		out = append(out, lotAvailabilityResponse{
			LotID:          l.Lot.ID,
			Name:           l.Lot.Name,
			PriceCents:     l.PriceCents,
			TotalCapacity:  l.TotalCapacity,
			AvailableSpots: l.AvailableSpots,
			SoldOut:        l.AvailableSpots == 0,
		})
	}
	c.JSON(http.StatusOK, out)
}

// setCapacity reconciles the inventory row after an operator changes a lot's
// capacity or the event's override.
func (h *EventHandler) setCapacity(c *gin.Context) {
	var req capacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inv, err := h.service.SetCapacity(c.Request.Context(), c.Param("event_id"), c.Param("lot_id"), *req.Capacity)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, inventoryResponse{
		EventID:        inv.EventID,
		LotID:          inv.LotID,
		TotalCapacity:  inv.TotalCapacity,
		ReservedCount:  inv.ReservedCount,
		HeldCount:      inv.HeldCount,
		CheckedInCount: inv.CheckedInCount,
		AvailableSpots: inv.Available(),
	})
}

func toEventResponse(e domain.Event) eventResponse {
	return eventResponse{
		ID:           e.ID,
		Name:         e.Name,
		Date:         e.Date,
		Time:         e.Time,
		Description:  e.Description,
		IsAway:       e.IsAway,
		IsBye:        e.IsBye,
		SellsParking: e.SellsParking(),
	}
}
