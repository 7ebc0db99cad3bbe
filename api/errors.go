package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stadiumpark/parking/internal/domain"
)

var statusByError = []struct {
	err    error
	status int
}{
	{domain.ErrInvalidInput, http.StatusBadRequest},
	{domain.ErrInvalidMetadata, http.StatusBadRequest},
	{domain.ErrEventNotFound, http.StatusNotFound},
	{domain.ErrLotNotFound, http.StatusNotFound},
	{domain.ErrReservationNotFound, http.StatusNotFound},
	{domain.ErrHoldNotFound, http.StatusNotFound},
	{domain.ErrInventoryNotFound, http.StatusNotFound},
	{domain.ErrCapacityExceeded, http.StatusConflict},
	{domain.ErrCapacityBelowCommitted, http.StatusConflict},
	{domain.ErrDuplicateExternalSession, http.StatusConflict},
	{domain.ErrNotOnSale, http.StatusUnprocessableEntity},
	{domain.ErrInPersonDisabled, http.StatusUnprocessableEntity},
	{domain.ErrHoldExpired, http.StatusUnprocessableEntity},
}

func statusFor(err error) int {
	for _, m := range statusByError {
		if errors.Is(err, m.err) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// respondError writes the JSON error body. Unexpected errors are logged and
// hidden from the client.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
