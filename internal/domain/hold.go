package domain

import "time"

type HoldStatus string

const (
	HoldStatusActive    HoldStatus = "active"
	HoldStatusConverted HoldStatus = "converted"
	HoldStatusExpired   HoldStatus = "expired"
	HoldStatusCancelled HoldStatus = "cancelled"
)

type Hold struct {
	ID        string
	EventID   string
	LotID     string
	SessionID string
	Quantity  int
	Status    HoldStatus
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Released is true once the hold's capacity went back to the lot without a
// reservation being created.
func (h Hold) Released() bool {
	return h.Status == HoldStatusExpired || h.Status == HoldStatusCancelled
}
