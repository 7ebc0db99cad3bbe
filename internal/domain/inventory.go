package domain

import "time"

type Inventory struct {
	EventID        string
	LotID          string
	TotalCapacity  int
	ReservedCount  int
	CheckedInCount int
	HeldCount      int
	UpdatedAt      time.Time
}

func (i Inventory) Available() int {
	n := i.TotalCapacity - i.ReservedCount - i.HeldCount
	if n < 0 {
		return 0
	}
	return n
}

// LotAvailability is the browse view of one lot for one event.
type LotAvailability struct {
	Lot            Lot
	PriceCents     int64
	TotalCapacity  int
	ReservedCount  int
	AvailableSpots int
}
