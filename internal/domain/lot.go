package domain

import "time"

type Lot struct {
	ID              string
	Name            string
	Capacity        int
	PriceCents      int64
	IsActive        bool
	IsThirdParty    bool
	InPersonEnabled bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EventLot assigns a lot to an event. Overrides replace the lot's own
// price or capacity for that event only.
type EventLot struct {
	EventID            string
	LotID              string
	PriceOverrideCents *int64
	CapacityOverride   *int
	IsActive           bool
}

func (el EventLot) EffectivePrice(lot Lot) int64 {
	if el.PriceOverrideCents != nil {
		return *el.PriceOverrideCents
	}
	return lot.PriceCents
}

func (el EventLot) EffectiveCapacity(lot Lot) int {
	if el.CapacityOverride != nil {
		return *el.CapacityOverride
	}
	return lot.Capacity
}

// SellableOnline reports whether the lot may be sold through checkout.
func (l Lot) SellableOnline() bool {
	return l.IsActive && !l.IsThirdParty
}
