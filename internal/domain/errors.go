package domain

import "errors"

var (
	ErrCapacityExceeded         = errors.New("lot is sold out")
	ErrCapacityBelowCommitted   = errors.New("capacity is below reserved and held spots")
	ErrHoldNotFound             = errors.New("hold not found")
	ErrHoldExpired              = errors.New("hold expired")
	ErrDuplicateExternalSession = errors.New("reservation already exists for payment session")
	ErrReservationNotFound      = errors.New("reservation not found")
	ErrInventoryNotFound        = errors.New("inventory not found")
	ErrEventNotFound            = errors.New("event not found")
	ErrLotNotFound              = errors.New("lot not found")
	ErrNotOnSale                = errors.New("parking is not on sale for this event and lot")
	ErrInPersonDisabled         = errors.New("in-person sales are disabled for this lot")
	ErrInvalidMetadata          = errors.New("invalid payment metadata")
	ErrInvalidInput             = errors.New("invalid input")
)
