package domain

import "time"

// EventTimeTBD marks an event whose kickoff time is not announced yet.
const EventTimeTBD = "TBD"

type Event struct {
	ID          string
	Name        string
	Date        string // YYYY-MM-DD in the venue time zone
	Time        string // HH:MM or EventTimeTBD
	Description string
	IsPublished bool
	IsAway      bool
	IsBye       bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SellsParking is false for unpublished events and for away or bye weeks.
func (e Event) SellsParking() bool {
	return e.IsPublished && !e.IsAway && !e.IsBye
}

// Day parses Date in loc. Events without a parsable date return the zero time.
func (e Event) Day(loc *time.Location) time.Time {
	d, err := time.ParseInLocation("2006-01-02", e.Date, loc)
	if err != nil {
		return time.Time{}
	}
	return d
}
