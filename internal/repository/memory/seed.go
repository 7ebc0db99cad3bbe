package memory

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/stadiumpark/parking/internal/domain"
	"gopkg.in/yaml.v3"
)

// Seed is the catalog a memory store starts with.
type Seed struct {
	Lots      []SeedLot      `yaml:"lots"`
	Events    []SeedEvent    `yaml:"events"`
	EventLots []SeedEventLot `yaml:"event_lots"`
}

type SeedLot struct {
	ID         string `yaml:"id"`
	Name       string `yaml:"name"`
	Capacity   int    `yaml:"capacity"`
	PriceCents int64  `yaml:"price_cents"`
	Active     bool   `yaml:"active"`
	ThirdParty bool   `yaml:"third_party"`
	InPerson   bool   `yaml:"in_person"`
}

type SeedEvent struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Date        string `yaml:"date"`
	Time        string `yaml:"time"`
	Description string `yaml:"description"`
	Published   bool   `yaml:"published"`
	Away        bool   `yaml:"away"`
	Bye         bool   `yaml:"bye"`
}

type SeedEventLot struct {
	EventID            string `yaml:"event_id"`
	LotID              string `yaml:"lot_id"`
	PriceOverrideCents *int64 `yaml:"price_override_cents"`
	CapacityOverride   *int   `yaml:"capacity_override"`
	Active             bool   `yaml:"active"`
}

func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes a seed and checks that every assignment points at a
// lot and an event defined in it.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	lots := make(map[string]struct{}, len(seed.Lots))
	events := make(map[string]struct{}, len(seed.Events))
	var errs []error
	for _, l := range seed.Lots {
		if l.ID == "" || l.Capacity < 0 {
			errs = append(errs, fmt.Errorf("lot %q: id and a non-negative capacity are required", l.ID))
		}
		lots[l.ID] = struct{}{}
	}
	for _, e := range seed.Events {
		if e.ID == "" || e.Date == "" {
			errs = append(errs, fmt.Errorf("event %q: id and date are required", e.ID))
		}
		events[e.ID] = struct{}{}
	}
	for _, el := range seed.EventLots {
		if _, ok := events[el.EventID]; !ok {
			errs = append(errs, fmt.Errorf("event_lot %s/%s: unknown event", el.EventID, el.LotID))
		}
		if _, ok := lots[el.LotID]; !ok {
			errs = append(errs, fmt.Errorf("event_lot %s/%s: unknown lot", el.EventID, el.LotID))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	return &seed, nil
}

// Load puts every lot, event and assignment of seed into the store.
func (s *Store) Load(seed *Seed) {
	now := s.clock()
	for _, l := range seed.Lots {
		s.PutLot(domain.Lot{
			ID:              l.ID,
			Name:            l.Name,
			Capacity:        l.Capacity,
			PriceCents:      l.PriceCents,
			IsActive:        l.Active,
			IsThirdParty:    l.ThirdParty,
			InPersonEnabled: l.InPerson,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	for _, e := range seed.Events {
		t := e.Time
		if t == "" {
			t = domain.EventTimeTBD
		}
		s.PutEvent(domain.Event{
			ID:          e.ID,
			Name:        e.Name,
			Date:        e.Date,
			Time:        t,
			Description: e.Description,
			IsPublished: e.Published,
			IsAway:      e.Away,
			IsBye:       e.Bye,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	for _, el := range seed.EventLots {
		s.PutEventLot(domain.EventLot{
			EventID:            el.EventID,
			LotID:              el.LotID,
			PriceOverrideCents: el.PriceOverrideCents,
			CapacityOverride:   el.CapacityOverride,
			IsActive:           el.Active,
		})
	}
}

func (s *Store) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}
