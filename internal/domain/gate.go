package domain

import "time"

// GateSession binds an agent's shift to one lot and one event.
type GateSession struct {
	AgentID   string    `json:"agent_id"`
	LotID     string    `json:"lot_id"`
	EventID   string    `json:"event_id"`
	StartedAt time.Time `json:"started_at"`
}
