package cache

import (
	"context"
	"sync"
	"time"

	"github.com/stadiumpark/parking/internal/domain"
)

// LocalSessions keeps gate sessions in process memory for single-instance
// runs without Redis.
type LocalSessions struct {
	mu       sync.Mutex
	sessions map[string]localSession
	now      func() time.Time
}

type localSession struct {
	session   domain.GateSession
	expiresAt time.Time
}

func NewLocalSessions() *LocalSessions {
	return &LocalSessions{sessions: make(map[string]localSession), now: time.Now}
}

func (l *LocalSessions) SaveGateSession(ctx context.Context, session domain.GateSession, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions[session.AgentID] = localSession{session: session, expiresAt: l.now().Add(ttl)}
	return nil
}

func (l *LocalSessions) GetGateSession(ctx context.Context, agentID string) (*domain.GateSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sessions[agentID]
	if !ok {
		return nil, nil
	}
	if !l.now().Before(s.expiresAt) {
		delete(l.sessions, agentID)
		return nil, nil
	}
	cp := s.session
	return &cp, nil
}
