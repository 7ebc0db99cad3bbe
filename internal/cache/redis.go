package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stadiumpark/parking/config"
	"github.com/stadiumpark/parking/internal/domain"
)

var errStaleListing = errors.New("availability changed while listing")

// RedisCache keeps short-lived derived data: the per-event availability
// listing and gate agent sessions. Nothing here is a source of truth.
type RedisCache struct {
	client          *redis.Client
	availabilityTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, availabilityTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:          redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		availabilityTTL: availabilityTTL,
	}
}

func NewRedisCacheWithClient(client *redis.Client, availabilityTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, availabilityTTL: availabilityTTL}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetAvailability returns the cached listing (nil on a miss) together with
// the event's availability version. Pass that version to SetAvailability.
func (c *RedisCache) GetAvailability(ctx context.Context, eventID string) ([]domain.LotAvailability, int64, error) {
	vals, err := c.client.MGet(ctx, availabilityKey(eventID), availabilityVersionKey(eventID)).Result()
	if err != nil {
		return nil, 0, err
	}

	var version int64
	if raw, ok := vals[1].(string); ok {
		if version, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, 0, fmt.Errorf("availability version for %s: %w", eventID, err)
		}
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, version, nil
	}

	var lots []domain.LotAvailability
	if err := json.Unmarshal([]byte(raw), &lots); err != nil {
		return nil, version, err
	}
	return lots, version, nil
}

// SetAvailability stores lots only while the event is still at version. A
// listing computed before a concurrent invalidation is dropped.
func (c *RedisCache) SetAvailability(ctx context.Context, eventID string, version int64, lots []domain.LotAvailability) error {
	payload, err := json.Marshal(lots)
	if err != nil {
		return err
	}

	versionKey := availabilityVersionKey(eventID)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleListing
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, availabilityKey(eventID), payload, c.availabilityTTL)
			return nil
		})
		return err
	}, versionKey)
	if errors.Is(err, errStaleListing) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// InvalidateAvailability bumps the version and drops the listing in one
// transaction.
func (c *RedisCache) InvalidateAvailability(ctx context.Context, eventID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, availabilityVersionKey(eventID))
		pipe.Del(ctx, availabilityKey(eventID))
		return nil
	})
	return err
}

func (c *RedisCache) SaveGateSession(ctx context.Context, session domain.GateSession, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, gateSessionKey(session.AgentID), payload, ttl).Err()
}

// GetGateSession returns nil, nil when the agent has no open session.
func (c *RedisCache) GetGateSession(ctx context.Context, agentID string) (*domain.GateSession, error) {
	data, err := c.client.Get(ctx, gateSessionKey(agentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var s domain.GateSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func availabilityKey(eventID string) string {
	return fmt.Sprintf("cache:availability:%s", eventID)
}

func availabilityVersionKey(eventID string) string {
	return fmt.Sprintf("cache:availability:%s:version", eventID)
}

func gateSessionKey(agentID string) string {
	return fmt.Sprintf("gate:session:%s", agentID)
}
