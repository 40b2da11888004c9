package aggregator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// KVStore the subset of the KV surface the cache publisher needs
type KVStore interface {
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
}

// MetricsKey cache key of a session's latest leaderboard
func MetricsKey(sessionID string) string {
	return fmt.Sprintf("workout:session:%s:metrics", sessionID)
}

// CachePublisher writes each snapshot to the KV store with a TTL so displays can poll it
type CachePublisher struct {
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachePublisher creates a cache publisher
func NewCachePublisher(kv KVStore, ttl time.Duration, logger *zap.Logger) *CachePublisher {
	return &CachePublisher{kv: kv, ttl: ttl, logger: logger}
}

func (c *CachePublisher) Name() string { return "cache" }

// Publish overwrites the session's leaderboard key
func (c *CachePublisher) Publish(ctx context.Context, snap Snapshot) error {
	if snap.SessionID == "" {
		return nil
	}
	key := MetricsKey(snap.SessionID)

	jsonData, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.kv.Set(ctx, key, string(jsonData), c.ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated metrics cache",
		zap.String("session_id", snap.SessionID),
		zap.String("key", key),
		zap.Int("participant_count", len(snap.Metrics)),
	)
	return nil
}

// MessagePublisher broker publish, satisfied by common/mqtt.Client
type MessagePublisher interface {
	Publish(topic string, retained bool, payload []byte) error
}

// BroadcastPublisher pushes each snapshot to a retained broker topic per venue
type BroadcastPublisher struct {
	broker   MessagePublisher
	location string
	logger   *zap.Logger
}

// NewBroadcastPublisher creates a broker publisher for location
func NewBroadcastPublisher(broker MessagePublisher, location string, logger *zap.Logger) *BroadcastPublisher {
	return &BroadcastPublisher{broker: broker, location: location, logger: logger}
}

func (b *BroadcastPublisher) Name() string { return "broadcast" }

// Topic the leaderboard topic of the venue
func (b *BroadcastPublisher) Topic() string {
	return fmt.Sprintf("workout/%s/leaderboard", b.location)
}

// Publish sends the snapshot as a retained message; late subscribers get the latest only
func (b *BroadcastPublisher) Publish(ctx context.Context, snap Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return b.broker.Publish(b.Topic(), true, payload)
}
