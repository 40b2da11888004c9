package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

var ErrMiss = errors.New("cache miss")

// Change a key write observed through Subscribe
type Change struct {
	Key   string
	Value string
}

// KV the persistence surface shared with the host app: named keys plus change notifications
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	Subscribe(ctx context.Context, keys ...string) (<-chan Change, error)
}

// RedisKV KV on Redis strings; every Set is announced on the "kv:<key>" channel
type RedisKV struct {
	c      *redis.Client
	logger *zap.Logger
}

func NewRedisKV(c *redis.Client, logger *zap.Logger) *RedisKV {
	return &RedisKV{c: c, logger: logger}
}

func changeChannel(key string) string { return "kv:" + key }

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.c.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return "", ErrMiss
		}
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	_, err := r.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, value, ttl)
		pipe.Publish(ctx, changeChannel(key), value)
		return nil
	})
	return err
}

// Subscribe delivers writes to keys until ctx is cancelled.
// Returns once the subscription is confirmed so no later write is missed.
func (r *RedisKV) Subscribe(ctx context.Context, keys ...string) (<-chan Change, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("subscribe: no keys")
	}
	channels := make([]string, len(keys))
	for i, k := range keys {
		channels[i] = changeChannel(k)
	}

	ps := r.c.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	out := make(chan Change, 16)
	go func() {
		defer close(out)
		defer ps.Close()

		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				change := Change{Key: msg.Channel[len("kv:"):], Value: msg.Payload}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	r.logger.Debug("Subscribed to keys", zap.Strings("keys", keys))
	return out, nil
}
