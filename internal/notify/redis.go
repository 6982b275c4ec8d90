// Package notify carries catalog change notifications between engine instances.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// CatalogChanged is the message published when an admin changes the catalog
type CatalogChanged struct {
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// RedisConfig holds connection settings for RedisBus
type RedisConfig struct {
	Address     string
	Password    string
	DB          int
	Channel     string
	DialTimeout time.Duration
}

// RedisBus publishes and receives catalog change notifications over Redis pub/sub
type RedisBus struct {
	client  *redis.Client
	channel string
	origin  string
}

// NewRedisBus connects to Redis and verifies the connection
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	if cfg.Channel == "" {
		return nil, fmt.Errorf("redis channel is required")
	}

	opts := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisBus{
		client:  client,
		channel: cfg.Channel,
		origin:  uuid.NewString(),
	}, nil
}

// Publish announces a catalog change to every instance
func (b *RedisBus) Publish(ctx context.Context) error {
	payload, err := encode(CatalogChanged{Origin: b.origin, At: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish catalog change: %w", err)
	}
	return nil
}

// Listen calls onChange for every catalog change announced by another instance.
// It blocks until ctx is cancelled.
func (b *RedisBus) Listen(ctx context.Context, onChange func()) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.channel, err)
	}
	slog.Info("listening for catalog changes", "channel", b.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("subscription to %s closed", b.channel)
			}
			evt, err := decode(msg.Payload)
			if err != nil {
				slog.Warn("ignoring malformed catalog change message", "error", err)
				continue
			}
			if !b.fromPeer(evt) {
				continue
			}
			slog.Info("catalog change received", "origin", evt.Origin)
			onChange()
		}
	}
}

func (b *RedisBus) fromPeer(evt CatalogChanged) bool {
	return evt.Origin != b.origin
}

// HealthCheck verifies Redis connectivity
func (b *RedisBus) HealthCheck(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (b *RedisBus) Close() error {
	return b.client.Close()
}

func encode(evt CatalogChanged) (string, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("failed to encode catalog change: %w", err)
	}
	return string(data), nil
}

func decode(payload string) (CatalogChanged, error) {
	var evt CatalogChanged
	if err := json.Unmarshal([]byte(payload), &evt); err != nil {
		return CatalogChanged{}, fmt.Errorf("failed to decode catalog change: %w", err)
	}
	return evt, nil
}
