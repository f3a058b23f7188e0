// Package notify publishes file lifecycle events.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"ptxmeta/internal/core"
)

// LogNotifier writes events to the service logger.
type LogNotifier struct {
	Logger core.Logger
}

// Notify implements core.Notifier.
func (n LogNotifier) Notify(_ context.Context, e core.Event) error {
	if n.Logger == nil {
		return nil
	}
	n.Logger.Info("file event", "event", e.Name, "file_id", e.FileID, "user_id", e.UserID, "payload", e.Payload)
	return nil
}

// Publisher is the subset of a redis client used by RedisNotifier.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier publishes events as JSON on a redis pub/sub channel.
type RedisNotifier struct {
	client  Publisher
	channel string
}

// NewRedisNotifier returns a notifier publishing on channel.
func NewRedisNotifier(client Publisher, channel string) (*RedisNotifier, error) {
	if client == nil {
		return nil, errors.New("redis client required")
	}
	if channel == "" {
		return nil, errors.New("redis channel required")
	}
	return &RedisNotifier{client: client, channel: channel}, nil
}

// Notify implements core.Notifier.
func (n *RedisNotifier) Notify(ctx context.Context, e core.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", e.Name, err)
	}
	if err := n.client.Publish(ctx, n.channel, raw).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", e.Name, err)
	}
	return nil
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []core.Notifier

// Notify implements core.Notifier.
func (m Multi) Notify(ctx context.Context, e core.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
