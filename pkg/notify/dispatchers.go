package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/platinummonkey/creditgate/pkg/observability"
)

// DefaultOutboxKey is the Redis list the delivery service consumes
const DefaultOutboxKey = "creditgate:notifications:outbox"

// LogDispatcher writes notifications to the structured log
type LogDispatcher struct {
	logger *observability.Logger
}

// NewLogDispatcher creates a log dispatcher
func NewLogDispatcher(logger *observability.Logger) *LogDispatcher {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &LogDispatcher{logger: logger.WithField("component", "notify")}
}

// Send logs n
func (d *LogDispatcher) Send(ctx context.Context, n Notification) error {
	fields := map[string]interface{}{
		"notification_type": n.Type,
		"organization_id":   n.OrganizationID,
	}
	for k, v := range n.Args {
		fields["arg_"+k] = v
	}
	d.logger.WithFields(fields).Info("notification dispatched")
	return nil
}

// RedisOutbox pushes notifications as JSON onto a Redis list
type RedisOutbox struct {
	client *redis.Client
	key    string
}

// NewRedisOutbox creates an outbox writing to key. An empty key uses DefaultOutboxKey.
func NewRedisOutbox(client *redis.Client, key string) *RedisOutbox {
	if key == "" {
		key = DefaultOutboxKey
	}
	return &RedisOutbox{client: client, key: key}
}

// Send LPUSHes n onto the outbox list
func (o *RedisOutbox) Send(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := o.client.LPush(ctx, o.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	return nil
}

// Len returns the number of undelivered notifications
func (o *RedisOutbox) Len(ctx context.Context) (int64, error) {
	return o.client.LLen(ctx, o.key).Result()
}

// MultiDispatcher sends to every dispatcher in order
type MultiDispatcher struct {
	dispatchers []Dispatcher
}

// NewMultiDispatcher creates a fan-out dispatcher. Nil entries are ignored.
func NewMultiDispatcher(dispatchers ...Dispatcher) *MultiDispatcher {
	m := &MultiDispatcher{}
	for _, d := range dispatchers {
		if d != nil {
			m.dispatchers = append(m.dispatchers, d)
		}
	}
	return m
}

// Send calls every dispatcher and joins their errors
func (m *MultiDispatcher) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, d := range m.dispatchers {
		if err := d.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
