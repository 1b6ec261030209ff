package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/creditgate/pkg/observability"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func sampleNotification() Notification {
	return Notification{
		Type:           TypeExpiryWarning7,
		OrganizationID: "org-1",
		Args:           map[string]interface{}{"days": 7},
		CreatedAt:      time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestExpiryWarning(t *testing.T) {
	assert.Equal(t, TypeExpiryWarning30, ExpiryWarning(30))
	assert.Equal(t, TypeExpiryWarning15, ExpiryWarning(15))
	assert.Equal(t, TypeExpiryWarning7, ExpiryWarning(7))
}

func TestRedisOutbox(t *testing.T) {
	mr, client := newTestRedis(t)
	outbox := NewRedisOutbox(client, "")
	ctx := context.Background()

	require.NoError(t, outbox.Send(ctx, sampleNotification()))

	n, err := outbox.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	items, err := mr.List(DefaultOutboxKey)
	require.NoError(t, err)
	require.Len(t, items, 1)

	var got Notification
	require.NoError(t, json.Unmarshal([]byte(items[0]), &got))
	assert.Equal(t, TypeExpiryWarning7, got.Type)
	assert.Equal(t, "org-1", got.OrganizationID)
	assert.Equal(t, float64(7), got.Args["days"])
}

func TestRedisOutboxUnavailable(t *testing.T) {
	mr, client := newTestRedis(t)
	mr.Close()

	err := NewRedisOutbox(client, "outbox").Send(context.Background(), sampleNotification())
	assert.Error(t, err)
}

func TestLogDispatcher(t *testing.T) {
	var buf bytes.Buffer
	d := NewLogDispatcher(observability.NewLogger(observability.InfoLevel, &buf))

	require.NoError(t, d.Send(context.Background(), sampleNotification()))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "notification dispatched", entry["msg"])
	assert.Equal(t, "expiry_warning_7", entry["notification_type"])
	assert.Equal(t, "org-1", entry["organization_id"])
	assert.Equal(t, float64(7), entry["arg_days"])
}

func TestMultiDispatcher(t *testing.T) {
	var calls []string
	ok := DispatcherFunc(func(ctx context.Context, n Notification) error {
		calls = append(calls, "ok")
		return nil
	})
	failing := DispatcherFunc(func(ctx context.Context, n Notification) error {
		calls = append(calls, "failing")
		return errors.New("smtp down")
	})

	m := NewMultiDispatcher(ok, nil, failing, ok)
	err := m.Send(context.Background(), sampleNotification())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Equal(t, []string{"ok", "failing", "ok"}, calls)

	assert.NoError(t, NewMultiDispatcher().Send(context.Background(), sampleNotification()))
}
