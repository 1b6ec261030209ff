package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/creditgate/pkg/async"
	"github.com/platinummonkey/creditgate/pkg/auth"
	"github.com/platinummonkey/creditgate/pkg/observability"
)

type failingLogger struct {
	calls int
}

func (f *failingLogger) Log(ctx context.Context, event *Event) error {
	f.calls++
	return errors.New("unavailable")
}

func (f *failingLogger) Close() error { return nil }

type captureLogger struct {
	events []*Event
}

func (c *captureLogger) Log(ctx context.Context, event *Event) error {
	c.events = append(c.events, event)
	return nil
}

func (c *captureLogger) Close() error { return nil }

func TestNewEvent(t *testing.T) {
	ctx := auth.WithActor(context.Background(), auth.Actor{UserID: "admin-1", Role: auth.RolePlatformAdmin})
	ctx = observability.WithRequestID(ctx, "req-1")

	event := NewEvent(ctx, EventTypeSubscriptionSuspended, "org-9").
		WithMessage("non-payment").
		WithMetadata("reason", "non-payment").
		WithChanges(map[string]interface{}{"status": "active"}, map[string]interface{}{"status": "suspended"})

	assert.Equal(t, "admin-1", event.ActorID)
	assert.Equal(t, "platform_admin", event.ActorRole)
	assert.Equal(t, "org-9", event.OrganizationID)
	assert.Equal(t, ResourceTypeOrganization, event.ResourceType)
	assert.Equal(t, "req-1", event.RequestID)
	assert.Equal(t, EventStatusSuccess, event.Status)
	assert.Equal(t, "non-payment", event.Metadata["reason"])
	assert.Equal(t, "suspended", event.Changes.After["status"])

	event.WithResource(ResourceTypePayment, "pay-1")
	assert.Equal(t, "pay-1", event.ResourceID)
}

func TestLogLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogLogger(observability.NewLogger(observability.InfoLevel, &buf))

	event := NewEvent(context.Background(), EventTypeCreditsBonusGranted, "org-1").
		WithMessage("bonus granted").
		WithMetadata("credits", 25)
	require.NoError(t, logger.Log(context.Background(), event))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "bonus granted", entry["msg"])
	assert.Equal(t, "credits.bonus_granted", entry["event_type"])
	assert.Equal(t, float64(25), entry["meta_credits"])
	assert.Equal(t, "audit", entry["component"])
}

func TestMultiLogger(t *testing.T) {
	failing := &failingLogger{}
	capture := &captureLogger{}
	multi := NewMultiLogger(failing, capture)

	err := multi.Log(context.Background(), &Event{EventType: EventTypePaymentRecorded})
	assert.Error(t, err)
	assert.Equal(t, 1, failing.calls)
	assert.Len(t, capture.events, 1)
	assert.NoError(t, multi.Close())
}

func TestRecorderSwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	failing := &failingLogger{}
	rec := NewRecorder(failing, observability.NewLogger(observability.InfoLevel, &buf))

	assert.NotPanics(t, func() {
		rec.Record(context.Background(), &Event{EventType: EventTypePaymentRefunded, OrganizationID: "org-1"})
	})
	assert.Equal(t, 1, failing.calls)
	assert.Contains(t, buf.String(), "failed to write audit event")

	var nilRec *Recorder
	assert.NotPanics(t, func() { nilRec.Record(context.Background(), &Event{}) })
	assert.NotPanics(t, func() { NewRecorder(nil, nil).Record(context.Background(), &Event{}) })
}

func TestRecorderAsync(t *testing.T) {
	capture := &captureLogger{}
	tasks := async.NewTasks(nil)
	rec := NewRecorder(capture, nil).Async(tasks)

	ctx := auth.WithActor(context.Background(), auth.Actor{UserID: "admin-1", Role: auth.RolePlatformAdmin})
	rec.Record(ctx, NewEvent(ctx, EventTypePaymentConfirmed, "org-1"))
	require.NoError(t, tasks.Wait(context.Background()))
	require.Len(t, capture.events, 1)
	assert.Equal(t, "admin-1", capture.events[0].ActorID)

	// Once tasks are drained, events are written inline.
	rec.Record(ctx, NewEvent(ctx, EventTypePaymentRejected, "org-1"))
	assert.Len(t, capture.events, 2)
}
