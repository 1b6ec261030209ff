package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/creditgate/pkg/async"
	"github.com/platinummonkey/creditgate/pkg/observability"
)

// asyncWriteTimeout bounds a background audit write
const asyncWriteTimeout = 10 * time.Second

// Logger is the interface for audit logging
type Logger interface {
	// Log appends an audit event
	Log(ctx context.Context, event *Event) error

	// Close flushes any buffered events
	Close() error
}

type noOpLogger struct{}

// NewNopLogger returns a Logger that discards events
func NewNopLogger() Logger {
	return noOpLogger{}
}

func (noOpLogger) Log(ctx context.Context, event *Event) error { return nil }
func (noOpLogger) Close() error { return nil }

// LogLogger writes audit events as structured log lines
type LogLogger struct {
	logger *observability.Logger
}

// NewLogLogger creates a logger-backed audit logger
func NewLogLogger(logger *observability.Logger) *LogLogger {
	return &LogLogger{logger: logger.WithField("component", "audit")}
}

// Log emits the event at info level
func (l *LogLogger) Log(ctx context.Context, event *Event) error {
	fields := map[string]interface{}{
		"event_type":      event.EventType,
		"status":          event.Status,
		"actor_id":        event.ActorID,
		"organization_id": event.OrganizationID,
		"resource_type":   event.ResourceType,
		"resource_id":     event.ResourceID,
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Changes != nil {
		fields["before"] = event.Changes.Before
		fields["after"] = event.Changes.After
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}
	l.logger.WithFields(fields).Info(event.Message)
	return nil
}

// Close is a no-op
func (l *LogLogger) Close() error {
	return nil
}

// Recorder writes audit events and swallows failures after logging them
type Recorder struct {
	logger Logger
	log    *observability.Logger
	tasks  *async.Tasks
}

// NewRecorder wraps logger. A nil logger discards events.
func NewRecorder(logger Logger, log *observability.Logger) *Recorder {
	if logger == nil {
		logger = NewNopLogger()
	}
	if log == nil {
		log = observability.NewNopLogger()
	}
	return &Recorder{logger: logger, log: log}
}

// Async returns a recorder that writes events in the background on tasks.
// Events recorded after tasks is closed are written inline.
func (r *Recorder) Async(tasks *async.Tasks) *Recorder {
	return &Recorder{logger: r.logger, log: r.log, tasks: tasks}
}

// Record appends event. Errors are logged and never returned.
func (r *Recorder) Record(ctx context.Context, event *Event) {
	if r == nil || event == nil {
		return
	}
	if r.tasks != nil {
		err := r.tasks.Go(ctx, asyncWriteTimeout, "audit "+string(event.EventType), func(ctx context.Context) error {
			r.write(ctx, event)
			return nil
		})
		if err == nil {
			return
		}
	}
	r.write(ctx, event)
}

func (r *Recorder) write(ctx context.Context, event *Event) {
	if err := r.logger.Log(ctx, event); err != nil {
		r.log.WithError(err).WithFields(map[string]interface{}{
			"event_type":      event.EventType,
			"organization_id": event.OrganizationID,
		}).Error("failed to write audit event")
	}
}
