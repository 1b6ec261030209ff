package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		assert.Zero(t, buf.Len())
	})

	t.Run("info logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Info("info message")
		entry := decodeEntry(t, &buf)
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "info message", entry["msg"])
	})

	t.Run("warn logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Warnf("warn %d", 1)
		entry := decodeEntry(t, &buf)
		assert.Equal(t, "warning", entry["level"])
		assert.Equal(t, "warn 1", entry["msg"])
	})

	t.Run("error logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Error("error message")
		assert.NotZero(t, buf.Len())
	})
}

func TestLogger_WithField(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	logger.WithField("org_id", "org-1").Debugf("deducted %d", 5)

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "org-1", entry["org_id"])
	assert.Equal(t, "deducted 5", entry["msg"])
}

func TestLogger_WithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithFields(map[string]interface{}{
		"feature": "equipment_diagnosis",
		"credits": 5,
	}).Info("deduction")

	entry := decodeEntry(t, &buf)
	assert.Equal(t, "equipment_diagnosis", entry["feature"])
	assert.Equal(t, float64(5), entry["credits"])
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	assert.Same(t, logger, logger.WithError(nil))

	logger.WithError(errors.New("boom")).Error("failed")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "boom", entry["error"])
}

func TestLogger_ChildDoesNotLeakFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	_ = logger.WithField("child", true)

	logger.Info("parent")
	entry := decodeEntry(t, &buf)
	assert.NotContains(t, entry, "child")
}

func TestLogLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", DebugLevel.String())
	assert.Equal(t, "ERROR", ErrorLevel.String())
	assert.Equal(t, WarnLevel, NewLogger(WarnLevel, nil).Level())
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-42")

	assert.Equal(t, "req-42", GetRequestID(ctx))
	assert.Same(t, logger, GetLogger(ctx))

	FromContext(ctx).Info("hello")
	entry := decodeEntry(t, &buf)
	assert.Equal(t, "req-42", entry["request_id"])

	assert.Equal(t, "", GetRequestID(context.Background()))
	assert.NotNil(t, GetLogger(context.Background()))
}
