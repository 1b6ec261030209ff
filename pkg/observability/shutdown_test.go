package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewShutdownManager_Defaults(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	assert.Equal(t, 30*time.Second, sm.shutdownTimeout)
	assert.NotNil(t, sm.logger)
}

func TestShutdown_RunsAllFunctions(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)

	var calls int32
	for _, name := range []string{"scheduler", "database", "redis"} {
		sm.RegisterShutdownFunc(name, func(ctx context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		})
	}
	sm.RegisterShutdownFunc("ignored", nil)

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestShutdown_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)
	dbErr := errors.New("close failed")

	sm.RegisterShutdownFunc("database", func(ctx context.Context) error { return dbErr })
	sm.RegisterShutdownFunc("redis", func(ctx context.Context) error { return nil })

	err := sm.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.Contains(t, err.Error(), "database")
}

func TestShutdown_RecoversPanics(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)
	sm.RegisterShutdownFunc("flaky", func(ctx context.Context) error { panic("boom") })

	assert.NotPanics(t, func() {
		assert.NoError(t, sm.Shutdown(context.Background()))
	})
}

func TestShutdown_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)
	release := make(chan struct{})
	defer close(release)

	sm.RegisterShutdownFunc("slow", func(ctx context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sm.Shutdown(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestShutdown_StopsHTTPServer(t *testing.T) {
	server := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Start()
	defer server.Close()

	sm := NewShutdownManager(NewNopLogger(), server.Config, time.Second)
	require.NoError(t, sm.Shutdown(context.Background()))
}

func TestWaitForShutdown_ContextCancelled(t *testing.T) {
	sm := NewShutdownManager(NewNopLogger(), nil, time.Second)
	var ran int32
	sm.RegisterShutdownFunc("scheduler", func(ctx context.Context) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, sm.WaitForShutdown(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}
