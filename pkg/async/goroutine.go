package async

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/platinummonkey/creditgate/pkg/observability"
)

// ErrClosed is returned by Tasks.Go once Wait has been called
var ErrClosed = errors.New("background tasks are shutting down")

// SafeGo executes a function in a goroutine with:
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// The task context is detached from parentCtx's cancellation but keeps its
// values, so work started from a request outlives the response.
//
// Example:
//
//	SafeGo(r.Context(), logger, 5*time.Second, "audit event", func(ctx context.Context) error {
//	    return auditLog.Log(ctx, event)
//	})
func SafeGo(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go run(parentCtx, logger, timeout, taskName, fn)
}

func run(parentCtx context.Context, logger *observability.Logger, timeout time.Duration, taskName string, fn func(context.Context) error) {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parentCtx), timeout)
	defer cancel()
	defer observability.RecoverPanic(logger, taskName)

	if err := fn(ctx); err != nil {
		logger.WithError(err).WithField("task", taskName).Error("Background task failed")
	}
}

// Tasks tracks background goroutines so shutdown can wait for them to drain
// before closing the resources they write to.
type Tasks struct {
	logger *observability.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewTasks creates an empty task group
func NewTasks(logger *observability.Logger) *Tasks {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Tasks{logger: logger}
}

// Go starts fn like SafeGo and tracks it. After Wait it refuses new work
// and returns ErrClosed.
func (t *Tasks) Go(ctx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		run(ctx, t.logger, timeout, taskName, fn)
	}()
	return nil
}

// Wait stops accepting tasks and blocks until the running ones finish or
// ctx is done.
func (t *Tasks) Wait(ctx context.Context) error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
