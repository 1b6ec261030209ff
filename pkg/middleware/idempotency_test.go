package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/creditgate/pkg/auth"
)

func countingHandler(calls *atomic.Int32, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"call":%d}`, n)
	})
}

func idemRequest(method, path, user, key string) *http.Request {
	r := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	r.Header.Set(auth.HeaderUserID, user)
	if key != "" {
		r.Header.Set(HeaderIdempotencyKey, key)
	}
	return r
}

func TestIdempotencyCache_Replays(t *testing.T) {
	var calls atomic.Int32
	cache := NewIdempotencyCache(10, time.Hour)
	h := cache.Middleware(countingHandler(&calls, http.StatusCreated))

	first := serve(h, idemRequest(http.MethodPost, "/v1/orgs/o1/credits/deduct", "u1", "k1"))
	assert.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get(HeaderIdempotentReplay))

	again := serve(h, idemRequest(http.MethodPost, "/v1/orgs/o1/credits/deduct", "u1", "k1"))
	assert.Equal(t, http.StatusCreated, again.Code)
	assert.Equal(t, "true", again.Header().Get(HeaderIdempotentReplay))
	assert.Equal(t, "application/json", again.Header().Get("Content-Type"))
	assert.Equal(t, first.Body.String(), again.Body.String())
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestIdempotencyCache_Scoping(t *testing.T) {
	var calls atomic.Int32
	h := NewIdempotencyCache(10, time.Hour).Middleware(countingHandler(&calls, http.StatusOK))

	serve(h, idemRequest(http.MethodPost, "/a", "u1", "k1"))
	serve(h, idemRequest(http.MethodPost, "/a", "u2", "k1"))
	serve(h, idemRequest(http.MethodPost, "/b", "u1", "k1"))
	serve(h, idemRequest(http.MethodPost, "/a", "u1", "k2"))
	serve(h, idemRequest(http.MethodPost, "/a", "u1", ""))
	serve(h, idemRequest(http.MethodPost, "/a", "u1", ""))
	serve(h, idemRequest(http.MethodGet, "/a", "u1", "k1"))
	serve(h, idemRequest(http.MethodPost, "/a", "u1", strings.Repeat("x", 300)))

	assert.EqualValues(t, 8, calls.Load())
}

func TestIdempotencyCache_ServerErrorsNotCached(t *testing.T) {
	var calls atomic.Int32
	h := NewIdempotencyCache(10, time.Hour).Middleware(countingHandler(&calls, http.StatusServiceUnavailable))

	serve(h, idemRequest(http.MethodPost, "/a", "u1", "k1"))
	rec := serve(h, idemRequest(http.MethodPost, "/a", "u1", "k1"))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.EqualValues(t, 2, calls.Load())
}

func TestIdempotencyCache_ClientErrorsCached(t *testing.T) {
	var calls atomic.Int32
	h := NewIdempotencyCache(10, time.Hour).Middleware(countingHandler(&calls, http.StatusPaymentRequired))

	serve(h, idemRequest(http.MethodPost, "/a", "u1", "k1"))
	rec := serve(h, idemRequest(http.MethodPost, "/a", "u1", "k1"))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.EqualValues(t, 1, calls.Load())
}

func TestIdempotencyCache_Expires(t *testing.T) {
	var calls atomic.Int32
	h := NewIdempotencyCache(10, 50*time.Millisecond).Middleware(countingHandler(&calls, http.StatusOK))

	serve(h, idemRequest(http.MethodPost, "/a", "u1", "k1"))
	require.Eventually(t, func() bool {
		serve(h, idemRequest(http.MethodPost, "/a", "u1", "k1"))
		return calls.Load() == 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestIdempotencyCache_ConcurrentRequestsShareExecution(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		countingHandler(&calls, http.StatusCreated).ServeHTTP(w, r)
	})
	h := NewIdempotencyCache(10, time.Hour).Middleware(slow)

	const n = 5
	codes := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes[i] = serve(h, idemRequest(http.MethodPost, "/a", "u1", "k1")).Code
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.EqualValues(t, 1, calls.Load())
	for _, code := range codes {
		assert.Equal(t, http.StatusCreated, code)
	}
}
