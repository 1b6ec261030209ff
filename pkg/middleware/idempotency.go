package middleware

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/creditgate/pkg/auth"
)

const (
	// HeaderIdempotencyKey lets clients retry a POST without repeating it
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplay marks a response served from the cache
	HeaderIdempotentReplay = "Idempotent-Replayed"

	maxIdempotencyKeyLen = 255
)

// cachedResponse is a completed response kept for replay
type cachedResponse struct {
	status int
	header http.Header
	body   []byte
}

// IdempotencyCache replays the response of a POST carrying an
// Idempotency-Key header when the same user retries it. Concurrent
// requests with one key share a single execution. Server errors are not
// cached so the client can retry them.
//
// The cache is per process; retries routed to another instance execute
// again.
type IdempotencyCache struct {
	cache  *expirable.LRU[string, *cachedResponse]
	flight singleflight.Group
}

// NewIdempotencyCache keeps up to size responses for ttl
func NewIdempotencyCache(size int, ttl time.Duration) *IdempotencyCache {
	return &IdempotencyCache{
		cache: expirable.NewLRU[string, *cachedResponse](size, nil, ttl),
	}
}

// Len returns the number of cached responses
func (c *IdempotencyCache) Len() int {
	return c.cache.Len()
}

// Middleware must run after auth.Middleware so keys are scoped per user
func (c *IdempotencyCache) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idemKey := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
		if r.Method != http.MethodPost || idemKey == "" || len(idemKey) > maxIdempotencyKeyLen {
			next.ServeHTTP(w, r)
			return
		}

		key := auth.ActorFromContext(r.Context()).UserID + "\x00" + r.URL.Path + "\x00" + idemKey
		if resp, ok := c.cache.Get(key); ok {
			resp.writeTo(w, true)
			return
		}

		v, _, shared := c.flight.Do(key, func() (interface{}, error) {
			if resp, ok := c.cache.Get(key); ok {
				return resp, nil
			}
			rec := &bufferedResponse{header: make(http.Header), status: http.StatusOK}
			next.ServeHTTP(rec, r)
			resp := &cachedResponse{status: rec.status, header: rec.header, body: rec.body.Bytes()}
			if resp.status < http.StatusInternalServerError {
				c.cache.Add(key, resp)
			}
			return resp, nil
		})
		v.(*cachedResponse).writeTo(w, shared)
	})
}

func (resp *cachedResponse) writeTo(w http.ResponseWriter, replayed bool) {
	for k, vals := range resp.header {
		w.Header()[k] = append([]string(nil), vals...)
	}
	if replayed {
		w.Header().Set(HeaderIdempotentReplay, "true")
	}
	w.WriteHeader(resp.status)
	_, _ = w.Write(resp.body)
}

// bufferedResponse collects a handler's response in memory
type bufferedResponse struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.status = status
	b.wroteHeader = true
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.body.Write(p)
}
