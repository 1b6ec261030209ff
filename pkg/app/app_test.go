package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/creditgate/pkg/auth"
	"github.com/platinummonkey/creditgate/pkg/config"
	"github.com/platinummonkey/creditgate/pkg/notify"
	"github.com/platinummonkey/creditgate/pkg/observability"
	"github.com/platinummonkey/creditgate/pkg/scheduler"
	"github.com/platinummonkey/creditgate/pkg/storage"
	"github.com/platinummonkey/creditgate/pkg/webhooks"
)

func memoryConfig() *config.Config {
	st := storage.DefaultConfig()
	st.Type = "memory"
	return &config.Config{
		Storage:   st,
		Scheduler: config.SchedulerConfig{Jobs: scheduler.DefaultConfig()},
		Catalog:   config.CatalogConfig{},
		Notify:    config.NotifyConfig{OutboxKey: "test:notifications"},
	}
}

func TestBuild_Memory(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, memoryConfig(), nil, observability.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Archiver)
	assert.Equal(t, 5, a.Catalog.Current().Features.Len())

	_, err = a.Credits.GetLedger(ctx, "org-1")
	require.Error(t, err)

	adminCtx := auth.WithActor(ctx, auth.Actor{UserID: "admin-1", Role: auth.RolePlatformAdmin})
	_, err = a.Subs.Suspend(adminCtx, "org-1", "fraud")
	require.Error(t, err)

	require.NoError(t, a.Scheduler().Run(ctx, scheduler.JobDailySweep))
	require.NoError(t, a.Close(ctx))
}

func TestBuild_CatalogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("features:\n  - id: report_analysis\n    credits: 9\n"), 0o600))

	for _, watch := range []bool{false, true} {
		cfg := memoryConfig()
		cfg.Catalog = config.CatalogConfig{Path: path, Watch: watch}

		a, err := Build(context.Background(), cfg, nil, nil)
		require.NoError(t, err)
		f, err := a.Catalog.Current().Features.Lookup("report_analysis")
		require.NoError(t, err)
		assert.Equal(t, int64(9), f.Credits)
		require.NoError(t, a.Close(context.Background()))
	}
}

func TestBuild_CatalogFileMissing(t *testing.T) {
	cfg := memoryConfig()
	cfg.Catalog = config.CatalogConfig{Path: filepath.Join(t.TempDir(), "missing.yaml")}

	_, err := Build(context.Background(), cfg, nil, nil)
	require.Error(t, err)
}

func TestBuild_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Storage.RedisURL = "redis://" + mr.Addr()

	a, err := Build(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, a.Redis)

	require.NoError(t, a.Scheduler().Run(context.Background(), scheduler.JobMonthlyReset))
	assert.False(t, mr.Exists("creditgate:scheduler:lock:"+scheduler.JobMonthlyReset))

	require.NoError(t, a.Close(context.Background()))
	assert.Error(t, a.Redis.Ping(context.Background()).Err())
}

func TestBuild_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	cfg := memoryConfig()
	cfg.Storage.RedisURL = "redis://" + addr
	_, err := Build(context.Background(), cfg, nil, nil)
	require.Error(t, err)
}

func TestBuild_UnknownStorage(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Type = "filesystem"
	_, err := Build(context.Background(), cfg, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported storage type")
}

func TestDispatcher_Webhooks(t *testing.T) {
	var signed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signed.Store(r.Header.Get(webhooks.HeaderSignature) != "")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	cfg := memoryConfig()
	cfg.Notify.WebhookURLs = srv.URL
	cfg.Notify.WebhookSecret = "whsec"
	cfg.Notify.WebhookTimeout = time.Second

	a, err := Build(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	defer a.Close(context.Background())

	err = a.dispatcher().Send(context.Background(), notify.Notification{
		Type:           notify.TypeGraceFinal,
		OrganizationID: "org-1",
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
	assert.True(t, signed.Load())
}

func TestHTTPMiddleware(t *testing.T) {
	a, err := Build(context.Background(), memoryConfig(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, a.HTTPMiddleware())
	require.NoError(t, a.Close(context.Background()))

	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Storage.RedisURL = "redis://" + mr.Addr()
	cfg.Server.RateLimitPerMinute = 1
	cfg.Server.IdempotencyTTL = time.Hour
	cfg.Server.IdempotencyCacheSize = 10

	a, err = Build(context.Background(), cfg, nil, nil)
	require.NoError(t, err)
	defer a.Close(context.Background())

	mws := a.HTTPMiddleware()
	require.Len(t, mws, 2)

	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	h = auth.Middleware(h)

	call := func() int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/orgs/o1/credits/deduct", nil)
		req.Header.Set(auth.HeaderUserID, "u1")
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, http.StatusCreated, call())
	assert.Equal(t, http.StatusTooManyRequests, call())
	assert.True(t, mr.Exists("creditgate:ratelimit:user:u1"))
}
