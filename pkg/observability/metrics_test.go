package observability

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	require.NotNil(t, metrics)

	assert.Panics(t, func() { NewMetrics(registry) }, "double registration must panic")
}

func TestMetricsRecorders(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	metrics.RecordDeduction("org_pool", "equipment_diagnosis", 5)
	metrics.RecordDeduction("org_pool", "equipment_diagnosis", 3)
	assert.Equal(t, float64(8), testutil.ToFloat64(metrics.CreditsDeductedTotal.WithLabelValues("org_pool", "equipment_diagnosis")))

	metrics.RecordRejection("INSUFFICIENT_CREDITS")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.DeductionsRejectedTotal.WithLabelValues("INSUFFICIENT_CREDITS")))

	metrics.RecordFinalization("failed", "bonus", 4)
	metrics.RecordFinalization("completed", "org_pool", 0)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.ConsumptionsFinalizedTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(4), testutil.ToFloat64(metrics.CreditsRefundedTotal.WithLabelValues("bonus")))
	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.CreditsRefundedTotal.WithLabelValues("org_pool")))

	metrics.RecordBonusGrant(100)
	assert.Equal(t, float64(100), testutil.ToFloat64(metrics.BonusCreditsGrantedTotal))

	metrics.RecordCreditReset("skipped")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CreditResetsTotal.WithLabelValues("skipped")))

	metrics.RecordTransition("active", "grace_period")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SubscriptionTransitionsTotal.WithLabelValues("active", "grace_period")))

	metrics.RecordNotification("expiry_warning_30", "sent")
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("expiry_warning_30", "sent")))

	metrics.RecordJob("expiry_sweep", time.Second, nil)
	metrics.RecordJob("expiry_sweep", time.Second, errors.New("boom"))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues("expiry_sweep", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.JobRunsTotal.WithLabelValues("expiry_sweep", "failure")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	assert.NotPanics(t, func() {
		metrics.RecordDeduction("org_pool", "x", 1)
		metrics.RecordRejection("X")
		metrics.RecordFinalization("failed", "bonus", 1)
		metrics.RecordBonusGrant(1)
		metrics.RecordCreditReset("reset")
		metrics.RecordTransition("a", "b")
		metrics.RecordNotification("t", "sent")
		metrics.RecordJob("j", time.Second, nil)
	})
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	router := mux.NewRouter()
	router.Use(HTTPMetricsMiddleware(metrics))
	router.HandleFunc("/orgs/{org_id}/access", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	req := httptest.NewRequest(http.MethodGet, "/orgs/org-1/access", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues("GET", "/orgs/{org_id}/access", "418")))
}

func TestHTTPMetricsMiddlewareNilMetrics(t *testing.T) {
	handler := HTTPMetricsMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry)
	metrics.RecordBonusGrant(7)

	serveMux := http.NewServeMux()
	RegisterMetricsEndpoint(serveMux, registry)

	server := httptest.NewServer(serveMux)
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "creditgate_bonus_credits_granted_total 7"))
}
