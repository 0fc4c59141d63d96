package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_Records(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.RecordLogin("failure", "connection")
	m.RecordLogin("failure", "connection")
	m.RecordLogin("success", "")
	m.RecordLogout(true)
	m.RecordTokenRefresh("success")
	m.RecordValidation("inactive")
	m.RecordSwept(3)
	m.RecordSwept(0)
	m.RecordIdPRequest("token", "200", 15*time.Millisecond)
	m.RecordRetry("exchange_code")
	m.RecordReconcile("created")
	m.RecordRoleSync("success")
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.LoginsTotal.WithLabelValues("failure", "connection")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LoginsTotal.WithLabelValues("success", "")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.LogoutsTotal.WithLabelValues("true")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.TokensSweptTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.IdPRequestsTotal.WithLabelValues("token", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ClaimsCacheTotal.WithLabelValues("hit")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ClaimsCacheTotal.WithLabelValues("miss")))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordLogin("success", "")
		m.RecordLogout(false)
		m.RecordIdPRequest("token", "500", time.Second)
		m.RecordCacheLookup(true)
		m.RecordSwept(1)
	})
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.RecordLogin("success", "")

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ssobridge_logins_total")
}
