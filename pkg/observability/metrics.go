package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Login flow
	LoginsTotal  *prometheus.CounterVec
	LogoutsTotal *prometheus.CounterVec

	// Token lifecycle
	TokenRefreshTotal    *prometheus.CounterVec
	TokenValidationTotal *prometheus.CounterVec
	TokensSweptTotal     prometheus.Counter

	// Identity provider calls
	IdPRequestsTotal   *prometheus.CounterVec
	IdPRequestDuration *prometheus.HistogramVec
	RetryAttemptsTotal *prometheus.CounterVec

	// Provisioning
	UsersProvisionedTotal *prometheus.CounterVec
	RoleSyncTotal         *prometheus.CounterVec

	// Cache
	ClaimsCacheTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobridge_logins_total",
				Help: "Total number of SSO login attempts by result and error kind",
			},
			[]string{"result", "kind"},
		),
		LogoutsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobridge_logouts_total",
				Help: "Total number of logouts by IdP revocation outcome",
			},
			[]string{"revoked"},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobridge_token_refresh_total",
				Help: "Total number of token refresh attempts",
			},
			[]string{"result"},
		),
		TokenValidationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobridge_token_validation_total",
				Help: "Total number of token introspections by outcome",
			},
			[]string{"result"},
		),
		TokensSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ssobridge_tokens_swept_total",
				Help: "Total number of expired refresh tokens cleared by the sweeper",
			},
		),
		IdPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobridge_idp_requests_total",
				Help: "Total number of requests sent to the identity provider",
			},
			[]string{"endpoint", "status"},
		),
		IdPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ssobridge_idp_request_duration_seconds",
				Help:    "Identity provider request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		RetryAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobridge_retry_attempts_total",
				Help: "Total number of retries scheduled after a failed attempt",
			},
			[]string{"operation"},
		),
		UsersProvisionedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobridge_users_reconciled_total",
				Help: "Total number of user reconciliations by path",
			},
			[]string{"path"},
		),
		RoleSyncTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobridge_role_sync_total",
				Help: "Total number of role synchronizations by result",
			},
			[]string{"result"},
		),
		ClaimsCacheTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ssobridge_claims_cache_total",
				Help: "Userinfo cache lookups by result",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		m.LoginsTotal,
		m.LogoutsTotal,
		m.TokenRefreshTotal,
		m.TokenValidationTotal,
		m.TokensSweptTotal,
		m.IdPRequestsTotal,
		m.IdPRequestDuration,
		m.RetryAttemptsTotal,
		m.UsersProvisionedTotal,
		m.RoleSyncTotal,
		m.ClaimsCacheTotal,
	)

	return m
}

// RecordLogin counts a login attempt.
func (m *Metrics) RecordLogin(result, kind string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(result, kind).Inc()
}

// RecordLogout counts a logout.
func (m *Metrics) RecordLogout(revoked bool) {
	if m == nil {
		return
	}
	label := "false"
	if revoked {
		label = "true"
	}
	m.LogoutsTotal.WithLabelValues(label).Inc()
}

// RecordTokenRefresh counts a refresh attempt.
func (m *Metrics) RecordTokenRefresh(result string) {
	if m == nil {
		return
	}
	m.TokenRefreshTotal.WithLabelValues(result).Inc()
}

// RecordValidation counts an introspection outcome.
func (m *Metrics) RecordValidation(result string) {
	if m == nil {
		return
	}
	m.TokenValidationTotal.WithLabelValues(result).Inc()
}

// RecordSwept adds to the swept token counter.
func (m *Metrics) RecordSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.TokensSweptTotal.Add(float64(n))
}

// RecordIdPRequest records a single identity provider round trip.
func (m *Metrics) RecordIdPRequest(endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.IdPRequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.IdPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordRetry counts a scheduled retry.
func (m *Metrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.RetryAttemptsTotal.WithLabelValues(operation).Inc()
}

// RecordReconcile counts a reconciliation by path (existing, linked, created).
func (m *Metrics) RecordReconcile(path string) {
	if m == nil {
		return
	}
	m.UsersProvisionedTotal.WithLabelValues(path).Inc()
}

// RecordRoleSync counts a role synchronization.
func (m *Metrics) RecordRoleSync(result string) {
	if m == nil {
		return
	}
	m.RoleSyncTotal.WithLabelValues(result).Inc()
}

// RecordCacheLookup counts a claims cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.ClaimsCacheTotal.WithLabelValues(result).Inc()
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
