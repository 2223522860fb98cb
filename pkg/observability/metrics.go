package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	LoginsTotal           *prometheus.CounterVec
	TokenValidationsTotal *prometheus.CounterVec
	TokenRefreshesTotal   *prometheus.CounterVec
	GatewayDecisionsTotal *prometheus.CounterVec

	// SSO metrics
	SSORefreshesTotal *prometheus.CounterVec
	SSOAdapters       prometheus.Gauge

	// Tenant metrics
	CascadeDeletesTotal *prometheus.CounterVec

	// License metrics
	LicenseValid prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowguard_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_logins_total",
				Help: "Total number of login attempts by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		TokenValidationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_token_validations_total",
				Help: "Total number of bearer token validations",
			},
			[]string{"kind", "result"},
		),
		TokenRefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_token_refreshes_total",
				Help: "Total number of refresh token exchanges",
			},
			[]string{"outcome"},
		),
		GatewayDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_gateway_decisions_total",
				Help: "Authorization gateway decisions by branch and outcome",
			},
			[]string{"branch", "outcome"},
		),
		SSORefreshesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_sso_refreshes_total",
				Help: "Upstream SSO token refreshes by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		SSOAdapters: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowguard_sso_adapters",
				Help: "Number of registered SSO provider adapters",
			},
		),
		CascadeDeletesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowguard_cascade_deletes_total",
				Help: "Cascading tenant deletes by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		LicenseValid: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flowguard_license_valid",
				Help: "1 if the enterprise license validated, 0 otherwise",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.TokenValidationsTotal,
		m.TokenRefreshesTotal,
		m.GatewayDecisionsTotal,
		m.SSORefreshesTotal,
		m.SSOAdapters,
		m.CascadeDeletesTotal,
		m.LicenseValid,
	)

	return m
}

// NewTestMetrics returns metrics registered on a throwaway registry
func NewTestMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// SetLicenseValid records the cached license result
func (m *Metrics) SetLicenseValid(valid bool) {
	if m == nil {
		return
	}
	if valid {
		m.LicenseValid.Set(1)
	} else {
		m.LicenseValid.Set(0)
	}
}

// RecordGatewayDecision increments the gateway decision counter
func (m *Metrics) RecordGatewayDecision(branch, outcome string) {
	if m == nil {
		return
	}
	m.GatewayDecisionsTotal.WithLabelValues(branch, outcome).Inc()
}

// RecordTokenValidation increments the token validation counter
func (m *Metrics) RecordTokenValidation(kind, result string) {
	if m == nil {
		return
	}
	m.TokenValidationsTotal.WithLabelValues(kind, result).Inc()
}

// RecordLogin increments the login counter
func (m *Metrics) RecordLogin(mode, outcome string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(mode, outcome).Inc()
}

// RecordRefresh increments the refresh counter
func (m *Metrics) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.TokenRefreshesTotal.WithLabelValues(outcome).Inc()
}

// RecordSSORefresh increments the SSO refresh counter
func (m *Metrics) RecordSSORefresh(provider, outcome string) {
	if m == nil {
		return
	}
	m.SSORefreshesTotal.WithLabelValues(provider, outcome).Inc()
}

// SetSSOAdapters records the number of registered adapters
func (m *Metrics) SetSSOAdapters(n int) {
	if m == nil {
		return
	}
	m.SSOAdapters.Set(float64(n))
}

// RecordCascadeDelete increments the cascade delete counter
func (m *Metrics) RecordCascadeDelete(kind, outcome string) {
	if m == nil {
		return
	}
	m.CascadeDeletesTotal.WithLabelValues(kind, outcome).Inc()
}

// Handler returns the Prometheus scrape handler for the given registry
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
