package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides observability for the verification module.
type Metrics struct {
	// Check outcomes by reduced result
	CheckOutcome *prometheus.CounterVec

	// Vendor HTTP responses by vendor and status code
	VendorResponse *prometheus.CounterVec

	// Vendor call retries by vendor
	VendorRetries *prometheus.CounterVec

	// Experian warnings/errors by response code and severity
	VendorWarnings *prometheus.CounterVec

	// Vendor token refresh attempts by vendor and result
	TokenRefresh *prometheus.CounterVec

	// Vendor call latency by vendor
	VendorLatency *prometheus.HistogramVec
}

// New creates a Metrics instance registered against reg. Passing a fresh
// registry in tests avoids duplicate-registration panics.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CheckOutcome: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bankcri_check_outcomes_total",
			Help: "Total verification check outcomes by reduced result",
		}, []string{"result"}),

		VendorResponse: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bankcri_vendor_responses_total",
			Help: "Total vendor HTTP responses by vendor and status code",
		}, []string{"vendor", "status_code"}),

		VendorRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bankcri_vendor_retries_total",
			Help: "Total vendor call retries by vendor",
		}, []string{"vendor"}),

		VendorWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bankcri_vendor_warnings_total",
			Help: "Total vendor warnings and errors by response code and severity",
		}, []string{"vendor", "code", "severity"}),

		TokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bankcri_vendor_token_refresh_total",
			Help: "Total vendor token refresh attempts by vendor and result",
		}, []string{"vendor", "result"}),

		VendorLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bankcri_vendor_call_duration_seconds",
			Help:    "Duration of vendor verification calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"vendor"}),
	}
	if reg != nil {
		reg.MustRegister(m.CheckOutcome, m.VendorResponse, m.VendorRetries,
			m.VendorWarnings, m.TokenRefresh, m.VendorLatency)
	}
	return m
}

// IncOutcome records a reduced check result.
func (m *Metrics) IncOutcome(result string) {
	if m != nil {
		m.CheckOutcome.WithLabelValues(result).Inc()
	}
}

// IncVendorResponse records a vendor HTTP status.
func (m *Metrics) IncVendorResponse(vendor, statusCode string) {
	if m != nil {
		m.VendorResponse.WithLabelValues(vendor, statusCode).Inc()
	}
}

// IncRetry records one retry of a vendor call.
func (m *Metrics) IncRetry(vendor string) {
	if m != nil {
		m.VendorRetries.WithLabelValues(vendor).Inc()
	}
}

// IncWarning records a vendor warning or error response code.
func (m *Metrics) IncWarning(vendor, code, severity string) {
	if m != nil {
		m.VendorWarnings.WithLabelValues(vendor, code, severity).Inc()
	}
}

// IncTokenRefresh records a token refresh attempt result.
func (m *Metrics) IncTokenRefresh(vendor, result string) {
	if m != nil {
		m.TokenRefresh.WithLabelValues(vendor, result).Inc()
	}
}

// ObserveVendorLatency records the duration of one vendor call.
func (m *Metrics) ObserveVendorLatency(vendor string, d time.Duration) {
	if m != nil {
		m.VendorLatency.WithLabelValues(vendor).Observe(d.Seconds())
	}
}
