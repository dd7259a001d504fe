// metrics.go - In-process request counters.
//
// Counters feed the admin stats endpoint. They are deliberately simple:
// monotonic since process start, no histogram machinery.
package server

import (
	"sync"
	"time"
)

// Metrics holds application metrics
type Metrics struct {
	mu sync.RWMutex

	startedAt time.Time

	// Request metrics
	requestsTotal    int64
	requestErrors4xx int64
	requestErrors5xx int64

	// Admission metrics
	rateLimitedTotal int64

	// Auth metrics
	adminAuthFailures int64
}

var globalMetrics = &Metrics{startedAt: time.Now()}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	return globalMetrics
}

// RecordRequest records a completed request by status class.
func (m *Metrics) RecordRequest(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestsTotal++
	switch {
	case status >= 500:
		m.requestErrors5xx++
	case status >= 400:
		m.requestErrors4xx++
	}
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitedTotal++
}

// RecordAdminAuthFailure records a failed admin login attempt.
func (m *Metrics) RecordAdminAuthFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adminAuthFailures++
}

// Snapshot returns a copy of the counters for the stats endpoint.
func (m *Metrics) Snapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int64{
		"requests_total":      m.requestsTotal,
		"request_errors_4xx":  m.requestErrors4xx,
		"request_errors_5xx":  m.requestErrors5xx,
		"rate_limited_total":  m.rateLimitedTotal,
		"admin_auth_failures": m.adminAuthFailures,
		"uptime_seconds":      int64(time.Since(m.startedAt).Seconds()),
	}
}
