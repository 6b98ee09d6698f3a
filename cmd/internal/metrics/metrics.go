// Package metrics exposes warden's Prometheus counters.
//
// A nil *Metrics is valid and records nothing, so services can be built
// without a registry in tests and CLIs.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the auth counters.
type Metrics struct {
	gatherer prometheus.Gatherer

	login          *prometheus.CounterVec
	rotations      *prometheus.CounterVec
	reuseDetected  prometheus.Counter
	lockouts       prometheus.Counter
	resetConsume   *prometheus.CounterVec
	anonymized     prometheus.Counter
	sweepFailures  prometheus.Counter
	rateLimitDrops *prometheus.CounterVec
}

// New creates the counters and registers them on reg. A nil reg uses a fresh
// private registry.
func New(reg *prometheus.Registry) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		gatherer: reg,
		login: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_login_total",
			Help: "Login attempts by outcome",
		}, []string{"outcome"}), // ok|invalid_credentials|account_*|error
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_refresh_rotations_total",
			Help: "Refresh rotations by outcome",
		}, []string{"outcome"}), // ok|invalid|expired|reused|account_*|error
		reuseDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_refresh_reuse_detected_total",
			Help: "Retired refresh secrets presented again",
		}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_lockouts_total",
			Help: "Accounts locked by the failed-login policy",
		}),
		resetConsume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_reset_consume_total",
			Help: "Reset token consumption by outcome",
		}, []string{"outcome"}), // ok|invalid|used|expired|error
		anonymized: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_anonymized_total",
			Help: "Principals anonymized by the retention sweep",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_sweep_failures_total",
			Help: "Retention sweep runs that returned an error",
		}),
		rateLimitDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"route"}),
	}

	for _, c := range []prometheus.Collector{
		m.login, m.rotations, m.reuseDetected, m.lockouts,
		m.resetConsume, m.anonymized, m.sweepFailures, m.rateLimitDrops,
	} {
		if err := register(reg, c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func register(reg prometheus.Registerer, c prometheus.Collector) error {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.login.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Rotation(outcome string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReuseDetected() {
	if m == nil {
		return
	}
	m.reuseDetected.Inc()
}

func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

func (m *Metrics) ResetConsume(outcome string) {
	if m == nil {
		return
	}
	m.resetConsume.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Anonymized(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.anonymized.Add(float64(n))
}

func (m *Metrics) SweepFailed() {
	if m == nil {
		return
	}
	m.sweepFailures.Inc()
}

func (m *Metrics) RateLimited(route string) {
	if m == nil {
		return
	}
	m.rateLimitDrops.WithLabelValues(route).Inc()
}
