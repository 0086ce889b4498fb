// Package metrics owns the gateway's Prometheus collectors.
//
// All methods are safe on a nil *Metrics, which is how callers run with
// metrics disabled.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arc4de"

// Metrics is a private registry plus the collectors the services update.
type Metrics struct {
	reg *prometheus.Registry

	wsConnections   prometheus.Gauge
	wsAuthFailures  *prometheus.CounterVec
	ptyBytes        *prometheus.CounterVec
	loginAttempts   *prometheus.CounterVec
	tokenRefreshes  *prometheus.CounterVec
	sessionsCreated prometheus.Counter
	sessionsKilled  *prometheus.CounterVec
	sweeps          *prometheus.CounterVec
	previewTunnels  *prometheus.CounterVec
}

// New registers every collector on a fresh registry, with Go and process
// collectors included.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ws", Name: "connections",
			Help: "Terminal connections currently open.",
		}),
		wsAuthFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ws", Name: "auth_failures_total",
			Help: "Terminal handshakes rejected, by close reason.",
		}, []string{"reason"}),
		ptyBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pty", Name: "bytes_total",
			Help: "Bytes relayed between connections and pseudo-terminals.",
		}, []string{"direction"}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "login_attempts_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "refreshes_total",
			Help: "Refresh-token rotations by result.",
		}, []string{"result"}),
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "created_total",
			Help: "Terminal sessions created.",
		}),
		sessionsKilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "killed_total",
			Help: "Terminal sessions killed, by cause.",
		}, []string{"cause"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "sessions", Name: "sweeps_total",
			Help: "Expiry sweeps by result.",
		}, []string{"result"}),
		previewTunnels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tunnel", Name: "previews_total",
			Help: "Preview tunnel start attempts by result.",
		}, []string{"result"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.wsConnections, m.wsAuthFailures, m.ptyBytes,
		m.loginAttempts, m.tokenRefreshes,
		m.sessionsCreated, m.sessionsKilled, m.sweeps,
		m.previewTunnels,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.wsConnections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.wsConnections.Dec()
	}
}

func (m *Metrics) AuthFailed(reason string) {
	if m != nil {
		m.wsAuthFailures.WithLabelValues(reason).Inc()
	}
}

// PtyBytes counts relayed bytes; direction is "in" (to the pty) or "out".
func (m *Metrics) PtyBytes(direction string, n int) {
	if m != nil && n > 0 {
		m.ptyBytes.WithLabelValues(direction).Add(float64(n))
	}
}

func (m *Metrics) Login(result string) {
	if m != nil {
		m.loginAttempts.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Refresh(result string) {
	if m != nil {
		m.tokenRefreshes.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) SessionCreated() {
	if m != nil {
		m.sessionsCreated.Inc()
	}
}

// SessionKilled records a kill; cause is "request" or "expired".
func (m *Metrics) SessionKilled(cause string) {
	if m != nil {
		m.sessionsKilled.WithLabelValues(cause).Inc()
	}
}

func (m *Metrics) Sweep(result string) {
	if m != nil {
		m.sweeps.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Preview(result string) {
	if m != nil {
		m.previewTunnels.WithLabelValues(result).Inc()
	}
}
