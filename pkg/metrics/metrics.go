package metrics

import (
	"net/http"

	"github.com/openvacs/vacs/internal/common/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes counters and gauges for the signaling plane. Each server
// owns its own registry so tests can construct isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	sessionsActive prometheus.Gauge
	loginsTotal    *prometheus.CounterVec
	relaysTotal    *prometheus.CounterVec
	evictionsTotal prometheus.Counter
}

// New builds a Metrics instance with the configured namespace.
func New(cfg config.MetricsConfig) *Metrics {
	ns := cfg.Namespace
	r := prometheus.NewRegistry()
	r.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	r.MustRegister(collectors.NewGoCollector())

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: "sessions_active"})
	loginsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "logins_total"}, []string{"result"})
	relaysTotal := prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: "relays_total"}, []string{"result"})
	evictionsTotal := prometheus.NewCounter(prometheus.CounterOpts{Namespace: ns, Name: "evictions_total"})
	r.MustRegister(sessionsActive, loginsTotal, relaysTotal, evictionsTotal)

	return &Metrics{
		registry:       r,
		sessionsActive: sessionsActive,
		loginsTotal:    loginsTotal,
		relaysTotal:    relaysTotal,
		evictionsTotal: evictionsTotal,
	}
}

func (m *Metrics) SessionOpened() { m.sessionsActive.Inc() }
func (m *Metrics) SessionClosed() { m.sessionsActive.Dec() }

func (m *Metrics) LoginDone(result string) {
	m.loginsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RelayDone(result string) {
	m.relaysTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SessionEvicted() { m.evictionsTotal.Inc() }

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
