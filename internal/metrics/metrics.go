package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's collectors on a private registry so several
// instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	AlertsCreated      prometheus.Counter
	AlertResponses     prometheus.Counter
	EnrichmentFailures *prometheus.CounterVec
	BroadcastDropped   prometheus.Counter
	ConnectedObservers prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		AlertsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "alerts_created_total",
			Help: "Emergency alerts accepted and stored",
		}),
		AlertResponses: f.NewCounter(prometheus.CounterOpts{
			Name: "alert_responses_total",
			Help: "Responses recorded against alerts",
		}),
		EnrichmentFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "enrichment_failures_total",
			Help: "Medical profile lookups that degraded to no snapshot",
		}, []string{"reason"}),
		BroadcastDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "broadcast_dropped_total",
			Help: "Events dropped because an observer's buffer was full",
		}),
		ConnectedObservers: f.NewGauge(prometheus.GaugeOpts{
			Name: "connected_observers",
			Help: "Dashboard sessions currently receiving events",
		}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
