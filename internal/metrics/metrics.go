// Package metrics exposes tunnel session metrics to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/webquiz/quiztunnel/internal/domain"
)

const metricsNamespace = "quiztunnel"

var allStates = []domain.State{
	domain.StateIdle,
	domain.StateConnecting,
	domain.StateConnected,
	domain.StateDisconnecting,
	domain.StateReconnectWaiting,
	domain.StateFailed,
}

// Collector is a prometheus.Collector fed from status events.
type Collector struct {
	state        *prometheus.GaugeVec
	transitions  *prometheus.CounterVec
	retryAttempt prometheus.Gauge
	subscribers  prometheus.GaugeFunc
}

// NewCollector returns a Collector. subscribers reports the current number
// of status observers; it may be nil.
func NewCollector(subscribers func() int) *Collector {
	if subscribers == nil {
		subscribers = func() int { return 0 }
	}
	c := &Collector{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "tunnel",
				Name:      "state",
				Help:      "1 for the current tunnel session state, 0 for the others.",
			}, []string{"state"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "tunnel",
				Name:      "transitions_total",
				Help:      "The number of transitions into each tunnel state.",
			}, []string{"state"},
		),
		retryAttempt: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "tunnel",
				Name:      "retry_attempt",
				Help:      "Consecutive failed connect attempts of the current session.",
			},
		),
		subscribers: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "status",
				Name:      "subscribers",
				Help:      "The number of registered status observers.",
			},
			func() float64 { return float64(subscribers()) },
		),
	}
	c.setState(domain.StateIdle)
	return c
}

// Observe records one status event.
func (c *Collector) Observe(ev domain.StatusEvent) {
	c.setState(ev.State)
	c.transitions.WithLabelValues(string(ev.State)).Inc()
	c.retryAttempt.Set(float64(ev.RetryAttempt))
}

func (c *Collector) setState(current domain.State) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		c.state.WithLabelValues(string(s)).Set(v)
	}
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.state.Describe(ch)
	c.transitions.Describe(ch)
	c.retryAttempt.Describe(ch)
	c.subscribers.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.state.Collect(ch)
	c.transitions.Collect(ch)
	c.retryAttempt.Collect(ch)
	c.subscribers.Collect(ch)
}

// NewRegistry returns a registry with the Go and process collectors and the
// given collectors registered.
func NewRegistry(collectors ...prometheus.Collector) (*prometheus.Registry, error) {
	r := prometheus.NewRegistry()
	all := append([]prometheus.Collector{
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	}, collectors...)
	for _, col := range all {
		if err := r.Register(col); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(r *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(r, promhttp.HandlerOpts{})
}
