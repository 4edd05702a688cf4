package diagnostics

import (
	"context"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts failures and exchange timings on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	Failures         *prometheus.CounterVec
	ExchangeDuration prometheus.Histogram
	SessionsStarted  prometheus.Counter
	SessionsEnded    prometheus.Counter
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "simclient_failures_total",
				Help: "Failed remote operations by operation and kind",
			},
			[]string{"operation", "kind"},
		),
		ExchangeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "simclient_exchange_duration_seconds",
				Help:    "Time from submitting an utterance to the end of its stream",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "simclient_sessions_started_total",
			Help: "Sessions that reached the active state",
		}),
		SessionsEnded: factory.NewCounter(prometheus.CounterOpts{
			Name: "simclient_sessions_ended_total",
			Help: "Sessions ended by the operator",
		}),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Report implements Sink.
func (m *Metrics) Report(_ context.Context, rec Record) {
	m.Failures.WithLabelValues(string(rec.Operation), string(rec.Kind)).Inc()
}

// ObserveExchange records how long one exchange took.
func (m *Metrics) ObserveExchange(d time.Duration) {
	m.ExchangeDuration.Observe(d.Seconds())
}

// Counter is one gathered counter sample.
type Counter struct {
	Name   string
	Labels map[string]string
	Value  float64
}

// Counters gathers every counter sample, sorted by name.
func (m *Metrics) Counters() ([]Counter, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	var out []Counter
	for _, fam := range families {
		for _, metric := range fam.GetMetric() {
			c := metric.GetCounter()
			if c == nil {
				continue
			}
			labels := make(map[string]string, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			out = append(out, Counter{Name: fam.GetName(), Labels: labels, Value: c.GetValue()})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
