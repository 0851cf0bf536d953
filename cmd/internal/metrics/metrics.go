// Package metrics exposes vecavg protocol counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vecavg/cmd/internal/session"
)

const namespace = "vecavg"

// Collector implements session.Observer on top of Prometheus collectors.
type Collector struct {
	handshakes *prometheus.CounterVec
	sessions   *prometheus.CounterVec
	vectors    prometheus.Counter
	elements   prometheus.Counter
	overflows  prometheus.Counter
	duration   prometheus.Histogram
}

var _ session.Observer = (*Collector)(nil)

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Collector {
	c := &Collector{
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Authentication handshakes by result.",
		}, []string{"result"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Closed sessions by outcome.",
		}, []string{"outcome"}),
		vectors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vectors_total",
			Help:      "Vectors averaged.",
		}),
		elements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_elements_total",
			Help:      "int64 elements received across all vectors.",
		}),
		overflows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "overflows_total",
			Help:      "Vectors answered with the overflow sentinel.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time from accept to close.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(c.handshakes, c.sessions, c.vectors, c.elements, c.overflows, c.duration)
	}
	return c
}

func (c *Collector) HandshakeDone(result string) {
	c.handshakes.WithLabelValues(result).Inc()
}

func (c *Collector) VectorDone(size uint32, overflow bool) {
	c.vectors.Inc()
	c.elements.Add(float64(size))
	if overflow {
		c.overflows.Inc()
	}
}

func (c *Collector) SessionDone(outcome string, d time.Duration) {
	c.sessions.WithLabelValues(outcome).Inc()
	c.duration.Observe(d.Seconds())
}

// NewRegistry returns a registry preloaded with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
