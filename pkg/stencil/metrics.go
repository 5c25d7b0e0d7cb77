package stencil

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's Prometheus collectors.
//
// Pass an instance registry (prometheus.NewRegistry()) rather than the
// default registerer so that engines can be created and discarded freely.
type Metrics struct {
	RendersTotal   prometheus.Counter
	RenderErrors   *prometheus.CounterVec
	RenderDuration prometheus.Histogram
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)
	return &Metrics{
		RendersTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "stencil_renders_total",
			Help: "Total number of template renders",
		}),
		RenderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stencil_render_errors_total",
			Help: "Recorded template errors by severity",
		}, []string{"severity"}),
		RenderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stencil_render_duration_seconds",
			Help:    "Template render duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "stencil_template_cache_hits_total",
			Help: "Parsed template cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "stencil_template_cache_misses_total",
			Help: "Parsed template cache misses",
		}),
	}
}

// observeRender records one finished render. A nil receiver is a no-op.
func (m *Metrics) observeRender(start time.Time, errs ErrorList) {
	if m == nil {
		return
	}
	m.RendersTotal.Inc()
	m.RenderDuration.Observe(time.Since(start).Seconds())
	for _, e := range errs {
		m.RenderErrors.WithLabelValues(e.Severity.String()).Inc()
	}
}

func (m *Metrics) cacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) cacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}
