package metrics

import (
	"time"

	"imgbatch/internal/transformer"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "imgbatch"

type Options struct {
	Labels prometheus.Labels
}

func copyLabels(p prometheus.Labels) prometheus.Labels {
	x := prometheus.Labels{}
	for k, v := range p {
		x[k] = v
	}

	return x
}

// Collector exposes batch progress as Prometheus metrics.
type Collector struct {
	totalItems          *prometheus.CounterVec
	currentItems        prometheus.Gauge
	itemDurationSeconds prometheus.Histogram

	totalRuns          prometheus.Counter
	runDurationSeconds prometheus.Histogram

	totalBytesRead    prometheus.Counter
	totalBytesWritten prometheus.Counter
}

func New(o Options) *Collector {
	bytesRead := copyLabels(o.Labels)
	bytesWritten := copyLabels(o.Labels)

	bytesRead["direction"] = "read"
	bytesWritten["direction"] = "written"

	return &Collector{
		totalItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "total_items",
			Help:        "The total number of processed items by final status",
			ConstLabels: copyLabels(o.Labels),
		}, []string{"status"}),
		currentItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "current_items",
			Help:        "The number of items being transformed right now",
			ConstLabels: copyLabels(o.Labels),
		}),
		itemDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "item_duration_seconds",
			Help:        "The seconds spent transforming a single item",
			ConstLabels: copyLabels(o.Labels),
		}),
		totalRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "total_runs",
			Help:        "The total number of batch runs",
			ConstLabels: copyLabels(o.Labels),
		}),
		runDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "run_duration_seconds",
			Help:        "The seconds spent on a whole batch run",
			ConstLabels: copyLabels(o.Labels),
			Buckets:     prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		totalBytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "total_bytes",
			Help:        "The total number of image bytes",
			ConstLabels: bytesRead,
		}),
		totalBytesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "total_bytes",
			Help:        "The total number of image bytes",
			ConstLabels: bytesWritten,
		}),
	}
}

func (m *Collector) Register(r prometheus.Registerer) {
	r.MustRegister(
		m.totalItems,
		m.currentItems,
		m.itemDurationSeconds,

		m.totalRuns,
		m.runDurationSeconds,

		m.totalBytesRead,
		m.totalBytesWritten,
	)
}

// StartItem marks an item as in flight. The returned func records its outcome.
func (m *Collector) StartItem() func(out transformer.Outcome) {
	start := time.Now()
	m.currentItems.Inc()

	return func(out transformer.Outcome) {
		m.currentItems.Dec()
		m.itemDurationSeconds.Observe(float64(time.Since(start)/time.Millisecond) / 1000)
		m.totalItems.WithLabelValues(out.Status.String()).Inc()

		if out.Succeeded() {
			m.totalBytesRead.Add(float64(out.InputSize))
			m.totalBytesWritten.Add(float64(out.OutputSize))
		}
	}
}

// StartRun marks the start of a batch run. The returned func records its duration.
func (m *Collector) StartRun() func() {
	start := time.Now()
	m.totalRuns.Inc()

	return func() {
		m.runDurationSeconds.Observe(float64(time.Since(start)/time.Millisecond) / 1000)
	}
}
