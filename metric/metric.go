// Package metric provides prometheus counters of transform instances.
package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "rowpipe"

// Counter kinds used as a label value.
const (
	// ReadCounter counts rows received from inputs.
	ReadCounter = "read"
	// WrittenCounter counts rows sent to normal outputs.
	WrittenCounter = "written"
	// ProcessedCounter counts successfully processed rows.
	ProcessedCounter = "processed"
	// RejectedCounter counts rows routed to error output.
	RejectedCounter = "rejected"
)

// Metrics holds collectors registered for all pipes.
type Metrics struct {
	rows     *prometheus.CounterVec
	calls    *prometheus.HistogramVec
	statuses *prometheus.CounterVec
}

// New creates collectors and registers them with provided registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_total",
				Help:      "Rows handled by transform instances by counter kind.",
			},
			[]string{"pipeline", "transform", "kind"},
		),
		calls: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "process_duration_seconds",
				Help:      "Duration of a single process call.",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 10, 7),
			},
			[]string{"pipeline", "transform"},
		),
		statuses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instances_total",
				Help:      "Transform instances by terminal status.",
			},
			[]string{"pipeline", "transform", "status"},
		),
	}
	for _, c := range []prometheus.Collector{m.rows, m.calls, m.statuses} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Meter captures counters of a single transform. Nil meter discards all
// measurements.
type Meter struct {
	read      prometheus.Counter
	written   prometheus.Counter
	processed prometheus.Counter
	rejected  prometheus.Counter
	calls     prometheus.Observer
	statuses  *prometheus.CounterVec
	pipeline  string
	transform string
}

// Meter creates new meter for the transform. It's safe to call on nil
// metrics.
func (m *Metrics) Meter(pipeline, transform string) *Meter {
	if m == nil {
		return nil
	}
	return &Meter{
		read:      m.rows.WithLabelValues(pipeline, transform, ReadCounter),
		written:   m.rows.WithLabelValues(pipeline, transform, WrittenCounter),
		processed: m.rows.WithLabelValues(pipeline, transform, ProcessedCounter),
		rejected:  m.rows.WithLabelValues(pipeline, transform, RejectedCounter),
		calls:     m.calls.WithLabelValues(pipeline, transform),
		statuses:  m.statuses,
		pipeline:  pipeline,
		transform: transform,
	}
}

// Read counts a received row.
func (m *Meter) Read() {
	if m != nil {
		m.read.Inc()
	}
}

// Written counts a sent row.
func (m *Meter) Written() {
	if m != nil {
		m.written.Inc()
	}
}

// Processed counts processed rows.
func (m *Meter) Processed(n int) {
	if m != nil {
		m.processed.Add(float64(n))
	}
}

// Rejected counts a row routed to error output.
func (m *Meter) Rejected() {
	if m != nil {
		m.rejected.Inc()
	}
}

// Call captures duration of a process call.
func (m *Meter) Call(d time.Duration) {
	if m != nil {
		m.calls.Observe(d.Seconds())
	}
}

// Done counts the terminal status of the instance.
func (m *Meter) Done(status string) {
	if m != nil {
		m.statuses.WithLabelValues(m.pipeline, m.transform, status).Inc()
	}
}
