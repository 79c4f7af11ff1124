// Package metric holds the prometheus instruments of the redistribution layer
package metric

import (
	"errors"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "dgflow"

// Metrics contains the redistribution instruments, labelled by component
// instance and strategy
type Metrics struct {
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	TransitMessages  *prometheus.CounterVec
	BytesSent        *prometheus.CounterVec
	BytesReceived    *prometheus.CounterVec
	MergeFailures    *prometheus.CounterVec
	ProcessDuration  *prometheus.HistogramVec
}

// New creates the instruments; they record nothing until registered
func New() *Metrics {
	labels := []string{"component", "strategy"}
	return &Metrics{
		MessagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "redist",
				Name:      "messages_sent_total",
				Help:      "Messages sent to destination ranks, empty P2P messages included",
			},
			labels,
		),
		MessagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "redist",
				Name:      "messages_received_total",
				Help:      "Messages received from source ranks",
			},
			labels,
		),
		TransitMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "redist",
				Name:      "transit_total",
				Help:      "Chunks kept by a rank that is both source and destination",
			},
			labels,
		),
		BytesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "redist",
				Name:      "bytes_sent_total",
				Help:      "Serialized bytes sent",
			},
			labels,
		),
		BytesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "redist",
				Name:      "bytes_received_total",
				Help:      "Serialized bytes received",
			},
			labels,
		),
		MergeFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "redist",
				Name:      "merge_failures_total",
				Help:      "Received containers that could not be merged",
			},
			labels,
		),
		ProcessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "redist",
				Name:      "process_duration_seconds",
				Help:      "Duration of one redistribution step",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"component", "strategy", "role"},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.MessagesSent, m.MessagesReceived, m.TransitMessages,
		m.BytesSent, m.BytesReceived, m.MergeFailures, m.ProcessDuration,
	}
}

// Register adds every instrument to reg. Instruments already registered by
// another Metrics of the same shape are adopted.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	var result *multierror.Error
	for _, c := range m.collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				m.adopt(are.ExistingCollector)
				continue
			}
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m *Metrics) adopt(existing prometheus.Collector) {
	switch v := existing.(type) {
	case *prometheus.HistogramVec:
		m.ProcessDuration = v
	case *prometheus.CounterVec:
		for _, slot := range []**prometheus.CounterVec{
			&m.MessagesSent, &m.MessagesReceived, &m.TransitMessages,
			&m.BytesSent, &m.BytesReceived, &m.MergeFailures,
		} {
			if sameDesc(*slot, v) {
				*slot = v
				return
			}
		}
	}
}

func sameDesc(a, b prometheus.Collector) bool {
	da, db := make(chan *prometheus.Desc, 1), make(chan *prometheus.Desc, 1)
	a.Describe(da)
	b.Describe(db)
	return (<-da).String() == (<-db).String()
}

// Recorder is the view of Metrics bound to one component. A nil Recorder
// records nothing.
type Recorder struct {
	component string
	strategy  string
	m         *Metrics
}

// For binds the instruments to a component instance
func (m *Metrics) For(component, strategy string) *Recorder {
	if m == nil {
		return nil
	}
	return &Recorder{component: component, strategy: strategy, m: m}
}

// Sent records one message of n bytes
func (r *Recorder) Sent(n int) {
	if r == nil {
		return
	}
	r.m.MessagesSent.WithLabelValues(r.component, r.strategy).Inc()
	r.m.BytesSent.WithLabelValues(r.component, r.strategy).Add(float64(n))
}

// Received records one message of n bytes
func (r *Recorder) Received(n int) {
	if r == nil {
		return
	}
	r.m.MessagesReceived.WithLabelValues(r.component, r.strategy).Inc()
	r.m.BytesReceived.WithLabelValues(r.component, r.strategy).Add(float64(n))
}

// Transit records one chunk delivered to self
func (r *Recorder) Transit() {
	if r == nil {
		return
	}
	r.m.TransitMessages.WithLabelValues(r.component, r.strategy).Inc()
}

// MergeFailed records one rejected container
func (r *Recorder) MergeFailed() {
	if r == nil {
		return
	}
	r.m.MergeFailures.WithLabelValues(r.component, r.strategy).Inc()
}

// Observe records the duration of one step since start
func (r *Recorder) Observe(role string, start time.Time) {
	if r == nil {
		return
	}
	r.m.ProcessDuration.WithLabelValues(r.component, r.strategy, role).Observe(time.Since(start).Seconds())
}
