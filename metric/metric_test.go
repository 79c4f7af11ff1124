package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New()
	require.NoError(t, m.Register(reg))

	r := m.For("c1", "count")
	r.Sent(100)
	r.Sent(20)
	r.Received(7)
	r.Transit()
	r.MergeFailed()
	r.Observe("source", time.Now())

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesSent.WithLabelValues("c1", "count")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.BytesSent.WithLabelValues("c1", "count")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues("c1", "count")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.BytesReceived.WithLabelValues("c1", "count")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitMessages.WithLabelValues("c1", "count")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MergeFailures.WithLabelValues("c1", "count")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.ProcessDuration))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, mf := range families {
		names = append(names, mf.GetName())
	}
	assert.Contains(t, names, "dgflow_redist_messages_sent_total")
	assert.Contains(t, names, "dgflow_redist_process_duration_seconds")
}

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, second := New(), New()
	require.NoError(t, first.Register(reg))
	require.NoError(t, second.Register(reg))

	// The second set writes into the instruments of the first
	second.For("c2", "round").Sent(1)
	assert.Equal(t, 1.0, testutil.ToFloat64(first.MessagesSent.WithLabelValues("c2", "round")))
	assert.Equal(t, 0.0, testutil.ToFloat64(first.BytesReceived.WithLabelValues("c2", "round")))
}

func TestNilRecorder(t *testing.T) {
	var m *Metrics
	r := m.For("c", "proc")
	assert.Nil(t, r)
	assert.NotPanics(t, func() {
		r.Sent(1)
		r.Received(1)
		r.Transit()
		r.MergeFailed()
		r.Observe("dest", time.Now())
	})
}
