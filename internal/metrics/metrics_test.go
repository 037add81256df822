package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Subscribers.Set(2)
	m.MessagesConsumed.WithLabelValues("acked").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(m.Subscribers))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MessagesConsumed.WithLabelValues("acked")))

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["orderevents_fanout_subscribers"])
	assert.True(t, names["orderevents_consumer_messages_total"])
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestNoop_IsIndependent(t *testing.T) {
	assert.NotPanics(t, func() {
		Noop()
		Noop()
	})
}
