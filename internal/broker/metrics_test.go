package broker

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRefreshMetricsCountsSubscribers(t *testing.T) {
	b := NewBuilder()
	topic := RegisterReadWrite[int](b, "/v1/test/counter", nil)
	reg := prometheus.NewRegistry()
	sealed := b.Seal(reg)

	ch := make(chan int, 1)
	handle := topic.SubscribeNative(ch)
	defer handle.Unsubscribe()

	sealed.RefreshMetrics()
	assert.Equal(t, float64(1), gaugeValue(t, sealed.subscriberGauge))
}

func TestRefreshMetricsAccumulatesDroppedCount(t *testing.T) {
	b := NewBuilder()
	topic := RegisterReadWrite[int](b, "/v1/test/counter", nil)
	reg := prometheus.NewRegistry()
	sealed := b.Seal(reg)

	before := counterValue(t, sealed.droppedCounter)

	ch := make(chan int) // unbuffered, drops on first Set
	topic.SubscribeNative(ch)
	topic.Set(1)

	sealed.RefreshMetrics()
	assert.Equal(t, before+1, counterValue(t, sealed.droppedCounter))

	// A second refresh with no new drops must not double-count.
	sealed.RefreshMetrics()
	assert.Equal(t, before+1, counterValue(t, sealed.droppedCounter))
}
