package broker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsHandler returns the Prometheus text-exposition handler to mount
// at /v1/metrics, for the global prometheus.DefaultRegisterer Seal is
// typically called with.
func NewMetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RefreshMetrics recomputes the subscriber gauge and dropped-subscriber
// counter from current runtime state. cmd/tacd runs it as a once-a-second
// job on its gocron scheduler.
func (s *Sealed) RefreshMetrics() {
	total := 0
	for _, t := range s.topics {
		total += t.SubscriberCount()
	}
	s.subscriberGauge.Set(float64(total))

	dropped := DroppedSubscribers()
	if delta := dropped - s.lastDropped; delta > 0 {
		s.droppedCounter.Add(float64(delta))
	}
	s.lastDropped = dropped
}
