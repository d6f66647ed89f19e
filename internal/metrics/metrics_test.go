package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRegistryIsSingleton(t *testing.T) {
	a := Registry("test")
	b := Registry("other")
	assert.Same(t, a, b)
}

func TestHelpersRecord(t *testing.T) {
	m := Registry("test")

	m.ObserveProvider("heygen", "/v2/video/generate", "200", 10*time.Millisecond)
	m.ObservePoll("video", "succeeded", 3)
	m.Delivery("video.completed", "delivered")
	m.LimitRejected("avatars")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderRequests.WithLabelValues("heygen", "/v2/video/generate", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PollOutcomes.WithLabelValues("video", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookDeliveries.WithLabelValues("video.completed", "delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LimitRejections.WithLabelValues("avatars")))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveProvider("x", "y", "z", time.Second)
		m.ObservePoll("video", "failed", 1)
		m.PollStarted()
		m.PollFinished()
		m.Delivery("e", "o")
		m.Inbound("200")
		m.LimitRejected("r")
		m.Error("c")
	})
}
