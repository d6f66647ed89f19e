package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	ProviderRequests  *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	PollOutcomes      *prometheus.CounterVec
	PollAttempts      *prometheus.HistogramVec
	ActivePolls       prometheus.Gauge
	WebhookDeliveries *prometheus.CounterVec
	InboundWebhooks   *prometheus.CounterVec
	LimitRejections   *prometheus.CounterVec
	Errors            *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_requests_total",
				Help:      "Total third-party API requests by provider, endpoint and status.",
			}, []string{"provider", "endpoint", "status"}),
			ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_request_duration_seconds",
				Help:      "Latency distribution for third-party API requests.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"provider", "endpoint"}),
			PollOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_polls_total",
				Help:      "Finished job polls grouped by job kind and terminal state.",
			}, []string{"kind", "state"}),
			PollAttempts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_poll_attempts",
				Help:      "Number of status requests issued per finished poll.",
				Buckets:   []float64{1, 2, 5, 10, 20, 50, 100, 250},
			}, []string{"kind"}),
			ActivePolls: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "job_polls_active",
				Help:      "Polls currently in flight.",
			}),
			WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "automation_deliveries_total",
				Help:      "Outbound automation deliveries by outcome.",
			}, []string{"event", "outcome"}),
			InboundWebhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_webhooks_total",
				Help:      "Inbound webhook calls by HTTP status.",
			}, []string{"status"}),
			LimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "plan_limit_rejections_total",
				Help:      "Actions refused because the plan limit was reached.",
			}, []string{"resource"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.ProviderRequests,
			metricsInstance.ProviderLatency,
			metricsInstance.PollOutcomes,
			metricsInstance.PollAttempts,
			metricsInstance.ActivePolls,
			metricsInstance.WebhookDeliveries,
			metricsInstance.InboundWebhooks,
			metricsInstance.LimitRejections,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}

// ObserveProvider records one third-party request. Safe on a nil receiver.
func (m *Metrics) ObserveProvider(provider, endpoint, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.ProviderRequests.WithLabelValues(provider, endpoint, status).Inc()
	m.ProviderLatency.WithLabelValues(provider, endpoint).Observe(elapsed.Seconds())
}

// ObservePoll records a finished poll.
func (m *Metrics) ObservePoll(kind, state string, attempts int) {
	if m == nil {
		return
	}
	m.PollOutcomes.WithLabelValues(kind, state).Inc()
	m.PollAttempts.WithLabelValues(kind).Observe(float64(attempts))
}

// PollStarted and PollFinished track the active poll gauge.
func (m *Metrics) PollStarted() {
	if m == nil {
		return
	}
	m.ActivePolls.Inc()
}

func (m *Metrics) PollFinished() {
	if m == nil {
		return
	}
	m.ActivePolls.Dec()
}

// Delivery records an outbound automation attempt.
func (m *Metrics) Delivery(event, outcome string) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(event, outcome).Inc()
}

// Inbound records an inbound webhook response status.
func (m *Metrics) Inbound(status string) {
	if m == nil {
		return
	}
	m.InboundWebhooks.WithLabelValues(status).Inc()
}

// LimitRejected counts a plan gate refusal.
func (m *Metrics) LimitRejected(resource string) {
	if m == nil {
		return
	}
	m.LimitRejections.WithLabelValues(resource).Inc()
}

// Error counts an error attributed to component.
func (m *Metrics) Error(component string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(component).Inc()
}
