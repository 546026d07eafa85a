package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the mediator.
type Metrics struct {
	PipelineRuns     *prometheus.CounterVec
	TokenExchanges   *prometheus.CounterVec
	QueuePublishes   *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		PipelineRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mpi_mediator_pipeline_runs_total",
			Help: "Matching pipeline executions by entry point and outcome",
		}, []string{"entry", "outcome"}),
		TokenExchanges: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mpi_mediator_token_exchanges_total",
			Help: "OAuth2 token exchanges by upstream and grant type",
		}, []string{"upstream", "grant"}),
		QueuePublishes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "mpi_mediator_queue_publishes_total",
			Help: "Event queue publishes by topic and outcome",
		}, []string{"topic", "outcome"}),
		UpstreamDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mpi_mediator_upstream_request_seconds",
			Help:    "Upstream HTTP request duration by upstream and operation",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream", "operation"}),
	}
}

// ObservePipelineRun records one pipeline execution.
func (m *Metrics) ObservePipelineRun(entry, outcome string) {
	m.PipelineRuns.WithLabelValues(entry, outcome).Inc()
}

// ObserveTokenExchange records one token exchange against an upstream.
func (m *Metrics) ObserveTokenExchange(upstream, grant string) {
	m.TokenExchanges.WithLabelValues(upstream, grant).Inc()
}

// ObserveQueuePublish records one publish attempt.
func (m *Metrics) ObserveQueuePublish(topic, outcome string) {
	m.QueuePublishes.WithLabelValues(topic, outcome).Inc()
}

// ObserveUpstreamRequest records the duration of one upstream call.
func (m *Metrics) ObserveUpstreamRequest(upstream, operation string, d time.Duration) {
	m.UpstreamDuration.WithLabelValues(upstream, operation).Observe(d.Seconds())
}
