package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics stores Prometheus collectors used across the service.
type Metrics struct {
	ChatTurns     *prometheus.CounterVec
	Payments      *prometheus.CounterVec
	StoreRetries  prometheus.Counter
	ToolRequests  *prometheus.CounterVec
	ToolLatency   *prometheus.HistogramVec
	ChatRequests  *prometheus.CounterVec
	ChatLatency   *prometheus.HistogramVec
	DocumentScans *prometheus.CounterVec
	Errors        *prometheus.CounterVec
}

var (
	regOnce         sync.Once
	metricsInstance *Metrics
)

// Registry builds and registers the metrics singleton with optional namespace.
func Registry(namespace string) *Metrics {
	regOnce.Do(func() {
		metricsInstance = &Metrics{
			ChatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chat_turns_total",
				Help:      "Total conversational turns handled, by resolved intent.",
			}, []string{"intent"}),
			Payments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "payments_total",
				Help:      "Total payment executions by outcome.",
			}, []string{"outcome"}),
			StoreRetries: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_retries_total",
				Help:      "Total store operations retried after lock contention.",
			}),
			ToolRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_requests_total",
				Help:      "Total remote tool backend calls by method and status.",
			}, []string{"method", "status"}),
			ToolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_request_duration_seconds",
				Help:      "Latency distribution for remote tool backend calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
			ChatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "llm_requests_total",
				Help:      "Total chat-completion requests by outcome.",
			}, []string{"status"}),
			ChatLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "llm_request_duration_seconds",
				Help:      "Latency distribution for chat-completion calls.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"status"}),
			DocumentScans: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "document_scans_total",
				Help:      "Total document extractions by outcome.",
			}, []string{"status"}),
			Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total errors grouped by component.",
			}, []string{"component"}),
		}

		prometheus.MustRegister(
			metricsInstance.ChatTurns,
			metricsInstance.Payments,
			metricsInstance.StoreRetries,
			metricsInstance.ToolRequests,
			metricsInstance.ToolLatency,
			metricsInstance.ChatRequests,
			metricsInstance.ChatLatency,
			metricsInstance.DocumentScans,
			metricsInstance.Errors,
		)
	})
	return metricsInstance
}
