package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
)

var (
    // Registry is the dedicated Prometheus registry for the engine
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts management API requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // WebhookDeliveries counts finalized deliveries by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
    // WebhookLatency tracks end-to-end delivery latencies in milliseconds
    WebhookLatency = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 15000}},
        []string{"event_type", "status"},
    )
    // WebhookAttempts tracks attempts used per finalized delivery
    WebhookAttempts = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "webhook_delivery_attempts", Help: "Attempts per finalized delivery.", Buckets: []float64{1, 2, 3, 5, 8, 10}},
        []string{"event_type", "status"},
    )
    // BreakerTransitions counts circuit breaker state changes by resulting state
    BreakerTransitions = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_breaker_transitions_total", Help: "Circuit breaker transitions by resulting state."},
        []string{"to"},
    )
)

// RegisterDefault registers collectors to the engine registry.
func RegisterDefault() {
    regOnce.Do(func() {
        Registry.MustRegister(HTTPRequests)
        Registry.MustRegister(HTTPDuration)
        Registry.MustRegister(WebhookDeliveries)
        Registry.MustRegister(WebhookLatency)
        Registry.MustRegister(WebhookAttempts)
        Registry.MustRegister(BreakerTransitions)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once
