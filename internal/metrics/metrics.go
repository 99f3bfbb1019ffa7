package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels for workflow outcomes.
const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	httpRequests = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kitchenops",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	workflows = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kitchenops",
		Name:      "stock_workflows_total",
		Help:      "Stock-mutating workflows by outcome.",
	}, []string{"workflow", "result"})

	movements = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kitchenops",
		Name:      "inventory_movements_total",
		Help:      "Committed inventory transaction rows by type.",
	}, []string{"type"})

	cacheLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kitchenops",
		Name:      "stock_cache_lookups_total",
		Help:      "Stock cache lookups by outcome.",
	}, []string{"outcome"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func ObserveRequest(method string, route string, status int, elapsed time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func ObserveWorkflow(workflow string, result string) {
	workflows.WithLabelValues(workflow, result).Inc()
}

func AddMovements(movementType string, n int) {
	movements.WithLabelValues(movementType).Add(float64(n))
}

func ObserveCache(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}
