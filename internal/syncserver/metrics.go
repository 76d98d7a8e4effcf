package syncserver

import (
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/offlinewallet/pkg/offline"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsResultOK       = "ok"
	metricsResultRejected = "rejected"
	metricsResultError    = "error"
)

// Metrics holds the server's prometheus collectors on a private registry.
type Metrics struct {
	registry        *prometheus.Registry
	syncRequests    *prometheus.CounterVec
	syncEntries     *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	metrics := &Metrics{
		registry: prometheus.NewRegistry(),
		syncRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletsync_sync_requests_total",
				Help: "Total number of batched offline sync requests",
			},
			[]string{"result"},
		),
		syncEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletsync_sync_entries_total",
				Help: "Offline queue entries processed, by outcome",
			},
			[]string{"outcome"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "walletsync_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2, 5},
			},
			[]string{"route", "status"},
		),
	}
	metrics.registry.MustRegister(metrics.syncRequests, metrics.syncEntries, metrics.requestDuration)
	return metrics
}

// Handler serves the registry in the prometheus exposition format.
func (metrics *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{})
}

// Middleware observes request durations per route.
func (metrics *Metrics) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		started := time.Now()
		ctx.Next()
		route := ctx.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.requestDuration.
			WithLabelValues(route, http.StatusText(ctx.Writer.Status())).
			Observe(time.Since(started).Seconds())
	}
}

func (metrics *Metrics) observeSync(response offline.SyncResponse, err error) {
	switch {
	case err != nil:
		metrics.syncRequests.WithLabelValues(metricsResultError).Inc()
		return
	case response.Success:
		metrics.syncRequests.WithLabelValues(metricsResultOK).Inc()
	default:
		metrics.syncRequests.WithLabelValues(metricsResultRejected).Inc()
	}
	metrics.syncEntries.WithLabelValues("synced").Add(float64(len(response.SyncedTransactions)))
	metrics.syncEntries.WithLabelValues("failed").Add(float64(len(response.Failures)))
}
