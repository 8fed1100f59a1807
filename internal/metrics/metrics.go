package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedupdrive_uploads_total",
		Help: "Accepted uploads, split by whether the bytes were already stored.",
	}, []string{"deduplicated"})
	uploadedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedupdrive_uploaded_bytes_total",
		Help: "Original bytes of accepted uploads.",
	})
	deletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedupdrive_deletes_total",
		Help: "Deleted file entries.",
	})
	reclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedupdrive_contents_reclaimed_total",
		Help: "Contents whose last reference was deleted and whose bytes were removed.",
	})
	downloadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedupdrive_downloads_total",
		Help: "Completed downloads by access path.",
	}, []string{"access"})
	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedupdrive_conflicts_total",
		Help: "Mutations rejected because the entry changed concurrently.",
	}, []string{"operation"})
	authFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dedupdrive_auth_failures_total",
		Help: "Requests rejected at the bearer token check.",
	}, []string{"reason"})
	rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedupdrive_rate_limited_total",
		Help: "Authenticated requests rejected for exceeding the per-user rate.",
	})
	leakedReferencesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dedupdrive_leaked_references_total",
		Help: "Deleted entries whose content reference could not be released.",
	})
)

// InitMetrics registers the HTTP request collectors. Safe to call more than
// once.
func InitMetrics() {
	initOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dedupdrive_http_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"})
		httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dedupdrive_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"})

		prometheus.MustRegister(httpRequestsTotal, httpRequestDuration)
	})
}

// Middleware records request counts and latency per matched route.
func Middleware() gin.HandlerFunc {
	InitMetrics()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Register attaches the Prometheus metrics endpoint to the router.
func Register(router *gin.Engine, path string) {
	router.GET(path, gin.WrapH(promhttp.Handler()))
}

func RecordUpload(size int64, deduplicated bool) {
	uploadsTotal.WithLabelValues(strconv.FormatBool(deduplicated)).Inc()
	uploadedBytesTotal.Add(float64(size))
}

func RecordDelete(reclaimed bool) {
	deletesTotal.Inc()
	if reclaimed {
		reclaimedTotal.Inc()
	}
}

// RecordDownload counts a completed transfer; access is "owner" or "public".
func RecordDownload(access string) {
	downloadsTotal.WithLabelValues(access).Inc()
}

func RecordConflict(operation string) {
	conflictsTotal.WithLabelValues(operation).Inc()
}

func RecordAuthFailure(reason string) {
	authFailuresTotal.WithLabelValues(reason).Inc()
}

func RecordRateLimited() {
	rateLimitedTotal.Inc()
}

// RecordLeakedReference counts a reference left behind by a delete. Each
// one keeps its content from being reclaimed until reconciled.
func RecordLeakedReference() {
	leakedReferencesTotal.Inc()
}
