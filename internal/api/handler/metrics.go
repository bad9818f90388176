package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verihealth/medledger/internal/ledger"
)

var (
	mlRecordEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medledger_record_events_total",
		Help: "Record ledger mutations by event type.",
	}, []string{"event"})

	mlProviderEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medledger_provider_events_total",
		Help: "Authorization registry changes by event type.",
	}, []string{"event"})

	mlAuditEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medledger_audit_entries_total",
		Help: "Explicitly logged access events appended to the audit trail.",
	})

	mlRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	mlRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	mlIntegrityChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medledger_integrity_checks_total",
		Help: "Audit chain integrity checks by result.",
	}, []string{"result"})

	mlWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medledger_webhook_deliveries_total",
		Help: "Webhook notification deliveries by outcome.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware recording per-request
// metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		mlRequestsTotal.WithLabelValues(method, path, status).Inc()
		mlRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler serving the Prometheus endpoint.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordIntegrityCheck records an audit chain verification outcome.
func RecordIntegrityCheck(ok bool) {
	if ok {
		mlIntegrityChecksTotal.WithLabelValues("success").Inc()
	} else {
		mlIntegrityChecksTotal.WithLabelValues("failure").Inc()
	}
}

// RecordWebhookDelivery records a webhook delivery attempt outcome.
func RecordWebhookDelivery(ok bool) {
	if ok {
		mlWebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		mlWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// MetricsObserver bridges ledger notifications into Prometheus counters.
type MetricsObserver struct{}

func (MetricsObserver) OnRecordAdded(ledger.RecordEvent) {
	mlRecordEventsTotal.WithLabelValues("added").Inc()
}

func (MetricsObserver) OnRecordUpdated(ledger.RecordEvent) {
	mlRecordEventsTotal.WithLabelValues("updated").Inc()
}

func (MetricsObserver) OnRecordDeactivated(ledger.RecordEvent) {
	mlRecordEventsTotal.WithLabelValues("deactivated").Inc()
}

func (MetricsObserver) OnProviderAuthorized(ledger.ProviderEvent) {
	mlProviderEventsTotal.WithLabelValues("authorized").Inc()
}

func (MetricsObserver) OnProviderRevoked(ledger.ProviderEvent) {
	mlProviderEventsTotal.WithLabelValues("revoked").Inc()
}

func (MetricsObserver) OnAccessLogged(ledger.AccessEvent) {
	mlAuditEntriesTotal.Inc()
}
