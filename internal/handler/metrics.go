package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jmerrifield20/IntegrityLedger/internal/federation"
)

var (
	ledgerRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	ledgerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	ledgerEntriesAppended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_entries_appended_total",
		Help: "Total ledger entries appended by entry type.",
	}, []string{"entry_type"})

	ledgerVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_verifications_total",
		Help: "Total ledger verifications by outcome.",
	}, []string{"result"})

	federationChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_federation_partner_checks_total",
		Help: "Total partner attestation checks by trust status.",
	}, []string{"status"})

	federationFetchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_federation_fetch_duration_seconds",
		Help:    "Partner attestation fetch duration in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	trustScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_feedback_trust_score",
		Help:    "Distribution of feedback trust scores.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	webhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_webhook_deliveries_total",
		Help: "Total webhook delivery attempts by outcome.",
	}, []string{"result"})

	eiiCurrent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ledger_eii_current",
		Help: "Most recently recorded Ethical Integrity Index.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		ledgerRequestsTotal.WithLabelValues(method, path, status).Inc()
		ledgerRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLedgerAppend records an appended entry.
func RecordLedgerAppend(entryType string) {
	ledgerEntriesAppended.WithLabelValues(entryType).Inc()
}

// RecordVerification records a ledger verification outcome.
func RecordVerification(valid bool) {
	if valid {
		ledgerVerifications.WithLabelValues("valid").Inc()
	} else {
		ledgerVerifications.WithLabelValues("invalid").Inc()
	}
}

// RecordWebhookDelivery records one webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		webhookDeliveries.WithLabelValues("success").Inc()
	} else {
		webhookDeliveries.WithLabelValues("failure").Inc()
	}
}

// RecordPartnerCheck records one partner verification. It matches
// federation.MetricsRecordFunc.
func RecordPartnerCheck(status federation.Status, latency time.Duration) {
	federationChecksTotal.WithLabelValues(string(status)).Inc()
	federationFetchDuration.Observe(latency.Seconds())
}
