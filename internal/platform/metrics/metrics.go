package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	deliveryDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	httpDurationBuckets     = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Metrics holds the Prometheus instruments of the notification pipeline.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	TransitionsTotal      *prometheus.CounterVec
	EventsPublishedTotal  *prometheus.CounterVec
	PublishFailuresTotal  *prometheus.CounterVec
	EventsRequeuedTotal   *prometheus.CounterVec
	DeliveriesTotal       *prometheus.CounterVec
	DeliveryDuration      prometheus.Histogram
	RetriesScheduledTotal prometheus.Counter
	JobsProcessedTotal    *prometheus.CounterVec
	DelayedJobsPromoted   prometheus.Counter
	JobsReclaimedTotal    prometheus.Counter
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
}

// New creates the instruments under namespace and registers them with reg.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "taxdesk"
	}
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Filing workflow transitions by step and result.",
		}, []string{"step", "result"}),
		EventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Webhook events persisted by the publisher.",
		}, []string{"event_type"}),
		PublishFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Event publication failures by stage.",
		}, []string{"stage"}),
		EventsRequeuedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_requeued_total",
			Help:      "Jobs re-enqueued by the sweeper, by the status of the stalled event.",
		}, []string{"status"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook delivery attempts by outcome.",
		}, []string{"status"}),
		DeliveryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_delivery_duration_seconds",
			Help:      "Webhook HTTP call duration in seconds.",
			Buckets:   deliveryDurationBuckets,
		}),
		RetriesScheduledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_retries_scheduled_total",
			Help:      "Delayed webhook retries enqueued.",
		}),
		JobsProcessedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Queue jobs handled by the worker pool.",
		}, []string{"job", "result"}),
		DelayedJobsPromoted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delayed_jobs_promoted_total",
			Help:      "Delayed jobs moved onto the ready queue.",
		}),
		JobsReclaimedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_reclaimed_total",
			Help:      "In-flight jobs returned to the ready queue after their worker went away.",
		}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Admin API requests.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Admin API request duration in seconds.",
			Buckets:   httpDurationBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.TransitionsTotal,
		m.EventsPublishedTotal,
		m.PublishFailuresTotal,
		m.EventsRequeuedTotal,
		m.DeliveriesTotal,
		m.DeliveryDuration,
		m.RetriesScheduledTotal,
		m.JobsProcessedTotal,
		m.DelayedJobsPromoted,
		m.JobsReclaimedTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
	)
	return m
}

func (m *Metrics) RecordTransition(step, result string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(step, result).Inc()
}

func (m *Metrics) RecordPublished(eventType string) {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordPublishFailure counts a failure at stage "persist", "enqueue" or "transition".
func (m *Metrics) RecordPublishFailure(stage string) {
	if m == nil {
		return
	}
	m.PublishFailuresTotal.WithLabelValues(stage).Inc()
}

// RecordRequeued counts jobs the sweeper re-enqueued for events stalled in status.
func (m *Metrics) RecordRequeued(status string, n int) {
	if m == nil {
		return
	}
	m.EventsRequeuedTotal.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) RecordDelivery(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(status).Inc()
	m.DeliveryDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordRetryScheduled() {
	if m == nil {
		return
	}
	m.RetriesScheduledTotal.Inc()
}

func (m *Metrics) RecordJob(job, result string) {
	if m == nil {
		return
	}
	m.JobsProcessedTotal.WithLabelValues(job, result).Inc()
}

func (m *Metrics) RecordPromoted(n int) {
	if m == nil {
		return
	}
	m.DelayedJobsPromoted.Add(float64(n))
}

func (m *Metrics) RecordReclaimed(n int) {
	if m == nil {
		return
	}
	m.JobsReclaimedTotal.Add(float64(n))
}

// Instrument wraps an HTTP handler and records requests under a fixed route label.
func (m *Metrics) Instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	if m == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(sw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the metrics gathered by g in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}
