package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_RegistersInstruments(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "taxdesk")

	m.RecordTransition("gstr1_preparation", "ok")
	m.RecordPublished("filing.status_changed")
	m.RecordPublishFailure("enqueue")
	m.RecordDelivery("success", 120*time.Millisecond)
	m.RecordRetryScheduled()
	m.RecordJob("deliver_webhook", "ok")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"taxdesk_workflow_transitions_total",
		"taxdesk_events_published_total",
		"taxdesk_event_publish_failures_total",
		"taxdesk_webhook_deliveries_total",
		"taxdesk_webhook_delivery_duration_seconds",
		"taxdesk_webhook_retries_scheduled_total",
		"taxdesk_jobs_processed_total",
	} {
		if !names[want] {
			t.Errorf("metric %s not registered", want)
		}
	}

	if got := testutil.ToFloat64(m.PublishFailuresTotal.WithLabelValues("enqueue")); got != 1 {
		t.Errorf("publish failures = %v, want 1", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.RecordDelivery("failed", time.Second)
	m.RecordPromoted(3)
	m.RecordReclaimed(1)
	m.RecordRequeued("processing", 2)

	h := m.Instrument("/x", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rec.Code)
	}
}

func TestInstrument_RecordsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, "taxdesk")

	h := m.Instrument("/api/v1/webhooks/:endpoint_id", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/webhooks/wh_1", nil))

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/api/v1/webhooks/:endpoint_id", "404"))
	if got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "taxdesk_http_requests_total") {
		t.Error("metrics output missing taxdesk_http_requests_total")
	}
}
