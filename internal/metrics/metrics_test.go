package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Notification("email", "sent")
	m.Notification("email", "sent")
	m.Notification("sms", "failed")
	m.ConditionTriggered("no_check_in")

	if got := testutil.ToFloat64(m.notifications.WithLabelValues("email", "sent")); got != 2 {
		t.Errorf("email/sent = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.conditionsFired.WithLabelValues("no_check_in")); got != 1 {
		t.Errorf("no_check_in = %v, want 1", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.WorkerRun("trigger", time.Now())
	m.HTTPRequest("GET", "/health", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		"echovault_worker_runs_total{worker=\"trigger\"} 1",
		"echovault_http_requests_total{code=\"200\",method=\"GET\",route=\"/health\"} 1",
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Notification("email", "sent")
	m.ConditionTriggered("panic_trigger")
	m.ReminderSent()
	m.CheckIn("web")
	m.WorkerRun("outbox", time.Now())
	m.HTTPRequest("GET", "/", 200, 0)
	m.SecureMessage("ok")
	if m.Registry() != nil {
		t.Error("nil metrics returned a registry")
	}
}
