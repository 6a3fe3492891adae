package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMailMetricsExistAndIncrement(t *testing.T) {
	// Use a test label to avoid colliding with other tests
	lbl := "test-transport"

	before := testutil.ToFloat64(MailAttempts.WithLabelValues(lbl, "success"))
	MailAttempts.WithLabelValues(lbl, "success").Inc()
	if v := testutil.ToFloat64(MailAttempts.WithLabelValues(lbl, "success")); v != before+1 {
		t.Fatalf("expected MailAttempts to grow by 1, got %v (was %v)", v, before)
	}

	MailFallbacks.WithLabelValues(lbl, "other").Add(2)
	if v := testutil.ToFloat64(MailFallbacks.WithLabelValues(lbl, "other")); v < 2 {
		t.Fatalf("expected MailFallbacks >= 2, got %v", v)
	}

	MailCurrentTransport.Set(3)
	if v := testutil.ToFloat64(MailCurrentTransport); v != 3 {
		t.Fatalf("expected MailCurrentTransport = 3, got %v", v)
	}

	ReviewTriggers.WithLabelValues("success").Inc()
	if v := testutil.ToFloat64(ReviewTriggers.WithLabelValues("success")); v < 1 {
		t.Fatalf("expected ReviewTriggers >= 1, got %v", v)
	}
}

func TestMetricsHandlerExposesMailMetrics(t *testing.T) {
	MailExhausted.Inc()

	rec := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "taskmail_mail_exhausted_total") {
		t.Fatalf("expected exhausted counter in exposition output")
	}
}
