package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.CodeIssued("email")
	m.Login("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `photogram_verification_codes_issued_total{channel="email"} 1`) {
		t.Fatalf("expected issued counter in output:\n%s", body)
	}
}

func TestRequestHistogramUsesRoutePattern(t *testing.T) {
	m := New()
	m.Request("POST", "/api/v1/users/login", 401, 30*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	want := `photogram_http_request_duration_seconds_count{method="POST",route="/api/v1/users/login",status="401"} 1`
	if !strings.Contains(string(body), want) {
		t.Fatalf("expected request histogram in output:\n%s", body)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.CodeIssued("phone")
	m.Dispatch("phone", "failed")
	m.Transition("NEW", "CODE_VERIFIED")
	m.Request("GET", "/healthz", 200, time.Millisecond)
}
