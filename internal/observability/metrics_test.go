package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestMetrics_Usable verifies that all Prometheus metrics can be used without
// panic, ensuring label dimensions match usage across client, http, worksheet, and cache packages.
func TestMetrics_Usable(t *testing.T) {
	// Route uses path template to avoid cardinality (e.g. /worksheets/{subject}/{topic})
	HTTPRequestsTotal.WithLabelValues("GET", "/worksheets/{subject}/{topic}", "2xx").Inc()
	HTTPRequestDuration.WithLabelValues("GET", "/worksheets/{subject}/{topic}").Observe(0.01)
	OpenRouterCallsTotal.WithLabelValues("success").Inc()
	OpenRouterCallsTotal.WithLabelValues("error").Inc()
	OpenRouterDuration.WithLabelValues("success").Observe(0.1)
	GenerationAttemptsTotal.Inc()
	GenerationFailuresTotal.WithLabelValues("parse").Inc()
	SanitizerRepairsTotal.WithLabelValues("boxed").Inc()
	CacheHitsTotal.WithLabelValues("worksheet").Inc()
	WorksheetQueriesTotal.Inc()
	WorksheetQueriesBySubjectTotal.WithLabelValues("math").Inc()
	WorksheetQueriesBySubjectTotal.WithLabelValues("other").Inc()
	PDFRendersTotal.WithLabelValues("success").Inc()
}

// TestSetTrackedSubjects_and_RecordWorksheetQuery verifies that SetTrackedSubjects
// configures the subject allow-list and RecordWorksheetQuery labels tracked vs "other" subjects.
func TestSetTrackedSubjects_and_RecordWorksheetQuery(t *testing.T) {
	SetTrackedSubjects([]string{"math", "science"})
	RecordWorksheetQuery("Math")
	RecordWorksheetQuery("underwater basket weaving")
	SetTrackedSubjects(nil) // reset for other tests
}

// TestMetricSubjectLabel verifies allow-list resolution and normalization.
func TestMetricSubjectLabel(t *testing.T) {
	SetTrackedSubjects([]string{"Math", "science"})
	defer SetTrackedSubjects(nil)

	tests := []struct {
		in   string
		want string
	}{
		{"math", "math"},
		{" MATH ", "math"},
		{"science", "science"},
		{"history", "other"},
		{"", "other"},
	}
	for _, tc := range tests {
		if got := MetricSubjectLabel(tc.in); got != tc.want {
			t.Errorf("MetricSubjectLabel(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

// TestMetricsHandler_ServesPrometheusFormat verifies that MetricsHandler serves
// Prometheus text exposition format with correct HTTP status and metric output.
func TestMetricsHandler_ServesPrometheusFormat(t *testing.T) {
	handler := MetricsHandler()
	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("MetricsHandler status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "httpRequestsTotal") {
		t.Error("MetricsHandler response should contain metric output")
	}
}

// TestRecordShutdownInFlight verifies the shutdown gauge accepts a count.
func TestRecordShutdownInFlight(t *testing.T) {
	RecordShutdownInFlight(3)
	RecordShutdownInFlight(0)
}
