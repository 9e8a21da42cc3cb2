package metrics

import (
	"strings"
	"testing"
	"time"
)

func TestRecorderWriteIncludesRequestAndUploadSeries(t *testing.T) {
	recorder := New()
	recorder.ObserveRequest("get", "/api/objects/9b2f1c3a-aaaa-bbbb-cccc-000000000001/status", 200, 150*time.Millisecond)
	recorder.UploadStarted()
	recorder.UploadCompleted()
	recorder.UploadStarted()
	recorder.UploadSuperseded()
	recorder.ObserveWebhook("applied")
	recorder.ObserveResumePoll()
	recorder.ObserveResumePoll()
	recorder.ObserveResumeCompleted()

	var out strings.Builder
	recorder.Write(&out)
	rendered := out.String()

	wantLines := []string{
		`medialift_http_requests_total{method="GET",path="/api/objects/:id/status",status="200"} 1`,
		`medialift_upload_events_total{event="complete"} 1`,
		`medialift_upload_events_total{event="start"} 2`,
		`medialift_upload_events_total{event="superseded"} 1`,
		`medialift_active_uploads 0`,
		`medialift_webhook_deliveries_total{outcome="applied"} 1`,
		`medialift_resume_polls_total 2`,
		`medialift_resume_completed_total 1`,
	}
	for _, line := range wantLines {
		if !strings.Contains(rendered, line) {
			t.Fatalf("output missing %q:\n%s", line, rendered)
		}
	}
}

func TestActiveUploadsGaugeNeverGoesNegative(t *testing.T) {
	recorder := New()
	recorder.UploadFailed()
	recorder.UploadCompleted()
	if got := recorder.ActiveUploads(); got != 0 {
		t.Fatalf("gauge went negative: %d", got)
	}
	recorder.UploadStarted()
	recorder.UploadStarted()
	recorder.UploadFailed()
	if got := recorder.ActiveUploads(); got != 1 {
		t.Fatalf("expected one in-flight upload, got %d", got)
	}
}

func TestNormalizePathKeepsRouteWords(t *testing.T) {
	cases := map[string]string{
		"/api/objects":                          "/api/objects",
		"/api/objects/object-12345/status":      "/api/objects/:id/status",
		"/api/uploads/4f2c/":                    "/api/uploads/4f2c",
		"/api/objects/abcdefgh/initiate-upload": "/api/objects/:id/initiate-upload",
		"/healthz":                              "/healthz",
		"/":                                     "/",
	}
	for input, want := range cases {
		if got := normalizePath(input); got != want {
			t.Fatalf("normalizePath(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestResetClearsCounters(t *testing.T) {
	recorder := New()
	recorder.UploadStarted()
	recorder.ObserveWebhook("rejected")
	recorder.Reset()
	if counts := recorder.UploadCounts(); len(counts) != 0 {
		t.Fatalf("counters survived reset: %v", counts)
	}
	if recorder.ActiveUploads() != 0 {
		t.Fatal("gauge survived reset")
	}
}
