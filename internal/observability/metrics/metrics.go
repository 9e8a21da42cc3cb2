// Package metrics aggregates in-process counters and gauges for the HTTP
// surface, the upload orchestrator, webhook deliveries, and live resumption
// polling, exposed in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type requestLabel struct {
	method string
	path   string
	status string
}

// Recorder coordinates concurrent writers via a RWMutex while exposing
// atomic gauges for in-flight work.
type Recorder struct {
	mu              sync.RWMutex
	requestCount    map[requestLabel]uint64
	requestDuration map[requestLabel]time.Duration
	uploadEvents    map[string]uint64
	webhookEvents   map[string]uint64
	resumeAttempts  uint64
	resumeCompleted uint64
	activeUploads   atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps so callers
// can immediately record metrics without additional setup.
func New() *Recorder {
	return &Recorder{
		requestCount:    make(map[requestLabel]uint64),
		requestDuration: make(map[requestLabel]time.Duration),
		uploadEvents:    make(map[string]uint64),
		webhookEvents:   make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared across packages that do not
// require custom instrumentation pipelines.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRequest normalizes the request label set and accumulates totals for
// request count and cumulative duration by method, normalized path, and
// status code.
func (r *Recorder) ObserveRequest(method, path string, status int, duration time.Duration) {
	label := requestLabel{
		method: strings.ToUpper(method),
		path:   normalizePath(path),
		status: fmt.Sprintf("%d", status),
	}
	r.mu.Lock()
	r.requestCount[label]++
	r.requestDuration[label] += duration
	r.mu.Unlock()
}

// UploadStarted records an upload beginning and raises the in-flight gauge.
func (r *Recorder) UploadStarted() {
	r.incrementUploadEvent("start")
	r.activeUploads.Add(1)
}

// UploadCompleted records a stored upload and lowers the in-flight gauge.
func (r *Recorder) UploadCompleted() {
	r.incrementUploadEvent("complete")
	r.decrementGauge(&r.activeUploads)
}

// UploadFailed records a failed upload and lowers the in-flight gauge.
func (r *Recorder) UploadFailed() {
	r.incrementUploadEvent("fail")
	r.decrementGauge(&r.activeUploads)
}

// UploadSuperseded records an attempt retired by a newer one for the same
// object.
func (r *Recorder) UploadSuperseded() {
	r.incrementUploadEvent("superseded")
	r.decrementGauge(&r.activeUploads)
}

func (r *Recorder) incrementUploadEvent(event string) {
	r.mu.Lock()
	r.uploadEvents[normalizeName(event)]++
	r.mu.Unlock()
}

// ObserveWebhook records a state webhook delivery outcome, e.g. "applied",
// "rejected", or "unknown_object".
func (r *Recorder) ObserveWebhook(outcome string) {
	r.mu.Lock()
	r.webhookEvents[normalizeName(outcome)]++
	r.mu.Unlock()
}

// ObserveResumePoll records one rendition playlist check during live
// resumption.
func (r *Recorder) ObserveResumePoll() {
	r.mu.Lock()
	r.resumeAttempts++
	r.mu.Unlock()
}

// ObserveResumeCompleted records a broadcast detected as live again.
func (r *Recorder) ObserveResumeCompleted() {
	r.mu.Lock()
	r.resumeCompleted++
	r.mu.Unlock()
}

// ActiveUploads exposes the current gauge of in-flight uploads.
func (r *Recorder) ActiveUploads() int64 {
	return r.activeUploads.Load()
}

// UploadCounts returns a copy of the upload event counters for tests and
// reporting.
func (r *Recorder) UploadCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := make(map[string]uint64, len(r.uploadEvents))
	for k, v := range r.uploadEvents {
		counts[k] = v
	}
	return counts
}

// Reset clears all counters and gauges. It is intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requestCount = make(map[requestLabel]uint64)
	r.requestDuration = make(map[requestLabel]time.Duration)
	r.uploadEvents = make(map[string]uint64)
	r.webhookEvents = make(map[string]uint64)
	r.resumeAttempts = 0
	r.resumeCompleted = 0
	r.activeUploads.Store(0)
}

// Handler exposes the Recorder as an http.Handler that writes Prometheus
// text exposition data with the appropriate content type.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics in Prometheus text format, sorting label sets to
// provide stable output for scrapes and tests.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	requestLabels := r.sortedRequestLabels()
	uploadEvents := sortedKeys(r.uploadEvents)
	webhookEvents := sortedKeys(r.webhookEvents)

	fmt.Fprintln(w, "# HELP medialift_http_requests_total Total number of HTTP requests processed by the API")
	fmt.Fprintln(w, "# TYPE medialift_http_requests_total counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "medialift_http_requests_total{method=\"%s\",path=\"%s\",status=\"%s\"} %d\n", label.method, label.path, label.status, r.requestCount[label])
	}

	fmt.Fprintln(w, "# HELP medialift_http_request_duration_seconds_sum Cumulative duration of HTTP requests in seconds")
	fmt.Fprintln(w, "# TYPE medialift_http_request_duration_seconds_sum counter")
	for _, label := range requestLabels {
		fmt.Fprintf(w, "medialift_http_request_duration_seconds_sum{method=\"%s\",path=\"%s\",status=\"%s\"} %f\n", label.method, label.path, label.status, r.requestDuration[label].Seconds())
	}

	fmt.Fprintln(w, "# HELP medialift_upload_events_total Upload lifecycle events by type")
	fmt.Fprintln(w, "# TYPE medialift_upload_events_total counter")
	for _, event := range uploadEvents {
		fmt.Fprintf(w, "medialift_upload_events_total{event=\"%s\"} %d\n", event, r.uploadEvents[event])
	}

	fmt.Fprintln(w, "# HELP medialift_active_uploads Current number of in-flight uploads")
	fmt.Fprintln(w, "# TYPE medialift_active_uploads gauge")
	fmt.Fprintf(w, "medialift_active_uploads %d\n", r.activeUploads.Load())

	fmt.Fprintln(w, "# HELP medialift_webhook_deliveries_total State webhook deliveries by outcome")
	fmt.Fprintln(w, "# TYPE medialift_webhook_deliveries_total counter")
	for _, event := range webhookEvents {
		fmt.Fprintf(w, "medialift_webhook_deliveries_total{outcome=\"%s\"} %d\n", event, r.webhookEvents[event])
	}

	fmt.Fprintln(w, "# HELP medialift_resume_polls_total Rendition playlist checks performed while waiting for a broadcast")
	fmt.Fprintln(w, "# TYPE medialift_resume_polls_total counter")
	fmt.Fprintf(w, "medialift_resume_polls_total %d\n", r.resumeAttempts)

	fmt.Fprintln(w, "# HELP medialift_resume_completed_total Broadcasts detected as live again")
	fmt.Fprintln(w, "# TYPE medialift_resume_completed_total counter")
	fmt.Fprintf(w, "medialift_resume_completed_total %d\n", r.resumeCompleted)
}

func (r *Recorder) sortedRequestLabels() []requestLabel {
	labels := make([]requestLabel, 0, len(r.requestCount))
	for label := range r.requestCount {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].method != labels[j].method {
			return labels[i].method < labels[j].method
		}
		if labels[i].path != labels[j].path {
			return labels[i].path < labels[j].path
		}
		return labels[i].status < labels[j].status
	})
	return labels
}

func sortedKeys(counters map[string]uint64) []string {
	keys := make([]string, 0, len(counters))
	for key := range counters {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizePath(path string) string {
	if path == "" || path == "/" {
		return "/"
	}
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if looksLikeIdentifier(part) {
			parts[i] = ":id"
		}
	}
	normalized := strings.Join(parts, "/")
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if strings.HasSuffix(normalized, "/") && len(normalized) > 1 {
		normalized = strings.TrimSuffix(normalized, "/")
	}
	return normalized
}

// looksLikeIdentifier keeps route segments readable while collapsing ids so
// label cardinality stays bounded. Known route words never collapse.
func looksLikeIdentifier(segment string) bool {
	switch segment {
	case "api", "objects", "uploads", "update-state", "initiate-upload", "resume-live", "status", "healthz", "metrics":
		return false
	}
	if len(segment) >= 8 {
		return true
	}
	digitCount := 0
	for _, r := range segment {
		if r >= '0' && r <= '9' {
			digitCount++
		}
	}
	return digitCount >= 3
}

func (r *Recorder) decrementGauge(gauge *atomic.Int64) {
	for {
		current := gauge.Load()
		if current <= 0 {
			return
		}
		if gauge.CompareAndSwap(current, current-1) {
			return
		}
	}
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRequest is a helper on the default recorder.
func ObserveRequest(method, path string, status int, duration time.Duration) {
	defaultRecorder.ObserveRequest(method, path, status, duration)
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
