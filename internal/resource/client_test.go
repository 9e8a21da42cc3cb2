package resource

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"medialift/internal/models"
	"medialift/internal/policy"
)

func TestNewRejectsBadBaseURL(t *testing.T) {
	cases := []string{"", "   ", "not a url at all://", "/relative/path"}
	for _, raw := range cases {
		if _, err := New(Config{BaseURL: raw}); err == nil {
			t.Errorf("New(%q) accepted an unusable base url", raw)
		}
	}
}

func TestGetFetchesResourceRepresentation(t *testing.T) {
	var gotPath, gotAuth string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":           "video-1",
			"objectType":   "video",
			"upload_state": "ready",
			"title":        "Lecture 4",
		})
	}))
	defer backend.Close()

	client, err := New(Config{BaseURL: backend.URL, Token: "secret-token"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	object, err := client.Get(context.Background(), models.ObjectTypeVideo, "video-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if gotPath != "/api/video/video-1/" {
		t.Fatalf("request path %q", gotPath)
	}
	if gotAuth != "Bearer secret-token" {
		t.Fatalf("authorization header %q", gotAuth)
	}
	if object.UploadState != models.UploadStateReady || object.Title != "Lecture 4" {
		t.Fatalf("unexpected object %+v", object)
	}
}

func TestGetFillsMissingIdentity(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"upload_state": "pending"})
	}))
	defer backend.Close()

	client, err := New(Config{BaseURL: backend.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	object, err := client.Get(context.Background(), models.ObjectTypeDocument, "doc-9")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if object.ID != "doc-9" || object.ObjectType != models.ObjectTypeDocument {
		t.Fatalf("identity not filled in: %+v", object)
	}
}

func TestGetSurfacesUpstreamErrors(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer backend.Close()

	client, err := New(Config{BaseURL: backend.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.Get(context.Background(), models.ObjectTypeVideo, "missing"); err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}

func TestInitiateUploadHandshake(t *testing.T) {
	var gotPath, gotContentType string
	var gotBody initiateUploadRequest
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode handshake body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"url":    "https://bucket.example.com",
			"fields": map[string]string{"key": "video/video-1/1700000000_lecture.mp4"},
		})
	}))
	defer backend.Close()

	client, err := New(Config{BaseURL: backend.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pol, err := client.InitiateUpload(context.Background(), policy.Request{
		ObjectType:  models.ObjectTypeVideo,
		ObjectID:    "video-1",
		Filename:    "lecture.mp4",
		ContentType: "video/mp4",
		SizeBytes:   2048,
	})
	if err != nil {
		t.Fatalf("InitiateUpload: %v", err)
	}
	if gotPath != "/api/video/video-1/initiate-upload/" {
		t.Fatalf("request path %q", gotPath)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type %q", gotContentType)
	}
	if gotBody.Filename != "lecture.mp4" || gotBody.Mimetype != "video/mp4" || gotBody.Size != 2048 {
		t.Fatalf("handshake body %+v", gotBody)
	}
	if pol.URL != "https://bucket.example.com" || pol.Fields["key"] == "" {
		t.Fatalf("unexpected policy %+v", pol)
	}
}

func TestInitiateUploadRejectsEmptyPolicy(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"url": "", "fields": map[string]string{}})
	}))
	defer backend.Close()

	client, err := New(Config{BaseURL: backend.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = client.InitiateUpload(context.Background(), policy.Request{
		ObjectType: models.ObjectTypeVideo,
		ObjectID:   "video-1",
		Filename:   "lecture.mp4",
	})
	if err == nil {
		t.Fatal("expected an error for a policy without url or fields")
	}
}

func TestInitiateUploadRequiresObjectIdentity(t *testing.T) {
	client, err := New(Config{BaseURL: "http://127.0.0.1:0"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := client.InitiateUpload(context.Background(), policy.Request{Filename: "a.mp4"}); err != policy.ErrObjectRequired {
		t.Fatalf("error = %v, want ErrObjectRequired", err)
	}
}

func TestEndpointJoinsBasePath(t *testing.T) {
	client, err := New(Config{BaseURL: "https://api.example.com/marsha/"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := client.endpoint("/api/video/v1/")
	if got != "https://api.example.com/marsha/api/video/v1/" {
		t.Fatalf("endpoint = %q", got)
	}
}
