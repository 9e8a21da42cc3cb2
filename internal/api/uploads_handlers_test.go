package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"medialift/internal/models"
	"medialift/internal/policy"
	"medialift/internal/storage"
	"medialift/internal/tickets"
	"medialift/internal/upload"
)

func newUploadTestHandler(t *testing.T, storageURL string) *Handler {
	t.Helper()
	h := newTestHandler(t)
	orch := upload.New(upload.Config{
		Tickets: tickets.NewMemoryStore(),
		Policies: &fakeIssuer{policy: policy.Policy{
			URL:    storageURL,
			Fields: map[string]string{"key": "video/object-1/file.mp4", "policy": "ZG9j"},
		}},
		Logger: testLogger(),
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	h.Uploads = orch
	h.Tickets = orch.Tickets()
	return h
}

func TestUploadTicketsLifecycle(t *testing.T) {
	objectStorage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer objectStorage.Close()

	h := newUploadTestHandler(t, objectStorage.URL)
	mustCreateObject(t, h, storage.CreateObjectParams{ID: "object-1", ObjectType: models.ObjectTypeVideo})

	path := filepath.Join(t.TempDir(), "file.mp4")
	if err := os.WriteFile(path, []byte("media payload"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	body := fmt.Sprintf(`{"objectType":"video","objectId":"object-1","path":%q}`, path)
	rec := httptest.NewRecorder()
	h.UploadTickets(rec, httptest.NewRequest(http.MethodPost, "/api/uploads", strings.NewReader(body)))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start upload returned %d: %s", rec.Code, rec.Body.String())
	}
	var started ticketResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &started); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if started.Status != tickets.StatusInit || started.Progress != 0 {
		t.Fatalf("fresh ticket must be init/0, got %s/%d", started.Status, started.Progress)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		rec = httptest.NewRecorder()
		h.UploadTicketByID(rec, httptest.NewRequest(http.MethodGet, "/api/uploads/object-1", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("get ticket returned %d", rec.Code)
		}
		var current ticketResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &current); err != nil {
			t.Fatalf("decode ticket: %v", err)
		}
		if current.Status == tickets.StatusSuccess {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("upload never completed, last %+v", current)
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = httptest.NewRecorder()
	h.UploadTickets(rec, httptest.NewRequest(http.MethodGet, "/api/uploads", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list returned %d", rec.Code)
	}
	var list []ticketResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list) != 1 || list[0].ObjectID != "object-1" {
		t.Fatalf("unexpected ticket list %+v", list)
	}

	rec = httptest.NewRecorder()
	h.UploadTicketByID(rec, httptest.NewRequest(http.MethodDelete, "/api/uploads/object-1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reset returned %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.UploadTicketByID(rec, httptest.NewRequest(http.MethodGet, "/api/uploads/object-1", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("reset ticket still served, got %d", rec.Code)
	}
}

func TestUploadTicketsValidation(t *testing.T) {
	h := newUploadTestHandler(t, "http://storage.local/media")

	rec := httptest.NewRecorder()
	h.UploadTickets(rec, httptest.NewRequest(http.MethodPost, "/api/uploads",
		strings.NewReader(`{"objectType":"playlist","objectId":"object-1","path":"/tmp/x"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown type returned %d, want 400", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.UploadTickets(rec, httptest.NewRequest(http.MethodPost, "/api/uploads",
		strings.NewReader(`{"objectType":"video","path":"/tmp/x"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing object id returned %d, want 400", rec.Code)
	}

	missing := filepath.Join(t.TempDir(), "absent.mp4")
	rec = httptest.NewRecorder()
	h.UploadTickets(rec, httptest.NewRequest(http.MethodPost, "/api/uploads",
		strings.NewReader(fmt.Sprintf(`{"objectType":"video","objectId":"object-1","path":%q}`, missing))))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file returned %d, want 400", rec.Code)
	}
}
