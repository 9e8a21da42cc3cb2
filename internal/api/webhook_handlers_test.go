package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"medialift/internal/models"
	"medialift/internal/storage"
	"medialift/internal/tickets"
)

const webhookSecret = "shared-secret"

func signBody(body string) string {
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(h *Handler, body, signature string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/update-state", strings.NewReader(body))
	if signature != "" {
		req.Header.Set(SignatureHeader, signature)
	}
	h.UpdateState(rec, req)
	return rec
}

func TestUpdateStateAppliesSignedDelivery(t *testing.T) {
	h := newTestHandler(t)
	h.WebhookSecret = webhookSecret
	mustCreateObject(t, h, storage.CreateObjectParams{ID: "object-1", ObjectType: models.ObjectTypeVideo})

	body := `{"key":"video/object-1/1715679000_file.mp4","state":"ready","extraParameters":{"duration":"93"}}`
	rec := postWebhook(h, body, signBody(body))
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook returned %d: %s", rec.Code, rec.Body.String())
	}
	object, err := h.Store.GetObject(context.Background(), models.ObjectTypeVideo, "object-1")
	if err != nil {
		t.Fatalf("get object: %v", err)
	}
	if object.UploadState != models.UploadStateReady {
		t.Fatalf("state not applied, got %s", object.UploadState)
	}
	if object.Metadata["duration"] != "93" {
		t.Fatalf("extraParameters not merged: %v", object.Metadata)
	}
}

func TestUpdateStateRejectsBadSignature(t *testing.T) {
	h := newTestHandler(t)
	h.WebhookSecret = webhookSecret
	mustCreateObject(t, h, storage.CreateObjectParams{ID: "object-1", ObjectType: models.ObjectTypeVideo})

	body := `{"key":"video/object-1/1715679000_file.mp4","state":"ready"}`
	if rec := postWebhook(h, body, "deadbeef"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("tampered signature returned %d, want 401", rec.Code)
	}
	if rec := postWebhook(h, body, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing signature returned %d, want 401", rec.Code)
	}
	object, _ := h.Store.GetObject(context.Background(), models.ObjectTypeVideo, "object-1")
	if object.UploadState != models.UploadStatePending {
		t.Fatalf("rejected delivery must not mutate state, got %s", object.UploadState)
	}
}

func TestUpdateStateRetiresTicketOnReady(t *testing.T) {
	h := newTestHandler(t)
	h.WebhookSecret = webhookSecret
	mustCreateObject(t, h, storage.CreateObjectParams{ID: "object-1", ObjectType: models.ObjectTypeVideo})
	if _, err := h.Tickets.Begin(context.Background(), models.ObjectTypeVideo, "object-1", "file.mp4"); err != nil {
		t.Fatalf("begin ticket: %v", err)
	}

	body := `{"key":"video/object-1/1715679000_file.mp4","state":"ready"}`
	if rec := postWebhook(h, body, signBody(body)); rec.Code != http.StatusOK {
		t.Fatalf("webhook returned %d", rec.Code)
	}
	if _, ok, _ := h.Tickets.Get(context.Background(), "object-1"); ok {
		t.Fatal("confirmed ready must retire the ticket")
	}

	// A processing delivery must leave an in-flight ticket alone.
	if _, err := h.Tickets.Begin(context.Background(), models.ObjectTypeVideo, "object-1", "file.mp4"); err != nil {
		t.Fatalf("begin ticket: %v", err)
	}
	body = `{"key":"video/object-1/1715679000_file.mp4","state":"processing"}`
	if rec := postWebhook(h, body, signBody(body)); rec.Code != http.StatusOK {
		t.Fatalf("webhook returned %d", rec.Code)
	}
	ticket, ok, _ := h.Tickets.Get(context.Background(), "object-1")
	if !ok || ticket.Status != tickets.StatusInit {
		t.Fatalf("non-terminal delivery must keep the ticket, got %+v ok=%v", ticket, ok)
	}
}

func TestUpdateStateMalformedDeliveries(t *testing.T) {
	h := newTestHandler(t)
	h.WebhookSecret = webhookSecret
	mustCreateObject(t, h, storage.CreateObjectParams{ID: "object-1", ObjectType: models.ObjectTypeVideo})

	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed key", `{"key":"file.mp4","state":"ready"}`, http.StatusBadRequest},
		{"unknown type in key", `{"key":"playlist/object-1/x","state":"ready"}`, http.StatusBadRequest},
		{"unknown state", `{"key":"video/object-1/x","state":"archived"}`, http.StatusBadRequest},
		{"unknown object", `{"key":"video/missing/x","state":"ready"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := postWebhook(h, tc.body, signBody(tc.body)); rec.Code != tc.want {
				t.Fatalf("returned %d, want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}
