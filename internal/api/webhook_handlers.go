package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"medialift/internal/models"
	"medialift/internal/observability/metrics"
	"medialift/internal/storage"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Medialift-Signature"

const maxWebhookBody = 1 << 20

type updateStateRequest struct {
	Key             string            `json:"key"`
	State           string            `json:"state"`
	ExtraParameters map[string]string `json:"extraParameters"`
}

// UpdateState receives the processing pipeline's state webhook. The key
// identifies the object through its storage layout; the signature must match
// before anything is parsed.
func (h *Handler) UpdateState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if h.WebhookSecret == "" {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("webhook secret not configured"))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("read webhook body: %w", err))
		return
	}
	defer r.Body.Close()

	if !validSignature(h.WebhookSecret, body, r.Header.Get(SignatureHeader)) {
		h.Logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr)
		metrics.Default().ObserveWebhook("rejected")
		writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid signature"))
		return
	}

	var req updateStateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		metrics.Default().ObserveWebhook("malformed")
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode webhook body: %w", err))
		return
	}
	objectType, objectID, err := parseObjectKey(req.Key)
	if err != nil {
		metrics.Default().ObserveWebhook("malformed")
		writeError(w, http.StatusBadRequest, err)
		return
	}
	state, err := models.ParseUploadState(req.State)
	if err != nil {
		metrics.Default().ObserveWebhook("malformed")
		writeError(w, http.StatusBadRequest, err)
		return
	}

	object, err := h.Store.SetUploadState(r.Context(), objectType, objectID, state)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			metrics.Default().ObserveWebhook("unknown_object")
			writeError(w, http.StatusNotFound, fmt.Errorf("object %s not found", objectID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if len(req.ExtraParameters) > 0 {
		merged := object.CloneMetadata()
		if merged == nil {
			merged = make(map[string]string, len(req.ExtraParameters))
		}
		for k, v := range req.ExtraParameters {
			merged[k] = v
		}
		if object, err = h.Store.UpdateObject(r.Context(), objectType, objectID, storage.ObjectUpdate{Metadata: merged}); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	// A confirmed terminal state retires the transient ticket; the next
	// upload begins from a clean slate.
	if h.Tickets != nil && (state == models.UploadStateReady || state == models.UploadStateDeleted) {
		if err := h.Tickets.Reset(r.Context(), objectID); err != nil {
			h.Logger.Error("ticket reset failed", "object_id", objectID, "error", err)
		}
	}
	metrics.Default().ObserveWebhook("applied")
	h.Logger.Info("state webhook applied",
		"object_id", objectID,
		"object_type", objectType,
		"upload_state", state,
	)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":          object.ID,
		"uploadState": string(object.UploadState),
	})
}

func validSignature(secret string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

// parseObjectKey splits a storage key laid out as <type>/<id>/<stamp>_<name>.
func parseObjectKey(key string) (models.ObjectType, string, error) {
	parts := strings.Split(strings.Trim(strings.TrimSpace(key), "/"), "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("malformed object key %q", key)
	}
	objectType, err := models.ParseObjectType(parts[0])
	if err != nil {
		return "", "", fmt.Errorf("malformed object key %q: %w", key, err)
	}
	id := strings.TrimSpace(parts[1])
	if id == "" {
		return "", "", fmt.Errorf("malformed object key %q", key)
	}
	return objectType, id, nil
}
