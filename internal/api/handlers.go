// Package api implements the HTTP surface: cached object CRUD, upload policy
// issuance, the state webhook receiver, upload tracking, and live resumption.
package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"medialift/internal/live"
	"medialift/internal/policy"
	"medialift/internal/storage"
	"medialift/internal/tickets"
	"medialift/internal/upload"
)

// Handler carries the collaborators every endpoint group needs.
type Handler struct {
	Store         storage.Repository
	Tickets       tickets.Store
	Uploads       *upload.Orchestrator
	Policies      policy.Issuer
	Resumer       *live.Resumer
	WebhookSecret string
	Logger        *slog.Logger
}

// NewHandler wires a handler; the logger defaults to slog.Default.
func NewHandler(store storage.Repository, uploads *upload.Orchestrator, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{Store: store, Uploads: uploads, Logger: logger}
	if uploads != nil {
		h.Tickets = uploads.Tickets()
	}
	return h
}

// Health reports datastore reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Store != nil {
		if err := h.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("method %s not allowed", r.Method))
}
