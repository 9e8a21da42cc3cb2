package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"medialift/internal/models"
	"medialift/internal/tickets"
	"medialift/internal/upload"
)

type ticketResponse struct {
	ObjectID   string            `json:"objectId"`
	ObjectType models.ObjectType `json:"objectType"`
	Filename   string            `json:"filename,omitempty"`
	Progress   int               `json:"progress"`
	Status     tickets.Status    `json:"status"`
	Generation uint64            `json:"generation"`
	UpdatedAt  string            `json:"updatedAt"`
}

func newTicketResponse(ticket tickets.Ticket) ticketResponse {
	return ticketResponse{
		ObjectID:   ticket.ObjectID,
		ObjectType: ticket.ObjectType,
		Filename:   ticket.Filename,
		Progress:   ticket.Progress,
		Status:     ticket.Status,
		Generation: ticket.Generation,
		UpdatedAt:  ticket.UpdatedAt.Format(time.RFC3339Nano),
	}
}

type createUploadRequest struct {
	ObjectType string `json:"objectType"`
	ObjectID   string `json:"objectId"`
	Path       string `json:"path"`
}

// UploadTickets serves the tracked uploads: start one from a server-local
// file, or list every live ticket.
func (h *Handler) UploadTickets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := h.Tickets.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		response := make([]ticketResponse, 0, len(list))
		for _, ticket := range list {
			response = append(response, newTicketResponse(ticket))
		}
		writeJSON(w, http.StatusOK, response)
	case http.MethodPost:
		if h.Uploads == nil {
			writeError(w, http.StatusServiceUnavailable, fmt.Errorf("no upload orchestrator configured"))
			return
		}
		var req createUploadRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		objectType, err := models.ParseObjectType(req.ObjectType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if strings.TrimSpace(req.ObjectID) == "" {
			writeError(w, http.StatusBadRequest, fmt.Errorf("objectId is required"))
			return
		}
		source, err := upload.FileSource(req.Path)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("open upload source: %w", err))
			return
		}
		ticket, err := h.Uploads.AddUpload(objectType, req.ObjectID, source)
		if err != nil {
			if errors.Is(err, upload.ErrEmptyFile) {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusAccepted, newTicketResponse(ticket))
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

// UploadTicketByID serves one tracked upload: inspect or reset.
func (h *Handler) UploadTicketByID(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/uploads/"), "/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("upload id missing"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		ticket, ok, err := h.Tickets.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("no upload tracked for %s", id))
			return
		}
		writeJSON(w, http.StatusOK, newTicketResponse(ticket))
	case http.MethodDelete:
		if err := h.Tickets.Reset(r.Context(), id); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, "GET, DELETE")
	}
}
