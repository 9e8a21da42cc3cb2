package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"medialift/internal/live"
	"medialift/internal/models"
	"medialift/internal/policy"
	"medialift/internal/status"
	"medialift/internal/storage"
)

type createObjectRequest struct {
	ID          string            `json:"id"`
	ObjectType  string            `json:"objectType"`
	Title       string            `json:"title"`
	Filename    string            `json:"filename"`
	ManifestURL string            `json:"manifestUrl"`
	LiveState   string            `json:"liveState"`
	Metadata    map[string]string `json:"metadata"`
}

type updateObjectRequest struct {
	Title       *string           `json:"title"`
	Filename    *string           `json:"filename"`
	UploadState *string           `json:"uploadState"`
	LiveState   *string           `json:"liveState"`
	ManifestURL *string           `json:"manifestUrl"`
	Metadata    map[string]string `json:"metadata"`
}

// Objects serves the collection: list and create.
func (h *Handler) Objects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var objectType models.ObjectType
		if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
			parsed, err := models.ParseObjectType(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			objectType = parsed
		}
		objects, err := h.Store.ListObjects(r.Context(), objectType)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if objects == nil {
			objects = []models.UploadableObject{}
		}
		writeJSON(w, http.StatusOK, objects)
	case http.MethodPost:
		var req createObjectRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		objectType, err := models.ParseObjectType(req.ObjectType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		var liveState models.LiveState
		if strings.TrimSpace(req.LiveState) != "" {
			liveState, err = models.ParseLiveState(req.LiveState)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
		}
		object, err := h.Store.CreateObject(r.Context(), storage.CreateObjectParams{
			ID:          req.ID,
			ObjectType:  objectType,
			Title:       req.Title,
			Filename:    req.Filename,
			ManifestURL: req.ManifestURL,
			LiveState:   liveState,
			Metadata:    req.Metadata,
		})
		if err != nil {
			if errors.Is(err, storage.ErrObjectExists) {
				writeError(w, http.StatusConflict, err)
				return
			}
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, http.StatusCreated, object)
	default:
		methodNotAllowed(w, r, "GET, POST")
	}
}

// ObjectByID dispatches /api/objects/{id} and its action subroutes.
func (h *Handler) ObjectByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/objects/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	id := strings.TrimSpace(parts[0])
	if id == "" {
		writeError(w, http.StatusNotFound, fmt.Errorf("object id missing"))
		return
	}
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown route"))
		return
	}

	switch action {
	case "":
		h.objectResource(w, r, id)
	case "initiate-upload":
		h.initiateUpload(w, r, id)
	case "status":
		h.objectStatus(w, r, id)
	case "resume-live":
		h.resumeLive(w, r, id)
	default:
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown action %q", action))
	}
}

func (h *Handler) objectResource(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		object, err := h.Store.GetObject(r.Context(), "", id)
		if err != nil {
			h.writeStoreError(w, id, err)
			return
		}
		writeJSON(w, http.StatusOK, object)
	case http.MethodPatch:
		var req updateObjectRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		update := storage.ObjectUpdate{
			Title:       req.Title,
			Filename:    req.Filename,
			ManifestURL: req.ManifestURL,
			Metadata:    req.Metadata,
		}
		if req.UploadState != nil {
			state, err := models.ParseUploadState(*req.UploadState)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			update.UploadState = &state
		}
		if req.LiveState != nil {
			state, err := models.ParseLiveState(*req.LiveState)
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			update.LiveState = &state
		}
		object, err := h.Store.UpdateObject(r.Context(), "", id, update)
		if err != nil {
			h.writeStoreError(w, id, err)
			return
		}
		writeJSON(w, http.StatusOK, object)
	case http.MethodDelete:
		if err := h.Store.DeleteObject(r.Context(), "", id); err != nil {
			h.writeStoreError(w, id, err)
			return
		}
		if h.Uploads != nil {
			_ = h.Uploads.ResetUpload(r.Context(), id)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, "GET, PATCH, DELETE")
	}
}

type initiateUploadRequest struct {
	Filename string `json:"filename"`
	Mimetype string `json:"mimetype"`
	Size     int64  `json:"size"`
}

// initiateUpload is the create-then-upload step: the policy is issued and the
// cached state flips to pending so observers render a fresh cycle.
func (h *Handler) initiateUpload(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if h.Policies == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("no upload policy issuer configured"))
		return
	}
	var req initiateUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Filename) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("filename is required"))
		return
	}
	object, err := h.Store.GetObject(r.Context(), "", id)
	if err != nil {
		h.writeStoreError(w, id, err)
		return
	}
	pol, err := h.Policies.Issue(r.Context(), policy.Request{
		ObjectType:  object.ObjectType,
		ObjectID:    object.ID,
		Filename:    req.Filename,
		ContentType: req.Mimetype,
		SizeBytes:   req.Size,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("issue upload policy: %w", err))
		return
	}
	if _, err := h.Store.SetUploadState(r.Context(), object.ObjectType, object.ID, models.UploadStatePending); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.Logger.Info("upload initiated",
		"object_id", object.ID,
		"object_type", object.ObjectType,
		"filename", req.Filename,
	)
	writeJSON(w, http.StatusOK, pol)
}

type statusResponse struct {
	ID            string               `json:"id"`
	ObjectType    models.ObjectType    `json:"objectType"`
	DisplayStatus models.DisplayStatus `json:"displayStatus"`
	UploadState   models.UploadState   `json:"uploadState"`
	Ticket        *ticketResponse      `json:"ticket,omitempty"`
}

// objectStatus reconciles the server state with the transient ticket.
func (h *Handler) objectStatus(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, "GET")
		return
	}
	object, err := h.Store.GetObject(r.Context(), "", id)
	if err != nil {
		h.writeStoreError(w, id, err)
		return
	}
	resp := statusResponse{
		ID:          object.ID,
		ObjectType:  object.ObjectType,
		UploadState: object.UploadState,
	}
	if h.Tickets != nil {
		if ticket, ok, err := h.Tickets.Get(r.Context(), object.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		} else if ok {
			tr := newTicketResponse(ticket)
			resp.Ticket = &tr
			resp.DisplayStatus = status.Derive(object.UploadState, &ticket)
			writeJSON(w, http.StatusOK, resp)
			return
		}
	}
	resp.DisplayStatus = status.Derive(object.UploadState, nil)
	writeJSON(w, http.StatusOK, resp)
}

// resumeLive blocks until the object's feed streams again, then refreshes the
// cache from the refetched representation.
func (h *Handler) resumeLive(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, "POST")
		return
	}
	if h.Resumer == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("no live resumer configured"))
		return
	}
	object, err := h.Store.GetObject(r.Context(), "", id)
	if err != nil {
		h.writeStoreError(w, id, err)
		return
	}
	refreshed, err := h.Resumer.ResumeLive(r.Context(), object)
	if err != nil {
		switch {
		case errors.Is(err, live.ErrNoManifestURL):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, live.ErrAttemptsExhausted):
			writeError(w, http.StatusGatewayTimeout, err)
		default:
			var fetchErr *live.ManifestFetchError
			if errors.As(err, &fetchErr) {
				writeError(w, http.StatusBadGateway, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	update := storage.ObjectUpdate{
		LiveState:   &refreshed.LiveState,
		ManifestURL: &refreshed.ManifestURL,
	}
	if refreshed.UploadState != "" {
		update.UploadState = &refreshed.UploadState
	}
	cached, err := h.Store.UpdateObject(r.Context(), object.ObjectType, object.ID, update)
	if err != nil {
		h.writeStoreError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, cached)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, storage.ErrObjectNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("object %s not found", id))
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
