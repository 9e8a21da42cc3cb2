// Package tickets holds the transient, per-object upload records shared
// between the upload orchestrator and every status observer. A ticket is
// client-side bookkeeping only: the server's upload_state stays the single
// source of truth and losing a ticket (process restart, replica failover)
// loses nothing but in-flight progress display.
package tickets

import (
	"context"
	"strings"
	"time"

	"medialift/internal/models"
)

// Status is the lifecycle of a single upload attempt.
type Status string

const (
	StatusInit      Status = "init"
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusErrPolicy Status = "err_policy"
	StatusErrUpload Status = "err_upload"
)

// Terminal reports whether the attempt has finished, successfully or not.
// A terminal status is sticky within a generation: Update refuses to move a
// ticket out of it, so a progress event still in flight when its transfer
// fails cannot resurrect the attempt.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusErrPolicy, StatusErrUpload:
		return true
	}
	return false
}

// Ticket records the observable state of one upload attempt for one object.
// Generation increases monotonically per object id; asynchronous updates
// carrying a stale generation are discarded so a superseded attempt can never
// clobber its successor.
type Ticket struct {
	ObjectID   string            `json:"objectId"`
	ObjectType models.ObjectType `json:"objectType"`
	Filename   string            `json:"filename,omitempty"`
	Progress   int               `json:"progress"`
	Status     Status            `json:"status"`
	Generation uint64            `json:"generation"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// Store is the process-wide (or replica-shared) ticket container. At most one
// ticket exists per object id; Begin supersedes any ticket in place.
type Store interface {
	// Begin creates or replaces the ticket for the object with
	// progress=0 and status=init, and allocates the next generation.
	Begin(ctx context.Context, objectType models.ObjectType, objectID, filename string) (Ticket, error)
	// Update applies a progress/status change guarded by generation.
	// Updates whose generation does not match the current ticket, or that
	// target a ticket already in a terminal status, are no-ops and report
	// false. Only Begin restarts a finished attempt.
	Update(ctx context.Context, objectID string, generation uint64, progress int, status Status) (Ticket, bool, error)
	// Get returns the current ticket for the object, when present.
	Get(ctx context.Context, objectID string) (Ticket, bool, error)
	// List returns every live ticket.
	List(ctx context.Context) ([]Ticket, error)
	// Reset removes the ticket so a later upload starts from a clean
	// slate. Generations keep increasing across resets.
	Reset(ctx context.Context, objectID string) error
}

func normalizeObjectID(id string) string {
	return strings.TrimSpace(id)
}

func clampProgress(progress int) int {
	if progress < 0 {
		return 0
	}
	if progress > 100 {
		return 100
	}
	return progress
}
