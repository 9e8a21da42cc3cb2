package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ObjectType identifies the kind of uploadable resource tracked by the
// dashboard. The set is closed; unknown values are rejected at the edges.
type ObjectType string

const (
	ObjectTypeVideo          ObjectType = "video"
	ObjectTypeDocument       ObjectType = "document"
	ObjectTypeSharedMedia    ObjectType = "sharedlivemedia"
	ObjectTypeTimedTextTrack ObjectType = "timedtexttrack"
)

// ObjectTypes lists every supported resource kind in a stable order.
func ObjectTypes() []ObjectType {
	return []ObjectType{
		ObjectTypeVideo,
		ObjectTypeDocument,
		ObjectTypeSharedMedia,
		ObjectTypeTimedTextTrack,
	}
}

// ParseObjectType validates and normalises a resource kind.
func ParseObjectType(value string) (ObjectType, error) {
	normalized := ObjectType(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range ObjectTypes() {
		if normalized == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown object type %q", value)
}

// UploadState is the server-owned processing state of an object. It is
// mutated only by the backend (directly or through the state webhook); the
// upload orchestrator never asserts it.
type UploadState string

const (
	UploadStatePending    UploadState = "pending"
	UploadStateUploading  UploadState = "uploading"
	UploadStateProcessing UploadState = "processing"
	UploadStateReady      UploadState = "ready"
	UploadStateError      UploadState = "error"
	UploadStateHarvesting UploadState = "harvesting"
	UploadStateDeleted    UploadState = "deleted"
)

// UploadStates lists every server-side state in a stable order.
func UploadStates() []UploadState {
	return []UploadState{
		UploadStatePending,
		UploadStateUploading,
		UploadStateProcessing,
		UploadStateReady,
		UploadStateError,
		UploadStateHarvesting,
		UploadStateDeleted,
	}
}

// ParseUploadState validates and normalises a server-side state value.
func ParseUploadState(value string) (UploadState, error) {
	normalized := UploadState(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range UploadStates() {
		if normalized == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown upload state %q", value)
}

// UnmarshalJSON enforces the closed state set when decoding API payloads.
func (s *UploadState) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode upload state: %w", err)
	}
	parsed, err := ParseUploadState(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// LiveState tracks the lifecycle of a live broadcast attached to an object.
type LiveState string

const (
	LiveStateIdle    LiveState = "idle"
	LiveStateRunning LiveState = "running"
	LiveStateStopped LiveState = "stopped"
	LiveStateEnded   LiveState = "ended"
)

// LiveStates lists every broadcast lifecycle state in a stable order.
func LiveStates() []LiveState {
	return []LiveState{LiveStateIdle, LiveStateRunning, LiveStateStopped, LiveStateEnded}
}

// ParseLiveState validates and normalises a broadcast state value.
func ParseLiveState(value string) (LiveState, error) {
	normalized := LiveState(strings.ToLower(strings.TrimSpace(value)))
	for _, known := range LiveStates() {
		if normalized == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown live state %q", value)
}

// DisplayStatus is the single user-facing status derived from the server
// state and the transient upload ticket. It is computed fresh on every
// observation and never stored.
type DisplayStatus string

const (
	StatusPending    DisplayStatus = "Pending"
	StatusUploading  DisplayStatus = "Uploading"
	StatusProcessing DisplayStatus = "Processing"
	StatusReady      DisplayStatus = "Ready"
	StatusError      DisplayStatus = "Error"
)

// UploadableObject is the dashboard's read-mostly cached copy of a
// server-owned resource. UploadState is authoritative on the server; the
// cache is refreshed by webhook deliveries and explicit refetches.
type UploadableObject struct {
	ID          string            `json:"id"`
	ObjectType  ObjectType        `json:"objectType"`
	Title       string            `json:"title,omitempty"`
	Filename    string            `json:"filename,omitempty"`
	UploadState UploadState       `json:"upload_state"`
	LiveState   LiveState         `json:"live_state,omitempty"`
	ManifestURL string            `json:"manifestUrl,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// CloneMetadata returns a defensive copy of the object's metadata map.
func (o UploadableObject) CloneMetadata() map[string]string {
	if len(o.Metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(o.Metadata))
	for k, v := range o.Metadata {
		clone[k] = v
	}
	return clone
}
