package upload

import (
	"errors"
	"fmt"
)

// ErrSuperseded reports that a newer attempt replaced this one while it was
// still in flight. The stale attempt is abandoned without touching the
// ticket, which already belongs to the newer generation.
var ErrSuperseded = errors.New("upload attempt superseded")

// ErrEmptyFile rejects uploads with no bytes to send.
var ErrEmptyFile = errors.New("upload file is empty")

// PolicyError means the upload authorization could not be obtained. No bytes
// were sent to storage.
type PolicyError struct {
	Err error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("upload policy: %v", e.Err)
}

func (e *PolicyError) Unwrap() error { return e.Err }

// TransportError means a policy was obtained but the storage POST failed or
// was rejected. StatusCode is zero when the failure happened below HTTP.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("storage upload: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("storage upload: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
