// Package status derives the single user-facing status of an uploadable
// object from its two independent state sources: the server-owned
// upload_state and the transient client-side upload ticket.
package status

import (
	"medialift/internal/models"
	"medialift/internal/tickets"
)

// Derive computes the display status for an object. It is pure and total:
// no I/O, no side effects, and every combination of inputs maps to a value.
//
// The server state dominates as soon as it leaves pending; while the server
// still reports pending the ticket is the only available signal. A ticket in
// success renders as Processing rather than Ready because the storage POST
// completing only proves the bytes landed, not that the server acknowledged
// them.
//
// When the ticket is nil the second source is absent — after a restart an
// in-flight upload therefore derives Pending, silently dropping the "was
// uploading" signal. That loss is accepted behaviour: tickets are transient
// by contract.
func Derive(serverState models.UploadState, ticket *tickets.Ticket) models.DisplayStatus {
	switch serverState {
	case models.UploadStateReady:
		return models.StatusReady
	case models.UploadStateProcessing, models.UploadStateHarvesting:
		return models.StatusProcessing
	case models.UploadStateError, models.UploadStateDeleted:
		return models.StatusError
	case models.UploadStateUploading:
		return models.StatusUploading
	case models.UploadStatePending:
		return fromTicket(ticket)
	default:
		// Unknown server states are surfaced as errors rather than
		// silently mapped onto an optimistic value.
		return models.StatusError
	}
}

func fromTicket(ticket *tickets.Ticket) models.DisplayStatus {
	if ticket == nil {
		return models.StatusPending
	}
	switch ticket.Status {
	case tickets.StatusInit, tickets.StatusUploading:
		return models.StatusUploading
	case tickets.StatusSuccess:
		return models.StatusProcessing
	case tickets.StatusErrPolicy, tickets.StatusErrUpload:
		return models.StatusError
	default:
		return models.StatusPending
	}
}
