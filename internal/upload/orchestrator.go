// Package upload moves media files to object storage through short-lived,
// credential-scoped policies, tracking per-object progress in the shared
// ticket store. It never asserts the server-owned upload_state; notifying the
// backend that an upload exists is the caller's protocol.
package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"medialift/internal/models"
	"medialift/internal/observability/metrics"
	"medialift/internal/policy"
	"medialift/internal/tickets"
)

// Config wires the orchestrator's collaborators.
type Config struct {
	Tickets       tickets.Store
	Policies      policy.Issuer
	HTTPClient    *http.Client
	MaxConcurrent int64
	Logger        *slog.Logger
}

const (
	defaultMaxConcurrent = 4
	defaultUploadTimeout = 30 * time.Minute
)

// Orchestrator manages the lifecycle of one upload per tracked object id.
// Uploads for different ids proceed fully in parallel (bounded only by the
// semaphore); a second AddUpload for an id supersedes the in-flight attempt,
// whose late events are retired by the ticket generation check.
type Orchestrator struct {
	tickets  tickets.Store
	policies policy.Issuer
	client   *http.Client
	sem      *semaphore.Weighted
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an orchestrator, applying defaults for any collaborator the
// config leaves unset.
func New(cfg Config) *Orchestrator {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultUploadTimeout}
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := cfg.Tickets
	if store == nil {
		store = tickets.NewMemoryStore()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		tickets:  store,
		policies: cfg.Policies,
		client:   client,
		sem:      semaphore.NewWeighted(maxConcurrent),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Tickets exposes the shared ticket container for status observers.
func (o *Orchestrator) Tickets() tickets.Store { return o.tickets }

// AddUpload begins (or restarts) the upload of file for the object. The
// ticket is created synchronously with status init and progress 0, so the
// init state is observable before any progress event; the transfer itself
// runs in the background.
func (o *Orchestrator) AddUpload(objectType models.ObjectType, objectID string, file Source) (tickets.Ticket, error) {
	if file.empty() {
		return tickets.Ticket{}, ErrEmptyFile
	}
	ticket, err := o.tickets.Begin(o.ctx, objectType, objectID, file.Name)
	if err != nil {
		return tickets.Ticket{}, err
	}
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.sem.Acquire(o.ctx, 1); err != nil {
			o.update(o.ctx, ticket, 0, tickets.StatusErrUpload)
			return
		}
		defer o.sem.Release(1)
		if err := o.run(o.ctx, ticket, file); err != nil && !errors.Is(err, ErrSuperseded) {
			o.logger.Error("upload failed",
				"object_id", ticket.ObjectID,
				"object_type", ticket.ObjectType,
				"generation", ticket.Generation,
				"error", err,
			)
		}
	}()
	return ticket, nil
}

// UploadNow runs one upload attempt synchronously and returns its terminal
// error, bypassing the background queue. Used by one-shot tooling.
func (o *Orchestrator) UploadNow(ctx context.Context, objectType models.ObjectType, objectID string, file Source) (tickets.Ticket, error) {
	if file.empty() {
		return tickets.Ticket{}, ErrEmptyFile
	}
	ticket, err := o.tickets.Begin(ctx, objectType, objectID, file.Name)
	if err != nil {
		return tickets.Ticket{}, err
	}
	if err := o.run(ctx, ticket, file); err != nil {
		return ticket, err
	}
	final, _, err := o.tickets.Get(ctx, ticket.ObjectID)
	return final, err
}

// ResetUpload removes the object's ticket so a later upload starts from a
// clean slate. Typically called once the server confirms ready.
func (o *Orchestrator) ResetUpload(ctx context.Context, objectID string) error {
	return o.tickets.Reset(ctx, objectID)
}

// Shutdown cancels in-flight uploads and waits for their goroutines, bounded
// by the provided context.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, ticket tickets.Ticket, file Source) error {
	recorder := metrics.Default()
	recorder.UploadStarted()
	err := o.transfer(ctx, ticket, file)
	switch {
	case err == nil:
		recorder.UploadCompleted()
	case errors.Is(err, ErrSuperseded):
		recorder.UploadSuperseded()
	default:
		recorder.UploadFailed()
	}
	return err
}

func (o *Orchestrator) transfer(ctx context.Context, ticket tickets.Ticket, file Source) error {
	if o.policies == nil {
		o.update(ctx, ticket, 0, tickets.StatusErrPolicy)
		return &PolicyError{Err: errors.New("no policy issuer configured")}
	}
	pol, err := o.policies.Issue(ctx, policy.Request{
		ObjectType:  ticket.ObjectType,
		ObjectID:    ticket.ObjectID,
		Filename:    file.Name,
		ContentType: file.ContentType,
		SizeBytes:   file.Size,
	})
	if err != nil {
		// No bytes were sent; progress stays frozen at 0.
		o.update(ctx, ticket, 0, tickets.StatusErrPolicy)
		return &PolicyError{Err: err}
	}

	var lastPct atomic.Int64
	body, contentType := o.multipartBody(ctx, ticket, pol, file, &lastPct)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, pol.URL, body)
	if err != nil {
		o.update(ctx, ticket, int(lastPct.Load()), tickets.StatusErrUpload)
		return &TransportError{Err: err}
	}
	request.Header.Set("Content-Type", contentType)

	response, err := o.client.Do(request)
	if err != nil {
		if errors.Is(err, ErrSuperseded) {
			return ErrSuperseded
		}
		if !o.update(ctx, ticket, int(lastPct.Load()), tickets.StatusErrUpload) {
			return ErrSuperseded
		}
		return &TransportError{Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		if !o.update(ctx, ticket, int(lastPct.Load()), tickets.StatusErrUpload) {
			return ErrSuperseded
		}
		return &TransportError{StatusCode: response.StatusCode}
	}

	// Optimistic: the bytes arrived, server-side processing has not been
	// confirmed yet. The reconciler renders this as Processing.
	if !o.update(ctx, ticket, 100, tickets.StatusSuccess) {
		return ErrSuperseded
	}
	o.logger.Info("upload stored",
		"object_id", ticket.ObjectID,
		"object_type", ticket.ObjectType,
		"generation", ticket.Generation,
		"size_bytes", file.Size,
	)
	return nil
}

// multipartBody streams the policy fields followed by the file as the final
// part. Field ordering matters for signature validity with some stores.
func (o *Orchestrator) multipartBody(ctx context.Context, ticket tickets.Ticket, pol policy.Policy, file Source, lastPct *atomic.Int64) (io.Reader, string) {
	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			for _, field := range pol.OrderedFields() {
				if err := writer.WriteField(field.Name, field.Value); err != nil {
					return err
				}
			}
			part, err := writer.CreateFormFile("file", file.Name)
			if err != nil {
				return err
			}
			reader, err := file.Open()
			if err != nil {
				return err
			}
			defer reader.Close()
			progress := newProgressReader(reader, file.Size, func(percent int) error {
				lastPct.Store(int64(percent))
				if !o.update(ctx, ticket, percent, tickets.StatusUploading) {
					return ErrSuperseded
				}
				return nil
			})
			_, err = io.Copy(part, progress)
			return err
		}()
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(writer.Close())
	}()
	return pr, writer.FormDataContentType()
}

// update applies a generation-guarded ticket change and reports whether this
// attempt still owns the ticket. Store failures are logged but do not abort
// the transfer: the server state remains authoritative either way.
func (o *Orchestrator) update(ctx context.Context, ticket tickets.Ticket, progress int, status tickets.Status) bool {
	_, ok, err := o.tickets.Update(ctx, ticket.ObjectID, ticket.Generation, progress, status)
	if err != nil {
		o.logger.Error("ticket update failed",
			"object_id", ticket.ObjectID,
			"generation", ticket.Generation,
			"status", string(status),
			"error", err,
		)
		return true
	}
	return ok
}
