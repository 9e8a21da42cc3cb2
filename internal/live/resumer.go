// Package live watches HLS manifests to detect when an interrupted broadcast
// has started streaming again. A finalized rendition playlist (one carrying
// the end-of-list marker) means nothing new is being appended; the marker
// disappearing is the signal that the feed is live again.
package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/grafov/m3u8"

	"medialift/internal/models"
	"medialift/internal/observability/metrics"
)

// ErrNoManifestURL is returned when the resource carries no master manifest
// to poll; resumption fails immediately without retrying.
var ErrNoManifestURL = errors.New("resource has no manifest url")

// ErrAttemptsExhausted is returned when the optional poll ceiling is reached
// while the playlist is still finalized.
var ErrAttemptsExhausted = errors.New("resume poll attempts exhausted")

// ManifestFetchError reports a failed manifest download. It propagates
// unretried and aborts the whole resumption attempt.
type ManifestFetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *ManifestFetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch manifest %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch manifest %s: %v", e.URL, e.Err)
}

func (e *ManifestFetchError) Unwrap() error { return e.Err }

// ManifestParseError reports an unusable playlist body.
type ManifestParseError struct {
	URL string
	Err error
}

func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("parse manifest %s: %v", e.URL, e.Err)
}

func (e *ManifestParseError) Unwrap() error { return e.Err }

// Refresher refetches a resource representation once resumption is detected.
type Refresher interface {
	Get(ctx context.Context, objectType models.ObjectType, id string) (models.UploadableObject, error)
}

// Config tunes the resumer.
type Config struct {
	Resources  Refresher
	HTTPClient *http.Client
	// PollInterval is the fixed delay between checks of a finalized
	// playlist. Defaults to 2.5 seconds.
	PollInterval time.Duration
	// MaxAttempts bounds the poll loop; zero keeps it unbounded, matching
	// the behaviour callers historically relied on.
	MaxAttempts int
	Logger      *slog.Logger
}

const defaultPollInterval = 2500 * time.Millisecond

// Resumer polls rendition playlists until a broadcast resumes. It holds no
// shared mutable state; each ResumeLive call is independent and is cancelled
// through its context.
type Resumer struct {
	resources    Refresher
	client       *http.Client
	pollInterval time.Duration
	maxAttempts  int
	logger       *slog.Logger
}

// New constructs a resumer with defaults applied.
func New(cfg Config) *Resumer {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resumer{
		resources:    cfg.Resources,
		client:       client,
		pollInterval: interval,
		maxAttempts:  cfg.MaxAttempts,
		logger:       logger,
	}
}

// ResumeLive blocks until the resource's live feed is streaming again, then
// refetches the resource exactly once so caller-visible state (URLs,
// live_state) is fresh. Fetch and parse failures propagate unretried.
func (r *Resumer) ResumeLive(ctx context.Context, obj models.UploadableObject) (models.UploadableObject, error) {
	if obj.ManifestURL == "" {
		return models.UploadableObject{}, ErrNoManifestURL
	}
	renditionURL, err := r.resolveRendition(ctx, obj.ManifestURL)
	if err != nil {
		return models.UploadableObject{}, err
	}

	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return models.UploadableObject{}, err
		}
		attempts++
		metrics.Default().ObserveResumePoll()
		finalized, err := r.renditionFinalized(ctx, renditionURL)
		if err != nil {
			return models.UploadableObject{}, err
		}
		if !finalized {
			break
		}
		if r.maxAttempts > 0 && attempts >= r.maxAttempts {
			return models.UploadableObject{}, ErrAttemptsExhausted
		}
		if err := sleep(ctx, r.pollInterval); err != nil {
			return models.UploadableObject{}, err
		}
	}

	metrics.Default().ObserveResumeCompleted()
	r.logger.Info("live feed resumed",
		"object_id", obj.ID,
		"object_type", obj.ObjectType,
		"attempts", attempts,
	)
	refreshed, err := r.resources.Get(ctx, obj.ObjectType, obj.ID)
	if err != nil {
		return models.UploadableObject{}, fmt.Errorf("refresh resource after resume: %w", err)
	}
	return refreshed, nil
}

// resolveRendition downloads the master manifest and resolves the first
// listed rendition's URI against the master URL.
func (r *Resumer) resolveRendition(ctx context.Context, masterURL string) (string, error) {
	base, err := url.Parse(masterURL)
	if err != nil {
		return "", &ManifestParseError{URL: masterURL, Err: err}
	}
	playlist, listType, err := r.fetchPlaylist(ctx, masterURL)
	if err != nil {
		return "", err
	}
	if listType != m3u8.MASTER {
		return "", &ManifestParseError{URL: masterURL, Err: errors.New("expected a multivariant playlist")}
	}
	master := playlist.(*m3u8.MasterPlaylist)
	if len(master.Variants) == 0 || master.Variants[0] == nil || master.Variants[0].URI == "" {
		return "", &ManifestParseError{URL: masterURL, Err: errors.New("master playlist lists no renditions")}
	}
	rendition, err := url.Parse(master.Variants[0].URI)
	if err != nil {
		return "", &ManifestParseError{URL: masterURL, Err: fmt.Errorf("rendition uri: %w", err)}
	}
	return base.ResolveReference(rendition).String(), nil
}

// renditionFinalized reports whether the rendition playlist still carries
// the end-of-list marker.
func (r *Resumer) renditionFinalized(ctx context.Context, renditionURL string) (bool, error) {
	playlist, listType, err := r.fetchPlaylist(ctx, renditionURL)
	if err != nil {
		return false, err
	}
	if listType != m3u8.MEDIA {
		return false, &ManifestParseError{URL: renditionURL, Err: errors.New("expected a media playlist")}
	}
	media := playlist.(*m3u8.MediaPlaylist)
	return media.Closed, nil
}

func (r *Resumer) fetchPlaylist(ctx context.Context, manifestURL string) (m3u8.Playlist, m3u8.ListType, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, 0, &ManifestFetchError{URL: manifestURL, Err: err}
	}
	response, err := r.client.Do(request)
	if err != nil {
		return nil, 0, &ManifestFetchError{URL: manifestURL, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, response.Body)
		_ = response.Body.Close()
	}()
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, 0, &ManifestFetchError{URL: manifestURL, StatusCode: response.StatusCode}
	}
	playlist, listType, err := m3u8.DecodeFrom(response.Body, true)
	if err != nil {
		return nil, 0, &ManifestParseError{URL: manifestURL, Err: err}
	}
	return playlist, listType, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
