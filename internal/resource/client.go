// Package resource is the narrow client for the Resource API: the REST
// service that owns uploadable resources and their upload_state. The client
// never mutates upload_state; it only refetches representations and performs
// the create-then-upload handshake that mints upload policies.
package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"medialift/internal/models"
	"medialift/internal/policy"
)

// Config wires the client to a Resource API deployment.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

const defaultRequestTimeout = 30 * time.Second

// Client talks to one Resource API base URL.
type Client struct {
	baseURL *url.URL
	token   string
	client  *http.Client
}

// New validates the base URL and returns a ready client.
func New(cfg Config) (*Client, error) {
	trimmed := strings.TrimSpace(cfg.BaseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("resource api base url is required")
	}
	base, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse resource api base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("resource api base url %q must be absolute", trimmed)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	return &Client{baseURL: base, token: strings.TrimSpace(cfg.Token), client: client}, nil
}

// Get fetches the current representation of a resource, including its
// server-owned upload_state.
func (c *Client) Get(ctx context.Context, objectType models.ObjectType, id string) (models.UploadableObject, error) {
	trimmedID := strings.TrimSpace(id)
	if objectType == "" || trimmedID == "" {
		return models.UploadableObject{}, fmt.Errorf("object type and id are required")
	}
	endpoint := c.endpoint(fmt.Sprintf("/api/%s/%s/", objectType, trimmedID))
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.UploadableObject{}, fmt.Errorf("create resource request: %w", err)
	}
	c.authorize(request)
	response, err := c.client.Do(request)
	if err != nil {
		return models.UploadableObject{}, fmt.Errorf("fetch %s %s: %w", objectType, trimmedID, err)
	}
	defer drainAndClose(response.Body)
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return models.UploadableObject{}, fmt.Errorf("fetch %s %s: unexpected status %d", objectType, trimmedID, response.StatusCode)
	}
	var object models.UploadableObject
	if err := json.NewDecoder(response.Body).Decode(&object); err != nil {
		return models.UploadableObject{}, fmt.Errorf("decode %s %s: %w", objectType, trimmedID, err)
	}
	if object.ID == "" {
		object.ID = trimmedID
	}
	if object.ObjectType == "" {
		object.ObjectType = objectType
	}
	return object, nil
}

type initiateUploadRequest struct {
	Filename string `json:"filename"`
	Mimetype string `json:"mimetype"`
	Size     int64  `json:"size"`
}

// InitiateUpload performs the create-then-upload handshake: it tells the
// backend an upload is about to happen and receives the policy scoped to the
// object's storage key.
func (c *Client) InitiateUpload(ctx context.Context, req policy.Request) (policy.Policy, error) {
	trimmedID := strings.TrimSpace(req.ObjectID)
	if req.ObjectType == "" || trimmedID == "" {
		return policy.Policy{}, policy.ErrObjectRequired
	}
	payload, err := json.Marshal(initiateUploadRequest{
		Filename: req.Filename,
		Mimetype: req.ContentType,
		Size:     req.SizeBytes,
	})
	if err != nil {
		return policy.Policy{}, fmt.Errorf("marshal initiate-upload request: %w", err)
	}
	endpoint := c.endpoint(fmt.Sprintf("/api/%s/%s/initiate-upload/", req.ObjectType, trimmedID))
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return policy.Policy{}, fmt.Errorf("create initiate-upload request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	c.authorize(request)
	response, err := c.client.Do(request)
	if err != nil {
		return policy.Policy{}, fmt.Errorf("initiate upload for %s %s: %w", req.ObjectType, trimmedID, err)
	}
	defer drainAndClose(response.Body)
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return policy.Policy{}, fmt.Errorf("initiate upload for %s %s: unexpected status %d", req.ObjectType, trimmedID, response.StatusCode)
	}
	var pol policy.Policy
	if err := json.NewDecoder(response.Body).Decode(&pol); err != nil {
		return policy.Policy{}, fmt.Errorf("decode upload policy: %w", err)
	}
	if pol.URL == "" || len(pol.Fields) == 0 {
		return policy.Policy{}, fmt.Errorf("upload policy response missing url or fields")
	}
	return pol, nil
}

// Issue lets the client stand in as a policy issuer for the upload
// orchestrator.
func (c *Client) Issue(ctx context.Context, req policy.Request) (policy.Policy, error) {
	return c.InitiateUpload(ctx, req)
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func (c *Client) authorize(request *http.Request) {
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}

var _ policy.Issuer = (*Client)(nil)
