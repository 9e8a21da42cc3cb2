// Package storage holds the dashboard's cached copies of server-owned
// resources. The cache is what handlers read; it is refreshed by state
// webhook deliveries and explicit refetches, never by the upload path.
package storage

import (
	"context"
	"errors"
	"fmt"

	"medialift/internal/models"
)

// ErrObjectNotFound is returned when no cached object matches the lookup.
var ErrObjectNotFound = errors.New("object not found")

// ErrObjectExists is returned when a create collides with a cached id.
var ErrObjectExists = errors.New("object already exists")

func errObjectExists(id string) error {
	return fmt.Errorf("object %s: %w", id, ErrObjectExists)
}

// CreateObjectParams captures the fields accepted when registering a new
// uploadable object. ID is generated when empty; UploadState defaults to
// pending.
type CreateObjectParams struct {
	ID          string
	ObjectType  models.ObjectType
	Title       string
	Filename    string
	UploadState models.UploadState
	LiveState   models.LiveState
	ManifestURL string
	Metadata    map[string]string
}

// ObjectUpdate applies partial changes to a cached object. Nil pointers leave
// the field untouched; a non-nil Metadata map replaces the stored map.
type ObjectUpdate struct {
	Title       *string
	Filename    *string
	UploadState *models.UploadState
	LiveState   *models.LiveState
	ManifestURL *string
	Metadata    map[string]string
}

// Repository exposes the datastore operations required by API handlers and
// the state webhook receiver.
type Repository interface {
	Ping(ctx context.Context) error

	CreateObject(ctx context.Context, params CreateObjectParams) (models.UploadableObject, error)
	GetObject(ctx context.Context, objectType models.ObjectType, id string) (models.UploadableObject, error)
	ListObjects(ctx context.Context, objectType models.ObjectType) ([]models.UploadableObject, error)
	UpdateObject(ctx context.Context, objectType models.ObjectType, id string, update ObjectUpdate) (models.UploadableObject, error)
	SetUploadState(ctx context.Context, objectType models.ObjectType, id string, state models.UploadState) (models.UploadableObject, error)
	DeleteObject(ctx context.Context, objectType models.ObjectType, id string) error

	Close(ctx context.Context) error
}

var (
	_ Repository = (*MemoryStore)(nil)
	_ Repository = (*PostgresStore)(nil)
)
