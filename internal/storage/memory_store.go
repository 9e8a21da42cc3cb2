package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"medialift/internal/models"
)

// MemoryStore is the in-process Repository used for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]models.UploadableObject
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory repository.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]models.UploadableObject),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) CreateObject(_ context.Context, params CreateObjectParams) (models.UploadableObject, error) {
	objectType, err := models.ParseObjectType(string(params.ObjectType))
	if err != nil {
		return models.UploadableObject{}, err
	}
	id := strings.TrimSpace(params.ID)
	if id == "" {
		id = uuid.NewString()
	}
	state := params.UploadState
	if state == "" {
		state = models.UploadStatePending
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.objects[id]; exists {
		return models.UploadableObject{}, errObjectExists(id)
	}
	now := s.now()
	object := models.UploadableObject{
		ID:          id,
		ObjectType:  objectType,
		Title:       strings.TrimSpace(params.Title),
		Filename:    strings.TrimSpace(params.Filename),
		UploadState: state,
		LiveState:   params.LiveState,
		ManifestURL: strings.TrimSpace(params.ManifestURL),
		Metadata:    cloneMetadata(params.Metadata),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.objects[id] = object
	return object, nil
}

func (s *MemoryStore) GetObject(_ context.Context, objectType models.ObjectType, id string) (models.UploadableObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	object, ok := s.objects[strings.TrimSpace(id)]
	if !ok || (objectType != "" && object.ObjectType != objectType) {
		return models.UploadableObject{}, ErrObjectNotFound
	}
	object.Metadata = cloneMetadata(object.Metadata)
	return object, nil
}

func (s *MemoryStore) ListObjects(_ context.Context, objectType models.ObjectType) ([]models.UploadableObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	objects := make([]models.UploadableObject, 0, len(s.objects))
	for _, object := range s.objects {
		if objectType != "" && object.ObjectType != objectType {
			continue
		}
		object.Metadata = cloneMetadata(object.Metadata)
		objects = append(objects, object)
	}
	sort.Slice(objects, func(i, j int) bool {
		if objects[i].CreatedAt.Equal(objects[j].CreatedAt) {
			return objects[i].ID < objects[j].ID
		}
		return objects[i].CreatedAt.Before(objects[j].CreatedAt)
	})
	return objects, nil
}

func (s *MemoryStore) UpdateObject(_ context.Context, objectType models.ObjectType, id string, update ObjectUpdate) (models.UploadableObject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	object, ok := s.objects[strings.TrimSpace(id)]
	if !ok || (objectType != "" && object.ObjectType != objectType) {
		return models.UploadableObject{}, ErrObjectNotFound
	}
	if update.Title != nil {
		object.Title = strings.TrimSpace(*update.Title)
	}
	if update.Filename != nil {
		object.Filename = strings.TrimSpace(*update.Filename)
	}
	if update.UploadState != nil {
		state, err := models.ParseUploadState(string(*update.UploadState))
		if err != nil {
			return models.UploadableObject{}, err
		}
		object.UploadState = state
	}
	if update.LiveState != nil {
		object.LiveState = *update.LiveState
	}
	if update.ManifestURL != nil {
		object.ManifestURL = strings.TrimSpace(*update.ManifestURL)
	}
	if update.Metadata != nil {
		object.Metadata = cloneMetadata(update.Metadata)
	}
	object.UpdatedAt = s.now()
	s.objects[object.ID] = object
	object.Metadata = cloneMetadata(object.Metadata)
	return object, nil
}

func (s *MemoryStore) SetUploadState(ctx context.Context, objectType models.ObjectType, id string, state models.UploadState) (models.UploadableObject, error) {
	return s.UpdateObject(ctx, objectType, id, ObjectUpdate{UploadState: &state})
}

func (s *MemoryStore) DeleteObject(_ context.Context, objectType models.ObjectType, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	object, ok := s.objects[strings.TrimSpace(id)]
	if !ok || (objectType != "" && object.ObjectType != objectType) {
		return ErrObjectNotFound
	}
	delete(s.objects, object.ID)
	return nil
}

func (s *MemoryStore) Close(context.Context) error { return nil }

func cloneMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(metadata))
	for k, v := range metadata {
		clone[k] = v
	}
	return clone
}
