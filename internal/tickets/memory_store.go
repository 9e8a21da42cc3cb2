package tickets

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"medialift/internal/models"
)

// ErrObjectIDRequired is returned when a store operation is missing the
// object identifier.
var ErrObjectIDRequired = errors.New("object id is required")

// MemoryStore keeps tickets in process memory. It is the default container
// for a single-replica dashboard and for tests.
type MemoryStore struct {
	mu          sync.RWMutex
	tickets     map[string]Ticket
	generations map[string]uint64
	now         func() time.Time
}

// NewMemoryStore constructs an empty in-memory ticket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:     make(map[string]Ticket),
		generations: make(map[string]uint64),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Begin(_ context.Context, objectType models.ObjectType, objectID, filename string) (Ticket, error) {
	id := normalizeObjectID(objectID)
	if id == "" {
		return Ticket{}, ErrObjectIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generations[id]++
	ticket := Ticket{
		ObjectID:   id,
		ObjectType: objectType,
		Filename:   filename,
		Progress:   0,
		Status:     StatusInit,
		Generation: s.generations[id],
		UpdatedAt:  s.now(),
	}
	s.tickets[id] = ticket
	return ticket, nil
}

func (s *MemoryStore) Update(_ context.Context, objectID string, generation uint64, progress int, status Status) (Ticket, bool, error) {
	id := normalizeObjectID(objectID)
	if id == "" {
		return Ticket{}, false, ErrObjectIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[id]
	if !ok || ticket.Generation != generation {
		return Ticket{}, false, nil
	}
	// Same-generation events race between the transfer goroutine and the
	// body writer; once either records a terminal status the attempt is
	// over and late progress events must not reopen it.
	if ticket.Status.Terminal() {
		return Ticket{}, false, nil
	}
	ticket.Progress = clampProgress(progress)
	ticket.Status = status
	ticket.UpdatedAt = s.now()
	s.tickets[id] = ticket
	return ticket, true, nil
}

func (s *MemoryStore) Get(_ context.Context, objectID string) (Ticket, bool, error) {
	id := normalizeObjectID(objectID)
	if id == "" {
		return Ticket{}, false, ErrObjectIDRequired
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[id]
	return ticket, ok, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Ticket, 0, len(s.tickets))
	for _, ticket := range s.tickets {
		out = append(out, ticket)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObjectID < out[j].ObjectID })
	return out, nil
}

func (s *MemoryStore) Reset(_ context.Context, objectID string) error {
	id := normalizeObjectID(objectID)
	if id == "" {
		return ErrObjectIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// The generation counter survives the reset so events from attempts
	// begun before the reset stay stale forever.
	delete(s.tickets, id)
	return nil
}

var _ Store = (*MemoryStore)(nil)
