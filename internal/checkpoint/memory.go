package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps the checkpoint log in process.
type MemoryStore struct {
	mu    sync.RWMutex
	log   []Checkpoint
	clock func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{clock: time.Now}
}

func (s *MemoryStore) Load(_ context.Context) (Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.log) == 0 {
		return Checkpoint{}, nil
	}
	return s.log[len(s.log)-1], nil
}

func (s *MemoryStore) Save(_ context.Context, eventID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := eventID
	s.log = append(s.log, Checkpoint{LastProcessedEventID: &id, UpdatedAt: s.clock()})
	return nil
}

// History returns every saved event id, oldest first.
func (s *MemoryStore) History() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.log))
	for _, c := range s.log {
		out = append(out, *c.LastProcessedEventID)
	}
	return out
}
