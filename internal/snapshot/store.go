package snapshot

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultStoreCapacity = 16

// Store keeps the most recent captures in memory, oldest evicted first.
type Store struct {
	mu       sync.RWMutex
	capacity int
	order    []string
	items    map[string]Capture
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = defaultStoreCapacity
	}
	return &Store{capacity: capacity, items: make(map[string]Capture)}
}

// Put stores c and returns its id, assigning one when empty.
func (s *Store) Put(c Capture) string {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.TakenAt.IsZero() {
		c.TakenAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[c.ID]; !exists {
		s.order = append(s.order, c.ID)
	}
	s.items[c.ID] = c
	for len(s.order) > s.capacity {
		delete(s.items, s.order[0])
		s.order = s.order[1:]
	}
	return c.ID
}

func (s *Store) Get(id string) (Capture, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.items[id]
	return c, ok
}

func (s *Store) Latest() (Capture, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return Capture{}, false
	}
	c, ok := s.items[s.order[len(s.order)-1]]
	return c, ok
}

// Len reports how many captures are retained.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
