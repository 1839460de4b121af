package registry

import "github.com/cwrk-planet/meeting-service/internal/domain"

// Store holds live meetings. Implementations need no locking of their own:
// the Registry serializes every call.
type Store interface {
	Get(id string) (*domain.Meeting, bool)
	Put(m *domain.Meeting)
	Delete(id string)
	Range(fn func(m *domain.Meeting) bool)
	Len() int
}

type MemoryStore struct {
	meetings map[string]*domain.Meeting
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{meetings: make(map[string]*domain.Meeting)}
}

func (s *MemoryStore) Get(id string) (*domain.Meeting, bool) {
	m, ok := s.meetings[id]
	return m, ok
}

func (s *MemoryStore) Put(m *domain.Meeting) { s.meetings[m.ID] = m }

func (s *MemoryStore) Delete(id string) { delete(s.meetings, id) }

func (s *MemoryStore) Range(fn func(m *domain.Meeting) bool) {
	for _, m := range s.meetings {
		if !fn(m) {
			return
		}
	}
}

func (s *MemoryStore) Len() int { return len(s.meetings) }
