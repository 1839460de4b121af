// Package memory keeps meeting reservations in process memory.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

type Reservations struct {
	mu   sync.RWMutex
	rows map[string]domain.Reservation
}

func NewReservations() *Reservations {
	return &Reservations{rows: make(map[string]domain.Reservation)}
}

func (s *Reservations) Reserve(_ context.Context, r domain.Reservation) (domain.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.rows[r.ID]; ok {
		if r.ExpiresAt.After(cur.ExpiresAt) {
			cur.ExpiresAt = r.ExpiresAt
		}
		s.rows[r.ID] = cur
		return cur, nil
	}
	s.rows[r.ID] = r
	return r, nil
}

func (s *Reservations) Get(_ context.Context, id string) (domain.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rows[id]
	if !ok {
		return domain.Reservation{}, domain.ErrMeetingNotFound
	}
	return r, nil
}

func (s *Reservations) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.rows, id)
	return nil
}

func (s *Reservations) Purge(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, r := range s.rows {
		if r.Expired(before) {
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}
