// Package registry is the authoritative store of live meetings and their participants.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"

	"github.com/samber/lo"
)

type HostPolicy string

const (
	// HostByFlag: earliest-joined participant carrying isHost wins.
	HostByFlag HostPolicy = "flag"
	// HostUnique: like HostByFlag, and a joiner claiming isHost is demoted
	// while another live host is present.
	HostUnique HostPolicy = "unique"
)

func ParseHostPolicy(s string) (HostPolicy, error) {
	switch HostPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case HostByFlag, "":
		return HostByFlag, nil
	case HostUnique:
		return HostUnique, nil
	default:
		return "", fmt.Errorf("unknown host policy %q", s)
	}
}

// Join describes the participant record as stored after an add.
type Join struct {
	Participant domain.Participant
	Replaced    bool // same connection id was already present
	Count       int
}

// Removal describes the outcome of RemoveParticipant.
type Removal struct {
	Participant    domain.Participant
	Remaining      int
	MeetingDeleted bool
}

type Registry struct {
	mu     sync.Mutex
	store  Store
	policy HostPolicy
	now    func() time.Time
}

type Option func(*Registry)

func WithHostPolicy(p HostPolicy) Option {
	return func(r *Registry) { r.policy = p }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(store Store, opts ...Option) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	r := &Registry{store: store, policy: HostByFlag, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) Policy() HostPolicy { return r.policy }

// CreateMeeting registers id with host as its first participant. An existing
// id is reused and host is added to it.
func (r *Registry) CreateMeeting(id string, host domain.Participant) (domain.Meeting, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Meeting{}, domain.ErrInvalidMeetingID
	}
	if host.ID == "" {
		return domain.Meeting{}, domain.ErrInvalidParticipant
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.store.Get(id)
	if !ok {
		m = &domain.Meeting{
			ID:           id,
			HostID:       host.ID,
			Participants: make(map[string]*domain.Participant),
			CreatedAt:    r.now(),
		}
		r.store.Put(m)
	}
	r.put(m, host)
	return m.Clone(), nil
}

func (r *Registry) GetMeeting(id string) (domain.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.store.Get(id)
	if !ok {
		return domain.Meeting{}, domain.ErrMeetingNotFound
	}
	return m.Clone(), nil
}

func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.store.Get(id)
	return ok
}

// AddParticipant inserts or replaces p. The meeting must exist.
func (r *Registry) AddParticipant(meetingID string, p domain.Participant) (Join, error) {
	if p.ID == "" {
		return Join{}, domain.ErrInvalidParticipant
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.store.Get(meetingID)
	if !ok {
		return Join{}, domain.ErrMeetingNotFound
	}
	return r.put(m, p), nil
}

func (r *Registry) put(m *domain.Meeting, p domain.Participant) Join {
	_, replaced := m.Participants[p.ID]
	if p.IsHost && r.policy == HostUnique {
		if h := hostOf(m); h != nil && h.ID != p.ID {
			p.IsHost = false
		}
	}
	stored := p
	m.Participants[p.ID] = &stored
	return Join{Participant: stored, Replaced: replaced, Count: len(m.Participants)}
}

// RemoveParticipant drops participantID and deletes the meeting in the same
// critical section once it is empty.
func (r *Registry) RemoveParticipant(meetingID, participantID string) (Removal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.store.Get(meetingID)
	if !ok {
		return Removal{}, domain.ErrMeetingNotFound
	}
	p, ok := m.Participants[participantID]
	if !ok {
		return Removal{}, domain.ErrParticipantNotFound
	}
	delete(m.Participants, participantID)

	out := Removal{Participant: *p, Remaining: len(m.Participants)}
	if out.Remaining == 0 {
		r.store.Delete(meetingID)
		out.MeetingDeleted = true
	}
	return out, nil
}

// ListParticipants returns a snapshot ordered by join time. Callers must not
// rely on the order.
func (r *Registry) ListParticipants(meetingID string) ([]domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.store.Get(meetingID)
	if !ok {
		return nil, domain.ErrMeetingNotFound
	}
	return sorted(m), nil
}

// UpdateParticipant applies fn to the stored record; fn must not change the id.
func (r *Registry) UpdateParticipant(meetingID, participantID string, fn func(p *domain.Participant)) (domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.store.Get(meetingID)
	if !ok {
		return domain.Participant{}, domain.ErrMeetingNotFound
	}
	p, ok := m.Participants[participantID]
	if !ok {
		return domain.Participant{}, domain.ErrParticipantNotFound
	}
	fn(p)
	p.ID = participantID
	return *p, nil
}

// MeetingsOf scans every meeting for participantID.
func (r *Registry) MeetingsOf(participantID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	r.store.Range(func(m *domain.Meeting) bool {
		if _, ok := m.Participants[participantID]; ok {
			ids = append(ids, m.ID)
		}
		return true
	})
	sort.Strings(ids)
	return ids
}

// Host resolves the live host connection of a meeting per the policy.
func (r *Registry) Host(meetingID string) (domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.store.Get(meetingID)
	if !ok {
		return domain.Participant{}, domain.ErrMeetingNotFound
	}
	h := hostOf(m)
	if h == nil {
		return domain.Participant{}, domain.ErrNoHost
	}
	return *h, nil
}

// Len is the number of live meetings.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.store.Len()
}

func hostOf(m *domain.Meeting) *domain.Participant {
	hosts := lo.Filter(lo.Values(m.Participants), func(p *domain.Participant, _ int) bool {
		return p.IsHost
	})
	if len(hosts) == 0 {
		return nil
	}
	sort.Slice(hosts, func(i, j int) bool { return earlier(hosts[i], hosts[j]) })
	return hosts[0]
}

func sorted(m *domain.Meeting) []domain.Participant {
	out := lo.Map(lo.Values(m.Participants), func(p *domain.Participant, _ int) domain.Participant {
		return *p
	})
	sort.Slice(out, func(i, j int) bool { return earlier(&out[i], &out[j]) })
	return out
}

func earlier(a, b *domain.Participant) bool {
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.ID < b.ID
}
