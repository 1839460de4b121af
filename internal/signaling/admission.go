package signaling

import (
	"sort"
	"sync"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

// Admission holds join tickets keyed by candidate connection id.
//
//	REQUESTED -> ADMITTED   host approved; candidate may join
//	REQUESTED -> REJECTED   host rejected; later joins to that meeting are refused
//	REQUESTED -> ABANDONED  candidate disconnected or the ticket expired
//
// Approval never adds a participant: the candidate performs a normal join.
// Rejections are kept apart from the live ticket, per candidate and meeting,
// until the candidate disconnects.
type Admission struct {
	mu       sync.Mutex
	tickets  map[string]*domain.JoinTicket
	rejected map[string]map[string]struct{}
	ttl      time.Duration
	now      func() time.Time
}

func NewAdmission(ttl time.Duration, now func() time.Time) *Admission {
	if now == nil {
		now = time.Now
	}
	return &Admission{
		tickets:  make(map[string]*domain.JoinTicket),
		rejected: make(map[string]map[string]struct{}),
		ttl:      ttl,
		now:      now,
	}
}

// Request opens a ticket, replacing whatever the candidate had before.
func (a *Admission) Request(meetingID, candidateID string, info domain.UserInfo) domain.JoinTicket {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := &domain.JoinTicket{
		RequestID:   candidateID,
		MeetingID:   meetingID,
		Name:        info.Name,
		Email:       info.Email,
		State:       domain.TicketRequested,
		RequestedAt: a.now(),
	}
	a.tickets[candidateID] = t
	return *t
}

func (a *Admission) Ticket(candidateID string) (domain.JoinTicket, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.tickets[candidateID]
	if !ok {
		return domain.JoinTicket{}, false
	}
	return *t, true
}

// Decide moves a REQUESTED ticket to ADMITTED or REJECTED.
func (a *Admission) Decide(requestID string, admit bool) (domain.JoinTicket, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.tickets[requestID]
	if !ok {
		return domain.JoinTicket{}, domain.ErrTicketNotFound
	}
	if t.State.Terminal() {
		return *t, domain.ErrTicketDecided
	}
	t.DecidedAt = a.now()
	if admit {
		t.State = domain.TicketAdmitted
		return *t, nil
	}
	t.State = domain.TicketRejected
	if a.rejected[requestID] == nil {
		a.rejected[requestID] = make(map[string]struct{})
	}
	a.rejected[requestID][t.MeetingID] = struct{}{}
	return *t, nil
}

func (a *Admission) Admitted(candidateID, meetingID string) bool {
	return a.is(candidateID, meetingID, domain.TicketAdmitted)
}

// Rejected reports whether the host of meetingID turned the candidate down.
// Neither a newer request nor expiry clears it.
func (a *Admission) Rejected(candidateID, meetingID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, ok := a.rejected[candidateID][meetingID]
	return ok
}

func (a *Admission) is(candidateID, meetingID string, st domain.TicketState) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.tickets[candidateID]
	return ok && t.MeetingID == meetingID && t.State == st
}

// Consume drops an ADMITTED ticket once the candidate has joined.
func (a *Admission) Consume(candidateID, meetingID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if t, ok := a.tickets[candidateID]; ok && t.MeetingID == meetingID && t.State == domain.TicketAdmitted {
		delete(a.tickets, candidateID)
	}
}

// Abandon forgets the candidate, rejections included. The returned ticket
// reports ABANDONED when it was still pending.
func (a *Admission) Abandon(candidateID string) (domain.JoinTicket, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.rejected, candidateID)
	t, ok := a.tickets[candidateID]
	if !ok {
		return domain.JoinTicket{}, false
	}
	delete(a.tickets, candidateID)
	if t.State == domain.TicketRequested {
		t.State = domain.TicketAbandoned
		t.DecidedAt = a.now()
	}
	return *t, true
}

// Pending lists REQUESTED tickets of a meeting, oldest first.
func (a *Admission) Pending(meetingID string) []domain.JoinTicket {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.JoinTicket
	for _, t := range a.tickets {
		if t.MeetingID == meetingID && t.State == domain.TicketRequested {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].RequestedAt.Before(out[j].RequestedAt)
		}
		return out[i].RequestID < out[j].RequestID
	})
	return out
}

// Expire abandons pending tickets older than the ttl and drops decided ones
// that were never consumed. Only the abandoned pending tickets are returned.
func (a *Admission) Expire() []domain.JoinTicket {
	if a.ttl <= 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	var expired []domain.JoinTicket
	for id, t := range a.tickets {
		switch {
		case t.State == domain.TicketRequested && now.Sub(t.RequestedAt) >= a.ttl:
			t.State = domain.TicketAbandoned
			t.DecidedAt = now
			expired = append(expired, *t)
			delete(a.tickets, id)
		case t.State.Terminal() && now.Sub(t.DecidedAt) >= a.ttl:
			delete(a.tickets, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].RequestID < expired[j].RequestID })
	return expired
}

func (a *Admission) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tickets)
}
