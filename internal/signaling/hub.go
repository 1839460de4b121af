package signaling

import (
	"sort"
	"sync"

	"github.com/cwrk-planet/meeting-service/internal/domain"

	"github.com/samber/lo"
)

// Conn is one live client connection. Send must not block: it enqueues the
// frame and preserves order for this connection.
type Conn interface {
	ID() string
	Send(msg Message) error
	Close() error
}

// Hub addresses connections by id and groups them into meeting rooms.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]Conn
	rooms map[string]map[string]struct{} // meetingID -> conn ids
}

func NewHub() *Hub {
	return &Hub{
		conns: make(map[string]Conn),
		rooms: make(map[string]map[string]struct{}),
	}
}

func (h *Hub) Register(c Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c.ID()] = c
}

// Unregister forgets the connection and every room membership it had.
func (h *Hub) Unregister(connID string) (Conn, []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.conns[connID]
	delete(h.conns, connID)

	var left []string
	for meetingID, members := range h.rooms {
		if _, ok := members[connID]; !ok {
			continue
		}
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, meetingID)
		}
		left = append(left, meetingID)
	}
	sort.Strings(left)
	return c, left
}

func (h *Hub) Live(connID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[connID]
	return ok
}

func (h *Hub) Join(meetingID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rs, ok := h.rooms[meetingID]
	if !ok {
		rs = make(map[string]struct{})
		h.rooms[meetingID] = rs
	}
	rs[connID] = struct{}{}
}

func (h *Hub) Leave(meetingID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if rs, ok := h.rooms[meetingID]; ok {
		delete(rs, connID)
		if len(rs) == 0 {
			delete(h.rooms, meetingID)
		}
	}
}

func (h *Hub) Members(meetingID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := lo.Keys(h.rooms[meetingID])
	sort.Strings(ids)
	return ids
}

// Emit unicasts msg. A gone connection yields ErrNoRecipient.
func (h *Hub) Emit(connID string, msg Message) error {
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return domain.ErrNoRecipient
	}
	return c.Send(msg)
}

// EmitRoom sends msg to every connection in the meeting except the one named
// by except (empty sends to all). Returns the number of successful sends.
func (h *Hub) EmitRoom(meetingID, except string, msg Message) int {
	h.mu.RLock()
	targets := make([]Conn, 0, len(h.rooms[meetingID]))
	for id := range h.rooms[meetingID] {
		if id == except {
			continue
		}
		if c, ok := h.conns[id]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	n := 0
	for _, c := range targets {
		if c.Send(msg) == nil {
			n++
		}
	}
	return n
}
