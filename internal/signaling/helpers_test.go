package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/registry"
	"github.com/cwrk-planet/meeting-service/internal/service"
	"github.com/cwrk-planet/meeting-service/internal/storage/memory"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	msgs   []Message
	fail   bool
	closed bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(m Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("send queue full")
	}
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) all() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

func (c *fakeConn) of(event string) []Message {
	var out []Message
	for _, m := range c.all() {
		if m.Type == event {
			out = append(out, m)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	eng   *Engine
	reg   *registry.Registry
	hub   *Hub
	adm   *Admission
	svc   *service.MeetingService
	clock *time.Time
	conns map[string]*fakeConn
}

type harnessOpt func(*Config, *[]registry.Option)

func requireAdmission() harnessOpt {
	return func(c *Config, _ *[]registry.Option) { c.RequireAdmission = true }
}

func hostPolicy(p registry.HostPolicy) harnessOpt {
	return func(_ *Config, o *[]registry.Option) { *o = append(*o, registry.WithHostPolicy(p)) }
}

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()

	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	clock := &now
	tick := func() time.Time {
		*clock = clock.Add(time.Millisecond)
		return *clock
	}

	var (
		cfg     Config
		regOpts = []registry.Option{registry.WithClock(tick)}
	)
	for _, o := range opts {
		o(&cfg, &regOpts)
	}

	reg := registry.New(nil, regOpts...)
	hub := NewHub()
	adm := NewAdmission(time.Minute, func() time.Time { return *clock })
	svc := service.NewMeetingService(memory.NewReservations(), reg, service.MeetingConfig{ReservationTTL: time.Hour})

	eng := NewEngine(cfg, Deps{
		Registry:     reg,
		Hub:          hub,
		Admission:    adm,
		Reservations: svc,
		Chat:         service.NewChatService(4000),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:          tick,
	})

	return &harness{
		t:     t,
		ctx:   context.Background(),
		eng:   eng,
		reg:   reg,
		hub:   hub,
		adm:   adm,
		svc:   svc,
		clock: clock,
		conns: map[string]*fakeConn{},
	}
}

func (h *harness) reserve(id string) {
	h.t.Helper()
	if _, err := h.svc.Create(h.ctx, id, "creator"); err != nil {
		h.t.Fatalf("reserve %s: %v", id, err)
	}
}

func (h *harness) connect(id string) *fakeConn {
	c := &fakeConn{id: id}
	h.conns[id] = c
	h.eng.Handle(h.ctx, ConnectEvent(c))
	return c
}

func (h *harness) send(connID, event string, payload any) {
	h.t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		h.t.Fatalf("marshal: %v", err)
	}
	frame, _ := json.Marshal(Envelope{Type: event, Payload: raw})
	h.eng.Handle(h.ctx, FrameEvent(connID, frame))
}

func (h *harness) join(connID, meetingID, name string, host bool) {
	h.send(connID, EventJoinMeeting, JoinPayload{
		MeetingID: meetingID,
		UserInfo:  domain.UserInfo{Name: name, IsHost: host},
	})
}

func (h *harness) disconnect(connID string) {
	h.eng.Handle(h.ctx, DisconnectEvent(connID))
}

func (h *harness) participants(meetingID string) []domain.Participant {
	ps, _ := h.reg.ListParticipants(meetingID)
	return ps
}

func (h *harness) resetAll() {
	for _, c := range h.conns {
		c.reset()
	}
}

func errorMessages(c *fakeConn) []string {
	var out []string
	for _, m := range c.of(EventError) {
		out = append(out, m.Payload.(ErrorPayload).Message)
	}
	return out
}

func countID(ps []domain.Participant, id string) int {
	n := 0
	for _, p := range ps {
		if p.ID == id {
			n++
		}
	}
	return n
}
