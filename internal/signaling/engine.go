package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/registry"
)

var ErrEngineStopped = errors.New("signaling engine stopped")

// Reservations is the lifecycle side of a meeting id: ids handed out by the
// HTTP API that have no live room yet.
type Reservations interface {
	Exists(ctx context.Context, id string) (bool, error)
	Claim(ctx context.Context, id string) error
	Release(ctx context.Context, id string) error
}

type ChatComposer interface {
	Compose(sender domain.Participant, text string) (domain.ChatMessage, error)
}

type Config struct {
	InboxSize        int
	RequireAdmission bool          // non-host joins to a live meeting need an ADMITTED ticket
	SweepEvery       time.Duration // admission ticket expiry
}

type Deps struct {
	Registry     *registry.Registry
	Hub          *Hub
	Admission    *Admission
	Reservations Reservations
	Chat         ChatComposer
	Logger       *slog.Logger
	Now          func() time.Time
}

type eventKind int

const (
	kindConnect eventKind = iota
	kindFrame
	kindDisconnect
	kindSweep
)

// Event is one unit of work for the engine loop.
type Event struct {
	kind   eventKind
	connID string
	conn   Conn
	frame  []byte
}

func ConnectEvent(c Conn) Event { return Event{kind: kindConnect, connID: c.ID(), conn: c} }

func FrameEvent(connID string, frame []byte) Event {
	return Event{kind: kindFrame, connID: connID, frame: frame}
}

func DisconnectEvent(connID string) Event { return Event{kind: kindDisconnect, connID: connID} }

func SweepEvent() Event { return Event{kind: kindSweep} }

// Engine applies signaling events one at a time. All registry mutations
// happen on the goroutine running Run (or the caller of Handle).
type Engine struct {
	cfg   Config
	reg   *registry.Registry
	hub   *Hub
	adm   *Admission
	relay *Relay
	bcast *Broadcaster
	res   Reservations
	chat  ChatComposer
	log   *slog.Logger
	now   func() time.Time

	inbox    chan Event
	stopped  chan struct{}
	stopOnce sync.Once
}

func NewEngine(cfg Config, d Deps) *Engine {
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Engine{
		cfg:     cfg,
		reg:     d.Registry,
		hub:     d.Hub,
		adm:     d.Admission,
		relay:   NewRelay(d.Hub),
		bcast:   NewBroadcaster(d.Registry, d.Hub),
		res:     d.Reservations,
		chat:    d.Chat,
		log:     d.Logger,
		now:     d.Now,
		inbox:   make(chan Event, cfg.InboxSize),
		stopped: make(chan struct{}),
	}
}

// Run processes the inbox until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	defer e.stopOnce.Do(func() { close(e.stopped) })

	var sweep <-chan time.Time
	if e.cfg.SweepEvery > 0 {
		t := time.NewTicker(e.cfg.SweepEvery)
		defer t.Stop()
		sweep = t.C
	}

	e.log.Info("signaling engine started", "inbox", cap(e.inbox))
	for {
		select {
		case <-ctx.Done():
			e.log.Info("signaling engine stopped")
			return nil
		case ev := <-e.inbox:
			e.Handle(ctx, ev)
		case <-sweep:
			e.Handle(ctx, SweepEvent())
		}
	}
}

// Submit queues ev for Run.
func (e *Engine) Submit(ctx context.Context, ev Event) error {
	select {
	case <-e.stopped:
		return ErrEngineStopped
	default:
	}
	select {
	case e.inbox <- ev:
		return nil
	case <-e.stopped:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle applies one event synchronously. A panic is logged and contained
// to this event.
func (e *Engine) Handle(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("signaling handler panic",
				"conn", ev.connID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	switch ev.kind {
	case kindConnect:
		e.hub.Register(ev.conn)
		_ = e.hub.Emit(ev.connID, Message{Type: EventConnected, Payload: ConnectedPayload{ConnectionID: ev.connID}})
	case kindFrame:
		e.handleFrame(ctx, ev.connID, ev.frame)
	case kindDisconnect:
		e.disconnect(ctx, ev.connID)
	case kindSweep:
		e.sweep()
	}
}

func (e *Engine) handleFrame(ctx context.Context, connID string, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil || env.Type == "" {
		e.fail(connID, "", msgInvalidPayload)
		return
	}

	switch env.Type {
	case EventJoinMeeting:
		var p JoinPayload
		if e.decode(connID, env, &p) {
			e.join(ctx, connID, p)
		}
	case EventRequestJoin:
		var p JoinPayload
		if e.decode(connID, env, &p) {
			e.requestJoin(ctx, connID, p)
		}
	case EventApproveJoin, EventRejectJoin:
		var p DecisionPayload
		if e.decode(connID, env, &p) {
			e.decide(connID, env.Type, p)
		}
	case EventOffer, EventAnswer, EventICECandidate:
		var p RelayPayload
		if e.decode(connID, env, &p) {
			e.forward(connID, env.Type, p)
		}
	case EventToggleVideo, EventToggleAudio, EventToggleScreenShare, EventRaiseHand:
		var p TogglePayload
		if e.decode(connID, env, &p) {
			e.toggle(connID, env.Type, p)
		}
	case EventSendMessage:
		var p ChatPayload
		if e.decode(connID, env, &p) {
			e.sendMessage(connID, p)
		}
	case EventLeaveMeeting:
		var p LeavePayload
		if e.decode(connID, env, &p) {
			e.leave(ctx, connID, p.MeetingID)
		}
	default:
		e.fail(connID, env.Type, msgUnsupported)
	}
}

func (e *Engine) decode(connID string, env Envelope, dst any) bool {
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		e.log.Debug("signaling bad payload", "conn", connID, "event", env.Type, "err", err)
		e.fail(connID, env.Type, msgInvalidPayload)
		return false
	}
	return true
}

func (e *Engine) fail(connID, event, msg string) {
	_ = e.hub.Emit(connID, Message{Type: EventError, Payload: ErrorPayload{Message: msg, Event: event}})
}

// known reports whether id is a live room or an unclaimed reservation.
func (e *Engine) known(ctx context.Context, connID, event, id string) (live, ok bool) {
	if e.reg.Has(id) {
		return true, true
	}
	exists, err := e.res.Exists(ctx, id)
	if err != nil {
		e.log.Error("reservation lookup failed", "meeting", id, "err", err)
		e.fail(connID, event, msgInternal)
		return false, false
	}
	if !exists {
		e.fail(connID, event, msgMeetingNotFound)
		return false, false
	}
	return false, true
}

func (e *Engine) join(ctx context.Context, connID string, p JoinPayload) {
	id := strings.TrimSpace(p.MeetingID)
	if id == "" {
		e.fail(connID, EventJoinMeeting, msgInvalidPayload)
		return
	}
	if e.adm.Rejected(connID, id) {
		e.fail(connID, EventJoinMeeting, msgJoinRejected)
		return
	}

	live, ok := e.known(ctx, connID, EventJoinMeeting, id)
	if !ok {
		return
	}
	if live && e.cfg.RequireAdmission && !e.hostClaim(id, connID, p.UserInfo.IsHost) &&
		!e.adm.Admitted(connID, id) && !e.member(id, connID) {
		e.fail(connID, EventJoinMeeting, msgAdmissionRequired)
		return
	}

	participant := domain.NewParticipant(connID, p.UserInfo, e.now())

	var (
		j   registry.Join
		err error
	)
	if live {
		j, err = e.reg.AddParticipant(id, participant)
	} else {
		var m domain.Meeting
		m, err = e.reg.CreateMeeting(id, participant)
		if err == nil {
			j = registry.Join{Participant: *m.Participants[connID], Count: len(m.Participants)}
			if cerr := e.res.Claim(ctx, id); cerr != nil {
				e.log.Warn("reservation claim failed", "meeting", id, "err", cerr)
			}
		}
	}
	if err != nil {
		e.log.Warn("join failed", "meeting", id, "conn", connID, "err", err)
		e.fail(connID, EventJoinMeeting, msgMeetingNotFound)
		return
	}

	e.adm.Consume(connID, id)
	if err := e.bcast.Joined(id, j); err != nil {
		e.log.Debug("meeting-joined not delivered", "meeting", id, "conn", connID, "err", err)
	}
	e.log.Info("participant joined",
		"meeting", id, "conn", connID, "host", j.Participant.IsHost,
		"count", j.Count, "created", !live, "rejoin", j.Replaced)

	if j.Participant.IsHost {
		for _, t := range e.adm.Pending(id) {
			e.notifyHost(t)
		}
	}
}

// hostClaim reports whether an isHost join would really land as host. Under
// the unique policy a claim made while another host is live gets demoted, so
// it cannot bypass admission either.
func (e *Engine) hostClaim(meetingID, connID string, claimed bool) bool {
	if !claimed || e.reg.Policy() != registry.HostUnique {
		return claimed
	}
	h, err := e.reg.Host(meetingID)
	return err != nil || h.ID == connID
}

func (e *Engine) member(meetingID, connID string) bool {
	m, err := e.reg.GetMeeting(meetingID)
	if err != nil {
		return false
	}
	_, ok := m.Participants[connID]
	return ok
}

func (e *Engine) requestJoin(ctx context.Context, connID string, p JoinPayload) {
	id := strings.TrimSpace(p.MeetingID)
	if id == "" {
		e.fail(connID, EventRequestJoin, msgInvalidPayload)
		return
	}
	if e.adm.Rejected(connID, id) {
		_ = e.hub.Emit(connID, Message{Type: EventJoinRejected, Payload: JoinDecisionPayload{MeetingID: id}})
		return
	}
	if _, ok := e.known(ctx, connID, EventRequestJoin, id); !ok {
		return
	}

	t := e.adm.Request(id, connID, p.UserInfo)
	e.log.Info("join requested", "meeting", id, "request", connID)
	e.notifyHost(t)
}

// notifyHost delivers a pending ticket to the current host. Without a host the
// ticket waits until one joins or it expires.
func (e *Engine) notifyHost(t domain.JoinTicket) {
	host, err := e.reg.Host(t.MeetingID)
	if err == nil {
		err = e.hub.Emit(host.ID, Message{
			Type: EventJoinRequest,
			Payload: JoinRequestPayload{
				ID:        t.RequestID,
				Name:      t.Name,
				Email:     t.Email,
				MeetingID: t.MeetingID,
			},
		})
	}
	if err != nil {
		e.log.Debug("join request has no recipient", "meeting", t.MeetingID, "request", t.RequestID, "err", err)
	}
}

func (e *Engine) decide(connID, event string, p DecisionPayload) {
	t, ok := e.adm.Ticket(p.RequestID)
	if !ok {
		e.fail(connID, event, msgRequestNotFound)
		return
	}
	host, err := e.reg.Host(t.MeetingID)
	if err != nil || host.ID != connID {
		e.fail(connID, event, msgNotHost)
		return
	}

	admit := event == EventApproveJoin
	t, err = e.adm.Decide(p.RequestID, admit)
	if err != nil {
		e.fail(connID, event, msgRequestDecided)
		return
	}

	out := EventJoinRejected
	if admit {
		out = EventJoinApproved
	}
	if err := e.hub.Emit(t.RequestID, Message{Type: out, Payload: JoinDecisionPayload{MeetingID: t.MeetingID}}); err != nil {
		e.log.Debug("join decision has no recipient", "meeting", t.MeetingID, "request", t.RequestID, "err", err)
	}
	e.log.Info("join decided", "meeting", t.MeetingID, "request", t.RequestID, "state", string(t.State))
}

func (e *Engine) forward(connID, kind string, p RelayPayload) {
	err := e.relay.Forward(kind, connID, p)
	switch {
	case err == nil:
	case errors.Is(err, errEmptyRelay):
		e.fail(connID, kind, msgInvalidPayload)
	default:
		e.log.Debug("relay dropped", "event", kind, "from", connID, "to", p.TargetID, "err", err)
	}
}

func (e *Engine) toggle(connID, event string, p TogglePayload) {
	var kind Toggle
	value := p.Enabled
	switch event {
	case EventToggleVideo:
		kind = ToggleVideo
	case EventToggleAudio:
		kind = ToggleAudio
	case EventToggleScreenShare:
		kind = ToggleScreenShare
	case EventRaiseHand:
		kind = ToggleHand
		if p.Raised != nil {
			value = p.Raised
		}
	}
	if value == nil {
		e.fail(connID, event, msgInvalidPayload)
		return
	}

	if err := e.bcast.Toggle(p.MeetingID, connID, kind, *value); err != nil {
		e.log.Debug("toggle ignored", "event", event, "meeting", p.MeetingID, "conn", connID, "err", err)
	}
}

func (e *Engine) sendMessage(connID string, p ChatPayload) {
	m, err := e.reg.GetMeeting(p.MeetingID)
	if err != nil {
		e.log.Debug("chat ignored", "meeting", p.MeetingID, "conn", connID, "err", err)
		return
	}
	sender, ok := m.Participants[connID]
	if !ok {
		e.log.Debug("chat from non-member ignored", "meeting", p.MeetingID, "conn", connID)
		return
	}

	msg, err := e.chat.Compose(*sender, p.Message)
	switch {
	case errors.Is(err, domain.ErrEmptyMessage):
		return
	case err != nil:
		e.fail(connID, EventSendMessage, err.Error())
		return
	}
	e.bcast.Chat(p.MeetingID, msg)
}

func (e *Engine) leave(ctx context.Context, connID, meetingID string) {
	rm, err := e.bcast.Leave(meetingID, connID)
	if err != nil {
		e.log.Debug("leave ignored", "meeting", meetingID, "conn", connID, "err", err)
		return
	}
	e.log.Info("participant left", "meeting", meetingID, "conn", connID, "remaining", rm.Remaining)
	if rm.MeetingDeleted {
		e.closed(ctx, meetingID)
	}
}

func (e *Engine) disconnect(ctx context.Context, connID string) {
	if t, ok := e.adm.Abandon(connID); ok && t.State == domain.TicketAbandoned {
		e.log.Info("join request abandoned", "meeting", t.MeetingID, "request", connID)
	}
	for _, meetingID := range e.bcast.Depart(connID) {
		e.closed(ctx, meetingID)
	}
	e.hub.Unregister(connID)
	e.log.Debug("connection gone", "conn", connID)
}

// closed runs after the registry deleted an empty meeting: the id goes back
// to the reservation store so a reconnecting host can reopen it.
func (e *Engine) closed(ctx context.Context, meetingID string) {
	e.log.Info("meeting closed", "meeting", meetingID)
	if err := e.res.Release(ctx, meetingID); err != nil {
		e.log.Warn("reservation release failed", "meeting", meetingID, "err", err)
	}
}

func (e *Engine) sweep() {
	for _, t := range e.adm.Expire() {
		e.log.Info("join request expired", "meeting", t.MeetingID, "request", t.RequestID)
		e.fail(t.RequestID, EventRequestJoin, msgRequestExpired)
	}
}
