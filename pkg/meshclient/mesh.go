package meshclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/cwrk-planet/meeting-service/internal/signaling"
)

// Peer is one private negotiation context with a single remote participant.
// Descriptions and candidates travel as opaque JSON.
type Peer interface {
	// CreateOffer creates and applies a local offer.
	CreateOffer(ctx context.Context) (json.RawMessage, error)
	// Answer applies the remote offer, then creates and applies the answer.
	Answer(ctx context.Context, offer json.RawMessage) (json.RawMessage, error)
	SetAnswer(answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	Close() error
}

// PeerFactory builds a Peer for remoteID. The peer reports its local ICE
// candidates through onCandidate, from any goroutine.
type PeerFactory func(remoteID string, onCandidate func(json.RawMessage)) (Peer, error)

// Signaler sends one signaling event; *Client implements it.
type Signaler interface {
	Send(event string, payload any) error
}

// OfferPolicy decides which side of a pair creates the offer. Exactly one
// side offers, so offers never cross.
type OfferPolicy int

const (
	// OfferNewcomer: the joiner offers to every member listed in its
	// meeting-joined snapshot; members wait.
	OfferNewcomer OfferPolicy = iota
	// OfferExisting: members offer to the joiner on user-joined; the joiner
	// waits.
	OfferExisting
)

var errUnknownPeer = errors.New("no negotiation context for sender")

type remote struct {
	peer      Peer
	remoteSet bool
	pending   []json.RawMessage // candidates received before the remote description
}

// Mesh keeps one negotiation context per remote participant of a meeting.
type Mesh struct {
	meetingID string
	sig       Signaler
	factory   PeerFactory
	policy    OfferPolicy
	log       *slog.Logger

	mu      sync.Mutex
	remotes map[string]*remote
	severed map[string]struct{} // departed ids; their late frames are dropped
}

type MeshOption func(*Mesh)

func WithOfferPolicy(p OfferPolicy) MeshOption { return func(m *Mesh) { m.policy = p } }

func WithLogger(l *slog.Logger) MeshOption { return func(m *Mesh) { m.log = l } }

func NewMesh(meetingID string, sig Signaler, factory PeerFactory, opts ...MeshOption) *Mesh {
	m := &Mesh{
		meetingID: meetingID,
		sig:       sig,
		factory:   factory,
		log:       slog.Default(),
		remotes:   make(map[string]*remote),
		severed:   make(map[string]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Dispatch routes one inbound frame. Frames the mesh does not care about are
// ignored.
func (m *Mesh) Dispatch(ctx context.Context, f Frame) error {
	switch f.Type {
	case signaling.EventMeetingJoined:
		var p signaling.MeetingJoinedPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return err
		}
		return m.HandleMeetingJoined(ctx, p)
	case signaling.EventUserJoined:
		var p signaling.UserJoinedPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return err
		}
		return m.HandleUserJoined(ctx, p)
	case signaling.EventUserLeft:
		var p signaling.UserLeftPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return err
		}
		m.HandleUserLeft(p)
		return nil
	case signaling.EventOffer, signaling.EventAnswer, signaling.EventICECandidate:
		var p signaling.RelayedPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return err
		}
		switch f.Type {
		case signaling.EventOffer:
			return m.HandleOffer(ctx, p)
		case signaling.EventAnswer:
			return m.HandleAnswer(p)
		default:
			return m.HandleCandidate(p)
		}
	}
	return nil
}

// HandleMeetingJoined starts negotiation with every existing member when this
// side is the offering one.
func (m *Mesh) HandleMeetingJoined(ctx context.Context, p signaling.MeetingJoinedPayload) error {
	if m.policy != OfferNewcomer {
		return nil
	}
	var errs []error
	for _, other := range p.Participants {
		if err := m.offer(ctx, other.ID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Mesh) HandleUserJoined(ctx context.Context, p signaling.UserJoinedPayload) error {
	if m.policy != OfferExisting {
		return nil
	}
	return m.offer(ctx, p.Participant.ID)
}

// HandleUserLeft severs the negotiation context of the departed participant.
func (m *Mesh) HandleUserLeft(p signaling.UserLeftPayload) {
	m.mu.Lock()
	r, ok := m.remotes[p.ParticipantID]
	delete(m.remotes, p.ParticipantID)
	m.severed[p.ParticipantID] = struct{}{}
	m.mu.Unlock()

	if ok && r.peer != nil {
		_ = r.peer.Close()
	}
}

func (m *Mesh) offer(ctx context.Context, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.severed, remoteID)
	r, err := m.ensure(remoteID)
	if err != nil {
		return err
	}
	sdp, err := r.peer.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("offer to %s: %w", remoteID, err)
	}
	return m.sig.Send(signaling.EventOffer, signaling.RelayPayload{
		MeetingID: m.meetingID,
		TargetID:  remoteID,
		Payload:   sdp,
	})
}

// HandleOffer answers a remote offer, creating the context if absent.
func (m *Mesh) HandleOffer(ctx context.Context, p signaling.RelayedPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, gone := m.severed[p.SenderID]; gone {
		m.log.Debug("offer from departed peer dropped", "from", p.SenderID)
		return nil
	}
	r, err := m.ensure(p.SenderID)
	if err != nil {
		return err
	}
	answer, err := r.peer.Answer(ctx, p.Payload)
	if err != nil {
		return fmt.Errorf("answer %s: %w", p.SenderID, err)
	}
	m.remoteApplied(p.SenderID, r)

	return m.sig.Send(signaling.EventAnswer, signaling.RelayPayload{
		MeetingID: m.meetingID,
		TargetID:  p.SenderID,
		Payload:   answer,
	})
}

func (m *Mesh) HandleAnswer(p signaling.RelayedPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.remotes[p.SenderID]
	if !ok || r.peer == nil {
		return fmt.Errorf("answer from %s: %w", p.SenderID, errUnknownPeer)
	}
	if err := r.peer.SetAnswer(p.Payload); err != nil {
		return fmt.Errorf("apply answer from %s: %w", p.SenderID, err)
	}
	m.remoteApplied(p.SenderID, r)
	return nil
}

// HandleCandidate applies a remote candidate, or holds it until the remote
// description of that pair is in place. Early candidates are not an error;
// late ones from a departed peer are dropped.
func (m *Mesh) HandleCandidate(p signaling.RelayedPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, gone := m.severed[p.SenderID]; gone {
		return nil
	}
	r, ok := m.remotes[p.SenderID]
	if !ok {
		r = &remote{}
		m.remotes[p.SenderID] = r
	}
	if !r.remoteSet {
		r.pending = append(r.pending, p.Payload)
		return nil
	}
	if err := r.peer.AddCandidate(p.Payload); err != nil {
		return fmt.Errorf("candidate from %s: %w", p.SenderID, err)
	}
	return nil
}

// ensure returns the context for remoteID, building the peer if needed.
// Callers hold m.mu.
func (m *Mesh) ensure(remoteID string) (*remote, error) {
	r, ok := m.remotes[remoteID]
	if !ok {
		r = &remote{}
		m.remotes[remoteID] = r
	}
	if r.peer != nil {
		return r, nil
	}
	peer, err := m.factory(remoteID, func(c json.RawMessage) {
		if err := m.sig.Send(signaling.EventICECandidate, signaling.RelayPayload{
			MeetingID: m.meetingID,
			TargetID:  remoteID,
			Payload:   c,
		}); err != nil {
			m.log.Debug("ice candidate not sent", "to", remoteID, "err", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("new peer for %s: %w", remoteID, err)
	}
	r.peer = peer
	return r, nil
}

// remoteApplied flushes buffered candidates. Callers hold m.mu.
func (m *Mesh) remoteApplied(remoteID string, r *remote) {
	r.remoteSet = true
	for _, c := range r.pending {
		if err := r.peer.AddCandidate(c); err != nil {
			m.log.Debug("buffered candidate rejected", "from", remoteID, "err", err)
		}
	}
	r.pending = nil
}

// Peers lists remote ids with a live negotiation context.
func (m *Mesh) Peers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	ids := make([]string, 0, len(m.remotes))
	for id, r := range m.remotes {
		if r.peer != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (m *Mesh) Peer(remoteID string) (Peer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.remotes[remoteID]
	if !ok || r.peer == nil {
		return nil, false
	}
	return r.peer, true
}

// Close severs every context.
func (m *Mesh) Close() error {
	m.mu.Lock()
	remotes := m.remotes
	m.remotes = make(map[string]*remote)
	for id := range remotes {
		m.severed[id] = struct{}{}
	}
	m.mu.Unlock()

	var errs []error
	for _, r := range remotes {
		if r.peer != nil {
			errs = append(errs, r.peer.Close())
		}
	}
	return errors.Join(errs...)
}
