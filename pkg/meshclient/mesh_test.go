package meshclient

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/signaling"
)

type sent struct {
	event   string
	payload signaling.RelayPayload
}

type recorder struct {
	mu  sync.Mutex
	out []sent
}

func (r *recorder) Send(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = append(r.out, sent{event: event, payload: payload.(signaling.RelayPayload)})
	return nil
}

func (r *recorder) of(event string) []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []sent
	for _, s := range r.out {
		if s.event == event {
			res = append(res, s)
		}
	}
	return res
}

type fakePeer struct {
	remote     string
	onCand     func(json.RawMessage)
	remoteDesc string
	candidates []string
	closed     bool
}

func (p *fakePeer) CreateOffer(context.Context) (json.RawMessage, error) {
	return json.RawMessage(`"offer-to-` + p.remote + `"`), nil
}

func (p *fakePeer) Answer(_ context.Context, offer json.RawMessage) (json.RawMessage, error) {
	p.remoteDesc = string(offer)
	return json.RawMessage(`"answer-to-` + p.remote + `"`), nil
}

func (p *fakePeer) SetAnswer(a json.RawMessage) error {
	p.remoteDesc = string(a)
	return nil
}

func (p *fakePeer) AddCandidate(c json.RawMessage) error {
	if p.remoteDesc == "" {
		return errors.New("candidate before remote description")
	}
	p.candidates = append(p.candidates, string(c))
	return nil
}

func (p *fakePeer) Close() error {
	p.closed = true
	return nil
}

type fakeFactory struct {
	peers map[string]*fakePeer
}

func (f *fakeFactory) build(remoteID string, onCand func(json.RawMessage)) (Peer, error) {
	if f.peers == nil {
		f.peers = map[string]*fakePeer{}
	}
	p := &fakePeer{remote: remoteID, onCand: onCand}
	f.peers[remoteID] = p
	return p, nil
}

func relayed(sender, body string) signaling.RelayedPayload {
	return signaling.RelayedPayload{MeetingID: "M", SenderID: sender, Payload: json.RawMessage(body)}
}

func TestMesh_NewcomerOffersToEveryone(t *testing.T) {
	rec := &recorder{}
	ff := &fakeFactory{}
	m := NewMesh("M", rec, ff.build)

	err := m.HandleMeetingJoined(context.Background(), signaling.MeetingJoinedPayload{
		MeetingID:    "M",
		Participants: []domain.Participant{{ID: "a"}, {ID: "b"}},
	})
	if err != nil {
		t.Fatalf("meeting-joined: %v", err)
	}

	offers := rec.of(signaling.EventOffer)
	if len(offers) != 2 || offers[0].payload.TargetID != "a" || offers[1].payload.TargetID != "b" {
		t.Fatalf("offers = %+v", offers)
	}
	if string(offers[0].payload.Payload) != `"offer-to-a"` || offers[0].payload.MeetingID != "M" {
		t.Fatalf("offer payload = %+v", offers[0].payload)
	}

	// members never offer under this policy
	if err := m.HandleUserJoined(context.Background(), signaling.UserJoinedPayload{Participant: domain.Participant{ID: "c"}}); err != nil {
		t.Fatalf("user-joined: %v", err)
	}
	if len(rec.of(signaling.EventOffer)) != 2 {
		t.Fatalf("unexpected offer on user-joined")
	}
}

func TestMesh_ExistingPolicy(t *testing.T) {
	rec := &recorder{}
	ff := &fakeFactory{}
	m := NewMesh("M", rec, ff.build, WithOfferPolicy(OfferExisting))

	_ = m.HandleMeetingJoined(context.Background(), signaling.MeetingJoinedPayload{Participants: []domain.Participant{{ID: "a"}}})
	if len(rec.of(signaling.EventOffer)) != 0 {
		t.Fatalf("newcomer must wait under OfferExisting")
	}
	if err := m.HandleUserJoined(context.Background(), signaling.UserJoinedPayload{Participant: domain.Participant{ID: "n"}}); err != nil {
		t.Fatalf("user-joined: %v", err)
	}
	if offers := rec.of(signaling.EventOffer); len(offers) != 1 || offers[0].payload.TargetID != "n" {
		t.Fatalf("offers = %+v", offers)
	}
}

func TestMesh_AnswerAndBufferedCandidates(t *testing.T) {
	rec := &recorder{}
	ff := &fakeFactory{}
	m := NewMesh("M", rec, ff.build)

	// candidates racing ahead of the offer
	for _, c := range []string{`"c1"`, `"c2"`} {
		if err := m.HandleCandidate(relayed("x", c)); err != nil {
			t.Fatalf("early candidate: %v", err)
		}
	}
	if len(m.Peers()) != 0 {
		t.Fatalf("a candidate alone must not build a peer")
	}

	if err := m.HandleOffer(context.Background(), relayed("x", `"sdp-x"`)); err != nil {
		t.Fatalf("offer: %v", err)
	}
	p := ff.peers["x"]
	if p.remoteDesc != `"sdp-x"` {
		t.Fatalf("remote description = %q", p.remoteDesc)
	}
	if len(p.candidates) != 2 || p.candidates[0] != `"c1"` || p.candidates[1] != `"c2"` {
		t.Fatalf("buffered candidates = %v", p.candidates)
	}
	answers := rec.of(signaling.EventAnswer)
	if len(answers) != 1 || answers[0].payload.TargetID != "x" {
		t.Fatalf("answers = %+v", answers)
	}

	if err := m.HandleCandidate(relayed("x", `"c3"`)); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	if len(p.candidates) != 3 {
		t.Fatalf("late candidate not applied: %v", p.candidates)
	}
}

func TestMesh_OffererBuffersUntilAnswer(t *testing.T) {
	rec := &recorder{}
	ff := &fakeFactory{}
	m := NewMesh("M", rec, ff.build)
	_ = m.HandleMeetingJoined(context.Background(), signaling.MeetingJoinedPayload{Participants: []domain.Participant{{ID: "a"}}})

	if err := m.HandleCandidate(relayed("a", `"early"`)); err != nil {
		t.Fatalf("candidate: %v", err)
	}
	if len(ff.peers["a"].candidates) != 0 {
		t.Fatalf("candidate applied before the answer")
	}
	if err := m.HandleAnswer(relayed("a", `"ans"`)); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if got := ff.peers["a"].candidates; len(got) != 1 || got[0] != `"early"` {
		t.Fatalf("candidates = %v", got)
	}

	if err := m.HandleAnswer(relayed("nobody", `"ans"`)); !errors.Is(err, errUnknownPeer) {
		t.Fatalf("stray answer err = %v", err)
	}
}

func TestMesh_LocalCandidatesAreRelayed(t *testing.T) {
	rec := &recorder{}
	ff := &fakeFactory{}
	m := NewMesh("M", rec, ff.build)
	_ = m.HandleMeetingJoined(context.Background(), signaling.MeetingJoinedPayload{Participants: []domain.Participant{{ID: "a"}}})

	ff.peers["a"].onCand(json.RawMessage(`{"candidate":"host"}`))
	got := rec.of(signaling.EventICECandidate)
	if len(got) != 1 || got[0].payload.TargetID != "a" || string(got[0].payload.Payload) != `{"candidate":"host"}` {
		t.Fatalf("relayed candidates = %+v", got)
	}
}

func TestMesh_UserLeftAndClose(t *testing.T) {
	rec := &recorder{}
	ff := &fakeFactory{}
	m := NewMesh("M", rec, ff.build)
	_ = m.HandleMeetingJoined(context.Background(), signaling.MeetingJoinedPayload{Participants: []domain.Participant{{ID: "a"}, {ID: "b"}}})

	m.HandleUserLeft(signaling.UserLeftPayload{ParticipantID: "a"})
	if !ff.peers["a"].closed {
		t.Fatalf("peer a not closed")
	}
	if got := m.Peers(); len(got) != 1 || got[0] != "b" {
		t.Fatalf("peers = %v", got)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ff.peers["b"].closed || len(m.Peers()) != 0 {
		t.Fatalf("close left peers behind")
	}
}

func TestMesh_LateFramesFromDepartedPeer(t *testing.T) {
	rec := &recorder{}
	ff := &fakeFactory{}
	m := NewMesh("M", rec, ff.build)
	ctx := context.Background()
	_ = m.HandleMeetingJoined(ctx, signaling.MeetingJoinedPayload{Participants: []domain.Participant{{ID: "a"}}})

	m.HandleUserLeft(signaling.UserLeftPayload{ParticipantID: "a"})
	if err := m.HandleCandidate(relayed("a", `"late"`)); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	if err := m.HandleOffer(ctx, relayed("a", `"late-offer"`)); err != nil {
		t.Fatalf("late offer: %v", err)
	}
	m.mu.Lock()
	n := len(m.remotes)
	m.mu.Unlock()
	if n != 0 {
		t.Fatalf("departed peer left %d contexts behind", n)
	}
	if len(rec.of(signaling.EventAnswer)) != 0 {
		t.Fatalf("late offer must not be answered")
	}

	// a peer offered to again is live again
	_ = m.HandleMeetingJoined(ctx, signaling.MeetingJoinedPayload{Participants: []domain.Participant{{ID: "a"}}})
	if err := m.HandleCandidate(relayed("a", `"fresh"`)); err != nil {
		t.Fatalf("candidate: %v", err)
	}
	m.mu.Lock()
	r := m.remotes["a"]
	m.mu.Unlock()
	if r == nil || len(r.pending) != 1 {
		t.Fatalf("candidate for a renegotiated peer should be buffered: %+v", r)
	}
}

func TestMesh_Dispatch(t *testing.T) {
	rec := &recorder{}
	ff := &fakeFactory{}
	m := NewMesh("M", rec, ff.build)

	raw, _ := json.Marshal(relayed("z", `"sdp"`))
	if err := m.Dispatch(context.Background(), Frame{Type: signaling.EventOffer, Payload: raw}); err != nil {
		t.Fatalf("dispatch offer: %v", err)
	}
	if _, ok := m.Peer("z"); !ok {
		t.Fatalf("offer did not create a peer")
	}
	if err := m.Dispatch(context.Background(), Frame{Type: signaling.EventNewMessage, Payload: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("unrelated frame: %v", err)
	}
	if err := m.Dispatch(context.Background(), Frame{Type: signaling.EventUserLeft, Payload: json.RawMessage(`[]`)}); err == nil {
		t.Fatalf("malformed frame should fail")
	}
}
