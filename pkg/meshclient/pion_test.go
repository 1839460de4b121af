package meshclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/signaling"

	"github.com/pion/webrtc/v4"
)

func TestParseICEServers(t *testing.T) {
	if got := ParseICEServers("  ", "u", "p"); got != nil {
		t.Fatalf("empty input = %v", got)
	}
	got := ParseICEServers("stun:a:3478, ,turn:b:3478", "user", "secret")
	if len(got) != 2 || got[0].URLs[0] != "stun:a:3478" || got[1].URLs[0] != "turn:b:3478" {
		t.Fatalf("servers = %+v", got)
	}
	if got[1].Username != "user" || got[1].Credential != "secret" {
		t.Fatalf("credentials not applied: %+v", got[1])
	}
}

// pipe delivers what one mesh sends to the other, as the relay would.
type pipe struct {
	from   string
	frames chan Frame
}

func (p *pipe) Send(event string, payload any) error {
	rp := payload.(signaling.RelayPayload)
	raw, err := json.Marshal(signaling.RelayedPayload{MeetingID: rp.MeetingID, SenderID: p.from, Payload: rp.Payload})
	if err != nil {
		return err
	}
	p.frames <- Frame{Type: event, Payload: raw}
	return nil
}

func pump(ctx context.Context, m *Mesh, frames <-chan Frame) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-frames:
				_ = m.Dispatch(ctx, f)
			}
		}
	}()
}

func TestPion_OfferAnswerReachesStable(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	toA := make(chan Frame, 64)
	toB := make(chan Frame, 64)

	dataChannel := func(_ string, pc *webrtc.PeerConnection) error {
		_, err := pc.CreateDataChannel("probe", nil)
		return err
	}
	cfg := webrtc.Configuration{}

	a := NewMesh("M", &pipe{from: "a", frames: toB}, NewPionFactory(cfg, dataChannel))
	b := NewMesh("M", &pipe{from: "b", frames: toA}, NewPionFactory(cfg, nil))
	defer a.Close()
	defer b.Close()

	pump(ctx, a, toA)
	pump(ctx, b, toB)

	// a is the newcomer and offers to b
	if err := a.HandleMeetingJoined(ctx, signaling.MeetingJoinedPayload{
		MeetingID:    "M",
		Participants: []domain.Participant{{ID: "b"}},
	}); err != nil {
		t.Fatalf("offer: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		pa, okA := a.Peer("b")
		pb, okB := b.Peer("a")
		if okA && okB {
			pcA := pa.(*PionPeer).PeerConnection()
			pcB := pb.(*PionPeer).PeerConnection()
			if pcA.SignalingState() == webrtc.SignalingStateStable &&
				pcB.SignalingState() == webrtc.SignalingStateStable &&
				pcA.CurrentRemoteDescription() != nil &&
				pcB.CurrentRemoteDescription() != nil {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("negotiation did not reach stable state")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
