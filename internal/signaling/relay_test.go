package signaling

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

func TestRelay_Forward(t *testing.T) {
	h := NewHub()
	b := &fakeConn{id: "b"}
	h.Register(b)
	r := NewRelay(h)

	err := r.Forward(EventAnswer, "a", RelayPayload{TargetID: "b", Answer: json.RawMessage(`{"sdp":"x"}`)})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	got := b.of(EventAnswer)
	if len(got) != 1 {
		t.Fatalf("got %+v", b.all())
	}
	if p := got[0].Payload.(RelayedPayload); p.SenderID != "a" || string(p.Payload) != `{"sdp":"x"}` {
		t.Fatalf("payload %+v", p)
	}
}

func TestRelay_Errors(t *testing.T) {
	r := NewRelay(NewHub())

	if err := r.Forward(EventOffer, "a", RelayPayload{TargetID: "b", Payload: json.RawMessage("null")}); !errors.Is(err, errEmptyRelay) {
		t.Fatalf("null body err = %v", err)
	}
	if err := r.Forward(EventOffer, "a", RelayPayload{Payload: json.RawMessage(`{}`)}); !errors.Is(err, errEmptyRelay) {
		t.Fatalf("missing target err = %v", err)
	}
	if err := r.Forward(EventOffer, "a", RelayPayload{TargetID: "ghost", Payload: json.RawMessage(`{}`)}); !errors.Is(err, domain.ErrNoRecipient) {
		t.Fatalf("gone target err = %v", err)
	}
}
