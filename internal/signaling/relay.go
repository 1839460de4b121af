package signaling

import (
	"errors"
	"fmt"
)

var errEmptyRelay = errors.New("relay needs targetId and a body")

// Relay forwards offer/answer/ice-candidate between two named connections.
// Membership of sender and target is not checked.
type Relay struct {
	hub *Hub
}

func NewRelay(hub *Hub) *Relay {
	return &Relay{hub: hub}
}

// Forward delivers p to p.TargetID as {payload, senderId}. A gone target
// yields domain.ErrNoRecipient.
func (r *Relay) Forward(kind, senderID string, p RelayPayload) error {
	body := p.body()
	if p.TargetID == "" || body == nil {
		return errEmptyRelay
	}
	if err := r.hub.Emit(p.TargetID, Message{
		Type: kind,
		Payload: RelayedPayload{
			MeetingID: p.MeetingID,
			SenderID:  senderID,
			Payload:   body,
		},
	}); err != nil {
		return fmt.Errorf("relay %s to %s: %w", kind, p.TargetID, err)
	}
	return nil
}
