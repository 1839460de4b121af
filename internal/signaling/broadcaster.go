package signaling

import (
	"errors"

	"github.com/cwrk-planet/meeting-service/internal/domain"
	"github.com/cwrk-planet/meeting-service/internal/registry"
)

// Toggle names one per-participant flag.
type Toggle int

const (
	ToggleVideo Toggle = iota
	ToggleAudio
	ToggleScreenShare
	ToggleHand
)

var toggleEvents = map[Toggle]string{
	ToggleVideo:       EventParticipantVideo,
	ToggleAudio:       EventParticipantAudio,
	ToggleScreenShare: EventParticipantScreenShare,
	ToggleHand:        EventParticipantHandRaised,
}

// Broadcaster owns room-state fan-out. It mutates participants only through
// the registry.
type Broadcaster struct {
	reg *registry.Registry
	hub *Hub
}

func NewBroadcaster(reg *registry.Registry, hub *Hub) *Broadcaster {
	return &Broadcaster{reg: reg, hub: hub}
}

// Joined announces a completed join: a snapshot to the joiner and
// user-joined to everyone else, unless the join only replaced a record.
func (b *Broadcaster) Joined(meetingID string, j registry.Join) error {
	b.hub.Join(meetingID, j.Participant.ID)

	parts, err := b.reg.ListParticipants(meetingID)
	if err != nil {
		return err
	}
	others := make([]domain.Participant, 0, len(parts))
	for _, p := range parts {
		if p.ID != j.Participant.ID {
			others = append(others, p)
		}
	}

	if err := b.hub.Emit(j.Participant.ID, Message{
		Type: EventMeetingJoined,
		Payload: MeetingJoinedPayload{
			MeetingID:    meetingID,
			Participants: others,
			Self:         j.Participant,
		},
	}); err != nil {
		return err
	}

	if !j.Replaced {
		b.hub.EmitRoom(meetingID, j.Participant.ID, Message{
			Type: EventUserJoined,
			Payload: UserJoinedPayload{
				Participant:      j.Participant,
				ParticipantCount: len(parts),
			},
		})
	}
	return nil
}

// Leave removes connID from one meeting and notifies the rest.
func (b *Broadcaster) Leave(meetingID, connID string) (registry.Removal, error) {
	rm, err := b.reg.RemoveParticipant(meetingID, connID)
	if err != nil {
		return registry.Removal{}, err
	}
	b.hub.Leave(meetingID, connID)

	if !rm.MeetingDeleted {
		b.hub.EmitRoom(meetingID, connID, Message{
			Type: EventUserLeft,
			Payload: UserLeftPayload{
				ParticipantID:    connID,
				ParticipantName:  rm.Participant.Name,
				ParticipantCount: rm.Remaining,
			},
		})
	}
	return rm, nil
}

// Depart scans every meeting for connID; used on disconnect. It returns the
// ids of meetings that were deleted because they became empty.
func (b *Broadcaster) Depart(connID string) (deleted []string) {
	for _, meetingID := range b.reg.MeetingsOf(connID) {
		rm, err := b.Leave(meetingID, connID)
		if err != nil {
			continue
		}
		if rm.MeetingDeleted {
			deleted = append(deleted, meetingID)
		}
	}
	return deleted
}

// Toggle flips a flag of the sender and relays it to the rest of the room.
func (b *Broadcaster) Toggle(meetingID, senderID string, kind Toggle, value bool) error {
	event, ok := toggleEvents[kind]
	if !ok {
		return errors.New("unknown toggle")
	}

	p, err := b.reg.UpdateParticipant(meetingID, senderID, func(p *domain.Participant) {
		switch kind {
		case ToggleVideo:
			p.VideoEnabled = value
		case ToggleAudio:
			p.AudioEnabled = value
		case ToggleScreenShare:
			p.ScreenSharing = value
		case ToggleHand:
			p.HandRaised = value
		}
	})
	if err != nil {
		return err
	}

	var payload any = MediaTogglePayload{ParticipantID: senderID, Enabled: value}
	if kind == ToggleHand {
		payload = HandRaisedPayload{ParticipantID: senderID, Raised: value, ParticipantName: p.Name}
	}
	b.hub.EmitRoom(meetingID, senderID, Message{Type: event, Payload: payload})
	return nil
}

// Chat goes to the whole room, sender included.
func (b *Broadcaster) Chat(meetingID string, msg domain.ChatMessage) int {
	return b.hub.EmitRoom(meetingID, "", Message{Type: EventNewMessage, Payload: msg})
}
