package signaling

import (
	"encoding/json"

	"github.com/cwrk-planet/meeting-service/internal/domain"
)

// Message is one outbound frame.
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Envelope is one inbound frame; Payload is decoded per event.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type JoinPayload struct {
	MeetingID string          `json:"meetingId"`
	UserInfo  domain.UserInfo `json:"userInfo"`
}

type DecisionPayload struct {
	RequestID string `json:"requestId"`
}

// RelayPayload accepts the body under "payload" or under the kind key
// ("offer", "answer", "candidate").
type RelayPayload struct {
	MeetingID string          `json:"meetingId"`
	TargetID  string          `json:"targetId"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Offer     json.RawMessage `json:"offer,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

func (p RelayPayload) body() json.RawMessage {
	for _, b := range []json.RawMessage{p.Payload, p.Offer, p.Answer, p.Candidate} {
		if len(b) > 0 && string(b) != "null" {
			return b
		}
	}
	return nil
}

type TogglePayload struct {
	MeetingID string `json:"meetingId"`
	Enabled   *bool  `json:"enabled,omitempty"`
	Raised    *bool  `json:"raised,omitempty"`
}

type ChatPayload struct {
	MeetingID string `json:"meetingId"`
	Message   string `json:"message"`
}

type LeavePayload struct {
	MeetingID string `json:"meetingId"`
}

// --- outbound ---

type ConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}

type JoinRequestPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	MeetingID string `json:"meetingId"`
}

type JoinDecisionPayload struct {
	MeetingID string `json:"meetingId,omitempty"`
}

type MeetingJoinedPayload struct {
	MeetingID    string               `json:"meetingId"`
	Participants []domain.Participant `json:"participants"` // everyone but the joiner
	Self         domain.Participant   `json:"self"`
}

type UserJoinedPayload struct {
	Participant      domain.Participant `json:"participant"`
	ParticipantCount int                `json:"participantCount"`
}

type UserLeftPayload struct {
	ParticipantID    string `json:"participantId"`
	ParticipantName  string `json:"participantName"`
	ParticipantCount int    `json:"participantCount"`
}

type RelayedPayload struct {
	MeetingID string          `json:"meetingId,omitempty"`
	SenderID  string          `json:"senderId"`
	Payload   json.RawMessage `json:"payload"`
}

type MediaTogglePayload struct {
	ParticipantID string `json:"participantId"`
	Enabled       bool   `json:"enabled"`
}

type HandRaisedPayload struct {
	ParticipantID   string `json:"participantId"`
	Raised          bool   `json:"raised"`
	ParticipantName string `json:"participantName"`
}
