package domain

import "time"

// UserInfo is the unverified identity a client presents when joining.
type UserInfo struct {
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	IsHost bool   `json:"isHost,omitempty"`
}

type Participant struct {
	ID            string    `json:"id"` // connection id
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	IsHost        bool      `json:"isHost"`
	VideoEnabled  bool      `json:"videoEnabled"`
	AudioEnabled  bool      `json:"audioEnabled"`
	ScreenSharing bool      `json:"screenSharing"`
	HandRaised    bool      `json:"handRaised"`
	JoinedAt      time.Time `json:"joinedAt"`
}

// NewParticipant applies join defaults: camera and microphone on.
func NewParticipant(connID string, info UserInfo, now time.Time) Participant {
	return Participant{
		ID:           connID,
		Name:         info.Name,
		Email:        info.Email,
		IsHost:       info.IsHost,
		VideoEnabled: true,
		AudioEnabled: true,
		JoinedAt:     now,
	}
}
