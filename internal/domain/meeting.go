package domain

import (
	"regexp"
	"time"
)

type Meeting struct {
	ID           string
	HostID       string // connection that created the live room
	Participants map[string]*Participant
	CreatedAt    time.Time
}

// Clone returns a deep copy safe to hand out of the registry.
func (m *Meeting) Clone() Meeting {
	out := Meeting{
		ID:           m.ID,
		HostID:       m.HostID,
		CreatedAt:    m.CreatedAt,
		Participants: make(map[string]*Participant, len(m.Participants)),
	}
	for id, p := range m.Participants {
		cp := *p
		out.Participants[id] = &cp
	}
	return out
}

// Reservation is a meeting id handed out by the lifecycle API and not yet
// claimed by a first join, or released after the live room emptied.
type Reservation struct {
	ID        string
	CreatedBy string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func (r Reservation) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// MeetingInfo is the public description served over HTTP.
type MeetingInfo struct {
	ID               string    `json:"id"`
	ParticipantCount int       `json:"participantCount"`
	CreatedAt        time.Time `json:"createdAt"`
}

var meetingIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

func ValidMeetingID(id string) bool {
	return meetingIDPattern.MatchString(id)
}
