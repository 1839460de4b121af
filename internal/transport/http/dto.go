package http

import "time"

type CreateMeetingRequest struct {
	MeetingID string `json:"meetingId,omitempty"`
}

type CreateMeetingResponse struct {
	MeetingID  string `json:"meetingId"`
	MeetingURL string `json:"meetingUrl"`
}

type MeetingResponse struct {
	ID               string    `json:"id"`
	ParticipantCount int       `json:"participantCount"`
	CreatedAt        time.Time `json:"createdAt"`
}
