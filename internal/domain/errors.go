package domain

import "errors"

var (
	ErrMeetingNotFound     = errors.New("meeting not found")
	ErrInvalidMeetingID    = errors.New("invalid meeting id")
	ErrParticipantNotFound = errors.New("participant not in meeting")
	ErrNoHost              = errors.New("meeting has no host connection")
	ErrNoRecipient         = errors.New("recipient connection is gone")
	ErrInvalidParticipant  = errors.New("participant id is required")

	ErrTicketNotFound    = errors.New("join request not found")
	ErrTicketDecided     = errors.New("join request already decided")
	ErrNotHost           = errors.New("only the host can decide join requests")
	ErrJoinRejected      = errors.New("join request was rejected")
	ErrAdmissionRequired = errors.New("host approval required")

	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message too long")
)
