package domain

import "time"

type TicketState string

const (
	TicketRequested TicketState = "REQUESTED"
	TicketAdmitted  TicketState = "ADMITTED"
	TicketRejected  TicketState = "REJECTED"
	TicketAbandoned TicketState = "ABANDONED"
)

func (s TicketState) Terminal() bool {
	return s != TicketRequested
}

// JoinTicket is a pending join request; RequestID is the candidate's connection id.
type JoinTicket struct {
	RequestID   string
	MeetingID   string
	Name        string
	Email       string
	State       TicketState
	RequestedAt time.Time
	DecidedAt   time.Time
}
