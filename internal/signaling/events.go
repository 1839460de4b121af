package signaling

// client -> server
const (
	EventJoinMeeting       = "join-meeting"
	EventRequestJoin       = "request-join"
	EventApproveJoin       = "approve-join"
	EventRejectJoin        = "reject-join"
	EventOffer             = "offer"
	EventAnswer            = "answer"
	EventICECandidate      = "ice-candidate"
	EventToggleVideo       = "toggle-video"
	EventToggleAudio       = "toggle-audio"
	EventToggleScreenShare = "toggle-screen-share"
	EventRaiseHand         = "raise-hand"
	EventSendMessage       = "send-message"
	EventLeaveMeeting      = "leave-meeting"
)

// server -> client
const (
	EventConnected              = "connected"
	EventError                  = "error"
	EventJoinRequest            = "join-request"
	EventJoinApproved           = "join-approved"
	EventJoinRejected           = "join-rejected"
	EventMeetingJoined          = "meeting-joined"
	EventUserJoined             = "user-joined"
	EventUserLeft               = "user-left"
	EventParticipantVideo       = "participant-video-toggle"
	EventParticipantAudio       = "participant-audio-toggle"
	EventParticipantScreenShare = "participant-screen-share"
	EventParticipantHandRaised  = "participant-hand-raised"
	EventNewMessage             = "new-message"
)

// error messages shown to clients
const (
	msgMeetingNotFound   = "Meeting not found"
	msgJoinRejected      = "Join request was rejected"
	msgAdmissionRequired = "Waiting for host approval"
	msgNotHost           = "Only the host can manage join requests"
	msgRequestNotFound   = "Join request not found"
	msgRequestDecided    = "Join request already decided"
	msgRequestExpired    = "Join request expired"
	msgInvalidPayload    = "Invalid payload"
	msgUnsupported       = "Unsupported event"
	msgInternal          = "Internal error"
)
