package events

// Wire event names. Clients send the first group; the server sends the rest.

// Client to server
const (
	SendMessage   = "send-message"
	MarkRead      = "mark-read"
	Online        = "online"
	EditMessage   = "edit-message"
	DeleteMessage = "delete-message"
	CallInitiate  = "call-initiate"
	CallAnswer    = "call-answer"
	CallReject    = "call-reject"
	CallCancel    = "call-cancel"
	CallEnd       = "call-end"
	ICECandidate  = "ice-candidate"
)

// Message events
const (
	MessageSent         = "message-sent"
	MessageReceived     = "message-received"
	MessageStatusUpdate = "message-status-update"
	MessageEdited       = "message-edited"
	MessageDeleted      = "message-deleted"
)

// Presence events
const (
	PresenceChanged = "presence-changed"
)

// Call events
const (
	CallIncoming  = "call-incoming"
	CallStatus    = "call-status"
	CallAnswered  = "call-answered"
	CallRejected  = "call-rejected"
	CallCancelled = "call-cancelled"
	CallEnded     = "call-ended"
	CallRecord    = "call-record"
)

const Error = "error"
