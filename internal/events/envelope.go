package events

import (
	"encoding/json"

	"beacon-chat/internal/domain/call"
	"beacon-chat/internal/domain/message"

	"github.com/google/uuid"
)

// Envelope is the frame exchanged over the websocket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func Encode(event string, payload interface{}) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// Inbound payloads

type SendMessagePayload struct {
	ConversationID uuid.UUID   `json:"conversationId"`
	Text           string      `json:"text"`
	Attachments    []uuid.UUID `json:"attachments"`
}

type MarkReadPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type EditMessagePayload struct {
	MessageID uuid.UUID `json:"messageId"`
	Text      string    `json:"text"`
}

type DeleteMessagePayload struct {
	MessageID   uuid.UUID `json:"messageId"`
	ForEveryone bool      `json:"forEveryone"`
}

type CallInitiatePayload struct {
	To       uuid.UUID       `json:"to"`
	Offer    json.RawMessage `json:"offer"`
	CallType call.Type       `json:"callType"`
}

type CallAnswerPayload struct {
	To     uuid.UUID       `json:"to"`
	Answer json.RawMessage `json:"answer"`
}

// CallTargetPayload serves call-reject, call-cancel and call-end.
type CallTargetPayload struct {
	To     uuid.UUID `json:"to"`
	CallID uuid.UUID `json:"callId,omitempty"`
}

type ICECandidatePayload struct {
	To        uuid.UUID       `json:"to"`
	Candidate json.RawMessage `json:"candidate"`
}

// Outbound payloads

type StatusUpdatePayload struct {
	MessageID      uuid.UUID      `json:"messageId"`
	ConversationID uuid.UUID      `json:"conversationId"`
	Status         message.Status `json:"status"`
}

type MessageDeletedPayload struct {
	MessageID      uuid.UUID `json:"messageId"`
	ConversationID uuid.UUID `json:"conversationId"`
}

type PresenceChangedPayload struct {
	UserID        uuid.UUID   `json:"userId"`
	Online        bool        `json:"online"`
	OnlineUserIDs []uuid.UUID `json:"onlineUserIds"`
}

type CallIncomingPayload struct {
	From     uuid.UUID       `json:"from"`
	Username string          `json:"username,omitempty"`
	Offer    json.RawMessage `json:"offer"`
	CallType call.Type       `json:"callType"`
	CallID   uuid.UUID       `json:"callId"`
}

type CallStatusPayload struct {
	CallID uuid.UUID `json:"callId"`
	To     uuid.UUID `json:"to"`
	Online bool      `json:"online"`
}

// CallRelayPayload is the peer-to-peer signal forwarded by the relay.
type CallRelayPayload struct {
	From      uuid.UUID       `json:"from"`
	CallID    uuid.UUID       `json:"callId,omitempty"`
	Answer    json.RawMessage `json:"answer,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

type CallRecordPayload struct {
	Call    call.Call       `json:"call"`
	Message message.Message `json:"message"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Event   string `json:"event,omitempty"`
}
