package message

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeText       Type = "text"
	TypeAttachment Type = "attachment"
	TypeCall       Type = "call"
	TypeSystem     Type = "system"
)

// Status is the delivery state of a message. The numeric value is its rank,
// so storage can compare statuses with plain integer predicates.
type Status int8

const (
	StatusSent      Status = 1
	StatusDelivered Status = 2
	StatusRead      Status = 3
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusDelivered:
		return "delivered"
	case StatusRead:
		return "read"
	default:
		return "unknown"
	}
}

func ParseStatus(v string) (Status, error) {
	switch strings.ToLower(v) {
	case "sent":
		return StatusSent, nil
	case "delivered":
		return StatusDelivered, nil
	case "read":
		return StatusRead, nil
	}
	return 0, fmt.Errorf("unknown message status %q", v)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := ParseStatus(v)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Advance applies a requested transition. Statuses only move forward:
// a request for the current or an earlier status leaves it unchanged.
func Advance(from, to Status) (Status, bool) {
	if to < StatusSent || to > StatusRead || to <= from {
		return from, false
	}
	return to, true
}

// Message represents the messages table
type Message struct {
	ID                 uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID     uuid.UUID    `gorm:"type:uuid;not null;index:idx_messages_conversation_created,priority:1" json:"conversationId"`
	SenderID           uuid.UUID    `gorm:"type:uuid;not null;index" json:"senderId"`
	Type               Type         `gorm:"type:varchar(16);not null" json:"type"`
	Content            string       `gorm:"type:text" json:"content"`
	Status             Status       `gorm:"type:smallint;not null;index" json:"status"`
	CallID             *uuid.UUID   `gorm:"type:uuid" json:"callId,omitempty"`
	DeletedForEveryone bool         `gorm:"not null;default:false" json:"deletedForEveryone"`
	FullyDeleted       bool         `gorm:"not null;default:false" json:"-"`
	CreatedAt          time.Time    `gorm:"not null;index:idx_messages_conversation_created,priority:2" json:"createdAt"`
	EditedAt           *time.Time   `json:"editedAt,omitempty"`
	DeliveredAt        *time.Time   `json:"deliveredAt,omitempty"`
	ReadAt             *time.Time   `json:"readAt,omitempty"`
	Attachments        []Attachment `gorm:"-" json:"attachments,omitempty"`
}

// VisibleTo reports whether viewer may see the message given the set of users
// that deleted it for themselves.
func (m Message) VisibleTo(viewer uuid.UUID, deletedFor map[uuid.UUID]bool) bool {
	if m.DeletedForEveryone || m.FullyDeleted {
		return false
	}
	return !deletedFor[viewer]
}

// Deletion is one entry of a message's deletedFor set.
type Deletion struct {
	MessageID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID    uuid.UUID `gorm:"type:uuid;primaryKey;index"`
	DeletedAt time.Time `gorm:"not null"`
}

// Edit keeps the content a message had before an edit.
type Edit struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID       uuid.UUID `gorm:"type:uuid;not null;index" json:"messageId"`
	PreviousContent string    `gorm:"type:text" json:"previousContent"`
	EditedAt        time.Time `gorm:"not null" json:"editedAt"`
}

type AttachmentStatus string

const (
	AttachmentActive  AttachmentStatus = "ACTIVE"
	AttachmentDeleted AttachmentStatus = "DELETED"
)

// Attachment represents an uploaded file referenced by a message.
type Attachment struct {
	ID         uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	MessageID  *uuid.UUID       `gorm:"type:uuid;index" json:"messageId,omitempty"`
	UploaderID uuid.UUID        `gorm:"type:uuid;not null" json:"uploaderId"`
	URL        string           `json:"url"`
	ObjectKey  string           `json:"-"`
	Filename   string           `json:"filename"`
	MimeType   string           `json:"mimeType"`
	Size       int64            `json:"size"`
	Status     AttachmentStatus `gorm:"type:varchar(16);not null;default:'ACTIVE'" json:"status"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// Summary returns the conversation list preview for a message.
func Summary(text string, attachments []Attachment) string {
	if strings.TrimSpace(text) != "" {
		return text
	}
	if len(attachments) == 0 {
		return ""
	}
	mime := attachments[0].MimeType
	switch {
	case strings.HasPrefix(mime, "image/"):
		return "📷 Photo"
	case strings.HasPrefix(mime, "video/"):
		return "🎥 Video"
	case strings.HasPrefix(mime, "audio/"):
		return "🎵 Audio"
	default:
		return "📎 Attachment"
	}
}

func (Message) TableName() string {
	return "messages"
}

func (Deletion) TableName() string {
	return "message_deletions"
}

func (Edit) TableName() string {
	return "message_edits"
}

func (Attachment) TableName() string {
	return "attachments"
}
