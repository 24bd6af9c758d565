package call

import (
	"fmt"
	"time"

	"beacon-chat/internal/domain"
	beacon_errors "beacon-chat/pkg/errors"

	"github.com/google/uuid"
)

type Type string

const (
	TypeAudio Type = "audio"
	TypeVideo Type = "video"
)

func (t Type) Valid() bool {
	return t == TypeAudio || t == TypeVideo
}

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusMissed, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Transition validates a status change. A call leaves initiated exactly once.
func Transition(from, to Status) error {
	if from != StatusInitiated || !to.Terminal() {
		return fmt.Errorf("call %s -> %s: %w", from, to, beacon_errors.ErrInvalidTransition)
	}
	return nil
}

// Call represents calls table
type Call struct {
	ID              uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID  uuid.UUID  `gorm:"type:uuid;not null;index" json:"conversationId"`
	CallerID        uuid.UUID  `gorm:"type:uuid;not null;index" json:"callerId"`
	ReceiverID      uuid.UUID  `gorm:"type:uuid;not null;index" json:"receiverId"`
	Type            Type       `gorm:"type:varchar(8);not null" json:"callType"`
	Status          Status     `gorm:"type:varchar(16);not null" json:"status"`
	DurationSeconds int        `gorm:"not null;default:0" json:"duration"`
	StartedAt       time.Time  `gorm:"not null" json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// TimelineText renders the conversation entry for a finished call,
// e.g. "📞 Missed audio call" or "📞 Completed video call (1:05)".
func (c Call) TimelineText() string {
	outcome := "Call"
	switch c.Status {
	case StatusCompleted:
		outcome = "Completed"
	case StatusMissed:
		outcome = "Missed"
	case StatusRejected:
		outcome = "Rejected"
	case StatusCancelled:
		outcome = "Cancelled"
	}
	text := fmt.Sprintf("📞 %s %s call", outcome, c.Type)
	if c.Status == StatusCompleted {
		text += fmt.Sprintf(" (%d:%02d)", c.DurationSeconds/60, c.DurationSeconds%60)
	}
	return text
}

// Session is an active call between two users, keyed by their pair.
type Session struct {
	CallID     uuid.UUID `json:"callId"`
	CallerID   uuid.UUID `json:"callerId"`
	ReceiverID uuid.UUID `json:"receiverId"`
	Type       Type      `json:"callType"`
	StartedAt  time.Time `json:"startedAt"`
}

func (s Session) PairKey() string {
	return domain.PairKey(s.CallerID, s.ReceiverID)
}

// Involves reports whether userID is either party of the call.
func (c Call) Involves(userID uuid.UUID) bool {
	return c.CallerID == userID || c.ReceiverID == userID
}

func (Call) TableName() string {
	return "calls"
}
