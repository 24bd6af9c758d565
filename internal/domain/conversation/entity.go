package conversation

import (
	"time"

	"beacon-chat/internal/domain"

	"github.com/google/uuid"
)

// Conversation represents the conversations table
type Conversation struct {
	ID                  uuid.UUID               `gorm:"type:uuid;primaryKey" json:"id"`
	Type                domain.ConversationType `gorm:"type:varchar(8);not null" json:"type"`
	Subject             string                  `json:"subject,omitempty"`
	DirectKey           *string                 `gorm:"uniqueIndex" json:"-"`
	LastMessageText     string                  `gorm:"type:text" json:"lastMessageText"`
	LastMessageSenderID *uuid.UUID              `gorm:"type:uuid" json:"lastMessageSenderId,omitempty"`
	LastMessageAt       *time.Time              `json:"lastMessageAt,omitempty"`
	CreatedBy           uuid.UUID               `gorm:"type:uuid" json:"createdBy"`
	CreatedAt           time.Time               `json:"createdAt"`
	UpdatedAt           time.Time               `json:"updatedAt"`

	Participants []Participant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

// Participant represents the participants table. PinnedAt and ArchivedAt are
// the per-user pin and archive records.
type Participant struct {
	ConversationID uuid.UUID              `gorm:"type:uuid;primaryKey" json:"conversationId"`
	UserID         uuid.UUID              `gorm:"type:uuid;primaryKey;index" json:"userId"`
	Role           domain.ParticipantRole `gorm:"type:varchar(8);not null" json:"role"`
	JoinedAt       time.Time              `json:"joinedAt"`
	PinnedAt       *time.Time             `json:"pinnedAt,omitempty"`
	ArchivedAt     *time.Time             `json:"archivedAt,omitempty"`
	UnreadCount    int                    `gorm:"not null;default:0" json:"unreadCount"`
}

// Deletion is a per-user soft delete of a conversation.
type Deletion struct {
	ConversationID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	DeletedAt      time.Time `gorm:"not null"`
}

// View is a conversation as seen by one participant.
type View struct {
	Conversation
	Pinned      bool `json:"pinned"`
	Archived    bool `json:"archived"`
	UnreadCount int  `json:"unreadCount"`
}

func (c Conversation) HasParticipant(userID uuid.UUID) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func (c Conversation) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

func (Conversation) TableName() string {
	return "conversations"
}

func (Participant) TableName() string {
	return "participants"
}

func (Deletion) TableName() string {
	return "conversation_deletions"
}
