package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"beacon-chat/internal/domain/call"
	"beacon-chat/internal/domain/conversation"
	"beacon-chat/internal/domain/message"
)

type ConversationRepository interface {
	// Create inserts the conversation and its participants. A second direct
	// conversation for the same pair fails with ErrAlreadyExists.
	Create(ctx context.Context, c *conversation.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error)
	GetByDirectKey(ctx context.Context, key string) (conversation.Conversation, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]conversation.View, error)

	// UpdateLastMessage never recreates a purged conversation: it returns
	// ErrNotFound when the row is gone.
	UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, text string, senderID uuid.UUID, at time.Time) error
	IncrementUnread(ctx context.Context, conversationID, exceptUserID uuid.UUID) error
	ResetUnread(ctx context.Context, conversationID, userID uuid.UUID) error
	SetPinned(ctx context.Context, conversationID, userID uuid.UUID, at *time.Time) error
	SetArchived(ctx context.Context, conversationID, userID uuid.UUID, at *time.Time) error

	MarkDeleted(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error
	// ClearDeletions removes soft-delete records and returns the users that had one.
	ClearDeletions(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID) ([]uuid.UUID, error)
	IsDeletedFor(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	DeletedBy(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)

	// Purge removes the conversation with its messages, deletion records and
	// participants in one transaction. Attachments are flagged DELETED and
	// returned so their objects can be removed.
	Purge(ctx context.Context, conversationID uuid.UUID) ([]message.Attachment, error)
}

type MessageRepository interface {
	Create(ctx context.Context, m *message.Message) error
	Delete(ctx context.Context, id uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (message.Message, error)
	ListVisible(ctx context.Context, conversationID, viewerID uuid.UUID, before *time.Time, limit int) ([]message.Message, error)

	// AdvanceStatus moves the given messages forward to status and returns
	// the ids that actually changed. Messages already at or past status are
	// left alone.
	AdvanceStatus(ctx context.Context, ids []uuid.UUID, status message.Status, at time.Time) ([]uuid.UUID, error)
	// PendingForRecipient lists visible messages still at sent in the user's
	// conversations, excluding the user's own.
	PendingForRecipient(ctx context.Context, userID uuid.UUID) ([]message.Message, error)
	// ListBelowStatus lists messages in a conversation not sent by exceptSender
	// whose status is lower than status.
	ListBelowStatus(ctx context.Context, conversationID, exceptSender uuid.UUID, status message.Status) ([]message.Message, error)

	MarkDeletedFor(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) (int64, error)
	DeleteFor(ctx context.Context, messageID, userID uuid.UUID, at time.Time) error
	// RefreshFullyDeleted flags messages whose deletedFor set covers all participants.
	RefreshFullyDeleted(ctx context.Context, conversationID uuid.UUID, participantIDs []uuid.UUID) (int64, error)
	MarkDeletedForEveryone(ctx context.Context, id uuid.UUID) error

	UpdateContent(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) error
	ListEdits(ctx context.Context, id uuid.UUID) ([]message.Edit, error)

	CreateAttachment(ctx context.Context, a *message.Attachment) error
	// AttachToMessage binds unattached active uploads owned by uploaderID.
	AttachToMessage(ctx context.Context, messageID, uploaderID uuid.UUID, attachmentIDs []uuid.UUID) ([]message.Attachment, error)
	AttachmentsFor(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]message.Attachment, error)
}

type CallRepository interface {
	Create(ctx context.Context, c *call.Call) error
	GetByID(ctx context.Context, id uuid.UUID) (call.Call, error)
	// Finish moves an initiated call to a terminal status. Only the first
	// caller wins; later calls return false.
	Finish(ctx context.Context, id uuid.UUID, status call.Status, durationSeconds int, endedAt time.Time) (bool, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]call.Call, error)
}
