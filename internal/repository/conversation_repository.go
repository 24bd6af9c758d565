package repository

import (
	"context"
	"sort"
	"time"

	"beacon-chat/internal/domain/conversation"
	"beacon-chat/internal/domain/message"
	beacon_errors "beacon-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type PostgresConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &PostgresConversationRepository{db: db}
}

func (r *PostgresConversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := WithTx(ctx, r.db, func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(c).Error; err != nil {
			return err
		}
		for i := range c.Participants {
			c.Participants[i].ConversationID = c.ID
		}
		if len(c.Participants) == 0 {
			return nil
		}
		return tx.Create(&c.Participants).Error
	})
	return mapError(err)
}

func (r *PostgresConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return conversation.Conversation{}, mapError(err)
	}
	return c, nil
}

func (r *PostgresConversationRepository) GetByDirectKey(ctx context.Context, key string) (conversation.Conversation, error) {
	var c conversation.Conversation
	err := r.db.WithContext(ctx).
		Preload("Participants").
		Where("direct_key = ?", key).
		First(&c).Error
	if err != nil {
		return conversation.Conversation{}, mapError(err)
	}
	return c, nil
}

func (r *PostgresConversationRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]conversation.View, error) {
	db := r.db.WithContext(ctx)

	var parts []conversation.Participant
	if err := db.Where("user_id = ?", userID).Find(&parts).Error; err != nil {
		return nil, mapError(err)
	}
	var deleted []uuid.UUID
	if err := db.Model(&conversation.Deletion{}).
		Where("user_id = ?", userID).
		Pluck("conversation_id", &deleted).Error; err != nil {
		return nil, mapError(err)
	}
	hidden := make(map[uuid.UUID]bool, len(deleted))
	for _, id := range deleted {
		hidden[id] = true
	}

	own := make(map[uuid.UUID]conversation.Participant, len(parts))
	ids := make([]uuid.UUID, 0, len(parts))
	for _, p := range parts {
		if hidden[p.ConversationID] {
			continue
		}
		own[p.ConversationID] = p
		ids = append(ids, p.ConversationID)
	}
	if len(ids) == 0 {
		return []conversation.View{}, nil
	}

	var convs []conversation.Conversation
	if err := db.Preload("Participants").Where("id IN ?", ids).Find(&convs).Error; err != nil {
		return nil, mapError(err)
	}
	views := make([]conversation.View, 0, len(convs))
	for _, c := range convs {
		views = append(views, newView(c, own[c.ID]))
	}
	sortViews(views)
	return views, nil
}

func (r *PostgresConversationRepository) UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, text string, senderID uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.Conversation{}).
		Where("id = ?", conversationID).
		Updates(map[string]interface{}{
			"last_message_text":      text,
			"last_message_sender_id": senderID,
			"last_message_at":        at,
			"updated_at":             at,
		})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return beacon_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) IncrementUnread(ctx context.Context, conversationID, exceptUserID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id <> ?", conversationID, exceptUserID).
		Update("unread_count", gorm.Expr("unread_count + 1")).Error
	return mapError(err)
}

func (r *PostgresConversationRepository) ResetUnread(ctx context.Context, conversationID, userID uuid.UUID) error {
	return r.updateParticipant(ctx, conversationID, userID, "unread_count", 0)
}

func (r *PostgresConversationRepository) SetPinned(ctx context.Context, conversationID, userID uuid.UUID, at *time.Time) error {
	return r.updateParticipant(ctx, conversationID, userID, "pinned_at", at)
}

func (r *PostgresConversationRepository) SetArchived(ctx context.Context, conversationID, userID uuid.UUID, at *time.Time) error {
	return r.updateParticipant(ctx, conversationID, userID, "archived_at", at)
}

func (r *PostgresConversationRepository) updateParticipant(ctx context.Context, conversationID, userID uuid.UUID, column string, value interface{}) error {
	res := r.db.WithContext(ctx).
		Model(&conversation.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Update(column, value)
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return beacon_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresConversationRepository) MarkDeleted(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	d := conversation.Deletion{ConversationID: conversationID, UserID: userID, DeletedAt: at}
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"deleted_at"}),
		}).
		Create(&d).Error
	return mapError(err)
}

func (r *PostgresConversationRepository) ClearDeletions(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	var restored []uuid.UUID
	err := WithTx(ctx, r.db, func(tx *gorm.DB) error {
		if err := tx.Model(&conversation.Deletion{}).
			Where("conversation_id = ? AND user_id IN ?", conversationID, userIDs).
			Pluck("user_id", &restored).Error; err != nil {
			return err
		}
		if len(restored) == 0 {
			return nil
		}
		return tx.Where("conversation_id = ? AND user_id IN ?", conversationID, restored).
			Delete(&conversation.Deletion{}).Error
	})
	if err != nil {
		return nil, mapError(err)
	}
	return restored, nil
}

func (r *PostgresConversationRepository) IsDeletedFor(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&conversation.Deletion{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, mapError(err)
	}
	return count > 0, nil
}

func (r *PostgresConversationRepository) DeletedBy(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Model(&conversation.Deletion{}).
		Where("conversation_id = ?", conversationID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, mapError(err)
	}
	return ids, nil
}

func (r *PostgresConversationRepository) Purge(ctx context.Context, conversationID uuid.UUID) ([]message.Attachment, error) {
	var attachments []message.Attachment
	err := WithTx(ctx, r.db, func(tx *gorm.DB) error {
		messageIDs := tx.Model(&message.Message{}).Select("id").Where("conversation_id = ?", conversationID)

		if err := tx.Where("message_id IN (?) AND status = ?", messageIDs, message.AttachmentActive).
			Find(&attachments).Error; err != nil {
			return err
		}
		if err := tx.Model(&message.Attachment{}).
			Where("message_id IN (?) AND status = ?", messageIDs, message.AttachmentActive).
			Update("status", message.AttachmentDeleted).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&message.Edit{}).Error; err != nil {
			return err
		}
		if err := tx.Where("message_id IN (?)", messageIDs).Delete(&message.Deletion{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&message.Message{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&conversation.Deletion{}).Error; err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&conversation.Participant{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", conversationID).Delete(&conversation.Conversation{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return attachments, nil
}

func newView(c conversation.Conversation, own conversation.Participant) conversation.View {
	return conversation.View{
		Conversation: c,
		Pinned:       own.PinnedAt != nil,
		Archived:     own.ArchivedAt != nil,
		UnreadCount:  own.UnreadCount,
	}
}

// sortViews orders pinned conversations first, then by latest activity.
func sortViews(views []conversation.View) {
	activity := func(v conversation.View) time.Time {
		if v.LastMessageAt != nil {
			return *v.LastMessageAt
		}
		return v.CreatedAt
	}
	sort.SliceStable(views, func(i, j int) bool {
		if views[i].Pinned != views[j].Pinned {
			return views[i].Pinned
		}
		return activity(views[i]).After(activity(views[j]))
	})
}
