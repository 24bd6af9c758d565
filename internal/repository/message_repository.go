package repository

import (
	"context"
	"fmt"
	"time"

	"beacon-chat/internal/domain/conversation"
	"beacon-chat/internal/domain/message"
	beacon_errors "beacon-chat/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const notDeletedBy = "NOT EXISTS (SELECT 1 FROM message_deletions d WHERE d.message_id = messages.id AND d.user_id = ?)"

type PostgresMessageRepository struct {
	db *gorm.DB
}

func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &PostgresMessageRepository{db: db}
}

func (r *PostgresMessageRepository) Create(ctx context.Context, m *message.Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return mapError(r.db.WithContext(ctx).Create(m).Error)
}

func (r *PostgresMessageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	err := WithTx(ctx, r.db, func(tx *gorm.DB) error {
		if err := tx.Model(&message.Attachment{}).
			Where("message_id = ?", id).
			Update("message_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&message.Message{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	return mapError(err)
}

func (r *PostgresMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		return message.Message{}, mapError(err)
	}
	return m, nil
}

func (r *PostgresMessageRepository) ListVisible(ctx context.Context, conversationID, viewerID uuid.UUID, before *time.Time, limit int) ([]message.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("conversation_id = ? AND deleted_for_everyone = ? AND fully_deleted = ?", conversationID, false, false).
		Where(notDeletedBy, viewerID)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}

	var msgs []message.Message
	if err := q.Order("created_at DESC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, mapError(err)
	}
	// oldest first
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if err := r.loadAttachments(ctx, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *PostgresMessageRepository) AdvanceStatus(ctx context.Context, ids []uuid.UUID, status message.Status, at time.Time) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	updates := map[string]interface{}{"status": status}
	switch status {
	case message.StatusDelivered:
		updates["delivered_at"] = at
	case message.StatusRead:
		updates["delivered_at"] = gorm.Expr("COALESCE(delivered_at, ?)", at)
		updates["read_at"] = at
	}

	var advanced []uuid.UUID
	err := WithTx(ctx, r.db, func(tx *gorm.DB) error {
		for _, id := range ids {
			res := tx.Model(&message.Message{}).
				Where("id = ? AND status < ?", id, status).
				Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				advanced = append(advanced, id)
			}
		}
		return nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return advanced, nil
}

func (r *PostgresMessageRepository) PendingForRecipient(ctx context.Context, userID uuid.UUID) ([]message.Message, error) {
	db := r.db.WithContext(ctx)
	memberOf := db.Model(&conversation.Participant{}).Select("conversation_id").Where("user_id = ?", userID)

	var msgs []message.Message
	err := db.
		Where("status = ? AND sender_id <> ?", message.StatusSent, userID).
		Where("deleted_for_everyone = ? AND fully_deleted = ?", false, false).
		Where("conversation_id IN (?)", memberOf).
		Where(notDeletedBy, userID).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, mapError(err)
	}
	return msgs, nil
}

func (r *PostgresMessageRepository) ListBelowStatus(ctx context.Context, conversationID, exceptSender uuid.UUID, status message.Status) ([]message.Message, error) {
	var msgs []message.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND sender_id <> ? AND status < ?", conversationID, exceptSender, status).
		Order("created_at ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, mapError(err)
	}
	return msgs, nil
}

func (r *PostgresMessageRepository) MarkDeletedFor(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) (int64, error) {
	var marked int64
	err := WithTx(ctx, r.db, func(tx *gorm.DB) error {
		var ids []uuid.UUID
		if err := tx.Model(&message.Message{}).
			Where("conversation_id = ?", conversationID).
			Where(notDeletedBy, userID).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		rows := make([]message.Deletion, 0, len(ids))
		for _, id := range ids {
			rows = append(rows, message.Deletion{MessageID: id, UserID: userID, DeletedAt: at})
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(rows, 500)
		marked = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, mapError(err)
	}
	return marked, nil
}

func (r *PostgresMessageRepository) DeleteFor(ctx context.Context, messageID, userID uuid.UUID, at time.Time) error {
	d := message.Deletion{MessageID: messageID, UserID: userID, DeletedAt: at}
	return mapError(r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&d).Error)
}

func (r *PostgresMessageRepository) RefreshFullyDeleted(ctx context.Context, conversationID uuid.UUID, participantIDs []uuid.UUID) (int64, error) {
	if len(participantIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("conversation_id = ? AND fully_deleted = ?", conversationID, false).
		Where("(SELECT COUNT(*) FROM message_deletions d WHERE d.message_id = messages.id AND d.user_id IN ?) >= ?",
			participantIDs, len(participantIDs)).
		Update("fully_deleted", true)
	if res.Error != nil {
		return 0, mapError(res.Error)
	}
	return res.RowsAffected, nil
}

func (r *PostgresMessageRepository) MarkDeletedForEveryone(ctx context.Context, id uuid.UUID) error {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"deleted_for_everyone": true, "content": ""})
	if res.Error != nil {
		return mapError(res.Error)
	}
	if res.RowsAffected == 0 {
		return beacon_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresMessageRepository) UpdateContent(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) error {
	err := WithTx(ctx, r.db, func(tx *gorm.DB) error {
		var m message.Message
		if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
			return err
		}
		edit := message.Edit{ID: uuid.New(), MessageID: id, PreviousContent: m.Content, EditedAt: editedAt}
		if err := tx.Create(&edit).Error; err != nil {
			return err
		}
		return tx.Model(&message.Message{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{"content": content, "edited_at": editedAt}).Error
	})
	return mapError(err)
}

func (r *PostgresMessageRepository) ListEdits(ctx context.Context, id uuid.UUID) ([]message.Edit, error) {
	var edits []message.Edit
	err := r.db.WithContext(ctx).Where("message_id = ?", id).Order("edited_at ASC").Find(&edits).Error
	if err != nil {
		return nil, mapError(err)
	}
	return edits, nil
}

func (r *PostgresMessageRepository) CreateAttachment(ctx context.Context, a *message.Attachment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = message.AttachmentActive
	}
	return mapError(r.db.WithContext(ctx).Create(a).Error)
}

func (r *PostgresMessageRepository) AttachToMessage(ctx context.Context, messageID, uploaderID uuid.UUID, attachmentIDs []uuid.UUID) ([]message.Attachment, error) {
	if len(attachmentIDs) == 0 {
		return nil, nil
	}
	var attachments []message.Attachment
	err := WithTx(ctx, r.db, func(tx *gorm.DB) error {
		if err := tx.
			Where("id IN ? AND uploader_id = ? AND message_id IS NULL AND status = ?",
				attachmentIDs, uploaderID, message.AttachmentActive).
			Find(&attachments).Error; err != nil {
			return err
		}
		if len(attachments) != len(attachmentIDs) {
			return fmt.Errorf("%d of %d attachments usable: %w", len(attachments), len(attachmentIDs), beacon_errors.ErrInvalidInput)
		}
		return tx.Model(&message.Attachment{}).
			Where("id IN ?", attachmentIDs).
			Update("message_id", messageID).Error
	})
	if err != nil {
		return nil, mapError(err)
	}
	for i := range attachments {
		attachments[i].MessageID = &messageID
	}
	return attachments, nil
}

func (r *PostgresMessageRepository) AttachmentsFor(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]message.Attachment, error) {
	out := make(map[uuid.UUID][]message.Attachment)
	if len(messageIDs) == 0 {
		return out, nil
	}
	var rows []message.Attachment
	err := r.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, mapError(err)
	}
	for _, a := range rows {
		out[*a.MessageID] = append(out[*a.MessageID], a)
	}
	return out, nil
}

func (r *PostgresMessageRepository) loadAttachments(ctx context.Context, msgs []message.Message) error {
	ids := make([]uuid.UUID, 0, len(msgs))
	for _, m := range msgs {
		if m.Type == message.TypeAttachment {
			ids = append(ids, m.ID)
		}
	}
	byMessage, err := r.AttachmentsFor(ctx, ids)
	if err != nil {
		return err
	}
	for i := range msgs {
		msgs[i].Attachments = byMessage[msgs[i].ID]
	}
	return nil
}
