package repository

import (
	"fmt"

	"beacon-chat/internal/domain/call"
	"beacon-chat/internal/domain/conversation"
	"beacon-chat/internal/domain/message"

	"gorm.io/gorm"
)

// Models lists every table owned by the service, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&conversation.Conversation{},
		&conversation.Participant{},
		&conversation.Deletion{},
		&message.Message{},
		&message.Deletion{},
		&message.Edit{},
		&message.Attachment{},
		&call.Call{},
	}
}

// InitSchema runs the gorm auto-migration for all models.
func InitSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
