package repository

import (
	"context"
	"time"

	"beacon-chat/internal/domain/call"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresCallRepository struct {
	db *gorm.DB
}

func NewCallRepository(db *gorm.DB) CallRepository {
	return &PostgresCallRepository{db: db}
}

func (r *PostgresCallRepository) Create(ctx context.Context, c *call.Call) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return mapError(r.db.WithContext(ctx).Create(c).Error)
}

func (r *PostgresCallRepository) GetByID(ctx context.Context, id uuid.UUID) (call.Call, error) {
	var c call.Call
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if err != nil {
		return call.Call{}, mapError(err)
	}
	return c, nil
}

func (r *PostgresCallRepository) Finish(ctx context.Context, id uuid.UUID, status call.Status, durationSeconds int, endedAt time.Time) (bool, error) {
	if err := call.Transition(call.StatusInitiated, status); err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).
		Model(&call.Call{}).
		Where("id = ? AND status = ?", id, call.StatusInitiated).
		Updates(map[string]interface{}{
			"status":           status,
			"duration_seconds": durationSeconds,
			"ended_at":         endedAt,
		})
	if res.Error != nil {
		return false, mapError(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (r *PostgresCallRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]call.Call, error) {
	if limit <= 0 {
		limit = 50
	}
	var calls []call.Call
	err := r.db.WithContext(ctx).
		Where("caller_id = ? OR receiver_id = ?", userID, userID).
		Order("started_at DESC").
		Limit(limit).
		Find(&calls).Error
	if err != nil {
		return nil, mapError(err)
	}
	return calls, nil
}
