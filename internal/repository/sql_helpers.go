package repository

import (
	"context"
	"errors"
	"fmt"

	beacon_errors "beacon-chat/pkg/errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

// mapError converts gorm errors into package errors. Anything unknown is
// wrapped as a persistence failure.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return beacon_errors.ErrNotFound
	case isUniqueViolation(err):
		return beacon_errors.ErrAlreadyExists
	default:
		return fmt.Errorf("%w: %w", beacon_errors.ErrPersistence, err)
	}
}

// WithTx executes fn inside a gorm transaction bound to ctx.
func WithTx(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	if db == nil {
		return errors.New("database not initialized")
	}
	return db.WithContext(ctx).Transaction(fn)
}
