package services

import (
	"context"

	"beacon-chat/internal/domain/call"
	"beacon-chat/internal/redis"
	beacon_errors "beacon-chat/pkg/errors"
	"beacon-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Publisher delivers an event to every live connection of a user and
// returns how many connections accepted it.
type Publisher interface {
	Publish(ctx context.Context, userID uuid.UUID, event string, payload interface{}) int
}

type PresenceReader interface {
	IsOnline(ctx context.Context, userID uuid.UUID) (bool, error)
}

type RateLimiter interface {
	AllowMessage(ctx context.Context, userID uuid.UUID) (*redis.RateLimitResult, error)
	AllowCall(ctx context.Context, userID uuid.UUID) (*redis.RateLimitResult, error)
}

type ParticipantCache interface {
	GetConversationParticipants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error)
	SetConversationParticipants(ctx context.Context, conversationID uuid.UUID, participantIDs []uuid.UUID) error
	InvalidateConversationParticipants(ctx context.Context, conversationID uuid.UUID) error
}

// ObjectRemover deletes stored attachment objects.
type ObjectRemover interface {
	DeleteObjects(ctx context.Context, keys []string) error
}

// CallSessionRegistry holds active call sessions keyed by participant pair.
type CallSessionRegistry interface {
	Put(ctx context.Context, session call.Session) (bool, error)
	Take(ctx context.Context, a, b uuid.UUID) (call.Session, bool, error)
	FindByUser(ctx context.Context, userID uuid.UUID) (call.Session, bool, error)
}

// checkRate applies a rate limit check. An unreachable limiter lets the
// action through.
func checkRate(ctx context.Context, log *logger.Logger, check func(context.Context, uuid.UUID) (*redis.RateLimitResult, error), userID uuid.UUID) error {
	res, err := check(ctx, userID)
	if err != nil {
		log.Ctx(ctx).Warn("rate limiter unavailable", zap.String("user_id", userID.String()), zap.Error(err))
		return nil
	}
	if !res.Allowed {
		return beacon_errors.ErrRateLimited
	}
	return nil
}

// presenceOnline treats an unreadable presence store as offline.
func presenceOnline(ctx context.Context, log *logger.Logger, presence PresenceReader, userID uuid.UUID) bool {
	if presence == nil {
		return false
	}
	online, err := presence.IsOnline(ctx, userID)
	if err != nil {
		log.Ctx(ctx).Warn("presence lookup failed, assuming offline",
			zap.String("user_id", userID.String()), zap.Error(err))
		return false
	}
	return online
}
