package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Cache key patterns:
// - conversation:{conv_id}:participants - participants cache

// CacheConfig contains configuration for caching
type CacheConfig struct {
	ConversationTTL time.Duration // TTL for conversation cache (default 5m)
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ConversationTTL: 5 * time.Minute,
	}
}

// CacheStore handles caching in Redis
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

// NewCacheStore creates a new cache store
func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	return &CacheStore{
		client: client,
		config: config,
	}
}

func participantsKey(conversationID uuid.UUID) string {
	return fmt.Sprintf("conversation:%s:participants", conversationID.String())
}

// GetConversationParticipants retrieves participant IDs from cache.
// A miss returns nil, nil.
func (c *CacheStore) GetConversationParticipants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	data, err := c.client.Get(ctx, participantsKey(conversationID)).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var participants []uuid.UUID
	if err := json.Unmarshal([]byte(data), &participants); err != nil {
		return nil, err
	}
	return participants, nil
}

// SetConversationParticipants stores participant IDs in cache
func (c *CacheStore) SetConversationParticipants(ctx context.Context, conversationID uuid.UUID, participantIDs []uuid.UUID) error {
	data, err := json.Marshal(participantIDs)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, participantsKey(conversationID), data, c.config.ConversationTTL).Err()
}

// InvalidateConversationParticipants removes participants from cache
func (c *CacheStore) InvalidateConversationParticipants(ctx context.Context, conversationID uuid.UUID) error {
	return c.client.Del(ctx, participantsKey(conversationID)).Err()
}

// Ping checks if Redis is available
func (c *CacheStore) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
