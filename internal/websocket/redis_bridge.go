package websocket

import (
	"context"
	"encoding/json"

	"beacon-chat/internal/events"
	"beacon-chat/internal/redis"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PresenceSnapshotter lists the users that are online right now.
type PresenceSnapshotter interface {
	Snapshot(ctx context.Context) ([]uuid.UUID, error)
}

// PresenceBridge turns presence changes published on Redis into
// presence-changed events for every local connection. Registration never
// waits on it.
type PresenceBridge struct {
	subscriber *redis.Subscriber
	presence   PresenceSnapshotter
	hub        *Hub
	log        *WebSocketLogger
}

func NewPresenceBridge(subscriber *redis.Subscriber, presence PresenceSnapshotter, hub *Hub, log *WebSocketLogger) *PresenceBridge {
	if log == nil {
		log = NewWebSocketLogger(nil)
	}
	return &PresenceBridge{subscriber: subscriber, presence: presence, hub: hub, log: log}
}

// Run blocks until ctx is cancelled.
func (b *PresenceBridge) Run(ctx context.Context) error {
	return b.subscriber.Subscribe(ctx, []string{redis.PresenceChannelPattern()}, func(channel string, payload []byte) {
		var ev redis.PresenceEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			b.log.Warn("bad presence event", uuid.Nil, "", zap.String("channel", channel), zap.Error(err))
			return
		}
		userID, err := uuid.Parse(ev.UserID)
		if err != nil {
			return
		}
		b.broadcast(ctx, userID, ev.IsOnline)
	})
}

func (b *PresenceBridge) broadcast(ctx context.Context, userID uuid.UUID, online bool) {
	snapshot, err := b.presence.Snapshot(ctx)
	if err != nil {
		b.log.Warn("presence snapshot failed", userID, "", zap.Error(err))
		snapshot = nil
	}
	if snapshot == nil {
		snapshot = []uuid.UUID{}
	}
	b.hub.BroadcastAll(events.PresenceChanged, events.PresenceChangedPayload{
		UserID:        userID,
		Online:        online,
		OnlineUserIDs: snapshot,
	})
}
