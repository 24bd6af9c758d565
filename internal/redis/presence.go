package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// PresenceEvent is published on channel:presence:{user} whenever a user
// comes online or goes offline.
type PresenceEvent struct {
	EventType  string    `json:"event_type"` // presence.online, presence.offline
	UserID     string    `json:"user_id"`
	IsOnline   bool      `json:"is_online"`
	OccurredAt time.Time `json:"occurred_at"`
}

// PresenceStore is the directory of live connections per user.
//
// presence:conn:{user} holds connection id -> last heartbeat (unix seconds).
// presence:users holds user id -> current connection id; a user is online
// iff it has a field here. Every mutation is a single Lua script, so a late
// disconnect of an old connection can never remove a newer one.
type PresenceStore struct {
	client    *goredis.Client
	publisher *Publisher
	now       func() time.Time
}

// Redis keys for presence
const (
	presenceUsersKey      = "presence:users"
	presenceConnKeyPrefix = "presence:conn:"
	presenceChannelPrefix = "channel:presence:"
)

var registerScript = goredis.NewScript(`
	local had = redis.call('HLEN', KEYS[1])
	redis.call('HSET', KEYS[1], ARGV[2], ARGV[3])
	redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
	if had == 0 then
		return 1
	end
	return 0
`)

// unregisterScript removes one connection. The current pointer is only moved
// when it still names the departing connection; the user is dropped when no
// connection remains. Returns 1 when the user went offline.
//
// With a third argument the connection is only removed if its last heartbeat
// is older than that unix time; otherwise -1 is returned.
var unregisterScript = goredis.NewScript(`
	if ARGV[3] then
		local seen = tonumber(redis.call('HGET', KEYS[1], ARGV[2]))
		if not seen or seen >= tonumber(ARGV[3]) then
			return -1
		end
	end
	local removed = redis.call('HDEL', KEYS[1], ARGV[2])
	local remaining = redis.call('HLEN', KEYS[1])
	if remaining == 0 then
		redis.call('HDEL', KEYS[2], ARGV[1])
		return removed
	end
	local current = redis.call('HGET', KEYS[2], ARGV[1])
	if current == ARGV[2] then
		local conns = redis.call('HGETALL', KEYS[1])
		local best, bestSeen = nil, -1
		for i = 1, #conns, 2 do
			local seen = tonumber(conns[i + 1]) or 0
			if seen > bestSeen then
				best = conns[i]
				bestSeen = seen
			end
		end
		redis.call('HSET', KEYS[2], ARGV[1], best)
	end
	return 0
`)

var heartbeatScript = goredis.NewScript(`
	if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
		redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
		return 1
	end
	return 0
`)

// NewPresenceStore creates a new presence store. publisher may be nil.
func NewPresenceStore(client *goredis.Client, publisher *Publisher) *PresenceStore {
	return &PresenceStore{
		client:    client,
		publisher: publisher,
		now:       time.Now,
	}
}

func connKey(userID uuid.UUID) string {
	return presenceConnKeyPrefix + userID.String()
}

// Register records a live connection and makes it the user's current one.
// It reports whether the user was offline before.
func (p *PresenceStore) Register(ctx context.Context, userID uuid.UUID, connID string) (bool, error) {
	res, err := registerScript.Run(ctx, p.client,
		[]string{connKey(userID), presenceUsersKey},
		userID.String(), connID, p.now().Unix(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("presence register: %w", err)
	}
	cameOnline := res == 1
	if cameOnline {
		p.publishPresenceEvent(ctx, userID, true)
	}
	return cameOnline, nil
}

// UnregisterIfCurrent removes connID from the user's connections and reports
// whether the user has no connection left.
func (p *PresenceStore) UnregisterIfCurrent(ctx context.Context, userID uuid.UUID, connID string) (bool, error) {
	return p.unregister(ctx, userID, connID)
}

// sweepConn removes connID only if its heartbeat is still older than
// threshold when the script runs, so a heartbeat that lands after the sweep
// read the hash keeps the connection.
func (p *PresenceStore) sweepConn(ctx context.Context, userID uuid.UUID, connID string, threshold int64) (bool, error) {
	return p.unregister(ctx, userID, connID, threshold)
}

func (p *PresenceStore) unregister(ctx context.Context, userID uuid.UUID, connID string, threshold ...int64) (bool, error) {
	args := []interface{}{userID.String(), connID}
	for _, t := range threshold {
		args = append(args, t)
	}
	res, err := unregisterScript.Run(ctx, p.client,
		[]string{connKey(userID), presenceUsersKey},
		args...,
	).Int()
	if err != nil {
		return false, fmt.Errorf("presence unregister: %w", err)
	}
	wentOffline := res == 1
	if wentOffline {
		p.publishPresenceEvent(ctx, userID, false)
	}
	return wentOffline, nil
}

// Heartbeat refreshes the last-seen time of a known connection.
func (p *PresenceStore) Heartbeat(ctx context.Context, userID uuid.UUID, connID string) error {
	return heartbeatScript.Run(ctx, p.client, []string{connKey(userID)}, connID, p.now().Unix()).Err()
}

// IsOnline checks if a user has at least one live connection
func (p *PresenceStore) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	return p.client.HExists(ctx, presenceUsersKey, userID.String()).Result()
}

// CurrentConnection returns the connection id presence currently points at.
func (p *PresenceStore) CurrentConnection(ctx context.Context, userID uuid.UUID) (string, error) {
	conn, err := p.client.HGet(ctx, presenceUsersKey, userID.String()).Result()
	if err == goredis.Nil {
		return "", nil
	}
	return conn, err
}

// Snapshot returns all online user ids
func (p *PresenceStore) Snapshot(ctx context.Context) ([]uuid.UUID, error) {
	raw, err := p.client.HKeys(ctx, presenceUsersKey).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SweepStale removes connections whose last heartbeat is older than maxAge,
// e.g. left behind by a crashed process. It returns the users that went offline.
func (p *PresenceStore) SweepStale(ctx context.Context, maxAge time.Duration) ([]uuid.UUID, error) {
	threshold := p.now().Add(-maxAge).Unix()

	users, err := p.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var offline []uuid.UUID
	for _, userID := range users {
		conns, err := p.client.HGetAll(ctx, connKey(userID)).Result()
		if err != nil {
			return offline, err
		}
		for connID, seenRaw := range conns {
			seen, _ := strconv.ParseInt(seenRaw, 10, 64)
			if seen >= threshold {
				continue
			}
			wentOffline, err := p.sweepConn(ctx, userID, connID, threshold)
			if err != nil {
				return offline, err
			}
			if wentOffline {
				offline = append(offline, userID)
			}
		}
	}
	return offline, nil
}

// publishPresenceEvent publishes a presence change to Redis pub/sub. Best effort.
func (p *PresenceStore) publishPresenceEvent(ctx context.Context, userID uuid.UUID, isOnline bool) {
	if p.publisher == nil {
		return
	}

	eventType := "presence.offline"
	if isOnline {
		eventType = "presence.online"
	}
	data, err := json.Marshal(PresenceEvent{
		EventType:  eventType,
		UserID:     userID.String(),
		IsOnline:   isOnline,
		OccurredAt: p.now().UTC(),
	})
	if err != nil {
		return
	}
	_ = p.publisher.Publish(ctx, presenceChannelPrefix+userID.String(), data)
}

// PresenceChannelPattern matches every presence channel.
func PresenceChannelPattern() string {
	return presenceChannelPrefix + "*"
}
