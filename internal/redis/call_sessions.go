package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"beacon-chat/internal/domain"
	"beacon-chat/internal/domain/call"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// Redis key prefixes for active call sessions
const (
	callSessionKeyPrefix = "call:session:" // session JSON by pair key
	callUserKeyPrefix    = "call:user:"    // user id -> pair key
	callSessionTTL       = 6 * time.Hour   // upper bound for leaked sessions
)

// putSessionScript stores a session unless the pair or either user already
// has a live one. An index entry whose session is gone does not block.
var putSessionScript = goredis.NewScript(`
	if redis.call('EXISTS', KEYS[1]) == 1 then
		return 0
	end
	for i = 2, 3 do
		local pair = redis.call('GET', KEYS[i])
		if pair and redis.call('EXISTS', ARGV[4] .. pair) == 1 then
			return 0
		end
	end
	redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[3])
	redis.call('SET', KEYS[2], ARGV[2], 'EX', ARGV[3])
	redis.call('SET', KEYS[3], ARGV[2], 'EX', ARGV[3])
	return 1
`)

// takeSessionScript is an atomic get-and-delete. User index entries are only
// removed while they still point at this pair.
var takeSessionScript = goredis.NewScript(`
	local v = redis.call('GET', KEYS[1])
	if not v then
		return false
	end
	redis.call('DEL', KEYS[1])
	if redis.call('GET', KEYS[2]) == ARGV[1] then
		redis.call('DEL', KEYS[2])
	end
	if redis.call('GET', KEYS[3]) == ARGV[1] then
		redis.call('DEL', KEYS[3])
	end
	return v
`)

// CallSessionStore keeps active call sessions in Redis, keyed by the
// unordered pair of participants.
type CallSessionStore struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewCallSessionStore(client *goredis.Client) *CallSessionStore {
	return &CallSessionStore{client: client, ttl: callSessionTTL}
}

func userKey(userID uuid.UUID) string {
	return callUserKeyPrefix + userID.String()
}

// Put stores the session unless the pair already has one or either user is
// already in a call.
func (s *CallSessionStore) Put(ctx context.Context, session call.Session) (bool, error) {
	pair := session.PairKey()
	data, err := json.Marshal(session)
	if err != nil {
		return false, err
	}
	res, err := putSessionScript.Run(ctx, s.client,
		[]string{callSessionKeyPrefix + pair, userKey(session.CallerID), userKey(session.ReceiverID)},
		data, pair, int(s.ttl.Seconds()), callSessionKeyPrefix,
	).Int()
	if err != nil {
		return false, fmt.Errorf("put call session: %w", err)
	}
	return res == 1, nil
}

// Take removes and returns the session between a and b, if any.
func (s *CallSessionStore) Take(ctx context.Context, a, b uuid.UUID) (call.Session, bool, error) {
	pair := domain.PairKey(a, b)
	raw, err := takeSessionScript.Run(ctx, s.client,
		[]string{callSessionKeyPrefix + pair, userKey(a), userKey(b)},
		pair,
	).Text()
	if err == goredis.Nil {
		return call.Session{}, false, nil
	}
	if err != nil {
		return call.Session{}, false, fmt.Errorf("take call session: %w", err)
	}
	return decodeSession(raw)
}

// FindByUser returns the session the user is currently part of.
func (s *CallSessionStore) FindByUser(ctx context.Context, userID uuid.UUID) (call.Session, bool, error) {
	pair, err := s.client.Get(ctx, userKey(userID)).Result()
	if err == goredis.Nil {
		return call.Session{}, false, nil
	}
	if err != nil {
		return call.Session{}, false, err
	}
	raw, err := s.client.Get(ctx, callSessionKeyPrefix+pair).Result()
	if err == goredis.Nil {
		return call.Session{}, false, nil
	}
	if err != nil {
		return call.Session{}, false, err
	}
	return decodeSession(raw)
}

func decodeSession(raw string) (call.Session, bool, error) {
	var session call.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return call.Session{}, false, err
	}
	return session, true, nil
}
