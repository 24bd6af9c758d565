package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"beacon-chat/config"
	"beacon-chat/internal/commands"
	"beacon-chat/internal/domain/call"
	"beacon-chat/internal/domain/conversation"
	"beacon-chat/internal/domain/message"
	"beacon-chat/internal/events"
	"beacon-chat/internal/redis"
	"beacon-chat/internal/repository"
	beacon_errors "beacon-chat/pkg/errors"
	"beacon-chat/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	userID  uuid.UUID
	event   string
	payload interface{}
}

// recordingPublisher stands in for the websocket hub. Only connected users
// accept events.
type recordingPublisher struct {
	mu        sync.Mutex
	connected map[uuid.UUID]bool
	events    []published
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{connected: make(map[uuid.UUID]bool)}
}

func (p *recordingPublisher) Publish(ctx context.Context, userID uuid.UUID, event string, payload interface{}) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{userID: userID, event: event, payload: payload})
	if p.connected[userID] {
		return 1
	}
	return 0
}

func (p *recordingPublisher) connect(userID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected[userID] = true
}

func (p *recordingPublisher) sent(userID uuid.UUID, event string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, e := range p.events {
		if e.userID == userID && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type recordingRemover struct {
	keys []string
}

func (r *recordingRemover) DeleteObjects(ctx context.Context, keys []string) error {
	r.keys = append(r.keys, keys...)
	return nil
}

type failingPresence struct{}

func (failingPresence) IsOnline(ctx context.Context, userID uuid.UUID) (bool, error) {
	return false, errors.New("presence store down")
}

type fixture struct {
	ctx           context.Context
	store         *repository.MemoryStore
	client        *goredis.Client
	pub           *recordingPublisher
	presence      *redis.PresenceStore
	remover       *recordingRemover
	sessions      *MemoryCallSessions
	conversations *ConversationService
	messages      *MessageService
	calls         *CallService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		ctx:      context.Background(),
		store:    repository.NewMemoryStore(),
		client:   client,
		pub:      newRecordingPublisher(),
		presence: redis.NewPresenceStore(client, nil),
		remover:  &recordingRemover{},
		sessions: NewMemoryCallSessions(),
	}
	log := logger.Nop()
	f.conversations = NewConversationService(f.store.Conversations(), f.store.Messages(), nil, f.remover, log)
	f.messages = NewMessageService(f.conversations, f.store.Messages(), f.pub, f.presence, nil, MessageServiceConfig{EditWindow: 15 * time.Minute}, log)
	f.calls = NewCallService(f.store.Calls(), f.conversations, f.messages, f.sessions, f.pub, f.presence, nil, log)
	return f
}

func (f *fixture) goOnline(t *testing.T, userID uuid.UUID) {
	t.Helper()
	_, err := f.presence.Register(f.ctx, userID, "conn-"+userID.String())
	require.NoError(t, err)
	f.pub.connect(userID)
}

func (f *fixture) direct(t *testing.T, a, b uuid.UUID) conversation.Conversation {
	t.Helper()
	conv, err := f.conversations.Direct(f.ctx, a, b)
	require.NoError(t, err)
	return conv
}

func (f *fixture) stored(t *testing.T, id uuid.UUID) message.Message {
	t.Helper()
	msg, err := f.store.Messages().GetByID(f.ctx, id)
	require.NoError(t, err)
	return msg
}

func TestSendToOfflineThenReconcile(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	f.goOnline(t, a)
	conv := f.direct(t, a, b)

	msg, err := f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, message.StatusSent, f.stored(t, msg.ID).Status)
	assert.Len(t, f.pub.sent(a, events.MessageSent), 1)
	assert.Len(t, f.pub.sent(b, events.MessageReceived), 1)
	assert.Empty(t, f.pub.sent(a, events.MessageStatusUpdate))

	got, err := f.conversations.Get(f.ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "hi", got.LastMessageText)

	f.goOnline(t, b)
	n, err := f.messages.Reconcile(f.ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, message.StatusDelivered, f.stored(t, msg.ID).Status)

	for _, user := range []uuid.UUID{a, b} {
		updates := f.pub.sent(user, events.MessageStatusUpdate)
		require.Len(t, updates, 1)
		payload := updates[0].payload.(events.StatusUpdatePayload)
		assert.Equal(t, msg.ID, payload.MessageID)
		assert.Equal(t, message.StatusDelivered, payload.Status)
	}

	// a second announcement finds nothing left to deliver
	n, err = f.messages.Reconcile(f.ctx, b)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSendToOnlineRecipientIsDelivered(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	f.goOnline(t, a)
	f.goOnline(t, b)
	conv := f.direct(t, a, b)

	msg, err := f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, message.StatusDelivered, f.stored(t, msg.ID).Status)
	assert.Len(t, f.pub.sent(a, events.MessageStatusUpdate), 1)
	assert.Len(t, f.pub.sent(b, events.MessageStatusUpdate), 1)
}

func TestSendTreatsPresenceFailureAsOffline(t *testing.T) {
	f := newFixture(t)
	f.messages.presence = failingPresence{}
	a, b := uuid.New(), uuid.New()
	f.pub.connect(b)
	conv := f.direct(t, a, b)

	msg, err := f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "hello"})
	require.NoError(t, err)
	assert.Equal(t, message.StatusSent, f.stored(t, msg.ID).Status)
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	conv := f.direct(t, a, b)

	_, err := f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "  "})
	assert.ErrorIs(t, err, beacon_errors.ErrInvalidInput)

	_, err = f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: c, Text: "intruder"})
	assert.ErrorIs(t, err, beacon_errors.ErrNotParticipant)

	_, err = f.messages.Send(f.ctx, SendInput{ConversationID: uuid.New(), SenderID: a, Text: "nowhere"})
	assert.ErrorIs(t, err, beacon_errors.ErrNotParticipant)

	_, err = f.conversations.SoftDelete(f.ctx, conv.ID, a)
	require.NoError(t, err)
	_, err = f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "after delete"})
	assert.ErrorIs(t, err, beacon_errors.ErrConversationDeleted)

	// nothing was persisted by the rejected sends
	history, err := f.messages.History(f.ctx, conv.ID, b, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSendWithAttachmentSummary(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	conv := f.direct(t, a, b)

	att := message.Attachment{UploaderID: a, URL: "https://cdn/x.png", ObjectKey: "a/x.png", MimeType: "image/png"}
	require.NoError(t, f.store.Messages().CreateAttachment(f.ctx, &att))

	msg, err := f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, AttachmentIDs: []uuid.UUID{att.ID}})
	require.NoError(t, err)
	assert.Equal(t, message.TypeAttachment, msg.Type)
	require.Len(t, msg.Attachments, 1)

	got, err := f.conversations.Get(f.ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "📷 Photo", got.LastMessageText)

	// an attachment can only be used once
	_, err = f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "again", AttachmentIDs: []uuid.UUID{att.ID}})
	assert.ErrorIs(t, err, beacon_errors.ErrInvalidInput)
	history, err := f.messages.History(f.ctx, conv.ID, a, nil, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestSendRateLimited(t *testing.T) {
	f := newFixture(t)
	f.messages.limiter = redis.NewRateLimiter(f.client, redis.RateLimitConfig{
		MessageLimit: 1, MessageWindow: time.Minute, CallLimit: 1, CallWindow: time.Minute,
	})
	a, b := uuid.New(), uuid.New()
	conv := f.direct(t, a, b)

	_, err := f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "one"})
	require.NoError(t, err)
	_, err = f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "two"})
	assert.ErrorIs(t, err, beacon_errors.ErrRateLimited)
}

func TestMarkReadIsMonotonic(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	conv := f.direct(t, a, b)

	msg, err := f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "read me"})
	require.NoError(t, err)

	n, err := f.messages.MarkRead(f.ctx, conv.ID, b)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, message.StatusRead, f.stored(t, msg.ID).Status)
	assert.Len(t, f.pub.sent(a, events.MessageStatusUpdate), 1)

	// a late delivery must not move it back
	n, err = f.messages.Reconcile(f.ctx, b)
	require.NoError(t, err)
	assert.Zero(t, n)
	advanced, err := f.store.Messages().AdvanceStatus(f.ctx, []uuid.UUID{msg.ID}, message.StatusDelivered, time.Now())
	require.NoError(t, err)
	assert.Empty(t, advanced)
	assert.Equal(t, message.StatusRead, f.stored(t, msg.ID).Status)

	views, err := f.conversations.List(f.ctx, b)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Zero(t, views[0].UnreadCount)

	// the sender reading their own conversation changes nothing
	n, err = f.messages.MarkRead(f.ctx, conv.ID, a)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEditMessage(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	conv := f.direct(t, a, b)

	msg, err := f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "helo"})
	require.NoError(t, err)

	_, err = f.messages.Edit(f.ctx, msg.ID, b, "hijack")
	assert.ErrorIs(t, err, beacon_errors.ErrForbidden)

	edited, err := f.messages.Edit(f.ctx, msg.ID, a, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", edited.Content)
	assert.NotNil(t, edited.EditedAt)
	assert.Len(t, f.pub.sent(b, events.MessageEdited), 1)

	edits, err := f.messages.Edits(f.ctx, msg.ID, b)
	require.NoError(t, err)
	require.Len(t, edits, 1)
	assert.Equal(t, "helo", edits[0].PreviousContent)
	_, err = f.messages.Edits(f.ctx, msg.ID, uuid.New())
	assert.ErrorIs(t, err, beacon_errors.ErrNotParticipant)

	f.messages.now = func() time.Time { return time.Now().UTC().Add(time.Hour) }
	_, err = f.messages.Edit(f.ctx, msg.ID, a, "too late")
	assert.ErrorIs(t, err, beacon_errors.ErrEditWindowExpired)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	conv := f.direct(t, a, b)

	first, err := f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "first"})
	require.NoError(t, err)
	second, err := f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "second"})
	require.NoError(t, err)

	// only for b
	require.NoError(t, f.messages.Delete(f.ctx, first.ID, b, false))
	historyB, err := f.messages.History(f.ctx, conv.ID, b, nil, 0)
	require.NoError(t, err)
	require.Len(t, historyB, 1)
	assert.Equal(t, second.ID, historyB[0].ID)
	historyA, err := f.messages.History(f.ctx, conv.ID, a, nil, 0)
	require.NoError(t, err)
	assert.Len(t, historyA, 2)

	// for everyone is reserved to the sender
	assert.ErrorIs(t, f.messages.Delete(f.ctx, second.ID, b, true), beacon_errors.ErrForbidden)
	require.NoError(t, f.messages.Delete(f.ctx, second.ID, a, true))
	assert.Len(t, f.pub.sent(b, events.MessageDeleted), 2)

	historyA, err = f.messages.History(f.ctx, conv.ID, a, nil, 0)
	require.NoError(t, err)
	require.Len(t, historyA, 1)
	assert.Equal(t, first.ID, historyA[0].ID)

	// once both deleted it, the message is fully deleted
	require.NoError(t, f.messages.Delete(f.ctx, first.ID, a, false))
	assert.True(t, f.stored(t, first.ID).FullyDeleted)
}

func TestSoftDeleteIsPrivate(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	conv := f.direct(t, a, b)

	_, err := f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "old news"})
	require.NoError(t, err)

	purged, err := f.conversations.SoftDelete(f.ctx, conv.ID, a)
	require.NoError(t, err)
	assert.False(t, purged)

	viewsA, err := f.conversations.List(f.ctx, a)
	require.NoError(t, err)
	assert.Empty(t, viewsA)
	historyA, err := f.messages.History(f.ctx, conv.ID, a, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, historyA)

	viewsB, err := f.conversations.List(f.ctx, b)
	require.NoError(t, err)
	require.Len(t, viewsB, 1)
	historyB, err := f.messages.History(f.ctx, conv.ID, b, nil, 0)
	require.NoError(t, err)
	require.Len(t, historyB, 1)
	assert.Equal(t, "old news", historyB[0].Content)

	// new activity from b brings the conversation back for a
	_, err = f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: b, Text: "still there?"})
	require.NoError(t, err)
	viewsA, err = f.conversations.List(f.ctx, a)
	require.NoError(t, err)
	require.Len(t, viewsA, 1)
	assert.Equal(t, "still there?", viewsA[0].LastMessageText)

	historyA, err = f.messages.History(f.ctx, conv.ID, a, nil, 0)
	require.NoError(t, err)
	require.Len(t, historyA, 1)
	assert.Equal(t, "still there?", historyA[0].Content)
}

func TestHardDeleteWhenEveryoneDeleted(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	conv := f.direct(t, a, b)

	att := message.Attachment{UploaderID: a, ObjectKey: "uploads/doc.pdf", MimeType: "application/pdf"}
	require.NoError(t, f.store.Messages().CreateAttachment(f.ctx, &att))
	_, err := f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "doc", AttachmentIDs: []uuid.UUID{att.ID}})
	require.NoError(t, err)

	purged, err := f.conversations.SoftDelete(f.ctx, conv.ID, a)
	require.NoError(t, err)
	assert.False(t, purged)

	purged, err = f.conversations.SoftDelete(f.ctx, conv.ID, b)
	require.NoError(t, err)
	assert.True(t, purged)

	_, err = f.conversations.Get(f.ctx, conv.ID)
	assert.ErrorIs(t, err, beacon_errors.ErrNotFound)
	assert.Equal(t, []string{"uploads/doc.pdf"}, f.remover.keys)

	// a send racing the purge must not bring the row back
	err = f.conversations.Touch(f.ctx, conv.ID, "late", a, time.Now(), nil, true)
	assert.ErrorIs(t, err, beacon_errors.ErrNotFound)
	_, err = f.conversations.Get(f.ctx, conv.ID)
	assert.ErrorIs(t, err, beacon_errors.ErrNotFound)

	// the pair can start over with a fresh conversation
	again := f.direct(t, a, b)
	assert.NotEqual(t, conv.ID, again.ID)
}

func TestClearKeepsConversation(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	conv := f.direct(t, a, b)
	_, err := f.messages.Send(f.ctx, SendInput{ConversationID: conv.ID, SenderID: a, Text: "one"})
	require.NoError(t, err)

	n, err := f.conversations.Clear(f.ctx, conv.ID, a)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	historyA, err := f.messages.History(f.ctx, conv.ID, a, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, historyA)
	viewsA, err := f.conversations.List(f.ctx, a)
	require.NoError(t, err)
	assert.Len(t, viewsA, 1)
	historyB, err := f.messages.History(f.ctx, conv.ID, b, nil, 0)
	require.NoError(t, err)
	assert.Len(t, historyB, 1)
}

func TestPinAndArchive(t *testing.T) {
	f := newFixture(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	first := f.direct(t, a, b)
	second := f.direct(t, a, c)

	require.NoError(t, f.conversations.Pin(f.ctx, first.ID, a))
	require.NoError(t, f.conversations.Archive(f.ctx, second.ID, a))
	assert.ErrorIs(t, f.conversations.Pin(f.ctx, first.ID, c), beacon_errors.ErrNotParticipant)

	views, err := f.conversations.List(f.ctx, a)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, first.ID, views[0].ID)
	assert.True(t, views[0].Pinned)
	assert.True(t, views[1].Archived)

	require.NoError(t, f.conversations.Unpin(f.ctx, first.ID, a))
	require.NoError(t, f.conversations.Unarchive(f.ctx, second.ID, a))
	views, err = f.conversations.List(f.ctx, a)
	require.NoError(t, err)
	for _, v := range views {
		assert.False(t, v.Pinned)
		assert.False(t, v.Archived)
	}
}

func TestDirectAndGroup(t *testing.T) {
	f := newFixture(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	ab := f.direct(t, a, b)
	ba := f.direct(t, b, a)
	assert.Equal(t, ab.ID, ba.ID)

	_, err := f.conversations.Direct(f.ctx, a, a)
	assert.ErrorIs(t, err, beacon_errors.ErrInvalidInput)

	group, err := f.conversations.CreateGroup(f.ctx, a, "team", []uuid.UUID{b, c, b})
	require.NoError(t, err)
	assert.Len(t, group.Participants, 3)

	_, err = f.conversations.CreateGroup(f.ctx, a, "", []uuid.UUID{b})
	assert.ErrorIs(t, err, beacon_errors.ErrInvalidInput)
	_, err = f.conversations.CreateGroup(f.ctx, a, "alone", nil)
	assert.ErrorIs(t, err, beacon_errors.ErrInvalidInput)
}

func callEntries(t *testing.T, f *fixture, conversationID, viewer uuid.UUID) []message.Message {
	t.Helper()
	history, err := f.messages.History(f.ctx, conversationID, viewer, nil, 0)
	require.NoError(t, err)
	var out []message.Message
	for _, m := range history {
		if m.Type == message.TypeCall {
			out = append(out, m)
		}
	}
	return out
}

func TestCallToOfflineReceiverIsMissed(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	f.goOnline(t, a)

	rec, err := f.calls.Initiate(f.ctx, InitiateInput{CallerID: a, ReceiverID: b, Type: call.TypeAudio, Offer: json.RawMessage(`{"sdp":"x"}`)})
	require.NoError(t, err)
	assert.Equal(t, call.StatusMissed, rec.Status)
	assert.Zero(t, rec.DurationSeconds)

	stored, err := f.store.Calls().GetByID(f.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusMissed, stored.Status)

	assert.Empty(t, f.pub.sent(b, events.CallIncoming))
	require.Len(t, f.pub.sent(a, events.CallRecord), 1)
	statuses := f.pub.sent(a, events.CallStatus)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].payload.(events.CallStatusPayload).Online)

	for _, user := range []uuid.UUID{a, b} {
		entries := callEntries(t, f, rec.ConversationID, user)
		require.Len(t, entries, 1)
		assert.True(t, strings.HasPrefix(entries[0].Content, "📞 Missed"))
	}

	_, found, err := f.sessions.FindByUser(f.ctx, a)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCompletedCallDurationAndIdempotentEnd(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	f.goOnline(t, a)
	f.goOnline(t, b)

	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	f.calls.now = func() time.Time { return clock }

	rec, err := f.calls.Initiate(f.ctx, InitiateInput{CallerID: a, CallerName: "alice", ReceiverID: b, Type: call.TypeVideo, Offer: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.Equal(t, call.StatusInitiated, rec.Status)

	incoming := f.pub.sent(b, events.CallIncoming)
	require.Len(t, incoming, 1)
	payload := incoming[0].payload.(events.CallIncomingPayload)
	assert.Equal(t, rec.ID, payload.CallID)
	assert.Equal(t, "alice", payload.Username)

	require.NoError(t, f.calls.Answer(f.ctx, b, a, json.RawMessage(`{"sdp":"y"}`)))
	assert.Len(t, f.pub.sent(a, events.CallAnswered), 1)
	require.NoError(t, f.calls.RelayICE(f.ctx, a, b, json.RawMessage(`{"candidate":"c"}`)))
	assert.Len(t, f.pub.sent(b, events.ICECandidate), 1)

	clock = clock.Add(42 * time.Second)
	require.NoError(t, f.calls.End(f.ctx, a, b))
	require.NoError(t, f.calls.End(f.ctx, a, b))

	stored, err := f.store.Calls().GetByID(f.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusCompleted, stored.Status)
	assert.Equal(t, 42, stored.DurationSeconds)

	for _, user := range []uuid.UUID{a, b} {
		entries := callEntries(t, f, rec.ConversationID, user)
		require.Len(t, entries, 1)
		assert.Equal(t, "📞 Completed video call (0:42)", entries[0].Content)
		assert.Len(t, f.pub.sent(user, events.CallRecord), 1)
	}
	assert.Len(t, f.pub.sent(b, events.CallEnded), 2)

	_, found, err := f.sessions.FindByUser(f.ctx, a)
	require.NoError(t, err)
	assert.False(t, found)

	// a late reject for the same call is a relay only
	require.NoError(t, f.calls.Reject(f.ctx, b, a, rec.ID))
	stored, err = f.store.Calls().GetByID(f.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusCompleted, stored.Status)
	assert.Len(t, f.pub.sent(a, events.CallRejected), 1)
}

func TestCallInProgress(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	f.goOnline(t, b)

	_, err := f.calls.Initiate(f.ctx, InitiateInput{CallerID: a, ReceiverID: b, Type: call.TypeAudio})
	require.NoError(t, err)
	_, err = f.calls.Initiate(f.ctx, InitiateInput{CallerID: b, ReceiverID: a, Type: call.TypeAudio})
	assert.ErrorIs(t, err, beacon_errors.ErrCallInProgress)

	_, err = f.calls.Initiate(f.ctx, InitiateInput{CallerID: a, ReceiverID: a, Type: call.TypeAudio})
	assert.ErrorIs(t, err, beacon_errors.ErrInvalidInput)
	_, err = f.calls.Initiate(f.ctx, InitiateInput{CallerID: a, ReceiverID: b, Type: "hologram"})
	assert.ErrorIs(t, err, beacon_errors.ErrInvalidInput)
}

func TestCancelledCallHiddenFromReceiver(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	f.goOnline(t, b)

	rec, err := f.calls.Initiate(f.ctx, InitiateInput{CallerID: a, ReceiverID: b, Type: call.TypeAudio})
	require.NoError(t, err)
	require.NoError(t, f.calls.Cancel(f.ctx, a, b))

	stored, err := f.store.Calls().GetByID(f.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusCancelled, stored.Status)

	assert.Len(t, callEntries(t, f, rec.ConversationID, a), 1)
	assert.Empty(t, callEntries(t, f, rec.ConversationID, b))
	assert.Len(t, f.pub.sent(a, events.CallRecord), 1)
	assert.Empty(t, f.pub.sent(b, events.CallRecord))
	assert.Len(t, f.pub.sent(b, events.CallCancelled), 1)

	// the shared preview must not reveal the hidden entry to b
	views, err := f.conversations.List(f.ctx, b)
	require.NoError(t, err)
	for _, v := range views {
		if v.ID == rec.ConversationID {
			assert.NotContains(t, v.LastMessageText, "Cancelled")
		}
	}
}

func TestReceiverCancelDeclinesCall(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	f.goOnline(t, b)

	rec, err := f.calls.Initiate(f.ctx, InitiateInput{CallerID: a, ReceiverID: b, Type: call.TypeAudio})
	require.NoError(t, err)
	require.NoError(t, f.calls.Cancel(f.ctx, b, a))

	stored, err := f.store.Calls().GetByID(f.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusRejected, stored.Status)
	assert.Len(t, callEntries(t, f, rec.ConversationID, a), 1)
	assert.Len(t, callEntries(t, f, rec.ConversationID, b), 1)
	assert.Len(t, f.pub.sent(a, events.CallRejected), 1)
	assert.Empty(t, f.pub.sent(a, events.CallCancelled))
}

func TestBusyUserCannotBeCalled(t *testing.T) {
	f := newFixture(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	f.goOnline(t, a)
	f.goOnline(t, b)

	first, err := f.calls.Initiate(f.ctx, InitiateInput{CallerID: a, ReceiverID: b, Type: call.TypeAudio})
	require.NoError(t, err)
	_, err = f.calls.Initiate(f.ctx, InitiateInput{CallerID: c, ReceiverID: a, Type: call.TypeVideo})
	assert.ErrorIs(t, err, beacon_errors.ErrCallInProgress)

	// c giving up finds nothing to resolve
	require.NoError(t, f.calls.Cancel(f.ctx, c, a))
	session, found, err := f.sessions.FindByUser(f.ctx, a)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.ID, session.CallID)

	// a leaving still resolves the original call
	require.NoError(t, f.calls.HandleDisconnect(f.ctx, a))
	stored, err := f.store.Calls().GetByID(f.ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusCancelled, stored.Status)
	_, found, err = f.sessions.FindByUser(f.ctx, b)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRejectedCall(t *testing.T) {
	f := newFixture(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	f.goOnline(t, b)

	rec, err := f.calls.Initiate(f.ctx, InitiateInput{CallerID: a, ReceiverID: b, Type: call.TypeAudio})
	require.NoError(t, err)

	// a stranger cannot reject someone else's call by id
	assert.ErrorIs(t, f.calls.Reject(f.ctx, c, a, rec.ID), beacon_errors.ErrForbidden)

	require.NoError(t, f.calls.Reject(f.ctx, b, a, rec.ID))
	stored, err := f.store.Calls().GetByID(f.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusRejected, stored.Status)
	assert.Len(t, callEntries(t, f, rec.ConversationID, a), 1)
	assert.Len(t, callEntries(t, f, rec.ConversationID, b), 1)

	// ending afterwards finds no session and only relays
	require.NoError(t, f.calls.End(f.ctx, a, b))
	stored, err = f.store.Calls().GetByID(f.ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusRejected, stored.Status)
}

func TestDisconnectResolvesSessions(t *testing.T) {
	f := newFixture(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	f.goOnline(t, b)
	f.goOnline(t, c)

	toB, err := f.calls.Initiate(f.ctx, InitiateInput{CallerID: a, ReceiverID: b, Type: call.TypeAudio})
	require.NoError(t, err)
	require.NoError(t, f.calls.HandleDisconnect(f.ctx, b))
	stored, err := f.store.Calls().GetByID(f.ctx, toB.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusCompleted, stored.Status)

	toC, err := f.calls.Initiate(f.ctx, InitiateInput{CallerID: a, ReceiverID: c, Type: call.TypeAudio})
	require.NoError(t, err)
	require.NoError(t, f.calls.HandleDisconnect(f.ctx, a))
	stored, err = f.store.Calls().GetByID(f.ctx, toC.ID)
	require.NoError(t, err)
	assert.Equal(t, call.StatusCancelled, stored.Status)

	// nothing left to resolve
	require.NoError(t, f.calls.HandleDisconnect(f.ctx, a))

	history, err := f.calls.History(f.ctx, a, 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestConcurrentTerminalSignalsFinishOnce(t *testing.T) {
	f := newFixture(t)
	a, b := uuid.New(), uuid.New()
	f.goOnline(t, b)

	rec, err := f.calls.Initiate(f.ctx, InitiateInput{CallerID: a, ReceiverID: b, Type: call.TypeAudio})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); _ = f.calls.End(f.ctx, a, b) }()
	go func() { defer wg.Done(); _ = f.calls.Reject(f.ctx, b, a, rec.ID) }()
	go func() { defer wg.Done(); _ = f.calls.Cancel(f.ctx, a, b) }()
	wg.Wait()

	stored, err := f.store.Calls().GetByID(f.ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.Status.Terminal())
	// cancelled entries are hidden from b, so count from a's side
	assert.Len(t, callEntries(t, f, rec.ConversationID, a), 1)
}

func TestBusHandlers(t *testing.T) {
	f := newFixture(t)
	bus := commands.NewBus()
	f.messages.RegisterHandlers(bus)
	f.calls.RegisterHandlers(bus)

	for _, name := range []string{
		events.SendMessage, events.MarkRead, events.Online, events.EditMessage, events.DeleteMessage,
		events.CallInitiate, events.CallAnswer, events.CallReject, events.CallCancel, events.CallEnd, events.ICECandidate,
	} {
		assert.True(t, bus.Has(name), name)
	}

	a, b := uuid.New(), uuid.New()
	conv := f.direct(t, a, b)
	data, err := json.Marshal(events.SendMessagePayload{ConversationID: conv.ID, Text: "via bus"})
	require.NoError(t, err)

	res, err := bus.Execute(f.ctx, commands.Event{Type: events.SendMessage, UserID: a, Data: data})
	require.NoError(t, err)
	msg, ok := res.Payload.(message.Message)
	require.True(t, ok)
	assert.Equal(t, "via bus", msg.Content)
	assert.Equal(t, msg.ID.String(), res.AggregateID)

	_, err = bus.Execute(f.ctx, commands.Event{Type: events.SendMessage, UserID: a})
	assert.ErrorIs(t, err, beacon_errors.ErrInvalidInput)

	data, err = json.Marshal(events.CallTargetPayload{To: b})
	require.NoError(t, err)
	_, err = bus.Execute(f.ctx, commands.Event{Type: events.CallEnd, UserID: a, Data: data})
	require.NoError(t, err)
	assert.Len(t, f.pub.sent(b, events.CallEnded), 1)
}

func TestMemoryCallSessions(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryCallSessions()
	a, b := uuid.New(), uuid.New()
	session := call.Session{CallID: uuid.New(), CallerID: a, ReceiverID: b, Type: call.TypeAudio, StartedAt: time.Now()}

	ok, err := reg.Put(ctx, session)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = reg.Put(ctx, call.Session{CallID: uuid.New(), CallerID: b, ReceiverID: a})
	require.NoError(t, err)
	assert.False(t, ok)

	got, found, err := reg.FindByUser(ctx, b)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, session.CallID, got.CallID)

	// the pair is unordered
	got, found, err = reg.Take(ctx, b, a)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, session.CallID, got.CallID)

	_, found, err = reg.Take(ctx, a, b)
	require.NoError(t, err)
	assert.False(t, found)
	_, found, err = reg.FindByUser(ctx, a)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAuthTokens(t *testing.T) {
	auth := NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiryMin: 5})
	user := uuid.New()

	token, err := auth.IssueAccessToken(user, "alice")
	require.NoError(t, err)
	id, err := auth.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, user, id.UserID)
	assert.Equal(t, "alice", id.Username)

	other := NewAuthService(&config.Config{JWTSecret: "other-secret", JWTExpiryMin: 5})
	_, err = other.ParseAccessToken(token)
	assert.ErrorIs(t, err, beacon_errors.ErrUnauthorized)
	_, err = auth.ParseAccessToken("")
	assert.ErrorIs(t, err, beacon_errors.ErrUnauthorized)

	expired := NewAuthService(&config.Config{JWTSecret: "test-secret", JWTExpiryMin: -1})
	token, err = expired.IssueAccessToken(user, "alice")
	require.NoError(t, err)
	_, err = auth.ParseAccessToken(token)
	assert.ErrorIs(t, err, beacon_errors.ErrUnauthorized)

	ctx := WithIdentityContext(context.Background(), id)
	got, ok := UserIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, user, got)
	assert.Equal(t, 404, HTTPStatus(beacon_errors.ErrNotFound))
	assert.Equal(t, 403, HTTPStatus(beacon_errors.ErrNotParticipant))
}
