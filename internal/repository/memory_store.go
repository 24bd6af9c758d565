package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"beacon-chat/internal/domain/call"
	"beacon-chat/internal/domain/conversation"
	"beacon-chat/internal/domain/message"
	beacon_errors "beacon-chat/pkg/errors"

	"github.com/google/uuid"
)

// MemoryStore is a dev-only fallback when no database is configured. It
// backs all three repositories with the same locked state, so it behaves
// like a single database.
type MemoryStore struct {
	mu  sync.Mutex
	seq int64

	conversations map[uuid.UUID]*conversation.Conversation
	directKeys    map[string]uuid.UUID
	convDeletions map[uuid.UUID]map[uuid.UUID]time.Time

	messages     map[uuid.UUID]*memMessage
	msgDeletions map[uuid.UUID]map[uuid.UUID]time.Time
	edits        map[uuid.UUID][]message.Edit
	attachments  map[uuid.UUID]*message.Attachment

	calls map[uuid.UUID]*call.Call
}

type memMessage struct {
	seq int64
	msg message.Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[uuid.UUID]*conversation.Conversation),
		directKeys:    make(map[string]uuid.UUID),
		convDeletions: make(map[uuid.UUID]map[uuid.UUID]time.Time),
		messages:      make(map[uuid.UUID]*memMessage),
		msgDeletions:  make(map[uuid.UUID]map[uuid.UUID]time.Time),
		edits:         make(map[uuid.UUID][]message.Edit),
		attachments:   make(map[uuid.UUID]*message.Attachment),
		calls:         make(map[uuid.UUID]*call.Call),
	}
}

func (s *MemoryStore) Conversations() ConversationRepository { return &memConversationRepository{s} }
func (s *MemoryStore) Messages() MessageRepository           { return &memMessageRepository{s} }
func (s *MemoryStore) Calls() CallRepository                 { return &memCallRepository{s} }

func copyConversation(c *conversation.Conversation) conversation.Conversation {
	out := *c
	out.Participants = append([]conversation.Participant(nil), c.Participants...)
	return out
}

func (s *MemoryStore) participant(conversationID, userID uuid.UUID) *conversation.Participant {
	c := s.conversations[conversationID]
	if c == nil {
		return nil
	}
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

func (s *MemoryStore) deletedBy(messageID, userID uuid.UUID) bool {
	_, ok := s.msgDeletions[messageID][userID]
	return ok
}

// sortedMessages returns copies of the matching messages in creation order.
func (s *MemoryStore) sortedMessages(match func(m *message.Message) bool) []message.Message {
	rows := make([]*memMessage, 0)
	for _, mm := range s.messages {
		if match(&mm.msg) {
			rows = append(rows, mm)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].msg.CreatedAt.Equal(rows[j].msg.CreatedAt) {
			return rows[i].msg.CreatedAt.Before(rows[j].msg.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]message.Message, 0, len(rows))
	for _, mm := range rows {
		out = append(out, mm.msg)
	}
	return out
}

type memConversationRepository struct{ s *MemoryStore }

func (r *memConversationRepository) Create(ctx context.Context, c *conversation.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, ok := r.s.conversations[c.ID]; ok {
		return beacon_errors.ErrAlreadyExists
	}
	if c.DirectKey != nil {
		if _, ok := r.s.directKeys[*c.DirectKey]; ok {
			return beacon_errors.ErrAlreadyExists
		}
		r.s.directKeys[*c.DirectKey] = c.ID
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt
	for i := range c.Participants {
		c.Participants[i].ConversationID = c.ID
	}
	stored := copyConversation(c)
	r.s.conversations[c.ID] = &stored
	return nil
}

func (r *memConversationRepository) GetByID(ctx context.Context, id uuid.UUID) (conversation.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[id]
	if !ok {
		return conversation.Conversation{}, beacon_errors.ErrNotFound
	}
	return copyConversation(c), nil
}

func (r *memConversationRepository) GetByDirectKey(ctx context.Context, key string) (conversation.Conversation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	id, ok := r.s.directKeys[key]
	if !ok {
		return conversation.Conversation{}, beacon_errors.ErrNotFound
	}
	return copyConversation(r.s.conversations[id]), nil
}

func (r *memConversationRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]conversation.View, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	views := make([]conversation.View, 0)
	for id, c := range r.s.conversations {
		if _, deleted := r.s.convDeletions[id][userID]; deleted {
			continue
		}
		p := r.s.participant(id, userID)
		if p == nil {
			continue
		}
		views = append(views, newView(copyConversation(c), *p))
	}
	sortViews(views)
	return views, nil
}

func (r *memConversationRepository) UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, text string, senderID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[conversationID]
	if !ok {
		return beacon_errors.ErrNotFound
	}
	sender := senderID
	c.LastMessageText = text
	c.LastMessageSenderID = &sender
	c.LastMessageAt = &at
	c.UpdatedAt = at
	return nil
}

func (r *memConversationRepository) IncrementUnread(ctx context.Context, conversationID, exceptUserID uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[conversationID]
	if !ok {
		return nil
	}
	for i := range c.Participants {
		if c.Participants[i].UserID != exceptUserID {
			c.Participants[i].UnreadCount++
		}
	}
	return nil
}

func (r *memConversationRepository) ResetUnread(ctx context.Context, conversationID, userID uuid.UUID) error {
	return r.updateParticipant(conversationID, userID, func(p *conversation.Participant) { p.UnreadCount = 0 })
}

func (r *memConversationRepository) SetPinned(ctx context.Context, conversationID, userID uuid.UUID, at *time.Time) error {
	return r.updateParticipant(conversationID, userID, func(p *conversation.Participant) { p.PinnedAt = at })
}

func (r *memConversationRepository) SetArchived(ctx context.Context, conversationID, userID uuid.UUID, at *time.Time) error {
	return r.updateParticipant(conversationID, userID, func(p *conversation.Participant) { p.ArchivedAt = at })
}

func (r *memConversationRepository) updateParticipant(conversationID, userID uuid.UUID, fn func(p *conversation.Participant)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p := r.s.participant(conversationID, userID)
	if p == nil {
		return beacon_errors.ErrNotFound
	}
	fn(p)
	return nil
}

func (r *memConversationRepository) MarkDeleted(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.convDeletions[conversationID] == nil {
		r.s.convDeletions[conversationID] = make(map[uuid.UUID]time.Time)
	}
	r.s.convDeletions[conversationID][userID] = at
	return nil
}

func (r *memConversationRepository) ClearDeletions(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var restored []uuid.UUID
	for _, id := range userIDs {
		if _, ok := r.s.convDeletions[conversationID][id]; ok {
			delete(r.s.convDeletions[conversationID], id)
			restored = append(restored, id)
		}
	}
	return restored, nil
}

func (r *memConversationRepository) IsDeletedFor(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	_, ok := r.s.convDeletions[conversationID][userID]
	return ok, nil
}

func (r *memConversationRepository) DeletedBy(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(r.s.convDeletions[conversationID]))
	for id := range r.s.convDeletions[conversationID] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *memConversationRepository) Purge(ctx context.Context, conversationID uuid.UUID) ([]message.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.conversations[conversationID]
	if !ok {
		return nil, beacon_errors.ErrNotFound
	}

	var removed []message.Attachment
	for id, mm := range r.s.messages {
		if mm.msg.ConversationID != conversationID {
			continue
		}
		for _, a := range r.s.attachments {
			if a.MessageID != nil && *a.MessageID == id && a.Status == message.AttachmentActive {
				removed = append(removed, *a)
				a.Status = message.AttachmentDeleted
			}
		}
		delete(r.s.edits, id)
		delete(r.s.msgDeletions, id)
		delete(r.s.messages, id)
	}
	if c.DirectKey != nil {
		delete(r.s.directKeys, *c.DirectKey)
	}
	delete(r.s.convDeletions, conversationID)
	delete(r.s.conversations, conversationID)
	return removed, nil
}

type memMessageRepository struct{ s *MemoryStore }

func (r *memMessageRepository) Create(ctx context.Context, m *message.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if _, ok := r.s.messages[m.ID]; ok {
		return beacon_errors.ErrAlreadyExists
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	r.s.seq++
	stored := *m
	stored.Attachments = nil
	r.s.messages[m.ID] = &memMessage{seq: r.s.seq, msg: stored}
	return nil
}

func (r *memMessageRepository) Delete(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.messages[id]; !ok {
		return beacon_errors.ErrNotFound
	}
	for _, a := range r.s.attachments {
		if a.MessageID != nil && *a.MessageID == id {
			a.MessageID = nil
		}
	}
	delete(r.s.messages, id)
	delete(r.s.msgDeletions, id)
	delete(r.s.edits, id)
	return nil
}

func (r *memMessageRepository) GetByID(ctx context.Context, id uuid.UUID) (message.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	mm, ok := r.s.messages[id]
	if !ok {
		return message.Message{}, beacon_errors.ErrNotFound
	}
	return mm.msg, nil
}

func (r *memMessageRepository) ListVisible(ctx context.Context, conversationID, viewerID uuid.UUID, before *time.Time, limit int) ([]message.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	msgs := r.s.sortedMessages(func(m *message.Message) bool {
		if m.ConversationID != conversationID || m.DeletedForEveryone || m.FullyDeleted {
			return false
		}
		if before != nil && !m.CreatedAt.Before(*before) {
			return false
		}
		return !r.s.deletedBy(m.ID, viewerID)
	})
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	for i := range msgs {
		msgs[i].Attachments = r.attachmentsLocked(msgs[i].ID)
	}
	return msgs, nil
}

func (r *memMessageRepository) AdvanceStatus(ctx context.Context, ids []uuid.UUID, status message.Status, at time.Time) ([]uuid.UUID, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var advanced []uuid.UUID
	for _, id := range ids {
		mm, ok := r.s.messages[id]
		if !ok {
			continue
		}
		next, changed := message.Advance(mm.msg.Status, status)
		if !changed {
			continue
		}
		mm.msg.Status = next
		ts := at
		if mm.msg.DeliveredAt == nil {
			mm.msg.DeliveredAt = &ts
		}
		if next == message.StatusRead {
			mm.msg.ReadAt = &ts
		}
		advanced = append(advanced, id)
	}
	return advanced, nil
}

func (r *memMessageRepository) PendingForRecipient(ctx context.Context, userID uuid.UUID) ([]message.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sortedMessages(func(m *message.Message) bool {
		if m.Status != message.StatusSent || m.SenderID == userID || m.DeletedForEveryone || m.FullyDeleted {
			return false
		}
		if r.s.participant(m.ConversationID, userID) == nil {
			return false
		}
		return !r.s.deletedBy(m.ID, userID)
	}), nil
}

func (r *memMessageRepository) ListBelowStatus(ctx context.Context, conversationID, exceptSender uuid.UUID, status message.Status) ([]message.Message, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.sortedMessages(func(m *message.Message) bool {
		return m.ConversationID == conversationID && m.SenderID != exceptSender && m.Status < status
	}), nil
}

func (r *memMessageRepository) MarkDeletedFor(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var marked int64
	for id, mm := range r.s.messages {
		if mm.msg.ConversationID != conversationID || r.s.deletedBy(id, userID) {
			continue
		}
		r.markLocked(id, userID, at)
		marked++
	}
	return marked, nil
}

func (r *memMessageRepository) DeleteFor(ctx context.Context, messageID, userID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.messages[messageID]; !ok {
		return beacon_errors.ErrNotFound
	}
	if !r.s.deletedBy(messageID, userID) {
		r.markLocked(messageID, userID, at)
	}
	return nil
}

func (r *memMessageRepository) markLocked(messageID, userID uuid.UUID, at time.Time) {
	if r.s.msgDeletions[messageID] == nil {
		r.s.msgDeletions[messageID] = make(map[uuid.UUID]time.Time)
	}
	r.s.msgDeletions[messageID][userID] = at
}

func (r *memMessageRepository) RefreshFullyDeleted(ctx context.Context, conversationID uuid.UUID, participantIDs []uuid.UUID) (int64, error) {
	if len(participantIDs) == 0 {
		return 0, nil
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var flagged int64
	for id, mm := range r.s.messages {
		if mm.msg.ConversationID != conversationID || mm.msg.FullyDeleted {
			continue
		}
		all := true
		for _, p := range participantIDs {
			if !r.s.deletedBy(id, p) {
				all = false
				break
			}
		}
		if all {
			mm.msg.FullyDeleted = true
			flagged++
		}
	}
	return flagged, nil
}

func (r *memMessageRepository) MarkDeletedForEveryone(ctx context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	mm, ok := r.s.messages[id]
	if !ok {
		return beacon_errors.ErrNotFound
	}
	mm.msg.DeletedForEveryone = true
	mm.msg.Content = ""
	return nil
}

func (r *memMessageRepository) UpdateContent(ctx context.Context, id uuid.UUID, content string, editedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	mm, ok := r.s.messages[id]
	if !ok {
		return beacon_errors.ErrNotFound
	}
	r.s.edits[id] = append(r.s.edits[id], message.Edit{
		ID:              uuid.New(),
		MessageID:       id,
		PreviousContent: mm.msg.Content,
		EditedAt:        editedAt,
	})
	mm.msg.Content = content
	ts := editedAt
	mm.msg.EditedAt = &ts
	return nil
}

func (r *memMessageRepository) ListEdits(ctx context.Context, id uuid.UUID) ([]message.Edit, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return append([]message.Edit(nil), r.s.edits[id]...), nil
}

func (r *memMessageRepository) CreateAttachment(ctx context.Context, a *message.Attachment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = message.AttachmentActive
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	stored := *a
	r.s.attachments[a.ID] = &stored
	return nil
}

func (r *memMessageRepository) AttachToMessage(ctx context.Context, messageID, uploaderID uuid.UUID, attachmentIDs []uuid.UUID) ([]message.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, id := range attachmentIDs {
		a, ok := r.s.attachments[id]
		if !ok || a.UploaderID != uploaderID || a.MessageID != nil || a.Status != message.AttachmentActive {
			return nil, fmt.Errorf("attachment %s not usable: %w", id, beacon_errors.ErrInvalidInput)
		}
	}
	out := make([]message.Attachment, 0, len(attachmentIDs))
	for _, id := range attachmentIDs {
		a := r.s.attachments[id]
		mid := messageID
		a.MessageID = &mid
		out = append(out, *a)
	}
	return out, nil
}

func (r *memMessageRepository) AttachmentsFor(ctx context.Context, messageIDs []uuid.UUID) (map[uuid.UUID][]message.Attachment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[uuid.UUID][]message.Attachment)
	for _, id := range messageIDs {
		if list := r.attachmentsLocked(id); len(list) > 0 {
			out[id] = list
		}
	}
	return out, nil
}

func (r *memMessageRepository) attachmentsLocked(messageID uuid.UUID) []message.Attachment {
	var out []message.Attachment
	for _, a := range r.s.attachments {
		if a.MessageID != nil && *a.MessageID == messageID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

type memCallRepository struct{ s *MemoryStore }

func (r *memCallRepository) Create(ctx context.Context, c *call.Call) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if _, ok := r.s.calls[c.ID]; ok {
		return beacon_errors.ErrAlreadyExists
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	stored := *c
	r.s.calls[c.ID] = &stored
	return nil
}

func (r *memCallRepository) GetByID(ctx context.Context, id uuid.UUID) (call.Call, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.calls[id]
	if !ok {
		return call.Call{}, beacon_errors.ErrNotFound
	}
	return *c, nil
}

func (r *memCallRepository) Finish(ctx context.Context, id uuid.UUID, status call.Status, durationSeconds int, endedAt time.Time) (bool, error) {
	if err := call.Transition(call.StatusInitiated, status); err != nil {
		return false, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.calls[id]
	if !ok || c.Status != call.StatusInitiated {
		return false, nil
	}
	c.Status = status
	c.DurationSeconds = durationSeconds
	ts := endedAt
	c.EndedAt = &ts
	return true, nil
}

func (r *memCallRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]call.Call, error) {
	if limit <= 0 {
		limit = 50
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]call.Call, 0)
	for _, c := range r.s.calls {
		if c.CallerID == userID || c.ReceiverID == userID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
