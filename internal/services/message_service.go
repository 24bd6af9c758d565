package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"beacon-chat/internal/commands"
	"beacon-chat/internal/domain/call"
	"beacon-chat/internal/domain/message"
	"beacon-chat/internal/events"
	"beacon-chat/internal/metrics"
	"beacon-chat/internal/repository"
	beacon_errors "beacon-chat/pkg/errors"
	"beacon-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// MessageService persists messages, fans them out to live connections and
// drives the sent -> delivered -> read state machine.
type MessageService struct {
	conversations *ConversationService
	messages      repository.MessageRepository
	publisher     Publisher
	presence      PresenceReader
	limiter       RateLimiter
	editWindow    time.Duration
	log           *logger.Logger
	now           func() time.Time
}

type MessageServiceConfig struct {
	EditWindow time.Duration
}

// NewMessageService wires the pipeline. limiter may be nil.
func NewMessageService(conversations *ConversationService, messages repository.MessageRepository, publisher Publisher, presence PresenceReader, limiter RateLimiter, cfg MessageServiceConfig, log *logger.Logger) *MessageService {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if cfg.EditWindow <= 0 {
		cfg.EditWindow = 15 * time.Minute
	}
	return &MessageService{
		conversations: conversations,
		messages:      messages,
		publisher:     publisher,
		presence:      presence,
		limiter:       limiter,
		editWindow:    cfg.EditWindow,
		log:           log.Named("messages"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

type SendInput struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	Text           string
	AttachmentIDs  []uuid.UUID
}

func (in SendInput) Validate() error {
	if in.ConversationID == uuid.Nil || in.SenderID == uuid.Nil {
		return fmt.Errorf("conversation and sender are required: %w", beacon_errors.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Text) == "" && len(in.AttachmentIDs) == 0 {
		return fmt.Errorf("message needs text or attachments: %w", beacon_errors.ErrInvalidInput)
	}
	return nil
}

// Send persists a message at sent, updates the conversation summary and fans
// the message out. A persistence failure leaves nothing behind; a fan-out
// failure never rolls back the stored message.
func (s *MessageService) Send(ctx context.Context, in SendInput) (message.Message, error) {
	if err := in.Validate(); err != nil {
		return message.Message{}, err
	}
	if s.limiter != nil {
		if err := checkRate(ctx, s.log, s.limiter.AllowMessage, in.SenderID); err != nil {
			return message.Message{}, err
		}
	}
	conv, err := s.conversations.EnsureCanSend(ctx, in.ConversationID, in.SenderID)
	if err != nil {
		return message.Message{}, err
	}

	now := s.now()
	msgType := message.TypeText
	if strings.TrimSpace(in.Text) == "" {
		msgType = message.TypeAttachment
	}
	msg := message.Message{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		SenderID:       in.SenderID,
		Type:           msgType,
		Content:        in.Text,
		Status:         message.StatusSent,
		CreatedAt:      now,
	}
	if err := s.messages.Create(ctx, &msg); err != nil {
		return message.Message{}, err
	}

	if len(in.AttachmentIDs) > 0 {
		attachments, err := s.messages.AttachToMessage(ctx, msg.ID, in.SenderID, in.AttachmentIDs)
		if err != nil {
			s.discard(ctx, msg.ID)
			return message.Message{}, err
		}
		msg.Attachments = attachments
	}

	recipients := without(conv.ParticipantIDs(), in.SenderID)
	summary := message.Summary(in.Text, msg.Attachments)
	if err := s.conversations.Touch(ctx, conv.ID, summary, in.SenderID, now, recipients, true); err != nil {
		s.discard(ctx, msg.ID)
		return message.Message{}, err
	}
	metrics.MessagesSent.Inc()

	s.fanOut(ctx, msg, recipients)
	return msg, nil
}

// discard removes a message whose send could not complete.
func (s *MessageService) discard(ctx context.Context, messageID uuid.UUID) {
	if err := s.messages.Delete(ctx, messageID); err != nil && !errors.Is(err, beacon_errors.ErrNotFound) {
		s.log.Ctx(ctx).Error("failed to discard incomplete message",
			zap.String("message_id", messageID.String()), zap.Error(err))
	}
}

func (s *MessageService) fanOut(ctx context.Context, msg message.Message, recipients []uuid.UUID) {
	s.publisher.Publish(ctx, msg.SenderID, events.MessageSent, msg)

	reached := false
	for _, recipientID := range recipients {
		n := s.publisher.Publish(ctx, recipientID, events.MessageReceived, msg)
		if n > 0 && presenceOnline(ctx, s.log, s.presence, recipientID) {
			reached = true
		}
	}
	if !reached {
		return
	}

	advanced, err := s.messages.AdvanceStatus(ctx, []uuid.UUID{msg.ID}, message.StatusDelivered, s.now())
	if err != nil {
		s.log.Ctx(ctx).Warn("delivered transition failed",
			zap.String("message_id", msg.ID.String()), zap.Error(err))
		return
	}
	if len(advanced) == 0 {
		return
	}
	metrics.StatusTransitions.WithLabelValues(message.StatusDelivered.String()).Add(float64(len(advanced)))
	update := events.StatusUpdatePayload{MessageID: msg.ID, ConversationID: msg.ConversationID, Status: message.StatusDelivered}
	s.notify(ctx, append([]uuid.UUID{msg.SenderID}, recipients...), events.MessageStatusUpdate, update)
}

func (s *MessageService) notify(ctx context.Context, userIDs []uuid.UUID, event string, payload interface{}) {
	for _, userID := range userIDs {
		s.publisher.Publish(ctx, userID, event, payload)
	}
}

// Reconcile moves every message still at sent that userID should have
// received to delivered. Called when the user announces it is online.
func (s *MessageService) Reconcile(ctx context.Context, userID uuid.UUID) (int, error) {
	pending, err := s.messages.PendingForRecipient(ctx, userID)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	byID := make(map[uuid.UUID]message.Message, len(pending))
	ids := make([]uuid.UUID, 0, len(pending))
	for _, m := range pending {
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}
	advanced, err := s.messages.AdvanceStatus(ctx, ids, message.StatusDelivered, s.now())
	if err != nil {
		return 0, err
	}
	metrics.StatusTransitions.WithLabelValues(message.StatusDelivered.String()).Add(float64(len(advanced)))

	for _, id := range advanced {
		m := byID[id]
		update := events.StatusUpdatePayload{MessageID: id, ConversationID: m.ConversationID, Status: message.StatusDelivered}
		s.notify(ctx, []uuid.UUID{userID, m.SenderID}, events.MessageStatusUpdate, update)
	}
	s.log.Ctx(ctx).Debug("reconciled pending messages",
		zap.String("user_id", userID.String()), zap.Int("delivered", len(advanced)))
	return len(advanced), nil
}

// MarkRead moves every message in the conversation not sent by the reader to
// read and resets the reader's unread counter.
func (s *MessageService) MarkRead(ctx context.Context, conversationID, readerID uuid.UUID) (int, error) {
	conv, err := s.conversations.EnsureParticipant(ctx, conversationID, readerID)
	if err != nil {
		return 0, err
	}
	unread, err := s.messages.ListBelowStatus(ctx, conversationID, readerID, message.StatusRead)
	if err != nil {
		return 0, err
	}
	ids := make([]uuid.UUID, 0, len(unread))
	for _, m := range unread {
		ids = append(ids, m.ID)
	}
	advanced, err := s.messages.AdvanceStatus(ctx, ids, message.StatusRead, s.now())
	if err != nil {
		return 0, err
	}
	if err := s.conversations.ResetUnread(ctx, conversationID, readerID); err != nil {
		return len(advanced), err
	}
	metrics.StatusTransitions.WithLabelValues(message.StatusRead.String()).Add(float64(len(advanced)))

	participants := conv.ParticipantIDs()
	for _, id := range advanced {
		update := events.StatusUpdatePayload{MessageID: id, ConversationID: conversationID, Status: message.StatusRead}
		s.notify(ctx, participants, events.MessageStatusUpdate, update)
	}
	return len(advanced), nil
}

// Edit replaces the text of the sender's own message inside the edit window.
func (s *MessageService) Edit(ctx context.Context, messageID, userID uuid.UUID, text string) (message.Message, error) {
	if strings.TrimSpace(text) == "" {
		return message.Message{}, fmt.Errorf("edit needs text: %w", beacon_errors.ErrInvalidInput)
	}
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return message.Message{}, err
	}
	if msg.SenderID != userID {
		return message.Message{}, beacon_errors.ErrForbidden
	}
	if msg.DeletedForEveryone {
		return message.Message{}, beacon_errors.ErrNotFound
	}
	if msg.Type != message.TypeText && msg.Type != message.TypeAttachment {
		return message.Message{}, fmt.Errorf("%s messages cannot be edited: %w", msg.Type, beacon_errors.ErrInvalidInput)
	}
	now := s.now()
	if now.Sub(msg.CreatedAt) > s.editWindow {
		return message.Message{}, beacon_errors.ErrEditWindowExpired
	}

	if err := s.messages.UpdateContent(ctx, messageID, text, now); err != nil {
		return message.Message{}, err
	}
	msg.Content = text
	msg.EditedAt = &now

	participants, err := s.conversations.Participants(ctx, msg.ConversationID)
	if err != nil {
		s.log.Ctx(ctx).Warn("edit fan-out skipped", zap.Error(err))
		return msg, nil
	}
	s.notify(ctx, participants, events.MessageEdited, msg)
	return msg, nil
}

// Edits returns the prior versions of a message, oldest first.
func (s *MessageService) Edits(ctx context.Context, messageID, viewerID uuid.UUID) ([]message.Edit, error) {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.conversations.EnsureParticipant(ctx, msg.ConversationID, viewerID); err != nil {
		return nil, err
	}
	if msg.DeletedForEveryone {
		return nil, beacon_errors.ErrNotFound
	}
	return s.messages.ListEdits(ctx, messageID)
}

// Delete hides a message for userID, or for everyone when the sender asks.
func (s *MessageService) Delete(ctx context.Context, messageID, userID uuid.UUID, forEveryone bool) error {
	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	conv, err := s.conversations.EnsureParticipant(ctx, msg.ConversationID, userID)
	if err != nil {
		return err
	}
	payload := events.MessageDeletedPayload{MessageID: msg.ID, ConversationID: msg.ConversationID}

	if forEveryone {
		if msg.SenderID != userID {
			return beacon_errors.ErrForbidden
		}
		if err := s.messages.MarkDeletedForEveryone(ctx, messageID); err != nil {
			return err
		}
		s.notify(ctx, conv.ParticipantIDs(), events.MessageDeleted, payload)
		return nil
	}

	if err := s.messages.DeleteFor(ctx, messageID, userID, s.now()); err != nil {
		return err
	}
	if _, err := s.messages.RefreshFullyDeleted(ctx, msg.ConversationID, conv.ParticipantIDs()); err != nil {
		return err
	}
	s.notify(ctx, []uuid.UUID{userID}, events.MessageDeleted, payload)
	return nil
}

// History returns the messages visible to viewerID, oldest first.
func (s *MessageService) History(ctx context.Context, conversationID, viewerID uuid.UUID, before *time.Time, limit int) ([]message.Message, error) {
	if _, err := s.conversations.EnsureParticipant(ctx, conversationID, viewerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.messages.ListVisible(ctx, conversationID, viewerID, before, limit)
}

// AppendCallEntry projects a finished call into its conversation timeline.
// Users in hiddenFor never see the entry.
func (s *MessageService) AppendCallEntry(ctx context.Context, c call.Call, hiddenFor []uuid.UUID) (message.Message, error) {
	conv, err := s.conversations.Get(ctx, c.ConversationID)
	if err != nil {
		return message.Message{}, err
	}
	now := s.now()
	callID := c.ID
	msg := message.Message{
		ID:             uuid.New(),
		ConversationID: c.ConversationID,
		SenderID:       c.CallerID,
		Type:           message.TypeCall,
		Content:        c.TimelineText(),
		Status:         message.StatusSent,
		CallID:         &callID,
		CreatedAt:      now,
	}
	if err := s.messages.Create(ctx, &msg); err != nil {
		return message.Message{}, err
	}

	// The summary row is shared by all participants, so an entry hidden
	// from anyone leaves it alone.
	visible := without(conv.ParticipantIDs(), hiddenFor...)
	if len(hiddenFor) == 0 {
		err = s.conversations.Touch(ctx, c.ConversationID, msg.Content, c.CallerID, now, visible, true)
	} else {
		err = s.conversations.Restore(ctx, c.ConversationID, visible...)
	}
	if err != nil {
		s.discard(ctx, msg.ID)
		return message.Message{}, err
	}
	for _, userID := range hiddenFor {
		if err := s.messages.DeleteFor(ctx, msg.ID, userID, now); err != nil {
			return msg, err
		}
	}
	return msg, nil
}

// RegisterHandlers binds the message events to the bus.
func (s *MessageService) RegisterHandlers(bus *commands.Bus) {
	bus.Register(events.SendMessage, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		ev, err := commands.AsEvent(cmd)
		if err != nil {
			return commands.Result{}, err
		}
		var p events.SendMessagePayload
		if err := ev.Decode(&p); err != nil {
			return commands.Result{}, err
		}
		msg, err := s.Send(ctx, SendInput{
			ConversationID: p.ConversationID,
			SenderID:       ev.UserID,
			Text:           p.Text,
			AttachmentIDs:  p.Attachments,
		})
		if err != nil {
			return commands.Result{}, err
		}
		return commands.Result{AggregateID: msg.ID.String(), Payload: msg}, nil
	}))

	bus.Register(events.MarkRead, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		ev, err := commands.AsEvent(cmd)
		if err != nil {
			return commands.Result{}, err
		}
		var p events.MarkReadPayload
		if err := ev.Decode(&p); err != nil {
			return commands.Result{}, err
		}
		n, err := s.MarkRead(ctx, p.ConversationID, ev.UserID)
		if err != nil {
			return commands.Result{}, err
		}
		return commands.Result{AggregateID: p.ConversationID.String(), Payload: n}, nil
	}))

	bus.Register(events.Online, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		ev, err := commands.AsEvent(cmd)
		if err != nil {
			return commands.Result{}, err
		}
		n, err := s.Reconcile(ctx, ev.UserID)
		if err != nil {
			return commands.Result{}, err
		}
		return commands.Result{AggregateID: ev.UserID.String(), Payload: n}, nil
	}))

	bus.Register(events.EditMessage, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		ev, err := commands.AsEvent(cmd)
		if err != nil {
			return commands.Result{}, err
		}
		var p events.EditMessagePayload
		if err := ev.Decode(&p); err != nil {
			return commands.Result{}, err
		}
		msg, err := s.Edit(ctx, p.MessageID, ev.UserID, p.Text)
		if err != nil {
			return commands.Result{}, err
		}
		return commands.Result{AggregateID: msg.ID.String(), Payload: msg}, nil
	}))

	bus.Register(events.DeleteMessage, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		ev, err := commands.AsEvent(cmd)
		if err != nil {
			return commands.Result{}, err
		}
		var p events.DeleteMessagePayload
		if err := ev.Decode(&p); err != nil {
			return commands.Result{}, err
		}
		if err := s.Delete(ctx, p.MessageID, ev.UserID, p.ForEveryone); err != nil {
			return commands.Result{}, err
		}
		return commands.Result{AggregateID: p.MessageID.String()}, nil
	}))
}

// without returns ids minus the excluded ones, preserving order.
func without(ids []uuid.UUID, exclude ...uuid.UUID) []uuid.UUID {
	skip := make(map[uuid.UUID]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !skip[id] {
			out = append(out, id)
		}
	}
	return out
}
