package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"beacon-chat/internal/domain"
	"beacon-chat/internal/domain/conversation"
	"beacon-chat/internal/metrics"
	"beacon-chat/internal/repository"
	beacon_errors "beacon-chat/pkg/errors"
	"beacon-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ConversationService owns per-user soft delete, the all-participants hard
// delete and the per-user conversation records (pin, archive, unread).
type ConversationService struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	cache         ParticipantCache
	objects       ObjectRemover
	log           *logger.Logger
	now           func() time.Time
}

// NewConversationService wires the coordinator. cache and objects may be nil.
func NewConversationService(conversations repository.ConversationRepository, messages repository.MessageRepository, cache ParticipantCache, objects ObjectRemover, log *logger.Logger) *ConversationService {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &ConversationService{
		conversations: conversations,
		messages:      messages,
		cache:         cache,
		objects:       objects,
		log:           log.Named("conversations"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (s *ConversationService) Get(ctx context.Context, conversationID uuid.UUID) (conversation.Conversation, error) {
	return s.conversations.GetByID(ctx, conversationID)
}

// Participants returns the participant ids, served from cache when possible.
func (s *ConversationService) Participants(ctx context.Context, conversationID uuid.UUID) ([]uuid.UUID, error) {
	if s.cache != nil {
		if ids, err := s.cache.GetConversationParticipants(ctx, conversationID); err == nil && len(ids) > 0 {
			return ids, nil
		}
	}
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ids := conv.ParticipantIDs()
	if s.cache != nil {
		if err := s.cache.SetConversationParticipants(ctx, conversationID, ids); err != nil {
			s.log.Ctx(ctx).Debug("participant cache write failed", zap.Error(err))
		}
	}
	return ids, nil
}

func (s *ConversationService) EnsureParticipant(ctx context.Context, conversationID, userID uuid.UUID) (conversation.Conversation, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if !conv.HasParticipant(userID) {
		return conversation.Conversation{}, beacon_errors.ErrNotParticipant
	}
	return conv, nil
}

// EnsureCanSend checks the sender belongs to the conversation and has not
// soft-deleted it.
func (s *ConversationService) EnsureCanSend(ctx context.Context, conversationID, senderID uuid.UUID) (conversation.Conversation, error) {
	conv, err := s.EnsureParticipant(ctx, conversationID, senderID)
	if err != nil {
		if errors.Is(err, beacon_errors.ErrNotFound) {
			return conversation.Conversation{}, beacon_errors.ErrNotParticipant
		}
		return conversation.Conversation{}, err
	}
	deleted, err := s.conversations.IsDeletedFor(ctx, conversationID, senderID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if deleted {
		return conversation.Conversation{}, beacon_errors.ErrConversationDeleted
	}
	return conv, nil
}

// Touch records new activity: summary update, restore for the given users
// that had deleted the conversation, and optionally unread counters for
// everyone but the sender. It fails with ErrNotFound if the conversation was
// purged meanwhile; the row is never recreated.
func (s *ConversationService) Touch(ctx context.Context, conversationID uuid.UUID, summary string, senderID uuid.UUID, at time.Time, restore []uuid.UUID, countUnread bool) error {
	if err := s.conversations.UpdateLastMessage(ctx, conversationID, summary, senderID, at); err != nil {
		return err
	}
	if err := s.Restore(ctx, conversationID, restore...); err != nil {
		return err
	}
	if !countUnread {
		return nil
	}
	return s.conversations.IncrementUnread(ctx, conversationID, senderID)
}

// Restore removes the users' soft-delete records, if any, without touching
// the shared summary.
func (s *ConversationService) Restore(ctx context.Context, conversationID uuid.UUID, userIDs ...uuid.UUID) error {
	if len(userIDs) == 0 {
		return nil
	}
	restored, err := s.conversations.ClearDeletions(ctx, conversationID, userIDs)
	if err != nil {
		return err
	}
	if len(restored) > 0 {
		s.log.Ctx(ctx).Debug("conversation restored",
			zap.String("conversation_id", conversationID.String()),
			zap.Int("users", len(restored)))
	}
	return nil
}

// Direct finds or creates the direct conversation between a and b.
func (s *ConversationService) Direct(ctx context.Context, a, b uuid.UUID) (conversation.Conversation, error) {
	if a == uuid.Nil || b == uuid.Nil || a == b {
		return conversation.Conversation{}, fmt.Errorf("direct conversation needs two users: %w", beacon_errors.ErrInvalidInput)
	}
	key := domain.PairKey(a, b)
	conv, err := s.conversations.GetByDirectKey(ctx, key)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, beacon_errors.ErrNotFound) {
		return conversation.Conversation{}, err
	}

	now := s.now()
	conv = conversation.Conversation{
		ID:        uuid.New(),
		Type:      domain.ConversationTypeDM,
		DirectKey: &key,
		CreatedBy: a,
		CreatedAt: now,
		Participants: []conversation.Participant{
			{UserID: a, Role: domain.ParticipantRoleMember, JoinedAt: now},
			{UserID: b, Role: domain.ParticipantRoleMember, JoinedAt: now},
		},
	}
	err = s.conversations.Create(ctx, &conv)
	if errors.Is(err, beacon_errors.ErrAlreadyExists) {
		// lost the race to a concurrent create for the same pair
		return s.conversations.GetByDirectKey(ctx, key)
	}
	if err != nil {
		return conversation.Conversation{}, err
	}
	return conv, nil
}

// OpenDirect is Direct for an explicit user action: it also restores the
// opener's view if they had deleted the conversation.
func (s *ConversationService) OpenDirect(ctx context.Context, userID, peerID uuid.UUID) (conversation.Conversation, error) {
	conv, err := s.Direct(ctx, userID, peerID)
	if err != nil {
		return conversation.Conversation{}, err
	}
	if err := s.Restore(ctx, conv.ID, userID); err != nil {
		return conversation.Conversation{}, err
	}
	return conv, nil
}

func (s *ConversationService) CreateGroup(ctx context.Context, creatorID uuid.UUID, subject string, memberIDs []uuid.UUID) (conversation.Conversation, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return conversation.Conversation{}, fmt.Errorf("group subject is required: %w", beacon_errors.ErrInvalidInput)
	}
	now := s.now()
	conv := conversation.Conversation{
		ID:        uuid.New(),
		Type:      domain.ConversationTypeGroup,
		Subject:   subject,
		CreatedBy: creatorID,
		CreatedAt: now,
		Participants: []conversation.Participant{
			{UserID: creatorID, Role: domain.ParticipantRoleOwner, JoinedAt: now},
		},
	}
	seen := map[uuid.UUID]bool{creatorID: true}
	for _, id := range memberIDs {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		conv.Participants = append(conv.Participants, conversation.Participant{
			UserID: id, Role: domain.ParticipantRoleMember, JoinedAt: now,
		})
	}
	if len(conv.Participants) < 2 {
		return conversation.Conversation{}, fmt.Errorf("group needs at least one member: %w", beacon_errors.ErrInvalidInput)
	}
	if err := s.conversations.Create(ctx, &conv); err != nil {
		return conversation.Conversation{}, err
	}
	return conv, nil
}

// List returns the user's conversations, excluding ones they deleted.
func (s *ConversationService) List(ctx context.Context, userID uuid.UUID) ([]conversation.View, error) {
	return s.conversations.ListForUser(ctx, userID)
}

func (s *ConversationService) Pin(ctx context.Context, conversationID, userID uuid.UUID) error {
	now := s.now()
	return participantErr(s.conversations.SetPinned(ctx, conversationID, userID, &now))
}

func (s *ConversationService) Unpin(ctx context.Context, conversationID, userID uuid.UUID) error {
	return participantErr(s.conversations.SetPinned(ctx, conversationID, userID, nil))
}

func (s *ConversationService) Archive(ctx context.Context, conversationID, userID uuid.UUID) error {
	now := s.now()
	return participantErr(s.conversations.SetArchived(ctx, conversationID, userID, &now))
}

func (s *ConversationService) Unarchive(ctx context.Context, conversationID, userID uuid.UUID) error {
	return participantErr(s.conversations.SetArchived(ctx, conversationID, userID, nil))
}

func participantErr(err error) error {
	if errors.Is(err, beacon_errors.ErrNotFound) {
		return beacon_errors.ErrNotParticipant
	}
	return err
}

func (s *ConversationService) ResetUnread(ctx context.Context, conversationID, userID uuid.UUID) error {
	return s.conversations.ResetUnread(ctx, conversationID, userID)
}

// SoftDelete hides the conversation and its current messages from userID,
// then purges the conversation if every participant has now deleted it.
func (s *ConversationService) SoftDelete(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	conv, err := s.EnsureParticipant(ctx, conversationID, userID)
	if err != nil {
		return false, err
	}
	now := s.now()
	if err := s.conversations.MarkDeleted(ctx, conversationID, userID, now); err != nil {
		return false, err
	}
	if _, err := s.messages.MarkDeletedFor(ctx, conversationID, userID, now); err != nil {
		return false, err
	}
	if _, err := s.messages.RefreshFullyDeleted(ctx, conversationID, conv.ParticipantIDs()); err != nil {
		return false, err
	}
	return s.CheckHardDelete(ctx, conversationID)
}

// CheckHardDelete purges the conversation once every participant has a
// deletion record. It reports whether a purge happened.
func (s *ConversationService) CheckHardDelete(ctx context.Context, conversationID uuid.UUID) (bool, error) {
	conv, err := s.conversations.GetByID(ctx, conversationID)
	if errors.Is(err, beacon_errors.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	deletedBy, err := s.conversations.DeletedBy(ctx, conversationID)
	if err != nil {
		return false, err
	}
	deleted := make(map[uuid.UUID]bool, len(deletedBy))
	for _, id := range deletedBy {
		deleted[id] = true
	}
	for _, id := range conv.ParticipantIDs() {
		if !deleted[id] {
			return false, nil
		}
	}

	attachments, err := s.conversations.Purge(ctx, conversationID)
	if errors.Is(err, beacon_errors.ErrNotFound) {
		// purged concurrently
		return false, nil
	}
	if err != nil {
		return false, err
	}
	metrics.ConversationsPurged.Inc()
	s.log.Ctx(ctx).Info("conversation purged",
		zap.String("conversation_id", conversationID.String()),
		zap.Int("attachments", len(attachments)))

	if s.cache != nil {
		if err := s.cache.InvalidateConversationParticipants(ctx, conversationID); err != nil {
			s.log.Ctx(ctx).Debug("participant cache invalidate failed", zap.Error(err))
		}
	}
	if s.objects != nil && len(attachments) > 0 {
		keys := make([]string, 0, len(attachments))
		for _, a := range attachments {
			if a.ObjectKey != "" {
				keys = append(keys, a.ObjectKey)
			}
		}
		if len(keys) > 0 {
			if err := s.objects.DeleteObjects(ctx, keys); err != nil {
				s.log.Ctx(ctx).Warn("attachment object cleanup failed",
					zap.String("conversation_id", conversationID.String()),
					zap.Error(err))
			}
		}
	}
	return true, nil
}

// Clear hides every current message from userID without touching the
// conversation itself or anyone else's view.
func (s *ConversationService) Clear(ctx context.Context, conversationID, userID uuid.UUID) (int64, error) {
	conv, err := s.EnsureParticipant(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}
	n, err := s.messages.MarkDeletedFor(ctx, conversationID, userID, s.now())
	if err != nil {
		return 0, err
	}
	if _, err := s.messages.RefreshFullyDeleted(ctx, conversationID, conv.ParticipantIDs()); err != nil {
		return n, err
	}
	return n, nil
}
