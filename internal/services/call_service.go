package services

import (
	"context"
	"encoding/json"
	"fmt"
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

// CallService relays signaling between two peers and records each call's
// outcome exactly once.
type CallService struct {
	calls         repository.CallRepository
	conversations *ConversationService
	messages      *MessageService
	sessions      CallSessionRegistry
	publisher     Publisher
	presence      PresenceReader
	limiter       RateLimiter
	log           *logger.Logger
	now           func() time.Time
}

// NewCallService wires the relay. limiter may be nil.
func NewCallService(calls repository.CallRepository, conversations *ConversationService, messages *MessageService, sessions CallSessionRegistry, publisher Publisher, presence PresenceReader, limiter RateLimiter, log *logger.Logger) *CallService {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &CallService{
		calls:         calls,
		conversations: conversations,
		messages:      messages,
		sessions:      sessions,
		publisher:     publisher,
		presence:      presence,
		limiter:       limiter,
		log:           log.Named("calls"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

type InitiateInput struct {
	CallerID   uuid.UUID
	CallerName string
	ReceiverID uuid.UUID
	Offer      json.RawMessage
	Type       call.Type
}

func (in InitiateInput) Validate() error {
	if in.CallerID == uuid.Nil || in.ReceiverID == uuid.Nil {
		return fmt.Errorf("caller and receiver are required: %w", beacon_errors.ErrInvalidInput)
	}
	if in.CallerID == in.ReceiverID {
		return fmt.Errorf("cannot call yourself: %w", beacon_errors.ErrInvalidInput)
	}
	if !in.Type.Valid() {
		return fmt.Errorf("unknown call type %q: %w", in.Type, beacon_errors.ErrInvalidInput)
	}
	return nil
}

// Initiate records a call and either rings the receiver or, when the receiver
// is offline, resolves it as missed right away.
func (s *CallService) Initiate(ctx context.Context, in InitiateInput) (call.Call, error) {
	if err := in.Validate(); err != nil {
		return call.Call{}, err
	}
	if s.limiter != nil {
		if err := checkRate(ctx, s.log, s.limiter.AllowCall, in.CallerID); err != nil {
			return call.Call{}, err
		}
	}
	conv, err := s.conversations.Direct(ctx, in.CallerID, in.ReceiverID)
	if err != nil {
		return call.Call{}, err
	}

	now := s.now()
	rec := call.Call{
		ID:             uuid.New(),
		ConversationID: conv.ID,
		CallerID:       in.CallerID,
		ReceiverID:     in.ReceiverID,
		Type:           in.Type,
		Status:         call.StatusInitiated,
		StartedAt:      now,
		CreatedAt:      now,
	}
	session := call.Session{
		CallID:     rec.ID,
		CallerID:   in.CallerID,
		ReceiverID: in.ReceiverID,
		Type:       in.Type,
		StartedAt:  now,
	}
	stored, err := s.sessions.Put(ctx, session)
	if err != nil {
		return call.Call{}, err
	}
	if !stored {
		return call.Call{}, beacon_errors.ErrCallInProgress
	}
	if err := s.calls.Create(ctx, &rec); err != nil {
		if _, _, takeErr := s.sessions.Take(ctx, in.CallerID, in.ReceiverID); takeErr != nil {
			s.log.Ctx(ctx).Error("failed to drop call session", zap.Error(takeErr))
		}
		return call.Call{}, err
	}

	if !presenceOnline(ctx, s.log, s.presence, in.ReceiverID) {
		if _, _, err := s.sessions.Take(ctx, in.CallerID, in.ReceiverID); err != nil {
			s.log.Ctx(ctx).Warn("failed to drop call session", zap.Error(err))
		}
		finished, won, err := s.finish(ctx, rec.ID, call.StatusMissed, 0, nil, []uuid.UUID{in.CallerID})
		if err != nil {
			return call.Call{}, err
		}
		if won {
			rec = finished
		}
		s.publisher.Publish(ctx, in.CallerID, events.CallStatus, events.CallStatusPayload{CallID: rec.ID, To: in.ReceiverID, Online: false})
		return rec, nil
	}

	s.publisher.Publish(ctx, in.ReceiverID, events.CallIncoming, events.CallIncomingPayload{
		From:     in.CallerID,
		Username: in.CallerName,
		Offer:    in.Offer,
		CallType: in.Type,
		CallID:   rec.ID,
	})
	s.publisher.Publish(ctx, in.CallerID, events.CallStatus, events.CallStatusPayload{CallID: rec.ID, To: in.ReceiverID, Online: true})
	return rec, nil
}

// finish applies the terminal status. Only the first finisher of a call wins;
// it projects the timeline entry and sends call-record to notify.
func (s *CallService) finish(ctx context.Context, callID uuid.UUID, status call.Status, duration int, hiddenFor, notify []uuid.UUID) (call.Call, bool, error) {
	won, err := s.calls.Finish(ctx, callID, status, duration, s.now())
	if err != nil {
		return call.Call{}, false, err
	}
	if !won {
		return call.Call{}, false, nil
	}
	metrics.Calls.WithLabelValues(string(status)).Inc()

	rec, err := s.calls.GetByID(ctx, callID)
	if err != nil {
		return call.Call{}, true, err
	}
	entry, err := s.messages.AppendCallEntry(ctx, rec, hiddenFor)
	if err != nil {
		s.log.Ctx(ctx).Error("failed to add call to timeline",
			zap.String("call_id", callID.String()), zap.Error(err))
		entry = message.Message{}
	}
	for _, userID := range notify {
		s.publisher.Publish(ctx, userID, events.CallRecord, events.CallRecordPayload{Call: rec, Message: entry})
	}
	return rec, true, nil
}

// Answer relays the answer to the caller.
func (s *CallService) Answer(ctx context.Context, from, to uuid.UUID, answer json.RawMessage) error {
	if to == uuid.Nil {
		return beacon_errors.ErrInvalidInput
	}
	s.publisher.Publish(ctx, to, events.CallAnswered, events.CallRelayPayload{From: from, Answer: answer})
	return nil
}

// RelayICE forwards a candidate. Ordering and duplicates are the peer's concern.
func (s *CallService) RelayICE(ctx context.Context, from, to uuid.UUID, candidate json.RawMessage) error {
	if to == uuid.Nil {
		return beacon_errors.ErrInvalidInput
	}
	s.publisher.Publish(ctx, to, events.ICECandidate, events.CallRelayPayload{From: from, Candidate: candidate})
	return nil
}

// End completes the active call between from and to. call-ended is relayed
// even when no session exists so the peer's UI converges.
func (s *CallService) End(ctx context.Context, from, to uuid.UUID) error {
	if to == uuid.Nil {
		return beacon_errors.ErrInvalidInput
	}
	session, found := s.take(ctx, from, to)
	var finishErr error
	if found {
		duration := int(s.now().Sub(session.StartedAt) / time.Second)
		if duration < 0 {
			duration = 0
		}
		_, _, finishErr = s.finish(ctx, session.CallID, call.StatusCompleted, duration, nil,
			[]uuid.UUID{session.CallerID, session.ReceiverID})
	}
	s.publisher.Publish(ctx, to, events.CallEnded, events.CallRelayPayload{From: from, CallID: session.CallID})
	return finishErr
}

// Reject marks the call rejected. callID is used when the session is already
// gone.
func (s *CallService) Reject(ctx context.Context, from, to, callID uuid.UUID) error {
	if to == uuid.Nil {
		return beacon_errors.ErrInvalidInput
	}
	session, found := s.take(ctx, from, to)
	if found {
		callID = session.CallID
	} else if callID != uuid.Nil {
		rec, err := s.calls.GetByID(ctx, callID)
		if err != nil {
			return err
		}
		if !rec.Involves(from) {
			return beacon_errors.ErrForbidden
		}
	}
	return s.reject(ctx, from, to, callID)
}

func (s *CallService) reject(ctx context.Context, from, to, callID uuid.UUID) error {
	var finishErr error
	if callID != uuid.Nil {
		_, _, finishErr = s.finish(ctx, callID, call.StatusRejected, 0, nil, []uuid.UUID{from, to})
	}
	s.publisher.Publish(ctx, to, events.CallRejected, events.CallRelayPayload{From: from, CallID: callID})
	return finishErr
}

// Cancel aborts an unanswered call. The receiver never saw an established
// call, so the timeline entry is hidden from them. Only the caller can
// cancel; a receiver sending cancel declines the call instead.
func (s *CallService) Cancel(ctx context.Context, from, to uuid.UUID) error {
	if to == uuid.Nil {
		return beacon_errors.ErrInvalidInput
	}
	session, found := s.take(ctx, from, to)
	if found && session.CallerID != from {
		return s.reject(ctx, from, to, session.CallID)
	}
	var finishErr error
	if found {
		_, _, finishErr = s.finish(ctx, session.CallID, call.StatusCancelled, 0,
			[]uuid.UUID{session.ReceiverID}, []uuid.UUID{session.CallerID})
	}
	s.publisher.Publish(ctx, to, events.CallCancelled, events.CallRelayPayload{From: from, CallID: session.CallID})
	return finishErr
}

// take removes the pair's session. A registry failure is treated as no
// session: the caller still relays the terminal event.
func (s *CallService) take(ctx context.Context, a, b uuid.UUID) (call.Session, bool) {
	session, found, err := s.sessions.Take(ctx, a, b)
	if err != nil {
		s.log.Ctx(ctx).Warn("call session lookup failed", zap.Error(err))
		return call.Session{}, false
	}
	return session, found
}

// HandleDisconnect resolves the session a departing user was part of: a
// caller's call is cancelled, a receiver's is ended.
func (s *CallService) HandleDisconnect(ctx context.Context, userID uuid.UUID) error {
	session, found, err := s.sessions.FindByUser(ctx, userID)
	if err != nil || !found {
		return err
	}
	if session.CallerID == userID {
		return s.Cancel(ctx, userID, session.ReceiverID)
	}
	return s.End(ctx, userID, session.CallerID)
}

func (s *CallService) History(ctx context.Context, userID uuid.UUID, limit int) ([]call.Call, error) {
	return s.calls.ListForUser(ctx, userID, limit)
}

// RegisterHandlers binds the call signaling events to the bus.
func (s *CallService) RegisterHandlers(bus *commands.Bus) {
	bus.Register(events.CallInitiate, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		ev, err := commands.AsEvent(cmd)
		if err != nil {
			return commands.Result{}, err
		}
		var p events.CallInitiatePayload
		if err := ev.Decode(&p); err != nil {
			return commands.Result{}, err
		}
		rec, err := s.Initiate(ctx, InitiateInput{
			CallerID:   ev.UserID,
			CallerName: ev.Username,
			ReceiverID: p.To,
			Offer:      p.Offer,
			Type:       p.CallType,
		})
		if err != nil {
			return commands.Result{}, err
		}
		return commands.Result{AggregateID: rec.ID.String(), Payload: rec}, nil
	}))

	bus.Register(events.CallAnswer, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		ev, err := commands.AsEvent(cmd)
		if err != nil {
			return commands.Result{}, err
		}
		var p events.CallAnswerPayload
		if err := ev.Decode(&p); err != nil {
			return commands.Result{}, err
		}
		return commands.Result{}, s.Answer(ctx, ev.UserID, p.To, p.Answer)
	}))

	bus.Register(events.ICECandidate, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
		ev, err := commands.AsEvent(cmd)
		if err != nil {
			return commands.Result{}, err
		}
		var p events.ICECandidatePayload
		if err := ev.Decode(&p); err != nil {
			return commands.Result{}, err
		}
		return commands.Result{}, s.RelayICE(ctx, ev.UserID, p.To, p.Candidate)
	}))

	terminal := map[string]func(ctx context.Context, from uuid.UUID, p events.CallTargetPayload) error{
		events.CallEnd: func(ctx context.Context, from uuid.UUID, p events.CallTargetPayload) error {
			return s.End(ctx, from, p.To)
		},
		events.CallReject: func(ctx context.Context, from uuid.UUID, p events.CallTargetPayload) error {
			return s.Reject(ctx, from, p.To, p.CallID)
		},
		events.CallCancel: func(ctx context.Context, from uuid.UUID, p events.CallTargetPayload) error {
			return s.Cancel(ctx, from, p.To)
		},
	}
	for name, fn := range terminal {
		fn := fn
		bus.Register(name, commands.HandlerFunc(func(ctx context.Context, cmd commands.Command) (commands.Result, error) {
			ev, err := commands.AsEvent(cmd)
			if err != nil {
				return commands.Result{}, err
			}
			var p events.CallTargetPayload
			if err := ev.Decode(&p); err != nil {
				return commands.Result{}, err
			}
			return commands.Result{AggregateID: p.CallID.String()}, fn(ctx, ev.UserID, p)
		}))
	}
}
