package presence

import (
	"context"
	"time"

	"beacon-chat/internal/metrics"
	"beacon-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultInterval = time.Minute
	DefaultMaxAge   = 3 * time.Minute
)

// StaleSweeper drops connections whose heartbeat is older than maxAge and
// returns the users left with none.
type StaleSweeper interface {
	SweepStale(ctx context.Context, maxAge time.Duration) ([]uuid.UUID, error)
}

// DisconnectHandler resolves what an offline user left behind.
type DisconnectHandler interface {
	HandleDisconnect(ctx context.Context, userID uuid.UUID) error
}

// Sweeper periodically removes presence entries left by processes that died
// without unregistering their connections.
type Sweeper struct {
	store      StaleSweeper
	disconnect DisconnectHandler
	interval   time.Duration
	maxAge     time.Duration
	log        *logger.Logger
}

// NewSweeper builds a sweeper. disconnect may be nil.
func NewSweeper(store StaleSweeper, disconnect DisconnectHandler, interval, maxAge time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	return &Sweeper{
		store:      store,
		disconnect: disconnect,
		interval:   interval,
		maxAge:     maxAge,
		log:        log.Named("presence-sweeper"),
	}
}

// Start runs the sweep loop in the background until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go s.Run(ctx)
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Logger.Warn("presence sweep failed", zap.Error(err))
			}
		}
	}
}

// SweepOnce runs a single pass and returns how many users went offline.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	offline, err := s.store.SweepStale(ctx, s.maxAge)
	for _, userID := range offline {
		metrics.PresenceSwept.Inc()
		if s.disconnect == nil {
			continue
		}
		if derr := s.disconnect.HandleDisconnect(ctx, userID); derr != nil {
			s.log.Logger.Warn("disconnect cleanup failed", zap.String("user_id", userID.String()), zap.Error(derr))
		}
	}
	if len(offline) > 0 {
		s.log.Logger.Info("stale presence swept", zap.Int("users", len(offline)))
	}
	return len(offline), err
}
