package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"beacon-chat/config"
	"beacon-chat/internal/commands"
	"beacon-chat/internal/handler"
	"beacon-chat/internal/presence"
	"beacon-chat/internal/redis"
	"beacon-chat/internal/repository"
	"beacon-chat/internal/server"
	"beacon-chat/internal/services"
	"beacon-chat/internal/storage"
	"beacon-chat/internal/websocket"
	"beacon-chat/pkg/database"
	"beacon-chat/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, l := bootstrap()
			defer l.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()
			return serve(ctx, cfg, l)
		},
	})
}

type stores struct {
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	calls         repository.CallRepository
	health        server.HealthCheck
}

func openStores(cfg *config.Config, l *logger.Logger) (*stores, error) {
	switch cfg.StoreDriver {
	case "memory":
		l.Logger.Warn("using in-memory store, data is lost on restart")
		mem := repository.NewMemoryStore()
		return &stores{
			conversations: mem.Conversations(),
			messages:      mem.Messages(),
			calls:         mem.Calls(),
		}, nil
	case "postgres", "":
		db, err := database.Connect(cfg)
		if err != nil {
			return nil, err
		}
		return &stores{
			conversations: repository.NewConversationRepository(db),
			messages:      repository.NewMessageRepository(db),
			calls:         repository.NewCallRepository(db),
			health:        database.HealthCheck,
		}, nil
	default:
		return nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
	}
}

func redisConfig(cfg *config.Config) redis.Config {
	return redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
}

func serve(ctx context.Context, cfg *config.Config, l *logger.Logger) error {
	st, err := openStores(cfg, l)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	rdb, err := redis.Connect(ctx, redisConfig(cfg))
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	presenceStore := redis.NewPresenceStore(rdb, redis.NewPublisher(rdb))
	cache := redis.NewCacheStore(rdb, redis.DefaultCacheConfig())
	limits := redis.DefaultRateLimitConfig()
	limits.MessageLimit = cfg.MessageRateLimit
	limits.CallLimit = cfg.CallRateLimit
	limiter := redis.NewRateLimiter(rdb, limits)

	var sessions services.CallSessionRegistry
	switch cfg.CallSessionBackend {
	case "memory":
		sessions = services.NewMemoryCallSessions()
	case "redis", "":
		sessions = redis.NewCallSessionStore(rdb)
	default:
		return fmt.Errorf("unknown CALL_SESSION_BACKEND %q", cfg.CallSessionBackend)
	}

	var objects services.ObjectRemover
	if cfg.S3Bucket != "" {
		s3Client, err := storage.NewClient(ctx, storage.S3Config{
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Endpoint:  cfg.S3Endpoint,
		})
		if err != nil {
			return err
		}
		objects = s3Client
	} else {
		l.Logger.Warn("S3_BUCKET not set, attachment objects are kept after purge")
	}

	wsLog := websocket.NewWebSocketLogger(l)
	hub := websocket.NewHub(wsLog)

	conversations := services.NewConversationService(st.conversations, st.messages, cache, objects, l)
	messages := services.NewMessageService(conversations, st.messages, hub, presenceStore, limiter,
		services.MessageServiceConfig{EditWindow: cfg.EditWindow}, l)
	calls := services.NewCallService(st.calls, conversations, messages, sessions, hub, presenceStore, limiter, l)

	bus := commands.NewBus()
	messages.RegisterHandlers(bus)
	calls.RegisterHandlers(bus)

	auth := services.NewAuthService(cfg)

	bridge := websocket.NewPresenceBridge(redis.NewSubscriber(rdb), presenceStore, hub, wsLog)
	go func() {
		if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.Logger.Error("presence bridge stopped", zap.Error(err))
		}
	}()

	presence.NewSweeper(presenceStore, calls, cfg.PresenceSweepInterval, cfg.PresenceMaxAge, l).Start(ctx)

	health := map[string]server.HealthCheck{"redis": cache.Ping}
	if st.health != nil {
		health["database"] = st.health
	}

	srv := server.New(cfg, l, hub)
	srv.SetupRoutes(&server.Handlers{
		Conversation: handler.NewConversationHandler(conversations, messages),
		Call:         handler.NewCallHandler(calls),
		Presence:     handler.NewPresenceHandler(presenceStore),
		WebSocket:    websocket.NewHandler(auth, hub, presenceStore, bus, calls, wsLog),
	}, server.Dependencies{
		Auth:         auth,
		MessageLimit: limiter.AllowMessage,
		Health:       health,
	})

	return srv.Start(ctx)
}
