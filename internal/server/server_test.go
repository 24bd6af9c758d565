package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"beacon-chat/config"
	"beacon-chat/internal/handler"
	"beacon-chat/internal/redis"
	"beacon-chat/internal/repository"
	"beacon-chat/internal/services"
	"beacon-chat/internal/websocket"
	"beacon-chat/pkg/logger"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, userID uuid.UUID, event string, payload interface{}) int {
	return 0
}

type emptyPresence struct{}

func (emptyPresence) Snapshot(ctx context.Context) ([]uuid.UUID, error) { return nil, nil }

func newTestServer(t *testing.T, deps Dependencies) (*Server, *services.AuthService) {
	t.Helper()
	cfg := &config.Config{AppMode: TestMode, AppPort: "0", JWTSecret: "server-secret", JWTExpiryMin: 5}
	log := logger.Nop()

	store := repository.NewMemoryStore()
	conversations := services.NewConversationService(store.Conversations(), store.Messages(), nil, nil, log)
	messages := services.NewMessageService(conversations, store.Messages(), nopPublisher{}, nil, nil, services.MessageServiceConfig{EditWindow: time.Minute}, log)
	calls := services.NewCallService(store.Calls(), conversations, messages, services.NewMemoryCallSessions(), nopPublisher{}, nil, nil, log)

	auth := services.NewAuthService(cfg)
	deps.Auth = auth

	s := New(cfg, log, websocket.NewHub(nil))
	s.SetupRoutes(&Handlers{
		Conversation: handler.NewConversationHandler(conversations, messages),
		Call:         handler.NewCallHandler(calls),
		Presence:     handler.NewPresenceHandler(emptyPresence{}),
	}, deps)
	return s, auth
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func TestPingAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, Dependencies{})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "pong")

	w = serve(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "beacon_ws_connections")
}

func TestHealthReportsFailingDependency(t *testing.T) {
	s, _ := newTestServer(t, Dependencies{Health: map[string]HealthCheck{
		"database": func(ctx context.Context) error { return nil },
		"redis":    func(ctx context.Context) error { return errors.New("connection refused") },
	}})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
	assert.Contains(t, w.Body.String(), `"database":"ok"`)
}

func TestVersionedRoutesNeedAuth(t *testing.T) {
	s, auth := newTestServer(t, Dependencies{})

	w := serve(s, httptest.NewRequest(http.MethodGet, "/v1/conversations", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	token, err := auth.IssueAccessToken(uuid.New(), "ana")
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/v1/presence/online", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = serve(s, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"onlineUserIds":[]`)
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, Dependencies{})

	req := httptest.NewRequest(http.MethodOptions, "/v1/conversations", nil)
	req.Header.Set("Origin", "https://app.example")
	w := serve(s, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestConversationCreationIsRateLimited(t *testing.T) {
	s, auth := newTestServer(t, Dependencies{
		MessageLimit: func(ctx context.Context, userID uuid.UUID) (*redis.RateLimitResult, error) {
			return &redis.RateLimitResult{Allowed: false, Limit: 1, ResetIn: time.Minute}, nil
		},
	})
	token, err := auth.IssueAccessToken(uuid.New(), "ana")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/conversations/direct", strings.NewReader(`{"peerId":"`+uuid.NewString()+`"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := serve(s, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Reset"))
}
