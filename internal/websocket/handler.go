package websocket

import (
	"context"
	"net/http"
	"strings"
	"time"

	"beacon-chat/internal/commands"
	"beacon-chat/internal/services"
	"beacon-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const presenceTimeout = 5 * time.Second

type TokenVerifier interface {
	ParseAccessToken(token string) (services.Identity, error)
}

// PresenceDirectory is the connection registry the gateway keeps current.
type PresenceDirectory interface {
	Register(ctx context.Context, userID uuid.UUID, connID string) (bool, error)
	UnregisterIfCurrent(ctx context.Context, userID uuid.UUID, connID string) (bool, error)
	Heartbeat(ctx context.Context, userID uuid.UUID, connID string) error
}

// DisconnectHandler resolves per-user state left behind by a user that went
// offline, e.g. an active call.
type DisconnectHandler interface {
	HandleDisconnect(ctx context.Context, userID uuid.UUID) error
}

// Handler authenticates websocket handshakes and runs each connection.
type Handler struct {
	auth       TokenVerifier
	hub        *Hub
	presence   PresenceDirectory
	bus        *commands.Bus
	disconnect DisconnectHandler
	log        *WebSocketLogger
	upgrader   websocket.Upgrader
}

// NewHandler wires the gateway. disconnect may be nil.
func NewHandler(auth TokenVerifier, hub *Hub, presence PresenceDirectory, bus *commands.Bus, disconnect DisconnectHandler, log *WebSocketLogger) *Handler {
	if log == nil {
		log = NewWebSocketLogger(nil)
	}
	return &Handler{
		auth:       auth,
		hub:        hub,
		presence:   presence,
		bus:        bus,
		disconnect: disconnect,
		log:        log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Connect rejects bad tokens before the upgrade so no state is touched, then
// serves the connection until it closes.
func (h *Handler) Connect(c *gin.Context) {
	identity, err := h.auth.ParseAccessToken(extractToken(c))
	if err != nil {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", identity.UserID, "", err)
		return
	}

	client := newClient(conn, identity.UserID, identity.Username, h.log)
	h.hub.add(client)
	go client.writePump()

	if _, err := h.withTimeout(func(ctx context.Context) (bool, error) {
		return h.presence.Register(ctx, client.userID, client.connID)
	}); err != nil {
		h.log.Error("presence register failed", client.userID, client.connID, err)
	}
	h.log.Info("connected", client.userID, client.connID)

	ctx := services.WithIdentityContext(context.Background(), identity)
	client.readPump(ctx, h.bus, func() {
		if _, err := h.withTimeout(func(ctx context.Context) (bool, error) {
			return true, h.presence.Heartbeat(ctx, client.userID, client.connID)
		}); err != nil {
			h.log.Warn("presence heartbeat failed", client.userID, client.connID, zap.Error(err))
		}
	})

	h.hub.remove(client)
	h.closed(client)
}

func (h *Handler) closed(client *Client) {
	wentOffline, err := h.withTimeout(func(ctx context.Context) (bool, error) {
		return h.presence.UnregisterIfCurrent(ctx, client.userID, client.connID)
	})
	if err != nil {
		h.log.Error("presence unregister failed", client.userID, client.connID, err)
		return
	}
	h.log.Info("disconnected", client.userID, client.connID, zap.Bool("offline", wentOffline))
	if !wentOffline || h.disconnect == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := h.disconnect.HandleDisconnect(ctx, client.userID); err != nil {
		h.log.Error("disconnect cleanup failed", client.userID, client.connID, err)
	}
}

func (h *Handler) withTimeout(fn func(ctx context.Context) (bool, error)) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	return fn(ctx)
}

func extractToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}
