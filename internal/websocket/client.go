package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"beacon-chat/internal/commands"
	"beacon-chat/internal/events"
	beacon_errors "beacon-chat/pkg/errors"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
	sendBuffer     = 256
)

// Client is one authenticated websocket connection.
type Client struct {
	conn     *websocket.Conn
	send     chan []byte
	userID   uuid.UUID
	username string
	connID   string
	log      *WebSocketLogger
}

func newClient(conn *websocket.Conn, userID uuid.UUID, username string, log *WebSocketLogger) *Client {
	return &Client{
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		userID:   userID,
		username: username,
		connID:   uuid.New().String(),
		log:      log,
	}
}

func (c *Client) trySend(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// readPump handles inbound frames one at a time, preserving per-connection
// order. It returns when the connection fails or closes.
func (c *Client) readPump(ctx context.Context, bus *commands.Bus, onPong func()) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if onPong != nil {
			onPong()
		}
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Error("websocket unexpected close", c.userID, c.connID, err)
			}
			return
		}
		c.handle(ctx, bus, data)
	}
}

func (c *Client) handle(ctx context.Context, bus *commands.Bus, data []byte) {
	var env events.Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
		c.replyError("", beacon_errors.ErrInvalidInput)
		return
	}

	_, err := bus.Execute(ctx, commands.Event{
		Type:         env.Event,
		UserID:       c.userID,
		Username:     c.username,
		ConnectionID: c.connID,
		Data:         env.Data,
	})
	if err == nil {
		return
	}
	if errors.Is(err, commands.ErrHandlerNotFound) {
		c.log.Warn("unknown event", c.userID, c.connID, zap.String("type", env.Event))
	} else if internalCode(beacon_errors.Code(err)) {
		c.log.Error("event failed", c.userID, c.connID, err, zap.String("type", env.Event))
	}
	c.replyError(env.Event, err)
}

// replyError reports a failure to this connection only.
func (c *Client) replyError(event string, err error) {
	code := beacon_errors.Code(err)
	message := err.Error()
	if errors.Is(err, commands.ErrHandlerNotFound) {
		code = "UNKNOWN_EVENT"
	} else if internalCode(code) {
		message = "internal error"
	}
	data, encErr := events.Encode(events.Error, events.ErrorPayload{Code: code, Message: message, Event: event})
	if encErr != nil {
		return
	}
	c.trySend(data)
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// internalCode marks failures whose details stay in the server log.
func internalCode(code string) bool {
	return code == "INTERNAL" || code == "PERSISTENCE_FAILURE"
}
