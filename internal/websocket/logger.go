package websocket

import (
	"beacon-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// WebSocketLogger provides structured logging for connection events
type WebSocketLogger struct {
	logger *zap.Logger
}

func NewWebSocketLogger(l *logger.Logger) *WebSocketLogger {
	if l == nil {
		l = logger.GetGlobalLogger()
	}
	return &WebSocketLogger{
		logger: l.Logger.With(zap.String("component", "websocket")),
	}
}

// Info logs info level event
func (l *WebSocketLogger) Info(event string, userID uuid.UUID, connID string, fields ...zap.Field) {
	l.logger.Info("websocket_event", l.fields(event, userID, connID, fields)...)
}

// Error logs error level event
func (l *WebSocketLogger) Error(event string, userID uuid.UUID, connID string, err error, fields ...zap.Field) {
	l.logger.Error("websocket_error", l.fields(event, userID, connID, append(fields, zap.Error(err)))...)
}

// Warn logs warning level event
func (l *WebSocketLogger) Warn(event string, userID uuid.UUID, connID string, fields ...zap.Field) {
	l.logger.Warn("websocket_warning", l.fields(event, userID, connID, fields)...)
}

func (l *WebSocketLogger) Debug(event string, userID uuid.UUID, connID string, fields ...zap.Field) {
	l.logger.Debug("websocket_event", l.fields(event, userID, connID, fields)...)
}

func (l *WebSocketLogger) fields(event string, userID uuid.UUID, connID string, extra []zap.Field) []zap.Field {
	return append([]zap.Field{
		zap.String("event", event),
		zap.String("user_id", userID.String()),
		zap.String("conn_id", connID),
	}, extra...)
}
