package handler

import (
	"context"
	"net/http"

	"beacon-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type PresenceSnapshotter interface {
	Snapshot(ctx context.Context) ([]uuid.UUID, error)
}

type PresenceHandler struct {
	presence PresenceSnapshotter
}

func NewPresenceHandler(presence PresenceSnapshotter) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

func (h *PresenceHandler) Online(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}

	ids, err := h.presence.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse("presence unavailable", "SERVICE_UNAVAILABLE"))
		return
	}
	if ids == nil {
		ids = []uuid.UUID{}
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.OnlineUsersResponse{OnlineUserIDs: ids}))
}
