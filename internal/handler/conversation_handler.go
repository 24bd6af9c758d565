package handler

import (
	"context"
	"net/http"

	"beacon-chat/internal/services"
	"beacon-chat/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type ConversationHandler struct {
	conversations *services.ConversationService
	messages      *services.MessageService
}

func NewConversationHandler(conversations *services.ConversationService, messages *services.MessageService) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, messages: messages}
}

func (h *ConversationHandler) List(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	views, err := h.conversations.List(c.Request.Context(), userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(views))
}

func (h *ConversationHandler) OpenDirect(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req httpdto.OpenDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_INPUT"))
		return
	}
	peerID, err := uuid.Parse(req.PeerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid peerId", "INVALID_INPUT"))
		return
	}

	conv, err := h.conversations.OpenDirect(c.Request.Context(), userID, peerID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(conv))
}

func (h *ConversationHandler) CreateGroup(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	var req httpdto.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_INPUT"))
		return
	}
	memberIDs, err := httpdto.ParseIDs(req.MemberIDs)
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid member id", "INVALID_INPUT"))
		return
	}

	conv, err := h.conversations.CreateGroup(c.Request.Context(), userID, req.Subject, memberIDs)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusCreated, httpdto.NewSuccessResponse(conv))
}

func (h *ConversationHandler) Messages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var query httpdto.ListMessagesQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid query", "INVALID_INPUT"))
		return
	}
	before, err := query.BeforeTime()
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid before", "INVALID_INPUT"))
		return
	}

	msgs, err := h.messages.History(c.Request.Context(), conversationID, userID, before, query.Limit)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(msgs))
}

// MessageEdits serves the edit history of a single message.
func (h *ConversationHandler) MessageEdits(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	messageID, ok := pathID(c, "id")
	if !ok {
		return
	}

	edits, err := h.messages.Edits(c.Request.Context(), messageID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(edits))
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	purged, err := h.conversations.SoftDelete(c.Request.Context(), conversationID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.DeleteConversationResponse{
		ConversationID: conversationID,
		Purged:         purged,
	}))
}

func (h *ConversationHandler) Clear(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	cleared, err := h.conversations.Clear(c.Request.Context(), conversationID, userID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.ClearConversationResponse{
		ConversationID: conversationID,
		Cleared:        cleared,
	}))
}

func (h *ConversationHandler) Pin(c *gin.Context) {
	h.toggle(c, h.conversations.Pin)
}

func (h *ConversationHandler) Unpin(c *gin.Context) {
	h.toggle(c, h.conversations.Unpin)
}

func (h *ConversationHandler) Archive(c *gin.Context) {
	h.toggle(c, h.conversations.Archive)
}

func (h *ConversationHandler) Unarchive(c *gin.Context) {
	h.toggle(c, h.conversations.Unarchive)
}

type participantAction func(ctx context.Context, conversationID, userID uuid.UUID) error

func (h *ConversationHandler) toggle(c *gin.Context, action participantAction) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	conversationID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := action(c.Request.Context(), conversationID, userID); err != nil {
		_ = c.Error(err)
		return
	}
	c.Status(http.StatusNoContent)
}
