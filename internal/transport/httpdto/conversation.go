package httpdto

import (
	"time"

	"github.com/google/uuid"
)

// OpenDirectRequest is used for POST /conversations/direct
type OpenDirectRequest struct {
	PeerID string `json:"peerId" binding:"required"`
}

// CreateGroupRequest is used for POST /conversations/group
type CreateGroupRequest struct {
	Subject   string   `json:"subject" binding:"required"`
	MemberIDs []string `json:"memberIds" binding:"required,min=1"`
}

// ListMessagesQuery holds query parameters for GET /conversations/:id/messages
type ListMessagesQuery struct {
	Before string `form:"before"`
	Limit  int    `form:"limit"`
}

// BeforeTime parses Before as RFC 3339. An empty value means "latest".
func (q ListMessagesQuery) BeforeTime() (*time.Time, error) {
	if q.Before == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, q.Before)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteConversationResponse reports whether the delete purged the conversation
// for everyone.
type DeleteConversationResponse struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Purged         bool      `json:"purged"`
}

// ClearConversationResponse is returned by POST /conversations/:id/clear
type ClearConversationResponse struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Cleared        int64     `json:"cleared"`
}

// ParseIDs converts string ids, failing on the first bad one.
func ParseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, value := range raw {
		id, err := uuid.Parse(value)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
