package httpdto

import "github.com/google/uuid"

// OnlineUsersResponse is returned by GET /presence/online
type OnlineUsersResponse struct {
	OnlineUserIDs []uuid.UUID `json:"onlineUserIds"`
}

// ListCallsQuery holds query parameters for GET /calls
type ListCallsQuery struct {
	Limit int `form:"limit"`
}
