package services

import (
	"context"
	"errors"
	"time"

	"beacon-chat/config"
	beacon_errors "beacon-chat/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AuthService verifies bearer tokens. Token issuance lives with the identity
// service; IssueAccessToken exists for tooling and tests.
type AuthService struct {
	jwtSecret []byte
	accessTTL time.Duration
}

func NewAuthService(cfg *config.Config) *AuthService {
	return &AuthService{
		jwtSecret: []byte(cfg.JWTSecret),
		accessTTL: time.Duration(cfg.JWTExpiryMin) * time.Minute,
	}
}

type AccessClaims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the authenticated user bound to a request or connection.
type Identity struct {
	UserID   uuid.UUID
	Username string
}

func (s *AuthService) ParseAccessToken(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, beacon_errors.ErrUnauthorized
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return Identity{}, beacon_errors.ErrUnauthorized
	}

	claims, ok := parsed.Claims.(*AccessClaims)
	if !ok || !parsed.Valid {
		return Identity{}, beacon_errors.ErrUnauthorized
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, beacon_errors.ErrUnauthorized
	}

	return Identity{UserID: userID, Username: claims.Username}, nil
}

func (s *AuthService) IssueAccessToken(userID uuid.UUID, username string) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.jwtSecret)
}

func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, beacon_errors.ErrInvalidInput):
		return 400
	case errors.Is(err, beacon_errors.ErrUnauthorized):
		return 401
	case errors.Is(err, beacon_errors.ErrForbidden),
		errors.Is(err, beacon_errors.ErrNotParticipant),
		errors.Is(err, beacon_errors.ErrEditWindowExpired):
		return 403
	case errors.Is(err, beacon_errors.ErrNotFound):
		return 404
	case errors.Is(err, beacon_errors.ErrAlreadyExists),
		errors.Is(err, beacon_errors.ErrConflict),
		errors.Is(err, beacon_errors.ErrConversationDeleted),
		errors.Is(err, beacon_errors.ErrCallInProgress):
		return 409
	case errors.Is(err, beacon_errors.ErrRateLimited):
		return 429
	case errors.Is(err, beacon_errors.ErrServiceUnavailable):
		return 503
	default:
		return 500
	}
}

type ctxKey string

var userIDKey ctxKey = "user_id"
var usernameKey ctxKey = "username"

func WithIdentityContext(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, userIDKey, id.UserID)
	return context.WithValue(ctx, usernameKey, id.Username)
}

func UserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	value := ctx.Value(userIDKey)
	if value == nil {
		return uuid.Nil, false
	}
	userID, ok := value.(uuid.UUID)
	return userID, ok
}
