package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"controlled-docs/edms-backend/internal/models"
)

const actorKey = "actor"

var ErrInactiveUser = errors.New("user is inactive")

// UserLookup resolves the token subject to a user record.
type UserLookup interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator issues and verifies HS256 bearer tokens.
type Authenticator struct {
	secret []byte
	issuer string
	users  UserLookup
	logger *zap.Logger
}

func NewAuthenticator(secret, issuer string, users UserLookup, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		secret: []byte(secret),
		issuer: issuer,
		users:  users,
		logger: logger.Named("auth"),
	}
}

// IssueToken signs a token for user valid for ttl from now.
func (a *Authenticator) IssueToken(user *models.User, ttl time.Duration, now time.Time) (string, error) {
	claims := Claims{
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Authenticate parses the token and loads the active user it names.
func (a *Authenticator) Authenticate(ctx context.Context, tokenString string) (*models.User, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(a.issuer))
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, err
	}
	user, err := a.users.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrInactiveUser
	}
	return user, nil
}

// Middleware rejects requests without a valid bearer token and stores the
// resolved user on the gin context.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString := strings.TrimPrefix(header, "Bearer ")
		if header == "" || tokenString == header {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "bearer token required"})
			return
		}

		user, err := a.Authenticate(c.Request.Context(), tokenString)
		if err != nil {
			a.logger.Warn("Rejected bearer token", zap.String("ip", c.ClientIP()), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(actorKey, user)
		c.Next()
	}
}

// ActorFrom returns the user stored by Middleware.
func ActorFrom(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return nil, false
	}
	user, ok := v.(*models.User)
	return user, ok
}

// SetActor is used by tests and internal callers that authenticate elsewhere.
func SetActor(c *gin.Context, user *models.User) {
	c.Set(actorKey, user)
}
