// Package auth resolves bearer credentials into user ids for gin handlers.
package auth

import (
	"net/http"
	"strings"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/laisky-drive/library/jwt"
)

const ctxKeyUserID = "drive_auth_user_id"

// Auth verifies session tokens.
type Auth struct {
	jwt *jwt.JWT
}

// New builds an Auth backed by the given signer.
func New(signer *jwt.JWT) (*Auth, error) {
	if signer == nil {
		return nil, errors.New("jwt signer is required")
	}

	return &Auth{jwt: signer}, nil
}

// BearerToken extracts the token from an `Authorization: Bearer <token>` header.
func BearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return "", false
	}

	token := strings.TrimSpace(header[len("Bearer "):])
	return token, token != ""
}

// UserFromToken validates a raw session token and returns the subject user id.
func (a *Auth) UserFromToken(token string) (uint64, error) {
	claims, err := a.jwt.ParseUser(token)
	if err != nil {
		return 0, errors.Wrap(err, "parse session token")
	}

	return claims.UserID()
}

// UserFromHeader validates the Authorization header of the request.
func (a *Auth) UserFromHeader(c *gin.Context) (uint64, error) {
	token, ok := BearerToken(c.GetHeader("Authorization"))
	if !ok {
		return 0, errors.New("missing bearer token")
	}

	return a.UserFromToken(token)
}

// Middleware rejects requests without a valid session and stores the user id in the context.
func (a *Auth) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, err := a.UserFromHeader(c)
		if err != nil {
			gmw.GetLogger(c).Debug("reject unauthenticated request", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
				"code":  "UNAUTHORIZED",
			})
			return
		}

		c.Set(ctxKeyUserID, uid)
		c.Next()
	}
}

// UserID returns the user id stored by Middleware.
func UserID(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(ctxKeyUserID)
	if !ok {
		return 0, false
	}
	uid, ok := v.(uint64)
	return uid, ok
}
