package web

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/laisky-drive/internal/drive"
	"github.com/Laisky/laisky-drive/library/auth"
)

// abortWithError writes the `{"error","code"}` body for err. Unknown errors
// are logged and reported as a generic 500.
func abortWithError(c *gin.Context, err error) {
	if derr, ok := drive.AsError(err); ok {
		status := derr.HTTPStatus()
		if status >= http.StatusInternalServerError {
			gmw.GetLogger(c).Error("request failed", zap.Error(err))
		}
		if derr.Retryable {
			c.Header("Retry-After", "1")
		}
		c.AbortWithStatusJSON(status, gin.H{
			"error": derr.Message,
			"code":  string(derr.Code),
		})
		return
	}

	gmw.GetLogger(c).Error("request failed", zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": "internal server error",
		"code":  "INTERNAL",
	})
}

func abortInvalid(c *gin.Context, msg string) {
	abortWithError(c, drive.NewError(drive.ErrCodeInvalidArgument, msg, false))
}

// pathID parses the uint64 route parameter name.
func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		abortInvalid(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

// optionalID parses a query id where absent, empty or 0 mean the root.
func optionalID(c *gin.Context, name string) (*uint64, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" || raw == "0" || raw == "null" {
		return nil, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		abortInvalid(c, "invalid "+name)
		return nil, false
	}
	return &id, true
}

// currentUser returns the id stored by the auth middleware.
func currentUser(c *gin.Context) uint64 {
	uid, _ := auth.UserID(c)
	return uid
}

// requestContext carries the client ip and the request logger into the drive layer.
func requestContext(c *gin.Context) context.Context {
	ctx := drive.WithLogger(c, gmw.GetLogger(c))
	return drive.WithClientIP(ctx, c.ClientIP())
}

// baseURL is the configured public url or the scheme and host of the request.
func (s *Server) baseURL(c *gin.Context) string {
	if v := s.svc.Settings().PublicBaseURL; v != "" {
		return strings.TrimRight(v, "/")
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if fwd := c.GetHeader("X-Forwarded-Proto"); fwd != "" {
		scheme = strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return scheme + "://" + c.Request.Host
}

func bearerToken(c *gin.Context) (string, bool) {
	return auth.BearerToken(c.GetHeader("Authorization"))
}
