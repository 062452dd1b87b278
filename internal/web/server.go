// Package web gin server
package web

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/laisky-drive/internal/drive"
	"github.com/Laisky/laisky-drive/library/auth"
	"github.com/Laisky/laisky-drive/library/log"
	"github.com/Laisky/laisky-drive/library/throttle"
)

// Options configures the HTTP surface.
type Options struct {
	// AllowedOrigins are exact origins or `*.domain` wildcards for CORS.
	AllowedOrigins    []string
	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	// Attempts throttles login and share password checks, nil disables it.
	Attempts *throttle.Throttle
}

// LoadOptionsFromConfig reads settings.web.*.
func LoadOptionsFromConfig() Options {
	opt := Options{
		AllowedOrigins:    gconfig.Shared.GetStringSlice("settings.web.allowed_origins"),
		ReadHeaderTimeout: time.Duration(gconfig.Shared.GetInt("settings.web.read_header_timeout_seconds")) * time.Second,
		IdleTimeout:       time.Duration(gconfig.Shared.GetInt("settings.web.idle_timeout_seconds")) * time.Second,
	}
	if opt.ReadHeaderTimeout <= 0 {
		opt.ReadHeaderTimeout = 10 * time.Second
	}
	if opt.IdleTimeout <= 0 {
		opt.IdleTimeout = 120 * time.Second
	}

	cfg := throttle.Config{
		TotalNPerSec:   floatFromConfig("settings.web.throttle.total_per_sec", 50),
		TotalBurst:     floatFromConfig("settings.web.throttle.total_burst", 100),
		EachKeyNPerSec: floatFromConfig("settings.web.throttle.each_per_sec", 0.2),
		EachKeyBurst:   floatFromConfig("settings.web.throttle.each_burst", 5),
	}
	attempts, err := throttle.New(cfg)
	if err != nil {
		log.Logger.Warn("attempt throttle disabled", zap.Error(err))
	} else {
		opt.Attempts = attempts
	}

	return opt
}

func floatFromConfig(key string, def float64) float64 {
	switch v := gconfig.Shared.Get(key).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}

// Server binds drive operations to HTTP routes.
type Server struct {
	svc  *drive.Service
	auth *auth.Auth
	opt  Options
}

// NewServer builds a server over svc.
func NewServer(svc *drive.Service, authenticator *auth.Auth, opt Options) (*Server, error) {
	if svc == nil {
		return nil, errors.New("drive service is required")
	}
	if authenticator == nil {
		return nil, errors.New("auth is required")
	}
	return &Server{svc: svc, auth: authenticator, opt: opt}, nil
}

// Router returns the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(
		gin.Recovery(),
		gmw.NewLoggerMiddleware(
			gmw.WithLogger(log.Logger.Named("gin")),
		),
		allowCORS(s.opt.AllowedOrigins),
	)

	router.Any("/health", func(ctx *gin.Context) {
		ctx.String(http.StatusOK, "hello, world")
	})

	router.GET("/share/:token", s.handleShareView)

	api := router.Group("/api")
	api.POST("/register", s.handleRegister)
	api.POST("/login", s.limitAttempts(loginAttemptKey), s.handleLogin)
	api.POST("/share/:token/verify-password", s.limitAttempts(shareAttemptKey), s.handleVerifySharePassword)
	api.GET("/stream/:id", s.handleStream)
	api.GET("/thumbnail/:id", s.handleThumbnail)

	authed := api.Group("", s.auth.Middleware())
	authed.GET("/user-info", s.handleUserInfo)
	authed.GET("/system-info", s.handleSystemInfo)
	authed.GET("/files", s.handleListFiles)
	authed.POST("/upload", s.handleUpload)
	authed.GET("/download/:id", s.handleDownload)
	authed.POST("/files/:id/rename", s.handleRename)
	authed.PATCH("/files/:id", s.handleUpdateFile)
	authed.DELETE("/delete/:id", s.handleDeleteFile)
	authed.POST("/folders", s.handleCreateFolder)
	authed.GET("/folders", s.handleListFolders)
	authed.DELETE("/folders/:id", s.handleDeleteFolder)
	authed.POST("/share", s.handleCreateShare)
	authed.GET("/shares", s.handleListShares)
	authed.DELETE("/shares/:id", s.handleRevokeShare)
	authed.GET("/activities", s.handleListActivities)
	authed.DELETE("/admin/users/:id", s.handleDeleteUser)

	return router
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: s.opt.ReadHeaderTimeout,
		IdleTimeout:       s.opt.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Logger.Warn("shutdown http server", zap.Error(err))
		}
	}()

	log.Logger.Info("listening on http", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "http server exit")
	}
	return nil
}

func loginAttemptKey(c *gin.Context) string {
	return "login:" + c.ClientIP()
}

func shareAttemptKey(c *gin.Context) string {
	return "share:" + c.Param("token") + ":" + c.ClientIP()
}

// limitAttempts rejects callers that exhausted their attempts for keyOf.
func (s *Server) limitAttempts(keyOf func(*gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opt.Attempts != nil && !s.opt.Attempts.Allow(keyOf(c)) {
			c.Header("Retry-After", "5")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "too many attempts",
				"code":  "RATE_LIMITED",
			})
			return
		}
		c.Next()
	}
}

// originAllowed matches origin against exact entries and `*.domain` wildcards.
// A `*.domain` entry also admits the bare domain.
func originAllowed(origin string, allowed []string) bool {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	host := strings.ToLower(parsed.Hostname())

	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimSpace(entry))
		switch {
		case entry == "":
		case entry == "*":
			return true
		case strings.HasPrefix(entry, "*."):
			domain := entry[2:]
			if host == domain || strings.HasSuffix(host, "."+domain) {
				return true
			}
		case strings.EqualFold(strings.TrimRight(origin, "/"), strings.TrimRight(entry, "/")):
			return true
		}
	}
	return false
}

func allowCORS(allowed []string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		origin := ctx.Request.Header.Get("Origin")
		allowedOrigin := ""
		if origin != "" && originAllowed(origin, allowed) {
			allowedOrigin = origin
		}

		if allowedOrigin != "" {
			ctx.Header("Access-Control-Allow-Origin", allowedOrigin)
			ctx.Header("Access-Control-Allow-Credentials", "true")
			ctx.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS, HEAD")
			ctx.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept, Origin, Range, X-Requested-With")
			ctx.Header("Access-Control-Expose-Headers", "Content-Range, Content-Length, Accept-Ranges, Content-Disposition")
			ctx.Header("Access-Control-Max-Age", "86400")
			ctx.Header("Vary", "Origin")

			if ctx.Request.Method == http.MethodOptions {
				ctx.AbortWithStatus(http.StatusNoContent)
				return
			}
		} else if origin != "" && ctx.Request.Method == http.MethodOptions {
			// deny preflight from disallowed origins
			ctx.AbortWithStatus(http.StatusForbidden)
			return
		}

		ctx.Next()
	}
}
