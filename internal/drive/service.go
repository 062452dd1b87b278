// Package drive implements the storage namespace, quotas, shares and
// identity of the file drive.
package drive

import (
	"context"
	"time"

	errors "github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v7"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"gorm.io/gorm"

	"github.com/Laisky/laisky-drive/internal/drive/blob"
	"github.com/Laisky/laisky-drive/internal/drive/thumbnail"
	"github.com/Laisky/laisky-drive/library/jwt"
	"github.com/Laisky/laisky-drive/library/log"
)

// Clock returns the current time in UTC.
type Clock func() time.Time

func utcNow() time.Time { return time.Now().UTC() }

type ctxKey string

const (
	ctxKeyLogger   ctxKey = "drive_logger"
	ctxKeyClientIP ctxKey = "drive_client_ip"
)

// WithLogger attaches a request scoped logger to ctx.
func WithLogger(ctx context.Context, logger logSDK.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyLogger, logger)
}

// WithClientIP attaches the caller address recorded on activities.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ctxKeyClientIP, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(ctxKeyClientIP).(string)
	return ip
}

// UsageMirror receives storage usage after every change.
type UsageMirror interface {
	SetUsage(ctx context.Context, userID uint64, used int64) error
}

// Service coordinates namespace, blob, quota and share operations.
type Service struct {
	db           *gorm.DB
	blobs        *blob.Store
	signer       *jwt.JWT
	settings     Settings
	logger       logSDK.Logger
	lockProvider LockProvider
	fileLocks    *fileLocks
	activity     ActivityRecorder
	usage        UsageMirror
	clock        Clock
	thumbCache   thumbnail.Cache
	thumbs       *thumbnail.Generator
}

// ServiceOption customizes optional collaborators.
type ServiceOption func(*Service)

// WithActivityRecorder replaces the default database activity recorder.
func WithActivityRecorder(rec ActivityRecorder) ServiceOption {
	return func(s *Service) {
		if rec != nil {
			s.activity = rec
		}
	}
}

// WithUsageMirror publishes usage counters to mirror.
func WithUsageMirror(mirror UsageMirror) ServiceOption {
	return func(s *Service) {
		s.usage = mirror
	}
}

// WithThumbnailCache stores rendered thumbnails in cache instead of on disk.
func WithThumbnailCache(cache thumbnail.Cache) ServiceOption {
	return func(s *Service) {
		s.thumbCache = cache
	}
}

// NewService constructs a drive service and runs migrations.
func NewService(db *gorm.DB, blobs *blob.Store, signer *jwt.JWT, settings Settings, logger logSDK.Logger, lockProvider LockProvider, clock Clock, opts ...ServiceOption) (*Service, error) {
	if db == nil {
		return nil, errors.New("gorm db is required")
	}
	if blobs == nil {
		return nil, errors.New("blob store is required")
	}
	if signer == nil {
		return nil, errors.New("jwt signer is required")
	}
	if logger == nil {
		logger = log.Logger.Named("drive_service")
	}
	if lockProvider == nil {
		lockProvider = NewLockProvider()
	}
	if clock == nil {
		clock = utcNow
	}

	if err := RunMigrations(context.Background(), db, logger); err != nil {
		return nil, errors.WithStack(err)
	}

	svc := &Service{
		db:           db,
		blobs:        blobs,
		signer:       signer,
		settings:     settings.withDefaults(),
		logger:       logger,
		lockProvider: lockProvider,
		fileLocks:    newFileLocks(),
		clock:        clock,
	}
	svc.activity = NewGormActivityRecorder(db, clock)
	for _, opt := range opts {
		opt(svc)
	}

	if svc.thumbCache == nil {
		cache, err := thumbnail.NewDiskCache(blobs.Root())
		if err != nil {
			return nil, errors.WithStack(err)
		}
		svc.thumbCache = cache
	}
	thumbs, err := thumbnail.NewGenerator(svc.thumbCache,
		svc.settings.Thumbnail.Size, svc.settings.Thumbnail.Quality, logger.Named("thumbnail"),
		thumbnail.WithMaxPixels(svc.settings.Thumbnail.MaxPixels))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	svc.thumbs = thumbs

	return svc, nil
}

// Settings returns the effective settings.
func (s *Service) Settings() Settings {
	return s.settings
}

// LoggerFromContext returns the request-scoped logger when available.
func (s *Service) LoggerFromContext(ctx context.Context) logSDK.Logger {
	if ctx != nil {
		if ctxLogger := gmw.GetLogger(ctx); ctxLogger != nil {
			return ctxLogger
		}
		if ctxLogger, ok := ctx.Value(ctxKeyLogger).(logSDK.Logger); ok && ctxLogger != nil {
			return ctxLogger
		}
	}
	if s != nil && s.logger != nil {
		return s.logger
	}
	return log.Logger.Named("drive_fallback")
}

// withUserLock runs fn inside userID's critical section.
func (s *Service) withUserLock(ctx context.Context, userID uint64, fn func(tx *gorm.DB) error) error {
	return s.lockProvider.WithUserLock(ctx, s.db, userID, s.settings.LockTimeout, fn)
}

// warnOnError logs an error when needed for diagnostics.
func (s *Service) warnOnError(ctx context.Context, err error, msg string, fields ...zap.Field) {
	if err == nil {
		return
	}
	logger := s.LoggerFromContext(ctx)
	logger.Warn(msg, append(fields, zap.Error(err))...)
}

// now returns the service clock time.
func (s *Service) now() time.Time {
	return s.clock()
}

// notFoundOr converts gorm.ErrRecordNotFound into a typed not found error.
func notFoundOr(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errNotFound(msg)
	}
	return errors.WithStack(err)
}
