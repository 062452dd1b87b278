package drive

import (
	"context"
	stderrors "errors"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/google/uuid"
	"gorm.io/gorm"

	rlib "github.com/Laisky/laisky-drive/library/db/redis"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 500
)

// Activity actions.
const (
	ActionUpload       = "upload"
	ActionDownload     = "download"
	ActionStream       = "stream"
	ActionRename       = "rename"
	ActionDelete       = "delete"
	ActionUpdate       = "update"
	ActionCreateFolder = "create_folder"
	ActionDeleteFolder = "delete_folder"
	ActionShare        = "share"
	ActionRevokeShare  = "revoke_share"
	ActionLogin        = "login"
	ActionRegister     = "register"
	ActionDeleteUser   = "delete_user"
)

// ActivityEvent describes one auditable action.
type ActivityEvent struct {
	UserID       uint64
	Action       string
	ResourceType string
	ResourceID   *uint64
	ResourceName string
	Details      string
	IPAddress    string
}

// ActivityRecorder persists audit events.
type ActivityRecorder interface {
	Record(ctx context.Context, evt ActivityEvent) error
}

// GormActivityRecorder appends events to the activities table.
type GormActivityRecorder struct {
	db    *gorm.DB
	clock Clock
}

// NewGormActivityRecorder constructs a table backed recorder.
func NewGormActivityRecorder(db *gorm.DB, clock Clock) *GormActivityRecorder {
	if clock == nil {
		clock = utcNow
	}
	return &GormActivityRecorder{db: db, clock: clock}
}

// Record inserts evt.
func (r *GormActivityRecorder) Record(ctx context.Context, evt ActivityEvent) error {
	row := &Activity{
		UserID:       evt.UserID,
		Action:       evt.Action,
		ResourceType: evt.ResourceType,
		ResourceID:   evt.ResourceID,
		ResourceName: evt.ResourceName,
		Details:      evt.Details,
		IPAddress:    evt.IPAddress,
		CreatedAt:    r.clock(),
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return errors.Wrap(err, "insert activity")
	}
	return nil
}

// ActivitySink is the subset of the redis client used for the activity stream.
type ActivitySink interface {
	PushActivity(ctx context.Context, key string, evt *rlib.ActivityEvent) error
}

// RedisActivityRecorder appends events to a redis list for external consumers.
type RedisActivityRecorder struct {
	sink  ActivitySink
	key   string
	clock Clock
}

// NewRedisActivityRecorder constructs a redis backed recorder pushing to key.
func NewRedisActivityRecorder(sink ActivitySink, key string, clock Clock) *RedisActivityRecorder {
	if clock == nil {
		clock = utcNow
	}
	return &RedisActivityRecorder{sink: sink, key: key, clock: clock}
}

// Record pushes evt.
func (r *RedisActivityRecorder) Record(ctx context.Context, evt ActivityEvent) error {
	var resourceID uint64
	if evt.ResourceID != nil {
		resourceID = *evt.ResourceID
	}
	return r.sink.PushActivity(ctx, r.key, &rlib.ActivityEvent{
		EventID:      uuid.NewString(),
		UserID:       evt.UserID,
		Action:       evt.Action,
		ResourceType: evt.ResourceType,
		ResourceID:   resourceID,
		ResourceName: evt.ResourceName,
		Details:      evt.Details,
		IPAddress:    evt.IPAddress,
		CreatedAt:    r.clock(),
	})
}

// MultiActivityRecorder fans events out to every recorder and joins their errors.
type MultiActivityRecorder []ActivityRecorder

// Record forwards evt to all recorders.
func (m MultiActivityRecorder) Record(ctx context.Context, evt ActivityEvent) error {
	var errs []error
	for _, rec := range m {
		if rec == nil {
			continue
		}
		if err := rec.Record(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// recordActivity writes evt best-effort. Failures are logged and swallowed.
func (s *Service) recordActivity(ctx context.Context, evt ActivityEvent) {
	if s.activity == nil {
		return
	}
	if evt.IPAddress == "" {
		evt.IPAddress = clientIPFromContext(ctx)
	}
	s.warnOnError(ctx, s.activity.Record(ctx, evt), "record activity",
		zap.String("action", evt.Action),
		zap.Uint64("user_id", evt.UserID))
}

// ListActivities returns the newest activities of userID.
func (s *Service) ListActivities(ctx context.Context, userID uint64, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	var rows []Activity
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list activities")
	}
	return rows, nil
}

func idPtr(id uint64) *uint64 {
	return &id
}
