package drive

import (
	"context"
	"strings"

	errors "github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"gorm.io/gorm"
)

var streamablePrefixes = []string{
	"video/",
	"audio/",
	"image/",
	"text/",
	"application/pdf",
	"application/json",
	"application/javascript",
	"application/xml",
}

// IsStreamable reports whether a MIME type is worth rendering inline.
func IsStreamable(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if mimeType == "" {
		return false
	}
	for _, prefix := range streamablePrefixes {
		if strings.HasPrefix(mimeType, prefix) {
			return true
		}
	}
	return false
}

// Admit rejects incoming bytes that would push user over its quota. Filling
// the quota exactly is allowed.
func Admit(user *User, incoming int64) error {
	if user == nil {
		return errNotFound("user not found")
	}
	if incoming < 0 {
		return errInvalid("negative size")
	}
	if user.StorageUsed+incoming > user.StorageQuota {
		return NewError(ErrCodeQuotaExceeded, "storage quota exceeded", false)
	}
	return nil
}

// CurrentUsage returns the maintained usage counter of userID.
func (s *Service) CurrentUsage(ctx context.Context, userID uint64) (int64, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return user.StorageUsed, nil
}

// RecomputeUsage rewrites the usage counter of userID from the sizes of its files.
func (s *Service) RecomputeUsage(ctx context.Context, userID uint64) (int64, error) {
	var used int64
	err := s.withUserLock(ctx, userID, func(tx *gorm.DB) error {
		if _, err := loadUser(tx, userID); err != nil {
			return err
		}
		if err := tx.Model(&File{}).
			Where("owner_id = ?", userID).
			Select("COALESCE(SUM(file_size), 0)").
			Scan(&used).Error; err != nil {
			return errors.Wrap(err, "sum file sizes")
		}
		if err := tx.Model(&User{}).Where("id = ?", userID).
			UpdateColumn("storage_used", used).Error; err != nil {
			return errors.Wrap(err, "update usage")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.mirrorUsage(ctx, userID, used)
	return used, nil
}

// RecomputeAllUsage repairs the usage counter of every user and returns how many were repaired.
func (s *Service) RecomputeAllUsage(ctx context.Context) (int, error) {
	var ids []uint64
	if err := s.db.WithContext(ctx).Model(&User{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return 0, errors.Wrap(err, "list users")
	}

	logger := s.LoggerFromContext(ctx)
	for i, id := range ids {
		used, err := s.RecomputeUsage(ctx, id)
		if err != nil {
			return i, errors.Wrapf(err, "recompute usage of user %d", id)
		}
		logger.Debug("recomputed usage", zap.Uint64("user_id", id), zap.Int64("storage_used", used))
	}
	return len(ids), nil
}

// adjustUsage adds delta to the usage counter inside tx, never dropping below zero.
func adjustUsage(tx *gorm.DB, userID uint64, delta int64) error {
	if delta == 0 {
		return nil
	}
	expr := gorm.Expr("storage_used + ?", delta)
	if delta < 0 {
		expr = gorm.Expr("CASE WHEN storage_used + ? < 0 THEN 0 ELSE storage_used + ? END", delta, delta)
	}
	if err := tx.Model(&User{}).Where("id = ?", userID).
		UpdateColumn("storage_used", expr).Error; err != nil {
		return errors.Wrap(err, "update usage")
	}
	return nil
}

// mirrorUsage publishes the current counter of userID, best-effort.
func (s *Service) mirrorUsage(ctx context.Context, userID uint64, used int64) {
	if s.usage == nil {
		return
	}
	s.warnOnError(ctx, s.usage.SetUsage(ctx, userID, used), "mirror storage usage",
		zap.Uint64("user_id", userID))
}

// refreshUsageMirror reads the counter of userID and mirrors it.
func (s *Service) refreshUsageMirror(ctx context.Context, userID uint64) {
	if s.usage == nil {
		return
	}
	used, err := s.CurrentUsage(ctx, userID)
	if err != nil {
		s.warnOnError(ctx, err, "read storage usage", zap.Uint64("user_id", userID))
		return
	}
	s.mirrorUsage(ctx, userID, used)
}
