package drive

import (
	"context"
	"strings"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"gorm.io/gorm"

	"github.com/Laisky/laisky-drive/library/log"
)

// RunMigrations ensures drive tables and indexes exist.
func RunMigrations(ctx context.Context, db *gorm.DB, logger logSDK.Logger) error {
	if db == nil {
		return errors.New("gorm db is required")
	}
	if logger == nil {
		logger = log.Logger.Named("drive_migration")
	}

	if err := db.WithContext(ctx).AutoMigrate(allModels()...); err != nil {
		return errors.Wrap(err, "auto migrate drive tables")
	}

	statements := []string{}
	if isPostgresDialect(db) {
		statements = []string{
			`CREATE INDEX IF NOT EXISTS idx_drive_files_owner_folder ON drive_files (owner_id, folder_id, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_drive_activities_user_created ON drive_activities (user_id, created_at DESC)`,
			`CREATE INDEX IF NOT EXISTS idx_drive_shares_expiring ON drive_shares (expires_at) WHERE expires_at IS NOT NULL`,
		}
	}

	for _, stmt := range statements {
		if err := db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return errors.Wrap(err, "create index")
		}
	}

	logger.Debug("drive migrations completed")
	return nil
}

// isPostgresDialect reports whether the gorm dialector is Postgres.
func isPostgresDialect(db *gorm.DB) bool {
	if db == nil || db.Dialector == nil {
		return false
	}
	return strings.EqualFold(db.Dialector.Name(), "postgres")
}
