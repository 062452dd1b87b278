// Package sqlite opens single-node gorm connections backed by a sqlite file.
package sqlite

import (
	"strings"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Laisky/laisky-drive/library/db/postgres"
)

// NewDB opens the sqlite database at path.
//
// A single pooled connection is used so writers queue in-process instead of
// failing with SQLITE_BUSY.
func NewDB(path string, logger logSDK.Logger) (*gorm.DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: postgres.NewGormLogger(logger, 500*time.Millisecond),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sqlite pool")
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}
