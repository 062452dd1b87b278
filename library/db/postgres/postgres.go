// Package postgres opens gorm connections to PostgreSQL through the pgx driver.
package postgres

import (
	"context"
	"database/sql"
	"time"

	errors "github.com/Laisky/errors/v2"
	logSDK "github.com/Laisky/go-utils/v6/log"
	_ "github.com/jackc/pgx/v5/stdlib"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// DialInfo postgres dial info
type DialInfo struct {
	Addr,
	DBName,
	User,
	Pwd string
}

// BuildDSN builds a PostgreSQL DSN.
func BuildDSN(dialInfo DialInfo) string {
	return "host=" + dialInfo.Addr + " user=" + dialInfo.User + " password=" + dialInfo.Pwd + " dbname=" + dialInfo.DBName + " port=5432 sslmode=disable TimeZone=UTC"
}

// NewDB opens a pooled PostgreSQL connection and wraps it with gorm.
func NewDB(ctx context.Context, dialInfo DialInfo, logger logSDK.Logger) (*gorm.DB, error) {
	sqlDB, err := sql.Open("pgx", BuildDSN(dialInfo))
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if err = sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	sqlDB.SetMaxIdleConns(6)
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetConnMaxLifetime(time.Hour)

	db, err := gorm.Open(gormPostgres.New(gormPostgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: NewGormLogger(logger, 500*time.Millisecond),
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, errors.Wrap(err, "open gorm postgres")
	}

	return db, nil
}
