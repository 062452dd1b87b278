package cmd

import (
	"context"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
	"github.com/Laisky/zap"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/Laisky/laisky-drive/internal/drive"
	"github.com/Laisky/laisky-drive/internal/drive/blob"
	"github.com/Laisky/laisky-drive/internal/drive/thumbnail"
	"github.com/Laisky/laisky-drive/library/db/postgres"
	rlib "github.com/Laisky/laisky-drive/library/db/redis"
	"github.com/Laisky/laisky-drive/library/db/sqlite"
	"github.com/Laisky/laisky-drive/library/jwt"
	"github.com/Laisky/laisky-drive/library/log"
)

// openDB connects to the database selected by settings.db.driver.
func openDB(ctx context.Context) (*gorm.DB, error) {
	driver := strings.ToLower(strings.TrimSpace(gconfig.S.GetString("settings.db.driver")))
	logger := log.Logger.Named("gorm")

	switch driver {
	case "", "sqlite":
		path := strings.TrimSpace(gconfig.S.GetString("settings.db.sqlite.path"))
		if path == "" {
			path = "drive.db"
		}
		log.Logger.Info("connect to sqlite", zap.String("path", path))
		return sqlite.NewDB(path, logger)
	case "postgres":
		dial := postgres.DialInfo{
			Addr:   gconfig.S.GetString("settings.db.postgres.addr"),
			DBName: gconfig.S.GetString("settings.db.postgres.db"),
			User:   gconfig.S.GetString("settings.db.postgres.user"),
			Pwd:    gconfig.S.GetString("settings.db.postgres.pwd"),
		}
		log.Logger.Info("connect to postgres",
			zap.String("addr", dial.Addr),
			zap.String("db", dial.DBName))
		return postgres.NewDB(ctx, dial, logger)
	default:
		return nil, errors.Errorf("unsupported db driver %q", driver)
	}
}

// openRedis returns nil when settings.db.redis.addr is unset.
func openRedis(ctx context.Context) (*rlib.DB, error) {
	addr := strings.TrimSpace(gconfig.S.GetString("settings.db.redis.addr"))
	if addr == "" {
		return nil, nil
	}

	rdb := rlib.NewDB(&redis.Options{
		Addr:     addr,
		DB:       gconfig.Shared.GetInt("settings.db.redis.db"),
		Password: gconfig.S.GetString("settings.db.redis.pwd"),
	})
	if err := rdb.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "connect redis %s", addr)
	}

	log.Logger.Info("connected to redis", zap.String("addr", addr))
	return rdb, nil
}

// buildService assembles the drive service and its optional collaborators.
func buildService(ctx context.Context, settings drive.Settings) (*drive.Service, error) {
	db, err := openDB(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open db")
	}

	blobs, err := blob.New(settings.StorageRoot)
	if err != nil {
		return nil, errors.Wrap(err, "open blob store")
	}

	var opts []drive.ServiceOption
	rdb, err := openRedis(ctx)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if rdb != nil {
		opts = append(opts,
			drive.WithActivityRecorder(drive.MultiActivityRecorder{
				drive.NewGormActivityRecorder(db, nil),
				drive.NewRedisActivityRecorder(rdb, settings.ActivityRedisKey, nil),
			}),
			drive.WithUsageMirror(rdb),
		)
	}

	if minioCfg := settings.Thumbnail.Minio; minioCfg.Enabled() {
		cache, err := thumbnail.NewMinioCache(ctx, thumbnail.MinioOptions{
			Endpoint:  minioCfg.Endpoint,
			AccessKey: minioCfg.AccessKey,
			SecretKey: minioCfg.SecretKey,
			Bucket:    minioCfg.Bucket,
			Secure:    minioCfg.Secure,
		})
		if err != nil {
			return nil, errors.Wrap(err, "connect thumbnail bucket")
		}
		log.Logger.Info("thumbnails cached in minio",
			zap.String("endpoint", minioCfg.Endpoint),
			zap.String("bucket", minioCfg.Bucket))
		opts = append(opts, drive.WithThumbnailCache(cache))
	}

	svc, err := drive.NewService(db, blobs, jwt.Instance, settings,
		log.Logger.Named("drive"), nil, nil, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "new drive service")
	}

	return svc, nil
}
