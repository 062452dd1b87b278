// Package redis wraps go-redis for the activity stream and usage mirror.
package redis

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/Laisky/errors/v2"
	gredis "github.com/Laisky/go-redis/v2"
	"github.com/redis/go-redis/v9"
)

// DB is a wrapper for go-redis
type DB struct {
	rdb *redis.Client
	db  *gredis.Utils
}

// NewDB creates a new DB instance
func NewDB(opt *redis.Options) *DB {
	rdb := redis.NewClient(opt)
	rutils := gredis.NewRedisUtils(rdb)

	return &DB{
		rdb: rdb,
		db:  rutils,
	}
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	if err := db.rdb.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "ping redis")
	}
	return nil
}

// Close releases the client.
func (db *DB) Close() error {
	return db.rdb.Close()
}

// PushActivity appends an activity event to the list at key.
func (db *DB) PushActivity(ctx context.Context, key string, evt *ActivityEvent) error {
	if key == "" {
		key = KeyActivities
	}
	payload, err := json.Marshal(evt)
	if err != nil {
		return errors.Wrap(err, "marshal activity")
	}

	if err := db.db.RPush(ctx, key, []any{string(payload)},
		db.db.WithMaxLength(ActivityListMaxLength),
		db.db.WithTrimSize(ActivityListTrimSize),
	); err != nil {
		return errors.Wrap(err, "rpush activity")
	}

	return nil
}

// SetUsage mirrors the storage usage counter of a user.
func (db *DB) SetUsage(ctx context.Context, userID uint64, used int64) error {
	key := KeyPrefixUsage + strconv.FormatUint(userID, 10)
	if err := db.db.SetItem(ctx, key, strconv.FormatInt(used, 10), 0); err != nil {
		return errors.Wrap(err, "set usage")
	}

	return nil
}
