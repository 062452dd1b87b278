package drive

import (
	"fmt"
	"strings"
	"time"

	gconfig "github.com/Laisky/go-config/v2"

	"github.com/Laisky/laisky-drive/internal/drive/thumbnail"
)

const (
	defaultQuotaBytes      int64 = 1 << 30
	defaultAdminQuotaBytes int64 = 10 << 30
	defaultStorageRoot           = "./storage"
	defaultActivityKey           = "laisky/drive/activities"
)

// Settings captures runtime configuration for the drive service.
type Settings struct {
	StorageRoot       string
	DefaultQuotaBytes int64
	AdminQuotaBytes   int64
	LockTimeout       time.Duration
	StreamChunkBytes  int
	MaxUploadBytes    int64
	ShareAuthTTL      time.Duration
	SessionTTL        time.Duration
	PublicBaseURL     string
	SeedDefaultUsers  bool
	ActivityRedisKey  string
	Thumbnail         ThumbnailSettings
}

// ThumbnailSettings configures preview generation and its cache.
type ThumbnailSettings struct {
	Size    int
	Quality int
	// MaxPixels caps width*height of images that are decoded.
	MaxPixels int64
	Minio     MinioSettings
}

// MinioSettings points the thumbnail cache at an S3 compatible bucket.
type MinioSettings struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Secure    bool
}

// Enabled reports whether a bucket is configured.
func (m MinioSettings) Enabled() bool {
	return m.Endpoint != "" && m.Bucket != ""
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		StorageRoot:       defaultStorageRoot,
		DefaultQuotaBytes: defaultQuotaBytes,
		AdminQuotaBytes:   defaultAdminQuotaBytes,
		LockTimeout:       5 * time.Second,
		StreamChunkBytes:  4096,
		ShareAuthTTL:      10 * time.Minute,
		SessionTTL:        24 * time.Hour,
		ActivityRedisKey:  defaultActivityKey,
		Thumbnail: ThumbnailSettings{
			Size:      200,
			Quality:   85,
			MaxPixels: thumbnail.DefaultMaxPixels,
		},
	}
}

// LoadSettingsFromConfig reads configuration and applies safe defaults.
func LoadSettingsFromConfig() Settings {
	def := DefaultSettings()
	settings := Settings{
		StorageRoot:       strings.TrimSpace(gconfig.S.GetString("settings.drive.storage_root")),
		DefaultQuotaBytes: int64FromConfig("settings.drive.default_quota_bytes", def.DefaultQuotaBytes),
		AdminQuotaBytes:   int64FromConfig("settings.drive.admin_quota_bytes", def.AdminQuotaBytes),
		LockTimeout:       time.Duration(intFromConfig("settings.drive.lock_timeout_ms", 5000)) * time.Millisecond,
		StreamChunkBytes:  intFromConfig("settings.drive.stream_chunk_bytes", def.StreamChunkBytes),
		MaxUploadBytes:    int64FromConfig("settings.drive.max_upload_bytes", 0),
		ShareAuthTTL:      time.Duration(intFromConfig("settings.drive.share_auth_ttl_seconds", 600)) * time.Second,
		SessionTTL:        time.Duration(intFromConfig("settings.drive.session_ttl_hours", 24)) * time.Hour,
		PublicBaseURL:     strings.TrimRight(strings.TrimSpace(gconfig.S.GetString("settings.drive.public_base_url")), "/"),
		SeedDefaultUsers:  boolFromConfig("settings.drive.seed_default_users", false),
		ActivityRedisKey:  strings.TrimSpace(gconfig.S.GetString("settings.drive.activity.redis_key")),
		Thumbnail: ThumbnailSettings{
			Size:      intFromConfig("settings.drive.thumbnail.size", def.Thumbnail.Size),
			Quality:   intFromConfig("settings.drive.thumbnail.quality", def.Thumbnail.Quality),
			MaxPixels: int64FromConfig("settings.drive.thumbnail.max_pixels", def.Thumbnail.MaxPixels),
			Minio: MinioSettings{
				Endpoint:  strings.TrimSpace(gconfig.S.GetString("settings.drive.thumbnail.minio.endpoint")),
				AccessKey: strings.TrimSpace(gconfig.S.GetString("settings.drive.thumbnail.minio.access_key")),
				SecretKey: strings.TrimSpace(gconfig.S.GetString("settings.drive.thumbnail.minio.secret_key")),
				Bucket:    strings.TrimSpace(gconfig.S.GetString("settings.drive.thumbnail.minio.bucket")),
				Secure:    boolFromConfig("settings.drive.thumbnail.minio.secure", true),
			},
		},
	}

	return settings.withDefaults()
}

// withDefaults replaces unset or invalid values with defaults.
func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.StorageRoot == "" {
		s.StorageRoot = def.StorageRoot
	}
	if s.DefaultQuotaBytes <= 0 {
		s.DefaultQuotaBytes = def.DefaultQuotaBytes
	}
	if s.AdminQuotaBytes <= 0 {
		s.AdminQuotaBytes = def.AdminQuotaBytes
	}
	if s.LockTimeout <= 0 {
		s.LockTimeout = def.LockTimeout
	}
	if s.StreamChunkBytes <= 0 {
		s.StreamChunkBytes = def.StreamChunkBytes
	}
	if s.MaxUploadBytes < 0 {
		s.MaxUploadBytes = 0
	}
	if s.ShareAuthTTL <= 0 {
		s.ShareAuthTTL = def.ShareAuthTTL
	}
	if s.SessionTTL <= 0 {
		s.SessionTTL = def.SessionTTL
	}
	if s.ActivityRedisKey == "" {
		s.ActivityRedisKey = def.ActivityRedisKey
	}
	if s.Thumbnail.Size <= 0 {
		s.Thumbnail.Size = def.Thumbnail.Size
	}
	if s.Thumbnail.Quality <= 0 || s.Thumbnail.Quality > 100 {
		s.Thumbnail.Quality = def.Thumbnail.Quality
	}
	if s.Thumbnail.MaxPixels <= 0 {
		s.Thumbnail.MaxPixels = def.Thumbnail.MaxPixels
	}
	return s
}

// intFromConfig reads an int configuration value with a default fallback.
func intFromConfig(key string, def int) int {
	return int(int64FromConfig(key, int64(def)))
}

// int64FromConfig reads an int64 configuration value with a default fallback.
func int64FromConfig(key string, def int64) int64 {
	value := gconfig.S.Get(key)
	switch v := value.(type) {
	case nil:
		return def
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return def
		}
		var parsed int64
		if _, err := fmt.Sscanf(trimmed, "%d", &parsed); err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// boolFromConfig reads a boolean configuration value with a default fallback.
func boolFromConfig(key string, def bool) bool {
	value := gconfig.S.Get(key)
	switch v := value.(type) {
	case nil:
		return def
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		default:
			return def
		}
	default:
		return def
	}
}
