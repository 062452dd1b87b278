package cmd

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"

	errors "github.com/Laisky/errors/v2"
	gconfig "github.com/Laisky/go-config/v2"
)

// configGetter retrieves raw configuration values by dotted key path.
type configGetter func(key string) any

// validateStartupConfig validates startup configuration from the shared config source.
func validateStartupConfig() error {
	return validateStartupConfigWithGetter(func(key string) any {
		return gconfig.S.Get(key)
	})
}

// validateStartupConfigWithGetter collects every malformed value reachable via get.
func validateStartupConfigWithGetter(get configGetter) error {
	if get == nil {
		return errors.New("config getter is nil")
	}

	validationErrs := make([]string, 0)

	validateSecretConfig(get, &validationErrs)
	validateDBConfig(get, &validationErrs)
	validateRedisConfig(get, &validationErrs)
	validateDriveConfig(get, &validationErrs)
	validateThumbnailConfig(get, &validationErrs)
	validateWebConfig(get, &validationErrs)

	if len(validationErrs) == 0 {
		return nil
	}

	return errors.Errorf("invalid configuration:\n - %s", strings.Join(validationErrs, "\n - "))
}

// validateSecretConfig requires the signing secret.
func validateSecretConfig(get configGetter, errs *[]string) {
	raw := get("settings.secret")
	if raw == nil {
		appendValidationError(errs, "settings.secret is required")
		return
	}
	validateOptionalStringNonEmpty(get, "settings.secret", errs)
}

func validateDBConfig(get configGetter, errs *[]string) {
	raw := get("settings.db.driver")
	if raw == nil {
		return
	}

	driver, err := parseStrictString(raw)
	if err != nil {
		appendValidationError(errs, "settings.db.driver must be a string")
		return
	}

	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite":
		validateOptionalStringNonEmpty(get, "settings.db.sqlite.path", errs)
	case "postgres":
		for _, key := range []string{
			"settings.db.postgres.addr",
			"settings.db.postgres.db",
			"settings.db.postgres.user",
		} {
			if get(key) == nil {
				appendValidationError(errs, "%s is required for postgres", key)
				continue
			}
			validateOptionalStringNonEmpty(get, key, errs)
		}
	default:
		appendValidationError(errs, "settings.db.driver must be sqlite or postgres")
	}
}

func validateRedisConfig(get configGetter, errs *[]string) {
	validateOptionalInt(get, "settings.db.redis.db", 0, -1, errs)
	validateOptionalHost(get, "settings.db.redis.addr", errs)
}

// validateDriveConfig validates storage, quota and stream limits.
func validateDriveConfig(get configGetter, errs *[]string) {
	validateOptionalStringNonEmpty(get, "settings.drive.storage_root", errs)
	validateOptionalInt(get, "settings.drive.default_quota_bytes", 0, -1, errs)
	validateOptionalInt(get, "settings.drive.admin_quota_bytes", 0, -1, errs)
	validateOptionalInt(get, "settings.drive.lock_timeout_ms", 1, -1, errs)
	validateOptionalInt(get, "settings.drive.stream_chunk_bytes", 1, -1, errs)
	validateOptionalInt(get, "settings.drive.max_upload_bytes", 0, -1, errs)
	validateOptionalInt(get, "settings.drive.share_auth_ttl_seconds", 1, -1, errs)
	validateOptionalInt(get, "settings.drive.session_ttl_hours", 1, -1, errs)
	validateOptionalURL(get, "settings.drive.public_base_url", errs)
	validateOptionalBool(get, "settings.drive.seed_default_users", errs)
	validateOptionalStringNonEmpty(get, "settings.drive.activity.redis_key", errs)
}

func validateThumbnailConfig(get configGetter, errs *[]string) {
	validateOptionalInt(get, "settings.drive.thumbnail.size", 1, -1, errs)
	validateOptionalInt(get, "settings.drive.thumbnail.quality", 1, 100, errs)
	validateOptionalInt(get, "settings.drive.thumbnail.max_pixels", 1, -1, errs)

	if get("settings.drive.thumbnail.minio.endpoint") == nil {
		return
	}
	validateOptionalHost(get, "settings.drive.thumbnail.minio.endpoint", errs)
	validateOptionalBool(get, "settings.drive.thumbnail.minio.secure", errs)
	for _, key := range []string{
		"settings.drive.thumbnail.minio.access_key",
		"settings.drive.thumbnail.minio.secret_key",
		"settings.drive.thumbnail.minio.bucket",
	} {
		if get(key) == nil {
			appendValidationError(errs, "%s is required when minio is configured", key)
			continue
		}
		validateOptionalStringNonEmpty(get, key, errs)
	}
}

func validateWebConfig(get configGetter, errs *[]string) {
	validateOptionalInt(get, "settings.web.read_header_timeout_seconds", 1, -1, errs)
	validateOptionalInt(get, "settings.web.idle_timeout_seconds", 1, -1, errs)

	raw := get("settings.web.allowed_origins")
	if raw == nil {
		return
	}
	origins, ok := raw.([]any)
	if !ok {
		if _, isStrings := raw.([]string); !isStrings {
			appendValidationError(errs, "settings.web.allowed_origins must be a list")
		}
		return
	}
	for i, v := range origins {
		if s, err := parseStrictString(v); err != nil || strings.TrimSpace(s) == "" {
			appendValidationError(errs, "settings.web.allowed_origins[%d] must be a non-empty string", i)
		}
	}
}

func validateOptionalBool(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	if _, ok := parseStrictBool(raw); !ok {
		appendValidationError(errs, "%s must be a boolean", key)
	}
}

// validateOptionalInt checks an integer key against [min, max], max < min means unbounded.
func validateOptionalInt(get configGetter, key string, min, max int64, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, err := parseStrictInt64(raw)
	switch {
	case err != nil:
		appendValidationError(errs, "%s must be an integer", key)
	case max < min && value < min:
		appendValidationError(errs, "%s must be >= %d", key, min)
	case max >= min && (value < min || value > max):
		appendValidationError(errs, "%s must be within [%d, %d]", key, min, max)
	}
}

// validateOptionalURL validates an optionally configured absolute URL key.
func validateOptionalURL(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a string URL", key)
		return
	}

	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return
	}

	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		appendValidationError(errs, "%s must be a valid absolute URL", key)
	}
}

func validateOptionalHost(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil || !isValidHost(value) {
		appendValidationError(errs, "%s must be host[:port] without scheme", key)
	}
}

func validateOptionalStringNonEmpty(get configGetter, key string, errs *[]string) {
	raw := get(key)
	if raw == nil {
		return
	}

	value, parseErr := parseStrictString(raw)
	if parseErr != nil {
		appendValidationError(errs, "%s must be a string", key)
		return
	}

	if strings.TrimSpace(value) == "" {
		appendValidationError(errs, "%s must not be empty", key)
	}
}

// parseStrictBool parses a value as boolean using strict conversion rules.
func parseStrictBool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case int:
		return v != 0, true
	case int64:
		return v != 0, true
	case float64:
		if math.Trunc(v) != v {
			return false, false
		}
		return int64(v) != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes":
			return true, true
		case "false", "0", "no":
			return false, true
		default:
			return false, false
		}
	default:
		return false, false
	}
}

func parseStrictInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if math.Trunc(v) != v {
			return 0, errors.Errorf("%v is not an integer", v)
		}
		return int64(v), nil
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, errors.Wrap(err, "parse int64")
		}
		return parsed, nil
	default:
		return 0, errors.Errorf("unsupported int type %T", value)
	}
}

func parseStrictString(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	default:
		return "", errors.Errorf("unsupported string type %T", value)
	}
}

// isValidHost accepts host[:port] without scheme or path.
func isValidHost(host string) bool {
	trimmed := strings.TrimSpace(host)
	if trimmed == "" {
		return false
	}
	if strings.Contains(trimmed, "://") || strings.Contains(trimmed, "/") {
		return false
	}
	return true
}

func appendValidationError(errs *[]string, format string, args ...any) {
	if errs == nil {
		return
	}
	*errs = append(*errs, fmt.Sprintf(format, args...))
}
