package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	logSDK "github.com/Laisky/go-utils/v6/log"
	gormLogger "gorm.io/gorm/logger"

	"github.com/Laisky/laisky-drive/library/log"
)

const defaultMaxLoggedParamLength = 256

// zapWriter adapts a logSDK logger to gorm's Printf writer.
type zapWriter struct {
	logger logSDK.Logger
}

// Printf forwards gorm log lines to the structured logger.
func (w zapWriter) Printf(format string, args ...any) {
	w.logger.Info(fmt.Sprintf(format, args...))
}

// truncatingParamsLogger filters oversized and secret SQL parameters before GORM prints SQL logs.
type truncatingParamsLogger struct {
	gormLogger.Interface
	maxLoggedParamLength int
}

// ParamsFilter rewrites params so SQL logs stay concise and carry no password hashes.
func (l *truncatingParamsLogger) ParamsFilter(_ context.Context, sql string, params ...any) (string, []any) {
	return sql, sanitizeLoggedSQLParams(l.maxLoggedParamLength, params...)
}

// NewGormLogger builds a gorm logger that writes through logger and reports slow queries.
func NewGormLogger(logger logSDK.Logger, slowThreshold time.Duration) gormLogger.Interface {
	if logger == nil {
		logger = log.Logger.Named("gorm")
	}

	base := gormLogger.New(zapWriter{logger: logger}, gormLogger.Config{
		SlowThreshold:             slowThreshold,
		LogLevel:                  gormLogger.Warn,
		IgnoreRecordNotFoundError: true,
		ParameterizedQueries:      false,
	})

	return newTruncatingParamsLogger(base)
}

// newTruncatingParamsLogger wraps a GORM logger with parameter truncation.
func newTruncatingParamsLogger(base gormLogger.Interface) gormLogger.Interface {
	return &truncatingParamsLogger{
		Interface:            base,
		maxLoggedParamLength: defaultMaxLoggedParamLength,
	}
}

// sanitizeLoggedSQLParams applies sanitizeLoggedSQLParam to every param.
func sanitizeLoggedSQLParams(maxLoggedParamLength int, params ...any) []any {
	filtered := make([]any, len(params))
	for idx, param := range params {
		filtered[idx] = sanitizeLoggedSQLParam(param, maxLoggedParamLength)
	}

	return filtered
}

// sanitizeLoggedSQLParam converts oversized or secret parameter values into log-safe summaries.
func sanitizeLoggedSQLParam(param any, maxLoggedParamLength int) any {
	switch value := param.(type) {
	case string:
		if isBcryptHash(value) {
			return "<redacted>"
		}
		if len(value) > maxLoggedParamLength {
			return fmt.Sprintf("<string:len=%d,truncated>", len(value))
		}
		return value
	case *string:
		if value == nil {
			return param
		}
		return sanitizeLoggedSQLParam(*value, maxLoggedParamLength)
	case []byte:
		if len(value) > maxLoggedParamLength {
			return fmt.Sprintf("<bytes:len=%d,truncated>", len(value))
		}
		return value
	default:
		return param
	}
}

// isBcryptHash reports whether raw looks like a modular-crypt bcrypt hash.
func isBcryptHash(raw string) bool {
	if len(raw) != 60 {
		return false
	}
	return strings.HasPrefix(raw, "$2a$") || strings.HasPrefix(raw, "$2b$") || strings.HasPrefix(raw, "$2y$")
}
