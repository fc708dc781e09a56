package storage

import (
	"context"
	"time"

	"github.com/cdp-agent/browserctl/internal/ctxkeys"
	ilog "github.com/cdp-agent/browserctl/internal/logger"

	"gorm.io/gorm/logger"
)

// GormLogger adapts our Logger interface to gorm's logger.Interface.
type GormLogger struct {
	ilog.Logger
	LogLevel logger.LogLevel
}

// NewGormLogger wraps l for use as a gorm logger at the default Info level.
func NewGormLogger(l ilog.Logger) *GormLogger {
	return &GormLogger{Logger: l, LogLevel: logger.Info}
}

// LogMode returns a copy of the logger at the given level.
func (l *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.LogLevel = level
	return &newLogger
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Info {
		l.Logger.Info(msg, append([]any{"traceId", ctx.Value(ctxkeys.TraceIDKey{})}, data...)...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Warn {
		l.Logger.Warn(msg, append([]any{"traceId", ctx.Value(ctxkeys.TraceIDKey{})}, data...)...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.LogLevel >= logger.Error {
		l.Logger.Err(nil, msg, append([]any{"traceId", ctx.Value(ctxkeys.TraceIDKey{})}, data...)...)
	}
}

// Trace logs one SQL execution: error, slow-query warning, or debug trace
// depending on outcome and configured level.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.LogLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []any{
		"traceId", ctx.Value(ctxkeys.TraceIDKey{}),
		"sql", sql,
		"rows", rows,
		"timeMs", float64(elapsed.Nanoseconds()) / 1e6,
	}

	switch {
	case err != nil && l.LogLevel >= logger.Error:
		l.Logger.Err(err, "sql execution failed", fields...)
	case elapsed > time.Second && l.LogLevel >= logger.Warn:
		l.Logger.Warn("slow sql query", append(fields, "threshold", "1s")...)
	case l.LogLevel == logger.Info:
		l.Logger.Debug("sql execution", fields...)
	}
}
