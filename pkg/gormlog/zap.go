package gormlog

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"gorm.io/gorm/utils"

	"github.com/fatflowers/stembill/pkg/logctx"
)

// ZapLogger implements gorm.io/gorm/logger.Interface on top of the
// request-scoped zap logger found in the context.
type ZapLogger struct {
	base   *zap.SugaredLogger
	config gormlogger.Config
}

// New returns a logger that reports errors and statements slower than
// slowThreshold. Plain statements are only logged at Info level.
func New(base *zap.SugaredLogger, slowThreshold time.Duration, level gormlogger.LogLevel) *ZapLogger {
	return &ZapLogger{base: base, config: gormlogger.Config{
		SlowThreshold:             slowThreshold,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
	}}
}

func (z *ZapLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cfg := z.config
	cfg.LogLevel = level
	return &ZapLogger{base: z.base, config: cfg}
}

func (z *ZapLogger) Info(ctx context.Context, msg string, data ...any) {
	if z.config.LogLevel >= gormlogger.Info {
		logctx.FromCtx(ctx, z.base).Infow(msg, "args", data)
	}
}

func (z *ZapLogger) Warn(ctx context.Context, msg string, data ...any) {
	if z.config.LogLevel >= gormlogger.Warn {
		logctx.FromCtx(ctx, z.base).Warnw(msg, "args", data)
	}
}

func (z *ZapLogger) Error(ctx context.Context, msg string, data ...any) {
	if z.config.LogLevel >= gormlogger.Error {
		logctx.FromCtx(ctx, z.base).Errorw(msg, "args", data)
	}
}

func (z *ZapLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if z.config.LogLevel == gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	lg := logctx.FromCtx(ctx, z.base)
	fields := []any{
		"rows", rows,
		"elapsed_ms", elapsed.Milliseconds(),
		"caller", shortCaller(utils.FileWithLineNum()),
		"sql", sql,
	}
	switch {
	case err != nil && !(z.config.IgnoreRecordNotFoundError && errors.Is(err, gorm.ErrRecordNotFound)):
		lg.Errorw("gorm_error", append(fields, "err", err)...)
	case z.config.SlowThreshold > 0 && elapsed > z.config.SlowThreshold:
		lg.Warnw("gorm_slow", fields...)
	case z.config.LogLevel >= gormlogger.Info:
		lg.Debugw("gorm", fields...)
	}
}

// shortCaller trims a build path to the part starting at internal/, pkg/ or cmd/.
func shortCaller(s string) string {
	pathPart, linePart := s, ""
	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		pathPart, linePart = s[:idx], s[idx:]
	}
	p := strings.ReplaceAll(pathPart, `\`, "/")
	for _, marker := range []string{"/internal/", "/pkg/", "/cmd/"} {
		if i := strings.Index(p, marker); i >= 0 {
			return p[i+1:] + linePart
		}
	}
	if parts := strings.Split(p, "/"); len(parts) > 2 {
		return strings.Join(parts[len(parts)-2:], "/") + linePart
	}
	return strings.TrimPrefix(p, "/") + linePart
}
