package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// gormLogger 把 gorm 的日志转到 zap。
// 慢查询记 warn，出错的语句记 error（记录不存在除外），其余语句只在 debug 级别输出。
type gormLogger struct {
	l     *zap.Logger
	level gormlogger.LogLevel
	slow  time.Duration
}

func newGormLogger(l *zap.Logger, slow time.Duration) *gormLogger {
	return &gormLogger{
		l:     l.WithOptions(zap.AddCallerSkip(3)).With(zap.String("component", "gorm")),
		level: gormlogger.Warn,
		slow:  slow,
	}
}

func (g *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *gormLogger) Info(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Info {
		g.l.Info(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Warn(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Warn {
		g.l.Warn(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Error(_ context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Error {
		g.l.Error(fmt.Sprintf(msg, args...))
	}
}

func (g *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.level >= gormlogger.Error:
		sql, rows := fc()
		g.l.Error("sql failed", zap.Error(err), zap.Duration("elapsed", elapsed), zap.String("sql", sql), zap.Int64("rows", rows))
	case g.slow > 0 && elapsed > g.slow && g.level >= gormlogger.Warn:
		sql, rows := fc()
		g.l.Warn("slow sql", zap.Duration("elapsed", elapsed), zap.Duration("threshold", g.slow), zap.String("sql", sql), zap.Int64("rows", rows))
	case g.level >= gormlogger.Info || g.l.Core().Enabled(zap.DebugLevel):
		sql, rows := fc()
		g.l.Debug("sql", zap.Duration("elapsed", elapsed), zap.String("sql", sql), zap.Int64("rows", rows))
	}
}
