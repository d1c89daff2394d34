package gxgbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// loggerNameKey is the slog attribute key used to identify the
// component a logger belongs to
const loggerNameKey = "logger"

// logTailCapacity is the number of recent log lines retained in
// memory for the owner `logs` command
const logTailCapacity = 200

// logTail retains the most recent log lines written through it.
// It sits behind an uncolored handler so the stored lines are plain
// text.
type logTail struct {
	mu       sync.Mutex
	lines    []string
	capacity int
}

func newLogTail(capacity int) *logTail {
	if capacity <= 0 {
		capacity = logTailCapacity
	}
	return &logTail{capacity: capacity}
}

func (lt *logTail) Write(p []byte) (int, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for _, line := range strings.Split(string(p), "\n") {
		if line == "" {
			continue
		}
		lt.lines = append(lt.lines, line)
	}
	if len(lt.lines) > lt.capacity {
		lt.lines = lt.lines[len(lt.lines)-lt.capacity:]
	}
	return len(p), nil
}

// Tail returns up to n of the most recent log lines, oldest first
func (lt *logTail) Tail(n int) []string {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if n <= 0 || n > len(lt.lines) {
		n = len(lt.lines)
	}
	tail := make([]string, n)
	copy(tail, lt.lines[len(lt.lines)-n:])
	return tail
}

// multiHandler fans records out to several handlers, so the same log
// stream can feed both stdout and the in-memory tail
type multiHandler struct {
	handlers []slog.Handler
}

func newMultiHandler(handlers ...slog.Handler) multiHandler {
	return multiHandler{handlers: handlers}
}

func (m multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return multiHandler{handlers: handlers}
}

func (m multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return multiHandler{handlers: handlers}
}

// discordGoLogLevels maps discordgo log levels to slog levels
var discordGoLogLevels = map[int]slog.Level{
	discordgo.LogError:         slog.LevelError,
	discordgo.LogWarning:       slog.LevelWarn,
	discordgo.LogInformational: slog.LevelInfo,
	discordgo.LogDebug:         slog.LevelDebug,
}

// discordgoLoggerFunc returns a function for use as [discordgo.Logger],
// bridging discordgo's printf-style logging into the given slog handler.
func discordgoLoggerFunc(
	ctx context.Context,
	handler slog.Handler,
) func(msgL int, caller int, format string, a ...interface{}) {
	logger := slog.New(handler).With(loggerNameKey, "discordgo")
	return func(msgL int, _ int, format string, a ...interface{}) {
		level, ok := discordGoLogLevels[msgL]
		if !ok {
			level = slog.LevelInfo
		}
		logger.LogAttrs(
			ctx,
			level,
			fmt.Sprintf(format, a...),
		)
	}
}

// gormStructuredLogger implements [gormLogger.Interface] on top of
// slog, so GORM's logs land in the same place and format as
// everything else.
type gormStructuredLogger struct {
	logger        *slog.Logger
	slowThreshold time.Duration
}

func newGORMLogger(
	handler slog.Handler,
	slowThreshold time.Duration,
) *gormStructuredLogger {
	if slowThreshold <= 0 {
		slowThreshold = 200 * time.Millisecond
	}
	return &gormStructuredLogger{
		logger:        slog.New(handler).With(loggerNameKey, "gorm"),
		slowThreshold: slowThreshold,
	}
}

func (g *gormStructuredLogger) LogMode(
	gormLogger.LogLevel,
) gormLogger.Interface {
	return g
}

func (g *gormStructuredLogger) Info(
	ctx context.Context,
	msg string,
	data ...any,
) {
	g.logger.InfoContext(ctx, fmt.Sprintf(msg, data...))
}

func (g *gormStructuredLogger) Warn(
	ctx context.Context,
	msg string,
	data ...any,
) {
	g.logger.WarnContext(ctx, fmt.Sprintf(msg, data...))
}

func (g *gormStructuredLogger) Error(
	ctx context.Context,
	msg string,
	data ...any,
) {
	g.logger.ErrorContext(ctx, fmt.Sprintf(msg, data...))
}

func (g *gormStructuredLogger) Trace(
	ctx context.Context,
	begin time.Time,
	fc func() (sql string, rowsAffected int64),
	err error,
) {
	elapsed := time.Since(begin)
	sql, rows := fc()

	attrs := []slog.Attr{
		slog.Duration("elapsed", elapsed),
		slog.Int64("rows", rows),
		slog.String("sql", sql),
	}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		attrs = append(attrs, tint.Err(err))
		g.logger.LogAttrs(ctx, slog.LevelError, "query error", attrs...)
	case elapsed >= g.slowThreshold:
		g.logger.LogAttrs(ctx, slog.LevelWarn, "slow query", attrs...)
	default:
		g.logger.LogAttrs(ctx, slog.LevelDebug, "query", attrs...)
	}
}
