package logging

import (
	"context"
	"log/slog"

	"go.uber.org/zap"

	"github.com/Swind/go-runtime-bridge/core"
)

// ZapLogger adapts a *zap.Logger to core.Logger.
type ZapLogger struct {
	l *zap.Logger
}

var _ core.Logger = (*ZapLogger)(nil)

// NewZapLogger wraps l. A nil l yields a no-op logger.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	// skip the adapter frame so callers show up in the caller field
	return &ZapLogger{l: l.WithOptions(zap.AddCallerSkip(1))}
}

// Zap returns the underlying logger.
func (z *ZapLogger) Zap() *zap.Logger { return z.l }

func (z *ZapLogger) Debug(msg string, fields ...core.Field) { z.l.Debug(msg, zapFields(fields)...) }
func (z *ZapLogger) Info(msg string, fields ...core.Field)  { z.l.Info(msg, zapFields(fields)...) }
func (z *ZapLogger) Warn(msg string, fields ...core.Field)  { z.l.Warn(msg, zapFields(fields)...) }
func (z *ZapLogger) Error(msg string, fields ...core.Field) { z.l.Error(msg, zapFields(fields)...) }

func zapFields(fields []core.Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, len(fields))
	for i, f := range fields {
		if err, ok := f.Value.(error); ok && f.Key == "error" {
			out[i] = zap.Error(err)
			continue
		}
		out[i] = zap.Any(f.Key, f.Value)
	}
	return out
}

// SlogLogger adapts a *slog.Logger to core.Logger.
type SlogLogger struct {
	l *slog.Logger
}

var _ core.Logger = (*SlogLogger)(nil)

// NewSlogLogger wraps l; nil selects slog.Default().
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(msg string, fields ...core.Field) { s.log(slog.LevelDebug, msg, fields) }
func (s *SlogLogger) Info(msg string, fields ...core.Field)  { s.log(slog.LevelInfo, msg, fields) }
func (s *SlogLogger) Warn(msg string, fields ...core.Field)  { s.log(slog.LevelWarn, msg, fields) }
func (s *SlogLogger) Error(msg string, fields ...core.Field) { s.log(slog.LevelError, msg, fields) }

func (s *SlogLogger) log(level slog.Level, msg string, fields []core.Field) {
	ctx := context.Background()
	if !s.l.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, len(fields))
	for i, f := range fields {
		attrs[i] = slog.Any(f.Key, f.Value)
	}
	s.l.LogAttrs(ctx, level, msg, attrs...)
}
