package core

import (
	"sync/atomic"
	"time"
)

// LogBridge turns runtime log lines into Logger calls.
//
// Category mapping: Error -> Error, Progress -> Info, Detail and Automation
// -> Debug. Lines with category None are dropped.
type LogBridge struct {
	logger atomic.Pointer[loggerBox]
	prefix string
}

type loggerBox struct{ Logger }

// NewLogBridge creates a bridge writing to logger. A non-empty prefix is
// prepended to every module name ("<prefix>:<module>").
func NewLogBridge(logger Logger, prefix string) *LogBridge {
	b := &LogBridge{prefix: prefix}
	b.SetLogger(logger)
	return b
}

// SetLogger swaps the destination. nil routes lines to the default logger.
func (b *LogBridge) SetLogger(logger Logger) {
	if logger == nil {
		logger = NewDefaultLogger()
	}
	b.logger.Store(&loggerBox{logger})
}

// Func returns the LogFunc to install on a runtime.
func (b *LogBridge) Func() LogFunc {
	return b.Log
}

// Log handles one runtime log line.
func (b *LogBridge) Log(ts time.Time, module string, category LogCategory, message string) {
	if category == LogCategoryNone {
		return
	}
	if b.prefix != "" {
		module = b.prefix + ":" + module
	}

	logger := b.logger.Load().Logger
	msg := module + ": " + message
	fields := []Field{
		F("module", module),
		F("category", category.String()),
		F("ts", ts.Format(time.RFC3339Nano)),
	}

	switch category {
	case LogCategoryError:
		logger.Error(msg, fields...)
	case LogCategoryProgress:
		logger.Info(msg, fields...)
	default:
		logger.Debug(msg, fields...)
	}
}
