// Package log provides the logging interface for the taskforge SDK.
//
// The SDK accepts any implementation of [Logger]. Use [Noop] to disable
// logging (this is the default when no logger is configured).
//
// Task lifecycle events are logged with a task-id value, so a structured logger
// can correlate every transition of a task:
//
//	type myLogger struct{ attrs []any }
//
//	func (l myLogger) Infof(format string, args ...any) { slog.Info(fmt.Sprintf(format, args...), l.attrs...) }
//	func (l myLogger) WithValues(kv log.Kv) log.Logger  { ... }
//	// ... remaining methods
package log

import "github.com/slok/taskforge/internal/log"

// Logger is the interface that loggers must implement for the SDK.
type Logger = log.Logger

// Kv is a helper type for structured logging key-value pairs.
type Kv = log.Kv

// Noop is a logger that discards all log output. This is the default logger
// when none is provided in [lib.Config].
var Noop = log.Noop
