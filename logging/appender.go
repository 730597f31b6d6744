package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
)

// DefaultTimeFormatStr is the time format used by appenders that format entries themselves.
const DefaultTimeFormatStr = "2006-01-02T15:04:05.000Z0700"

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface, so any
// zap core (e.g. an observer core in tests) can be added as an appender.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed. E.g: at shutdown.
	Sync() error
}

// NewStdoutAppender returns an appender that writes console formatted entries to stdout. The
// level filtering is done by the logger, so the core accepts everything.
func NewStdoutAppender() Appender {
	return NewWriterAppender(os.Stdout)
}

// NewWriterAppender returns an appender that writes console formatted entries to the given sink.
func NewWriterAppender(w zapcore.WriteSyncer) Appender {
	encoder := zapcore.NewConsoleEncoder(NewZapLoggerConfig().EncoderConfig)
	return zapcore.NewCore(encoder, zapcore.Lock(w), zapcore.DebugLevel)
}

// callerToString formats a caller as "dir/file.go:line", the same shape zap's short caller
// encoder produces.
func callerToString(caller *zapcore.EntryCaller) string {
	return fmt.Sprintf("%s:%d", filepath.Join(filepath.Base(filepath.Dir(caller.File)), filepath.Base(caller.File)),
		caller.Line)
}
