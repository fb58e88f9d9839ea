package logging

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// ZerologLogger emits structured records through zerolog. Verbose maps to
// debug level and is dropped unless verbose mode is on.
type ZerologLogger struct {
	zl zerolog.Logger
}

// NewZerologLogger creates a logger writing JSON records with timestamps to w.
func NewZerologLogger(w io.Writer, verbose bool) *ZerologLogger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &ZerologLogger{zl: zl}
}

// FromZerolog wraps an already configured zerolog.Logger.
func FromZerolog(zl zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{zl: zl}
}

func (l *ZerologLogger) Verbose(format string, args ...interface{}) {
	l.zl.Debug().Msg(render(format, args))
}

func (l *ZerologLogger) Info(format string, args ...interface{}) {
	l.zl.Info().Msg(render(format, args))
}

func (l *ZerologLogger) Error(format string, args ...interface{}) {
	l.zl.Error().Msg(render(format, args))
}

// With returns a logger that adds key=value to every record.
func (l *ZerologLogger) With(key, value string) *ZerologLogger {
	return &ZerologLogger{zl: l.zl.With().Str(key, value).Logger()}
}

// Zerolog exposes the underlying logger.
func (l *ZerologLogger) Zerolog() zerolog.Logger {
	return l.zl
}

func render(format string, args []interface{}) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
