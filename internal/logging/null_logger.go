package logging

import "github.com/vvka-141/pgwarden/pkg/pgwarden"

var (
	_ pgwarden.Logger = (*ConsoleLogger)(nil)
	_ pgwarden.Logger = (*ZerologLogger)(nil)
	_ pgwarden.Logger = (*NullLogger)(nil)
)

// NullLogger discards every message. Components fall back to it when
// constructed without a logger.
type NullLogger struct{}

// NewNullLogger creates a new NullLogger.
func NewNullLogger() *NullLogger {
	return &NullLogger{}
}

func (l *NullLogger) Verbose(string, ...interface{}) {}

func (l *NullLogger) Info(string, ...interface{}) {}

func (l *NullLogger) Error(string, ...interface{}) {}
