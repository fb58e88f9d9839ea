package logging

import "github.com/vvka-141/pgwarden/pkg/pgwarden"

type prefixLogger struct {
	next   pgwarden.Logger
	prefix string
}

// WithPrefix returns a logger that starts every message with "[prefix] ".
// Zerolog loggers get the prefix as a "session" field instead.
func WithPrefix(l pgwarden.Logger, prefix string) pgwarden.Logger {
	if zl, ok := l.(*ZerologLogger); ok {
		return zl.With("session", prefix)
	}
	if _, ok := l.(*NullLogger); ok {
		return l
	}
	return &prefixLogger{next: l, prefix: "[" + prefix + "] "}
}

func (p *prefixLogger) Verbose(format string, args ...interface{}) {
	p.next.Verbose(p.prefix+format, args...)
}

func (p *prefixLogger) Info(format string, args ...interface{}) {
	p.next.Info(p.prefix+format, args...)
}

func (p *prefixLogger) Error(format string, args ...interface{}) {
	p.next.Error(p.prefix+format, args...)
}
