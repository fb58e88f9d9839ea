package logging

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/rs/zerolog"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

// NewTracer returns a pgx tracer that reports driver activity at level
// through l. Zerolog loggers receive the trace data as fields; other
// loggers get it flattened into a Verbose line.
func NewTracer(l pgwarden.Logger, level tracelog.LogLevel) *tracelog.TraceLog {
	var sink tracelog.Logger
	if zl, ok := l.(*ZerologLogger); ok {
		sink = NewTraceLogger(zl.Zerolog())
	} else {
		sink = tracelog.LoggerFunc(func(_ context.Context, lvl tracelog.LogLevel, msg string, data map[string]any) {
			line := "pgx " + lvl.String() + ": " + msg + formatData(data)
			if lvl <= tracelog.LogLevelError {
				l.Error("%s", line)
				return
			}
			l.Verbose("%s", line)
		})
	}
	return &tracelog.TraceLog{Logger: sink, LogLevel: level}
}

// TraceLogger writes pgx trace records to zerolog.
type TraceLogger struct {
	logger zerolog.Logger
}

// NewTraceLogger tags records with module=pgx.
func NewTraceLogger(zl zerolog.Logger) *TraceLogger {
	return &TraceLogger{logger: zl.With().Str("module", "pgx").Logger()}
}

func (t *TraceLogger) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	var zlevel zerolog.Level
	switch level {
	case tracelog.LogLevelNone:
		zlevel = zerolog.NoLevel
	case tracelog.LogLevelError:
		zlevel = zerolog.ErrorLevel
	case tracelog.LogLevelWarn:
		zlevel = zerolog.WarnLevel
	case tracelog.LogLevelInfo:
		zlevel = zerolog.InfoLevel
	case tracelog.LogLevelTrace:
		zlevel = zerolog.TraceLevel
	default:
		zlevel = zerolog.DebugLevel
	}
	t.logger.WithLevel(zlevel).Fields(data).Msg(msg)
}

func formatData(data map[string]any) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, data[k])
	}
	return b.String()
}
