// Package logging provides concrete implementations of the pgwarden.Logger
// interface and the bridge from pgx query tracing onto them.
//
// Available implementations:
//   - ConsoleLogger: writes prefixed lines to stderr with thread-safe output
//   - ZerologLogger: structured JSON (or console) output through zerolog
//   - NullLogger: discards all messages (useful for testing)
//
// WithPrefix tags every line of a logger, e.g. with a session id.
// NewTracer turns a logger into a pgx QueryTracer for driver-level tracing.
//
// All logger implementations are safe for concurrent use by multiple goroutines.
package logging
