package pgwarden

import "context"

// ErrorClassifier maps a raw driver failure onto a recovery action.
type ErrorClassifier interface {
	// Classify returns the action to take after err.
	Classify(err error) Action

	// Code returns the primary error code carried by err, if any.
	Code(err error) string
}

// Lifecycle is the part of a connection manager the retry executor drives.
type Lifecycle interface {
	// RecycleIfRequired connects or renews an aged connection before an operation.
	RecycleIfRequired(ctx context.Context) error

	// Reconnect replaces the physical link.
	Reconnect(ctx context.Context) error

	// InTransaction reports whether a transaction is open.
	InTransaction() bool
}
