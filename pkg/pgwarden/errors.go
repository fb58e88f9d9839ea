package pgwarden

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure scenarios.
// These enable callers to distinguish error types using errors.Is().
//
// Example usage:
//
//	_, err := session.RunQuery(ctx, "UPDATE t SET x = $1", 1)
//	if errors.Is(err, pgwarden.ErrConnectionFailed) {
//	    // the server could not be reached at all
//	}
var (
	// ErrInvalidConfig indicates the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnsupportedAuthMethod indicates the requested authentication method is not supported.
	ErrUnsupportedAuthMethod = errors.New("unsupported authentication method")

	// ErrConnectionFailed indicates no handle could be obtained after all connect attempts.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrTransactionState indicates commit/rollback without an active
	// transaction, a nested begin, or a context switch inside a transaction.
	ErrTransactionState = errors.New("invalid transaction state")

	// ErrQueryFailed indicates a statement failed and was not recovered.
	ErrQueryFailed = errors.New("query failed")

	// ErrRetriesExhausted is returned when the retry loop ends without
	// capturing any failure. It guards an otherwise unreachable path.
	ErrRetriesExhausted = errors.New("unknown failure after retries")

	// ErrNotConnected indicates an operation needed a live handle.
	ErrNotConnected = errors.New("not connected")
)

// ConnectionError reports that every connect attempt failed.
type ConnectionError struct {
	Identity Identity
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s failed after %d attempt(s): %v", e.Identity, e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnectionFailed }

// QueryError wraps a classified driver failure that was not recovered.
type QueryError struct {
	Action   Action
	Code     string
	Attempts int
	Query    string
	Err      error
}

func (e *QueryError) Error() string {
	code := e.Code
	if code == "" {
		code = "none"
	}
	return fmt.Sprintf("query failed (%s, code %s, %d attempt(s)): %v", e.Action, code, e.Attempts, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

func (e *QueryError) Is(target error) bool { return target == ErrQueryFailed }

// TransactionStateError reports a transaction call made in the wrong state.
type TransactionStateError struct {
	Op     string
	Active bool
}

func (e *TransactionStateError) Error() string {
	if e.Active {
		return fmt.Sprintf("%s: transaction already active", e.Op)
	}
	return fmt.Sprintf("%s: no active transaction", e.Op)
}

func (e *TransactionStateError) Is(target error) bool { return target == ErrTransactionState }

// DriverError is a raw driver failure: a primary code and an optional
// wrapped original cause that may carry its own code.
type DriverError struct {
	Code    string
	Message string
	Cause   error
}

func (e *DriverError) Error() string {
	if e.Cause != nil && e.Message == "" {
		return fmt.Sprintf("[%s] %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DriverError) Unwrap() error { return e.Cause }

// Preview shortens a query for log lines and error messages.
func Preview(query string) string {
	query = strings.Join(strings.Fields(query), " ")
	if len(query) > MaxErrorPreviewLength {
		return query[:MaxErrorPreviewLength] + "..."
	}
	return query
}

// usageErrorPrefixes match the messages cobra and pflag produce for a
// malformed command line.
var usageErrorPrefixes = []string{
	"unknown flag",
	"unknown shorthand flag",
	"unknown command",
	"accepts ",
	"requires at least",
	"required flag",
	"invalid argument",
	"flag needs an argument",
}

// ExitCodeForError returns the appropriate exit code for an error.
// Returns ExitSuccess (0) for nil errors, semantic codes for known errors,
// and ExitGeneralError (1) for unclassified errors.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, ErrInvalidConfig):
		return ExitConfigError
	case errors.Is(err, ErrUnsupportedAuthMethod):
		return ExitConfigError
	case errors.Is(err, ErrConnectionFailed):
		return ExitConnectionError
	case errors.Is(err, ErrTransactionState):
		return ExitTransactionError
	case errors.Is(err, ErrQueryFailed), errors.Is(err, ErrRetriesExhausted):
		return ExitQueryFailed
	}

	errStr := err.Error()
	for _, prefix := range usageErrorPrefixes {
		if strings.HasPrefix(errStr, prefix) {
			return ExitUsageError
		}
	}
	if strings.Contains(errStr, "failed to connect") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") {
		return ExitConnectionError
	}

	return ExitGeneralError
}
