package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

// PostgreSQL error codes that drive recovery.
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgCodeNone = "00000"

	// Class 08 - Connection Exception
	pgCodeConnectionException                        = "08000"
	pgCodeSQLClientUnableToEstablishConnection       = "08001"
	pgCodeConnectionDoesNotExist                     = "08003"
	pgCodeSQLServerRejectedEstablishmentOfConnection = "08004"
	pgCodeConnectionFailure                          = "08006"

	// Class 25 - Invalid Transaction State
	pgCodeInFailedSQLTransaction = "25P02"

	// Class 40 - Transaction Rollback
	pgCodeSerializationFailure = "40001"
	pgCodeDeadlockDetected     = "40P01"

	// Class 55 - Object Not In Prerequisite State
	pgCodeLockNotAvailable = "55P03"

	// Class 57 - Operator Intervention
	pgCodeAdminShutdown    = "57P01"
	pgCodeCrashShutdown    = "57P02"
	pgCodeCannotConnectNow = "57P03"

	// Class XX - Internal Error
	pgCodeInternalError = "XX000"

	// LinkFailureCode is assigned to failures that carry no SQLSTATE but
	// show that the link to the server is gone.
	LinkFailureCode = pgCodeConnectionFailure
)

// Code sets consulted by Classify. They are package data so tests can
// enumerate them without a database.
var (
	// FatalCodes carry no usable error code.
	FatalCodes = codeSet("", pgCodeNone)

	// FatalClassPrefixes are SQLSTATE classes that never succeed on retry:
	// 42 is syntax error or access rule violation.
	FatalClassPrefixes = []string{"42"}

	// ReconnectCodes mean the server closed or reset the link, is not ready,
	// or failed in a way only a fresh session recovers from.
	ReconnectCodes = codeSet(
		pgCodeConnectionException,
		pgCodeSQLClientUnableToEstablishConnection,
		pgCodeConnectionDoesNotExist,
		pgCodeSQLServerRejectedEstablishmentOfConnection,
		pgCodeConnectionFailure,
		pgCodeAdminShutdown,
		pgCodeCrashShutdown,
		pgCodeCannotConnectNow,
		pgCodeInternalError,
	)

	// DelayCodes mean lock or deadlock contention.
	DelayCodes = codeSet(
		pgCodeDeadlockDetected,
		pgCodeSerializationFailure,
		pgCodeLockNotAvailable,
	)
)

func codeSet(codes ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[c] = struct{}{}
	}
	return set
}

// ClassifyCodes maps a primary code and the code of its wrapped cause onto
// an action. It is a pure function over the code sets above.
func ClassifyCodes(code, causeCode string) pgwarden.Action {
	if _, ok := FatalCodes[code]; ok && causeCode == "" {
		return pgwarden.ActionFatal
	}
	for _, prefix := range FatalClassPrefixes {
		if strings.HasPrefix(code, prefix) {
			return pgwarden.ActionFatal
		}
	}
	if _, ok := ReconnectCodes[code]; ok {
		return pgwarden.ActionReconnect
	}
	if _, ok := ReconnectCodes[causeCode]; ok {
		return pgwarden.ActionReconnect
	}
	if _, ok := DelayCodes[code]; ok {
		return pgwarden.ActionDelay
	}
	return pgwarden.ActionRetry
}

// PostgreSQLErrorClassifier implements pgwarden.ErrorClassifier for pgx errors.
type PostgreSQLErrorClassifier struct{}

// NewPostgreSQLErrorClassifier creates a new PostgreSQL error classifier.
func NewPostgreSQLErrorClassifier() *PostgreSQLErrorClassifier {
	return &PostgreSQLErrorClassifier{}
}

// Classify determines the recovery action for err.
func (c *PostgreSQLErrorClassifier) Classify(err error) pgwarden.Action {
	if err == nil {
		return pgwarden.ActionFatal
	}
	code, causeCode := c.Codes(err)
	return ClassifyCodes(code, causeCode)
}

// Code returns the primary code of err.
func (c *PostgreSQLErrorClassifier) Code(err error) string {
	code, causeCode := c.Codes(err)
	if code == "" {
		return causeCode
	}
	return code
}

// Codes extracts the primary code and the wrapped cause's code from err.
func (c *PostgreSQLErrorClassifier) Codes(err error) (code, causeCode string) {
	// The caller gave up; retrying would ignore that decision.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", ""
	}

	var driverErr *pgwarden.DriverError
	if errors.As(err, &driverErr) {
		code = driverErr.Code
		if driverErr.Cause != nil {
			causeCode = c.codeOf(driverErr.Cause)
		}
		return code, causeCode
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, ""
	}

	return "", c.codeOf(err)
}

// codeOf returns the SQLSTATE in err's chain, or LinkFailureCode when the
// chain shows a broken link.
func (c *PostgreSQLErrorClassifier) codeOf(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	if c.isNetworkError(err) || c.isConnectionError(err) {
		return LinkFailureCode
	}
	return ""
}

// isNetworkError checks for network-level errors.
func (c *PostgreSQLErrorClassifier) isNetworkError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() || dnsErr.Timeout()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH)
}

// isConnectionError checks for connection-related errors from pgconn that
// only surface as messages.
func (c *PostgreSQLErrorClassifier) isConnectionError(err error) bool {
	errMsg := strings.ToLower(err.Error())

	transientPatterns := []string{
		"conn closed",
		"conn busy",
		"connection refused",
		"connection reset",
		"connection failure",
		"broken pipe",
		"server closed the connection",
		"unexpected eof",
		"failed to connect",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errMsg, pattern) {
			return true
		}
	}

	return false
}

var _ pgwarden.ErrorClassifier = (*PostgreSQLErrorClassifier)(nil)
