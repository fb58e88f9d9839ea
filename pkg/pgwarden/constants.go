package pgwarden

import "time"

// Exit codes for semantic error classification.
// These follow Unix/GNU conventions:
//   - 0: Success
//   - 1: General error
//   - 2: CLI usage error (misuse of command line)
//   - 3+: Application-specific errors
const (
	ExitSuccess          = 0  // Command completed successfully
	ExitGeneralError     = 1  // Unknown or unclassified error
	ExitUsageError       = 2  // CLI usage error (missing args, invalid flags)
	ExitPanic            = 3  // Internal panic (unexpected crash)
	ExitConfigError      = 10 // Invalid configuration
	ExitConnectionError  = 11 // Failed to connect to database
	ExitTransactionError = 12 // Transaction bracketing misuse
	ExitQueryFailed      = 13 // Statement failed after retries
)

const (
	DefaultHost     = "localhost"
	DefaultPort     = 5432
	DefaultDatabase = "postgres"
	DefaultSSLMode  = "prefer"

	// DefaultConnectRetries is the number of physical connect attempts.
	DefaultConnectRetries = 3

	// DefaultRetries is the retry budget of one operation.
	DefaultRetries = 2

	// DefaultDelayedPrepares is the number of emulated executions before
	// a query is prepared on the server.
	DefaultDelayedPrepares = 1

	// DefaultMaxPreparedStatements caps the statement cache per identity.
	DefaultMaxPreparedStatements = 10

	// DefaultConnectionRecycleTime renews connections older than this.
	DefaultConnectionRecycleTime = 900 * time.Second

	// DefaultConnectTimeout bounds a physical connect.
	DefaultConnectTimeout = 5 * time.Second

	// NativePrepareMinVersion is the lowest server version that gets
	// server-side prepares when EmulatePrepares is not configured.
	NativePrepareMinVersion = "10.0.0"

	// MaxTrackedQueries bounds the delayed-prepare counters kept per identity.
	MaxTrackedQueries = 4096

	// MaxErrorPreviewLength is the maximum number of query characters
	// shown in log lines and error messages.
	MaxErrorPreviewLength = 200
)

// Backoff windows. Both are uniformly random within [min, max].
const (
	ConnectJitterMin = 1 * time.Millisecond
	ConnectJitterMax = 5 * time.Millisecond

	DelayJitterMin = 100 * time.Microsecond
	DelayJitterMax = 3 * time.Millisecond
)
