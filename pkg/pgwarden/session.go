package pgwarden

import "context"

// Session is the contract the object-mapping and query-building layers
// consume. Every call runs with connect/recycle, retry and statement caching.
//
// Thread-Safety: a Session is sequential. Use one Session per goroutine;
// sessions for the same target still share handles and prepared statements.
type Session interface {
	// RunQuery executes a statement and returns the affected row count.
	RunQuery(ctx context.Context, query string, values ...any) (int64, error)

	// FetchQueryResults executes a statement and returns its rows as
	// column-name mappings in driver order.
	FetchQueryResults(ctx context.Context, query string, values ...any) ([]map[string]any, error)

	StartTransaction(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	InTransaction() bool

	// LastInsertID returns the last generated identifier. An empty sequence
	// name uses the most recently advanced sequence.
	LastInsertID(ctx context.Context, sequence string) (any, error)

	// SwitchSchema changes the active schema; rejected inside a transaction.
	SwitchSchema(ctx context.Context, schema string) error

	// Close releases the session's handle back to the registry.
	Close(ctx context.Context) error
}
