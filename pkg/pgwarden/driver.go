package pgwarden

import (
	"context"
	"time"
)

// Target is a fully resolved connect request handed to a Driver.
type Target struct {
	Identity Identity

	Host     string
	Port     int
	Address  string
	Username string
	Password string
	Database string
	SSLMode  string

	// Options is the user option map already merged over the defaults.
	Options map[string]string

	Persistent     bool
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Driver opens physical connections.
type Driver interface {
	// Open establishes a new physical connection to the target.
	Open(ctx context.Context, target *Target) (Handle, error)
}

// PrepareMode selects how a statement is prepared.
type PrepareMode int

const (
	// PrepareServer parses the statement on the server.
	PrepareServer PrepareMode = iota
	// PrepareEmulated substitutes parameters client-side without a server parse.
	PrepareEmulated
)

func (m PrepareMode) String() string {
	if m == PrepareEmulated {
		return "emulated"
	}
	return "server"
}

// Handle is a low-level physical connection.
//
// Thread-Safety: a Handle is NOT safe for concurrent use. The registry
// guarantees it is leased to one connection manager at a time.
type Handle interface {
	// Prepare returns an executable statement. An empty name yields a
	// one-off statement that is never kept on the server.
	Prepare(ctx context.Context, name, sql string, mode PrepareMode) (Statement, error)

	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// SetSchema switches the active schema context.
	SetSchema(ctx context.Context, schema string) error

	// LastInsertID returns the last value produced by a sequence; an empty
	// name means the most recently used sequence of this session.
	LastInsertID(ctx context.Context, sequence string) (any, error)

	// ServerVersion returns the version string reported by the server.
	ServerVersion() string

	IsClosed() bool
	Close(ctx context.Context) error
}

// Statement is an executable, possibly server-prepared, query.
type Statement interface {
	// Exec runs the statement and returns the affected row count.
	Exec(ctx context.Context, params []Param) (int64, error)

	// Query runs the statement and returns rows in driver order.
	Query(ctx context.Context, params []Param) ([]map[string]any, error)

	// Mode reports how the statement was prepared.
	Mode() PrepareMode

	// Close releases server resources. Safe to call on one-off statements.
	Close(ctx context.Context) error
}
