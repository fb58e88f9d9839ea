// Package dbtest provides an in-memory pgwarden.Driver for unit tests.
// Handles record every call and can be told to fail upcoming executions.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

// ErrClosed is returned by operations on a closed fake handle. Its text is
// the one pgx uses, so the default classifier treats it as a lost link.
var ErrClosed = errors.New("conn closed")

// PgError builds a server error with the given SQLSTATE.
func PgError(code string) error {
	return &pgconn.PgError{Code: code, Message: "fake " + code}
}

// Driver opens fake handles.
type Driver struct {
	mu sync.Mutex

	// Version is reported by handles opened from now on.
	Version string

	// OpenErrs are returned by the next Open calls, in order.
	OpenErrs []error

	handles []*Handle
	targets []*pgwarden.Target
	opens   int
}

func NewDriver() *Driver {
	return &Driver{Version: "16.2"}
}

func (d *Driver) Open(_ context.Context, t *pgwarden.Target) (pgwarden.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens++
	d.targets = append(d.targets, t)
	if len(d.OpenErrs) > 0 {
		err := d.OpenErrs[0]
		d.OpenErrs = d.OpenErrs[1:]
		return nil, err
	}
	h := &Handle{ID: len(d.handles) + 1, Version: d.Version}
	d.handles = append(d.handles, h)
	return h, nil
}

// Opens counts Open calls, failed ones included.
func (d *Driver) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Handles returns every successfully opened handle, oldest first.
func (d *Driver) Handles() []*Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Handle(nil), d.handles...)
}

// Last returns the most recently opened handle.
func (d *Driver) Last() *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.handles) == 0 {
		return nil
	}
	return d.handles[len(d.handles)-1]
}

// Targets returns the targets passed to Open.
func (d *Driver) Targets() []*pgwarden.Target {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*pgwarden.Target(nil), d.targets...)
}

// PrepareCall records one Prepare.
type PrepareCall struct {
	Name string
	SQL  string
	Mode pgwarden.PrepareMode
}

// Handle is a fake physical connection.
type Handle struct {
	ID      int
	Version string

	// Injected failures. ExecErrs are consumed one per Exec or Query.
	ExecErrs    []error
	PrepareErr  error
	BeginErr    error
	CommitErr   error
	RollbackErr error
	SchemaErr   error

	// Results.
	Rows     []map[string]any
	Affected int64
	LastID   any

	mu          sync.Mutex
	closed      bool
	inTx        bool
	schema      string
	calls       []string
	prepared    []PrepareCall
	deallocated []string
}

func (h *Handle) record(call string) {
	h.calls = append(h.calls, call)
}

func (h *Handle) Prepare(_ context.Context, name, sql string, mode pgwarden.PrepareMode) (pgwarden.Statement, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if h.PrepareErr != nil {
		return nil, h.PrepareErr
	}
	h.prepared = append(h.prepared, PrepareCall{Name: name, SQL: sql, Mode: mode})
	return &Statement{h: h, Name: name, SQL: sql, mode: mode}, nil
}

func (h *Handle) Begin(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.record("BEGIN")
	if h.BeginErr != nil {
		return h.BeginErr
	}
	h.inTx = true
	return nil
}

func (h *Handle) Commit(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("COMMIT")
	if h.closed {
		return ErrClosed
	}
	if h.CommitErr != nil {
		return h.CommitErr
	}
	h.inTx = false
	return nil
}

func (h *Handle) Rollback(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("ROLLBACK")
	h.inTx = false
	if h.closed {
		return ErrClosed
	}
	return h.RollbackErr
}

func (h *Handle) SetSchema(_ context.Context, schema string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.record("SET SCHEMA " + schema)
	if h.SchemaErr != nil {
		return h.SchemaErr
	}
	h.schema = schema
	return nil
}

func (h *Handle) LastInsertID(_ context.Context, sequence string) (any, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	h.record("LASTVAL " + sequence)
	return h.LastID, nil
}

func (h *Handle) ServerVersion() string {
	return h.Version
}

func (h *Handle) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) Close(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.inTx = false
	return nil
}

// Kill simulates the server dropping the link.
func (h *Handle) Kill() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

// InTx reports whether the fake server side has an open transaction.
func (h *Handle) InTx() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.inTx
}

// Schema returns the last schema set on the handle.
func (h *Handle) Schema() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.schema
}

// Calls returns the recorded calls, e.g. "BEGIN" or "EXEC <sql>".
func (h *Handle) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

// Prepared returns every Prepare call.
func (h *Handle) Prepared() []PrepareCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]PrepareCall(nil), h.prepared...)
}

// ServerPrepared returns the names of named server-side prepares.
func (h *Handle) ServerPrepared() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var names []string
	for _, p := range h.prepared {
		if p.Name != "" && p.Mode == pgwarden.PrepareServer {
			names = append(names, p.Name)
		}
	}
	return names
}

// Deallocated returns the names of closed server statements.
func (h *Handle) Deallocated() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.deallocated...)
}

// FailNext queues errs for the next executions.
func (h *Handle) FailNext(errs ...error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ExecErrs = append(h.ExecErrs, errs...)
}

func (h *Handle) execute(call string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.record(call)
	if len(h.ExecErrs) > 0 {
		err := h.ExecErrs[0]
		h.ExecErrs = h.ExecErrs[1:]
		return err
	}
	return nil
}

// Statement is a fake prepared statement.
type Statement struct {
	h    *Handle
	Name string
	SQL  string
	mode pgwarden.PrepareMode

	// Params holds the parameters of the last execution.
	Params []pgwarden.Param
}

func (s *Statement) Exec(_ context.Context, params []pgwarden.Param) (int64, error) {
	s.Params = params
	if err := s.h.execute("EXEC " + s.SQL); err != nil {
		return 0, err
	}
	return s.h.Affected, nil
}

func (s *Statement) Query(_ context.Context, params []pgwarden.Param) ([]map[string]any, error) {
	s.Params = params
	if err := s.h.execute("QUERY " + s.SQL); err != nil {
		return nil, err
	}
	return s.h.Rows, nil
}

func (s *Statement) Mode() pgwarden.PrepareMode {
	return s.mode
}

func (s *Statement) Close(context.Context) error {
	if s.Name == "" {
		return nil
	}
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	if s.h.closed {
		return ErrClosed
	}
	s.h.deallocated = append(s.h.deallocated, s.Name)
	return nil
}

func (s *Statement) String() string {
	return fmt.Sprintf("stmt(%q, %s)", s.Name, s.mode)
}

var (
	_ pgwarden.Driver    = (*Driver)(nil)
	_ pgwarden.Handle    = (*Handle)(nil)
	_ pgwarden.Statement = (*Statement)(nil)
)
