package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

// errNoTransaction is returned by a handle asked to end a transaction it
// never started. The session guard normally rejects such calls earlier.
var errNoTransaction = errors.New("no transaction open on handle")

// pgxHandle is a pgwarden.Handle over a single *pgx.Conn.
type pgxHandle struct {
	conn *pgx.Conn
	tx   pgx.Tx
}

func newHandle(conn *pgx.Conn) *pgxHandle {
	return &pgxHandle{conn: conn}
}

// Prepare returns a statement for sql. Emulated statements interpolate
// parameters client-side (simple protocol). A named server statement is
// parsed once and executed by name; an unnamed one is described and
// executed per call without being kept on the server.
func (h *pgxHandle) Prepare(ctx context.Context, name, sql string, mode pgwarden.PrepareMode) (pgwarden.Statement, error) {
	switch {
	case mode == pgwarden.PrepareEmulated:
		return &pgxStatement{conn: h.conn, sql: sql, execMode: pgx.QueryExecModeSimpleProtocol, mode: mode}, nil
	case name == "":
		return &pgxStatement{conn: h.conn, sql: sql, execMode: pgx.QueryExecModeDescribeExec, mode: mode}, nil
	}

	sd, err := h.conn.Prepare(ctx, name, sql)
	if err != nil {
		return nil, err
	}
	return &pgxStatement{conn: h.conn, sql: sql, name: sd.Name, mode: mode}, nil
}

func (h *pgxHandle) Begin(ctx context.Context) error {
	if h.tx != nil {
		return fmt.Errorf("begin: transaction already open on handle")
	}
	tx, err := h.conn.Begin(ctx)
	if err != nil {
		return err
	}
	h.tx = tx
	return nil
}

// Commit commits the open transaction. On failure the transaction stays
// attached so a following Rollback can clean up.
func (h *pgxHandle) Commit(ctx context.Context) error {
	if h.tx == nil {
		return errNoTransaction
	}
	if err := h.tx.Commit(ctx); err != nil {
		return err
	}
	h.tx = nil
	return nil
}

func (h *pgxHandle) Rollback(ctx context.Context) error {
	if h.tx == nil {
		return errNoTransaction
	}
	err := h.tx.Rollback(ctx)
	h.tx = nil
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

func (h *pgxHandle) SetSchema(ctx context.Context, schema string) error {
	_, err := h.conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
	return err
}

func (h *pgxHandle) LastInsertID(ctx context.Context, sequence string) (any, error) {
	var id any
	var err error
	if sequence == "" {
		err = h.conn.QueryRow(ctx, "SELECT lastval()").Scan(&id)
	} else {
		err = h.conn.QueryRow(ctx, "SELECT currval($1::regclass)", sequence).Scan(&id)
	}
	if err != nil {
		return nil, err
	}
	return id, nil
}

func (h *pgxHandle) ServerVersion() string {
	return h.conn.PgConn().ParameterStatus("server_version")
}

func (h *pgxHandle) IsClosed() bool {
	return h.conn.IsClosed()
}

func (h *pgxHandle) Close(ctx context.Context) error {
	h.tx = nil
	return h.conn.Close(ctx)
}

// pgxStatement executes a query on one connection, either by server
// statement name or by SQL text with an explicit exec mode.
type pgxStatement struct {
	conn     *pgx.Conn
	sql      string
	name     string
	execMode pgx.QueryExecMode
	mode     pgwarden.PrepareMode
}

func (s *pgxStatement) Exec(ctx context.Context, params []pgwarden.Param) (int64, error) {
	tag, err := s.conn.Exec(ctx, s.target(), s.args(params)...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *pgxStatement) Query(ctx context.Context, params []pgwarden.Param) ([]map[string]any, error) {
	rows, err := s.conn.Query(ctx, s.target(), s.args(params)...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToMap)
}

func (s *pgxStatement) Mode() pgwarden.PrepareMode {
	return s.mode
}

// Close deallocates a named server statement. One-off statements hold no
// server resources.
func (s *pgxStatement) Close(ctx context.Context) error {
	if s.name == "" || s.conn.IsClosed() {
		return nil
	}
	return s.conn.Deallocate(ctx, s.name)
}

func (s *pgxStatement) target() string {
	if s.name != "" {
		return s.name
	}
	return s.sql
}

func (s *pgxStatement) args(params []pgwarden.Param) []any {
	args := make([]any, 0, len(params)+1)
	if s.name == "" {
		args = append(args, s.execMode)
	}
	for _, p := range params {
		switch p.Type {
		case pgwarden.ParamNull:
			args = append(args, nil)
		case pgwarden.ParamInt:
			// pgx sends strings in text format, which the server coerces
			// to the parameter's type; 1 and 0 are valid boolean input.
			args = append(args, intText(p.Value))
		default:
			args = append(args, p.Value)
		}
	}
	return args
}

func intText(v any) any {
	switch n := v.(type) {
	case int64:
		return strconv.FormatInt(n, 10)
	case int:
		return strconv.Itoa(n)
	}
	return v
}
