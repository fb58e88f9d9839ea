package services

import (
	"context"

	"github.com/vvka-141/pgwarden/internal/retry"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

// StartTransaction switches to the session's schema, begins a transaction
// through the retry executor and marks the session active. Nested
// transactions are rejected.
func (s *Session) StartTransaction(ctx context.Context) error {
	if s.mgr.InTransaction() {
		err := &pgwarden.TransactionStateError{Op: "begin", Active: true}
		s.logger.Error("%v", err)
		return err
	}

	err := s.exec.Run(ctx, func(ctx context.Context) error {
		h := s.mgr.Handle()
		if h == nil {
			return pgwarden.ErrNotConnected
		}
		if schema := s.mgr.Schema(); schema != "" {
			if err := s.mgr.ApplySchema(ctx, schema); err != nil {
				return err
			}
		}
		return h.Begin(ctx)
	}, retry.WithQuery("BEGIN"))
	if err != nil {
		return err
	}

	s.mgr.SetInTransaction(true)
	return nil
}

// Commit commits the active transaction. When the commit fails a rollback
// is attempted, its own error is discarded, and the commit error returned.
// The session is idle afterwards either way.
func (s *Session) Commit(ctx context.Context) error {
	if !s.mgr.InTransaction() {
		err := &pgwarden.TransactionStateError{Op: "commit"}
		s.logger.Error("%v", err)
		return err
	}

	h := s.mgr.Handle()
	if h == nil {
		s.mgr.SetInTransaction(false)
		return s.fail("COMMIT", pgwarden.ErrNotConnected)
	}

	if err := h.Commit(ctx); err != nil {
		if rerr := h.Rollback(ctx); rerr != nil {
			s.logger.Verbose("rollback after failed commit: %v", rerr)
		}
		s.mgr.SetInTransaction(false)
		return s.fail("COMMIT", err)
	}

	s.mgr.SetInTransaction(false)
	return nil
}

// Rollback aborts the active transaction. The session is idle afterwards
// even when the rollback itself fails.
func (s *Session) Rollback(ctx context.Context) error {
	if !s.mgr.InTransaction() {
		err := &pgwarden.TransactionStateError{Op: "rollback"}
		s.logger.Error("%v", err)
		return err
	}

	h := s.mgr.Handle()
	s.mgr.SetInTransaction(false)
	if h == nil {
		return s.fail("ROLLBACK", pgwarden.ErrNotConnected)
	}
	if err := h.Rollback(ctx); err != nil {
		return s.fail("ROLLBACK", err)
	}
	return nil
}

// InTransaction reports whether a transaction is active.
func (s *Session) InTransaction() bool {
	return s.mgr.InTransaction()
}

func (s *Session) fail(query string, err error) error {
	action := s.classifier.Classify(err)
	code := s.classifier.Code(err)
	s.logger.Error("%s failed [%s] code=%s: %v", query, action, code, err)
	return &pgwarden.QueryError{Action: action, Code: code, Attempts: 1, Query: query, Err: err}
}
