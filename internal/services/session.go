package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/tracelog"
	"github.com/vvka-141/pgwarden/internal/binding"
	"github.com/vvka-141/pgwarden/internal/db"
	"github.com/vvka-141/pgwarden/internal/db/manager"
	"github.com/vvka-141/pgwarden/internal/logging"
	"github.com/vvka-141/pgwarden/internal/retry"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

// Session runs statements for one logical caller.
type Session struct {
	mgr        *manager.Manager
	exec       *retry.Executor
	classifier pgwarden.ErrorClassifier
	logger     pgwarden.Logger

	// closer releases resources owned by the session beyond its handle.
	closer func() error
}

// SessionOption configures a Session.
type SessionOption func(*sessionOptions)

type sessionOptions struct {
	classifier pgwarden.ErrorClassifier
	jitter     []retry.JitterOption
	onRetry    func(attempt int, err error, action pgwarden.Action)
}

// WithClassifier replaces the PostgreSQL error classifier.
func WithClassifier(c pgwarden.ErrorClassifier) SessionOption {
	return func(o *sessionOptions) {
		o.classifier = c
	}
}

// WithDelayJitter customises the lock-contention backoff.
func WithDelayJitter(opts ...retry.JitterOption) SessionOption {
	return func(o *sessionOptions) {
		o.jitter = opts
	}
}

// WithRetryObserver is called before every retried attempt.
func WithRetryObserver(fn func(attempt int, err error, action pgwarden.Action)) SessionOption {
	return func(o *sessionOptions) {
		o.onRetry = fn
	}
}

// NewSession creates a Session over mgr.
// Panics if mgr or logger is nil.
func NewSession(mgr *manager.Manager, logger pgwarden.Logger, opts ...SessionOption) *Session {
	if mgr == nil {
		panic("manager cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}

	o := sessionOptions{classifier: retry.NewPostgreSQLErrorClassifier()}
	for _, opt := range opts {
		opt(&o)
	}

	logger = logging.WithPrefix(logger, shortID(mgr.ID()))
	exec := retry.NewExecutor(o.classifier, mgr, mgr.Config().Retries, logger, o.jitter...)
	if o.onRetry != nil {
		exec = exec.WithOnRetry(o.onRetry)
	}

	return &Session{
		mgr:        mgr,
		exec:       exec,
		classifier: o.classifier,
		logger:     logger,
	}
}

// Open builds the driver for cfg's auth method, a manager and a Session.
// Closing the Session also releases the driver.
func Open(ctx context.Context, cfg *pgwarden.Config, logger pgwarden.Logger, opts ...manager.Option) (*Session, error) {
	if logger == nil {
		logger = logging.NewNullLogger()
	}
	driver, err := db.NewDriverForConfig(ctx, cfg, logger, db.WithTracer(logging.NewTracer(logger, tracelog.LogLevelDebug)))
	if err != nil {
		return nil, err
	}
	mgr, err := manager.New(cfg, driver, append([]manager.Option{manager.WithLogger(logger)}, opts...)...)
	if err != nil {
		_ = driver.Close()
		return nil, err
	}
	s := NewSession(mgr, logger)
	s.closer = driver.Close
	return s, nil
}

// RunQuery executes query and returns the affected row count.
func (s *Session) RunQuery(ctx context.Context, query string, values ...any) (int64, error) {
	params := binding.Bind(values)
	var affected int64
	err := s.run(ctx, query, func(ctx context.Context, stmt pgwarden.Statement) error {
		n, err := stmt.Exec(ctx, params)
		if err != nil {
			return err
		}
		affected = n
		return nil
	})
	return affected, err
}

// FetchQueryResults executes query and returns its rows in driver order.
func (s *Session) FetchQueryResults(ctx context.Context, query string, values ...any) ([]map[string]any, error) {
	params := binding.Bind(values)
	var rows []map[string]any
	err := s.run(ctx, query, func(ctx context.Context, stmt pgwarden.Statement) error {
		r, err := stmt.Query(ctx, params)
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	return rows, err
}

// run executes fn against a statement for query obtained from the cache.
// A failed attempt evicts the cached statement before classification.
func (s *Session) run(ctx context.Context, query string, fn func(context.Context, pgwarden.Statement) error) error {
	cache := s.mgr.Cache()
	var (
		key  string
		used pgwarden.Handle
	)

	op := func(ctx context.Context) error {
		h := s.mgr.Handle()
		if h == nil {
			return pgwarden.ErrNotConnected
		}
		used = h
		stmt, k, err := cache.Get(ctx, s.mgr.Identity(), h, query, s.mgr.Policy())
		key = k
		if err != nil {
			return err
		}
		return fn(ctx, stmt)
	}
	evict := func(error) {
		if key != "" {
			cache.Evict(ctx, s.mgr.Identity(), used, key)
		}
	}

	return s.exec.Run(ctx, op, retry.WithFailureHook(evict), retry.WithQuery(query))
}

// LastInsertID returns the value most recently produced by sequence, or by
// any sequence in this session when sequence is empty.
func (s *Session) LastInsertID(ctx context.Context, sequence string) (any, error) {
	var id any
	err := s.exec.Run(ctx, func(ctx context.Context) error {
		h := s.mgr.Handle()
		if h == nil {
			return pgwarden.ErrNotConnected
		}
		v, err := h.LastInsertID(ctx, sequence)
		if err != nil {
			return err
		}
		id = v
		return nil
	}, retry.WithQuery("last insert id "+sequence))
	return id, err
}

// SwitchSchema changes the active schema for this and future connections.
func (s *Session) SwitchSchema(ctx context.Context, schema string) error {
	if s.mgr.InTransaction() {
		err := &pgwarden.TransactionStateError{Op: "switch schema", Active: true}
		s.logger.Error("%v", err)
		return err
	}
	return s.exec.Run(ctx, func(ctx context.Context) error {
		return s.mgr.ApplySchema(ctx, schema)
	}, retry.WithQuery("SET search_path TO "+schema))
}

// Ping connects if needed and round-trips a trivial statement.
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.FetchQueryResults(ctx, "SELECT 1")
	return err
}

// Manager exposes the underlying connection manager.
func (s *Session) Manager() *manager.Manager {
	return s.mgr
}

// Close gives the handle back to the registry and releases resources the
// session owns. A transaction left open is discarded with the link.
func (s *Session) Close(ctx context.Context) error {
	if s.mgr.InTransaction() {
		s.logger.Info("closing session with an open transaction, it will be rolled back")
	}
	err := s.mgr.Disconnect(ctx)
	if s.closer != nil {
		err = errors.Join(err, s.closer())
		s.closer = nil
	}
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

var _ pgwarden.Session = (*Session)(nil)
