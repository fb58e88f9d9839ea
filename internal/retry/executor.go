package retry

import (
	"context"
	"fmt"

	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

// Operation is one attempt of a retried call.
type Operation func(ctx context.Context) error

// Executor runs operations against a connection, recovering from
// transient driver failures.
//
// Thread Safety:
// An Executor is bound to one connection lifecycle and inherits its
// sequential contract. WithOnRetry returns a NEW instance; the original
// Executor remains unchanged.
type Executor struct {
	classifier pgwarden.ErrorClassifier
	lifecycle  pgwarden.Lifecycle
	delay      *Jitter
	retries    int
	logger     pgwarden.Logger
	onRetry    func(attempt int, err error, action pgwarden.Action)
}

// NewExecutor creates a new retry executor.
// retries is the default budget used when Run is not given one.
// Panics if classifier, lifecycle or logger is nil.
func NewExecutor(
	classifier pgwarden.ErrorClassifier,
	lifecycle pgwarden.Lifecycle,
	retries int,
	logger pgwarden.Logger,
	opts ...JitterOption,
) *Executor {
	if classifier == nil {
		panic("classifier cannot be nil")
	}
	if lifecycle == nil {
		panic("lifecycle cannot be nil")
	}
	if logger == nil {
		panic("logger cannot be nil")
	}
	return &Executor{
		classifier: classifier,
		lifecycle:  lifecycle,
		delay:      NewJitter(pgwarden.DelayJitterMin, pgwarden.DelayJitterMax, opts...),
		retries:    retries,
		logger:     logger,
	}
}

// WithOnRetry returns a new Executor with the specified retry callback.
// The callback fires after recovery for a failed attempt and before the
// next attempt runs.
//
// This method does NOT modify the receiver; it returns a new instance.
func (e *Executor) WithOnRetry(callback func(attempt int, err error, action pgwarden.Action)) *Executor {
	clone := *e
	clone.onRetry = callback
	return &clone
}

// Retries returns the default retry budget.
func (e *Executor) Retries() int {
	return e.retries
}

type runConfig struct {
	budget      int
	failureHook func(err error)
	query       string
}

// RunOption customises one Run call.
type RunOption func(*runConfig)

// WithRetryBudget overrides the default retry budget for one call.
func WithRetryBudget(n int) RunOption {
	return func(c *runConfig) {
		c.budget = n
	}
}

// WithFailureHook registers a callback invoked after every failed attempt,
// before the failure is classified.
func WithFailureHook(hook func(err error)) RunOption {
	return func(c *runConfig) {
		c.failureHook = hook
	}
}

// WithQuery attaches the statement text to log lines and errors.
func WithQuery(query string) RunOption {
	return func(c *runConfig) {
		c.query = query
	}
}

// Run recycles the connection if required, then attempts op until it
// succeeds, fails fatally, or the retry budget is spent.
//
// Recovery per classified action:
//   - fatal: return immediately
//   - reconnect: reconnect and retry, unless a transaction is open
//   - delay: sleep 0.1–3 ms and retry on the same link
//   - retry: retry immediately
//
// Every recovery consumes one unit of budget. Terminal failures are
// logged and returned as *pgwarden.QueryError.
func (e *Executor) Run(ctx context.Context, op Operation, opts ...RunOption) error {
	cfg := runConfig{budget: e.retries}
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := e.lifecycle.RecycleIfRequired(ctx); err != nil {
		return err
	}

	var firstErr, lastErr error
	attempts := 0
	for budget := cfg.budget; budget >= 0; budget-- {
		attempts++
		err := op(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if firstErr == nil {
			firstErr = err
		}

		if cfg.failureHook != nil {
			cfg.failureHook(err)
		}

		// The server aborted the transaction on the first failure; later
		// attempts only report that, so the first failure is the one returned.
		if attempts > 1 && e.classifier.Code(err) == pgCodeInFailedSQLTransaction {
			return e.fail(e.classifier.Classify(firstErr), attempts, cfg.query, firstErr)
		}

		action := e.classifier.Classify(err)
		if action == pgwarden.ActionFatal || budget == 0 {
			return e.fail(action, attempts, cfg.query, err)
		}

		switch action {
		case pgwarden.ActionReconnect:
			if e.lifecycle.InTransaction() {
				e.logger.Error("link lost inside a transaction, not reconnecting")
				return e.fail(action, attempts, cfg.query, err)
			}
			e.logger.Verbose("attempt %d failed (%v), reconnecting", attempts, err)
			if rerr := e.lifecycle.Reconnect(ctx); rerr != nil {
				e.logger.Error("reconnect failed: %v", rerr)
				return rerr
			}
		case pgwarden.ActionDelay:
			e.logger.Verbose("attempt %d hit lock contention (%v), backing off", attempts, err)
			if serr := e.delay.Sleep(ctx); serr != nil {
				return e.fail(pgwarden.ActionFatal, attempts, cfg.query, serr)
			}
		default:
			e.logger.Verbose("attempt %d failed (%v), retrying", attempts, err)
		}

		if e.onRetry != nil {
			e.onRetry(attempts, err, action)
		}
	}

	if lastErr == nil {
		err := fmt.Errorf("%w (%d retries)", pgwarden.ErrRetriesExhausted, cfg.budget)
		e.logger.Error("%v", err)
		return err
	}
	return e.fail(e.classifier.Classify(lastErr), attempts, cfg.query, lastErr)
}

func (e *Executor) fail(action pgwarden.Action, attempts int, query string, err error) error {
	code := e.classifier.Code(err)
	if query != "" {
		e.logger.Error("query failed [%s] code=%s after %d attempt(s): %v: %s", action, code, attempts, err, pgwarden.Preview(query))
	} else {
		e.logger.Error("operation failed [%s] code=%s after %d attempt(s): %v", action, code, attempts, err)
	}
	return &pgwarden.QueryError{
		Action:   action,
		Code:     code,
		Attempts: attempts,
		Query:    query,
		Err:      err,
	}
}
