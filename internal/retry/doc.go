// Package retry provides error classification and the retry loop that
// keeps statements running across transient PostgreSQL failures.
//
// # Example Usage
//
//	classifier := retry.NewPostgreSQLErrorClassifier()
//	executor := retry.NewExecutor(classifier, manager, cfg.Retries, logger)
//
//	err := executor.Run(ctx, func(ctx context.Context) error {
//	    n, err = stmt.Exec(ctx, params)
//	    return err
//	}, retry.WithFailureHook(evict))
//
// # Error Classification
//
// ClassifyCodes is a pure function over fixed code sets (FatalCodes,
// FatalClassPrefixes, ReconnectCodes, DelayCodes). The PostgreSQL
// classifier extracts the SQLSTATE from pgx errors and assigns
// LinkFailureCode to network failures that carry none.
//
// # Backoff
//
// Jitter draws a uniformly random wait from a short window. Sleeps honour
// context cancellation.
package retry
