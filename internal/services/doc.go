// Package services exposes the Session: the resilient query contract
// consumed by object-mapping and query-building layers.
//
// Every Session call runs through the retry executor. Before each call the
// connection is opened or recycled as needed; failures are classified and
// recovered by reconnecting, backing off or retrying; statements go through
// the shared adaptive statement cache.
//
// # Example Usage
//
//	session, err := services.Open(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer session.Close(ctx)
//
//	n, err := session.RunQuery(ctx, "UPDATE users SET active = $1 WHERE id = $2", true, 42)
//	rows, err := session.FetchQueryResults(ctx, "SELECT id, name FROM users")
//
// # Thread Safety
//
// A Session is NOT safe for concurrent use. Open one Session per goroutine;
// sessions for the same target still share handles and prepared statements.
package services
