// Package manager owns the lifecycle of one logical connection: connect,
// disconnect, reconnect, schema switching and time-based recycling.
//
// A Manager obtains its physical handle from the process-wide registry when
// a parked handle for the same identity exists, and opens a new one through
// the Driver otherwise. Connect attempts are retried with a 1–5 ms jitter.
//
// # Example Usage
//
//	cfg := pgwarden.NewConfig()
//	cfg.Username = "app"
//	mgr, err := manager.New(cfg, driver, manager.WithLogger(logger))
//
//	if err := mgr.Connect(ctx); err != nil {
//	    // *pgwarden.ConnectionError after all attempts failed
//	}
//	defer mgr.Disconnect(ctx)
//
// # Thread Safety
//
// Manager is NOT safe for concurrent use. Each logical caller owns its own
// Manager; managers for the same identity coordinate through the registry.
package manager
