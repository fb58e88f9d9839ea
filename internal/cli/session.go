package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vvka-141/pgwarden/internal/registry"
	"github.com/vvka-141/pgwarden/internal/services"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

// commandContext returns a context cancelled on Ctrl+C or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			fmt.Fprintln(os.Stderr, "\n[INTERRUPT] Received interrupt signal, cancelling...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// openSession resolves configuration and opens a session. The returned
// close function must always be called.
func openSession(ctx context.Context, cmd *cobra.Command) (*services.Session, pgwarden.Logger, func(), error) {
	logger, err := newLogger(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg, err := resolveConfig(cmd, os.Getenv)
	if err != nil {
		return nil, nil, nil, err
	}
	logConnectionVerbose(logger, cfg)

	s, err := services.Open(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	closeFn := func() {
		if err := closeSession(context.Background(), s, registry.Default()); err != nil {
			logger.Error("failed to close session: %v", err)
		}
	}
	return s, logger, closeFn, nil
}

// closeSession gives the session's handle back to reg and then closes every
// handle reg still holds, so the server sees a clean terminate on exit.
func closeSession(ctx context.Context, s pgwarden.Session, reg *registry.Registry) error {
	return errors.Join(s.Close(ctx), reg.CloseAll(ctx))
}
