//go:build conntest || azure

package conntest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgwarden/internal/db/manager"
	"github.com/vvka-141/pgwarden/internal/logging"
	"github.com/vvka-141/pgwarden/internal/registry"
	"github.com/vvka-141/pgwarden/internal/services"
	"github.com/vvka-141/pgwarden/internal/stmtcache"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

// openSession opens a session with its own registry and statement cache so
// tests do not share physical links.
func openSession(t *testing.T, cfg *pgwarden.Config) *services.Session {
	t.Helper()
	s, err := services.Open(context.Background(), cfg, logging.NewNullLogger(),
		manager.WithRegistry(registry.New()),
		manager.WithCache(stmtcache.New()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func fetchOne(t *testing.T, s *services.Session, query string, values ...any) any {
	t.Helper()
	rows, err := s.FetchQueryResults(context.Background(), query, values...)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	for _, v := range rows[0] {
		return v
	}
	t.Fatalf("%s returned no columns", query)
	return nil
}
