package stmtcache

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgwarden/internal/db/dbtest"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

var testID = pgwarden.Identity{Host: "db", Port: 5432, Username: "app", Database: "app"}

func get(t *testing.T, c *Cache, h pgwarden.Handle, query string, p Policy) pgwarden.Statement {
	t.Helper()
	stmt, key, err := c.Get(context.Background(), testID, h, query, p)
	require.NoError(t, err)
	require.Equal(t, Key(query), key)
	return stmt
}

func TestKey_DistinguishesQueries(t *testing.T) {
	assert.Equal(t, Key("SELECT 1"), Key("SELECT 1"))
	assert.NotEqual(t, Key("SELECT 1"), Key("SELECT 2"))
	assert.Equal(t, "pgw_"+Key("SELECT 1"), StatementName(Key("SELECT 1")))
}

func TestGet_DelayedPrepare(t *testing.T) {
	c := New()
	h := &dbtest.Handle{ID: 1}
	p := Policy{MaxEntries: 10, DelayedPrepares: 2}

	first := get(t, c, h, "SELECT 1", p)
	second := get(t, c, h, "SELECT 1", p)
	assert.Equal(t, pgwarden.PrepareEmulated, first.Mode())
	assert.Equal(t, pgwarden.PrepareEmulated, second.Mode())
	assert.Equal(t, 0, c.Len(testID))

	e, ok := c.Lookup(testID, "SELECT 1")
	require.True(t, ok)
	assert.Equal(t, 2, e.DelayCount)
	assert.Nil(t, e.Statement)

	third := get(t, c, h, "SELECT 1", p)
	assert.Equal(t, pgwarden.PrepareServer, third.Mode())
	assert.Equal(t, 1, c.Len(testID))
	assert.Equal(t, []string{StatementName(Key("SELECT 1"))}, h.ServerPrepared())

	fourth := get(t, c, h, "SELECT 1", p)
	assert.Same(t, third, fourth, "a cached statement is reused")
	assert.Len(t, h.ServerPrepared(), 1, "no second server prepare")
}

func TestGet_NoDelayPreparesImmediately(t *testing.T) {
	c := New()
	h := &dbtest.Handle{ID: 1}

	stmt := get(t, c, h, "SELECT 1", Policy{MaxEntries: 10, DelayedPrepares: 0})

	assert.Equal(t, pgwarden.PrepareServer, stmt.Mode())
	assert.Equal(t, 1, c.Len(testID))
}

func TestGet_EmulatedModeCachesEmulatedStatements(t *testing.T) {
	c := New()
	h := &dbtest.Handle{ID: 1}
	p := Policy{MaxEntries: 10, DelayedPrepares: 5, Emulated: true}

	first := get(t, c, h, "SELECT 1", p)
	second := get(t, c, h, "SELECT 1", p)

	assert.Equal(t, pgwarden.PrepareEmulated, first.Mode())
	assert.Same(t, first, second)
	assert.Empty(t, h.ServerPrepared())
	assert.Equal(t, 1, c.Len(testID))
}

func TestGet_DisabledCachePreparesPerCall(t *testing.T) {
	c := New()
	h := &dbtest.Handle{ID: 1}
	p := Policy{MaxEntries: 0, DelayedPrepares: 0}

	first := get(t, c, h, "SELECT 1", p)
	second := get(t, c, h, "SELECT 1", p)

	assert.NotSame(t, first, second)
	assert.Equal(t, 0, c.Len(testID))
	assert.Empty(t, h.ServerPrepared(), "one-off statements are unnamed")
	_, tracked := c.Lookup(testID, "SELECT 1")
	assert.False(t, tracked)
}

func TestGet_DisabledCacheKeepsDelayedPrepare(t *testing.T) {
	c := New()
	h := &dbtest.Handle{ID: 1}
	p := Policy{MaxEntries: 0, DelayedPrepares: 1}

	first := get(t, c, h, "SELECT 1", p)
	second := get(t, c, h, "SELECT 1", p)
	third := get(t, c, h, "SELECT 1", p)

	assert.Equal(t, pgwarden.PrepareEmulated, first.Mode(), "below the threshold the prepare is emulated")
	assert.Equal(t, pgwarden.PrepareServer, second.Mode())
	assert.NotSame(t, second, third)
	assert.Equal(t, 0, c.Len(testID))
	assert.Empty(t, h.ServerPrepared(), "nothing is named on the server")
	e, ok := c.Lookup(testID, "SELECT 1")
	require.True(t, ok)
	assert.Equal(t, 1, e.DelayCount)
}

func TestInsert_EvictsOldestInserted(t *testing.T) {
	c := New()
	h := &dbtest.Handle{ID: 1}
	p := Policy{MaxEntries: 2, DelayedPrepares: 1}

	// Three distinct queries, each executed twice to pass the delay.
	for _, q := range []string{"Q1", "Q2", "Q3"} {
		get(t, c, h, q, p)
		get(t, c, h, q, p)
	}

	assert.Equal(t, []string{Key("Q2"), Key("Q3")}, c.Keys(testID))
	assert.Equal(t, []string{StatementName(Key("Q1"))}, h.Deallocated())
	_, tracked := c.Lookup(testID, "Q1")
	assert.False(t, tracked, "evicted entries are forgotten")
}

func TestInsert_EvictionIgnoresUse(t *testing.T) {
	c := New()
	h := &dbtest.Handle{ID: 1}
	p := Policy{MaxEntries: 2}

	get(t, c, h, "Q1", p)
	get(t, c, h, "Q2", p)
	// Using Q1 again does not protect it.
	get(t, c, h, "Q1", p)
	get(t, c, h, "Q3", p)

	assert.Equal(t, []string{Key("Q2"), Key("Q3")}, c.Keys(testID))
}

func TestInsert_NeverExceedsCapacity(t *testing.T) {
	for _, n := range []int{1, 2, 5} {
		t.Run(fmt.Sprintf("max=%d", n), func(t *testing.T) {
			c := New()
			h := &dbtest.Handle{ID: 1}
			p := Policy{MaxEntries: n}
			for i := 0; i < 20; i++ {
				get(t, c, h, fmt.Sprintf("SELECT %d", i), p)
				assert.LessOrEqual(t, c.Len(testID), n)
			}
			want := make([]string, 0, n)
			for i := 20 - n; i < 20; i++ {
				want = append(want, Key(fmt.Sprintf("SELECT %d", i)))
			}
			assert.Equal(t, want, c.Keys(testID))
		})
	}
}

func TestGet_StatementFromOtherHandleIsReplaced(t *testing.T) {
	c := New()
	old := &dbtest.Handle{ID: 1}
	fresh := &dbtest.Handle{ID: 2}
	p := Policy{MaxEntries: 10, DelayedPrepares: 1}

	get(t, c, old, "SELECT 1", p)
	get(t, c, old, "SELECT 1", p)
	require.Len(t, old.ServerPrepared(), 1)

	stmt := get(t, c, fresh, "SELECT 1", p)

	assert.Equal(t, pgwarden.PrepareServer, stmt.Mode(), "the delay count survives")
	assert.Len(t, fresh.ServerPrepared(), 1)
	assert.Equal(t, 1, c.Len(testID))
}

func TestEvict_KeepsDelayCount(t *testing.T) {
	c := New()
	h := &dbtest.Handle{ID: 1}
	p := Policy{MaxEntries: 10, DelayedPrepares: 1}
	get(t, c, h, "SELECT 1", p)
	get(t, c, h, "SELECT 1", p)

	c.Evict(context.Background(), testID, h, Key("SELECT 1"))

	assert.Equal(t, 0, c.Len(testID))
	assert.Equal(t, []string{StatementName(Key("SELECT 1"))}, h.Deallocated())
	e, ok := c.Lookup(testID, "SELECT 1")
	require.True(t, ok)
	assert.Equal(t, 1, e.DelayCount)

	stmt := get(t, c, h, "SELECT 1", p)
	assert.Equal(t, pgwarden.PrepareServer, stmt.Mode())
}

func TestEvict_ForeignStatementIsOnlyForgotten(t *testing.T) {
	c := New()
	owner := &dbtest.Handle{ID: 1}
	other := &dbtest.Handle{ID: 2}
	p := Policy{MaxEntries: 10}
	get(t, c, owner, "SELECT 1", p)

	c.Evict(context.Background(), testID, other, Key("SELECT 1"))

	assert.Equal(t, 0, c.Len(testID))
	assert.Empty(t, owner.Deallocated())
	assert.Empty(t, other.Deallocated())
}

func TestEvict_UnknownKeyIsNoop(t *testing.T) {
	c := New()
	c.Evict(context.Background(), testID, nil, "missing")
	assert.Equal(t, 0, c.Len(testID))
}

func TestDropHandle(t *testing.T) {
	c := New()
	a := &dbtest.Handle{ID: 1}
	b := &dbtest.Handle{ID: 2}
	p := Policy{MaxEntries: 10}

	get(t, c, a, "QA", p)
	get(t, c, b, "QB", p)

	c.DropHandle(testID, a)

	assert.Equal(t, []string{Key("QB")}, c.Keys(testID))
	e, ok := c.Lookup(testID, "QA")
	require.True(t, ok)
	assert.Nil(t, e.Statement)
}

func TestGet_CounterEntriesAreBounded(t *testing.T) {
	c := New()
	h := &dbtest.Handle{ID: 1}
	p := Policy{MaxEntries: 10, DelayedPrepares: 3}

	for i := 0; i <= pgwarden.MaxTrackedQueries; i++ {
		get(t, c, h, fmt.Sprintf("SELECT %d", i), p)
	}

	c.mu.Lock()
	tracked := len(c.identities[testID].entries)
	c.mu.Unlock()
	assert.LessOrEqual(t, tracked, pgwarden.MaxTrackedQueries)
}

func TestGet_PrepareErrorIsReturned(t *testing.T) {
	c := New()
	h := &dbtest.Handle{ID: 1, PrepareErr: dbtest.PgError("42601")}

	_, _, err := c.Get(context.Background(), testID, h, "SELEC", Policy{MaxEntries: 10})

	assert.Error(t, err)
	assert.Equal(t, 0, c.Len(testID))
}

func TestPurgeAndReset(t *testing.T) {
	c := New()
	h := &dbtest.Handle{ID: 1}
	other := testID
	other.Database = "other"

	get(t, c, h, "Q", Policy{MaxEntries: 10})
	_, _, err := c.Get(context.Background(), other, h, "Q", Policy{MaxEntries: 10})
	require.NoError(t, err)

	c.Purge(testID)
	assert.Equal(t, 0, c.Len(testID))
	assert.Equal(t, 1, c.Len(other))

	c.Reset()
	assert.Equal(t, 0, c.Len(other))
}
