package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgwarden/internal/db/dbtest"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

var testID = pgwarden.Identity{Host: "db", Port: 5432, Username: "app", Database: "app"}

func TestRegistry_StoreReleaseCheckout(t *testing.T) {
	r := New()
	h := &dbtest.Handle{ID: 1}

	_, ok := r.Checkout(testID)
	assert.False(t, ok, "empty registry has nothing to lend")

	require.True(t, r.Store(testID, h))
	_, leased, ok := r.Lookup(testID)
	require.True(t, ok)
	assert.True(t, leased)

	_, ok = r.Checkout(testID)
	assert.False(t, ok, "a leased handle is not lent twice")

	require.NoError(t, r.Release(context.Background(), testID, h))
	assert.False(t, h.IsClosed(), "the shared handle is parked, not closed")

	got, ok := r.Checkout(testID)
	require.True(t, ok)
	assert.Same(t, h, got)
}

func TestRegistry_StoreRefusesOccupiedSlot(t *testing.T) {
	r := New()
	shared := &dbtest.Handle{ID: 1}
	private := &dbtest.Handle{ID: 2}

	require.True(t, r.Store(testID, shared))
	assert.False(t, r.Store(testID, private))

	require.NoError(t, r.Release(context.Background(), testID, private))
	assert.True(t, private.IsClosed(), "a private handle is closed on release")

	got, _, _ := r.Lookup(testID)
	assert.Same(t, shared, got)
}

func TestRegistry_StoreReplacesDeadHandle(t *testing.T) {
	r := New()
	dead := &dbtest.Handle{ID: 1}
	fresh := &dbtest.Handle{ID: 2}

	require.True(t, r.Store(testID, dead))
	dead.Kill()

	assert.True(t, r.Store(testID, fresh))
	got, _, _ := r.Lookup(testID)
	assert.Same(t, fresh, got)
}

func TestRegistry_CheckoutForgetsDeadHandle(t *testing.T) {
	r := New()
	h := &dbtest.Handle{ID: 1}
	require.True(t, r.Store(testID, h))
	require.NoError(t, r.Release(context.Background(), testID, h))

	h.Kill()
	_, ok := r.Checkout(testID)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_Invalidate(t *testing.T) {
	r := New()
	h := &dbtest.Handle{ID: 1}
	require.True(t, r.Store(testID, h))

	require.NoError(t, r.Invalidate(context.Background(), testID, h))

	assert.True(t, h.IsClosed())
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_IdentitiesAreIndependent(t *testing.T) {
	r := New()
	other := testID
	other.Database = "reports"

	require.True(t, r.Store(testID, &dbtest.Handle{ID: 1}))
	require.True(t, r.Store(other, &dbtest.Handle{ID: 2}))
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_CloseAll(t *testing.T) {
	r := New()
	a := &dbtest.Handle{ID: 1}
	b := &dbtest.Handle{ID: 2}
	other := testID
	other.Username = "admin"
	r.Store(testID, a)
	r.Store(other, b)

	require.NoError(t, r.CloseAll(context.Background()))

	assert.True(t, a.IsClosed())
	assert.True(t, b.IsClosed())
	assert.Equal(t, 0, r.Len())
}

func TestDefault_IsSingleton(t *testing.T) {
	assert.Same(t, Default(), Default())
}
