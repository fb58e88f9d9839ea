// Package stmtcache holds prepared statements per connection identity and
// decides when a query is worth a real server-side prepare.
//
// Queries start on the emulated path; once a query has been executed
// DelayedPrepares times it is prepared on the server and cached. The cache
// for one identity is FIFO-bounded by MaxEntries.
//
// Lifetime: Default() is created on first use and lives for the process.
// Purge drops an identity's entries; Reset empties everything.
package stmtcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

// statementNamePrefix namespaces server-side statement names.
const statementNamePrefix = "pgw_"

// Key derives the cache key of a query: its 64-bit xxhash plus its length.
func Key(query string) string {
	return fmt.Sprintf("%016x%x", xxhash.Sum64String(query), len(query))
}

// StatementName returns the server-side name used for key.
func StatementName(key string) string {
	return statementNamePrefix + key
}

// Policy carries the per-connection settings that drive lookups.
type Policy struct {
	// MaxEntries caps prepared entries per identity (0 disables caching).
	MaxEntries int

	// DelayedPrepares is the number of emulated executions before a real prepare.
	DelayedPrepares int

	// Emulated is true when the connection already runs in emulated-prepare mode.
	Emulated bool
}

// Entry is the cache record of one query. Statement is nil while the query
// is still on the delayed path and only DelayCount is tracked.
type Entry struct {
	Key        string
	Statement  pgwarden.Statement
	DelayCount int

	owner pgwarden.Handle
}

type identityCache struct {
	entries map[string]*Entry
	// order lists keys of entries that hold a statement, oldest first.
	order []string
}

// Cache is a per-identity bounded statement cache.
// Safe for concurrent use by multiple goroutines.
type Cache struct {
	mu         sync.Mutex
	identities map[pgwarden.Identity]*identityCache
}

var (
	defaultOnce  sync.Once
	defaultCache *Cache
)

// Default returns the process-wide cache.
func Default() *Cache {
	defaultOnce.Do(func() {
		defaultCache = New()
	})
	return defaultCache
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{identities: make(map[pgwarden.Identity]*identityCache)}
}

func (c *Cache) identity(id pgwarden.Identity) *identityCache {
	ic, ok := c.identities[id]
	if !ok {
		ic = &identityCache{entries: make(map[string]*Entry)}
		c.identities[id] = ic
	}
	return ic
}

// Get returns a statement ready to execute query on h, and the cache key.
//
// A cached statement prepared on h is returned as-is. Otherwise:
//   - in emulated mode, the statement is prepared emulated and cached
//   - below the delay threshold, a one-off emulated statement is returned
//     and the query's delay count grows
//   - at the threshold, the statement is prepared on the server and cached
//
// With caching disabled the delay threshold still applies, but past it an
// unnamed statement is prepared for each call and nothing is cached.
func (c *Cache) Get(ctx context.Context, id pgwarden.Identity, h pgwarden.Handle, query string, p Policy) (pgwarden.Statement, string, error) {
	key := Key(query)

	c.mu.Lock()
	ic := c.identity(id)
	e, ok := ic.entries[key]
	if ok && e.Statement != nil {
		if e.owner == h {
			stmt := e.Statement
			c.mu.Unlock()
			return stmt, key, nil
		}
		// Prepared on a different physical connection.
		c.removeOrderLocked(ic, key)
		e.Statement = nil
		e.owner = nil
	}

	if !p.Emulated && p.DelayedPrepares > 0 {
		if !ok {
			c.trimCountersLocked(ic)
			e = &Entry{Key: key}
			ic.entries[key] = e
		}
		if e.DelayCount < p.DelayedPrepares {
			e.DelayCount++
			c.mu.Unlock()
			stmt, err := h.Prepare(ctx, "", query, pgwarden.PrepareEmulated)
			return stmt, key, err
		}
	}
	c.mu.Unlock()

	mode := pgwarden.PrepareServer
	if p.Emulated {
		mode = pgwarden.PrepareEmulated
	}
	if p.MaxEntries <= 0 {
		stmt, err := h.Prepare(ctx, "", query, mode)
		return stmt, key, err
	}
	stmt, err := h.Prepare(ctx, StatementName(key), query, mode)
	if err != nil {
		return nil, key, err
	}
	c.Insert(ctx, id, h, key, stmt, p.MaxEntries)
	return stmt, key, nil
}

// Insert adds a prepared statement for key. When the identity then holds
// more than max statements, the oldest-inserted ones are evicted; their
// server resources are released when they belong to h.
func (c *Cache) Insert(ctx context.Context, id pgwarden.Identity, h pgwarden.Handle, key string, stmt pgwarden.Statement, max int) {
	c.mu.Lock()
	ic := c.identity(id)

	delay := 0
	if old, ok := ic.entries[key]; ok {
		delay = old.DelayCount
		if old.Statement != nil {
			c.removeOrderLocked(ic, key)
		}
	}
	ic.entries[key] = &Entry{Key: key, Statement: stmt, DelayCount: delay, owner: h}
	ic.order = append(ic.order, key)

	var evicted []*Entry
	for max > 0 && len(ic.order) > max {
		oldest := ic.order[0]
		evicted = append(evicted, ic.entries[oldest])
		c.dropLocked(ic, oldest)
	}
	c.mu.Unlock()

	for _, e := range evicted {
		if e.owner == h && !h.IsClosed() {
			_ = e.Statement.Close(ctx)
		}
	}
}

// Evict invalidates the statement cached for key. It is used after a cached
// statement failed, since the failure may mean the statement behind it is
// stale. A statement prepared on h is deallocated so the next prepare under
// the same name parses the query again; one owned by another handle is only
// forgotten. The delay count is kept so a hot query is prepared again right
// away.
func (c *Cache) Evict(ctx context.Context, id pgwarden.Identity, h pgwarden.Handle, key string) {
	c.mu.Lock()
	ic, ok := c.identities[id]
	if !ok {
		c.mu.Unlock()
		return
	}
	e, ok := ic.entries[key]
	if !ok || e.Statement == nil {
		c.mu.Unlock()
		return
	}
	stmt, owner := e.Statement, e.owner
	c.removeOrderLocked(ic, key)
	e.Statement = nil
	e.owner = nil
	c.mu.Unlock()

	if h != nil && owner == h && !h.IsClosed() {
		_ = stmt.Close(ctx)
	}
}

// DropHandle forgets every statement prepared on h, which is going away.
// Delay counts survive so a later connection prepares hot queries at once.
func (c *Cache) DropHandle(id pgwarden.Identity, h pgwarden.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ic, ok := c.identities[id]
	if !ok {
		return
	}
	kept := ic.order[:0]
	for _, key := range ic.order {
		e := ic.entries[key]
		if e.owner == h {
			e.Statement = nil
			e.owner = nil
			continue
		}
		kept = append(kept, key)
	}
	ic.order = kept
}

// Purge drops every entry of an identity.
func (c *Cache) Purge(id pgwarden.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.identities, id)
}

// Reset empties the cache.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identities = make(map[pgwarden.Identity]*identityCache)
}

// Len returns the number of prepared statements cached for id.
func (c *Cache) Len(id pgwarden.Identity) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ic, ok := c.identities[id]; ok {
		return len(ic.order)
	}
	return 0
}

// Keys returns the cached keys of id in insertion order.
func (c *Cache) Keys(id pgwarden.Identity) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ic, ok := c.identities[id]
	if !ok {
		return nil
	}
	return append([]string(nil), ic.order...)
}

// Lookup returns a copy of the entry for query, if tracked.
func (c *Cache) Lookup(id pgwarden.Identity, query string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ic, ok := c.identities[id]
	if !ok {
		return Entry{}, false
	}
	e, ok := ic.entries[Key(query)]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

func (c *Cache) dropLocked(ic *identityCache, key string) {
	c.removeOrderLocked(ic, key)
	delete(ic.entries, key)
}

func (c *Cache) removeOrderLocked(ic *identityCache, key string) {
	for i, k := range ic.order {
		if k == key {
			ic.order = append(ic.order[:i], ic.order[i+1:]...)
			return
		}
	}
}

// trimCountersLocked clears counter-only entries once too many distinct
// queries are being tracked.
func (c *Cache) trimCountersLocked(ic *identityCache) {
	if len(ic.entries)-len(ic.order) < pgwarden.MaxTrackedQueries {
		return
	}
	for k, e := range ic.entries {
		if e.Statement == nil {
			delete(ic.entries, k)
		}
	}
}
