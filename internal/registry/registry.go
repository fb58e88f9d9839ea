// Package registry keeps the process-wide table of live physical
// connections so that independent connection managers targeting the same
// identity reuse one handle instead of opening a new one each time.
//
// Handles are leased: a parked handle is handed to the next manager that
// connects, and a leased handle is never given to a second manager.
//
// Lifetime: Default() is created on first use and lives for the process.
// Call CloseAll during shutdown to close every parked or leased handle.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

type slot struct {
	handle pgwarden.Handle
	leased bool
}

// Registry maps identities to shared handles.
// Safe for concurrent use by multiple goroutines.
type Registry struct {
	mu    sync.Mutex
	slots map[pgwarden.Identity]*slot
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// New creates an empty registry. Tests and embedders that need isolated
// sharing domains use it instead of Default.
func New() *Registry {
	return &Registry{slots: make(map[pgwarden.Identity]*slot)}
}

// Checkout leases the parked live handle for id, if there is one.
// A dead parked handle is forgotten.
func (r *Registry) Checkout(id pgwarden.Identity) (pgwarden.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok || s.leased {
		return nil, false
	}
	if s.handle.IsClosed() {
		delete(r.slots, id)
		return nil, false
	}
	s.leased = true
	return s.handle, true
}

// Store registers a newly opened handle as the shared handle for id and
// leases it to the caller. It returns false, leaving the registry
// untouched, when another live handle already occupies the slot; the
// caller then owns h privately.
func (r *Registry) Store(id pgwarden.Identity, h pgwarden.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.slots[id]; ok && s.handle != h && !s.handle.IsClosed() {
		return false
	}
	r.slots[id] = &slot{handle: h, leased: true}
	return true
}

// Release ends the caller's lease. The shared handle is parked for reuse;
// a private or dead handle is closed.
func (r *Registry) Release(ctx context.Context, id pgwarden.Identity, h pgwarden.Handle) error {
	r.mu.Lock()
	s, ok := r.slots[id]
	if ok && s.handle == h && !h.IsClosed() {
		s.leased = false
		r.mu.Unlock()
		return nil
	}
	if ok && s.handle == h {
		delete(r.slots, id)
	}
	r.mu.Unlock()

	if h.IsClosed() {
		return nil
	}
	return h.Close(ctx)
}

// Invalidate forgets h and closes it so the next connect opens a new
// physical link.
func (r *Registry) Invalidate(ctx context.Context, id pgwarden.Identity, h pgwarden.Handle) error {
	r.mu.Lock()
	if s, ok := r.slots[id]; ok && s.handle == h {
		delete(r.slots, id)
	}
	r.mu.Unlock()

	if h.IsClosed() {
		return nil
	}
	return h.Close(ctx)
}

// Lookup returns the registered handle for id and whether it is leased.
func (r *Registry) Lookup(id pgwarden.Identity) (pgwarden.Handle, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, false, false
	}
	return s.handle, s.leased, true
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// CloseAll closes every registered handle and empties the registry.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	slots := r.slots
	r.slots = make(map[pgwarden.Identity]*slot)
	r.mu.Unlock()

	var errs []error
	for _, s := range slots {
		if s.handle.IsClosed() {
			continue
		}
		if err := s.handle.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
