// Package cullindex hands out small dense culling handles to skeletons.
package cullindex

import (
	"github.com/bits-and-blooms/bitset"
)

// Handle is a culling index. Neutral is reserved for bones of unbound or
// prefab skeletons and is never allocated.
type Handle uint32

// Neutral is the handle every bone carries before it is tagged.
const Neutral Handle = 0

// Registry maps keys to handles. Released handles are reused before the
// handle space grows, and every handle that is released or reused is marked
// as pending clear until the bone sweep acknowledges it with ClearPending.
type Registry[K comparable] struct {
	handles  map[K]Handle
	free     []Handle
	maxIndex Handle
	pending  *bitset.BitSet
}

// New creates an empty registry.
func New[K comparable]() *Registry[K] {
	return &Registry[K]{
		handles: make(map[K]Handle),
		pending: bitset.New(64),
	}
}

// Allocate returns the handle for key, assigning one if key has none.
// created reports whether a new handle was assigned.
func (r *Registry[K]) Allocate(key K) (h Handle, created bool) {
	if h, ok := r.handles[key]; ok {
		return h, false
	}
	if n := len(r.free); n > 0 {
		h = r.free[n-1]
		r.free = r.free[:n-1]
		r.pending.Set(uint(h))
	} else {
		r.maxIndex++
		h = r.maxIndex
	}
	r.handles[key] = h
	return h, true
}

// Release frees the handle held by key.
func (r *Registry[K]) Release(key K) (Handle, bool) {
	h, ok := r.handles[key]
	if !ok {
		return Neutral, false
	}
	delete(r.handles, key)
	r.free = append(r.free, h)
	r.pending.Set(uint(h))
	return h, true
}

// MarkDirty flags key's handle for a bone reset without releasing it.
func (r *Registry[K]) MarkDirty(key K) bool {
	h, ok := r.handles[key]
	if ok {
		r.pending.Set(uint(h))
	}
	return ok
}

// Lookup returns the handle held by key.
func (r *Registry[K]) Lookup(key K) (Handle, bool) {
	h, ok := r.handles[key]
	return h, ok
}

// PendingClear returns the handles whose bones must be reset to Neutral.
// The set is owned by the registry and valid until the next mutation.
func (r *Registry[K]) PendingClear() *bitset.BitSet {
	return r.pending
}

// HasPending reports whether any handle awaits a bone reset.
func (r *Registry[K]) HasPending() bool {
	return r.pending.Any()
}

// ClearPending acknowledges the bone sweep.
func (r *Registry[K]) ClearPending() {
	r.pending.ClearAll()
}

// MaxIndex returns the highest handle ever assigned. It never decreases.
func (r *Registry[K]) MaxIndex() Handle {
	return r.maxIndex
}

// Len returns the number of live handles.
func (r *Registry[K]) Len() int {
	return len(r.handles)
}

// Each calls fn for every live key and handle.
func (r *Registry[K]) Each(fn func(key K, h Handle)) {
	for k, h := range r.handles {
		fn(k, h)
	}
}
