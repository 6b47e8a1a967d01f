package ecs

import (
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
)

// Tag is a bit set of marker components.
type Tag uint8

const (
	// TagBound marks a mesh whose skinning binding is live.
	TagBound Tag = 1 << iota
	// TagFailedBinding marks a mesh parented to the failed bindings root.
	TagFailedBinding
	// TagCulled marks a skeleton that owns a culling handle.
	TagCulled
)

// SkinnedMesh is the component of a mesh that wants to be skinned.
type SkinnedMesh struct {
	Mesh     *asset.MeshBlob
	Target   Entity
	Override []uint16
	Rebind   bool
}

// Skeleton is the component of a skeleton entity.
type Skeleton struct {
	Blob           *asset.SkeletonBlob
	ExposedCulling bool
	// BoneTags holds the culling handle each exposed bone was last tagged with.
	BoneTags []uint32
}

// World stores entities and their components. Reads take a shared lock so
// the skinning discover workers can scan concurrently; structural changes
// must not run while they do.
type World struct {
	mu sync.RWMutex

	reg       registry
	kinds     map[Entity]Kind
	meshes    map[Entity]*SkinnedMesh
	skeletons map[Entity]*Skeleton
	redirects map[Entity]Entity
	parents   map[Entity]Entity
	tags      map[Entity]Tag

	failedRoot Entity
}

// NewWorld creates an empty world.
func NewWorld() *World {
	return &World{
		kinds:     make(map[Entity]Kind),
		meshes:    make(map[Entity]*SkinnedMesh),
		skeletons: make(map[Entity]*Skeleton),
		redirects: make(map[Entity]Entity),
		parents:   make(map[Entity]Entity),
		tags:      make(map[Entity]Tag),
	}
}

func (w *World) create(kind Kind) Entity {
	e := w.reg.create()
	w.kinds[e] = kind
	return e
}

// CreateMesh adds a skinned mesh that should bind to target.
func (w *World) CreateMesh(mesh *asset.MeshBlob, target Entity) Entity {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := w.create(KindMesh)
	w.meshes[e] = &SkinnedMesh{Mesh: mesh, Target: target}
	return e
}

// CreateSkeleton adds a skeleton.
func (w *World) CreateSkeleton(blob *asset.SkeletonBlob, exposedCulling bool) Entity {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := w.create(KindSkeleton)
	w.skeletons[e] = &Skeleton{
		Blob:           blob,
		ExposedCulling: exposedCulling,
		BoneTags:       make([]uint32, blob.BoneCount()),
	}
	return e
}

// CreateRedirect adds an entity that forwards skeleton lookups to target.
func (w *World) CreateRedirect(target Entity) Entity {
	w.mu.Lock()
	defer w.mu.Unlock()

	e := w.create(KindRedirect)
	w.redirects[e] = target
	return e
}

// Destroy removes an entity and all of its components.
func (w *World) Destroy(e Entity) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.reg.destroy(e) {
		return false
	}
	delete(w.kinds, e)
	delete(w.meshes, e)
	delete(w.skeletons, e)
	delete(w.redirects, e)
	delete(w.parents, e)
	delete(w.tags, e)
	if e == w.failedRoot {
		w.failedRoot = Null
	}
	return true
}

// IsAlive reports whether e exists.
func (w *World) IsAlive(e Entity) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reg.isAlive(e)
}

// Len returns the number of live entities.
func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reg.alive
}

// KindOf returns what e represents.
func (w *World) KindOf(e Entity) Kind {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.kinds[e]
}

// Mesh returns a copy of e's mesh component.
func (w *World) Mesh(e Entity) (SkinnedMesh, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	m, ok := w.meshes[e]
	if !ok {
		return SkinnedMesh{}, false
	}
	return *m, true
}

// Skeleton returns a copy of e's skeleton component. BoneTags is shared.
func (w *World) Skeleton(e Entity) (Skeleton, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.skeletons[e]
	if !ok {
		return Skeleton{}, false
	}
	return *s, true
}

// Redirect returns the entity e forwards to.
func (w *World) Redirect(e Entity) (Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	next, ok := w.redirects[e]
	return next, ok
}

// EachMesh calls fn for every mesh under a shared lock. fn must not mutate
// the world.
func (w *World) EachMesh(fn func(e Entity, m *SkinnedMesh)) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for e, m := range w.meshes {
		fn(e, m)
	}
}

// EachSkeleton calls fn for every skeleton under a shared lock.
func (w *World) EachSkeleton(fn func(e Entity, s *Skeleton)) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for e, s := range w.skeletons {
		fn(e, s)
	}
}

// SetMeshBlob replaces the mesh payload. A nil blob detaches the mesh data.
func (w *World) SetMeshBlob(e Entity, mesh *asset.MeshBlob) bool {
	return w.updateMesh(e, func(m *SkinnedMesh) { m.Mesh = mesh })
}

// SetMeshTarget changes which skeleton the mesh binds to.
func (w *World) SetMeshTarget(e Entity, target Entity) bool {
	return w.updateMesh(e, func(m *SkinnedMesh) { m.Target = target })
}

// SetOverride sets explicit bone indices, bypassing path matching.
func (w *World) SetOverride(e Entity, indices []uint16) bool {
	return w.updateMesh(e, func(m *SkinnedMesh) { m.Override = indices })
}

// RequestRebind flags the mesh for a fresh binding on the next update.
func (w *World) RequestRebind(e Entity) bool {
	return w.updateMesh(e, func(m *SkinnedMesh) { m.Rebind = true })
}

// ClearRebind drops the rebind flag.
func (w *World) ClearRebind(e Entity) bool {
	return w.updateMesh(e, func(m *SkinnedMesh) { m.Rebind = false })
}

func (w *World) updateMesh(e Entity, fn func(m *SkinnedMesh)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	m, ok := w.meshes[e]
	if ok {
		fn(m)
	}
	return ok
}

// SetExposedCulling toggles whether the skeleton takes part in per-bone culling.
func (w *World) SetExposedCulling(e Entity, exposed bool) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.skeletons[e]
	if ok {
		s.ExposedCulling = exposed
	}
	return ok
}

// SetSkeletonBlob rebakes the skeleton. Bone tags are reset since the bone
// set changed.
func (w *World) SetSkeletonBlob(e Entity, blob *asset.SkeletonBlob) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.skeletons[e]
	if ok {
		s.Blob = blob
		s.BoneTags = make([]uint32, blob.BoneCount())
	}
	return ok
}

// Parent returns e's parent.
func (w *World) Parent(e Entity) (Entity, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.parents[e]
	return p, ok
}

// SetParent attaches e to parent. A Null parent detaches it.
func (w *World) SetParent(e, parent Entity) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.reg.isAlive(e) {
		return
	}
	if parent.IsNull() {
		delete(w.parents, e)
		return
	}
	w.parents[e] = parent
}

// HasTag reports whether e carries every bit of tag.
func (w *World) HasTag(e Entity, tag Tag) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tags[e]&tag == tag
}

// AddTag sets tag bits on e.
func (w *World) AddTag(e Entity, tag Tag) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reg.isAlive(e) {
		w.tags[e] |= tag
	}
}

// RemoveTag clears tag bits on e.
func (w *World) RemoveTag(e Entity, tag Tag) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.tags[e]; ok {
		if t &^= tag; t == 0 {
			delete(w.tags, e)
		} else {
			w.tags[e] = t
		}
	}
}

// FailedBindingsRoot returns the sentinel meshes are parented to when their
// binding fails. It is created on first use and recreated if destroyed.
func (w *World) FailedBindingsRoot() Entity {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.reg.isAlive(w.failedRoot) {
		w.failedRoot = w.create(KindSentinel)
	}
	return w.failedRoot
}

// TagBones writes handle onto every bone of the skeleton.
func (w *World) TagBones(e Entity, handle uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.skeletons[e]
	if !ok {
		return false
	}
	for i := range s.BoneTags {
		s.BoneTags[i] = handle
	}
	return true
}

// ResetCullingTags sets every bone tagged with a handle in pending back to
// the neutral handle. It returns the number of bones reset.
func (w *World) ResetCullingTags(pending *bitset.BitSet) int {
	if pending == nil || !pending.Any() {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	reset := 0
	for _, s := range w.skeletons {
		for i, tag := range s.BoneTags {
			if tag != 0 && pending.Test(uint(tag)) {
				s.BoneTags[i] = 0
				reset++
			}
		}
	}
	return reset
}
