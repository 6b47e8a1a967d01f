package binding

import (
	"slices"

	"github.com/bits-and-blooms/bitset"

	"github.com/Faultbox/midgard-skin/internal/engine/ecs"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
)

// memStore is a minimal single-threaded Store for pipeline tests.
type memStore struct {
	next      uint32
	alive     map[ecs.Entity]bool
	meshes    map[ecs.Entity]*MeshRecord
	skeletons map[ecs.Entity]*SkeletonRecord
	redirects map[ecs.Entity]ecs.Entity
	boneTags  map[ecs.Entity][]uint32
}

func newMemStore() *memStore {
	return &memStore{
		alive:     make(map[ecs.Entity]bool),
		meshes:    make(map[ecs.Entity]*MeshRecord),
		skeletons: make(map[ecs.Entity]*SkeletonRecord),
		redirects: make(map[ecs.Entity]ecs.Entity),
		boneTags:  make(map[ecs.Entity][]uint32),
	}
}

func (s *memStore) create() ecs.Entity {
	s.next++
	e := ecs.Entity{Index: s.next, Generation: 1}
	s.alive[e] = true
	return e
}

func (s *memStore) addSkeleton(blob *asset.SkeletonBlob, exposed bool) ecs.Entity {
	e := s.create()
	s.skeletons[e] = &SkeletonRecord{Entity: e, Blob: blob, ExposedCulling: exposed}
	s.boneTags[e] = make([]uint32, blob.BoneCount())
	return e
}

func (s *memStore) addMesh(blob *asset.MeshBlob, target ecs.Entity, override []uint16) ecs.Entity {
	e := s.create()
	s.meshes[e] = &MeshRecord{Entity: e, Mesh: blob, Target: target, Override: override}
	return e
}

func (s *memStore) addRedirect(target ecs.Entity) ecs.Entity {
	e := s.create()
	s.redirects[e] = target
	return e
}

func (s *memStore) destroy(e ecs.Entity) {
	delete(s.alive, e)
	delete(s.meshes, e)
	delete(s.skeletons, e)
	delete(s.redirects, e)
	delete(s.boneTags, e)
}

// apply applies the subset of changes the fake tracks.
func (s *memStore) apply(cmds *Commands) {
	for _, c := range cmds.Changes {
		if c.Op == ClearRebind {
			if m, ok := s.meshes[c.Entity]; ok {
				m.Rebind = false
			}
		}
	}
}

func (s *memStore) MeshRecords() []MeshRecord {
	out := make([]MeshRecord, 0, len(s.meshes))
	for _, m := range s.meshes {
		out = append(out, *m)
	}
	slices.SortFunc(out, func(a, b MeshRecord) int { return a.Entity.Compare(b.Entity) })
	return out
}

func (s *memStore) SkeletonRecords() []SkeletonRecord {
	out := make([]SkeletonRecord, 0, len(s.skeletons))
	for _, sk := range s.skeletons {
		out = append(out, *sk)
	}
	slices.SortFunc(out, func(a, b SkeletonRecord) int { return a.Entity.Compare(b.Entity) })
	return out
}

func (s *memStore) Mesh(e ecs.Entity) (MeshRecord, bool) {
	m, ok := s.meshes[e]
	if !ok {
		return MeshRecord{}, false
	}
	return *m, true
}

func (s *memStore) Skeleton(e ecs.Entity) (SkeletonRecord, bool) {
	sk, ok := s.skeletons[e]
	if !ok {
		return SkeletonRecord{}, false
	}
	return *sk, true
}

func (s *memStore) Redirect(e ecs.Entity) (ecs.Entity, bool) {
	next, ok := s.redirects[e]
	return next, ok
}

func (s *memStore) IsAlive(e ecs.Entity) bool {
	return s.alive[e]
}

func (s *memStore) ResetCullingTags(pending *bitset.BitSet) int {
	reset := 0
	for _, tags := range s.boneTags {
		for i, tag := range tags {
			if tag != 0 && pending.Test(uint(tag)) {
				tags[i] = 0
				reset++
			}
		}
	}
	return reset
}

func (s *memStore) TagBones(skeleton ecs.Entity, handle uint32) {
	for i := range s.boneTags[skeleton] {
		s.boneTags[skeleton][i] = handle
	}
}
