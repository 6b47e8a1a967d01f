// Package skinworld runs the skinning binding pipeline against an ecs.World.
package skinworld

import (
	"slices"

	"github.com/bits-and-blooms/bitset"

	"github.com/Faultbox/midgard-skin/internal/engine/ecs"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/binding"
)

// Store adapts a World to binding.Store.
type Store struct {
	world *ecs.World
}

// NewStore wraps w.
func NewStore(w *ecs.World) *Store {
	return &Store{world: w}
}

func (s *Store) MeshRecords() []binding.MeshRecord {
	var out []binding.MeshRecord
	s.world.EachMesh(func(e ecs.Entity, m *ecs.SkinnedMesh) {
		out = append(out, meshRecord(e, *m))
	})
	slices.SortFunc(out, func(a, b binding.MeshRecord) int { return a.Entity.Compare(b.Entity) })
	return out
}

func (s *Store) SkeletonRecords() []binding.SkeletonRecord {
	var out []binding.SkeletonRecord
	s.world.EachSkeleton(func(e ecs.Entity, sk *ecs.Skeleton) {
		out = append(out, skeletonRecord(e, *sk))
	})
	slices.SortFunc(out, func(a, b binding.SkeletonRecord) int { return a.Entity.Compare(b.Entity) })
	return out
}

func (s *Store) Mesh(e ecs.Entity) (binding.MeshRecord, bool) {
	m, ok := s.world.Mesh(e)
	if !ok {
		return binding.MeshRecord{}, false
	}
	return meshRecord(e, m), true
}

func (s *Store) Skeleton(e ecs.Entity) (binding.SkeletonRecord, bool) {
	sk, ok := s.world.Skeleton(e)
	if !ok {
		return binding.SkeletonRecord{}, false
	}
	return skeletonRecord(e, sk), true
}

func (s *Store) Redirect(e ecs.Entity) (ecs.Entity, bool) {
	return s.world.Redirect(e)
}

func (s *Store) IsAlive(e ecs.Entity) bool {
	return s.world.IsAlive(e)
}

func (s *Store) ResetCullingTags(pending *bitset.BitSet) int {
	return s.world.ResetCullingTags(pending)
}

func (s *Store) TagBones(skeleton ecs.Entity, handle uint32) {
	s.world.TagBones(skeleton, handle)
}

func meshRecord(e ecs.Entity, m ecs.SkinnedMesh) binding.MeshRecord {
	return binding.MeshRecord{
		Entity:   e,
		Mesh:     m.Mesh,
		Target:   m.Target,
		Override: m.Override,
		Rebind:   m.Rebind,
	}
}

func skeletonRecord(e ecs.Entity, sk ecs.Skeleton) binding.SkeletonRecord {
	return binding.SkeletonRecord{
		Entity:         e,
		Blob:           sk.Blob,
		ExposedCulling: sk.ExposedCulling,
	}
}
