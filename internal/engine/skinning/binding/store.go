package binding

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/Faultbox/midgard-skin/internal/engine/ecs"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
)

// MeshRecord is the store's view of a mesh that wants to be skinned.
type MeshRecord struct {
	Entity ecs.Entity
	// Mesh is nil when the mesh data was removed.
	Mesh *asset.MeshBlob
	// Target is the requested skeleton, possibly reached through redirects.
	Target ecs.Entity
	// Override replaces path matching with explicit skeleton bone indices,
	// one per bind pose.
	Override []uint16
	// Rebind requests a fresh binding even if nothing else changed.
	Rebind bool
}

// SkeletonRecord is the store's view of a skeleton.
type SkeletonRecord struct {
	Entity         ecs.Entity
	Blob           *asset.SkeletonBlob
	ExposedCulling bool
}

// BoneCount returns the number of bones of the skeleton.
func (r SkeletonRecord) BoneCount() int {
	return r.Blob.BoneCount()
}

// Store is the entity store the pipeline reads from. Read methods are called
// concurrently from discover workers and must not block on each other.
// ResetCullingTags and TagBones are only called from the serial commit phase.
type Store interface {
	MeshRecords() []MeshRecord
	SkeletonRecords() []SkeletonRecord

	Mesh(e ecs.Entity) (MeshRecord, bool)
	Skeleton(e ecs.Entity) (SkeletonRecord, bool)
	Redirect(e ecs.Entity) (ecs.Entity, bool)
	IsAlive(e ecs.Entity) bool

	// ResetCullingTags resets every bone tagged with a handle in pending to
	// the neutral handle and returns how many bones were reset.
	ResetCullingTags(pending *bitset.BitSet) int
	// TagBones tags every bone of the skeleton with handle.
	TagBones(skeleton ecs.Entity, handle uint32)
}
