package binding

import (
	"cmp"
	"slices"

	"github.com/Faultbox/midgard-skin/internal/engine/ecs"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/boneoffsets"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/meshpool"
)

// Unbind sorts before bind so a skeleton's batch frees before it grows.
type opKind uint8

const (
	opUnbind opKind = iota
	opBind
)

// bindRequest is everything discover resolved for a new binding.
type bindRequest struct {
	record   MeshRecord
	skeleton SkeletonRecord
	override []uint16 // copied, nil for path based bindings

	// Filled in by apply-resources.
	entry   boneoffsets.EntryID
	remap   []uint16
	slot    meshpool.Slot
	failed  bool
	binding *meshBinding
}

type bindingOp struct {
	kind     opKind
	skeleton ecs.Entity // Null for meshes that had no live binding
	mesh     ecs.Entity
	prev     *meshBinding // unbind
	req      *bindRequest // bind
}

type meshOp struct {
	key  asset.ID
	add  bool
	mesh ecs.Entity
	blob *asset.MeshBlob
}

type skeletonOpKind uint8

const (
	skeletonAdd skeletonOpKind = iota
	skeletonUpdate
	skeletonRemove
)

type skeletonOp struct {
	kind   skeletonOpKind
	record SkeletonRecord
}

type failure struct {
	record MeshRecord
	err    error
}

type cullOp struct {
	skeleton ecs.Entity
	add      bool
}

// opBuffer is a worker-local append-only queue. Workers never share one.
type opBuffer struct {
	bindings  []bindingOp
	meshes    []meshOp
	skeletons []skeletonOp
	culling   []cullOp
	failures  []failure
	rebinds   []ecs.Entity
}

func (b *opBuffer) detach(prev *meshBinding) {
	b.bindings = append(b.bindings, bindingOp{
		kind:     opUnbind,
		skeleton: prev.skeleton,
		mesh:     prev.mesh,
		prev:     prev,
	})
	if !prev.failed {
		b.meshes = append(b.meshes, meshOp{key: prev.blob.ID, mesh: prev.mesh, blob: prev.blob})
	}
}

func (b *opBuffer) bind(req *bindRequest) {
	b.bindings = append(b.bindings, bindingOp{
		kind:     opBind,
		skeleton: req.skeleton.Entity,
		mesh:     req.record.Entity,
		req:      req,
	})
	b.meshes = append(b.meshes, meshOp{
		key:  req.record.Mesh.ID,
		add:  true,
		mesh: req.record.Entity,
		blob: req.record.Mesh,
	})
}

func (b *opBuffer) fail(rec MeshRecord, err error) {
	b.failures = append(b.failures, failure{record: rec, err: err})
}

// merge concatenates the worker buffers and sorts every queue into a
// canonical order so the apply phases do not depend on scheduling.
func merge(bufs []opBuffer) *opBuffer {
	b := &opBuffer{}
	for i := range bufs {
		b.bindings = append(b.bindings, bufs[i].bindings...)
		b.meshes = append(b.meshes, bufs[i].meshes...)
		b.skeletons = append(b.skeletons, bufs[i].skeletons...)
		b.culling = append(b.culling, bufs[i].culling...)
		b.failures = append(b.failures, bufs[i].failures...)
		b.rebinds = append(b.rebinds, bufs[i].rebinds...)
	}

	slices.SortFunc(b.bindings, func(x, y bindingOp) int {
		if c := x.skeleton.Compare(y.skeleton); c != 0 {
			return c
		}
		if c := cmp.Compare(x.kind, y.kind); c != 0 {
			return c
		}
		return x.mesh.Compare(y.mesh)
	})
	slices.SortFunc(b.meshes, func(x, y meshOp) int {
		if c := cmp.Compare(x.key, y.key); c != 0 {
			return c
		}
		if x.add != y.add {
			if x.add {
				return 1
			}
			return -1
		}
		return x.mesh.Compare(y.mesh)
	})
	slices.SortFunc(b.skeletons, func(x, y skeletonOp) int {
		if c := cmp.Compare(x.kind, y.kind); c != 0 {
			return c
		}
		return x.record.Entity.Compare(y.record.Entity)
	})
	slices.SortFunc(b.culling, func(x, y cullOp) int {
		if x.add != y.add {
			if x.add {
				return 1
			}
			return -1
		}
		return x.skeleton.Compare(y.skeleton)
	})
	slices.SortFunc(b.failures, func(x, y failure) int {
		return x.record.Entity.Compare(y.record.Entity)
	})
	slices.SortFunc(b.rebinds, func(x, y ecs.Entity) int {
		return x.Compare(y)
	})
	return b
}

// skeletonBatches splits the sorted binding ops into runs sharing a skeleton.
func skeletonBatches(ops []bindingOp) [][]bindingOp {
	var out [][]bindingOp
	for start := 0; start < len(ops); {
		end := start + 1
		for end < len(ops) && ops[end].skeleton == ops[start].skeleton {
			end++
		}
		out = append(out, ops[start:end])
		start = end
	}
	return out
}
