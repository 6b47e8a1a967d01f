package binding

import (
	"slices"

	"github.com/chewxy/math32"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/midgard-skin/internal/engine/ecs"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/meshpool"
)

// applyResources mutates the mesh arenas and the bone offset table. It runs
// serially: releases first, then acquisitions.
func (p *Pipeline) applyResources(ops *opBuffer, cmds *Commands) {
	for _, op := range ops.bindings {
		if op.kind != opUnbind || op.prev.failed {
			continue
		}
		if err := p.offsets.Release(op.prev.entry, op.prev.viaOverride); err != nil {
			p.log.Error("bone offset release failed",
				zap.Stringer("mesh", op.mesh),
				zap.Error(err),
				zap.Bool("internal", true))
		}
	}

	binds := make(map[ecs.Entity]*bindRequest)
	for _, op := range ops.bindings {
		if op.kind != opBind {
			continue
		}
		req := op.req
		binds[op.mesh] = req
		if req.override != nil {
			req.entry = p.offsets.ResolveOverride(req.override)
		} else {
			entry, err := p.offsets.ResolvePaths(req.record.Mesh.BindPaths, req.skeleton.Blob.Paths)
			if err != nil {
				req.failed = true
				ops.fail(req.record, err)
				continue
			}
			req.entry = entry
		}
		req.remap = slices.Clone(p.offsets.Indices(req.entry))
	}

	// Net the mesh operations per key. Ops are sorted by key.
	type delta struct {
		key  asset.ID
		n    int
		blob *asset.MeshBlob
	}
	var deltas []delta
	for i := 0; i < len(ops.meshes); {
		d := delta{key: ops.meshes[i].key}
		for ; i < len(ops.meshes) && ops.meshes[i].key == d.key; i++ {
			m := ops.meshes[i]
			if !m.add {
				d.n--
				continue
			}
			if req := binds[m.mesh]; req == nil || req.failed {
				continue
			}
			d.n++
			d.blob = m.blob
		}
		if d.n != 0 {
			deltas = append(deltas, d)
		}
	}

	for _, d := range deltas {
		for n := d.n; n < 0; n++ {
			freed, err := p.meshes.Release(d.key)
			if err != nil {
				p.log.Error("mesh slot release failed",
					zap.Uint64("key", uint64(d.key)),
					zap.Error(err),
					zap.Bool("internal", true))
				break
			}
			if freed {
				cmds.MeshSlotsDestroyed++
			}
		}
	}
	for _, d := range deltas {
		for n := 0; n < d.n; n++ {
			slot, err := p.meshes.Acquire(d.key, meshpool.SizesOf(d.blob))
			if err != nil {
				p.failKey(ops, d.key, d.n-n, err)
				break
			}
			if slot.RefCount == 1 {
				cmds.MeshSlotsCreated++
			}
		}
	}

	for _, op := range ops.bindings {
		if op.kind != opBind || op.req.failed {
			continue
		}
		op.req.slot, _ = p.meshes.Slot(op.req.record.Mesh.ID)
	}

	for _, op := range ops.skeletons {
		switch op.kind {
		case skeletonAdd:
			p.skeletons[op.record.Entity] = &skeletonState{
				entity: op.record.Entity,
				blob:   op.record.Blob,
				bounds: make([]float32, op.record.BoneCount()),
			}
			cmds.SkeletonsAdded++
		case skeletonUpdate:
			s := p.skeletons[op.record.Entity]
			s.blob = op.record.Blob
			if n := op.record.BoneCount(); n != len(s.bounds) {
				s.bounds = make([]float32, n)
			}
			s.stale = true
		}
	}
}

// failKey abandons the last pending binds of key that the arena could not
// serve. The first binds keep the references acquired or retained this tick.
func (p *Pipeline) failKey(ops *opBuffer, key asset.ID, unserved int, err error) {
	p.log.Error("mesh slot acquire failed",
		zap.Uint64("key", uint64(key)),
		zap.Error(err),
		zap.Bool("internal", true))
	for i := len(ops.bindings) - 1; i >= 0 && unserved > 0; i-- {
		req := ops.bindings[i].req
		if ops.bindings[i].kind != opBind || req.failed || req.record.Mesh.ID != key {
			continue
		}
		unserved--
		req.failed = true
		if rerr := p.offsets.Release(req.entry, req.override != nil); rerr != nil {
			p.log.Error("bone offset rollback failed",
				zap.Stringer("mesh", req.record.Entity),
				zap.Error(rerr),
				zap.Bool("internal", true))
		}
		ops.fail(req.record, err)
	}
}

// skeletonJob is the set of binding ops one skeleton applies.
type skeletonJob struct {
	state *skeletonState
	ops   []bindingOp
}

// applyBindings updates dependent lists and bone bounds. Skeletons are
// independent, so their batches may run concurrently.
func (p *Pipeline) applyBindings(ops *opBuffer, cmds *Commands) error {
	var jobs []skeletonJob
	for _, batch := range skeletonBatches(ops.bindings) {
		e := batch[0].skeleton
		if e.IsNull() {
			continue
		}
		s := p.skeletons[e]
		if s == nil {
			p.log.Error("binding ops for unknown skeleton",
				zap.Stringer("skeleton", e),
				zap.Bool("internal", true))
			continue
		}
		for _, op := range batch {
			if op.kind == opBind && !op.req.failed {
				op.req.binding = p.newBinding(op.req)
			}
		}
		jobs = append(jobs, skeletonJob{state: s, ops: batch})
	}

	if p.opts.ParallelBindings && len(jobs) > 1 {
		var g errgroup.Group
		g.SetLimit(p.opts.Workers)
		for _, job := range jobs {
			g.Go(func() error {
				job.state.apply(job.ops)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	} else {
		for _, job := range jobs {
			job.state.apply(job.ops)
		}
	}

	for _, op := range ops.bindings {
		if op.kind == opUnbind {
			delete(p.bindings, op.mesh)
		}
	}
	for _, op := range ops.bindings {
		if op.kind == opBind && !op.req.failed {
			p.bindings[op.mesh] = op.req.binding
		}
	}
	for _, f := range ops.failures {
		p.bindings[f.record.Entity] = &meshBinding{
			mesh:     f.record.Entity,
			blob:     f.record.Mesh,
			target:   f.record.Target,
			override: slices.Clone(f.record.Override),
			failed:   true,
		}
	}

	for _, op := range ops.skeletons {
		if op.kind != skeletonRemove {
			continue
		}
		p.removeSkeleton(op.record.Entity)
		cmds.SkeletonsRemoved++
	}
	return nil
}

func (p *Pipeline) newBinding(req *bindRequest) *meshBinding {
	offsets, _ := p.offsets.Entry(req.entry)
	return &meshBinding{
		mesh:         req.record.Entity,
		blob:         req.record.Mesh,
		target:       req.record.Target,
		override:     req.override,
		skeleton:     req.skeleton.Entity,
		skeletonBlob: req.skeleton.Blob,
		entry:        req.entry,
		viaOverride:  req.override != nil,
		slot:         req.slot,
		offsets:      offsets,
	}
}

// removeSkeleton forgets a destroyed skeleton. Dependents are normally
// unbound by the same tick; any left over are released here so no slot or
// table entry leaks.
func (p *Pipeline) removeSkeleton(e ecs.Entity) {
	s := p.skeletons[e]
	if s == nil {
		return
	}
	if len(s.dependents) > 0 {
		p.log.Error("destroyed skeleton still has dependents",
			zap.Stringer("skeleton", e),
			zap.Int("dependents", len(s.dependents)),
			zap.Bool("internal", true))
	}
	for _, d := range s.dependents {
		b := d.binding
		if _, err := p.meshes.Release(b.blob.ID); err != nil {
			p.log.Error("mesh slot release failed", zap.Error(err), zap.Bool("internal", true))
		}
		if err := p.offsets.Release(b.entry, b.viaOverride); err != nil {
			p.log.Error("bone offset release failed", zap.Error(err), zap.Bool("internal", true))
		}
		delete(p.bindings, d.mesh)
	}
	delete(p.skeletons, e)
}

// apply removes unbound dependents, appends new ones and updates the bone
// bounds. Bounds only grow on additions; any removal forces a rescan.
func (s *skeletonState) apply(ops []bindingOp) {
	removed := false
	for _, op := range ops {
		if op.kind != opUnbind {
			continue
		}
		if i := s.indexOf(op.mesh); i >= 0 {
			last := len(s.dependents) - 1
			s.dependents[i] = s.dependents[last]
			s.dependents[last] = dependent{}
			s.dependents = s.dependents[:last]
			removed = true
		}
	}

	added := len(s.dependents)
	for _, op := range ops {
		if op.kind != opBind || op.req.failed {
			continue
		}
		s.dependents = append(s.dependents, dependent{
			mesh:    op.mesh,
			binding: op.req.binding,
			remap:   op.req.remap,
			bounds:  op.req.record.Mesh.BoneBounds,
		})
	}

	if removed || s.stale {
		s.recomputeBounds()
		return
	}
	for _, d := range s.dependents[added:] {
		mergeBounds(s.bounds, d.remap, d.bounds)
	}
}

func (s *skeletonState) indexOf(mesh ecs.Entity) int {
	for i, d := range s.dependents {
		if d.mesh == mesh {
			return i
		}
	}
	return -1
}

func (s *skeletonState) recomputeBounds() {
	clear(s.bounds)
	for _, d := range s.dependents {
		mergeBounds(s.bounds, d.remap, d.bounds)
	}
	s.stale = false
}

// mergeBounds folds per bind pose radii into per skeleton bone radii.
func mergeBounds(dst []float32, remap []uint16, src []float32) {
	for i, r := range src {
		if i >= len(remap) {
			return
		}
		if bone := int(remap[i]); bone < len(dst) {
			dst[bone] = math32.Max(dst[bone], r)
		}
	}
}

// commitIndices releases and allocates culling handles, then clears stale
// handle tags before new handles are written.
func (p *Pipeline) commitIndices(store Store, ops *opBuffer, cmds *Commands) {
	for _, op := range ops.culling {
		if op.add {
			continue
		}
		if _, ok := p.culling.Release(op.skeleton); ok {
			cmds.HandlesReleased++
			cmds.change(op.skeleton, RemoveTag, ecs.TagCulled)
		}
	}
	for _, op := range ops.culling {
		if !op.add {
			continue
		}
		h, created := p.culling.Allocate(op.skeleton)
		if !created {
			continue
		}
		cmds.HandlesAllocated++
		cmds.Culling = append(cmds.Culling, CullingAssignment{Skeleton: op.skeleton, Handle: h})
		cmds.change(op.skeleton, AddTag, ecs.TagCulled)
	}

	// A rebaked skeleton keeps its handle but has a new bone set: sweep the
	// handle's old tags and write it again below.
	var retag []ecs.Entity
	for _, op := range ops.skeletons {
		if op.kind != skeletonUpdate || slices.ContainsFunc(cmds.Culling, func(a CullingAssignment) bool {
			return a.Skeleton == op.record.Entity
		}) {
			continue
		}
		if p.culling.MarkDirty(op.record.Entity) {
			retag = append(retag, op.record.Entity)
		}
	}

	if p.culling.HasPending() {
		cmds.BonesReset = store.ResetCullingTags(p.culling.PendingClear())
		p.culling.ClearPending()
	}

	for _, a := range cmds.Culling {
		store.TagBones(a.Skeleton, uint32(a.Handle))
	}
	for _, e := range retag {
		h, _ := p.culling.Lookup(e)
		store.TagBones(e, uint32(h))
	}
}

// publish turns the applied operations into structural changes.
func (p *Pipeline) publish(ops *opBuffer, cmds *Commands) {
	for _, op := range ops.bindings {
		if op.kind != opUnbind {
			continue
		}
		if op.prev.failed {
			cmds.change(op.mesh, RemoveTag, ecs.TagFailedBinding)
		} else {
			cmds.Unbound++
			cmds.Unbindings = append(cmds.Unbindings, op.mesh)
			cmds.change(op.mesh, RemoveTag, ecs.TagBound)
		}
		cmds.change(op.mesh, ClearParent, 0)
	}

	for _, op := range ops.bindings {
		if op.kind != opBind || op.req.failed {
			continue
		}
		b := op.req.binding
		cmds.Bound++
		cmds.Bindings = append(cmds.Bindings, BoundMesh{
			Mesh:        op.mesh,
			Skeleton:    op.skeleton,
			Key:         b.blob.ID,
			Ranges:      b.slot.Ranges,
			Entry:       b.entry,
			BoneOffsets: meshpool.Range{Start: b.offsets.Start, Count: b.offsets.Length},
		})
		cmds.change(op.mesh, AddTag, ecs.TagBound)
		cmds.setParent(op.mesh, op.skeleton)
	}

	slices.SortFunc(ops.failures, func(x, y failure) int {
		return x.record.Entity.Compare(y.record.Entity)
	})
	for _, f := range ops.failures {
		cmds.Failed++
		cmds.Failures = append(cmds.Failures, BindFailure{
			Mesh:   f.record.Entity,
			Target: f.record.Target,
			Err:    f.err,
		})
		cmds.change(f.record.Entity, AddTag, ecs.TagFailedBinding)
		cmds.change(f.record.Entity, ParentToFailedRoot, 0)
		p.log.Warn("skinned mesh binding failed",
			zap.Stringer("mesh", f.record.Entity),
			zap.Stringer("target", f.record.Target),
			zap.Error(f.err))
	}

	for _, e := range ops.rebinds {
		cmds.change(e, ClearRebind, 0)
	}

	cmds.MeshSlots = p.meshes.Len()
	cmds.OffsetEntries = p.offsets.Len()
}
