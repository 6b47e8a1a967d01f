package binding

import (
	"math"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/midgard-skin/internal/engine/ecs"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/meshpool"
)

// partitions splits n records into at most workers contiguous ranges of at
// least minSize records.
func partitions(n, workers, minSize int) [][2]int {
	if n == 0 {
		return nil
	}
	parts := min(workers, max(1, n/minSize))
	size := (n + parts - 1) / parts
	out := make([][2]int, 0, parts)
	for lo := 0; lo < n; lo += size {
		out = append(out, [2]int{lo, min(lo+size, n)})
	}
	return out
}

// discover scans the store concurrently. Workers only read the store and the
// pipeline's state and each writes to its own buffer.
func (p *Pipeline) discover(store Store) (*opBuffer, error) {
	meshes := store.MeshRecords()
	skeletons := store.SkeletonRecords()
	known := make([]ecs.Entity, 0, len(p.bindings))
	for e := range p.bindings {
		known = append(known, e)
	}
	tracked := make([]ecs.Entity, 0, len(p.skeletons))
	for e := range p.skeletons {
		tracked = append(tracked, e)
	}

	meshParts := partitions(len(meshes), p.opts.Workers, p.opts.MinPartition)
	knownParts := partitions(len(known), p.opts.Workers, p.opts.MinPartition)
	skelParts := partitions(len(skeletons), p.opts.Workers, p.opts.MinPartition)
	trackedParts := partitions(len(tracked), p.opts.Workers, p.opts.MinPartition)

	bufs := make([]opBuffer, len(meshParts)+len(knownParts)+len(skelParts)+len(trackedParts))
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)

	next := 0
	for _, r := range meshParts {
		buf := &bufs[next]
		next++
		g.Go(func() error {
			for _, rec := range meshes[r[0]:r[1]] {
				p.scanMesh(store, rec, buf)
			}
			return nil
		})
	}
	for _, r := range knownParts {
		buf := &bufs[next]
		next++
		g.Go(func() error {
			for _, e := range known[r[0]:r[1]] {
				if _, ok := store.Mesh(e); !ok {
					buf.detach(p.bindings[e])
				}
			}
			return nil
		})
	}
	for _, r := range skelParts {
		buf := &bufs[next]
		next++
		g.Go(func() error {
			for _, rec := range skeletons[r[0]:r[1]] {
				p.scanSkeleton(rec, buf)
			}
			return nil
		})
	}
	for _, r := range trackedParts {
		buf := &bufs[next]
		next++
		g.Go(func() error {
			for _, e := range tracked[r[0]:r[1]] {
				if _, ok := store.Skeleton(e); ok {
					continue
				}
				buf.skeletons = append(buf.skeletons, skeletonOp{
					kind:   skeletonRemove,
					record: SkeletonRecord{Entity: e},
				})
				if _, held := p.culling.Lookup(e); held {
					buf.culling = append(buf.culling, cullOp{skeleton: e})
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return merge(bufs), nil
}

// scanMesh decides whether a mesh must be unbound, bound, or left alone.
func (p *Pipeline) scanMesh(store Store, rec MeshRecord, buf *opBuffer) {
	prev := p.bindings[rec.Entity]
	if rec.Rebind {
		buf.rebinds = append(buf.rebinds, rec.Entity)
	}

	if rec.Mesh == nil || rec.Target.IsNull() {
		if prev != nil {
			buf.detach(prev)
		}
		return
	}

	if prev != nil {
		if !p.needsRebind(store, rec, prev) {
			return
		}
		buf.detach(prev)
	}

	req, err := p.evaluate(store, rec)
	if err != nil {
		buf.fail(rec, err)
		return
	}
	buf.bind(req)
}

func (p *Pipeline) needsRebind(store Store, rec MeshRecord, prev *meshBinding) bool {
	if rec.Rebind || rec.Mesh != prev.blob || rec.Target != prev.target ||
		!slices.Equal(rec.Override, prev.override) {
		return true
	}
	if prev.failed {
		return false
	}
	skel, ok := store.Skeleton(prev.skeleton)
	return !ok || skel.Blob != prev.skeletonBlob
}

// evaluate resolves the target skeleton and validates the mesh against it.
// Bone path matching is left to apply-resources since it mutates the table.
func (p *Pipeline) evaluate(store Store, rec MeshRecord) (*bindRequest, error) {
	mesh := rec.Mesh
	for k, n := range meshpool.SizesOf(mesh) {
		if n < 0 || int64(n) > math.MaxUint32 {
			return nil, invalidMesh(meshpool.Kind(k), n)
		}
	}
	if mesh.BoneBounds != nil && len(mesh.BoneBounds) != mesh.BindPoseCount {
		return nil, ErrBoundsCount
	}

	skel, err := p.resolveTarget(store, rec.Target)
	if err != nil {
		return nil, err
	}

	req := &bindRequest{record: rec, skeleton: skel}
	if rec.Override != nil {
		if len(rec.Override) != mesh.BindPoseCount {
			return nil, ErrOverrideCount
		}
		bones := skel.BoneCount()
		for _, idx := range rec.Override {
			if int(idx) >= bones {
				return nil, ErrOverrideRange
			}
		}
		req.override = slices.Clone(rec.Override)
		return req, nil
	}

	switch {
	case mesh.BindPaths == nil:
		return nil, ErrMissingBindPaths
	case mesh.BindPaths.Len() != mesh.BindPoseCount:
		return nil, ErrPathCount
	case skel.Blob == nil || skel.Blob.Paths == nil:
		return nil, ErrMissingSkeletonPaths
	}
	return req, nil
}

// resolveTarget follows redirect links from target until it reaches a
// skeleton. Exceeding the iteration bound fails the binding.
func (p *Pipeline) resolveTarget(store Store, target ecs.Entity) (SkeletonRecord, error) {
	e := target
	for i := 0; i <= p.opts.MaxRedirects; i++ {
		if !store.IsAlive(e) {
			return SkeletonRecord{}, ErrTargetDead
		}
		if skel, ok := store.Skeleton(e); ok {
			return skel, nil
		}
		next, ok := store.Redirect(e)
		if !ok {
			return SkeletonRecord{}, ErrNotSkeleton
		}
		e = next
	}
	p.log.Error("redirect chain exceeded iteration bound",
		zap.Stringer("target", target),
		zap.Int("bound", p.opts.MaxRedirects),
		zap.Bool("internal", true))
	return SkeletonRecord{}, ErrRedirectLimit
}

// scanSkeleton tracks skeleton appearance, rebakes and culling eligibility.
func (p *Pipeline) scanSkeleton(rec SkeletonRecord, buf *opBuffer) {
	state, known := p.skeletons[rec.Entity]
	switch {
	case !known:
		buf.skeletons = append(buf.skeletons, skeletonOp{kind: skeletonAdd, record: rec})
	case state.blob != rec.Blob:
		buf.skeletons = append(buf.skeletons, skeletonOp{kind: skeletonUpdate, record: rec})
	}

	_, held := p.culling.Lookup(rec.Entity)
	switch {
	case rec.ExposedCulling && !held:
		buf.culling = append(buf.culling, cullOp{skeleton: rec.Entity, add: true})
	case !rec.ExposedCulling && held:
		buf.culling = append(buf.culling, cullOp{skeleton: rec.Entity})
	}
}
