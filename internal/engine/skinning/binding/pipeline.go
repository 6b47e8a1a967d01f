// Package binding keeps skinned meshes bound to their skeletons. Each Update
// discovers lifecycle changes in parallel, merges the resulting operations
// into a canonical order, and applies them to the shared mesh arenas, bone
// offset table and culling registry exactly once per logical change.
package binding

import (
	"fmt"
	"runtime"
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-skin/internal/engine/ecs"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/boneoffsets"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/cullindex"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/meshpool"
	"github.com/Faultbox/midgard-skin/internal/logger"
)

// DefaultMaxRedirects bounds how many redirect links are followed when
// resolving a mesh's target skeleton.
const DefaultMaxRedirects = 999

// Options configures a Pipeline.
type Options struct {
	// Workers caps concurrent discover and apply-bindings jobs.
	// Zero uses GOMAXPROCS.
	Workers int
	// MaxRedirects bounds redirect chain traversal. Zero uses DefaultMaxRedirects.
	MaxRedirects int
	// ParallelBindings runs apply-bindings concurrently per skeleton.
	ParallelBindings bool
	// MinPartition is the smallest number of records a discover job scans.
	MinPartition int
	// CheckInvariants runs Validate after every tick and fails the tick on
	// a broken invariant.
	CheckInvariants bool
	Logger          *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.MaxRedirects <= 0 {
		o.MaxRedirects = DefaultMaxRedirects
	}
	if o.MinPartition <= 0 {
		o.MinPartition = 64
	}
	if o.Logger == nil {
		o.Logger = logger.Named("binding")
	}
	return o
}

// meshBinding is the pipeline's record of a mesh it has evaluated, either
// bound to a skeleton or parked on the failed bindings root.
type meshBinding struct {
	mesh     ecs.Entity
	blob     *asset.MeshBlob
	target   ecs.Entity
	override []uint16

	failed bool

	skeleton     ecs.Entity
	skeletonBlob *asset.SkeletonBlob
	entry        boneoffsets.EntryID
	viaOverride  bool
	slot         meshpool.Slot
	offsets      boneoffsets.Entry
}

// dependent is a bound mesh in a skeleton's unordered dependent list.
type dependent struct {
	mesh    ecs.Entity
	binding *meshBinding
	remap   []uint16
	bounds  []float32
}

type skeletonState struct {
	entity     ecs.Entity
	blob       *asset.SkeletonBlob
	dependents []dependent
	bounds     []float32
	// Set when the bone count changed and bounds need a full rescan.
	stale bool
}

// Pipeline owns the skinning resource tables. Update must not be called
// concurrently with itself or with the query methods.
type Pipeline struct {
	opts Options
	log  *zap.Logger

	meshes  *meshpool.Pool
	offsets *boneoffsets.Table
	culling *cullindex.Registry[ecs.Entity]

	bindings  map[ecs.Entity]*meshBinding
	skeletons map[ecs.Entity]*skeletonState

	tick uint64
}

// New creates a pipeline with empty resource tables.
func New(opts Options) *Pipeline {
	opts = opts.withDefaults()
	return &Pipeline{
		opts:      opts,
		log:       opts.Logger,
		meshes:    meshpool.New(opts.Logger.Named("meshpool")),
		offsets:   boneoffsets.New(opts.Logger.Named("boneoffsets")),
		culling:   cullindex.New[ecs.Entity](),
		bindings:  make(map[ecs.Entity]*meshBinding),
		skeletons: make(map[ecs.Entity]*skeletonState),
	}
}

// Update runs one tick against store and returns the structural changes the
// store must apply at its next barrier. Binding failures are reported on the
// returned Commands and never fail the tick. With CheckInvariants set, a
// broken invariant is returned together with the tick's commands.
func (p *Pipeline) Update(store Store) (*Commands, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	p.tick++
	cmds := &Commands{Stats: Stats{Tick: p.tick}}

	ops, err := p.discover(store)
	if err != nil {
		return nil, err
	}
	p.applyResources(ops, cmds)
	if err := p.applyBindings(ops, cmds); err != nil {
		return nil, err
	}
	p.commitIndices(store, ops, cmds)
	p.publish(ops, cmds)

	if p.opts.CheckInvariants {
		if err := p.Validate(); err != nil {
			p.log.Error("skinning invariants broken", zap.Error(err), zap.Bool("internal", true))
			return cmds, err
		}
	}

	p.log.Debug("skinning tick",
		zap.Uint64("tick", cmds.Tick),
		zap.Int("bound", cmds.Bound),
		zap.Int("unbound", cmds.Unbound),
		zap.Int("failed", cmds.Failed),
		zap.Int("meshSlots", cmds.MeshSlots),
		zap.Int("offsetEntries", cmds.OffsetEntries))
	return cmds, nil
}

// Meshes exposes the mesh arenas to the GPU uploader.
func (p *Pipeline) Meshes() *meshpool.Pool {
	return p.meshes
}

// BoneOffsets exposes the bone offset table to the GPU uploader.
func (p *Pipeline) BoneOffsets() *boneoffsets.Table {
	return p.offsets
}

// Culling exposes the culling registry to the culling sweep.
func (p *Pipeline) Culling() *cullindex.Registry[ecs.Entity] {
	return p.culling
}

// Tick returns the number of completed updates.
func (p *Pipeline) Tick() uint64 {
	return p.tick
}

// MeshBinding is the published state of one mesh.
type MeshBinding struct {
	Mesh     ecs.Entity
	Skeleton ecs.Entity
	Failed   bool
	Key      asset.ID
	Ranges   [meshpool.NumKinds]meshpool.Range
	Entry    boneoffsets.EntryID
	// BoneOffsets is the [Start, Start+Length) run of the bone offset table.
	BoneOffsets meshpool.Range
	Override    bool
}

func (b *meshBinding) view() MeshBinding {
	return MeshBinding{
		Mesh:        b.mesh,
		Skeleton:    b.skeleton,
		Failed:      b.failed,
		Key:         b.blob.ID,
		Ranges:      b.slot.Ranges,
		Entry:       b.entry,
		BoneOffsets: meshpool.Range{Start: b.offsets.Start, Count: b.offsets.Length},
		Override:    b.viaOverride,
	}
}

// Binding returns the state of mesh.
func (p *Pipeline) Binding(mesh ecs.Entity) (MeshBinding, bool) {
	b, ok := p.bindings[mesh]
	if !ok {
		return MeshBinding{}, false
	}
	return b.view(), true
}

// SkeletonView is the published state of a skeleton.
type SkeletonView struct {
	Entity        ecs.Entity
	Dependents    []MeshBinding
	Bounds        []float32
	CullingHandle cullindex.Handle
}

// Skeleton returns the state of a skeleton known to the pipeline.
func (p *Pipeline) Skeleton(e ecs.Entity) (SkeletonView, bool) {
	s, ok := p.skeletons[e]
	if !ok {
		return SkeletonView{}, false
	}
	v := SkeletonView{
		Entity:     e,
		Dependents: make([]MeshBinding, len(s.dependents)),
		Bounds:     slices.Clone(s.bounds),
	}
	for i, d := range s.dependents {
		v.Dependents[i] = d.binding.view()
	}
	v.CullingHandle, _ = p.culling.Lookup(e)
	return v, true
}

// SkeletonCount returns the number of skeletons known to the pipeline.
func (p *Pipeline) SkeletonCount() int {
	return len(p.skeletons)
}

// BindingCount returns the number of evaluated meshes, bound or failed.
func (p *Pipeline) BindingCount() int {
	return len(p.bindings)
}

// Close releases every resource. The pipeline can be reused afterwards.
func (p *Pipeline) Close() {
	p.meshes.Reset()
	p.offsets.Reset()
	p.culling = cullindex.New[ecs.Entity]()
	clear(p.bindings)
	clear(p.skeletons)
}

// Validate cross-checks the pipeline's bookkeeping against the resource
// tables: every dependent references a live slot and offset entry, and every
// reference count equals the number of dependents holding it.
func (p *Pipeline) Validate() error {
	if err := p.meshes.Validate(); err != nil {
		return fmt.Errorf("mesh arenas: %w", err)
	}
	if err := p.offsets.Validate(); err != nil {
		return fmt.Errorf("bone offsets: %w", err)
	}

	slots := make(map[asset.ID]int)
	overrides := make(map[boneoffsets.EntryID]int)
	paths := make(map[boneoffsets.EntryID]int)
	dependents := 0
	for e, s := range p.skeletons {
		for _, d := range s.dependents {
			b := d.binding
			if p.bindings[d.mesh] != b {
				return fmt.Errorf("%w: dependent %v of %v is not its mesh's binding", ErrInconsistent, d.mesh, e)
			}
			if b.skeleton != e {
				return fmt.Errorf("%w: dependent %v listed under %v, bound to %v", ErrInconsistent, d.mesh, e, b.skeleton)
			}
			if _, ok := p.meshes.Slot(b.blob.ID); !ok {
				return fmt.Errorf("%w: dependent %v has no mesh slot", ErrInconsistent, d.mesh)
			}
			if _, ok := p.offsets.Entry(b.entry); !ok {
				return fmt.Errorf("%w: dependent %v has no bone offset entry", ErrInconsistent, d.mesh)
			}
			slots[b.blob.ID]++
			if b.viaOverride {
				overrides[b.entry]++
			} else {
				paths[b.entry]++
			}
			dependents++
		}
	}

	bound := 0
	for _, b := range p.bindings {
		if !b.failed {
			bound++
		}
	}
	if bound != dependents {
		return fmt.Errorf("%w: %d live bindings, %d dependents", ErrInconsistent, bound, dependents)
	}
	if len(slots) != p.meshes.Len() {
		return fmt.Errorf("%w: %d referenced mesh slots, %d allocated", ErrInconsistent, len(slots), p.meshes.Len())
	}
	for key, n := range slots {
		if got := p.meshes.RefCount(key); got != n {
			return fmt.Errorf("%w: mesh slot %d has refcount %d, %d dependents", ErrInconsistent, key, got, n)
		}
	}

	var refErr error
	p.offsets.Each(func(id boneoffsets.EntryID, ent boneoffsets.Entry) {
		if refErr == nil && (ent.OverrideRefs != overrides[id] || ent.PathRefs != paths[id]) {
			refErr = fmt.Errorf("%w: bone offset entry %d refs (%d, %d), dependents (%d, %d)", ErrInconsistent,
				id, ent.OverrideRefs, ent.PathRefs, overrides[id], paths[id])
		}
	})
	return refErr
}
