package binding

import (
	"go.uber.org/multierr"

	"github.com/Faultbox/midgard-skin/internal/engine/ecs"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/boneoffsets"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/cullindex"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/meshpool"
)

// ChangeOp is a structural change the store applies at the barrier.
type ChangeOp uint8

const (
	AddTag ChangeOp = iota
	RemoveTag
	SetParent          // Parent holds the new parent
	ParentToFailedRoot // parent to the store's failed bindings root
	ClearParent
	ClearRebind
)

func (op ChangeOp) String() string {
	switch op {
	case AddTag:
		return "add-tag"
	case RemoveTag:
		return "remove-tag"
	case SetParent:
		return "set-parent"
	case ParentToFailedRoot:
		return "parent-to-failed-root"
	case ClearParent:
		return "clear-parent"
	case ClearRebind:
		return "clear-rebind"
	}
	return "unknown"
}

// Change is one declarative structural change.
type Change struct {
	Entity ecs.Entity
	Op     ChangeOp
	Tag    ecs.Tag
	Parent ecs.Entity
}

// BoundMesh describes a binding created this tick.
type BoundMesh struct {
	Mesh     ecs.Entity
	Skeleton ecs.Entity
	Key      asset.ID
	Ranges   [meshpool.NumKinds]meshpool.Range
	Entry    boneoffsets.EntryID
	// BoneOffsets is the [Start, Start+Length) run of the bone offset table.
	BoneOffsets meshpool.Range
}

// BindFailure records a binding abandoned this tick.
type BindFailure struct {
	Mesh   ecs.Entity
	Target ecs.Entity
	Err    error
}

// CullingAssignment is a culling handle given to a skeleton this tick.
type CullingAssignment struct {
	Skeleton ecs.Entity
	Handle   cullindex.Handle
}

// Stats summarizes one tick.
type Stats struct {
	Tick uint64

	Bound   int
	Unbound int
	Failed  int

	MeshSlotsCreated   int
	MeshSlotsDestroyed int
	MeshSlots          int
	OffsetEntries      int

	SkeletonsAdded   int
	SkeletonsRemoved int

	HandlesAllocated int
	HandlesReleased  int
	BonesReset       int
}

// Commands is the output of one tick: structural changes for the store and
// the derived data published to downstream consumers.
type Commands struct {
	Stats

	Changes    []Change
	Bindings   []BoundMesh
	Unbindings []ecs.Entity
	Failures   []BindFailure
	Culling    []CullingAssignment
}

// Err combines every failure of the tick. It is nil when all bindings
// succeeded.
func (c *Commands) Err() error {
	var err error
	for _, f := range c.Failures {
		err = multierr.Append(err, &BindError{Mesh: f.Mesh, Target: f.Target, Err: f.Err})
	}
	return err
}

func (c *Commands) change(e ecs.Entity, op ChangeOp, tag ecs.Tag) {
	c.Changes = append(c.Changes, Change{Entity: e, Op: op, Tag: tag})
}

func (c *Commands) setParent(e, parent ecs.Entity) {
	c.Changes = append(c.Changes, Change{Entity: e, Op: SetParent, Parent: parent})
}
