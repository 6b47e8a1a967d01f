package binding

import (
	"errors"
	"fmt"

	"github.com/Faultbox/midgard-skin/internal/engine/ecs"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/meshpool"
)

// Validation and resolution errors recorded per mesh.
var (
	ErrNilStore             = errors.New("nil store")
	ErrTargetDead           = errors.New("target skeleton does not exist")
	ErrNotSkeleton          = errors.New("target does not lead to a skeleton")
	ErrRedirectLimit        = errors.New("redirect chain exceeds iteration bound")
	ErrInvalidMesh          = errors.New("mesh blob has invalid counts")
	ErrMissingSkeletonPaths = errors.New("skeleton has no bone paths")
	ErrMissingBindPaths     = errors.New("mesh has neither bind paths nor override indices")
	ErrPathCount            = errors.New("bind path count does not match bind pose count")
	ErrOverrideCount        = errors.New("override index count does not match bind pose count")
	ErrOverrideRange        = errors.New("override index out of skeleton range")
	ErrBoundsCount          = errors.New("bone bounds count does not match bind pose count")
)

// ErrInconsistent is returned by Validate when the bookkeeping and the
// resource tables disagree.
var ErrInconsistent = errors.New("skinning state inconsistent")

// BindError records why a mesh could not be bound.
type BindError struct {
	Mesh   ecs.Entity
	Target ecs.Entity
	Err    error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("binding %v to %v: %v", e.Mesh, e.Target, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

func invalidMesh(kind meshpool.Kind, n int) error {
	return fmt.Errorf("%w: %s count %d", ErrInvalidMesh, kind, n)
}
