// Package meshpool manages the four shared GPU arenas holding skinned mesh
// payloads. Meshes are deduplicated by blob ID and reference counted.
package meshpool

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
	"github.com/Faultbox/midgard-skin/pkg/gaplist"
)

// Errors returned by the pool.
var (
	ErrInvalidSize = errors.New("invalid buffer size")
	ErrUnknownKey  = errors.New("mesh not resident")
)

// Kind selects one of the four arenas.
type Kind int

const (
	Vertices Kind = iota
	Weights
	BindPoses
	BlendShapes

	NumKinds
)

var kindNames = [NumKinds]string{"vertices", "weights", "bindposes", "blendshapes"}

func (k Kind) String() string {
	if k < 0 || k >= NumKinds {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Sizes holds the element count for each arena.
type Sizes [NumKinds]int

// SizesOf returns the arena sizes a mesh blob needs.
func SizesOf(m *asset.MeshBlob) Sizes {
	return Sizes{m.VertexCount, m.WeightCount, m.BindPoseCount, m.BlendShapeCount}
}

// Range is an allocated [Start, Start+Count) run in one arena.
type Range struct {
	Start uint32
	Count uint32
}

// Slot is a resident mesh payload.
type Slot struct {
	Key      asset.ID
	Ranges   [NumKinds]Range
	RefCount int
}

// UploadCommand asks the GPU uploader to copy a mesh's payload into the
// arenas at the given offsets.
type UploadCommand struct {
	Key     asset.ID
	Offsets [NumKinds]uint32
	Counts  [NumKinds]uint32
}

// Pool owns the arenas. It is not safe for concurrent mutation.
type Pool struct {
	arenas  [NumKinds]*gaplist.List
	slots   map[asset.ID]*Slot
	uploads []UploadCommand
	log     *zap.Logger
}

// New creates an empty pool.
func New(log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	p := &Pool{
		slots: make(map[asset.ID]*Slot),
		log:   log,
	}
	for i := range p.arenas {
		p.arenas[i] = gaplist.New()
	}
	return p
}

// Acquire returns the slot for key, allocating arena space and queuing an
// upload the first time the key is seen.
func (p *Pool) Acquire(key asset.ID, sizes Sizes) (Slot, error) {
	if s, ok := p.slots[key]; ok {
		s.RefCount++
		return *s, nil
	}
	for k, n := range sizes {
		if n < 0 || int64(n) > math.MaxUint32 {
			return Slot{}, fmt.Errorf("%w: %s count %d", ErrInvalidSize, Kind(k), n)
		}
	}

	s := &Slot{Key: key, RefCount: 1}
	cmd := UploadCommand{Key: key}
	for k, n := range sizes {
		count := uint32(n)
		start := p.arenas[k].Allocate(count)
		s.Ranges[k] = Range{Start: start, Count: count}
		cmd.Offsets[k] = start
		cmd.Counts[k] = count
	}
	p.slots[key] = s
	p.uploads = append(p.uploads, cmd)

	p.log.Debug("mesh slot created",
		zap.Uint64("key", uint64(key)),
		zap.Uint32("vertexStart", s.Ranges[Vertices].Start),
		zap.Uint32("vertexCount", s.Ranges[Vertices].Count))
	return *s, nil
}

// Release drops one reference to key. freed reports whether the slot was
// destroyed and its ranges returned to the arenas.
func (p *Pool) Release(key asset.ID) (freed bool, err error) {
	s, ok := p.slots[key]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrUnknownKey, key)
	}
	s.RefCount--
	if s.RefCount > 0 {
		return false, nil
	}

	for k, r := range s.Ranges {
		p.arenas[k].Free(r.Start, r.Count)
	}
	delete(p.slots, key)

	// The uploader may not have consumed the command yet.
	p.uploads = slices.DeleteFunc(p.uploads, func(c UploadCommand) bool {
		return c.Key == key
	})

	p.log.Debug("mesh slot destroyed", zap.Uint64("key", uint64(key)))
	return true, nil
}

// Slot returns the resident slot for key.
func (p *Pool) Slot(key asset.ID) (Slot, bool) {
	s, ok := p.slots[key]
	if !ok {
		return Slot{}, false
	}
	return *s, true
}

// RefCount returns the number of live references to key.
func (p *Pool) RefCount(key asset.ID) int {
	if s, ok := p.slots[key]; ok {
		return s.RefCount
	}
	return 0
}

// Len returns the number of resident slots.
func (p *Pool) Len() int {
	return len(p.slots)
}

// RequiredSize returns the element count the GPU buffer of kind must hold.
func (p *Pool) RequiredSize(kind Kind) uint32 {
	return p.arenas[kind].End()
}

// RequiredSizes returns RequiredSize for every kind.
func (p *Pool) RequiredSizes() [NumKinds]uint32 {
	var out [NumKinds]uint32
	for k := range p.arenas {
		out[k] = p.arenas[k].End()
	}
	return out
}

// Gaps exposes the free regions of one arena.
func (p *Pool) Gaps(kind Kind) []gaplist.Gap {
	return p.arenas[kind].Gaps()
}

// PendingUploads returns the queued upload commands without consuming them.
func (p *Pool) PendingUploads() []UploadCommand {
	return slices.Clone(p.uploads)
}

// DrainUploads returns and clears the queued upload commands.
func (p *Pool) DrainUploads() []UploadCommand {
	out := p.uploads
	p.uploads = nil
	return out
}

// Reset releases every slot regardless of reference count.
func (p *Pool) Reset() {
	for _, a := range p.arenas {
		a.Reset()
	}
	clear(p.slots)
	p.uploads = nil
}

// Validate checks that arenas are consistent and that slots do not overlap.
func (p *Pool) Validate() error {
	for k, a := range p.arenas {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("%s arena: %w", Kind(k), err)
		}
		var used uint32
		for _, s := range p.slots {
			if s.RefCount <= 0 {
				return fmt.Errorf("slot %d has refcount %d", s.Key, s.RefCount)
			}
			used += s.Ranges[k].Count
		}
		if used != a.Used() {
			return fmt.Errorf("%s arena: slots use %d units, arena reports %d", Kind(k), used, a.Used())
		}
	}
	return nil
}
