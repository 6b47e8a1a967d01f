// Package asset defines the baked mesh and skeleton blobs consumed by the
// skinning bookkeeping. Blobs are immutable once built and are compared by ID.
package asset

import (
	"strings"
	"sync/atomic"
)

// ID identifies a blob by content. Two blobs with the same ID are treated as
// the same GPU payload.
type ID uint64

var lastID atomic.Uint64

// NewID returns a process-unique blob ID.
func NewID() ID {
	return ID(lastID.Add(1))
}

// PathBlob holds bone bind paths. Each path is stored leaf-to-root, so the
// bone "Root/Arm/Hand" becomes []string{"Hand", "Arm", "Root"}.
type PathBlob struct {
	ID    ID
	Paths [][]string
}

// NewPathBlob builds a blob from slash separated root-to-leaf paths such as
// "Root/Arm/Hand".
func NewPathBlob(paths ...string) *PathBlob {
	blob := &PathBlob{
		ID:    NewID(),
		Paths: make([][]string, len(paths)),
	}
	for i, p := range paths {
		blob.Paths[i] = ParsePath(p)
	}
	return blob
}

// Len returns the number of paths.
func (b *PathBlob) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Paths)
}

// ParsePath splits a root-to-leaf path and reverses it to leaf-to-root order.
// Empty segments are dropped.
func ParsePath(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for i := len(parts) - 1; i >= 0; i-- {
		if parts[i] != "" {
			out = append(out, parts[i])
		}
	}
	return out
}

// FormatPath joins a leaf-to-root path back into root-to-leaf form.
func FormatPath(reversed []string) string {
	var sb strings.Builder
	for i := len(reversed) - 1; i >= 0; i-- {
		sb.WriteString(reversed[i])
		if i > 0 {
			sb.WriteByte('/')
		}
	}
	return sb.String()
}

// MeshBlob is the baked skinning payload of one mesh.
type MeshBlob struct {
	ID   ID
	Name string

	// Element counts of the four GPU buffers.
	VertexCount     int
	WeightCount     int
	BindPoseCount   int
	BlendShapeCount int

	// BoneBounds holds one radial bound per bind pose: the distance from the
	// bone to the farthest vertex it influences.
	BoneBounds []float32

	// BindPaths maps each bind pose to a bone path. Nil when the mesh is only
	// ever bound with explicit override indices.
	BindPaths *PathBlob
}

// SkeletonBlob is the baked bone hierarchy of a skeleton.
type SkeletonBlob struct {
	ID    ID
	Name  string
	Paths *PathBlob
}

// BoneCount returns the number of bones in the skeleton.
func (s *SkeletonBlob) BoneCount() int {
	if s == nil {
		return 0
	}
	return s.Paths.Len()
}
