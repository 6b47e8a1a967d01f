package asset

import (
	"errors"

	"github.com/chewxy/math32"

	"github.com/Faultbox/midgard-skin/pkg/math"
)

// Influence binds one vertex to one bind pose.
type Influence struct {
	Vertex int
	Pose   int
}

var errInfluenceRange = errors.New("influence out of range")

// BakeBoneBounds computes, for each bind pose, the largest distance from the
// bone to any vertex it influences, measured in bone space. Poses without
// influences get a zero bound.
func BakeBoneBounds(positions []math.Vec3, influences []Influence, inverseBindPoses []math.Mat4) ([]float32, error) {
	bounds := make([]float32, len(inverseBindPoses))
	for _, in := range influences {
		if in.Vertex < 0 || in.Vertex >= len(positions) || in.Pose < 0 || in.Pose >= len(inverseBindPoses) {
			return nil, errInfluenceRange
		}
		local := inverseBindPoses[in.Pose].TransformPoint(positions[in.Vertex])
		bounds[in.Pose] = math32.Max(bounds[in.Pose], local.Length())
	}
	return bounds, nil
}
