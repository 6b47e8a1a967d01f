package boneoffsets

import (
	"fmt"
	"math"

	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
)

// NoMatchError reports the first mesh bind path with no skeleton bone.
type NoMatchError struct {
	Index int
	Path  []string // leaf-to-root
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no skeleton bone matches mesh path %d (%s)", e.Index, asset.FormatPath(e.Path))
}

// MatchPaths returns, for each mesh bind path, the index of the first
// skeleton bone whose path ends with it. Paths are compared leaf-to-root, so
// the mesh path must be a prefix of the bone's reversed path.
func MatchPaths(mesh, skeleton *asset.PathBlob) ([]uint16, error) {
	if mesh == nil || skeleton == nil {
		return nil, ErrMissingPaths
	}
	if skeleton.Len() > math.MaxUint16+1 {
		return nil, fmt.Errorf("skeleton has %d bones, more than a bone index can address", skeleton.Len())
	}

	out := make([]uint16, len(mesh.Paths))
	for i, mp := range mesh.Paths {
		bone := -1
		for j, sp := range skeleton.Paths {
			if hasPrefix(sp, mp) {
				bone = j
				break
			}
		}
		if bone < 0 {
			return nil, &NoMatchError{Index: i, Path: mp}
		}
		out[i] = uint16(bone)
	}
	return out, nil
}

func hasPrefix(path, prefix []string) bool {
	if len(prefix) == 0 || len(prefix) > len(path) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}
