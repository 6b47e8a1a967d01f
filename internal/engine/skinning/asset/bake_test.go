package asset

import (
	"testing"

	"github.com/Faultbox/midgard-skin/pkg/math"
)

func TestBakeBoneBounds(t *testing.T) {
	positions := []math.Vec3{{X: 0, Y: 0, Z: 0}, {X: 3, Y: 4, Z: 0}, {X: 10, Y: 0, Z: 0}, {X: 10, Y: 2, Z: 0}}
	poses := []math.Mat4{
		math.Identity(),
		math.Translate(math.Vec3{X: -10}),
		math.Identity(),
	}
	influences := []Influence{
		{Vertex: 0, Pose: 0},
		{Vertex: 1, Pose: 0},
		{Vertex: 2, Pose: 1},
		{Vertex: 3, Pose: 1},
	}

	bounds, err := BakeBoneBounds(positions, influences, poses)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []float32{5, 2, 0}
	if len(bounds) != len(want) {
		t.Fatalf("expected %d bounds, got %d", len(want), len(bounds))
	}
	for i := range want {
		if bounds[i] != want[i] {
			t.Errorf("pose %d: expected %f, got %f", i, want[i], bounds[i])
		}
	}
}

func TestBakeBoneBoundsRange(t *testing.T) {
	positions := []math.Vec3{{X: 1, Y: 0, Z: 0}}
	poses := []math.Mat4{math.Identity()}
	tests := []struct {
		name string
		in   Influence
	}{
		{"vertex", Influence{Vertex: 1, Pose: 0}},
		{"pose", Influence{Vertex: 0, Pose: 1}},
		{"negative", Influence{Vertex: -1, Pose: 0}},
	}
	for _, tt := range tests {
		if _, err := BakeBoneBounds(positions, []Influence{tt.in}, poses); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}
