package main

import (
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/chewxy/math32"

	"github.com/Faultbox/midgard-skin/internal/config"
	"github.com/Faultbox/midgard-skin/internal/engine/ecs"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/binding"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/meshpool"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/skinworld"
	skmath "github.com/Faultbox/midgard-skin/pkg/math"
)

// summary is what a simulation run reports.
type summary struct {
	Ticks   int
	Bound   int
	Unbound int
	Failed  int

	MeshSlots     int
	OffsetEntries int
	Handles       int
	MaxHandle     uint32

	ArenaSizes  [meshpool.NumKinds]uint32
	OffsetWords int
	MaxBound    float32
	Elapsed     time.Duration
}

func (s summary) print(w io.Writer) {
	fmt.Fprintf(w, "Ticks:          %d (%v)\n", s.Ticks, s.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Bindings:       %d bound, %d unbound, %d failed\n", s.Bound, s.Unbound, s.Failed)
	fmt.Fprintf(w, "Mesh slots:     %d\n", s.MeshSlots)
	for k, n := range s.ArenaSizes {
		fmt.Fprintf(w, "  %-12s %d\n", meshpool.Kind(k), n)
	}
	fmt.Fprintf(w, "Offset entries: %d (%d words)\n", s.OffsetEntries, s.OffsetWords)
	fmt.Fprintf(w, "Culling:        %d handles, max index %d\n", s.Handles, s.MaxHandle)
	fmt.Fprintf(w, "Max bone bound: %.3f\n", s.MaxBound)
}

// simulation drives random lifecycle churn against a world.
type simulation struct {
	cfg config.SimulationConfig
	rng *rand.Rand

	world *ecs.World
	sys   *skinworld.System

	layouts   [][]string // bone path layouts skeletons are baked from
	meshBlobs []*asset.MeshBlob
	skeletons []ecs.Entity
	redirects []ecs.Entity
	meshes    []ecs.Entity
}

func newSimulation(cfg *config.Config) *simulation {
	seed := uint64(cfg.Simulation.Seed)
	s := &simulation{
		cfg:   cfg.Simulation,
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		world: ecs.NewWorld(),
	}
	s.sys = skinworld.NewSystem(s.world, cfg.Skinning)

	bones := max(1, s.cfg.Bones)
	base := s.boneLayout(bones)
	// A second layout lists the same bones in another order, as a rebaked
	// skeleton would.
	shuffled := append([]string(nil), base...)
	s.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	s.layouts = [][]string{base, shuffled}

	for range max(1, s.cfg.Meshes/4) {
		s.meshBlobs = append(s.meshBlobs, s.newMeshBlob(base))
	}
	for range max(1, s.cfg.Skeletons) {
		s.addSkeleton()
	}
	for i := range s.cfg.Meshes {
		s.addMesh(i)
	}
	return s
}

// boneLayout builds a random bone hierarchy rooted at "Root".
func (s *simulation) boneLayout(n int) []string {
	paths := []string{"Root"}
	for i := 1; i < n; i++ {
		parent := paths[s.rng.IntN(len(paths))]
		paths = append(paths, fmt.Sprintf("%s/Bone%d", parent, i))
	}
	return paths
}

func (s *simulation) newMeshBlob(layout []string) *asset.MeshBlob {
	poses := 1 + s.rng.IntN(min(8, len(layout)))
	paths := make([]string, poses)
	for i := range paths {
		paths[i] = layout[s.rng.IntN(len(layout))]
	}
	// Some meshes carry a bone no skeleton has.
	if s.rng.IntN(20) == 0 {
		paths[0] = "Root/Missing"
	}
	return &asset.MeshBlob{
		ID:              asset.NewID(),
		Name:            fmt.Sprintf("mesh%d", len(s.meshBlobs)),
		VertexCount:     64 + s.rng.IntN(4096),
		WeightCount:     64 + s.rng.IntN(8192),
		BindPoseCount:   poses,
		BlendShapeCount: s.rng.IntN(3) * 64,
		BoneBounds:      s.bakeBounds(poses),
		BindPaths:       asset.NewPathBlob(paths...),
	}
}

// bakeBounds places each bone at a random spot and scatters a few sample
// vertices around it.
func (s *simulation) bakeBounds(poses int) []float32 {
	const samples = 8
	inverse := make([]skmath.Mat4, poses)
	positions := make([]skmath.Vec3, 0, poses*samples)
	influences := make([]asset.Influence, 0, poses*samples)
	for i := range inverse {
		bone := s.randVec(4)
		inverse[i] = skmath.Translate(bone.Scale(-1))
		for range samples {
			influences = append(influences, asset.Influence{Vertex: len(positions), Pose: i})
			positions = append(positions, bone.Add(s.randVec(1)))
		}
	}
	bounds, err := asset.BakeBoneBounds(positions, influences, inverse)
	if err != nil {
		panic(err)
	}
	return bounds
}

func (s *simulation) randVec(extent float32) skmath.Vec3 {
	r := func() float32 { return (s.rng.Float32()*2 - 1) * extent }
	return skmath.Vec3{X: r(), Y: r(), Z: r()}
}

func (s *simulation) skeletonBlob() *asset.SkeletonBlob {
	layout := s.layouts[s.rng.IntN(len(s.layouts))]
	return &asset.SkeletonBlob{ID: asset.NewID(), Paths: asset.NewPathBlob(layout...)}
}

func (s *simulation) addSkeleton() {
	exposed := s.rng.Float32() < s.cfg.CullingRate
	e := s.world.CreateSkeleton(s.skeletonBlob(), exposed)
	s.skeletons = append(s.skeletons, e)
	s.redirects = append(s.redirects, s.world.CreateRedirect(e))
}

func (s *simulation) target() ecs.Entity {
	i := s.rng.IntN(len(s.skeletons))
	if s.rng.IntN(4) == 0 {
		return s.redirects[i]
	}
	return s.skeletons[i]
}

func (s *simulation) addMesh(slot int) {
	e := s.world.CreateMesh(s.meshBlobs[s.rng.IntN(len(s.meshBlobs))], s.target())
	if s.rng.IntN(10) == 0 {
		s.world.SetOverride(e, s.override(e))
	}
	if slot < len(s.meshes) {
		s.meshes[slot] = e
	} else {
		s.meshes = append(s.meshes, e)
	}
}

func (s *simulation) override(e ecs.Entity) []uint16 {
	m, _ := s.world.Mesh(e)
	out := make([]uint16, m.Mesh.BindPoseCount)
	for i := range out {
		out[i] = uint16(s.rng.IntN(max(1, s.cfg.Bones)))
	}
	return out
}

// churn applies one tick's worth of random lifecycle changes.
func (s *simulation) churn() {
	if len(s.meshes) == 0 {
		return
	}
	n := int(math32.Ceil(float32(len(s.meshes)) * s.cfg.ChurnRate))
	for range n {
		i := s.rng.IntN(len(s.meshes))
		e := s.meshes[i]
		switch s.rng.IntN(8) {
		case 0, 1:
			s.world.SetMeshTarget(e, s.target())
		case 2:
			s.world.SetMeshBlob(e, s.meshBlobs[s.rng.IntN(len(s.meshBlobs))])
			s.world.SetOverride(e, nil)
		case 3:
			s.world.Destroy(e)
			s.addMesh(i)
		case 4:
			s.world.SetMeshTarget(e, ecs.Null)
		case 5:
			s.world.RequestRebind(e)
		case 6:
			j := s.rng.IntN(len(s.skeletons))
			sk, _ := s.world.Skeleton(s.skeletons[j])
			s.world.SetExposedCulling(s.skeletons[j], !sk.ExposedCulling)
		case 7:
			if s.rng.IntN(4) == 0 {
				s.replaceSkeleton(s.rng.IntN(len(s.skeletons)))
			} else {
				s.world.SetSkeletonBlob(s.skeletons[s.rng.IntN(len(s.skeletons))], s.skeletonBlob())
			}
		}
	}
}

// replaceSkeleton destroys skeleton i and its redirect and creates a new one
// in its place. Meshes targeting the old one fail until retargeted.
func (s *simulation) replaceSkeleton(i int) {
	s.world.Destroy(s.skeletons[i])
	s.world.Destroy(s.redirects[i])
	exposed := s.rng.Float32() < s.cfg.CullingRate
	s.skeletons[i] = s.world.CreateSkeleton(s.skeletonBlob(), exposed)
	s.redirects[i] = s.world.CreateRedirect(s.skeletons[i])
}

func (s *simulation) run(verbose bool, out io.Writer) (summary, error) {
	var sum summary
	start := time.Now()

	var ticker *time.Ticker
	if s.cfg.TickInterval > 0 {
		ticker = time.NewTicker(s.cfg.TickInterval)
		defer ticker.Stop()
	}

	for t := range s.cfg.Ticks {
		if t > 0 {
			s.churn()
		}
		cmds, err := s.sys.Tick()
		if err != nil {
			return sum, fmt.Errorf("tick %d: %w", t+1, err)
		}
		sum.add(cmds)
		if verbose {
			fmt.Fprintf(out, "tick %4d: +%d -%d !%d slots=%d entries=%d handles=+%d/-%d\n",
				cmds.Tick, cmds.Bound, cmds.Unbound, cmds.Failed,
				cmds.MeshSlots, cmds.OffsetEntries, cmds.HandlesAllocated, cmds.HandlesReleased)
		}
		if ticker != nil {
			<-ticker.C
		}
	}

	p := s.sys.Pipeline()
	sum.Elapsed = time.Since(start)
	sum.MeshSlots = p.Meshes().Len()
	sum.ArenaSizes = p.Meshes().RequiredSizes()
	sum.OffsetEntries = p.BoneOffsets().Len()
	sum.OffsetWords = len(p.BoneOffsets().Words())
	sum.Handles = p.Culling().Len()
	sum.MaxHandle = uint32(p.Culling().MaxIndex())
	for _, e := range s.skeletons {
		view, ok := p.Skeleton(e)
		if !ok {
			continue
		}
		for _, b := range view.Bounds {
			sum.MaxBound = math32.Max(sum.MaxBound, b)
		}
	}
	return sum, nil
}

func (s *summary) add(cmds *binding.Commands) {
	s.Ticks++
	s.Bound += cmds.Bound
	s.Unbound += cmds.Unbound
	s.Failed += cmds.Failed
}

// simulate runs the configured churn simulation to completion.
func simulate(cfg *config.Config, verbose bool, out io.Writer) (summary, error) {
	sim := newSimulation(cfg)
	defer sim.sys.Close()
	return sim.run(verbose, out)
}
