package skinworld

import (
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-skin/internal/config"
	"github.com/Faultbox/midgard-skin/internal/engine/ecs"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/binding"
	"github.com/Faultbox/midgard-skin/internal/logger"
)

// Apply performs the structural changes of one tick. It must run at a
// barrier, after Update returned and before the next one starts.
func Apply(w *ecs.World, cmds *binding.Commands) {
	var failedRoot ecs.Entity
	for _, c := range cmds.Changes {
		switch c.Op {
		case binding.AddTag:
			w.AddTag(c.Entity, c.Tag)
		case binding.RemoveTag:
			w.RemoveTag(c.Entity, c.Tag)
		case binding.SetParent:
			w.SetParent(c.Entity, c.Parent)
		case binding.ParentToFailedRoot:
			if failedRoot.IsNull() {
				failedRoot = w.FailedBindingsRoot()
			}
			w.SetParent(c.Entity, failedRoot)
		case binding.ClearParent:
			w.SetParent(c.Entity, ecs.Null)
		case binding.ClearRebind:
			w.ClearRebind(c.Entity)
		}
	}
}

// Options converts the skinning config section into pipeline options.
func Options(cfg config.SkinningConfig) binding.Options {
	return binding.Options{
		Workers:          cfg.Workers,
		MaxRedirects:     cfg.MaxRedirects,
		ParallelBindings: cfg.ParallelBindings,
		MinPartition:     cfg.MinPartition,
		CheckInvariants:  cfg.Validate,
	}
}

// System owns a pipeline bound to one world.
type System struct {
	world    *ecs.World
	store    *Store
	pipeline *binding.Pipeline
	log      *zap.Logger
}

// NewSystem creates a skinning system for w.
func NewSystem(w *ecs.World, cfg config.SkinningConfig) *System {
	opts := Options(cfg)
	opts.Logger = logger.Named("skinning")
	return &System{
		world:    w,
		store:    NewStore(w),
		pipeline: binding.New(opts),
		log:      opts.Logger,
	}
}

// Tick runs one pipeline update and applies its changes to the world.
func (s *System) Tick() (*binding.Commands, error) {
	cmds, err := s.pipeline.Update(s.store)
	if cmds != nil {
		Apply(s.world, cmds)
	}
	if err != nil {
		return cmds, err
	}
	if cmds.Failed > 0 {
		s.log.Debug("tick finished with failed bindings",
			zap.Uint64("tick", cmds.Tick),
			zap.Int("failed", cmds.Failed))
	}
	return cmds, nil
}

// Pipeline returns the underlying pipeline for queries.
func (s *System) Pipeline() *binding.Pipeline {
	return s.pipeline
}

// World returns the world the system runs against.
func (s *System) World() *ecs.World {
	return s.world
}

// Close releases every skinning resource.
func (s *System) Close() {
	s.pipeline.Close()
}
