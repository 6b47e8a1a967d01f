// Package ecs implements a small in-memory entity store holding the
// components the skinning systems read and write.
package ecs

import "fmt"

// Entity identifies an entity. The generation detects handles that outlived
// their entity after the index was recycled.
type Entity struct {
	Index      uint32
	Generation uint32
}

// Null is the zero entity. It is never alive.
var Null Entity

// IsNull reports whether e is the zero entity.
func (e Entity) IsNull() bool {
	return e == Null
}

// Less orders entities by index, then generation.
func (e Entity) Less(other Entity) bool {
	if e.Index != other.Index {
		return e.Index < other.Index
	}
	return e.Generation < other.Generation
}

// Compare returns -1, 0 or 1 like cmp.Compare.
func (e Entity) Compare(other Entity) int {
	switch {
	case e.Less(other):
		return -1
	case other.Less(e):
		return 1
	}
	return 0
}

func (e Entity) String() string {
	return fmt.Sprintf("Entity(%d:%d)", e.Index, e.Generation)
}

// Kind describes what an entity represents.
type Kind uint8

const (
	KindNone Kind = iota
	KindMesh
	KindSkeleton
	KindRedirect // points at another entity that leads to a skeleton
	KindSentinel
)

func (k Kind) String() string {
	switch k {
	case KindMesh:
		return "mesh"
	case KindSkeleton:
		return "skeleton"
	case KindRedirect:
		return "redirect"
	case KindSentinel:
		return "sentinel"
	}
	return "none"
}

// registry hands out generational entities, recycling freed indices.
// Index 0 is skipped so Null is never issued.
type registry struct {
	generations []uint32
	free        []uint32
	alive       int
}

func (r *registry) create() Entity {
	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		if len(r.generations) == 0 {
			r.generations = append(r.generations, 0)
		}
		index = uint32(len(r.generations))
		r.generations = append(r.generations, 0)
	}
	r.generations[index]++
	r.alive++
	return Entity{Index: index, Generation: r.generations[index]}
}

func (r *registry) destroy(e Entity) bool {
	if !r.isAlive(e) {
		return false
	}
	r.generations[e.Index]++
	r.free = append(r.free, e.Index)
	r.alive--
	return true
}

// Alive entities have an odd generation; destroy bumps it to even.
func (r *registry) isAlive(e Entity) bool {
	if e.IsNull() || int(e.Index) >= len(r.generations) {
		return false
	}
	g := r.generations[e.Index]
	return g == e.Generation && g%2 == 1
}
