// Package boneoffsets allocates the shared table of mesh-to-skeleton bone
// index remaps. Remaps are deduplicated by content hash, and path based
// resolutions are memoized per (mesh paths, skeleton paths) pair.
package boneoffsets

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
	"github.com/Faultbox/midgard-skin/pkg/gaplist"
)

// Errors returned by the table.
var (
	ErrUnknownEntry  = errors.New("unknown bone offset entry")
	ErrNotReferenced = errors.New("bone offset entry not referenced by this source")
	ErrMissingPaths  = errors.New("missing bone path blob")
)

// EntryID is a stable handle to a table entry. IDs are recycled after the
// entry is destroyed.
type EntryID int32

// InvalidEntry is never returned for a live entry.
const InvalidEntry EntryID = -1

// Entry describes one deduplicated remap array.
type Entry struct {
	Hash      uint64
	Start     uint32
	Length    uint32 // logical number of indices
	GPULength uint32 // Length rounded up to an even count

	OverrideRefs int
	PathRefs     int
}

// RefCount returns the combined reference count.
func (e Entry) RefCount() int {
	return e.OverrideRefs + e.PathRefs
}

type pathPair struct {
	mesh     asset.ID
	skeleton asset.ID
}

// Table owns the bone offset arena. It is not safe for concurrent mutation,
// but read accessors may run concurrently once mutation has stopped.
type Table struct {
	arena   *gaplist.List
	data    []uint16
	entries []Entry
	live    []bool
	free    []EntryID
	byHash  map[uint64]EntryID
	byPaths map[pathPair]EntryID
	// Reverse index so destroying an entry can drop its cached pairs.
	pairsOf map[EntryID][]pathPair

	log *zap.Logger
}

// New creates an empty table.
func New(log *zap.Logger) *Table {
	if log == nil {
		log = zap.NewNop()
	}
	return &Table{
		arena:   gaplist.New(),
		byHash:  make(map[uint64]EntryID),
		byPaths: make(map[pathPair]EntryID),
		pairsOf: make(map[EntryID][]pathPair),
		log:     log,
	}
}

// Hash returns the content hash used for deduplication.
func Hash(indices []uint16) uint64 {
	d := xxhash.New()
	var buf [2]byte
	for _, v := range indices {
		binary.LittleEndian.PutUint16(buf[:], v)
		d.Write(buf[:])
	}
	return d.Sum64()
}

// ResolveOverride registers an explicitly supplied remap array.
func (t *Table) ResolveOverride(indices []uint16) EntryID {
	return t.acquire(indices, true)
}

// ResolvePaths maps every mesh bind path to a skeleton bone and registers the
// resulting remap array. Nothing is allocated when a path has no match.
func (t *Table) ResolvePaths(mesh, skeleton *asset.PathBlob) (EntryID, error) {
	if mesh == nil || skeleton == nil {
		return InvalidEntry, ErrMissingPaths
	}
	key := pathPair{mesh: mesh.ID, skeleton: skeleton.ID}
	if id, ok := t.byPaths[key]; ok {
		t.entries[id].PathRefs++
		return id, nil
	}

	indices, err := MatchPaths(mesh, skeleton)
	if err != nil {
		return InvalidEntry, err
	}
	id := t.acquire(indices, false)
	t.byPaths[key] = id
	t.pairsOf[id] = append(t.pairsOf[id], key)
	return id, nil
}

func (t *Table) acquire(indices []uint16, override bool) EntryID {
	h := Hash(indices)
	if id, ok := t.byHash[h]; ok {
		t.addRef(id, override)
		return id
	}

	length := uint32(len(indices))
	gpuLength := length + length&1
	start := t.arena.Allocate(gpuLength)
	if end := int(t.arena.End()); end > len(t.data) {
		t.data = slices.Grow(t.data, end-len(t.data))[:end]
	}
	copy(t.data[start:], indices)
	if gpuLength != length {
		t.data[start+length] = 0
	}

	id := t.newID()
	t.entries[id] = Entry{Hash: h, Start: start, Length: length, GPULength: gpuLength}
	t.addRef(id, override)
	t.byHash[h] = id

	t.log.Debug("bone offset entry created",
		zap.Int32("entry", int32(id)),
		zap.Uint32("start", start),
		zap.Uint32("length", length),
		zap.Bool("override", override))
	return id
}

func (t *Table) addRef(id EntryID, override bool) {
	if override {
		t.entries[id].OverrideRefs++
	} else {
		t.entries[id].PathRefs++
	}
}

func (t *Table) newID() EntryID {
	if n := len(t.free); n > 0 {
		id := t.free[n-1]
		t.free = t.free[:n-1]
		t.live[id] = true
		return id
	}
	t.entries = append(t.entries, Entry{})
	t.live = append(t.live, true)
	return EntryID(len(t.entries) - 1)
}

// Release drops one reference held by an override or path based binding.
// The entry is destroyed when neither kind of reference remains.
func (t *Table) Release(id EntryID, override bool) error {
	if !t.valid(id) {
		return fmt.Errorf("%w: %d", ErrUnknownEntry, id)
	}
	e := &t.entries[id]
	if override {
		if e.OverrideRefs == 0 {
			return fmt.Errorf("%w: %d (override)", ErrNotReferenced, id)
		}
		e.OverrideRefs--
	} else {
		if e.PathRefs == 0 {
			return fmt.Errorf("%w: %d (paths)", ErrNotReferenced, id)
		}
		e.PathRefs--
	}
	if e.RefCount() > 0 {
		return nil
	}

	t.arena.Free(e.Start, e.GPULength)
	if end := int(t.arena.End()); end < len(t.data) {
		t.data = t.data[:end]
	}
	delete(t.byHash, e.Hash)
	for _, pair := range t.pairsOf[id] {
		delete(t.byPaths, pair)
	}
	delete(t.pairsOf, id)
	t.entries[id] = Entry{}
	t.live[id] = false
	t.free = append(t.free, id)

	t.log.Debug("bone offset entry destroyed", zap.Int32("entry", int32(id)))
	return nil
}

func (t *Table) valid(id EntryID) bool {
	return id >= 0 && int(id) < len(t.entries) && t.live[id]
}

// Entry returns the entry for id.
func (t *Table) Entry(id EntryID) (Entry, bool) {
	if !t.valid(id) {
		return Entry{}, false
	}
	return t.entries[id], true
}

// Each calls fn for every live entry in id order.
func (t *Table) Each(fn func(id EntryID, e Entry)) {
	for i, e := range t.entries {
		if t.live[i] {
			fn(EntryID(i), e)
		}
	}
}

// Indices returns a read-only view of the entry's logical indices.
func (t *Table) Indices(id EntryID) []uint16 {
	if !t.valid(id) {
		return nil
	}
	e := t.entries[id]
	if e.Length == 0 {
		return nil
	}
	return t.data[e.Start : e.Start+e.Length : e.Start+e.Length]
}

// Lookup returns the entry currently registered for a remap array.
func (t *Table) Lookup(indices []uint16) (EntryID, bool) {
	id, ok := t.byHash[Hash(indices)]
	return id, ok
}

// CachedPaths reports whether a resolution for the pair is memoized.
func (t *Table) CachedPaths(mesh, skeleton asset.ID) (EntryID, bool) {
	id, ok := t.byPaths[pathPair{mesh: mesh, skeleton: skeleton}]
	return id, ok
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	return len(t.byHash)
}

// RequiredSize returns the number of uint16 indices the GPU buffer must hold.
// It is always even.
func (t *Table) RequiredSize() uint32 {
	return t.arena.End()
}

// Words packs the table into the 32-bit words uploaded to the GPU. Each word
// holds two indices, the even one in the low half.
func (t *Table) Words() []uint32 {
	out := make([]uint32, len(t.data)/2)
	for i := range out {
		out[i] = uint32(t.data[2*i]) | uint32(t.data[2*i+1])<<16
	}
	return out
}

// Reset destroys every entry.
func (t *Table) Reset() {
	t.arena.Reset()
	t.data = t.data[:0]
	t.entries = t.entries[:0]
	t.live = t.live[:0]
	t.free = t.free[:0]
	clear(t.byHash)
	clear(t.byPaths)
	clear(t.pairsOf)
}

// Validate cross-checks entries, hash map, path cache and arena usage.
func (t *Table) Validate() error {
	if err := t.arena.Validate(); err != nil {
		return err
	}
	var used uint32
	live := 0
	for i, e := range t.entries {
		id := EntryID(i)
		if !t.live[i] {
			continue
		}
		live++
		if e.RefCount() <= 0 {
			return fmt.Errorf("entry %d alive with no references", id)
		}
		if t.byHash[e.Hash] != id {
			return fmt.Errorf("entry %d not registered under its hash", id)
		}
		if e.GPULength%2 != 0 || e.GPULength < e.Length {
			return fmt.Errorf("entry %d has bad gpu length %d for length %d", id, e.GPULength, e.Length)
		}
		used += e.GPULength
	}
	if live != len(t.byHash) {
		return fmt.Errorf("%d live entries but %d hashes", live, len(t.byHash))
	}
	if used != t.arena.Used() {
		return fmt.Errorf("entries use %d units, arena reports %d", used, t.arena.Used())
	}
	for pair, id := range t.byPaths {
		if !t.valid(id) {
			return fmt.Errorf("path cache (%d,%d) points at dead entry %d", pair.mesh, pair.skeleton, id)
		}
	}
	return nil
}
