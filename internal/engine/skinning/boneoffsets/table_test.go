package boneoffsets

import (
	"errors"
	"slices"
	"testing"

	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
)

func TestResolveOverrideDeduplicates(t *testing.T) {
	tbl := New(nil)

	a := tbl.ResolveOverride([]uint16{0, 1, 1, 0})
	b := tbl.ResolveOverride([]uint16{0, 1, 1, 0})

	if a != b {
		t.Fatalf("expected identical arrays to share an entry, got %d and %d", a, b)
	}
	e, ok := tbl.Entry(a)
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if e.OverrideRefs != 2 {
		t.Errorf("expected 2 override refs, got %d", e.OverrideRefs)
	}
	if e.Length != 4 || e.GPULength != 4 {
		t.Errorf("expected length 4/4, got %d/%d", e.Length, e.GPULength)
	}
	if e.Hash != Hash([]uint16{0, 1, 1, 0}) {
		t.Errorf("expected entry hash to match content hash")
	}

	if err := tbl.Release(a, true); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	e, ok = tbl.Entry(a)
	if !ok || e.RefCount() != 1 {
		t.Fatalf("expected entry alive with 1 ref, got ok=%v refs=%d", ok, e.RefCount())
	}
	if err := tbl.Release(a, true); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, ok := tbl.Entry(a); ok {
		t.Error("expected entry destroyed after last release")
	}
	if tbl.RequiredSize() != 0 {
		t.Errorf("expected arena to shrink to 0, got %d", tbl.RequiredSize())
	}
}

func TestOddLengthPadding(t *testing.T) {
	tbl := New(nil)
	id := tbl.ResolveOverride([]uint16{3, 4, 5})

	e, _ := tbl.Entry(id)
	if e.Length != 3 || e.GPULength != 4 {
		t.Errorf("expected length 3 padded to 4, got %d/%d", e.Length, e.GPULength)
	}
	if !slices.Equal(tbl.Indices(id), []uint16{3, 4, 5}) {
		t.Errorf("expected indices [3 4 5], got %v", tbl.Indices(id))
	}

	words := tbl.Words()
	want := []uint32{3 | 4<<16, 5}
	if !slices.Equal(words, want) {
		t.Errorf("expected packed words %v, got %v", want, words)
	}
	if tbl.RequiredSize()%2 != 0 {
		t.Errorf("expected even required size, got %d", tbl.RequiredSize())
	}
}

func TestIndependentCounters(t *testing.T) {
	tbl := New(nil)
	mesh := asset.NewPathBlob("Root", "Root/Arm")
	skel := asset.NewPathBlob("Root", "Root/Arm", "Root/Arm/Hand")

	byPath, err := tbl.ResolvePaths(mesh, skel)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	byOverride := tbl.ResolveOverride([]uint16{0, 1})
	if byPath != byOverride {
		t.Fatalf("expected coincident arrays to share an entry, got %d and %d", byPath, byOverride)
	}

	e, _ := tbl.Entry(byPath)
	if e.PathRefs != 1 || e.OverrideRefs != 1 {
		t.Errorf("expected 1 path ref and 1 override ref, got %d and %d", e.PathRefs, e.OverrideRefs)
	}

	if err := tbl.Release(byOverride, true); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, ok := tbl.Entry(byPath); !ok {
		t.Fatal("expected path reference to keep the entry alive")
	}
	if err := tbl.Release(byOverride, true); !errors.Is(err, ErrNotReferenced) {
		t.Errorf("expected ErrNotReferenced for double override release, got %v", err)
	}
	if err := tbl.Release(byPath, false); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("expected no entries, got %d", tbl.Len())
	}
}

func TestResolvePathsCache(t *testing.T) {
	tbl := New(nil)
	mesh := asset.NewPathBlob("Root/Arm", "Root")
	skel := asset.NewPathBlob("Root", "Root/Arm")

	first, err := tbl.ResolvePaths(mesh, skel)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if !slices.Equal(tbl.Indices(first), []uint16{1, 0}) {
		t.Errorf("expected remap [1 0], got %v", tbl.Indices(first))
	}
	if cached, ok := tbl.CachedPaths(mesh.ID, skel.ID); !ok || cached != first {
		t.Fatalf("expected cached pair to point at %d, got %d (ok=%v)", first, cached, ok)
	}

	second, err := tbl.ResolvePaths(mesh, skel)
	if err != nil || second != first {
		t.Fatalf("expected cache hit on %d, got %d (err=%v)", first, second, err)
	}
	e, _ := tbl.Entry(first)
	if e.PathRefs != 2 {
		t.Errorf("expected 2 path refs, got %d", e.PathRefs)
	}

	tbl.Release(first, false)
	tbl.Release(first, false)
	if _, ok := tbl.CachedPaths(mesh.ID, skel.ID); ok {
		t.Error("expected cache entry dropped with its table entry")
	}
	if err := tbl.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestResolvePathsNoMatch(t *testing.T) {
	tbl := New(nil)
	mesh := asset.NewPathBlob("Root/Arm/Hand")
	skel := asset.NewPathBlob("Root", "Root/Leg", "Root/Leg/Foot")

	id, err := tbl.ResolvePaths(mesh, skel)
	var noMatch *NoMatchError
	if !errors.As(err, &noMatch) {
		t.Fatalf("expected NoMatchError, got %v", err)
	}
	if noMatch.Index != 0 {
		t.Errorf("expected unmatched index 0, got %d", noMatch.Index)
	}
	if id != InvalidEntry {
		t.Errorf("expected InvalidEntry, got %d", id)
	}
	if tbl.Len() != 0 || tbl.RequiredSize() != 0 {
		t.Errorf("expected nothing allocated, got %d entries size %d", tbl.Len(), tbl.RequiredSize())
	}
	if _, ok := tbl.CachedPaths(mesh.ID, skel.ID); ok {
		t.Error("expected failed resolution not to be cached")
	}
}

func TestResolvePathsMissingBlob(t *testing.T) {
	tbl := New(nil)
	if _, err := tbl.ResolvePaths(nil, asset.NewPathBlob("Root")); !errors.Is(err, ErrMissingPaths) {
		t.Errorf("expected ErrMissingPaths, got %v", err)
	}
}

func TestReleaseUnknown(t *testing.T) {
	tbl := New(nil)
	if err := tbl.Release(3, false); !errors.Is(err, ErrUnknownEntry) {
		t.Errorf("expected ErrUnknownEntry, got %v", err)
	}
}

func TestEntryIDsRecycled(t *testing.T) {
	tbl := New(nil)
	a := tbl.ResolveOverride([]uint16{1, 2})
	tbl.ResolveOverride([]uint16{3, 4})

	tbl.Release(a, true)
	c := tbl.ResolveOverride([]uint16{5, 6})
	if c != a {
		t.Errorf("expected recycled id %d, got %d", a, c)
	}
	e, _ := tbl.Entry(c)
	if e.Start != 0 {
		t.Errorf("expected freed range reused at 0, got %d", e.Start)
	}
	if err := tbl.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestMatchPathsSuffix(t *testing.T) {
	mesh := asset.NewPathBlob("Arm/Hand", "Hand")
	skel := asset.NewPathBlob("Root", "Root/Arm", "Root/Arm/Hand", "Root/Other/Hand")

	got, err := MatchPaths(mesh, skel)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	// "Hand" alone matches the first bone ending in Hand.
	if !slices.Equal(got, []uint16{2, 2}) {
		t.Errorf("expected [2 2], got %v", got)
	}

	mesh = asset.NewPathBlob("Root", "Other/Hand")
	got, err = MatchPaths(mesh, skel)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	if !slices.Equal(got, []uint16{0, 3}) {
		t.Errorf("expected [0 3], got %v", got)
	}
}

func TestNoMatchErrorMessage(t *testing.T) {
	err := &NoMatchError{Index: 2, Path: []string{"Hand", "Arm", "Root"}}
	want := "no skeleton bone matches mesh path 2 (Root/Arm/Hand)"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}
