package ecs

import (
	"testing"

	"github.com/bits-and-blooms/bitset"

	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
)

func testSkeleton(bones ...string) *asset.SkeletonBlob {
	return &asset.SkeletonBlob{ID: asset.NewID(), Name: "skel", Paths: asset.NewPathBlob(bones...)}
}

func TestWorldDestroyRemovesComponents(t *testing.T) {
	w := NewWorld()
	skel := w.CreateSkeleton(testSkeleton("root", "root/hip"), true)
	mesh := w.CreateMesh(&asset.MeshBlob{ID: asset.NewID()}, skel)
	w.AddTag(mesh, TagBound)
	w.SetParent(mesh, skel)

	if got := w.KindOf(mesh); got != KindMesh {
		t.Errorf("expected mesh kind, got %s", got)
	}
	if !w.Destroy(mesh) {
		t.Fatal("destroy failed")
	}
	if _, ok := w.Mesh(mesh); ok {
		t.Error("mesh component survived destroy")
	}
	if w.HasTag(mesh, TagBound) {
		t.Error("tag survived destroy")
	}
	if _, ok := w.Parent(mesh); ok {
		t.Error("parent survived destroy")
	}
	if w.Len() != 1 {
		t.Errorf("expected 1 live entity, got %d", w.Len())
	}
}

func TestWorldTagsOnDeadEntityIgnored(t *testing.T) {
	w := NewWorld()
	e := w.CreateRedirect(Null)
	w.Destroy(e)
	w.AddTag(e, TagCulled)
	w.SetParent(e, Entity{Index: 7, Generation: 1})
	if w.HasTag(e, TagCulled) {
		t.Error("tag added to dead entity")
	}
	if _, ok := w.Parent(e); ok {
		t.Error("parent set on dead entity")
	}
}

func TestWorldFailedBindingsRootRecreated(t *testing.T) {
	w := NewWorld()
	root := w.FailedBindingsRoot()
	if root != w.FailedBindingsRoot() {
		t.Error("root changed between calls")
	}
	if w.KindOf(root) != KindSentinel {
		t.Errorf("expected sentinel, got %s", w.KindOf(root))
	}
	w.Destroy(root)
	next := w.FailedBindingsRoot()
	if next == root || !w.IsAlive(next) {
		t.Errorf("expected a fresh live root, got %v", next)
	}
}

func TestWorldCullingTags(t *testing.T) {
	w := NewWorld()
	a := w.CreateSkeleton(testSkeleton("a", "a/b", "a/c"), true)
	b := w.CreateSkeleton(testSkeleton("x"), true)

	if !w.TagBones(a, 3) || !w.TagBones(b, 5) {
		t.Fatal("TagBones failed")
	}
	pending := bitset.New(8)
	pending.Set(3)
	if got := w.ResetCullingTags(pending); got != 3 {
		t.Errorf("expected 3 bones reset, got %d", got)
	}
	sa, _ := w.Skeleton(a)
	for i, tag := range sa.BoneTags {
		if tag != 0 {
			t.Errorf("bone %d: expected neutral, got %d", i, tag)
		}
	}
	sb, _ := w.Skeleton(b)
	if sb.BoneTags[0] != 5 {
		t.Errorf("expected untouched handle 5, got %d", sb.BoneTags[0])
	}
	if got := w.ResetCullingTags(bitset.New(8)); got != 0 {
		t.Errorf("expected empty set to reset nothing, got %d", got)
	}
}

func TestWorldMeshUpdates(t *testing.T) {
	w := NewWorld()
	skel := w.CreateSkeleton(testSkeleton("root"), false)
	mesh := w.CreateMesh(nil, Null)

	w.SetMeshBlob(mesh, &asset.MeshBlob{ID: 42})
	w.SetMeshTarget(mesh, skel)
	w.SetOverride(mesh, []uint16{0})
	w.RequestRebind(mesh)

	m, ok := w.Mesh(mesh)
	if !ok {
		t.Fatal("mesh missing")
	}
	if m.Mesh.ID != 42 || m.Target != skel || len(m.Override) != 1 || !m.Rebind {
		t.Errorf("unexpected mesh component %+v", m)
	}
	w.ClearRebind(mesh)
	if m, _ := w.Mesh(mesh); m.Rebind {
		t.Error("rebind flag not cleared")
	}
	if w.SetMeshTarget(skel, mesh) {
		t.Error("SetMeshTarget succeeded on a skeleton")
	}
}

func TestWorldSetSkeletonBlobResetsTags(t *testing.T) {
	w := NewWorld()
	skel := w.CreateSkeleton(testSkeleton("root"), true)
	w.TagBones(skel, 2)
	w.SetSkeletonBlob(skel, testSkeleton("root", "root/a"))
	s, _ := w.Skeleton(skel)
	if len(s.BoneTags) != 2 || s.BoneTags[0] != 0 {
		t.Errorf("expected 2 neutral tags, got %v", s.BoneTags)
	}
}
