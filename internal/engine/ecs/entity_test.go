package ecs

import "testing"

func TestRegistrySkipsNull(t *testing.T) {
	var r registry
	e := r.create()
	if e.IsNull() {
		t.Fatal("first entity is Null")
	}
	if e.Index != 1 || e.Generation != 1 {
		t.Errorf("expected Entity(1:1), got %v", e)
	}
	if r.isAlive(Null) {
		t.Error("Null reported alive")
	}
}

func TestRegistryRecyclesWithNewGeneration(t *testing.T) {
	var r registry
	a := r.create()
	if !r.destroy(a) {
		t.Fatal("destroy failed")
	}
	if r.destroy(a) {
		t.Error("second destroy succeeded")
	}
	if r.isAlive(a) {
		t.Error("destroyed entity reported alive")
	}

	b := r.create()
	if b.Index != a.Index {
		t.Errorf("expected index %d reused, got %d", a.Index, b.Index)
	}
	if b.Generation != a.Generation+2 {
		t.Errorf("expected generation %d, got %d", a.Generation+2, b.Generation)
	}
	if r.isAlive(a) {
		t.Error("stale handle reported alive after reuse")
	}
	if !r.isAlive(b) {
		t.Error("new entity not alive")
	}
	if r.alive != 1 {
		t.Errorf("expected 1 alive, got %d", r.alive)
	}
}

func TestEntityCompare(t *testing.T) {
	tests := []struct {
		a, b Entity
		want int
	}{
		{Entity{1, 1}, Entity{2, 1}, -1},
		{Entity{2, 1}, Entity{1, 3}, 1},
		{Entity{1, 1}, Entity{1, 3}, -1},
		{Entity{4, 5}, Entity{4, 5}, 0},
	}
	for _, tt := range tests {
		if got := tt.a.Compare(tt.b); got != tt.want {
			t.Errorf("%v.Compare(%v): expected %d, got %d", tt.a, tt.b, tt.want, got)
		}
	}
}

func TestKindString(t *testing.T) {
	if KindRedirect.String() != "redirect" {
		t.Errorf("expected redirect, got %s", KindRedirect)
	}
	if Kind(99).String() != "none" {
		t.Errorf("expected none, got %s", Kind(99))
	}
}
