package meshpool

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
)

func TestAcquireDeduplicates(t *testing.T) {
	p := New(nil)
	sizes := Sizes{4, 8, 2, 0}

	first, err := p.Acquire(1, sizes)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		s, err := p.Acquire(1, sizes)
		if err != nil {
			t.Fatalf("acquire failed: %v", err)
		}
		if s.Ranges != first.Ranges {
			t.Errorf("expected shared ranges %v, got %v", first.Ranges, s.Ranges)
		}
	}

	if p.Len() != 1 {
		t.Errorf("expected 1 slot, got %d", p.Len())
	}
	if p.RefCount(1) != 5 {
		t.Errorf("expected refcount 5, got %d", p.RefCount(1))
	}
	if p.RequiredSize(Vertices) != 4 {
		t.Errorf("expected vertex arena size 4, got %d", p.RequiredSize(Vertices))
	}
	if n := len(p.PendingUploads()); n != 1 {
		t.Errorf("expected 1 upload, got %d", n)
	}

	for i := 0; i < 4; i++ {
		freed, err := p.Release(1)
		if err != nil || freed {
			t.Fatalf("expected live release, got freed=%v err=%v", freed, err)
		}
	}
	if p.RefCount(1) != 1 {
		t.Errorf("expected refcount 1, got %d", p.RefCount(1))
	}
	freed, err := p.Release(1)
	if err != nil || !freed {
		t.Fatalf("expected final release to free, got freed=%v err=%v", freed, err)
	}
	if p.Len() != 0 {
		t.Errorf("expected no slots, got %d", p.Len())
	}
	if err := p.Validate(); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
}

func TestAcquireInvalidSize(t *testing.T) {
	if strconv.IntSize < 64 {
		t.Skip("counts above MaxUint32 need a 64-bit int")
	}
	tooLarge := int64(math.MaxUint32) + 1
	tests := []struct {
		name  string
		sizes Sizes
	}{
		{"negative", Sizes{4, -1, 0, 0}},
		{"above uint32", Sizes{int(tooLarge), 0, 0, 0}},
	}
	for _, tt := range tests {
		p := New(nil)
		_, err := p.Acquire(1, tt.sizes)
		if !errors.Is(err, ErrInvalidSize) {
			t.Errorf("%s: expected ErrInvalidSize, got %v", tt.name, err)
		}
		if p.Len() != 0 || p.RequiredSize(Vertices) != 0 {
			t.Errorf("%s: expected nothing allocated, got %d slots", tt.name, p.Len())
		}
	}
}

func TestReleaseUnknown(t *testing.T) {
	p := New(nil)
	if _, err := p.Release(42); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("expected ErrUnknownKey, got %v", err)
	}
}

func TestReleaseCancelsPendingUpload(t *testing.T) {
	p := New(nil)
	p.Acquire(1, Sizes{4, 4, 1, 0})
	p.Acquire(2, Sizes{6, 6, 2, 0})

	p.Release(1)

	uploads := p.DrainUploads()
	if len(uploads) != 1 {
		t.Fatalf("expected 1 upload, got %d", len(uploads))
	}
	if uploads[0].Key != 2 {
		t.Errorf("expected upload for key 2, got %d", uploads[0].Key)
	}
	if uploads[0].Offsets[Vertices] != 4 {
		t.Errorf("expected vertex offset 4, got %d", uploads[0].Offsets[Vertices])
	}
	if len(p.DrainUploads()) != 0 {
		t.Error("expected drain to clear the queue")
	}
}

func TestReleaseReusesSpace(t *testing.T) {
	p := New(nil)
	sizes := Sizes{10, 20, 3, 5}

	p.Acquire(1, sizes)
	p.Acquire(2, sizes)
	before := p.RequiredSizes()

	p.Release(1)
	s, _ := p.Acquire(3, sizes)

	if s.Ranges[Vertices].Start != 0 {
		t.Errorf("expected key 3 to reuse offset 0, got %d", s.Ranges[Vertices].Start)
	}
	if p.RequiredSizes() != before {
		t.Errorf("expected footprint %v, got %v", before, p.RequiredSizes())
	}
}

func TestRoundTripNoLeak(t *testing.T) {
	p := New(nil)
	sizes := SizesOf(&asset.MeshBlob{VertexCount: 12, WeightCount: 48, BindPoseCount: 4})

	p.Acquire(7, sizes)
	single := p.RequiredSizes()
	p.Release(7)

	for i := 0; i < 10; i++ {
		p.Acquire(7, sizes)
		if p.RequiredSizes() != single {
			t.Fatalf("cycle %d: expected footprint %v, got %v", i, single, p.RequiredSizes())
		}
		p.Release(7)
	}
	if p.RequiredSize(Weights) != 0 {
		t.Errorf("expected empty weight arena, got %d", p.RequiredSize(Weights))
	}
}

func TestKindString(t *testing.T) {
	if Vertices.String() != "vertices" {
		t.Errorf("expected vertices, got %s", Vertices.String())
	}
	if Kind(9).String() != "Kind(9)" {
		t.Errorf("expected Kind(9), got %s", Kind(9).String())
	}
}
