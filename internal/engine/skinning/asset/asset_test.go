package asset

import (
	"slices"
	"testing"
)

func TestParsePath(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Root/Arm/Hand", []string{"Hand", "Arm", "Root"}},
		{"Root/Arm/Hand/", []string{"Hand", "Arm", "Root"}},
		{"Root", []string{"Root"}},
		{"", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParsePath(tt.in)
			if !slices.Equal(got, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFormatPath(t *testing.T) {
	got := FormatPath([]string{"Hand", "Arm", "Root"})
	if got != "Root/Arm/Hand" {
		t.Errorf("expected Root/Arm/Hand, got %s", got)
	}
}

func TestNewPathBlob(t *testing.T) {
	a := NewPathBlob("Root", "Root/Arm")
	b := NewPathBlob("Root")

	if a.ID == b.ID {
		t.Error("expected distinct blob IDs")
	}
	if a.Len() != 2 {
		t.Errorf("expected 2 paths, got %d", a.Len())
	}
	if !slices.Equal(a.Paths[1], []string{"Arm", "Root"}) {
		t.Errorf("expected reversed path [Arm Root], got %v", a.Paths[1])
	}

	var nilBlob *PathBlob
	if nilBlob.Len() != 0 {
		t.Error("expected nil blob to have zero length")
	}
}
