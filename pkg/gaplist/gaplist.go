// Package gaplist provides a best-fit free-region list for linearly growing arenas.
package gaplist

import (
	"errors"
	"fmt"
	"slices"
)

// ErrCorrupt is returned by Validate when the gap list invariants are broken.
var ErrCorrupt = errors.New("gap list corrupt")

// Gap is a free region [Start, Start+Count) inside the arena.
type Gap struct {
	Start uint32
	Count uint32
}

// End returns the first unit past the gap.
func (g Gap) End() uint32 {
	return g.Start + g.Count
}

// List tracks free regions of an arena whose used space ends at a
// high-water mark. Gaps are kept sorted by Start and never touch each other
// or the high-water mark.
type List struct {
	gaps []Gap
	end  uint32
}

// New creates an empty list.
func New() *List {
	return &List{}
}

// End returns the arena high-water mark, which is the size the backing
// buffer must have.
func (l *List) End() uint32 {
	return l.end
}

// Used returns the number of allocated units below the high-water mark.
func (l *List) Used() uint32 {
	used := l.end
	for _, g := range l.gaps {
		used -= g.Count
	}
	return used
}

// Gaps returns a copy of the current free regions, sorted by offset.
func (l *List) Gaps() []Gap {
	return slices.Clone(l.gaps)
}

// Reset drops all gaps and the high-water mark.
func (l *List) Reset() {
	l.gaps = l.gaps[:0]
	l.end = 0
}

// Find returns the start of the gap that wastes the fewest units when
// holding count units. Ties go to the lowest offset. ok is false when no gap
// fits and the caller has to grow the arena.
func (l *List) Find(count uint32) (start uint32, ok bool) {
	idx := l.bestFit(count)
	if idx < 0 {
		return 0, false
	}
	return l.gaps[idx].Start, true
}

func (l *List) bestFit(count uint32) int {
	if count == 0 {
		return -1
	}
	best := -1
	var bestWaste uint32
	for i, g := range l.gaps {
		if g.Count < count {
			continue
		}
		waste := g.Count - count
		if best < 0 || waste < bestWaste {
			best = i
			bestWaste = waste
			if waste == 0 {
				break
			}
		}
	}
	return best
}

// Allocate reserves count units and returns their start. It reuses the best
// fitting gap if there is one and otherwise appends at the high-water mark.
// A zero count reserves nothing and returns the current high-water mark.
func (l *List) Allocate(count uint32) uint32 {
	if count == 0 {
		return l.end
	}
	idx := l.bestFit(count)
	if idx < 0 {
		start := l.end
		l.end += count
		return start
	}
	g := &l.gaps[idx]
	start := g.Start
	if g.Count == count {
		l.gaps = slices.Delete(l.gaps, idx, idx+1)
	} else {
		g.Start += count
		g.Count -= count
	}
	return start
}

// Free returns [start, start+count) to the list, merging it with adjacent or
// overlapping gaps. A gap that reaches the high-water mark is dropped and the
// mark is lowered to its start.
func (l *List) Free(start, count uint32) {
	if count == 0 {
		return
	}
	idx, _ := slices.BinarySearchFunc(l.gaps, start, func(g Gap, s uint32) int {
		switch {
		case g.Start < s:
			return -1
		case g.Start > s:
			return 1
		}
		return 0
	})
	l.gaps = slices.Insert(l.gaps, idx, Gap{Start: start, Count: count})

	// Merge with the left neighbour first so idx always names the merged gap.
	if idx > 0 && l.gaps[idx-1].End() >= l.gaps[idx].Start {
		prev := &l.gaps[idx-1]
		prev.Count = max(prev.End(), l.gaps[idx].End()) - prev.Start
		l.gaps = slices.Delete(l.gaps, idx, idx+1)
		idx--
	}
	for idx+1 < len(l.gaps) && l.gaps[idx].End() >= l.gaps[idx+1].Start {
		cur := &l.gaps[idx]
		cur.Count = max(cur.End(), l.gaps[idx+1].End()) - cur.Start
		l.gaps = slices.Delete(l.gaps, idx+1, idx+2)
	}

	if n := len(l.gaps); n > 0 && l.gaps[n-1].End() >= l.end {
		l.end = l.gaps[n-1].Start
		l.gaps = l.gaps[:n-1]
	}
}

// Validate checks ordering, disjointness and the high-water mark.
func (l *List) Validate() error {
	for i, g := range l.gaps {
		if g.Count == 0 {
			return fmt.Errorf("%w: empty gap at %d", ErrCorrupt, g.Start)
		}
		if g.End() >= l.end {
			return fmt.Errorf("%w: gap [%d,%d) reaches end %d", ErrCorrupt, g.Start, g.End(), l.end)
		}
		if i > 0 && l.gaps[i-1].End() >= g.Start {
			return fmt.Errorf("%w: gaps %d and %d touch", ErrCorrupt, i-1, i)
		}
	}
	return nil
}
