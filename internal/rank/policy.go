// Package rank computes sparse fractional ranks for ordered board columns.
//
// A move normally writes a single row: the moved task gets the midpoint of
// its new neighbours, or one Gap past the column edge. Only when the
// neighbours are too close to split (or the column already holds ties) is
// the whole column renumbered to 0, Gap, 2*Gap, ... before the insertion
// point is computed again.
package rank

import "math"

const (
	DefaultGap            = 10.0
	DefaultMinSpacing     = 1e-9
	DefaultCompactSpacing = 1e-6
)

type Policy struct {
	// Gap is the distance between neighbours after a renumber and the step
	// used when inserting at either end of a column.
	Gap float64
	// MinSpacing is the smallest neighbour distance that may still be split.
	MinSpacing float64
	// CompactSpacing marks a column as dense for background compaction.
	CompactSpacing float64
}

func Default() Policy {
	return Policy{
		Gap:            DefaultGap,
		MinSpacing:     DefaultMinSpacing,
		CompactSpacing: DefaultCompactSpacing,
	}
}

// Placement is the outcome of inserting into a column. When Renumbered is
// non-nil it holds the new ranks of the existing column members, position
// for position, and must be written before Rank.
type Placement struct {
	Rank       float64
	Renumbered []float64
}

// Place computes the rank for an insertion at index into a column whose
// current ranks are given in display order. The moved task must not be part
// of ranks. index is clamped to [0, len(ranks)].
func (p Policy) Place(ranks []float64, index int) Placement {
	index = Clamp(index, len(ranks))
	if r, ok := p.insert(ranks, index); ok {
		return Placement{Rank: r}
	}

	renumbered := p.Renumber(len(ranks))
	r, _ := p.insert(renumbered, index)
	return Placement{Rank: r, Renumbered: renumbered}
}

// Append places at the end of the column.
func (p Policy) Append(ranks []float64) Placement {
	return p.Place(ranks, len(ranks))
}

// Renumber returns n contiguous ranks 0, Gap, 2*Gap, ...
func (p Policy) Renumber(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) * p.gap()
	}
	return out
}

// Dense reports whether a column should be renumbered ahead of time.
func (p Policy) Dense(ranks []float64) bool {
	if !increasing(ranks) {
		return true
	}
	for i := 1; i < len(ranks); i++ {
		if ranks[i]-ranks[i-1] < p.CompactSpacing {
			return true
		}
	}
	return false
}

func (p Policy) insert(ranks []float64, i int) (float64, bool) {
	if !increasing(ranks) {
		return 0, false
	}

	n := len(ranks)
	switch {
	case n == 0:
		return 0, true
	case i == 0:
		r := ranks[0] - p.gap()
		return r, finite(r) && r < ranks[0]
	case i == n:
		r := ranks[n-1] + p.gap()
		return r, finite(r) && r > ranks[n-1]
	}

	lo, hi := ranks[i-1], ranks[i]
	if hi-lo < p.MinSpacing {
		return 0, false
	}
	mid := lo + (hi-lo)/2
	return mid, mid > lo && mid < hi
}

func (p Policy) gap() float64 {
	if p.Gap <= 0 {
		return DefaultGap
	}
	return p.Gap
}

// Clamp limits index to [0, n].
func Clamp(index, n int) int {
	if index < 0 {
		return 0
	}
	if index > n {
		return n
	}
	return index
}

func increasing(ranks []float64) bool {
	for i, r := range ranks {
		if !finite(r) {
			return false
		}
		if i > 0 && r <= ranks[i-1] {
			return false
		}
	}
	return true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
