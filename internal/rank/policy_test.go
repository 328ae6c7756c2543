package rank

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicy_Place(t *testing.T) {
	p := Default()

	tests := []struct {
		name      string
		ranks     []float64
		index     int
		wantRank  float64
		renumbers bool
	}{
		{name: "empty column", ranks: nil, index: 0, wantRank: 0},
		{name: "head", ranks: []float64{1, 2}, index: 0, wantRank: -9},
		{name: "tail", ranks: []float64{1, 2, 3}, index: 3, wantRank: 13},
		{name: "between", ranks: []float64{1, 2, 3}, index: 1, wantRank: 1.5},
		{name: "index below zero is clamped", ranks: []float64{5}, index: -4, wantRank: -5},
		{name: "index past end is clamped", ranks: []float64{5}, index: 42, wantRank: 15},
		{
			name:      "exhausted precision renumbers",
			ranks:     []float64{1.00000000001, 1.00000000002},
			index:     1,
			wantRank:  5,
			renumbers: true,
		},
		{
			name:      "ties renumber",
			ranks:     []float64{4, 4, 4},
			index:     3,
			wantRank:  30,
			renumbers: true,
		},
		{
			name:      "tail overflow renumbers",
			ranks:     []float64{math.MaxFloat64},
			index:     1,
			wantRank:  10,
			renumbers: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Place(tt.ranks, tt.index)
			assert.Equal(t, tt.wantRank, got.Rank)
			if tt.renumbers {
				require.NotNil(t, got.Renumbered)
				assert.Equal(t, p.Renumber(len(tt.ranks)), got.Renumbered)
			} else {
				assert.Nil(t, got.Renumbered)
			}
		})
	}
}

// Move C to the head of [A(1), B(2)] (C already taken out of its column).
func TestPolicy_Place_MoveToHead(t *testing.T) {
	got := Default().Place([]float64{1, 2}, 0)
	assert.Less(t, got.Rank, 1.0)
	assert.Nil(t, got.Renumbered)
}

func TestPolicy_Renumber(t *testing.T) {
	assert.Equal(t, []float64{0, 10, 20, 30}, Default().Renumber(4))
	assert.Empty(t, Default().Renumber(0))
	assert.Equal(t, []float64{0, 10}, Policy{}.Renumber(2), "zero gap falls back to default")
}

func TestPolicy_Dense(t *testing.T) {
	p := Default()
	assert.False(t, p.Dense(nil))
	assert.False(t, p.Dense([]float64{0, 10, 20}))
	assert.True(t, p.Dense([]float64{1, 1.0000000001}))
	assert.True(t, p.Dense([]float64{3, 2}))
}

// Repeatedly inserting into the same slot halves the gap until precision runs
// out. Every placement must keep the column strictly increasing and a
// renumber must never change the relative order.
func TestPolicy_RepeatedBisection(t *testing.T) {
	p := Default()
	column := []float64{0, 10}
	labels := []int{0, 1}
	renumbered := 0

	for i := 0; i < 200; i++ {
		pl := p.Place(column, 1)
		if pl.Renumbered != nil {
			renumbered++
			require.Len(t, pl.Renumbered, len(column))
			column = append([]float64(nil), pl.Renumbered...)
		}
		column = append(column[:1], append([]float64{pl.Rank}, column[1:]...)...)
		labels = append(labels[:1], append([]int{i + 2}, labels[1:]...)...)

		require.True(t, sort.Float64sAreSorted(column))
		for j := 1; j < len(column); j++ {
			require.Greater(t, column[j], column[j-1], "ranks must be unique")
		}
	}

	assert.Greater(t, renumbered, 0, "bisecting 200 times must exhaust precision")
	assert.Equal(t, 0, labels[0])
	assert.Equal(t, 1, labels[len(labels)-1])
}

func TestPolicy_RandomInsertsKeepOrder(t *testing.T) {
	p := Default()
	rng := rand.New(rand.NewSource(7))
	var column []float64

	for i := 0; i < 500; i++ {
		idx := rng.Intn(len(column) + 1)
		pl := p.Place(column, idx)
		if pl.Renumbered != nil {
			before := append([]float64(nil), column...)
			column = append([]float64(nil), pl.Renumbered...)
			// relative order is positional, so lengths and monotonicity say it all
			require.Len(t, column, len(before))
		}
		column = append(column[:idx], append([]float64{pl.Rank}, column[idx:]...)...)
		for j := 1; j < len(column); j++ {
			require.Greater(t, column[j], column[j-1])
		}
	}
}
