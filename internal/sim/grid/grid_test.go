package grid

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullGrid(t *testing.T, w, h int) *Grid {
	t.Helper()
	g, err := New(w, h)
	require.NoError(t, err)
	id := 0
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			require.NoError(t, g.Place(id, Pos{X: x, Y: y}))
			id++
		}
	}
	return g
}

func TestNew_RejectsNonPositiveDimensions(t *testing.T) {
	for _, dims := range [][2]int{{0, 5}, {5, 0}, {-1, 3}} {
		_, err := New(dims[0], dims[1])
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidDimensions), "dims=%v", dims)
	}
}

func TestNew_RejectsOversizedGrid(t *testing.T) {
	_, err := New(MaxCells, 2)
	assert.ErrorIs(t, err, ErrTooManyCells)

	_, err = New(1<<31, 1<<31)
	assert.ErrorIs(t, err, ErrTooManyCells)
}

func TestPlace_OccupiedCell(t *testing.T) {
	g, err := New(3, 3)
	require.NoError(t, err)
	require.NoError(t, g.Place(0, Pos{X: 1, Y: 1}))

	err = g.Place(1, Pos{X: 1, Y: 1})
	require.ErrorIs(t, err, ErrOccupiedCell)
	assert.Equal(t, 1, g.Len())

	err = g.Place(2, Pos{X: 3, Y: 0})
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestNeighbors_TorusCornerIncludesWrapped(t *testing.T) {
	g := fullGrid(t, 5, 5)

	got := g.Neighbors(Pos{X: 0, Y: 0}, 1, true)
	require.Len(t, got, 9)
	assert.Contains(t, got, Pos{X: 4, Y: 4})
	assert.Contains(t, got, Pos{X: 4, Y: 0})
	assert.Contains(t, got, Pos{X: 0, Y: 4})
	assert.Contains(t, got, Pos{X: 0, Y: 0})

	seen := map[Pos]bool{}
	for _, p := range got {
		assert.False(t, seen[p], "duplicate %s", p)
		seen[p] = true
	}
}

func TestNeighbors_ExcludeCenter(t *testing.T) {
	g := fullGrid(t, 5, 5)
	got := g.Neighbors(Pos{X: 2, Y: 2}, 1, false)
	require.Len(t, got, 8)
	assert.NotContains(t, got, Pos{X: 2, Y: 2})
}

func TestNeighbors_RowMajorOrder(t *testing.T) {
	g := fullGrid(t, 5, 5)
	got := g.Neighbors(Pos{X: 0, Y: 0}, 1, true)
	for i := 1; i < len(got); i++ {
		assert.Less(t, g.Index(got[i-1]), g.Index(got[i]))
	}
	assert.Equal(t, Pos{X: 0, Y: 0}, got[0])
	assert.Equal(t, Pos{X: 4, Y: 4}, got[len(got)-1])
}

func TestNeighbors_LargeRadiusCollapsesWrappedCells(t *testing.T) {
	g := fullGrid(t, 4, 3)

	all := g.Neighbors(Pos{X: 1, Y: 1}, 5, true)
	assert.Len(t, all, 12)

	noCenter := g.Neighbors(Pos{X: 1, Y: 1}, 5, false)
	assert.Len(t, noCenter, 11)
	assert.NotContains(t, noCenter, Pos{X: 1, Y: 1})
}

func TestNeighbors_TinyTorus(t *testing.T) {
	g := fullGrid(t, 2, 2)
	got := g.Neighbors(Pos{X: 0, Y: 0}, 1, false)
	assert.Equal(t, []Pos{{X: 1, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}}, got)

	one := fullGrid(t, 1, 1)
	assert.Empty(t, one.Neighbors(Pos{}, 1, false))
	assert.Equal(t, []Pos{{}}, one.Neighbors(Pos{}, 1, true))
}

func TestNeighbors_SkipsEmptyCells(t *testing.T) {
	g, err := New(3, 3)
	require.NoError(t, err)
	require.NoError(t, g.Place(7, Pos{X: 2, Y: 2}))

	got := g.Neighbors(Pos{X: 0, Y: 0}, 1, true)
	assert.Equal(t, []Pos{{X: 2, Y: 2}}, got)
}

func TestWrap(t *testing.T) {
	g, err := New(5, 4)
	require.NoError(t, err)
	assert.Equal(t, Pos{X: 4, Y: 3}, g.Wrap(-1, -1))
	assert.Equal(t, Pos{X: 0, Y: 0}, g.Wrap(5, 4))
	assert.Equal(t, Pos{X: 2, Y: 1}, g.Wrap(12, -7))
}
