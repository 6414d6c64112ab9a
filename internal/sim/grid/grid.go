package grid

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidDimensions = errors.New("grid dimensions must be positive")
	ErrOccupiedCell      = errors.New("cell already occupied")
	ErrOutOfBounds       = errors.New("position out of bounds")
	ErrTooManyCells      = errors.New("grid has too many cells")
)

// MaxCells bounds width*height.
const MaxCells = 1 << 26

type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Pos) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Grid is a toroidal single-occupancy cell space. Cells hold agent ids.
// It is not safe for concurrent mutation; the owning model is single-threaded.
type Grid struct {
	width  int
	height int
	cells  []int // agent id, or -1 when empty
	placed int
}

func New(width, height int) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, width, height)
	}
	if width > MaxCells/height {
		return nil, fmt.Errorf("%w: %dx%d > %d", ErrTooManyCells, width, height, MaxCells)
	}
	cells := make([]int, width*height)
	for i := range cells {
		cells[i] = -1
	}
	return &Grid{width: width, height: height, cells: cells}, nil
}

func (g *Grid) Width() int  { return g.width }
func (g *Grid) Height() int { return g.height }

// Len is the number of occupied cells.
func (g *Grid) Len() int { return g.placed }

func (g *Grid) InBounds(p Pos) bool {
	return p.X >= 0 && p.X < g.width && p.Y >= 0 && p.Y < g.height
}

// Index returns the row-major index of p. p must be in bounds.
func (g *Grid) Index(p Pos) int { return p.Y*g.width + p.X }

func (g *Grid) Wrap(x, y int) Pos {
	return Pos{X: mod(x, g.width), Y: mod(y, g.height)}
}

func (g *Grid) Place(id int, p Pos) error {
	if !g.InBounds(p) {
		return fmt.Errorf("%w: %s in %dx%d", ErrOutOfBounds, p, g.width, g.height)
	}
	i := g.Index(p)
	if g.cells[i] >= 0 {
		return fmt.Errorf("%w: %s holds agent %d", ErrOccupiedCell, p, g.cells[i])
	}
	g.cells[i] = id
	g.placed++
	return nil
}

func (g *Grid) At(p Pos) (int, bool) {
	if !g.InBounds(p) {
		return -1, false
	}
	id := g.cells[g.Index(p)]
	return id, id >= 0
}

// Neighbors returns the occupied cells within Chebyshev distance radius of p
// under wraparound, sorted row-major. Every cell appears at most once: on a
// torus smaller than 2*radius+1 in a dimension, offsets that wrap onto the same
// cell collapse, and p itself is left out unless includeCenter is set even when
// an offset wraps back onto it.
func (g *Grid) Neighbors(p Pos, radius int, includeCenter bool) []Pos {
	if radius < 0 {
		radius = 0
	}
	center := g.Wrap(p.X, p.Y)
	dx := span(radius, g.width)
	dy := span(radius, g.height)

	seen := make(map[int]struct{}, len(dx)*len(dy))
	out := make([]Pos, 0, len(dx)*len(dy))
	for _, oy := range dy {
		for _, ox := range dx {
			q := g.Wrap(center.X+ox, center.Y+oy)
			if q == center && !includeCenter {
				continue
			}
			i := g.Index(q)
			if _, dup := seen[i]; dup {
				continue
			}
			seen[i] = struct{}{}
			if g.cells[i] < 0 {
				continue
			}
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return g.Index(out[i]) < g.Index(out[j]) })
	return out
}

// span lists the offsets -r..r, clipped so a dimension of size n is never
// walked more than once.
func span(r, n int) []int {
	if 2*r+1 > n {
		lo := -(n / 2)
		out := make([]int, n)
		for i := range out {
			out[i] = lo + i
		}
		return out
	}
	out := make([]int, 0, 2*r+1)
	for o := -r; o <= r; o++ {
		out = append(out, o)
	}
	return out
}

func mod(a, n int) int {
	a %= n
	if a < 0 {
		a += n
	}
	return a
}
