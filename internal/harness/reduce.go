package harness

import (
	"context"
	"fmt"
)

// Reduction is the outcome of a sum-to-root. Values are indexed by rank.
type Reduction struct {
	WorldSize int
	Sum       float64
	Values    []float64
}

// Reducer contributes this rank's value and blocks until the group has
// reduced. The returned Reduction is complete on rank 0; other ranks may only
// see the barrier.
type Reducer interface {
	SumToRoot(ctx context.Context, value float64) (Reduction, error)
}

// Sum adds values in rank order so every root computes the same total.
func Sum(values []float64) float64 {
	var s float64
	for _, v := range values {
		s += v
	}
	return s
}

type contribution struct {
	rank  int
	value float64
}

// LocalGroup is an in-process reduction group for ranks run as goroutines.
type LocalGroup struct {
	size int
	in   chan contribution
	out  []chan Reduction
	fail chan struct{}
}

func NewLocalGroup(size int) (*LocalGroup, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: world size %d", ErrInvalidGroup, size)
	}
	g := &LocalGroup{
		size: size,
		in:   make(chan contribution, size),
		out:  make([]chan Reduction, size),
		fail: make(chan struct{}),
	}
	for i := range g.out {
		g.out[i] = make(chan Reduction, 1)
	}
	return g, nil
}

func (g *LocalGroup) Size() int { return g.size }

func (g *LocalGroup) Member(rank int) (Reducer, error) {
	if rank < 0 || rank >= g.size {
		return nil, fmt.Errorf("%w: rank %d of %d", ErrInvalidGroup, rank, g.size)
	}
	return localMember{g: g, rank: rank}, nil
}

type localMember struct {
	g    *LocalGroup
	rank int
}

func (m localMember) SumToRoot(ctx context.Context, value float64) (Reduction, error) {
	g := m.g
	select {
	case g.in <- contribution{rank: m.rank, value: value}:
	case <-ctx.Done():
		return Reduction{}, ctx.Err()
	}
	if m.rank != 0 {
		select {
		case r := <-g.out[m.rank]:
			return r, nil
		case <-g.fail:
			return Reduction{}, fmt.Errorf("rank %d: reduction failed at root", m.rank)
		case <-ctx.Done():
			return Reduction{}, ctx.Err()
		}
	}

	values := make([]float64, g.size)
	seen := make([]bool, g.size)
	for n := 0; n < g.size; n++ {
		select {
		case c := <-g.in:
			if seen[c.rank] {
				close(g.fail)
				return Reduction{}, fmt.Errorf("%w: rank %d contributed twice", ErrInvalidGroup, c.rank)
			}
			seen[c.rank] = true
			values[c.rank] = c.value
		case <-ctx.Done():
			return Reduction{}, ctx.Err()
		}
	}
	r := Reduction{WorldSize: g.size, Sum: Sum(values), Values: values}
	for rank := 1; rank < g.size; rank++ {
		g.out[rank] <- Reduction{WorldSize: g.size, Sum: r.Sum, Values: append([]float64(nil), values...)}
	}
	return r, nil
}
