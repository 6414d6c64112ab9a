package harness

import (
	"errors"
	"fmt"
)

var ErrInvalidGroup = errors.New("invalid rank or world size")

// Partition splits total iterations into contiguous blocks, one per rank. Every
// rank gets total/worldSize; the last rank also takes the remainder.
func Partition(total, worldSize, rank int) (first, count int, err error) {
	if worldSize < 1 {
		return 0, 0, fmt.Errorf("%w: world size %d", ErrInvalidGroup, worldSize)
	}
	if rank < 0 || rank >= worldSize {
		return 0, 0, fmt.Errorf("%w: rank %d of %d", ErrInvalidGroup, rank, worldSize)
	}
	if total < 0 {
		return 0, 0, fmt.Errorf("%w: %d iterations", ErrInvalidGroup, total)
	}
	per := total / worldSize
	first = rank * per
	count = per
	if rank == worldSize-1 {
		count += total % worldSize
	}
	return first, count, nil
}
