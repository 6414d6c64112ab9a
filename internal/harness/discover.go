package harness

import (
	"fmt"
	"strconv"
	"strings"
)

// envPairs are checked in order; the first pair with a rank set wins.
var envPairs = [][2]string{
	{"PDGRID_RANK", "PDGRID_WORLD_SIZE"},
	{"OMPI_COMM_WORLD_RANK", "OMPI_COMM_WORLD_SIZE"},
	{"PMI_RANK", "PMI_SIZE"},
}

// Discover resolves this process's rank and world size. Negative flag values
// mean unset. Without flags or launcher variables the process is rank 0 of 1.
func Discover(flagRank, flagSize int, getenv func(string) string) (rank, size int, err error) {
	rank, size = -1, -1
	if flagRank >= 0 {
		rank = flagRank
	}
	if flagSize > 0 {
		size = flagSize
	}
	for _, p := range envPairs {
		if rank >= 0 && size > 0 {
			break
		}
		rv := strings.TrimSpace(getenv(p[0]))
		sv := strings.TrimSpace(getenv(p[1]))
		if rv == "" && sv == "" {
			continue
		}
		if rank < 0 && rv != "" {
			if rank, err = strconv.Atoi(rv); err != nil {
				return 0, 0, fmt.Errorf("%w: %s=%q", ErrInvalidGroup, p[0], rv)
			}
		}
		if size <= 0 && sv != "" {
			if size, err = strconv.Atoi(sv); err != nil {
				return 0, 0, fmt.Errorf("%w: %s=%q", ErrInvalidGroup, p[1], sv)
			}
		}
	}
	if rank < 0 {
		rank = 0
	}
	if size <= 0 {
		size = 1
	}
	if rank >= size {
		return 0, 0, fmt.Errorf("%w: rank %d of %d", ErrInvalidGroup, rank, size)
	}
	return rank, size, nil
}
