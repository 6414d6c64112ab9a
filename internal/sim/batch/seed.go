package batch

// DeriveSeed gives every (combination, iteration) pair its own stream. The
// result depends only on its inputs, so a run's seed is the same no matter
// which rank or worker executes it.
func DeriveSeed(base int64, combination, iteration int) int64 {
	x := splitmix64(uint64(base))
	x = splitmix64(x ^ uint64(combination))
	x = splitmix64(x ^ uint64(iteration))
	return int64(x >> 1)
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
