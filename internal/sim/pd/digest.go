package pd

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// Digest hashes the step counter and every agent's state in creation order.
// Two models with equal digests made the same decisions.
func (m *Model) Digest() string {
	h := sha256.New()
	var tmp [8]byte
	put := func(v uint64) {
		binary.LittleEndian.PutUint64(tmp[:], v)
		h.Write(tmp[:])
	}

	put(uint64(m.step))
	put(uint64(m.grid.Width()))
	put(uint64(m.grid.Height()))
	h.Write([]byte(m.sched.Type()))
	for _, a := range m.agents {
		put(uint64(a.ID))
		h.Write([]byte{byte(a.Move), byte(a.NextMove), boolByte(a.StayedSame)})
		put(math.Float64bits(a.Score))
		put(math.Float64bits(a.Increment))
		put(a.Decisions)
		put(a.Commits)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
