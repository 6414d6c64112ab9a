package pd

import (
	"fmt"
	"sort"
	"strings"
)

// Payoff is indexed [own][other] with Cooperate=0, Defect=1.
type Payoff [2][2]float64

var payoffKeys = []string{"CC", "CD", "DC", "DD"}

func DefaultPayoff() Payoff {
	return Payoff{
		{1, 0},
		{1.1, 0},
	}
}

// ParsePayoff builds a table from a CC/CD/DC/DD mapping. A nil or empty map
// yields the default table; a partial one is rejected.
func ParsePayoff(m map[string]float64) (Payoff, error) {
	if len(m) == 0 {
		return DefaultPayoff(), nil
	}
	var p Payoff
	var missing []string
	for _, k := range payoffKeys {
		v, ok := m[k]
		if !ok {
			missing = append(missing, k)
			continue
		}
		p[moveIndex(Move(k[0]))][moveIndex(Move(k[1]))] = v
	}
	if len(missing) > 0 {
		return Payoff{}, fmt.Errorf("%w: payoff missing %s", ErrInvalidConfig, strings.Join(missing, ","))
	}
	for k := range m {
		if !containsKey(k) {
			return Payoff{}, fmt.Errorf("%w: unknown payoff key %q", ErrInvalidConfig, k)
		}
	}
	return p, nil
}

func (p Payoff) Get(own, other Move) float64 {
	i, j := moveIndex(own), moveIndex(other)
	if i < 0 || j < 0 {
		return 0
	}
	return p[i][j]
}

func (p Payoff) Map() map[string]float64 {
	out := make(map[string]float64, 4)
	for _, k := range payoffKeys {
		out[k] = p.Get(Move(k[0]), Move(k[1]))
	}
	return out
}

// NonNegative reports whether every entry is >= 0, which keeps scores monotone.
func (p Payoff) NonNegative() bool {
	for _, row := range p {
		for _, v := range row {
			if v < 0 {
				return false
			}
		}
	}
	return true
}

func (p Payoff) String() string {
	m := p.Map()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%g", k, m[k]))
	}
	return strings.Join(parts, " ")
}

func moveIndex(m Move) int {
	switch m {
	case Cooperate:
		return 0
	case Defect:
		return 1
	}
	return -1
}

func containsKey(k string) bool {
	for _, s := range payoffKeys {
		if s == k {
			return true
		}
	}
	return false
}
