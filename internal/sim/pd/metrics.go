package pd

import "pdgrid/internal/sim/grid"

// Snapshot is the model-level record taken at one step.
type Snapshot struct {
	Step        int        `json:"step"`
	Cooperating int        `json:"cooperating_count"`
	TotalPayoff float64    `json:"total_payoff"`
	Static      int        `json:"static_count"`
	Agents      []AgentRow `json:"agents,omitempty"`
}

type AgentRow struct {
	ID        int      `json:"id"`
	Pos       grid.Pos `json:"pos"`
	Score     float64  `json:"score"`
	Increment float64  `json:"increment"`
	Move      Move     `json:"move"`
	Decisions uint64   `json:"decisions"`
	BestMove  Move     `json:"best_move,omitempty"`
	BestPos   grid.Pos `json:"best_pos"`
	BestScore float64  `json:"best_score"`
	HasBest   bool     `json:"has_best"`
}

// Collect records the current step. Calling it twice for the same step returns
// the existing snapshot.
func (m *Model) Collect() Snapshot {
	if n := len(m.snapshots); n > 0 && m.snapshots[n-1].Step == m.step {
		return m.snapshots[n-1]
	}
	s := m.measure()
	m.snapshots = append(m.snapshots, s)
	return s
}

func (m *Model) measure() Snapshot {
	s := Snapshot{Step: m.step}
	for _, a := range m.agents {
		if a.Move == Cooperate {
			s.Cooperating++
		}
		if a.StayedSame {
			s.Static++
		}
		s.TotalPayoff += a.Increment
	}
	if m.cfg.AgentDetail {
		s.Agents = make([]AgentRow, len(m.agents))
		for i, a := range m.agents {
			s.Agents[i] = AgentRow{
				ID:        a.ID,
				Pos:       a.Pos,
				Score:     a.Score,
				Increment: a.Increment,
				Move:      a.Move,
				Decisions: a.Decisions,
				BestMove:  a.Best.Move,
				BestPos:   a.Best.Pos,
				BestScore: a.Best.Score,
				HasBest:   a.Best.Valid,
			}
		}
	}
	return s
}

// resetStepZero retakes the construction snapshot after the initial moves
// were edited.
func (m *Model) resetStepZero() {
	if len(m.snapshots) == 1 && m.snapshots[0].Step == 0 {
		m.snapshots[0] = m.measure()
	}
}

// Snapshots returns a copy of the collected history.
func (m *Model) Snapshots() []Snapshot {
	out := make([]Snapshot, len(m.snapshots))
	copy(out, m.snapshots)
	return out
}

func (m *Model) Latest() (Snapshot, bool) {
	if len(m.snapshots) == 0 {
		return Snapshot{}, false
	}
	return m.snapshots[len(m.snapshots)-1], true
}
