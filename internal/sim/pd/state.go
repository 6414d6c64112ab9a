package pd

import (
	"errors"
	"fmt"

	"pdgrid/internal/sim/grid"
)

var ErrStateMismatch = errors.New("state does not match config")

// State is everything needed to resume a model bit-for-bit, RNG included.
type State struct {
	Config    Config
	Step      int
	Running   bool
	RNG       []byte
	Agents    []AgentState
	Snapshots []Snapshot
}

type AgentState struct {
	Pos        grid.Pos
	Move       Move
	NextMove   Move
	Score      float64
	Increment  float64
	StayedSame bool
	Best       BestNeighbor
	Decisions  uint64
	Commits    uint64
}

func (m *Model) ExportState() (State, error) {
	rng, err := m.src.MarshalBinary()
	if err != nil {
		return State{}, fmt.Errorf("marshal rng: %w", err)
	}
	st := State{
		Config:    m.cfg,
		Step:      m.step,
		Running:   m.running,
		RNG:       rng,
		Agents:    make([]AgentState, len(m.agents)),
		Snapshots: m.Snapshots(),
	}
	for i, a := range m.agents {
		st.Agents[i] = AgentState{
			Pos:        a.Pos,
			Move:       a.Move,
			NextMove:   a.NextMove,
			Score:      a.Score,
			Increment:  a.Increment,
			StayedSame: a.StayedSame,
			Best:       a.Best,
			Decisions:  a.Decisions,
			Commits:    a.Commits,
		}
	}
	return st, nil
}

// Restore rebuilds a model from an exported state. Stepping the result
// continues exactly where the exporting model left off.
func Restore(st State) (*Model, error) {
	m, err := build(st.Config)
	if err != nil {
		return nil, err
	}
	if len(st.Agents) != len(m.agents) {
		return nil, fmt.Errorf("%w: %d agents for %dx%d grid", ErrStateMismatch, len(st.Agents), m.cfg.Width, m.cfg.Height)
	}
	if err := m.src.UnmarshalBinary(st.RNG); err != nil {
		return nil, fmt.Errorf("unmarshal rng: %w", err)
	}
	for i, as := range st.Agents {
		a := m.agents[i]
		if as.Pos != a.Pos {
			return nil, fmt.Errorf("%w: agent %d at %s, want %s", ErrStateMismatch, i, as.Pos, a.Pos)
		}
		a.Move = as.Move
		a.NextMove = as.NextMove
		a.Score = as.Score
		a.Increment = as.Increment
		a.StayedSame = as.StayedSame
		a.Best = as.Best
		a.Decisions = as.Decisions
		a.Commits = as.Commits
	}
	m.step = st.Step
	m.running = st.Running
	m.snapshots = append([]Snapshot(nil), st.Snapshots...)
	return m, nil
}
