package pd

import "pdgrid/internal/sim/grid"

// Agent is one cell's player. Agents are owned by the Model; the grid only
// refers to them by ID.
type Agent struct {
	ID  int
	Pos grid.Pos

	Move     Move // committed
	NextMove Move // decided this step, committed on advance

	Score      float64
	Increment  float64
	StayedSame bool

	// Best is the neighbor observed on the last decision. Reporting only.
	Best BestNeighbor

	Decisions uint64
	Commits   uint64
}

type BestNeighbor struct {
	Move  Move     `json:"move"`
	Pos   grid.Pos `json:"pos"`
	Score float64  `json:"score"`
	Valid bool     `json:"valid"`
}

func (a *Agent) Cooperating() bool { return a.Move == Cooperate }
