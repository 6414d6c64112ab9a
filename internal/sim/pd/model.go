package pd

import (
	"fmt"
	"math/rand/v2"

	"pdgrid/internal/sim/grid"
)

// Model is a single simulation run. It is single-threaded: every method must
// be called from one goroutine.
type Model struct {
	cfg    Config
	payoff Payoff

	grid   *grid.Grid
	sched  Scheduler
	src    *rand.PCG
	rng    *rand.Rand
	agents []*Agent

	// Static neighborhoods (row-major agent ids), computed once.
	searchNbrs [][]int
	payoffNbrs [][]int

	step      int
	running   bool
	snapshots []Snapshot
}

func New(cfg Config) (*Model, error) {
	m, err := build(cfg)
	if err != nil {
		return nil, err
	}
	for _, a := range m.agents {
		a.Move = m.initialMove(a.Pos)
	}
	m.Collect()
	return m, nil
}

// build validates cfg and lays out the grid and population without assigning
// moves or collecting.
func build(cfg Config) (*Model, error) {
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	payoff, err := ParsePayoff(cfg.Payoff)
	if err != nil {
		return nil, err
	}
	g, err := grid.New(cfg.Width, cfg.Height)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	src := rand.NewPCG(uint64(cfg.Seed), mix64(uint64(cfg.Seed)))
	rng := rand.New(src)
	sched, err := NewScheduler(cfg.ScheduleType, rng)
	if err != nil {
		return nil, err
	}

	m := &Model{
		cfg:     cfg,
		payoff:  payoff,
		grid:    g,
		sched:   sched,
		src:     src,
		rng:     rng,
		running: true,
	}

	m.agents = make([]*Agent, 0, cfg.Width*cfg.Height)
	for x := 0; x < cfg.Width; x++ {
		for y := 0; y < cfg.Height; y++ {
			a := &Agent{ID: len(m.agents), Pos: grid.Pos{X: x, Y: y}}
			if err := g.Place(a.ID, a.Pos); err != nil {
				return nil, fmt.Errorf("populate grid: %w", err)
			}
			m.agents = append(m.agents, a)
		}
	}

	m.searchNbrs = make([][]int, len(m.agents))
	m.payoffNbrs = make([][]int, len(m.agents))
	for _, a := range m.agents {
		m.searchNbrs[a.ID] = m.ids(g.Neighbors(a.Pos, cfg.Radius, true))
		m.payoffNbrs[a.ID] = m.ids(g.Neighbors(a.Pos, 1, false))
	}
	return m, nil
}

func (m *Model) ids(ps []grid.Pos) []int {
	out := make([]int, 0, len(ps))
	for _, p := range ps {
		id, ok := m.grid.At(p)
		if ok {
			out = append(out, id)
		}
	}
	return out
}

func (m *Model) initialMove(p grid.Pos) Move {
	if m.cfg.InitialMove != MoveUnset {
		return m.cfg.InitialMove
	}
	if m.rng.IntN(2) == 0 {
		return Cooperate
	}
	return Defect
}

// Step runs one scheduler round and collects if the new step index is a
// multiple of the collection period.
func (m *Model) Step() {
	m.sched.Step(m.agents, rules{m})
	m.step++
	if m.step%m.cfg.CollectionPeriod == 0 {
		m.Collect()
	}
}

// Run calls Step n times. It stops early once the model is stopped.
func (m *Model) Run(n int) {
	for i := 0; i < n && m.running; i++ {
		m.Step()
	}
}

func (m *Model) Stop()          { m.running = false }
func (m *Model) Running() bool  { return m.running }
func (m *Model) StepCount() int { return m.step }

// Config returns the effective configuration, defaults applied.
func (m *Model) Config() Config { return m.cfg }

func (m *Model) Payoff() Payoff { return m.payoff }

func (m *Model) ScheduleType() ScheduleType { return m.sched.Type() }

func (m *Model) Width() int  { return m.grid.Width() }
func (m *Model) Height() int { return m.grid.Height() }

// Agents returns the population in creation order. Callers must not mutate it.
func (m *Model) Agents() []*Agent { return m.agents }

func (m *Model) AgentAt(p grid.Pos) *Agent {
	id, ok := m.grid.At(p)
	if !ok {
		return nil
	}
	return m.agents[id]
}

// SetMove overrides the committed move of the agent at p. It is only allowed
// before the first step.
func (m *Model) SetMove(p grid.Pos, mv Move) error {
	if m.step > 0 {
		return fmt.Errorf("%w: set move after step %d", ErrInvalidConfig, m.step)
	}
	if !mv.Valid() {
		return fmt.Errorf("%w: move %d", ErrInvalidConfig, mv)
	}
	a := m.AgentAt(p)
	if a == nil {
		return fmt.Errorf("%w: no agent at %s", ErrInvalidConfig, p)
	}
	a.Move = mv
	m.resetStepZero()
	return nil
}

// rules is the decision rule bound to a model.
type rules struct{ m *Model }

func (r rules) Decide(a *Agent) {
	m := r.m
	var best *Agent
	for _, id := range m.searchNbrs[a.ID] {
		b := m.agents[id]
		if best == nil || b.Score > best.Score {
			best = b
		}
	}
	if best == nil {
		best = a
	}
	a.NextMove = best.Move
	a.Best = BestNeighbor{Move: best.Move, Pos: best.Pos, Score: best.Score, Valid: true}
	a.Decisions++
}

func (r rules) Advance(a *Agent) {
	m := r.m
	a.StayedSame = a.Move == a.NextMove
	a.Move = a.NextMove

	pending := m.sched.Type() == Simultaneous
	var sum float64
	for _, id := range m.payoffNbrs[a.ID] {
		nb := m.agents[id]
		src := nb.Move
		if pending {
			src = nb.NextMove
		}
		sum += m.payoff.Get(a.Move, src)
	}
	a.Increment = sum
	a.Score += sum
	a.Commits++
}

// mix64 is the splitmix64 finalizer.
func mix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}
