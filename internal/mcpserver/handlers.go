package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"pdgrid/internal/harness"
	"pdgrid/internal/sim/batch"
	"pdgrid/internal/sim/pd"
)

var ErrTooLarge = errors.New("request exceeds the per-call work limit")

const maxPartitionRanks = 4096

func (s *Server) handleRunModel(ctx context.Context, req *sdk.CallToolRequest, in RunModelInput) (*sdk.CallToolResult, RunModelOutput, error) {
	cfg := pd.DefaultConfig()
	if in.Width > 0 {
		cfg.Width = in.Width
	}
	if in.Height > 0 {
		cfg.Height = in.Height
	}
	if in.ScheduleType != "" {
		cfg.ScheduleType = pd.ScheduleType(in.ScheduleType)
	}
	if in.Radius != 0 {
		cfg.Radius = in.Radius
	}
	if in.CollectionPeriod != 0 {
		cfg.CollectionPeriod = in.CollectionPeriod
	}
	cfg.Seed = in.Seed
	cfg.Payoff = in.Payoff
	mv, err := pd.ParseMove(in.InitialMove)
	if err != nil {
		return nil, RunModelOutput{}, fmt.Errorf("initial_move: %w", err)
	}
	cfg.InitialMove = mv
	if in.Steps < 0 {
		return nil, RunModelOutput{}, fmt.Errorf("%w: steps %d", pd.ErrInvalidConfig, in.Steps)
	}
	if _, ok := s.budget(0, cfg.Width, cfg.Height, in.Steps); !ok {
		return nil, RunModelOutput{}, fmt.Errorf("%w: %dx%d for %d steps", ErrTooLarge, cfg.Width, cfg.Height, in.Steps)
	}

	m, err := pd.New(cfg)
	if err != nil {
		return nil, RunModelOutput{}, err
	}
	for i := 0; i < in.Steps && m.Running(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, RunModelOutput{}, err
		}
		m.Step()
	}
	last := m.Collect()

	out := RunModelOutput{
		Step:         m.StepCount(),
		ScheduleType: string(m.ScheduleType()),
		Agents:       len(m.Agents()),
		Cooperating:  last.Cooperating,
		Digest:       m.Digest(),
	}
	for _, snap := range m.Snapshots() {
		out.Snapshots = append(out.Snapshots, SnapshotOutput{
			Step:        snap.Step,
			Cooperating: snap.Cooperating,
			TotalPayoff: snap.TotalPayoff,
			Static:      snap.Static,
		})
	}
	if in.IncludeGrid {
		out.Grid = gridRows(m)
	}
	s.logger.Printf("run_model %dx%d %s r%d steps=%d cooperating=%d", cfg.Width, cfg.Height, cfg.ScheduleType, cfg.Radius, out.Step, out.Cooperating)
	return nil, out, nil
}

// budget adds width*height*(steps+1)*runs cells to used and reports whether
// the total stays within the per-call limit. Non-positive dimensions cost
// nothing here; model construction rejects them.
func (s *Server) budget(used, width, height, steps int, runs ...int) (int, bool) {
	limit := s.maxCellSteps - used
	if steps >= limit {
		return used, false
	}
	cost := 1
	for _, f := range append([]int{width, height, steps + 1}, runs...) {
		if f <= 0 {
			return used, true
		}
		if f > limit/cost {
			return used, false
		}
		cost *= f
	}
	return used + cost, true
}

// gridRows renders row y of the grid at index y, one character per cell.
func gridRows(m *pd.Model) []string {
	cells := make([][]byte, m.Height())
	for y := range cells {
		cells[y] = []byte(strings.Repeat(".", m.Width()))
	}
	for _, p := range m.Portrayal() {
		cells[p.Y][p.X] = p.Move.String()[0]
	}
	rows := make([]string, len(cells))
	for y := range cells {
		rows[y] = string(cells[y])
	}
	return rows
}

func (s *Server) handleRunBatch(ctx context.Context, req *sdk.CallToolRequest, in RunBatchInput) (*sdk.CallToolResult, RunBatchOutput, error) {
	sweep := batch.Sweep{Height: in.Height, Width: in.Width, Radius: in.Radius}
	for _, st := range in.ScheduleType {
		t, err := pd.ParseScheduleType(st)
		if err != nil {
			return nil, RunBatchOutput{}, err
		}
		sweep.ScheduleType = append(sweep.ScheduleType, t)
	}
	job := batch.Job{
		RunID:            "mcp",
		Sweep:            sweep,
		Payoff:           in.Payoff,
		Iterations:       in.Iterations,
		MaxSteps:         in.MaxSteps,
		CollectionPeriod: in.CollectionPeriod,
		BaseSeed:         in.BaseSeed,
		Workers:          in.Workers,
	}
	if job.Iterations == 0 {
		job.Iterations = 1
	}
	if in.MaxSteps < 0 || job.Iterations < 0 {
		return nil, RunBatchOutput{}, fmt.Errorf("%w: max_steps %d iterations %d", pd.ErrInvalidConfig, in.MaxSteps, job.Iterations)
	}

	combos := sweep.Combinations()
	work := 0
	for _, p := range combos {
		var ok bool
		if work, ok = s.budget(work, p.Width, p.Height, in.MaxSteps, job.Iterations); !ok {
			return nil, RunBatchOutput{}, fmt.Errorf("%w: %d combinations x %d iterations x %d steps", ErrTooLarge, len(combos), job.Iterations, in.MaxSteps)
		}
	}

	rows, err := batch.Run(ctx, job, nil)
	if err != nil {
		return nil, RunBatchOutput{}, err
	}

	out := RunBatchOutput{RowCount: len(rows)}
	out.Combinations = summarize(combos, rows)
	if in.IncludeRows {
		out.Rows = make([]RowOutput, 0, len(rows))
		for _, r := range rows {
			out.Rows = append(out.Rows, RowOutput{
				Combination:  r.Combination,
				Height:       r.Height,
				Width:        r.Width,
				ScheduleType: string(r.ScheduleType),
				Radius:       r.Radius,
				Iteration:    r.Iteration,
				Seed:         r.Seed,
				Step:         r.Step,
				Cooperating:  r.Cooperating,
				TotalPayoff:  r.TotalPayoff,
				Static:       r.Static,
			})
		}
	}
	s.logger.Printf("run_batch combinations=%d rows=%d", len(combos), len(rows))
	return nil, out, nil
}

// summarize averages the final row of each (combination, iteration) run.
// Rows arrive grouped per run with ascending steps.
func summarize(combos []batch.Params, rows []batch.Row) []CombinationSummary {
	out := make([]CombinationSummary, len(combos))
	for i, p := range combos {
		out[i] = CombinationSummary{
			Combination:  i,
			Height:       p.Height,
			Width:        p.Width,
			ScheduleType: string(p.ScheduleType),
			Radius:       p.Radius,
		}
	}
	for i, r := range rows {
		if i+1 < len(rows) && rows[i+1].Combination == r.Combination && rows[i+1].Iteration == r.Iteration {
			continue
		}
		c := &out[r.Combination]
		c.Runs++
		c.MeanCooperating += float64(r.Cooperating)
		c.MeanCooperation += float64(r.Cooperating) / float64(r.Width*r.Height)
		c.MeanTotalPayoff += r.TotalPayoff
	}
	for i := range out {
		if n := float64(out[i].Runs); n > 0 {
			out[i].MeanCooperating /= n
			out[i].MeanCooperation /= n
			out[i].MeanTotalPayoff /= n
		}
	}
	return out
}

func (s *Server) handlePartition(ctx context.Context, req *sdk.CallToolRequest, in PartitionInput) (*sdk.CallToolResult, PartitionOutput, error) {
	if in.WorldSize > maxPartitionRanks {
		return nil, PartitionOutput{}, fmt.Errorf("%w: world size %d > %d", ErrTooLarge, in.WorldSize, maxPartitionRanks)
	}
	var out PartitionOutput
	for rank := 0; rank < max(in.WorldSize, 1); rank++ {
		first, count, err := harness.Partition(in.Iterations, in.WorldSize, rank)
		if err != nil {
			return nil, PartitionOutput{}, err
		}
		out.Ranks = append(out.Ranks, RankSlice{Rank: rank, First: first, Count: count})
	}
	return nil, out, nil
}
