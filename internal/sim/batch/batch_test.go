package batch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdgrid/internal/sim/pd"
)

func TestRun_TwelveRows(t *testing.T) {
	job := Job{
		RunID:      "t",
		Sweep:      Sweep{Height: []int{3}, Width: []int{3}, ScheduleType: []pd.ScheduleType{pd.Sequential}},
		Iterations: 2,
		MaxSteps:   5,
	}
	rows, err := Run(context.Background(), job, nil)
	require.NoError(t, err)
	require.Len(t, rows, 12)

	for i, r := range rows {
		assert.Equal(t, i/6, r.Iteration)
		assert.Equal(t, i%6, r.Step)
		assert.Equal(t, 0, r.Combination)
		assert.Equal(t, 1, r.Radius)
		assert.Equal(t, DeriveSeed(0, 0, r.Iteration), r.Seed)
	}
}

func TestRun_PeriodIncludesFinalStep(t *testing.T) {
	job := Job{
		Sweep:            Sweep{Height: []int{4}, Width: []int{4}},
		Iterations:       1,
		MaxSteps:         7,
		CollectionPeriod: 3,
	}
	rows, err := Run(context.Background(), job, nil)
	require.NoError(t, err)

	var steps []int
	for _, r := range rows {
		steps = append(steps, r.Step)
	}
	assert.Equal(t, []int{0, 3, 6, 7}, steps)
}

func TestRun_OrderedAndWorkerIndependent(t *testing.T) {
	job := Job{
		RunID: "sweep",
		Sweep: Sweep{
			Height:       []int{4, 5},
			Width:        []int{4},
			ScheduleType: pd.ScheduleTypes(),
			Radius:       []int{1, 2},
		},
		Iterations: 3,
		MaxSteps:   4,
		BaseSeed:   17,
	}
	serial, err := Run(context.Background(), job, nil)
	require.NoError(t, err)

	job.Workers = 4
	var streamed []Row
	parallel, err := Run(context.Background(), job, SinkFunc(func(r Row) error {
		streamed = append(streamed, r)
		return nil
	}))
	require.NoError(t, err)

	assert.Equal(t, serial, parallel)
	assert.Equal(t, parallel, streamed)
	require.Len(t, serial, 12*3*5)

	for i := 1; i < len(serial); i++ {
		a, b := serial[i-1], serial[i]
		key := func(r Row) [3]int { return [3]int{r.Combination, r.Iteration, r.Step} }
		ka, kb := key(a), key(b)
		assert.True(t, ka[0] < kb[0] || (ka[0] == kb[0] && (ka[1] < kb[1] || (ka[1] == kb[1] && ka[2] < kb[2]))), "rows %d,%d out of order", i-1, i)
	}
}

func TestRun_SlicesMatchWholeSweep(t *testing.T) {
	base := Job{
		Sweep:      Sweep{Height: []int{3}, Width: []int{3}, ScheduleType: []pd.ScheduleType{pd.Random}},
		Iterations: 5,
		MaxSteps:   3,
		BaseSeed:   4,
	}
	whole, err := Run(context.Background(), base, nil)
	require.NoError(t, err)

	head := base
	head.Iterations = 2
	tail := base
	tail.FirstIteration = 2
	tail.Iterations = 3

	a, err := Run(context.Background(), head, nil)
	require.NoError(t, err)
	b, err := Run(context.Background(), tail, nil)
	require.NoError(t, err)
	assert.Equal(t, whole, append(a, b...))
}

func TestRun_InvalidJob(t *testing.T) {
	_, err := Run(context.Background(), Job{Iterations: 1, MaxSteps: -1}, nil)
	require.ErrorIs(t, err, pd.ErrInvalidConfig)
	require.ErrorIs(t, err, ErrInvalidJob)

	_, err = Run(context.Background(), Job{Iterations: 1, Payoff: map[string]float64{"CC": 1}}, nil)
	require.ErrorIs(t, err, pd.ErrInvalidConfig)

	_, err = Run(context.Background(), Job{
		Iterations: 1,
		Sweep:      Sweep{Height: []int{0}},
	}, nil)
	require.ErrorIs(t, err, pd.ErrInvalidConfig)
}

func TestRun_SinkErrorStops(t *testing.T) {
	boom := errors.New("disk full")
	job := Job{Sweep: Sweep{Height: []int{3}, Width: []int{3}}, Iterations: 4, MaxSteps: 2, Workers: 2}
	_, err := Run(context.Background(), job, SinkFunc(func(Row) error { return boom }))
	require.ErrorIs(t, err, boom)
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	job := Job{Sweep: Sweep{Height: []int{3}, Width: []int{3}}, Iterations: 3, MaxSteps: 2}
	_, err := Run(ctx, job, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunner_Stats(t *testing.T) {
	var r Runner
	job := Job{Sweep: Sweep{Height: []int{3}, Width: []int{3}}, Iterations: 2, MaxSteps: 1}
	_, err := r.Run(context.Background(), job, nil)
	require.NoError(t, err)
	assert.Equal(t, Stats{Runs: 2, Completed: 2, Rows: 4}, r.Stats())
}

func TestCombinations_NestedOrder(t *testing.T) {
	s := Sweep{Height: []int{1, 2}, Width: []int{3}, ScheduleType: []pd.ScheduleType{pd.Sequential, pd.Simultaneous}}
	got := s.Combinations()
	require.Len(t, got, 4)
	assert.Equal(t, Params{Height: 1, Width: 3, ScheduleType: pd.Sequential, Radius: 1}, got[0])
	assert.Equal(t, Params{Height: 1, Width: 3, ScheduleType: pd.Simultaneous, Radius: 1}, got[1])
	assert.Equal(t, Params{Height: 2, Width: 3, ScheduleType: pd.Sequential, Radius: 1}, got[2])

	def := Sweep{}.Combinations()
	assert.Equal(t, []Params{{Height: 50, Width: 50, ScheduleType: pd.Random, Radius: 1}}, def)
}

func TestDeriveSeed(t *testing.T) {
	assert.Equal(t, DeriveSeed(1, 2, 3), DeriveSeed(1, 2, 3))
	assert.NotEqual(t, DeriveSeed(1, 2, 3), DeriveSeed(1, 3, 2))
	assert.NotEqual(t, DeriveSeed(1, 0, 0), DeriveSeed(2, 0, 0))
	assert.GreaterOrEqual(t, DeriveSeed(-5, 1, 1), int64(0))
}
