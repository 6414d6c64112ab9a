package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"pdgrid/internal/sim/pd"
)

var ErrInvalidJob = errors.New("invalid batch job")

// Job is a slice of a parameter sweep. Iterations are numbered globally, from
// FirstIteration, so the same iteration yields the same seed on every rank.
type Job struct {
	RunID            string
	Rank             int
	Sweep            Sweep
	Payoff           map[string]float64
	FirstIteration   int
	Iterations       int
	MaxSteps         int
	CollectionPeriod int
	BaseSeed         int64
	AgentDetail      bool
	Workers          int
}

func (j *Job) applyDefaults() {
	if j.CollectionPeriod == 0 {
		j.CollectionPeriod = 1
	}
	if j.Workers <= 0 {
		j.Workers = 1
	}
}

func (j Job) validate() error {
	switch {
	case j.Iterations < 0:
		return fmt.Errorf("%w: iterations %d", ErrInvalidJob, j.Iterations)
	case j.FirstIteration < 0:
		return fmt.Errorf("%w: first iteration %d", ErrInvalidJob, j.FirstIteration)
	case j.MaxSteps < 0:
		return fmt.Errorf("%w: %w: max steps %d", ErrInvalidJob, pd.ErrInvalidConfig, j.MaxSteps)
	case j.CollectionPeriod < 1:
		return fmt.Errorf("%w: %w: collection period %d", ErrInvalidJob, pd.ErrInvalidConfig, j.CollectionPeriod)
	}
	if _, err := pd.ParsePayoff(j.Payoff); err != nil {
		return err
	}
	return nil
}

// Row is one collected snapshot of one run.
type Row struct {
	RunID        string          `json:"run_id"`
	Rank         int             `json:"rank"`
	Combination  int             `json:"combination"`
	Height       int             `json:"height"`
	Width        int             `json:"width"`
	ScheduleType pd.ScheduleType `json:"schedule_type"`
	Radius       int             `json:"radius"`
	Iteration    int             `json:"iteration"`
	Seed         int64           `json:"seed"`
	Step         int             `json:"step"`
	Cooperating  int             `json:"cooperating_count"`
	TotalPayoff  float64         `json:"total_payoff"`
	Static       int             `json:"static_count"`
	Agents       []pd.AgentRow   `json:"agents,omitempty"`
}

// Sink receives rows in output order from a single goroutine.
type Sink interface {
	WriteRow(Row) error
}

type SinkFunc func(Row) error

func (f SinkFunc) WriteRow(r Row) error { return f(r) }

// MultiSink fans rows out to every non-nil sink, stopping at the first error.
func MultiSink(sinks ...Sink) Sink {
	return SinkFunc(func(r Row) error {
		for _, s := range sinks {
			if s == nil {
				continue
			}
			if err := s.WriteRow(r); err != nil {
				return err
			}
		}
		return nil
	})
}

type Stats struct {
	Runs      int
	Completed uint64
	Rows      uint64
}

// Runner executes jobs. The zero value is ready to use.
type Runner struct {
	completed atomic.Uint64
	rows      atomic.Uint64
	runs      atomic.Int64
}

func (r *Runner) Stats() Stats {
	return Stats{
		Runs:      int(r.runs.Load()),
		Completed: r.completed.Load(),
		Rows:      r.rows.Load(),
	}
}

type task struct {
	index       int
	combination int
	params      Params
	iteration   int
}

type result struct {
	index int
	rows  []Row
	err   error
}

// Run executes every (combination, iteration) pair of the job and returns
// the rows ordered by combination, iteration and step. Rows are also written
// to sink, when non-nil, in the same order as soon as they are available.
func Run(ctx context.Context, job Job, sink Sink) ([]Row, error) {
	var r Runner
	return r.Run(ctx, job, sink)
}

func (r *Runner) Run(ctx context.Context, job Job, sink Sink) ([]Row, error) {
	job.applyDefaults()
	if err := job.validate(); err != nil {
		return nil, err
	}
	combos := job.Sweep.Combinations()
	tasks := make([]task, 0, len(combos)*job.Iterations)
	for ci, p := range combos {
		for it := 0; it < job.Iterations; it++ {
			tasks = append(tasks, task{index: len(tasks), combination: ci, params: p, iteration: job.FirstIteration + it})
		}
	}
	r.runs.Store(int64(len(tasks)))
	if len(tasks) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workers := min(job.Workers, len(tasks))
	jobs := make(chan task)
	results := make(chan result, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				rows, err := runOne(ctx, job, t)
				results <- result{index: t.index, rows: rows, err: err}
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, t := range tasks {
			select {
			case jobs <- t:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	pending := make(map[int][]Row)
	next := 0
	var out []Row
	var firstErr error
	for res := range results {
		if firstErr != nil {
			continue
		}
		if res.err != nil {
			firstErr = res.err
			cancel()
			continue
		}
		r.completed.Add(1)
		pending[res.index] = res.rows
		for {
			rows, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			for _, row := range rows {
				if sink != nil {
					if err := sink.WriteRow(row); err != nil {
						firstErr = fmt.Errorf("write row: %w", err)
						cancel()
						break
					}
				}
				r.rows.Add(1)
			}
			out = append(out, rows...)
			if firstErr != nil {
				break
			}
		}
	}
	if firstErr != nil {
		return out, firstErr
	}
	if err := ctx.Err(); err != nil && next < len(tasks) {
		return out, err
	}
	return out, nil
}

func runOne(ctx context.Context, job Job, t task) ([]Row, error) {
	seed := DeriveSeed(job.BaseSeed, t.combination, t.iteration)
	m, err := pd.New(pd.Config{
		Width:            t.params.Width,
		Height:           t.params.Height,
		ScheduleType:     t.params.ScheduleType,
		Radius:           t.params.Radius,
		Payoff:           job.Payoff,
		Seed:             seed,
		CollectionPeriod: job.CollectionPeriod,
		AgentDetail:      job.AgentDetail,
	})
	if err != nil {
		return nil, fmt.Errorf("combination %d (%s) iteration %d: %w", t.combination, t.params, t.iteration, err)
	}
	for i := 0; i < job.MaxSteps && m.Running(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.Step()
	}
	m.Collect()

	snaps := m.Snapshots()
	rows := make([]Row, 0, len(snaps))
	for _, s := range snaps {
		rows = append(rows, Row{
			RunID:        job.RunID,
			Rank:         job.Rank,
			Combination:  t.combination,
			Height:       t.params.Height,
			Width:        t.params.Width,
			ScheduleType: t.params.ScheduleType,
			Radius:       t.params.Radius,
			Iteration:    t.iteration,
			Seed:         seed,
			Step:         s.Step,
			Cooperating:  s.Cooperating,
			TotalPayoff:  s.TotalPayoff,
			Static:       s.Static,
			Agents:       s.Agents,
		})
	}
	return rows, nil
}
