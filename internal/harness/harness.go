package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"pdgrid/internal/sim/batch"
)

// Summary is reported by rank 0 once every rank finished.
type Summary struct {
	RunID                string    `json:"run_id,omitempty"`
	WorkerCount          int       `json:"worker_count"`
	TotalDurationSeconds float64   `json:"total_duration_seconds"`
	RankDurations        []float64 `json:"rank_durations_seconds"`
}

// Harness runs one rank's share of a batch job and joins the group
// reduction of wall time.
type Harness struct {
	Rank      int
	WorldSize int
	Reducer   Reducer
	Logger    *log.Logger

	// ReduceTimeout bounds the wait for the other ranks. Zero waits forever.
	ReduceTimeout time.Duration
	// Workers overrides job.Workers for this rank when positive.
	Workers int

	now func() time.Time
}

func (h *Harness) logf(format string, args ...any) {
	l := h.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf(format, args...)
}

// Run executes the iterations assigned to this rank by Partition. job.Iterations
// is the total across all ranks. Rank 0 returns the summary; other ranks
// return nil after the barrier.
func (h *Harness) Run(ctx context.Context, job batch.Job, sink batch.Sink) (*Summary, error) {
	if h.Reducer == nil {
		return nil, errors.New("harness: nil reducer")
	}
	first, count, err := Partition(job.Iterations, h.WorldSize, h.Rank)
	if err != nil {
		return nil, err
	}
	now := h.now
	if now == nil {
		now = time.Now
	}

	job.Rank = h.Rank
	job.FirstIteration += first
	job.Iterations = count
	if h.Workers > 0 {
		job.Workers = h.Workers
	}
	h.logf("rank %d/%d iterations [%d,%d) combinations=%d max_steps=%d", h.Rank, h.WorldSize, job.FirstIteration, job.FirstIteration+count, len(job.Sweep.Combinations()), job.MaxSteps)

	start := now()
	rows, err := batch.Run(ctx, job, sink)
	if err != nil {
		return nil, fmt.Errorf("rank %d batch: %w", h.Rank, err)
	}
	elapsed := now().Sub(start).Seconds()
	h.logf("rank %d done rows=%d duration=%.3fs", h.Rank, len(rows), elapsed)

	rctx := ctx
	if h.ReduceTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, h.ReduceTimeout)
		defer cancel()
	}
	red, err := h.Reducer.SumToRoot(rctx, elapsed)
	if err != nil {
		return nil, fmt.Errorf("rank %d reduce: %w", h.Rank, err)
	}
	if h.Rank != 0 {
		return nil, nil
	}
	return &Summary{
		RunID:                job.RunID,
		WorkerCount:          h.WorldSize,
		TotalDurationSeconds: red.Sum,
		RankDurations:        red.Values,
	}, nil
}

// RunLocal runs worldSize ranks as goroutines over a LocalGroup. The sink is
// shared, so writes are serialized. The first failing rank cancels the rest.
func RunLocal(ctx context.Context, job batch.Job, worldSize int, sink batch.Sink, logger *log.Logger) (*Summary, error) {
	g, err := NewLocalGroup(worldSize)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shared := &lockedSink{sink: sink}
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		summary  *Summary
	)
	for rank := 0; rank < worldSize; rank++ {
		red, err := g.Member(rank)
		if err != nil {
			return nil, err
		}
		h := &Harness{
			Rank:      rank,
			WorldSize: worldSize,
			Reducer:   red,
			Logger:    log.New(logger.Writer(), fmt.Sprintf("%s[rank %d] ", logger.Prefix(), rank), logger.Flags()),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := h.Run(ctx, job, shared)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					cancel()
				}
				return
			}
			if s != nil {
				summary = s
			}
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return summary, nil
}

type lockedSink struct {
	mu   sync.Mutex
	sink batch.Sink
}

func (s *lockedSink) WriteRow(r batch.Row) error {
	if s.sink == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink.WriteRow(r)
}
