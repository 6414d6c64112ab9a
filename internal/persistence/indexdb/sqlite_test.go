package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdgrid/internal/persistence/snapshot"
	"pdgrid/internal/sim/batch"
	"pdgrid/internal/sim/pd"
)

func open(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index", "pdgrid.sqlite")
	idx, err := OpenSQLite(path)
	require.NoError(t, err)
	return idx, path
}

func TestSQLiteIndex_ResultsRoundTrip(t *testing.T) {
	idx, path := open(t)
	ctx := context.Background()

	job := batch.Job{
		RunID:       "r1",
		Sweep:       batch.Sweep{Height: []int{3}, Width: []int{3}, ScheduleType: []pd.ScheduleType{pd.Sequential, pd.Simultaneous}},
		Iterations:  2,
		MaxSteps:    3,
		AgentDetail: true,
	}
	require.NoError(t, idx.UpsertRun(ctx, Run{RunID: "r1", Command: "batch", WorldSize: 1, Job: job, StartedAt: time.Now()}))
	rows, err := batch.Run(ctx, job, idx)
	require.NoError(t, err)
	require.NoError(t, idx.Close())
	require.ErrorIs(t, idx.WriteRow(batch.Row{}), ErrClosed)

	idx, err = OpenSQLite(path)
	require.NoError(t, err)
	defer idx.Close()

	got, err := idx.Results(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, got, len(rows))
	for i := range rows {
		want := rows[i]
		want.Agents = nil
		assert.Equal(t, want, got[i])
	}

	mean, err := idx.MeanCooperation(ctx, "r1", 0)
	require.NoError(t, err)
	assert.Len(t, mean, 4)

	var n int
	require.NoError(t, idx.db.QueryRow(`SELECT COUNT(*) FROM agent_rows WHERE run_id='r1'`).Scan(&n))
	assert.Equal(t, 9*len(rows), n)
}

func TestSQLiteIndex_CloseDuringWrites(t *testing.T) {
	idx, _ := open(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				err := idx.WriteRow(batch.Row{RunID: "race", Combination: w, Step: i})
				if err == nil && i%2 == 0 {
					err = idx.RecordSnapshot("x.snap.zst", snapshot.SnapshotV1{Header: snapshot.Header{RunID: "race", Step: w*1_000_000 + i}})
				}
				if err != nil {
					errs <- err
					return
				}
			}
		}(w)
	}
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, idx.Close())
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.ErrorIs(t, err, ErrClosed)
	}
}

func TestSQLiteIndex_RunsUpsert(t *testing.T) {
	idx, _ := open(t)
	defer idx.Close()
	ctx := context.Background()

	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := batch.Job{RunID: "r2", Iterations: 10, MaxSteps: 30, CollectionPeriod: 10}
	require.NoError(t, idx.UpsertRun(ctx, Run{RunID: "r2", Command: "harness", WorldSize: 4, Job: job, StartedAt: start}))
	require.NoError(t, idx.UpsertRun(ctx, Run{RunID: "r2", Command: "harness", WorldSize: 4, Job: job, StartedAt: start, FinishedAt: start.Add(time.Minute), WorkerCount: 4, TotalDurationSeconds: 12.5}))

	runs, err := idx.Runs(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 4, runs[0].WorkerCount)
	assert.Equal(t, 12.5, runs[0].TotalDurationSeconds)
	assert.Equal(t, job, runs[0].Job)
	assert.True(t, runs[0].FinishedAt.Equal(start.Add(time.Minute)))
}

func TestSQLiteIndex_RecordSnapshot(t *testing.T) {
	idx, path := open(t)

	m, err := pd.New(pd.Config{Width: 4, Height: 4, Seed: 3})
	require.NoError(t, err)
	m.Run(2)
	snap, err := snapshot.Capture(m, "r3")
	require.NoError(t, err)
	require.NoError(t, idx.RecordSnapshot("/abs/r3/step-2.snap.zst", snap))
	require.NoError(t, idx.Close())

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var (
		step   int
		p      string
		digest string
	)
	require.NoError(t, db.QueryRow(`SELECT step,path,digest FROM snapshots WHERE run_id='r3'`).Scan(&step, &p, &digest))
	assert.Equal(t, 2, step)
	assert.Equal(t, "/abs/r3/step-2.snap.zst", p)
	assert.Equal(t, m.Digest(), digest)
}

func TestSQLiteIndex_Stats(t *testing.T) {
	idx, _ := open(t)
	require.NoError(t, idx.WriteRow(batch.Row{RunID: "s", ScheduleType: pd.Random, Height: 1, Width: 1, Radius: 1}))
	require.NoError(t, idx.Close())
	st := idx.Stats()
	assert.Equal(t, uint64(1), st.RowsWritten)
	assert.Equal(t, 8192, st.QueueCapacity)
}
