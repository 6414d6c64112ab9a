package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdgrid/internal/harness"
	"pdgrid/internal/persistence/indexdb"
	"pdgrid/internal/persistence/resultlog"
	"pdgrid/internal/sim/pd"
	"pdgrid/internal/sim/tuning"
)

func execute(ctx context.Context, args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append(args, "--quiet"))
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(context.Background(), args...)
	require.NoError(t, err, "pdgrid %s", strings.Join(args, " "))
	return out
}

func lineValue(out, key string) string {
	for _, line := range strings.Split(out, "\n") {
		for _, field := range strings.Fields(line) {
			if v, ok := strings.CutPrefix(field, key+"="); ok {
				return v
			}
		}
	}
	return ""
}

func countPrefix(out, prefix string) int {
	n := 0
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

func TestVersion(t *testing.T) {
	out := run(t, "version", "--json")
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, version, v["version"])
}

func modelArgs(dir string, extra ...string) []string {
	args := []string{
		"model",
		"--width", "5", "--height", "5",
		"--schedule-type", "Sequential",
		"--seed", "3",
		"--collection-frequency", "2",
		"--output-dir", dir,
		"--format", "csv",
		"--run-id", "r1",
	}
	return append(args, extra...)
}

func TestModel_PrintsSnapshotsAndWritesOutputs(t *testing.T) {
	dir := t.TempDir()
	out := run(t, modelArgs(dir, "--steps", "4", "--snapshot-every", "2")...)

	assert.Equal(t, 3, countPrefix(out, "step="))
	assert.Equal(t, "r1", lineValue(out, "run_id"))
	assert.Equal(t, "4", lineValue(out, "steps"))
	assert.NotEmpty(t, lineValue(out, "digest"))

	csv, err := os.ReadFile(filepath.Join(dir, "r1-rank0.csv"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(csv)), "\n"), 4)

	for _, step := range []int{2, 4} {
		assert.FileExists(t, filepath.Join(dir, "snapshots", fmt.Sprintf("r1-step%06d.snap.zst", step)))
	}
}

func TestModel_ResumeMatchesStraightRun(t *testing.T) {
	straightDir := t.TempDir()
	straight := run(t, modelArgs(straightDir, "--steps", "4", "--snapshot-every", "2")...)

	snap := filepath.Join(straightDir, "snapshots", "r1-step000002.snap.zst")
	resumed := run(t, modelArgs(t.TempDir(), "--steps", "2", "--resume", snap)...)

	assert.Equal(t, lineValue(straight, "digest"), lineValue(resumed, "digest"))
	assert.Equal(t, "4", lineValue(resumed, "steps"))
	// Only the steps after the snapshot are printed again.
	assert.Equal(t, 1, countPrefix(resumed, "step="))
}

func TestModel_JSONLines(t *testing.T) {
	out := run(t, modelArgs(t.TempDir(), "--steps", "2", "--json", "--format", "jsonl_zst")...)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	var s pd.Snapshot
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &s))
	assert.Equal(t, 2, s.Step)
}

func TestModel_InvalidSchedule(t *testing.T) {
	_, err := execute(context.Background(), modelArgs(t.TempDir(), "--schedule-type", "Nope")...)
	require.Error(t, err)
	assert.ErrorIs(t, err, pd.ErrInvalidConfig)
}

func batchArgs(dir string, extra ...string) []string {
	args := []string{
		"batch",
		"--height", "3", "--width", "3",
		"--schedule-type", "Sequential",
		"--iterations", "2",
		"--max-steps", "5",
		"--collection-frequency", "1",
		"--output-dir", dir,
		"--run-id", "b1",
	}
	return append(args, extra...)
}

func TestBatch_TwelveRowsToEveryFormat(t *testing.T) {
	dir := t.TempDir()
	out := run(t, batchArgs(dir, "--format", "csv,jsonl_zst,sqlite", "--json")...)

	var sum batchSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, "b1", sum.RunID)
	assert.Equal(t, 1, sum.Combinations)
	assert.EqualValues(t, 2, sum.Runs)
	assert.EqualValues(t, 12, sum.Rows)

	rows, err := resultlog.ReadAll(resultlog.Path(dir, "b1", 0))
	require.NoError(t, err)
	assert.Len(t, rows, 12)

	csv, err := os.ReadFile(filepath.Join(dir, "b1-rank0.csv"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(csv)), "\n"), 13)

	idx, err := indexdb.OpenSQLite(filepath.Join(dir, indexFile))
	require.NoError(t, err)
	defer idx.Close()
	runs, err := idx.Runs(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "batch", runs[0].Command)
	assert.Equal(t, 2, runs[0].Job.Iterations)
	results, err := idx.Results(context.Background(), "b1")
	require.NoError(t, err)
	assert.Len(t, results, 12)
}

func TestBatch_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	out := run(t, "batch", "--config", "../../configs/pdgrid.yaml",
		"--height", "3", "--width", "3", "--iterations", "1", "--max-steps", "1",
		"--output-dir", dir, "--format", "csv", "--run-id", "cfg")
	// Three schedules, steps 0 and 1.
	assert.Equal(t, "3", lineValue(out, "combinations"))
	assert.Equal(t, "6", lineValue(out, "rows"))
}

func TestHarness_LocalRanks(t *testing.T) {
	dir := t.TempDir()
	out := run(t, "harness", "--local", "3",
		"--height", "3", "--width", "3", "--schedule-type", "Random",
		"--iterations", "5", "--max-steps", "2", "--collection-frequency", "1",
		"--output-dir", dir, "--format", "jsonl_zst", "--json")

	var sum harness.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 3, sum.WorkerCount)
	assert.Len(t, sum.RankDurations, 3)
	assert.InDelta(t, harness.Sum(sum.RankDurations), sum.TotalDurationSeconds, 1e-9)
	assert.NotEmpty(t, sum.RunID)

	rows, err := resultlog.ReadAll(resultlog.Path(dir, sum.RunID, 0))
	require.NoError(t, err)
	// 5 iterations x steps 0..2
	assert.Len(t, rows, 15)
}

func TestHarness_SingleProcessPrintsSummary(t *testing.T) {
	out := run(t, "harness", "--rank", "0", "--world-size", "1",
		"--height", "3", "--width", "3", "--schedule-type", "Sequential",
		"--iterations", "1", "--max-steps", "1",
		"--output-dir", t.TempDir(), "--format", "csv")
	assert.Equal(t, "1", lineValue(out, "worker_count"))
	assert.NotEmpty(t, lineValue(out, "total_duration_seconds"))
}

func TestHarness_DefaultsToModelSchedule(t *testing.T) {
	dir := t.TempDir()
	out := run(t, "harness", "--rank", "0", "--world-size", "1",
		"--height", "3", "--width", "3", "--iterations", "2", "--max-steps", "2",
		"--output-dir", dir, "--format", "jsonl_zst", "--json")

	var sum harness.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	rows, err := resultlog.ReadAll(resultlog.Path(dir, sum.RunID, 0))
	require.NoError(t, err)
	// Default frequency 10 collects step 0 and the final step only.
	require.Len(t, rows, 4)
	for _, r := range rows {
		assert.Equal(t, pd.Sequential, r.ScheduleType)
		assert.Contains(t, []int{0, 2}, r.Step)
	}

	_, err = execute(context.Background(), "harness", "--rank", "0", "--world-size", "1",
		"--schedule-type", "Random,Simultaneous", "--output-dir", t.TempDir())
	assert.ErrorIs(t, err, tuning.ErrInvalid)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestHarness_TwoProcessesOverWebsocket(t *testing.T) {
	dir := t.TempDir()
	addr := freeAddr(t)
	common := []string{"harness", "--world-size", "2",
		"--height", "3", "--width", "3", "--schedule-type", "Simultaneous",
		"--iterations", "4", "--max-steps", "2", "--collection-frequency", "1",
		"--output-dir", dir, "--format", "jsonl_zst",
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	var (
		wg        sync.WaitGroup
		workerErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		args := append(append([]string(nil), common...), "--rank", "1", "--coordinator", "ws://"+addr+reducePath)
		_, workerErr = execute(ctx, args...)
	}()

	args := append(append([]string(nil), common...), "--rank", "0", "--listen", addr, "--json")
	out, err := execute(ctx, args...)
	require.NoError(t, err)
	wg.Wait()
	require.NoError(t, workerErr)

	var sum harness.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 2, sum.WorkerCount)
	require.Len(t, sum.RankDurations, 2)

	for rank := 0; rank < 2; rank++ {
		rows, err := resultlog.ReadAll(resultlog.Path(dir, sum.RunID, rank))
		require.NoError(t, err)
		// Two iterations per rank, steps 0..2.
		assert.Len(t, rows, 6, "rank %d", rank)
	}
}

func TestInspect(t *testing.T) {
	dir := t.TempDir()
	run(t, modelArgs(dir, "--steps", "2", "--snapshot-every", "2", "--format", "sqlite")...)
	snap := filepath.Join(dir, "snapshots", "r1-step000002.snap.zst")

	out := run(t, "inspect", snap, "--verify")
	assert.Equal(t, "r1", lineValue(out, "run_id"))
	assert.Equal(t, "2", lineValue(out, "step"))
	assert.Contains(t, out, "digest ok")

	out = run(t, "inspect", filepath.Join(dir, indexFile))
	assert.Contains(t, out, "r1 command=model")

	bdir := t.TempDir()
	run(t, batchArgs(bdir, "--format", "jsonl_zst")...)
	out = run(t, "inspect", resultlog.Path(bdir, "b1", 0))
	assert.Equal(t, "12", lineValue(out, "rows"))
	assert.Equal(t, 6, countPrefix(out, "step="))

	_, err := execute(context.Background(), "inspect", filepath.Join(dir, "notes.txt"))
	assert.Error(t, err)
}
