package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pdgrid/internal/harness"
	"pdgrid/internal/persistence/indexdb"
	"pdgrid/internal/sim/batch"
	"pdgrid/internal/sim/tuning"
	"pdgrid/internal/transport/ws"
)

const reducePath = "/v1/reduce"

func newHarnessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harness",
		Short: "Run one rank of a multi-process sweep",
		Long: `Split the configured iterations across a group of ranks, run this rank's
share and sum the per-rank wall time on rank 0.

Rank and world size come from --rank/--world-size, else PDGRID_RANK and
PDGRID_WORLD_SIZE, else the OpenMPI or PMI launcher variables. Rank 0 serves
the reduction endpoint on --listen; the other ranks dial --coordinator.
With --local W all ranks run as goroutines in this process.

Every rank runs the single regime model.schedule_type (default Sequential),
or the one given with --schedule-type.

Rank 0 prints worker_count and total_duration_seconds.`,
		RunE: runHarness,
	}
	addSweepFlags(cmd)
	f := cmd.Flags()
	f.Int("rank", -1, "This process's rank")
	f.Int("world-size", 0, "Number of ranks")
	f.Int("local", 0, "Run W ranks in this process")
	f.String("coordinator", "", "Rank 0 websocket URL (workers)")
	f.String("listen", "", "Reduction listen address (rank 0)")
	f.String("reduce-timeout", "", "Give up waiting for other ranks after this long")
	f.String("run-id", "", "Run id shared by all ranks (default: derived from the job)")
	f.Bool("json", false, "Print the summary as JSON")
	return cmd
}

func runHarness(cmd *cobra.Command, args []string) error {
	t, err := loadTuning(cmd)
	if err != nil {
		return err
	}
	if err := applyHarnessFlags(cmd, &t); err != nil {
		return err
	}
	reduceTimeout, retry, err := t.Harness.Timeouts()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	jsonOut, _ := cmd.Flags().GetBool("json")

	runID, _ := cmd.Flags().GetString("run-id")
	if runID == "" {
		runID = os.Getenv("PDGRID_RUN_ID")
	}
	job, err := t.HarnessJob(runID)
	if err != nil {
		return err
	}
	if job.RunID == "" {
		job.RunID = jobRunID(job)
	}

	if local, _ := cmd.Flags().GetInt("local"); local > 0 {
		return runLocalHarness(cmd, t, job, local, jsonOut)
	}

	flagRank, _ := cmd.Flags().GetInt("rank")
	flagSize, _ := cmd.Flags().GetInt("world-size")
	rank, size, err := harness.Discover(flagRank, flagSize, os.Getenv)
	if err != nil {
		return err
	}
	logger := newLogger(cmd, fmt.Sprintf("[rank %d] ", rank))

	out, err := openOutputs(t.Output, job.RunID, rank, job.AgentDetail, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Printf("close outputs: %v", err)
		}
	}()

	h := &harness.Harness{
		Rank:          rank,
		WorldSize:     size,
		Logger:        logger,
		ReduceTimeout: reduceTimeout,
	}
	var coord *ws.Coordinator
	switch {
	case size == 1:
		g, err := harness.NewLocalGroup(1)
		if err != nil {
			return err
		}
		if h.Reducer, err = g.Member(0); err != nil {
			return err
		}
	case rank == 0:
		coord, err = ws.NewCoordinator(size, job.RunID, newLogger(cmd, "[coordinator] "))
		if err != nil {
			return err
		}
		defer coord.Close()
		stop, err := serveCoordinator(t.Harness.Listen, coord, logger)
		if err != nil {
			return err
		}
		defer stop()
		h.Reducer = coord
	default:
		h.Reducer = &ws.Reducer{
			URL:           t.Harness.Coordinator,
			Rank:          rank,
			WorldSize:     size,
			RunID:         job.RunID,
			RetryInterval: retry,
			Logger:        logger,
		}
	}

	started := time.Now().UTC()
	sum, err := h.Run(ctx, job, out.Sink())
	if err != nil {
		return err
	}
	if coord != nil {
		dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := coord.Drain(dctx); err != nil {
			logger.Printf("drain: %v", err)
		}
		cancel()
	}
	if sum == nil {
		return nil
	}
	return reportHarness(cmd, out, sum, indexdb.Run{
		RunID:      job.RunID,
		Command:    "harness",
		WorldSize:  size,
		Job:        job,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}, jsonOut)
}

func runLocalHarness(cmd *cobra.Command, t tuning.Tuning, job batch.Job, worldSize int, jsonOut bool) error {
	ctx := cmd.Context()
	logger := newLogger(cmd, "[pdgrid] ")
	out, err := openOutputs(t.Output, job.RunID, 0, job.AgentDetail, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Printf("close outputs: %v", err)
		}
	}()

	started := time.Now().UTC()
	sum, err := harness.RunLocal(ctx, job, worldSize, out.Sink(), logger)
	if err != nil {
		return err
	}
	return reportHarness(cmd, out, sum, indexdb.Run{
		RunID:      job.RunID,
		Command:    "harness",
		WorldSize:  worldSize,
		Job:        job,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	}, jsonOut)
}

func reportHarness(cmd *cobra.Command, out *outputs, sum *harness.Summary, run indexdb.Run, jsonOut bool) error {
	run.WorkerCount = sum.WorkerCount
	run.TotalDurationSeconds = sum.TotalDurationSeconds
	out.RecordRun(cmd.Context(), run)
	return printSummary(cmd.OutOrStdout(), sum, jsonOut)
}

func printSummary(w io.Writer, sum *harness.Summary, jsonOut bool) error {
	if jsonOut {
		return json.NewEncoder(w).Encode(sum)
	}
	_, err := fmt.Fprintf(w, "worker_count=%d\ntotal_duration_seconds=%.6f\n", sum.WorkerCount, sum.TotalDurationSeconds)
	return err
}

func applyHarnessFlags(cmd *cobra.Command, t *tuning.Tuning) error {
	f := cmd.Flags()
	if f.Changed("coordinator") {
		t.Harness.Coordinator, _ = f.GetString("coordinator")
	}
	if f.Changed("listen") {
		t.Harness.Listen, _ = f.GetString("listen")
	}
	if f.Changed("reduce-timeout") {
		t.Harness.ReduceTimeout, _ = f.GetString("reduce-timeout")
	}
	if f.Changed("schedule-type") {
		sts, _ := f.GetStringSlice("schedule-type")
		if len(sts) != 1 {
			return fmt.Errorf("%w: harness runs one schedule type, got %v", tuning.ErrInvalid, sts)
		}
		t.Model.ScheduleType = sts[0]
	}
	return applySweepFlags(cmd, t)
}

// jobRunID names a run after its job, so ranks started from the same config
// agree on the id without talking to each other. Workers may differ per host.
func jobRunID(job batch.Job) string {
	job.Workers = 0
	b, _ := json.Marshal(job)
	return uuid.NewSHA1(uuid.NameSpaceOID, b).String()
}

// serveCoordinator starts the reduction endpoint. stop shuts the listener
// down.
func serveCoordinator(addr string, coord *ws.Coordinator, logger *log.Logger) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle(reducePath, coord.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("serve: %v", err)
		}
	}()
	logger.Printf("coordinator listening on %s%s", ln.Addr(), reducePath)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}
