package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"pdgrid/internal/persistence/indexdb"
	"pdgrid/internal/persistence/resultlog"
	"pdgrid/internal/persistence/snapshot"
	"pdgrid/internal/sim/batch"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Describe a snapshot, result log or sqlite index",
		Long: `inspect reads one output file:

  *.snap.zst     snapshot header (with --verify, the full state and digest)
  *.jsonl.zst    row count and mean cooperation per step
  *.sqlite       recorded runs; with --run-id, mean cooperation per step`,
		Args: cobra.ExactArgs(1),
		RunE: runInspect,
	}
	cmd.Flags().Bool("verify", false, "Decode the whole snapshot and check its digest")
	cmd.Flags().String("run-id", "", "Run to summarize from the sqlite index")
	cmd.Flags().Int("combination", 0, "Combination to summarize from the sqlite index")
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	jsonOut, _ := cmd.Flags().GetBool("json")
	w := cmd.OutOrStdout()
	switch {
	case strings.HasSuffix(path, ".snap.zst"):
		return inspectSnapshot(cmd, w, path, jsonOut)
	case strings.HasSuffix(path, ".jsonl.zst"):
		return inspectResultLog(w, path, jsonOut)
	case strings.HasSuffix(path, ".sqlite"):
		return inspectIndex(cmd, w, path, jsonOut)
	}
	return fmt.Errorf("inspect %s: unknown file type", path)
}

func inspectSnapshot(cmd *cobra.Command, w io.Writer, path string, jsonOut bool) error {
	verify, _ := cmd.Flags().GetBool("verify")
	h, err := snapshot.ReadHeader(path)
	if err != nil {
		return err
	}
	if verify {
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			return err
		}
		if _, err := snap.Restore(); err != nil {
			return err
		}
	}
	if jsonOut {
		return json.NewEncoder(w).Encode(h)
	}
	fmt.Fprintf(w, "run_id=%s step=%d grid=%dx%d schedule_type=%s seed=%d digest=%s\n",
		h.RunID, h.Step, h.Width, h.Height, h.ScheduleType, h.Seed, h.Digest)
	if verify {
		fmt.Fprintln(w, "digest ok")
	}
	return nil
}

// StepMean is the mean cooperating count at one step.
type StepMean struct {
	Step            int     `json:"step"`
	MeanCooperating float64 `json:"mean_cooperating"`
}

func inspectResultLog(w io.Writer, path string, jsonOut bool) error {
	var (
		rows  int
		sums  = map[int]float64{}
		count = map[int]int{}
	)
	err := resultlog.Read(path, func(r batch.Row) error {
		rows++
		sums[r.Step] += float64(r.Cooperating)
		count[r.Step]++
		return nil
	})
	if err != nil {
		return err
	}
	means := make([]StepMean, 0, len(sums))
	for step, s := range sums {
		means = append(means, StepMean{Step: step, MeanCooperating: s / float64(count[step])})
	}
	sort.Slice(means, func(i, j int) bool { return means[i].Step < means[j].Step })

	if jsonOut {
		return json.NewEncoder(w).Encode(map[string]any{"rows": rows, "steps": means})
	}
	fmt.Fprintf(w, "rows=%d\n", rows)
	for _, m := range means {
		fmt.Fprintf(w, "step=%d mean_cooperating=%.3f\n", m.Step, m.MeanCooperating)
	}
	return nil
}

func inspectIndex(cmd *cobra.Command, w io.Writer, path string, jsonOut bool) error {
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer idx.Close()
	ctx := cmd.Context()

	if runID, _ := cmd.Flags().GetString("run-id"); runID != "" {
		combination, _ := cmd.Flags().GetInt("combination")
		byStep, err := idx.MeanCooperation(ctx, runID, combination)
		if err != nil {
			return err
		}
		means := make([]StepMean, 0, len(byStep))
		for step, m := range byStep {
			means = append(means, StepMean{Step: step, MeanCooperating: m})
		}
		sort.Slice(means, func(i, j int) bool { return means[i].Step < means[j].Step })
		if jsonOut {
			return json.NewEncoder(w).Encode(means)
		}
		for _, m := range means {
			fmt.Fprintf(w, "step=%d mean_cooperating=%.3f\n", m.Step, m.MeanCooperating)
		}
		return nil
	}

	runs, err := idx.Runs(ctx)
	if err != nil {
		return err
	}
	if jsonOut {
		return json.NewEncoder(w).Encode(runs)
	}
	for _, r := range runs {
		fmt.Fprintf(w, "%s command=%s world_size=%d iterations=%d max_steps=%d started=%s",
			r.RunID, r.Command, r.WorldSize, r.Job.Iterations, r.Job.MaxSteps, r.StartedAt.Format("2006-01-02T15:04:05Z07:00"))
		if r.WorkerCount > 0 {
			fmt.Fprintf(w, " worker_count=%d total_duration_seconds=%.6f", r.WorkerCount, r.TotalDurationSeconds)
		}
		fmt.Fprintln(w)
	}
	return nil
}
