package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"pdgrid/internal/persistence/indexdb"
	"pdgrid/internal/persistence/snapshot"
	"pdgrid/internal/sim/batch"
	"pdgrid/internal/sim/pd"
	"pdgrid/internal/sim/tuning"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Run a single model and print its metric snapshots",
		Long: `Run one model built from the model section of the tuning file.

Snapshots are printed every collection_frequency steps and once more at the
end. With --snapshot-every the full model state is written under
<output-dir>/snapshots and can be continued with --resume.`,
		RunE: runModel,
	}
	f := cmd.Flags()
	f.Int("width", 0, "Grid width")
	f.Int("height", 0, "Grid height")
	f.String("schedule-type", "", "Sequential, Random or Simultaneous")
	f.Int("radius", 0, "Best-neighbor search radius")
	f.Int64("seed", 0, "Random seed")
	f.String("initial-move", "", "Start every agent with C or D")
	f.Int("steps", 0, "Steps to run (default batch.max_steps)")
	f.Int("collection-frequency", 0, "Collect metrics every N steps")
	f.Bool("agent-detail", false, "Include per-agent rows")
	f.Int("snapshot-every", 0, "Write a state snapshot every N steps")
	f.String("resume", "", "Continue from a snapshot file")
	f.String("run-id", "", "Run id (default: random, or the snapshot's)")
	f.String("output-dir", "", "Output directory")
	f.StringSlice("format", nil, "Output formats (csv, jsonl_zst, sqlite)")
	f.Bool("json", false, "Print snapshots as JSON lines")
	return cmd
}

func applyModelFlags(cmd *cobra.Command, t *tuning.Tuning) error {
	f := cmd.Flags()
	if f.Changed("width") {
		t.Model.Width, _ = f.GetInt("width")
	}
	if f.Changed("height") {
		t.Model.Height, _ = f.GetInt("height")
	}
	if f.Changed("schedule-type") {
		t.Model.ScheduleType, _ = f.GetString("schedule-type")
	}
	if f.Changed("radius") {
		t.Model.Radius, _ = f.GetInt("radius")
	}
	if f.Changed("seed") {
		t.Model.Seed, _ = f.GetInt64("seed")
	}
	if f.Changed("initial-move") {
		t.Model.InitialMove, _ = f.GetString("initial-move")
	}
	if f.Changed("steps") {
		t.Batch.MaxSteps, _ = f.GetInt("steps")
	}
	if f.Changed("collection-frequency") {
		t.Batch.CollectionFrequency, _ = f.GetInt("collection-frequency")
	}
	if f.Changed("agent-detail") {
		t.Batch.AgentDetail, _ = f.GetBool("agent-detail")
	}
	if f.Changed("snapshot-every") {
		t.Output.SnapshotEvery, _ = f.GetInt("snapshot-every")
	}
	if f.Changed("output-dir") {
		t.Output.Dir, _ = f.GetString("output-dir")
	}
	if f.Changed("format") {
		t.Output.Formats, _ = f.GetStringSlice("format")
	}
	return t.Validate()
}

func runModel(cmd *cobra.Command, args []string) error {
	t, err := loadTuning(cmd)
	if err != nil {
		return err
	}
	if err := applyModelFlags(cmd, &t); err != nil {
		return err
	}
	logger := newLogger(cmd, "[pdgrid] ")
	ctx := cmd.Context()
	runID, _ := cmd.Flags().GetString("run-id")
	resume, _ := cmd.Flags().GetString("resume")
	jsonOut, _ := cmd.Flags().GetBool("json")

	var m *pd.Model
	if resume != "" {
		snap, err := snapshot.ReadSnapshot(resume)
		if err != nil {
			return err
		}
		if m, err = snap.Restore(); err != nil {
			return fmt.Errorf("resume %s: %w", resume, err)
		}
		if runID == "" {
			runID = snap.Header.RunID
		}
		logger.Printf("resumed %s at step %d digest=%s", resume, m.StepCount(), snap.Header.Digest)
	} else {
		cfg, err := t.ModelConfig()
		if err != nil {
			return err
		}
		if m, err = pd.New(cfg); err != nil {
			return err
		}
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	cfg := m.Config()

	out, err := openOutputs(t.Output, runID, 0, cfg.AgentDetail, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			logger.Printf("close outputs: %v", err)
		}
	}()
	sink := out.Sink()
	started := time.Now().UTC()

	emitted := -1
	if resume != "" {
		emitted = m.StepCount()
	}
	emit := func() error {
		s, ok := m.Latest()
		if !ok || s.Step <= emitted {
			return nil
		}
		emitted = s.Step
		if err := printSnapshot(cmd.OutOrStdout(), s, jsonOut); err != nil {
			return err
		}
		return sink.WriteRow(modelRow(runID, cfg, s))
	}
	if err := emit(); err != nil {
		return err
	}

	steps := t.Batch.MaxSteps
	every := t.Output.SnapshotEvery
	for i := 0; i < steps && m.Running(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.Step()
		if err := emit(); err != nil {
			return err
		}
		if every > 0 && m.StepCount()%every == 0 {
			if err := writeModelSnapshot(out, m, runID); err != nil {
				return err
			}
		}
	}
	m.Collect()
	if err := emit(); err != nil {
		return err
	}

	digest := m.Digest()
	if !jsonOut {
		fmt.Fprintf(cmd.OutOrStdout(), "run_id=%s steps=%d digest=%s\n", runID, m.StepCount(), digest)
	}
	out.RecordRun(ctx, indexdb.Run{
		RunID:     runID,
		Command:   "model",
		WorldSize: 1,
		Job: batch.Job{
			RunID: runID,
			Sweep: batch.Sweep{
				Height:       []int{cfg.Height},
				Width:        []int{cfg.Width},
				ScheduleType: []pd.ScheduleType{cfg.ScheduleType},
				Radius:       []int{cfg.Radius},
			},
			Payoff:           cfg.Payoff,
			Iterations:       1,
			MaxSteps:         steps,
			CollectionPeriod: cfg.CollectionPeriod,
			BaseSeed:         cfg.Seed,
			AgentDetail:      cfg.AgentDetail,
		},
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
	})
	logger.Printf("run %s done steps=%d outputs=%v", runID, m.StepCount(), out.files)
	return nil
}

func printSnapshot(w io.Writer, s pd.Snapshot, jsonOut bool) error {
	if jsonOut {
		return json.NewEncoder(w).Encode(s)
	}
	_, err := fmt.Fprintf(w, "step=%d cooperating=%d total_payoff=%g static=%d\n", s.Step, s.Cooperating, s.TotalPayoff, s.Static)
	return err
}

func modelRow(runID string, cfg pd.Config, s pd.Snapshot) batch.Row {
	return batch.Row{
		RunID:        runID,
		Height:       cfg.Height,
		Width:        cfg.Width,
		ScheduleType: cfg.ScheduleType,
		Radius:       cfg.Radius,
		Seed:         cfg.Seed,
		Step:         s.Step,
		Cooperating:  s.Cooperating,
		TotalPayoff:  s.TotalPayoff,
		Static:       s.Static,
		Agents:       s.Agents,
	}
}

func writeModelSnapshot(out *outputs, m *pd.Model, runID string) error {
	snap, err := snapshot.Capture(m, runID)
	if err != nil {
		return err
	}
	path := filepath.Join(out.dir, "snapshots", fmt.Sprintf("%s-step%06d.snap.zst", runID, m.StepCount()))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		return err
	}
	out.RecordSnapshot(path, snap)
	out.log.Printf("snapshot step=%d path=%s", m.StepCount(), path)
	return nil
}
