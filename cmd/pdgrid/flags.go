package main

import (
	"github.com/spf13/cobra"

	"pdgrid/internal/sim/tuning"
)

// addSweepFlags registers the batch overrides shared by batch and harness.
func addSweepFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntSlice("height", nil, "Grid heights to sweep")
	f.IntSlice("width", nil, "Grid widths to sweep")
	f.StringSlice("schedule-type", nil, "Activation regimes to sweep (Sequential, Random, Simultaneous)")
	f.IntSlice("radius", nil, "Search radii to sweep")
	f.Int("iterations", 0, "Runs per combination")
	f.Int("max-steps", 0, "Steps per run")
	f.Int("collection-frequency", 0, "Collect metrics every N steps")
	f.Int("workers", 0, "Models run in parallel per process")
	f.Int64("seed", 0, "Base seed")
	f.Bool("agent-detail", false, "Include per-agent rows")
	f.String("output-dir", "", "Output directory")
	f.StringSlice("format", nil, "Output formats (csv, jsonl_zst, sqlite)")
}

// applySweepFlags copies every flag the user set over t and revalidates.
func applySweepFlags(cmd *cobra.Command, t *tuning.Tuning) error {
	f := cmd.Flags()
	if f.Changed("height") {
		t.Batch.Height, _ = f.GetIntSlice("height")
	}
	if f.Changed("width") {
		t.Batch.Width, _ = f.GetIntSlice("width")
	}
	if f.Changed("schedule-type") {
		t.Batch.ScheduleType, _ = f.GetStringSlice("schedule-type")
	}
	if f.Changed("radius") {
		t.Batch.Radius, _ = f.GetIntSlice("radius")
	}
	if f.Changed("iterations") {
		t.Batch.Iterations, _ = f.GetInt("iterations")
	}
	if f.Changed("max-steps") {
		t.Batch.MaxSteps, _ = f.GetInt("max-steps")
	}
	if f.Changed("collection-frequency") {
		t.Batch.CollectionFrequency, _ = f.GetInt("collection-frequency")
	}
	if f.Changed("workers") {
		t.Batch.Workers, _ = f.GetInt("workers")
	}
	if f.Changed("seed") {
		t.Batch.BaseSeed, _ = f.GetInt64("seed")
	}
	if f.Changed("agent-detail") {
		t.Batch.AgentDetail, _ = f.GetBool("agent-detail")
	}
	if f.Changed("output-dir") {
		t.Output.Dir, _ = f.GetString("output-dir")
	}
	if f.Changed("format") {
		t.Output.Formats, _ = f.GetStringSlice("format")
	}
	return t.Validate()
}
