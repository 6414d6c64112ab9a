package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pdgrid/internal/sim/tuning"
)

var version = "0.1.0-dev"

func main() {
	ctx, cancel := signalContext()
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pdgrid",
		Short: "Spatial iterated prisoner's dilemma on a toroidal grid",
		Long: `pdgrid runs the spatial prisoner's dilemma: agents on a wrapping grid copy
the move of their best-scoring neighbor and collect payoff from the eight
cells around them.

Single runs, parameter sweeps and multi-process sweeps with a wall-time
reduction are available as subcommands.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Tuning file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().Bool("quiet", false, "Discard log output")

	rootCmd.AddCommand(
		newVersionCmd(),
		newModelCmd(),
		newBatchCmd(),
		newHarnessCmd(),
		newMCPCmd(),
		newInspectCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				_ = json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pdgrid version %s\n", version)
		},
	}
	cmd.Flags().Bool("json", false, "Output as JSON")
	return cmd
}

// loadTuning reads --config when given, then applies PDGRID_* overrides.
func loadTuning(cmd *cobra.Command) (tuning.Tuning, error) {
	path, _ := cmd.Flags().GetString("config")
	t := tuning.Defaults()
	if path != "" {
		var err error
		if t, err = tuning.Load(path); err != nil {
			return t, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := t.ApplyEnv(os.Getenv); err != nil {
		return t, err
	}
	return t, nil
}

func newLogger(cmd *cobra.Command, prefix string) *log.Logger {
	quiet, _ := cmd.Flags().GetBool("quiet")
	if quiet {
		return log.New(io.Discard, prefix, 0)
	}
	return log.New(cmd.ErrOrStderr(), prefix, log.LstdFlags|log.Lmicroseconds)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
