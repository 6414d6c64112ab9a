package main

import (
	"github.com/spf13/cobra"

	"pdgrid/internal/mcpserver"
)

func newMCPCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the model and batch runner as MCP tools over stdio",
		Long: `Start an MCP server on stdin/stdout exposing:

  pdgrid_run_model   run one model and return its snapshots
  pdgrid_run_batch   run a small sweep and summarize final cooperation
  pdgrid_partition   show how iterations split across ranks

Logs go to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			maxWork, _ := cmd.Flags().GetInt("max-cell-steps")
			srv := mcpserver.NewServer(mcpserver.Config{
				Name:         "pdgrid",
				Version:      version,
				Logger:       newLogger(cmd, "[mcp] "),
				MaxCellSteps: maxWork,
			})
			return srv.Run(cmd.Context())
		},
	}
	cmd.Flags().Int("max-cell-steps", 0, "Per-call cap on width*height*steps*runs (0: default)")
	return cmd
}
