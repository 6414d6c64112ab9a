// Package mcpserver exposes the grid model and batch runner as MCP tools.
package mcpserver

import (
	"context"
	"log"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP SDK server.
type Server struct {
	server *sdk.Server
	logger *log.Logger

	// maxCellSteps bounds width*height*steps*runs for a single tool call.
	maxCellSteps int
}

type Config struct {
	Name    string
	Version string
	Logger  *log.Logger
	// MaxCellSteps caps the work a single call may request. Zero uses the
	// default.
	MaxCellSteps int
}

const defaultMaxCellSteps = 50_000_000

func NewServer(cfg Config) *Server {
	if cfg.Name == "" {
		cfg.Name = "pdgrid"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.MaxCellSteps <= 0 {
		cfg.MaxCellSteps = defaultMaxCellSteps
	}
	s := &Server{
		server: sdk.NewServer(&sdk.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, &sdk.ServerOptions{}),
		logger:       cfg.Logger,
		maxCellSteps: cfg.MaxCellSteps,
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "pdgrid_run_model",
		Description: "Run one spatial prisoner's dilemma model for a number of steps and return its metric snapshots, state digest and optionally the final grid.",
	}, s.handleRunModel)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "pdgrid_run_batch",
		Description: "Run a small parameter sweep (height, width, schedule_type, radius) for several iterations and return the collected rows and per-combination final cooperation.",
	}, s.handleRunBatch)

	sdk.AddTool(s.server, &sdk.Tool{
		Name:        "pdgrid_partition",
		Description: "Show how a number of iterations is split into contiguous blocks across a group of ranks.",
	}, s.handlePartition)
}

// Run serves over stdio until the client disconnects or ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Printf("serving over stdio")
	return s.server.Run(ctx, &sdk.StdioTransport{})
}
