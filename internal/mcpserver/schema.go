package mcpserver

// RunModelInput defines the input for pdgrid_run_model. Zero fields take the
// model defaults.
type RunModelInput struct {
	Width            int                `json:"width,omitempty" jsonschema:"Grid width in cells"`
	Height           int                `json:"height,omitempty" jsonschema:"Grid height in cells"`
	ScheduleType     string             `json:"schedule_type,omitempty" jsonschema:"Activation regime: Sequential, Random or Simultaneous"`
	Radius           int                `json:"radius,omitempty" jsonschema:"Best-neighbor search radius, at least 1"`
	Seed             int64              `json:"seed,omitempty" jsonschema:"Random seed"`
	Steps            int                `json:"steps" jsonschema:"Number of steps to run"`
	CollectionPeriod int                `json:"collection_period,omitempty" jsonschema:"Take a metrics snapshot every N steps"`
	Payoff           map[string]float64 `json:"payoff,omitempty" jsonschema:"Payoff table with keys CC, CD, DC and DD"`
	InitialMove      string             `json:"initial_move,omitempty" jsonschema:"Fix every starting move to C or D instead of a random draw"`
	IncludeGrid      bool               `json:"include_grid,omitempty" jsonschema:"Return the final grid as rows of C and D"`
}

type SnapshotOutput struct {
	Step        int     `json:"step"`
	Cooperating int     `json:"cooperating_count"`
	TotalPayoff float64 `json:"total_payoff"`
	Static      int     `json:"static_count"`
}

type RunModelOutput struct {
	Step         int              `json:"step"`
	ScheduleType string           `json:"schedule_type"`
	Agents       int              `json:"agents"`
	Cooperating  int              `json:"cooperating_count"`
	Digest       string           `json:"digest"`
	Snapshots    []SnapshotOutput `json:"snapshots"`
	Grid         []string         `json:"grid,omitempty"`
}

// RunBatchInput defines the input for pdgrid_run_batch.
type RunBatchInput struct {
	Height           []int              `json:"height,omitempty" jsonschema:"Swept grid heights"`
	Width            []int              `json:"width,omitempty" jsonschema:"Swept grid widths"`
	ScheduleType     []string           `json:"schedule_type,omitempty" jsonschema:"Swept activation regimes"`
	Radius           []int              `json:"radius,omitempty" jsonschema:"Swept search radii"`
	Iterations       int                `json:"iterations,omitempty" jsonschema:"Runs per combination (default 1)"`
	MaxSteps         int                `json:"max_steps" jsonschema:"Steps per run"`
	CollectionPeriod int                `json:"collection_period,omitempty" jsonschema:"Collect every N steps"`
	BaseSeed         int64              `json:"base_seed,omitempty" jsonschema:"Seed every run is derived from"`
	Payoff           map[string]float64 `json:"payoff,omitempty" jsonschema:"Payoff table with keys CC, CD, DC and DD"`
	Workers          int                `json:"workers,omitempty" jsonschema:"Parallel runs (default 1)"`
	IncludeRows      bool               `json:"include_rows,omitempty" jsonschema:"Return every collected row, not only the summary"`
}

type RowOutput struct {
	Combination  int     `json:"combination"`
	Height       int     `json:"height"`
	Width        int     `json:"width"`
	ScheduleType string  `json:"schedule_type"`
	Radius       int     `json:"radius"`
	Iteration    int     `json:"iteration"`
	Seed         int64   `json:"seed"`
	Step         int     `json:"step"`
	Cooperating  int     `json:"cooperating_count"`
	TotalPayoff  float64 `json:"total_payoff"`
	Static       int     `json:"static_count"`
}

// CombinationSummary averages the last collected row of every run of one
// combination.
type CombinationSummary struct {
	Combination     int     `json:"combination"`
	Height          int     `json:"height"`
	Width           int     `json:"width"`
	ScheduleType    string  `json:"schedule_type"`
	Radius          int     `json:"radius"`
	Runs            int     `json:"runs"`
	MeanCooperating float64 `json:"mean_final_cooperating"`
	MeanCooperation float64 `json:"mean_final_cooperation_rate"`
	MeanTotalPayoff float64 `json:"mean_final_total_payoff"`
}

type RunBatchOutput struct {
	RowCount     int                  `json:"row_count"`
	Combinations []CombinationSummary `json:"combinations"`
	Rows         []RowOutput          `json:"rows,omitempty"`
}

type PartitionInput struct {
	Iterations int `json:"iterations" jsonschema:"Total iterations to split"`
	WorldSize  int `json:"world_size" jsonschema:"Number of ranks"`
}

type RankSlice struct {
	Rank  int `json:"rank"`
	First int `json:"first_iteration"`
	Count int `json:"iterations"`
}

type PartitionOutput struct {
	Ranks []RankSlice `json:"ranks"`
}
