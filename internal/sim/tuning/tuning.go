package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"pdgrid/internal/sim/batch"
	"pdgrid/internal/sim/pd"
)

var ErrInvalid = errors.New("invalid tuning")

//go:embed tuning.schema.json
var schemaJSON []byte

type Tuning struct {
	Model   Model   `yaml:"model" toml:"model" json:"model"`
	Batch   Batch   `yaml:"batch" toml:"batch" json:"batch"`
	Output  Output  `yaml:"output" toml:"output" json:"output"`
	Harness Harness `yaml:"harness" toml:"harness" json:"harness"`
}

type Model struct {
	Height       int                `yaml:"height" toml:"height" json:"height"`
	Width        int                `yaml:"width" toml:"width" json:"width"`
	ScheduleType string             `yaml:"schedule_type" toml:"schedule_type" json:"schedule_type"`
	Radius       int                `yaml:"radius" toml:"radius" json:"radius"`
	Seed         int64              `yaml:"seed" toml:"seed" json:"seed"`
	InitialMove  string             `yaml:"initial_move" toml:"initial_move" json:"initial_move,omitempty"`
	Payoff       map[string]float64 `yaml:"payoff" toml:"payoff" json:"payoff,omitempty"`
}

// Batch axes left empty fall back to the model section. Defaults sweeps
// every schedule type, so model.schedule_type only reaches a batch whose
// config clears batch.schedule_type. The harness ignores the schedule axis;
// see HarnessJob.
type Batch struct {
	Height              []int    `yaml:"height" toml:"height" json:"height,omitempty"`
	Width               []int    `yaml:"width" toml:"width" json:"width,omitempty"`
	Radius              []int    `yaml:"radius" toml:"radius" json:"radius,omitempty"`
	ScheduleType        []string `yaml:"schedule_type" toml:"schedule_type" json:"schedule_type,omitempty"`
	Iterations          int      `yaml:"iterations" toml:"iterations" json:"iterations"`
	MaxSteps            int      `yaml:"max_steps" toml:"max_steps" json:"max_steps"`
	CollectionFrequency int      `yaml:"collection_frequency" toml:"collection_frequency" json:"collection_frequency"`
	BaseSeed            int64    `yaml:"base_seed" toml:"base_seed" json:"base_seed"`
	AgentDetail         bool     `yaml:"agent_detail" toml:"agent_detail" json:"agent_detail"`
	Workers             int      `yaml:"workers" toml:"workers" json:"workers"`
}

type Output struct {
	Dir           string   `yaml:"dir" toml:"dir" json:"dir"`
	Formats       []string `yaml:"formats" toml:"formats" json:"formats"`
	SnapshotEvery int      `yaml:"snapshot_every" toml:"snapshot_every" json:"snapshot_every"`
}

type Harness struct {
	Listen        string `yaml:"listen" toml:"listen" json:"listen"`
	Coordinator   string `yaml:"coordinator" toml:"coordinator" json:"coordinator"`
	ReduceTimeout string `yaml:"reduce_timeout" toml:"reduce_timeout" json:"reduce_timeout,omitempty"`
	DialRetry     string `yaml:"dial_retry" toml:"dial_retry" json:"dial_retry,omitempty"`
}

func Defaults() Tuning {
	return Tuning{
		Model: Model{
			Height:       20,
			Width:        20,
			ScheduleType: string(pd.Sequential),
			Radius:       1,
		},
		Batch: Batch{
			ScheduleType:        []string{string(pd.Sequential), string(pd.Random), string(pd.Simultaneous)},
			Iterations:          1,
			MaxSteps:            30,
			CollectionFrequency: 10,
			Workers:             1,
		},
		Output: Output{
			Dir:     "out",
			Formats: []string{"csv"},
		},
		Harness: Harness{
			Listen:      ":7946",
			Coordinator: "ws://localhost:7946/v1/reduce",
			DialRetry:   "500ms",
		},
	}
}

// Load reads a YAML or TOML file (by extension), validates it against the
// embedded schema and decodes it over Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	isTOML := strings.EqualFold(filepath.Ext(path), ".toml")

	var doc any
	if isTOML {
		var m map[string]any
		if _, err := toml.Decode(string(raw), &m); err != nil {
			return t, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		doc = m
	} else if err := yaml.Unmarshal(raw, &doc); err != nil {
		return t, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if doc != nil {
		if err := validateDoc(doc); err != nil {
			return t, fmt.Errorf("%w: %s: %v", ErrInvalid, filepath.Base(path), err)
		}
	}

	if isTOML {
		if _, err := toml.Decode(string(raw), &t); err != nil {
			return t, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	} else if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, t.Validate()
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tuning.schema.json", bytes.NewReader(schemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile("tuning.schema.json")
})

// validateDoc checks a decoded document. YAML and TOML values are normalized
// through JSON first so the validator sees JSON types.
func validateDoc(doc any) error {
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return s.Validate(v)
}

// ApplyEnv overrides fields from PDGRID_* variables.
func (t *Tuning) ApplyEnv(getenv func(string) string) error {
	if v := getenv("PDGRID_OUTPUT_DIR"); v != "" {
		t.Output.Dir = v
	}
	if v := getenv("PDGRID_COORDINATOR"); v != "" {
		t.Harness.Coordinator = v
	}
	if v := getenv("PDGRID_LISTEN"); v != "" {
		t.Harness.Listen = v
	}
	if v := getenv("PDGRID_REDUCE_TIMEOUT"); v != "" {
		t.Harness.ReduceTimeout = v
	}
	if v := getenv("PDGRID_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PDGRID_WORKERS=%q", ErrInvalid, v)
		}
		t.Batch.Workers = n
	}
	if v := getenv("PDGRID_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: PDGRID_SEED=%q", ErrInvalid, v)
		}
		t.Model.Seed = n
		t.Batch.BaseSeed = n
	}
	return t.Validate()
}

// Validate checks what the schema cannot: cross-field rules and values set
// from flags or the environment.
func (t Tuning) Validate() error {
	if _, err := t.ModelConfig(); err != nil {
		return err
	}
	if _, err := t.Job(""); err != nil {
		return err
	}
	for _, f := range t.Output.Formats {
		switch f {
		case "csv", "jsonl_zst", "sqlite":
		default:
			return fmt.Errorf("%w: output format %q", ErrInvalid, f)
		}
	}
	if t.Output.SnapshotEvery < 0 {
		return fmt.Errorf("%w: snapshot_every %d", ErrInvalid, t.Output.SnapshotEvery)
	}
	if _, _, err := t.Harness.Timeouts(); err != nil {
		return err
	}
	return nil
}

func (t Tuning) ModelConfig() (pd.Config, error) {
	st, err := pd.ParseScheduleType(t.Model.ScheduleType)
	if err != nil {
		return pd.Config{}, fmt.Errorf("%w: model: %w", ErrInvalid, err)
	}
	mv, err := pd.ParseMove(t.Model.InitialMove)
	if err != nil {
		return pd.Config{}, fmt.Errorf("%w: model: %w", ErrInvalid, err)
	}
	if _, err := pd.ParsePayoff(t.Model.Payoff); err != nil {
		return pd.Config{}, fmt.Errorf("%w: model: %w", ErrInvalid, err)
	}
	if t.Model.Width < 1 || t.Model.Height < 1 || t.Model.Radius < 1 {
		return pd.Config{}, fmt.Errorf("%w: model: %w: %dx%d radius %d", ErrInvalid, pd.ErrInvalidConfig, t.Model.Width, t.Model.Height, t.Model.Radius)
	}
	return pd.Config{
		Width:            t.Model.Width,
		Height:           t.Model.Height,
		ScheduleType:     st,
		Radius:           t.Model.Radius,
		Payoff:           t.Model.Payoff,
		Seed:             t.Model.Seed,
		CollectionPeriod: t.Batch.CollectionFrequency,
		AgentDetail:      t.Batch.AgentDetail,
		InitialMove:      mv,
	}, nil
}

// Job builds the batch job the batch section describes. Iterations is the
// total, before any rank partitioning.
func (t Tuning) Job(runID string) (batch.Job, error) {
	b := t.Batch
	sweep := batch.Sweep{
		Height: orModel(b.Height, t.Model.Height),
		Width:  orModel(b.Width, t.Model.Width),
		Radius: orModel(b.Radius, t.Model.Radius),
	}
	sts := b.ScheduleType
	if len(sts) == 0 {
		sts = []string{t.Model.ScheduleType}
	}
	for _, s := range sts {
		st, err := pd.ParseScheduleType(s)
		if err != nil {
			return batch.Job{}, fmt.Errorf("%w: batch: %w", ErrInvalid, err)
		}
		sweep.ScheduleType = append(sweep.ScheduleType, st)
	}
	for _, axis := range [][]int{sweep.Height, sweep.Width, sweep.Radius} {
		for _, v := range axis {
			if v < 1 {
				return batch.Job{}, fmt.Errorf("%w: batch: %w: axis value %d", ErrInvalid, pd.ErrInvalidConfig, v)
			}
		}
	}
	switch {
	case b.Iterations < 0:
		return batch.Job{}, fmt.Errorf("%w: iterations %d", ErrInvalid, b.Iterations)
	case b.MaxSteps < 0:
		return batch.Job{}, fmt.Errorf("%w: %w: max_steps %d", ErrInvalid, pd.ErrInvalidConfig, b.MaxSteps)
	case b.CollectionFrequency < 1:
		return batch.Job{}, fmt.Errorf("%w: %w: collection_frequency %d", ErrInvalid, pd.ErrInvalidConfig, b.CollectionFrequency)
	case b.Workers < 0:
		return batch.Job{}, fmt.Errorf("%w: workers %d", ErrInvalid, b.Workers)
	}
	return batch.Job{
		RunID:            runID,
		Sweep:            sweep,
		Payoff:           t.Model.Payoff,
		Iterations:       b.Iterations,
		MaxSteps:         b.MaxSteps,
		CollectionPeriod: b.CollectionFrequency,
		BaseSeed:         b.BaseSeed,
		AgentDetail:      b.AgentDetail,
		Workers:          b.Workers,
	}, nil
}

// HarnessJob is Job restricted to the single regime model.schedule_type.
func (t Tuning) HarnessJob(runID string) (batch.Job, error) {
	t.Batch.ScheduleType = []string{t.Model.ScheduleType}
	return t.Job(runID)
}

// Timeouts parses the harness durations. An empty reduce timeout waits
// forever.
func (h Harness) Timeouts() (reduce, retry time.Duration, err error) {
	if h.ReduceTimeout != "" {
		if reduce, err = time.ParseDuration(h.ReduceTimeout); err != nil || reduce < 0 {
			return 0, 0, fmt.Errorf("%w: reduce_timeout %q", ErrInvalid, h.ReduceTimeout)
		}
	}
	if h.DialRetry != "" {
		if retry, err = time.ParseDuration(h.DialRetry); err != nil || retry < 0 {
			return 0, 0, fmt.Errorf("%w: dial_retry %q", ErrInvalid, h.DialRetry)
		}
	}
	return reduce, retry, nil
}

func (o Output) Has(format string) bool {
	for _, f := range o.Formats {
		if f == format {
			return true
		}
	}
	return false
}

func orModel(axis []int, v int) []int {
	if len(axis) == 0 {
		return []int{v}
	}
	return axis
}
