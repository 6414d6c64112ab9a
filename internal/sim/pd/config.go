package pd

import (
	"errors"
	"fmt"

	"pdgrid/internal/sim/grid"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	Width        int
	Height       int
	ScheduleType ScheduleType
	// Radius is the best-neighbor search radius. Payoff always uses radius 1.
	Radius int
	// Payoff overrides the default table; it must name CC, CD, DC and DD.
	Payoff map[string]float64
	Seed   int64

	// CollectionPeriod takes a metrics snapshot every N steps.
	CollectionPeriod int
	// AgentDetail includes per-agent rows in snapshots.
	AgentDetail bool

	// InitialMove fixes every agent's starting move; unset means random.
	InitialMove Move
}

func DefaultConfig() Config {
	return Config{
		Width:            50,
		Height:           50,
		ScheduleType:     Random,
		Radius:           1,
		CollectionPeriod: 1,
	}
}

func (c *Config) applyDefaults() {
	if c.ScheduleType == "" {
		c.ScheduleType = Random
	}
	if c.Radius == 0 {
		c.Radius = 1
	}
	if c.CollectionPeriod == 0 {
		c.CollectionPeriod = 1
	}
}

func (c Config) validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: grid %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.Width > grid.MaxCells/c.Height {
		return fmt.Errorf("%w: grid %dx%d exceeds %d cells", ErrInvalidConfig, c.Width, c.Height, grid.MaxCells)
	}
	if _, err := ParseScheduleType(string(c.ScheduleType)); err != nil {
		return err
	}
	if c.Radius < 1 {
		return fmt.Errorf("%w: radius %d < 1", ErrInvalidConfig, c.Radius)
	}
	if c.CollectionPeriod < 1 {
		return fmt.Errorf("%w: collection period %d < 1", ErrInvalidConfig, c.CollectionPeriod)
	}
	if c.InitialMove != MoveUnset && !c.InitialMove.Valid() {
		return fmt.Errorf("%w: initial move %d", ErrInvalidConfig, c.InitialMove)
	}
	return nil
}
