package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdgrid/internal/sim/pd"
)

func TestRenderGrid_BottomRowIsYZero(t *testing.T) {
	cells := []pd.Portrayal{
		{X: 0, Y: 0, Color: pd.ColorCooperate},
		{X: 1, Y: 0, Color: pd.ColorCooperate},
		{X: 0, Y: 1, Color: pd.ColorDefect},
		{X: 1, Y: 1, Color: pd.ColorCooperate},
	}
	lines := strings.Split(strings.TrimSuffix(renderGrid(cells, 2, 2), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[red]██[blue]██[-]", lines[0])
	assert.Equal(t, "[blue]████[-]", lines[1])
}

func TestRenderGrid_EmptyCellsAndOutOfRange(t *testing.T) {
	cells := []pd.Portrayal{
		{X: 1, Y: 0, Color: pd.ColorDefect},
		{X: 5, Y: 5, Color: pd.ColorDefect},
	}
	assert.Equal(t, "  [red]██[-]\n", renderGrid(cells, 2, 1))
}

func TestRenderStats(t *testing.T) {
	cfg, err := modelConfig("", 4, 3, "Simultaneous", 1, 9)
	require.NoError(t, err)
	m, err := pd.New(cfg)
	require.NoError(t, err)
	m.Step()

	s := renderStats(m, true)
	assert.Contains(t, s, "step [yellow]1[-] (paused)")
	assert.Contains(t, s, "4x3 Simultaneous radius 1 seed 9")
}

func TestModelConfig_Overrides(t *testing.T) {
	cfg, err := modelConfig("../../configs/pdgrid.toml", 6, 0, "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Width)
	assert.Equal(t, 50, cfg.Height)
	assert.Equal(t, pd.Random, cfg.ScheduleType)
	assert.Equal(t, 1, cfg.CollectionPeriod)

	_, err = modelConfig("", 0, 0, "Bogus", 0, 0)
	assert.ErrorIs(t, err, pd.ErrInvalidConfig)
}
