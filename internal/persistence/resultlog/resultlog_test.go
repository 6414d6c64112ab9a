package resultlog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pdgrid/internal/sim/batch"
	"pdgrid/internal/sim/pd"
)

func TestWriter_RoundTrip(t *testing.T) {
	path := Path(t.TempDir(), "r1", 2)
	assert.Equal(t, "r1-rank2.jsonl.zst", filepath.Base(path))

	w, err := Create(path)
	require.NoError(t, err)

	job := batch.Job{
		RunID:       "r1",
		Rank:        2,
		Sweep:       batch.Sweep{Height: []int{3}, Width: []int{4}, ScheduleType: []pd.ScheduleType{pd.Simultaneous}},
		Iterations:  2,
		MaxSteps:    3,
		AgentDetail: true,
	}
	want, err := batch.Run(context.Background(), job, w)
	require.NoError(t, err)
	assert.Equal(t, len(want), w.Rows())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.WriteRow(batch.Row{}), os.ErrClosed)

	got, err := ReadAll(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWriter_RowsMatchSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl.zst")
	w, err := Create(path)
	require.NoError(t, err)
	_, err = batch.Run(context.Background(), batch.Job{RunID: "s", Sweep: batch.Sweep{Height: []int{3}, Width: []int{3}}, Iterations: 1, MaxSteps: 2}, w)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	schema, err := jsonschema.Compile(filepath.Join("..", "..", "..", "schemas", "result_row.schema.json"))
	require.NoError(t, err)

	n := 0
	require.NoError(t, Read(path, func(r batch.Row) error {
		b, err := json.Marshal(r)
		require.NoError(t, err)
		var v any
		require.NoError(t, json.Unmarshal(b, &v))
		n++
		return schema.Validate(v)
	}))
	assert.Equal(t, 3, n)
}
