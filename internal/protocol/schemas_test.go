package protocol_test

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"pdgrid/internal/protocol"
)

func compile(t *testing.T, name string) *jsonschema.Schema {
	t.Helper()
	s, err := jsonschema.Compile(filepath.Join("..", "..", "schemas", name))
	require.NoError(t, err, "compile %s", name)
	return s
}

// roundTrip validates the wire form of v, as produced by encoding/json.
func roundTrip(t *testing.T, v any) any {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	var out any
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

func TestSchemas_ValidateMessages(t *testing.T) {
	cases := []struct {
		schema string
		msg    any
	}{
		{"hello.schema.json", protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Rank: 2, WorldSize: 4, RunID: "r1"}},
		{"welcome.schema.json", protocol.WelcomeMsg{Type: protocol.TypeWelcome, ProtocolVersion: protocol.Version, SessionID: "s1", WorldSize: 4}},
		{"reduce.schema.json", protocol.ReduceMsg{Type: protocol.TypeReduce, ProtocolVersion: protocol.Version, Rank: 1, Op: protocol.OpSum, Value: 1.25}},
		{"reduced.schema.json", protocol.ReducedMsg{Type: protocol.TypeReduced, ProtocolVersion: protocol.Version, Op: protocol.OpSum, WorldSize: 2, Result: 3, Values: []float64{1, 2}}},
		{"error.schema.json", protocol.NewError(protocol.ErrRankConflict, "rank 1 already joined")},
	}
	for _, c := range cases {
		t.Run(c.schema, func(t *testing.T) {
			require.NoError(t, compile(t, c.schema).Validate(roundTrip(t, c.msg)))
		})
	}
}

func TestSchemas_RejectBadMessages(t *testing.T) {
	var bad any
	require.NoError(t, json.Unmarshal([]byte(`{"type":"REDUCE","protocol_version":"1.0","rank":-1,"op":"MAX","value":1}`), &bad))
	require.Error(t, compile(t, "reduce.schema.json").Validate(bad))

	require.NoError(t, json.Unmarshal([]byte(`{"type":"ERROR","protocol_version":"1.0","code":"oops"}`), &bad))
	require.Error(t, compile(t, "error.schema.json").Validate(bad))
}

func TestSchemas_ResultRow(t *testing.T) {
	var row any
	require.NoError(t, json.Unmarshal([]byte(`{
	  "run_id":"r1","rank":0,"combination":0,"height":20,"width":20,
	  "schedule_type":"Simultaneous","radius":1,"iteration":3,"seed":42,
	  "step":10,"cooperating_count":211,"total_payoff":1530.4,"static_count":380
	}`), &row))
	require.NoError(t, compile(t, "result_row.schema.json").Validate(row))
}
