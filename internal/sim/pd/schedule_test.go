package pd

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingActivator struct {
	decided  map[int]int
	advanced map[int]int
	trace    []string
}

func newCountingActivator() *countingActivator {
	return &countingActivator{decided: map[int]int{}, advanced: map[int]int{}}
}

func (c *countingActivator) Decide(a *Agent) {
	c.decided[a.ID]++
	c.trace = append(c.trace, "d")
}

func (c *countingActivator) Advance(a *Agent) {
	c.advanced[a.ID]++
	c.trace = append(c.trace, "a")
}

func population(n int) []*Agent {
	out := make([]*Agent, n)
	for i := range out {
		out[i] = &Agent{ID: i}
	}
	return out
}

func TestScheduler_ActivatesEachAgentOnce(t *testing.T) {
	for _, st := range ScheduleTypes() {
		t.Run(string(st), func(t *testing.T) {
			s, err := NewScheduler(st, rand.New(rand.NewPCG(1, 2)))
			require.NoError(t, err)
			assert.Equal(t, st, s.Type())

			agents := population(17)
			act := newCountingActivator()
			s.Step(agents, act)

			for _, a := range agents {
				assert.Equal(t, 1, act.decided[a.ID], "decide agent %d", a.ID)
				assert.Equal(t, 1, act.advanced[a.ID], "advance agent %d", a.ID)
			}
		})
	}
}

func TestScheduler_SimultaneousDecidesBeforeAdvancing(t *testing.T) {
	s, err := NewScheduler(Simultaneous, nil)
	require.NoError(t, err)

	act := newCountingActivator()
	s.Step(population(4), act)
	assert.Equal(t, []string{"d", "d", "d", "d", "a", "a", "a", "a"}, act.trace)
}

func TestScheduler_SequentialInterleaves(t *testing.T) {
	s, err := NewScheduler(Sequential, nil)
	require.NoError(t, err)

	act := newCountingActivator()
	s.Step(population(3), act)
	assert.Equal(t, []string{"d", "a", "d", "a", "d", "a"}, act.trace)
}

type orderActivator struct{ order []int }

func (o *orderActivator) Decide(a *Agent) { o.order = append(o.order, a.ID) }
func (o *orderActivator) Advance(*Agent)  {}

func TestScheduler_RandomReshufflesEachStep(t *testing.T) {
	s, err := NewScheduler(Random, rand.New(rand.NewPCG(7, 7)))
	require.NoError(t, err)

	agents := population(32)
	var orders [][]int
	for i := 0; i < 3; i++ {
		act := &orderActivator{}
		s.Step(agents, act)
		assert.ElementsMatch(t, ids(agents), act.order)
		orders = append(orders, act.order)
	}
	assert.NotEqual(t, orders[0], orders[1])
	assert.NotEqual(t, orders[1], orders[2])
}

func TestNewScheduler_Errors(t *testing.T) {
	_, err := NewScheduler("Bogus", nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewScheduler(Random, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ParseScheduleType("random")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func ids(agents []*Agent) []int {
	out := make([]int, len(agents))
	for i, a := range agents {
		out[i] = a.ID
	}
	return out
}
