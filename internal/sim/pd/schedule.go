package pd

import (
	"fmt"
	"math/rand/v2"
)

type ScheduleType string

const (
	Sequential   ScheduleType = "Sequential"
	Random       ScheduleType = "Random"
	Simultaneous ScheduleType = "Simultaneous"
)

func ScheduleTypes() []ScheduleType {
	return []ScheduleType{Sequential, Random, Simultaneous}
}

func ParseScheduleType(s string) (ScheduleType, error) {
	for _, t := range ScheduleTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: unknown schedule_type %q (want Sequential, Random or Simultaneous)", ErrInvalidConfig, s)
}

// Activator is the per-agent rule the scheduler drives. Decide computes the
// pending move; Advance commits it and realizes payoff.
type Activator interface {
	Decide(a *Agent)
	Advance(a *Agent)
}

// Scheduler runs one full round over the population. Each agent is decided
// exactly once and advanced exactly once per Step.
type Scheduler interface {
	Type() ScheduleType
	Step(agents []*Agent, act Activator)
}

func NewScheduler(t ScheduleType, rng *rand.Rand) (Scheduler, error) {
	switch t {
	case Sequential:
		return sequentialScheduler{}, nil
	case Random:
		if rng == nil {
			return nil, fmt.Errorf("%w: random schedule needs a random source", ErrInvalidConfig)
		}
		return &randomScheduler{rng: rng}, nil
	case Simultaneous:
		return simultaneousScheduler{}, nil
	}
	return nil, fmt.Errorf("%w: unknown schedule_type %q", ErrInvalidConfig, t)
}

type sequentialScheduler struct{}

func (sequentialScheduler) Type() ScheduleType { return Sequential }

func (sequentialScheduler) Step(agents []*Agent, act Activator) {
	for _, a := range agents {
		act.Decide(a)
		act.Advance(a)
	}
}

type randomScheduler struct {
	rng   *rand.Rand
	order []int
}

func (*randomScheduler) Type() ScheduleType { return Random }

func (s *randomScheduler) Step(agents []*Agent, act Activator) {
	if cap(s.order) < len(agents) {
		s.order = make([]int, len(agents))
	}
	s.order = s.order[:len(agents)]
	for i := range s.order {
		s.order[i] = i
	}
	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
	for _, i := range s.order {
		a := agents[i]
		act.Decide(a)
		act.Advance(a)
	}
}

type simultaneousScheduler struct{}

func (simultaneousScheduler) Type() ScheduleType { return Simultaneous }

func (simultaneousScheduler) Step(agents []*Agent, act Activator) {
	for _, a := range agents {
		act.Decide(a)
	}
	for _, a := range agents {
		act.Advance(a)
	}
}
