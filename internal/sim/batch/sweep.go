package batch

import (
	"fmt"

	"pdgrid/internal/sim/pd"
)

// Sweep lists the values of each swept parameter. A one-element axis is a
// fixed parameter; an empty axis takes the model default.
type Sweep struct {
	Height       []int             `json:"height" yaml:"height" toml:"height"`
	Width        []int             `json:"width" yaml:"width" toml:"width"`
	ScheduleType []pd.ScheduleType `json:"schedule_type" yaml:"schedule_type" toml:"schedule_type"`
	Radius       []int             `json:"radius" yaml:"radius" toml:"radius"`
}

// Params is one point of the sweep.
type Params struct {
	Height       int             `json:"height"`
	Width        int             `json:"width"`
	ScheduleType pd.ScheduleType `json:"schedule_type"`
	Radius       int             `json:"radius"`
}

func (p Params) String() string {
	return fmt.Sprintf("%dx%d/%s/r%d", p.Width, p.Height, p.ScheduleType, p.Radius)
}

// Combinations expands the sweep as nested loops height, width, schedule,
// radius (outermost first).
func (s Sweep) Combinations() []Params {
	def := pd.DefaultConfig()
	hs := intsOr(s.Height, def.Height)
	ws := intsOr(s.Width, def.Width)
	rs := intsOr(s.Radius, def.Radius)
	sts := s.ScheduleType
	if len(sts) == 0 {
		sts = []pd.ScheduleType{def.ScheduleType}
	}

	out := make([]Params, 0, len(hs)*len(ws)*len(sts)*len(rs))
	for _, h := range hs {
		for _, w := range ws {
			for _, st := range sts {
				for _, r := range rs {
					out = append(out, Params{Height: h, Width: w, ScheduleType: st, Radius: r})
				}
			}
		}
	}
	return out
}

func intsOr(v []int, def int) []int {
	if len(v) == 0 {
		return []int{def}
	}
	return v
}
