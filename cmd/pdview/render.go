package main

import (
	"fmt"
	"strings"

	"pdgrid/internal/sim/pd"
)

// renderGrid draws one two-column block per cell, y=0 at the bottom.
func renderGrid(cells []pd.Portrayal, width, height int) string {
	colors := make([]string, width*height)
	for _, c := range cells {
		if c.X < 0 || c.X >= width || c.Y < 0 || c.Y >= height {
			continue
		}
		colors[c.Y*width+c.X] = c.Color
	}
	var b strings.Builder
	for y := height - 1; y >= 0; y-- {
		cur := ""
		for x := 0; x < width; x++ {
			col := colors[y*width+x]
			if col != cur {
				if col == "" {
					b.WriteString("[-]")
				} else {
					fmt.Fprintf(&b, "[%s]", col)
				}
				cur = col
			}
			if col == "" {
				b.WriteString("  ")
			} else {
				b.WriteString("██")
			}
		}
		if cur != "" {
			b.WriteString("[-]")
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func renderStats(m *pd.Model, paused bool) string {
	s, _ := m.Latest()
	n := len(m.Agents())
	rate := 0.0
	if n > 0 {
		rate = float64(s.Cooperating) / float64(n)
	}
	state := "running"
	if paused {
		state = "paused"
	}
	return fmt.Sprintf(
		"step [yellow]%d[-] (%s)\n%dx%d %s radius %d seed %d\n[%s]cooperating[-] %d (%.1f%%)  [%s]defecting[-] %d\ntotal payoff %.2f  static %d\npayoff %s",
		m.StepCount(), state,
		m.Width(), m.Height(), m.ScheduleType(), m.Config().Radius, m.Config().Seed,
		pd.ColorCooperate, s.Cooperating, 100*rate, pd.ColorDefect, n-s.Cooperating,
		s.TotalPayoff, s.Static,
		m.Payoff(),
	)
}
