// Package csvout writes batch rows as CSV tables.
package csvout

import (
	"encoding/csv"
	"io"
	"strconv"
	"sync"

	"pdgrid/internal/sim/batch"
)

var ResultColumns = []string{
	"run_id", "rank", "combination", "height", "width", "schedule_type", "radius",
	"iteration", "seed", "step", "cooperating_count", "total_payoff", "static_count",
}

var AgentColumns = []string{
	"run_id", "combination", "iteration", "step",
	"x", "y", "score", "increment", "move", "decisions",
	"best_move", "best_x", "best_y", "best_score",
}

// Writer emits the result table, and the agent table when agents is non-nil.
// Headers are written before the first row.
type Writer struct {
	mu      sync.Mutex
	results *csv.Writer
	agents  *csv.Writer
	started bool
}

func NewWriter(results, agents io.Writer) *Writer {
	w := &Writer{results: csv.NewWriter(results)}
	if agents != nil {
		w.agents = csv.NewWriter(agents)
	}
	return w
}

func (w *Writer) WriteRow(r batch.Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		w.started = true
		if err := w.results.Write(ResultColumns); err != nil {
			return err
		}
		if w.agents != nil {
			if err := w.agents.Write(AgentColumns); err != nil {
				return err
			}
		}
	}
	if err := w.results.Write(ResultRecord(r)); err != nil {
		return err
	}
	if w.agents == nil {
		return nil
	}
	for _, a := range r.Agents {
		rec := []string{
			r.RunID, itoa(r.Combination), itoa(r.Iteration), itoa(r.Step),
			itoa(a.Pos.X), itoa(a.Pos.Y), ftoa(a.Score), ftoa(a.Increment), a.Move.String(),
			strconv.FormatUint(a.Decisions, 10),
			a.BestMove.String(), itoa(a.BestPos.X), itoa(a.BestPos.Y), ftoa(a.BestScore),
		}
		if err := w.agents.Write(rec); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes buffered records and reports the first write error.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.results.Flush()
	if err := w.results.Error(); err != nil {
		return err
	}
	if w.agents != nil {
		w.agents.Flush()
		return w.agents.Error()
	}
	return nil
}

func ResultRecord(r batch.Row) []string {
	return []string{
		r.RunID, itoa(r.Rank), itoa(r.Combination), itoa(r.Height), itoa(r.Width),
		string(r.ScheduleType), itoa(r.Radius), itoa(r.Iteration),
		strconv.FormatInt(r.Seed, 10), itoa(r.Step), itoa(r.Cooperating),
		ftoa(r.TotalPayoff), itoa(r.Static),
	}
}

func itoa(v int) string { return strconv.Itoa(v) }

func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
