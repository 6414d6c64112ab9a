package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"pdgrid/internal/persistence/snapshot"
	"pdgrid/internal/sim/pd"
	"pdgrid/internal/sim/tuning"
)

func main() {
	configPath := flag.String("config", "", "tuning file (.yaml or .toml); the model section is used")
	resume := flag.String("resume", "", "start from a snapshot file")
	width := flag.Int("width", 0, "grid width")
	height := flag.Int("height", 0, "grid height")
	schedule := flag.String("schedule-type", "", "Sequential, Random or Simultaneous")
	radius := flag.Int("radius", 0, "best-neighbor search radius")
	seed := flag.Int64("seed", 0, "random seed")
	interval := flag.Duration("interval", 250*time.Millisecond, "time between steps")
	flag.Parse()

	cfg, err := modelConfig(*configPath, *width, *height, *schedule, *radius, *seed)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	var m *pd.Model
	if *resume != "" {
		snap, err := snapshot.ReadSnapshot(*resume)
		if err == nil {
			m, err = snap.Restore()
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "resume %s: %v\n", *resume, err)
			os.Exit(1)
		}
		cfg = m.Config()
	} else if m, err = pd.New(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "model: %v\n", err)
		os.Exit(1)
	}

	app := tview.NewApplication()
	gridView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	gridView.SetTitle("Grid").SetBorder(true)

	statsView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(true)
	statsView.SetTitle("Model").SetBorder(true)

	statusView := tview.NewTextView().
		SetDynamicColors(true).
		SetWrap(false)
	statusView.SetBorder(true).SetTitle("Status")
	statusView.SetText("space pause/resume | n step | r reset | F10 or q quit")

	side := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(statsView, 0, 1, false).
		AddItem(statusView, 3, 0, false)
	root := tview.NewFlex().
		AddItem(gridView, 2*cfg.Width+2, 0, true).
		AddItem(side, 0, 1, false)

	paused := false
	// Only the UI goroutine touches m.
	draw := func() {
		gridView.SetText(renderGrid(m.Portrayal(), m.Width(), m.Height()))
		statsView.SetText(renderStats(m, paused))
	}
	step := func() {
		if !m.Running() {
			paused = true
			return
		}
		m.Step()
	}

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyF10, tcell.KeyEscape:
			app.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case 'q':
				app.Stop()
			case ' ':
				paused = !paused
			case 'n':
				step()
			case 'r':
				fresh, err := pd.New(cfg)
				if err != nil {
					statusView.SetText(fmt.Sprintf("[red]reset: %v[-]", err))
					return nil
				}
				m = fresh
			default:
				return event
			}
			draw()
			return nil
		}
		return event
	})

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		for range ticker.C {
			app.QueueUpdateDraw(func() {
				if paused {
					return
				}
				step()
				draw()
			})
		}
	}()

	draw()
	if err := app.SetRoot(root, true).SetFocus(gridView).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "pdview failed: %v\n", err)
		os.Exit(1)
	}
}

func modelConfig(path string, width, height int, schedule string, radius int, seed int64) (pd.Config, error) {
	t := tuning.Defaults()
	if path != "" {
		var err error
		if t, err = tuning.Load(path); err != nil {
			return pd.Config{}, err
		}
	}
	if width > 0 {
		t.Model.Width = width
	}
	if height > 0 {
		t.Model.Height = height
	}
	if schedule != "" {
		t.Model.ScheduleType = schedule
	}
	if radius > 0 {
		t.Model.Radius = radius
	}
	if seed != 0 {
		t.Model.Seed = seed
	}
	cfg, err := t.ModelConfig()
	if err != nil {
		return pd.Config{}, err
	}
	cfg.CollectionPeriod = 1
	cfg.AgentDetail = false
	return cfg, nil
}
