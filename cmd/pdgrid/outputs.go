package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"pdgrid/internal/persistence/csvout"
	"pdgrid/internal/persistence/indexdb"
	"pdgrid/internal/persistence/resultlog"
	"pdgrid/internal/persistence/snapshot"
	"pdgrid/internal/sim/batch"
	"pdgrid/internal/sim/tuning"
)

const indexFile = "pdgrid.sqlite"

// outputs fans rows out to the configured formats for one rank.
type outputs struct {
	dir     string
	sinks   []batch.Sink
	closers []func() error
	files   []string
	index   *indexdb.SQLiteIndex
	log     *log.Logger
}

func openOutputs(o tuning.Output, runID string, rank int, agentDetail bool, logger *log.Logger) (*outputs, error) {
	out := &outputs{dir: o.Dir, log: logger}
	if len(o.Formats) == 0 {
		return out, nil
	}
	if err := os.MkdirAll(o.Dir, 0o755); err != nil {
		return nil, err
	}
	if o.Has("csv") {
		if err := out.openCSV(runID, rank, agentDetail); err != nil {
			_ = out.Close()
			return nil, err
		}
	}
	if o.Has("jsonl_zst") {
		w, err := resultlog.Create(resultlog.Path(o.Dir, runID, rank))
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("result log: %w", err)
		}
		out.sinks = append(out.sinks, w)
		out.closers = append(out.closers, w.Close)
		out.files = append(out.files, w.Path())
	}
	if o.Has("sqlite") {
		path := filepath.Join(o.Dir, indexFile)
		idx, err := indexdb.OpenSQLite(path)
		if err != nil {
			_ = out.Close()
			return nil, fmt.Errorf("index: %w", err)
		}
		out.index = idx
		out.sinks = append(out.sinks, idx)
		out.closers = append(out.closers, idx.Close)
		out.files = append(out.files, path)
	}
	return out, nil
}

func (o *outputs) openCSV(runID string, rank int, agentDetail bool) error {
	base := filepath.Join(o.dir, fmt.Sprintf("%s-rank%d", runID, rank))
	rf, err := os.Create(base + ".csv")
	if err != nil {
		return err
	}
	o.closers = append(o.closers, rf.Close)
	o.files = append(o.files, rf.Name())

	var af *os.File
	if agentDetail {
		if af, err = os.Create(base + "-agents.csv"); err != nil {
			return err
		}
		o.closers = append(o.closers, af.Close)
		o.files = append(o.files, af.Name())
	}
	var w *csvout.Writer
	if af != nil {
		w = csvout.NewWriter(rf, af)
	} else {
		w = csvout.NewWriter(rf, nil)
	}
	o.sinks = append(o.sinks, w)
	// Flush must run before the files close; closers run in reverse.
	o.closers = append(o.closers, w.Flush)
	return nil
}

func (o *outputs) Sink() batch.Sink { return batch.MultiSink(o.sinks...) }

// RecordRun upserts the runs row when the sqlite index is enabled.
func (o *outputs) RecordRun(ctx context.Context, r indexdb.Run) {
	if o.index == nil {
		return
	}
	if err := o.index.UpsertRun(ctx, r); err != nil {
		o.log.Printf("index run %s: %v", r.RunID, err)
	}
}

func (o *outputs) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if o.index == nil {
		return
	}
	if err := o.index.RecordSnapshot(path, snap); err != nil {
		o.log.Printf("index snapshot %s: %v", path, err)
	}
}

func (o *outputs) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		errs = append(errs, o.closers[i]())
	}
	o.closers = nil
	return errors.Join(errs...)
}
