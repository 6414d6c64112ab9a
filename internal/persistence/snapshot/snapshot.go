package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"

	"pdgrid/internal/sim/pd"
)

const Version = 1

var ErrDigestMismatch = errors.New("snapshot digest mismatch")

// Header is written as a plain JSON line ahead of the gob body so tools can
// list snapshots without decoding the state.
type Header struct {
	Version      int             `json:"version"`
	RunID        string          `json:"run_id,omitempty"`
	Step         int             `json:"step"`
	Width        int             `json:"width"`
	Height       int             `json:"height"`
	ScheduleType pd.ScheduleType `json:"schedule_type"`
	Seed         int64           `json:"seed"`
	Digest       string          `json:"digest"`
}

type SnapshotV1 struct {
	Header Header
	State  pd.State
}

// Capture exports the model's full state, RNG included.
func Capture(m *pd.Model, runID string) (SnapshotV1, error) {
	st, err := m.ExportState()
	if err != nil {
		return SnapshotV1{}, err
	}
	cfg := m.Config()
	return SnapshotV1{
		Header: Header{
			Version:      Version,
			RunID:        runID,
			Step:         m.StepCount(),
			Width:        cfg.Width,
			Height:       cfg.Height,
			ScheduleType: cfg.ScheduleType,
			Seed:         cfg.Seed,
			Digest:       m.Digest(),
		},
		State: st,
	}, nil
}

// Restore rebuilds the model and checks it against the recorded digest.
func (s SnapshotV1) Restore() (*pd.Model, error) {
	m, err := pd.Restore(s.State)
	if err != nil {
		return nil, err
	}
	if s.Header.Digest != "" && m.Digest() != s.Header.Digest {
		return nil, fmt.Errorf("%w at step %d", ErrDigestMismatch, s.Header.Step)
	}
	return m, nil
}

func WriteSnapshot(path string, snap SnapshotV1) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header is repeated inside the gob body.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
