package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"pdgrid/internal/persistence/snapshot"
	"pdgrid/internal/sim/batch"
	"pdgrid/internal/sim/pd"
)

var ErrClosed = errors.New("index closed")

// SQLiteIndex is a queryable copy of batch results. Rows are written by a
// single goroutine in batched transactions; WriteRow only enqueues.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// sendMu guards sends on ch against Close closing it.
	sendMu  sync.RWMutex
	closed  bool
	written atomic.Uint64

	errMu sync.Mutex
	err   error
}

type reqKind int

const (
	reqRow reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind     reqKind
	row      batch.Row
	snapshot snapshotRow
}

type snapshotRow struct {
	RunID  string
	Step   int
	Path   string
	Digest string
	Seed   int64
	Width  int
	Height int
	Type   string
}

// Run describes one invocation for the runs table.
type Run struct {
	RunID      string
	Command    string
	WorldSize  int
	Job        batch.Job
	StartedAt  time.Time
	FinishedAt time.Time
	// Set on rank 0 once the reduction completed.
	WorkerCount          int
	TotalDurationSeconds float64
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	RowsWritten   uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 8192),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			command TEXT NOT NULL,
			world_size INTEGER NOT NULL,
			job_json TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			worker_count INTEGER,
			total_duration_seconds REAL
		);`,
		`CREATE TABLE IF NOT EXISTS results (
			run_id TEXT NOT NULL,
			rank INTEGER NOT NULL,
			combination INTEGER NOT NULL,
			height INTEGER NOT NULL,
			width INTEGER NOT NULL,
			schedule_type TEXT NOT NULL,
			radius INTEGER NOT NULL,
			iteration INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			step INTEGER NOT NULL,
			cooperating_count INTEGER NOT NULL,
			total_payoff REAL NOT NULL,
			static_count INTEGER NOT NULL,
			PRIMARY KEY (run_id, combination, iteration, step)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_results_params ON results(run_id, schedule_type, height, width, radius);`,
		`CREATE TABLE IF NOT EXISTS agent_rows (
			run_id TEXT NOT NULL,
			combination INTEGER NOT NULL,
			iteration INTEGER NOT NULL,
			step INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			score REAL NOT NULL,
			increment REAL NOT NULL,
			move TEXT NOT NULL,
			decisions INTEGER NOT NULL,
			best_move TEXT,
			best_x INTEGER,
			best_y INTEGER,
			best_score REAL,
			PRIMARY KEY (run_id, combination, iteration, step, x, y)
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			run_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			seed INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			schedule_type TEXT NOT NULL,
			PRIMARY KEY (run_id, step)
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.sendMu.Lock()
		s.closed = true
		close(s.ch)
		s.sendMu.Unlock()
		s.wg.Wait()
		err = errors.Join(s.loopErr(), s.db.Close())
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		RowsWritten:   s.written.Load(),
	}
}

// WriteRow enqueues a row. It blocks while the queue is full and reports a
// previous write failure, if any.
func (s *SQLiteIndex) WriteRow(r batch.Row) error {
	if err := s.loopErr(); err != nil {
		return err
	}
	return s.send(req{kind: reqRow, row: r})
}

func (s *SQLiteIndex) send(r req) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	s.ch <- r
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) error {
	h := snap.Header
	return s.send(req{kind: reqSnapshot, snapshot: snapshotRow{
		RunID:  h.RunID,
		Step:   h.Step,
		Path:   path,
		Digest: h.Digest,
		Seed:   h.Seed,
		Width:  h.Width,
		Height: h.Height,
		Type:   string(h.ScheduleType),
	}})
}

// UpsertRun writes the runs row synchronously.
func (s *SQLiteIndex) UpsertRun(ctx context.Context, r Run) error {
	jb, err := json.Marshal(r.Job)
	if err != nil {
		return err
	}
	var finished any
	if !r.FinishedAt.IsZero() {
		finished = r.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	var workers, total any
	if r.WorkerCount > 0 {
		workers, total = r.WorkerCount, r.TotalDurationSeconds
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO runs(run_id,command,world_size,job_json,started_at,finished_at,worker_count,total_duration_seconds)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(run_id) DO UPDATE SET
			finished_at=excluded.finished_at,
			worker_count=COALESCE(excluded.worker_count, runs.worker_count),
			total_duration_seconds=COALESCE(excluded.total_duration_seconds, runs.total_duration_seconds)`,
		r.RunID, r.Command, r.WorldSize, string(jb), r.StartedAt.UTC().Format(time.RFC3339Nano), finished, workers, total)
	return err
}

func (s *SQLiteIndex) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id,command,world_size,job_json,started_at,finished_at,worker_count,total_duration_seconds FROM runs ORDER BY started_at, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			job      string
			started  string
			finished sql.NullString
			workers  sql.NullInt64
			total    sql.NullFloat64
		)
		if err := rows.Scan(&r.RunID, &r.Command, &r.WorldSize, &job, &started, &finished, &workers, &total); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(job), &r.Job); err != nil {
			return nil, fmt.Errorf("run %s job: %w", r.RunID, err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		if finished.Valid {
			r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished.String)
		}
		r.WorkerCount = int(workers.Int64)
		r.TotalDurationSeconds = total.Float64
		out = append(out, r)
	}
	return out, rows.Err()
}

// Results returns a run's rows without agent detail, in output order.
func (s *SQLiteIndex) Results(ctx context.Context, runID string) ([]batch.Row, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT run_id,rank,combination,height,width,schedule_type,radius,iteration,seed,step,cooperating_count,total_payoff,static_count
		FROM results WHERE run_id=? ORDER BY combination, iteration, step`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []batch.Row
	for rows.Next() {
		var r batch.Row
		var st string
		if err := rows.Scan(&r.RunID, &r.Rank, &r.Combination, &r.Height, &r.Width, &st, &r.Radius, &r.Iteration, &r.Seed, &r.Step, &r.Cooperating, &r.TotalPayoff, &r.Static); err != nil {
			return nil, err
		}
		r.ScheduleType = pd.ScheduleType(st)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MeanCooperation averages cooperating_count per step across iterations of
// one combination.
func (s *SQLiteIndex) MeanCooperation(ctx context.Context, runID string, combination int) (map[int]float64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT step, AVG(cooperating_count) FROM results WHERE run_id=? AND combination=? GROUP BY step ORDER BY step`, runID, combination)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int]float64{}
	for rows.Next() {
		var step int
		var mean float64
		if err := rows.Scan(&step, &mean); err != nil {
			return nil, err
		}
		out[step] = mean
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loopErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *SQLiteIndex) fail(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertResult, err1 := s.db.Prepare(`INSERT OR REPLACE INTO results(run_id,rank,combination,height,width,schedule_type,radius,iteration,seed,step,cooperating_count,total_payoff,static_count) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertAgent, err2 := s.db.Prepare(`INSERT OR REPLACE INTO agent_rows(run_id,combination,iteration,step,x,y,score,increment,move,decisions,best_move,best_x,best_y,best_score) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, err3 := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(run_id,step,path,digest,seed,width,height,schedule_type) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertResult, insertAgent, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()
	if err := errors.Join(err1, err2, err3); err != nil {
		s.fail(fmt.Errorf("prepare: %w", err))
		for range s.ch {
		}
		return
	}

	var (
		tx            *sql.Tx
		pending       uint64
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
		ops           int
	)
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.fail(fmt.Errorf("commit: %w", err))
		} else {
			s.written.Add(pending)
		}
		tx, pending, ops = nil, 0, 0
		lastCommit = time.Now()
	}
	rollback := func(err error) {
		s.fail(err)
		if tx != nil {
			_ = tx.Rollback()
		}
		tx, pending, ops = nil, 0, 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if s.loopErr() != nil {
			continue
		}
		if tx == nil {
			txx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				s.fail(fmt.Errorf("begin: %w", err))
				continue
			}
			tx = txx
		}
		switch r.kind {
		case reqRow:
			row := r.row
			if _, err := tx.Stmt(insertResult).Exec(
				row.RunID, row.Rank, row.Combination, row.Height, row.Width, string(row.ScheduleType),
				row.Radius, row.Iteration, row.Seed, row.Step, row.Cooperating, row.TotalPayoff, row.Static,
			); err != nil {
				rollback(fmt.Errorf("insert result: %w", err))
				continue
			}
			ops++
			for _, a := range row.Agents {
				var bestMove any
				if a.HasBest {
					bestMove = a.BestMove.String()
				}
				if _, err := tx.Stmt(insertAgent).Exec(
					row.RunID, row.Combination, row.Iteration, row.Step,
					a.Pos.X, a.Pos.Y, a.Score, a.Increment, a.Move.String(), int64(a.Decisions),
					bestMove, a.BestPos.X, a.BestPos.Y, a.BestScore,
				); err != nil {
					rollback(fmt.Errorf("insert agent row: %w", err))
					break
				}
				ops++
			}
			if tx == nil {
				continue
			}
			pending++

		case reqSnapshot:
			sn := r.snapshot
			if _, err := tx.Stmt(insertSnapshot).Exec(sn.RunID, sn.Step, sn.Path, sn.Digest, sn.Seed, sn.Width, sn.Height, sn.Type); err != nil {
				rollback(fmt.Errorf("insert snapshot: %w", err))
				continue
			}
			ops++
		}
		if ops >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	commit()
}
