// Package indexdb keeps queryable indexes of search runs. The zstd results
// log is the source of truth; these indexes may drop writes under load.
package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"seedcraft.ai/internal/search"
)

// ErrNotFound is returned by Annotate when no such result exists.
var ErrNotFound = errors.New("result not found")

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropResults     atomic.Uint64
	dropRuns        atomic.Uint64
	dropCheckpoints atomic.Uint64
}

type reqKind int

const (
	reqResult reqKind = iota + 1
	reqRun
	reqCheckpoint
	reqAnnotate
	reqClear
	reqFlush
)

type req struct {
	kind reqKind

	result     search.Result
	run        search.Summary
	checkpoint search.Checkpoint
	annotation string

	// done receives the outcome of synchronous requests.
	done chan error
}

type Stats struct {
	DropResultTotal     uint64 `json:"drop_result_total"`
	DropRunTotal        uint64 `json:"drop_run_total"`
	DropCheckpointTotal uint64 `json:"drop_checkpoint_total"`
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
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
		ch: make(chan req, 65536),
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
		`INSERT OR IGNORE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			reason TEXT NOT NULL,
			processed INTEGER NOT NULL,
			matches INTEGER NOT NULL,
			accepted INTEGER NOT NULL,
			dropped INTEGER NOT NULL,
			failures INTEGER NOT NULL,
			resume_start INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			stopped_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS results (
			run_id TEXT NOT NULL,
			seed INTEGER NOT NULL,
			annotation TEXT NOT NULL DEFAULT '',
			found_at TEXT NOT NULL,
			PRIMARY KEY (run_id, seed)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_results_seed ON results(seed);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			job_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			mode INTEGER NOT NULL,
			start INTEGER NOT NULL,
			fixed_bits INTEGER NOT NULL,
			last_processed INTEGER NOT NULL,
			resume_start INTEGER NOT NULL,
			processed INTEGER NOT NULL,
			reason TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);`,
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
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// AppendResults enqueues results for indexing. Results that do not fit the
// queue are dropped and counted.
func (s *SQLiteIndex) AppendResults(_ context.Context, rs []search.Result) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	for _, r := range rs {
		select {
		case s.ch <- req{kind: reqResult, result: r}:
		default:
			s.dropResults.Add(1)
		}
	}
	return nil
}

func (s *SQLiteIndex) RecordRun(sum search.Summary) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqRun, run: sum}:
	default:
		s.dropRuns.Add(1)
	}
}

// SaveCheckpoint waits for the checkpoint to be written, so it satisfies
// search.Checkpointer.
func (s *SQLiteIndex) SaveCheckpoint(ctx context.Context, cp search.Checkpoint) error {
	err := s.call(ctx, req{kind: reqCheckpoint, checkpoint: cp})
	if err != nil {
		s.dropCheckpoints.Add(1)
	}
	return err
}

// Annotate replaces the free-text description of a stored result.
func (s *SQLiteIndex) Annotate(ctx context.Context, runID string, seed int64, text string) error {
	return s.call(ctx, req{kind: reqAnnotate, result: search.Result{RunID: runID, Seed: seed}, annotation: text})
}

// ClearResults deletes every stored result, keeping runs and checkpoints.
func (s *SQLiteIndex) ClearResults(ctx context.Context) error {
	return s.call(ctx, req{kind: reqClear})
}

// Flush commits everything queued so far.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	return s.call(ctx, req{kind: reqFlush})
}

func (s *SQLiteIndex) call(ctx context.Context, r req) error {
	if s == nil || s.closed.Load() {
		return fmt.Errorf("sqlite index closed")
	}
	r.done = make(chan error, 1)
	select {
	case s.ch <- r:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results lists a run's results in seed order; an empty runID lists all runs.
func (s *SQLiteIndex) Results(ctx context.Context, runID string) ([]search.Result, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	q := `SELECT run_id, seed, annotation, found_at FROM results`
	var args []any
	if runID != "" {
		q += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	q += ` ORDER BY run_id, seed`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []search.Result
	for rows.Next() {
		var r search.Result
		var foundAt string
		if err := rows.Scan(&r.RunID, &r.Seed, &r.Annotation, &foundAt); err != nil {
			return nil, err
		}
		r.FoundAt, _ = time.Parse(time.RFC3339Nano, foundAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LatestCheckpoint returns the last checkpoint saved for jobID.
func (s *SQLiteIndex) LatestCheckpoint(ctx context.Context, jobID string) (search.Checkpoint, bool, error) {
	if err := s.Flush(ctx); err != nil {
		return search.Checkpoint{}, false, err
	}
	var (
		cp      search.Checkpoint
		mode    int
		reason  string
		savedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT job_id, run_id, mode, start, fixed_bits, last_processed, resume_start, processed, reason, saved_at
		 FROM checkpoints WHERE job_id = ?`, jobID).
		Scan(&cp.JobID, &cp.RunID, &mode, &cp.Start, &cp.FixedBits, &cp.LastProcessed, &cp.ResumeStart, &cp.Processed, &reason, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return search.Checkpoint{}, false, nil
	}
	if err != nil {
		return search.Checkpoint{}, false, err
	}
	cp.Mode = search.Mode(mode)
	cp.Reason = search.StopReason(reason)
	cp.SavedAt, _ = time.Parse(time.RFC3339Nano, savedAt)
	return cp, true, nil
}

func (s *SQLiteIndex) Stats() Stats {
	st := Stats{
		DropResultTotal:     s.dropResults.Load(),
		DropRunTotal:        s.dropRuns.Load(),
		DropCheckpointTotal: s.dropCheckpoints.Load(),
	}
	if s.ch != nil {
		st.QueueDepth = len(s.ch)
		st.QueueCapacity = cap(s.ch)
	}
	return st
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertResult, _ := s.db.Prepare(`INSERT OR IGNORE INTO results(run_id,seed,annotation,found_at) VALUES(?,?,?,?)`)
	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(run_id,job_id,reason,processed,matches,accepted,dropped,failures,resume_start,started_at,stopped_at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertCheckpoint, _ := s.db.Prepare(`INSERT OR REPLACE INTO checkpoints(job_id,run_id,mode,start,fixed_bits,last_processed,resume_start,processed,reason,saved_at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertResult, insertRun, insertCheckpoint} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() error {
		if tx != nil {
			return nil
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return err
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
		return nil
	}
	commit := func() error {
		if tx == nil {
			return nil
		}
		err := tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
		return err
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) error {
		if st == nil {
			return fmt.Errorf("statement not prepared")
		}
		if err := begin(); err != nil {
			return err
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return err
		}
		opCount++
		return nil
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				_ = commit()
				return
			}
			r = rr
		case <-ticker.C:
			if time.Since(lastCommit) >= commitMaxWait {
				_ = commit()
			}
			continue
		}

		var err error
		switch r.kind {
		case reqResult:
			res := r.result
			err = exec(insertResult, res.RunID, res.Seed, res.Annotation, res.FoundAt.UTC().Format(time.RFC3339Nano))

		case reqRun:
			sum := r.run
			p := sum.Progress
			err = exec(insertRun,
				sum.RunID, sum.JobID, string(sum.Reason),
				int64(p.Processed), int64(p.Matches), int64(p.Accepted), int64(p.Dropped), int64(p.Failures),
				sum.ResumeStart,
				sum.StartedAt.UTC().Format(time.RFC3339Nano),
				sum.StoppedAt.UTC().Format(time.RFC3339Nano),
			)

		case reqCheckpoint:
			cp := r.checkpoint
			err = exec(insertCheckpoint,
				cp.JobID, cp.RunID, int(cp.Mode), cp.Start, cp.FixedBits,
				cp.LastProcessed, cp.ResumeStart, int64(cp.Processed), string(cp.Reason),
				cp.SavedAt.UTC().Format(time.RFC3339Nano),
			)
			if err == nil {
				err = commit()
			}

		case reqAnnotate:
			if err = commit(); err == nil {
				var res sql.Result
				res, err = s.db.ExecContext(ctx, `UPDATE results SET annotation = ? WHERE run_id = ? AND seed = ?`,
					r.annotation, r.result.RunID, r.result.Seed)
				if err == nil {
					if n, _ := res.RowsAffected(); n == 0 {
						err = ErrNotFound
					}
				}
			}

		case reqClear:
			if err = commit(); err == nil {
				_, err = s.db.ExecContext(ctx, `DELETE FROM results`)
			}

		case reqFlush:
			err = commit()
		}

		if r.done != nil {
			r.done <- err
		} else if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			_ = commit()
		}
	}
}
