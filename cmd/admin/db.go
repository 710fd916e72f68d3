package main

import (
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// dbCmd runs read-only queries against the results index.
func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	runID := fs.String("run", "", "run_id filter (results)")
	jobID := fs.String("job", "", "job_id filter (runs, checkpoints)")
	seed := fs.Int64("seed", 0, "seed filter (results; 0 means any)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if *limit <= 0 {
		*limit = 20
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "results.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	switch q {
	case "runs":
		rows, err := db.Query(`SELECT run_id,job_id,reason,processed,matches,accepted,dropped,failures,resume_start,started_at,stopped_at
			FROM runs WHERE (?='' OR job_id=?) ORDER BY stopped_at DESC LIMIT ?`, *jobID, *jobID, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID       string `json:"run_id"`
				JobID       string `json:"job_id"`
				Reason      string `json:"reason"`
				Processed   int64  `json:"processed"`
				Matches     int64  `json:"matches"`
				Accepted    int64  `json:"accepted"`
				Dropped     int64  `json:"dropped"`
				Failures    int64  `json:"failures"`
				ResumeStart int64  `json:"resume_start"`
				StartedAt   string `json:"started_at"`
				StoppedAt   string `json:"stopped_at"`
			}
			if err := rows.Scan(&r.RunID, &r.JobID, &r.Reason, &r.Processed, &r.Matches, &r.Accepted, &r.Dropped, &r.Failures, &r.ResumeStart, &r.StartedAt, &r.StoppedAt); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "results":
		rows, err := db.Query(`SELECT run_id,seed,annotation,found_at FROM results
			WHERE (?='' OR run_id=?) AND (?=0 OR seed=?) ORDER BY found_at DESC LIMIT ?`, *runID, *runID, *seed, *seed, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				RunID      string `json:"run_id"`
				Seed       int64  `json:"seed"`
				Annotation string `json:"annotation"`
				FoundAt    string `json:"found_at"`
			}
			if err := rows.Scan(&r.RunID, &r.Seed, &r.Annotation, &r.FoundAt); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "checkpoints":
		rows, err := db.Query(`SELECT job_id,run_id,mode,start,fixed_bits,last_processed,resume_start,processed,reason,saved_at
			FROM checkpoints WHERE (?='' OR job_id=?) ORDER BY saved_at DESC LIMIT ?`, *jobID, *jobID, *limit)
		if err != nil {
			fail("query", err)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				JobID         string `json:"job_id"`
				RunID         string `json:"run_id"`
				Mode          int    `json:"mode"`
				Start         int64  `json:"start"`
				FixedBits     int64  `json:"fixed_bits"`
				LastProcessed int64  `json:"last_processed"`
				ResumeStart   int64  `json:"resume_start"`
				Processed     int64  `json:"processed"`
				Reason        string `json:"reason"`
				SavedAt       string `json:"saved_at"`
			}
			if err := rows.Scan(&r.JobID, &r.RunID, &r.Mode, &r.Start, &r.FixedBits, &r.LastProcessed, &r.ResumeStart, &r.Processed, &r.Reason, &r.SavedAt); err != nil {
				fail("scan", err)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fail("rows", err)
		}

	case "count":
		var results, runs int64
		if err := db.QueryRow(`SELECT COUNT(*) FROM results`).Scan(&results); err != nil {
			fail("count", err)
		}
		if err := db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&runs); err != nil {
			fail("count", err)
		}
		printJSON(map[string]int64{"results": results, "runs": runs})

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(runs|results|checkpoints|count)")
		os.Exit(2)
	}
}

func fail(what string, err error) {
	fmt.Fprintln(os.Stderr, what+":", err)
	os.Exit(1)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
