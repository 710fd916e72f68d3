package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"seedcraft.ai/internal/persistence/archive"
	"seedcraft.ai/internal/persistence/indexdb"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "annotate":
			annotateCmd(os.Args[2:])
			return
		case "clear":
			clearCmd(os.Args[2:])
			return
		case "status":
			getCmd(os.Args[2:], "/v1/status")
			return
		case "metrics":
			getCmd(os.Args[2:], "/metrics")
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints archived runs, newest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "archives")
	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	var metas []archive.RunArchiveMeta
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "run_") {
			continue
		}
		b, err := os.ReadFile(filepath.Join(base, e.Name(), "meta.json"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "skip", e.Name()+":", err)
			continue
		}
		var m archive.RunArchiveMeta
		if err := json.Unmarshal(b, &m); err != nil {
			fmt.Fprintln(os.Stderr, "skip", e.Name()+":", err)
			continue
		}
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Summary.StoppedAt.After(metas[j].Summary.StoppedAt) })
	for _, m := range metas {
		s := m.Summary
		fmt.Printf("%s\tjob=%s\treason=%s\tprocessed=%d\taccepted=%d\tstopped=%s\n",
			m.RunID, m.JobID, s.Reason, s.Progress.Processed, s.Progress.Accepted, s.StoppedAt.Format(time.RFC3339))
	}
}

func openIndex(dataDir, dbPath string) *indexdb.SQLiteIndex {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = filepath.Join(dataDir, "index", "results.sqlite")
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return idx
}

func annotateCmd(args []string) {
	fs := flag.NewFlagSet("annotate", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	runID := fs.String("run", "", "run id (required)")
	seed := fs.String("seed", "", "seed (required)")
	text := fs.String("text", "", "annotation text")
	_ = fs.Parse(args)

	if strings.TrimSpace(*runID) == "" || strings.TrimSpace(*seed) == "" {
		fmt.Fprintln(os.Stderr, "missing -run or -seed")
		os.Exit(2)
	}
	s, err := strconv.ParseInt(strings.TrimSpace(*seed), 10, 64)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -seed:", err)
		os.Exit(2)
	}

	idx := openIndex(*dataDir, *dbPath)
	defer idx.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := idx.Annotate(ctx, *runID, s, *text); err != nil {
		fmt.Fprintln(os.Stderr, "annotate:", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}

func clearCmd(args []string) {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	yes := fs.Bool("yes", false, "confirm deleting every indexed result")
	_ = fs.Parse(args)

	if !*yes {
		fmt.Fprintln(os.Stderr, "refusing to clear results without -yes")
		os.Exit(2)
	}
	idx := openIndex(*dataDir, *dbPath)
	defer idx.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := idx.ClearResults(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "clear:", err)
		os.Exit(1)
	}
	fmt.Println("ok")
}
