package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"seedcraft.ai/internal/persistence/checkpoint"
	"seedcraft.ai/internal/persistence/indexdb"
	rlog "seedcraft.ai/internal/persistence/log"
	"seedcraft.ai/internal/persistence/searchconfig"
	"seedcraft.ai/internal/search"
	"seedcraft.ai/internal/search/condition"
	"seedcraft.ai/internal/terrain/oracle"
	"seedcraft.ai/internal/terrain/store"
	"seedcraft.ai/internal/tuning"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory")
		runID      = flag.String("run", "", "only results of this run id")
		asJSON     = flag.Bool("json", false, "print results as JSON lines")
		verifyPath = flag.String("verify", "", "search config whose conditions every logged seed must satisfy")
		tuningPath = flag.String("tuning", "", "tuning.yaml used for -verify (default: built-in)")
		reindex    = flag.Bool("reindex", false, "rebuild the sqlite index from the results log")
		ckptPath   = flag.String("checkpoint", "", "print a checkpoint file and exit")
	)
	flag.Parse()

	if *ckptPath != "" {
		cp, err := checkpoint.Read(*ckptPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read checkpoint:", err)
			os.Exit(1)
		}
		fmt.Printf("checkpoint run=%s job=%s mode=%s fixed_bits=%d last=%d resume=%d processed=%d reason=%s saved=%s\n",
			cp.RunID, cp.JobID, cp.Mode, cp.FixedBits, cp.LastProcessed, cp.ResumeStart, cp.Processed, cp.Reason, cp.SavedAt.Format(time.RFC3339))
		return
	}

	files, err := rlog.ListFiles(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list results:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no results files found in", filepath.Join(*dataDir, "results"))
		os.Exit(1)
	}

	var v *verifier
	if *verifyPath != "" {
		if v, err = newVerifier(*verifyPath, *tuningPath); err != nil {
			fmt.Fprintln(os.Stderr, "verify:", err)
			os.Exit(1)
		}
	}

	var idx *indexdb.SQLiteIndex
	if *reindex {
		if idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "results.sqlite")); err != nil {
			fmt.Fprintln(os.Stderr, "open index:", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	var results, summaries, failed int
	for _, path := range files {
		err := rlog.ReadFile(path, func(e rlog.Entry) error {
			switch {
			case e.Type == "summary" && e.Summary != nil:
				if *runID != "" && e.Summary.RunID != *runID {
					return nil
				}
				summaries++
				if idx != nil {
					idx.RecordRun(*e.Summary)
				}
				if !*asJSON {
					s := e.Summary
					fmt.Printf("run %s job=%s reason=%s processed=%d matches=%d accepted=%d dropped=%d resume=%d\n",
						s.RunID, s.JobID, s.Reason, s.Progress.Processed, s.Progress.Matches, s.Progress.Accepted, s.Progress.Dropped, s.ResumeStart)
				}
			case e.Type == "result" && e.Result != nil:
				if *runID != "" && e.Result.RunID != *runID {
					return nil
				}
				results++
				if idx != nil {
					_ = idx.AppendResults(ctx, []search.Result{*e.Result})
				}
				if v != nil {
					ok, err := v.check(ctx, e.Result.Seed)
					if err != nil {
						return fmt.Errorf("seed %d: %w", e.Result.Seed, err)
					}
					if !ok {
						failed++
						fmt.Fprintf(os.Stderr, "seed %d (run %s) does not satisfy %s\n", e.Result.Seed, e.Result.RunID, *verifyPath)
					}
				}
				if *asJSON {
					b, _ := json.Marshal(e.Result)
					fmt.Println(string(b))
				} else {
					fmt.Printf("%d\t%s\t%s\t%s\n", e.Result.Seed, e.Result.RunID, e.Result.FoundAt.Format(time.RFC3339), e.Result.Annotation)
				}
			}
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}
	if idx != nil {
		if err := idx.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "close index:", err)
			os.Exit(1)
		}
		st := idx.Stats()
		if st.DropResultTotal > 0 {
			fmt.Fprintf(os.Stderr, "reindex dropped %d results; rerun -reindex\n", st.DropResultTotal)
		}
	}
	fmt.Fprintf(os.Stderr, "results=%d runs=%d files=%d\n", results, summaries, len(files))
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "verify failed for %d seeds\n", failed)
		os.Exit(1)
	}
}

type verifier struct {
	gen   *store.Engine
	conds []condition.Condition
}

func newVerifier(configPath, tuningPath string) (*verifier, error) {
	sc, err := searchconfig.Load(configPath)
	if err != nil {
		return nil, err
	}
	conds, err := condition.FromRecords(sc.Conditions)
	if err != nil {
		return nil, err
	}
	tu, err := tuning.Load(tuningPath)
	if errors.Is(err, os.ErrNotExist) {
		tu, err = tuning.Load("")
	}
	if err != nil {
		return nil, err
	}
	oracle.Initialize()
	gen := store.NewEngine(oracle.NewSimplex(tu.Generation.OracleSeedCache), tu.StoreConfig())
	if need := condition.MaxStage(conds); need > gen.Config().MaxStage {
		return nil, fmt.Errorf("conditions need stage %s, tuning allows %s", need, gen.Config().MaxStage)
	}
	return &verifier{gen: gen, conds: conds}, nil
}

func (v *verifier) check(ctx context.Context, seed int64) (bool, error) {
	sess := v.gen.NewSession(seed)
	defer sess.Discard()
	return condition.AllHold(ctx, sess, v.conds)
}
