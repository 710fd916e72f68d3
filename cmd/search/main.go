package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"seedcraft.ai/internal/persistence"
	"seedcraft.ai/internal/persistence/searchconfig"
	"seedcraft.ai/internal/search"
	"seedcraft.ai/internal/transport/ws"
	"seedcraft.ai/internal/tuning"
)

func main() {
	var (
		configPath = flag.String("config", "", "search config (default: <data>/default_search.json or built-in)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		resume     = flag.Bool("resume", false, "continue from the job's last checkpoint")
		workers    = flag.Int("threads", 0, "override thread_count")
		start      = flag.String("start", "", "override start_seed")
		seedFile   = flag.String("seeds", "", "seed file path or URL; switches to SEED_LIST mode")
	)
	flag.Parse()

	logger := log.New(os.Stderr, "[search] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		tune, _ = tuning.Load("")
	}

	var sc searchconfig.Config
	if *configPath != "" {
		sc, err = searchconfig.Load(*configPath)
	} else {
		sc, err = searchconfig.LoadDefault(*dataDir)
	}
	if err != nil {
		logger.Fatalf("load search config: %v", err)
	}
	if *workers > 0 {
		sc.ThreadCount = *workers
	}
	if limit := tune.WorkerLimit(); sc.ThreadCount > limit {
		logger.Printf("thread_count %d above limit, using %d", sc.ThreadCount, limit)
		sc.ThreadCount = limit
	}
	if *start != "" {
		var v int64
		if _, err := fmt.Sscan(*start, &v); err != nil {
			logger.Fatalf("bad -start %q: %v", *start, err)
		}
		sc.StartSeed = v
	}
	if *seedFile != "" {
		sc.SearchMode = int(search.SeedList)
		sc.SeedFilePath = *seedFile
	}
	raw, err := json.Marshal(sc)
	if err != nil {
		logger.Fatalf("encode config: %v", err)
	}

	stores, err := persistence.Open(*dataDir, tune.Index, logger)
	if err != nil {
		logger.Fatalf("open stores: %v", err)
	}
	ctrl := ws.NewController(ws.ControllerConfig{
		Tuning:  tune,
		DataDir: *dataDir,
		Logger:  logger,
		Log:     stores.Log,
		Index:   stores.Index,
		Remote:  stores.Remote,
		Mirror:  stores.Mirror,
	})

	msgs, unsubscribe := ctrl.Subscribe(1024)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID, err := ctrl.StartConfig(ctx, raw, *resume, false)
	if err != nil {
		_ = ctrl.Close()
		logger.Fatalf("start: %v", err)
	}
	logger.Printf("run %s started (job %s)", runID, sc.JobID())

	done := make(chan search.Summary, 1)
	go func() { done <- ctrl.Engine().Wait() }()
	follow(ctx, msgs, done, ctrl.Stop, os.Stdout, logger)
	unsubscribe()

	// Close flushes results queued after the stop event.
	code := 0
	if err := ctrl.Close(); err != nil {
		logger.Printf("close: %v", err)
		code = 1
	}
	cancel()
	os.Exit(code)
}
