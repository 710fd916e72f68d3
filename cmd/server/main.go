package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"seedcraft.ai/internal/persistence"
	"seedcraft.ai/internal/transport/mcp"
	"seedcraft.ai/internal/transport/ws"
	"seedcraft.ai/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune, _ = tuning.Load("")
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
	defer func() {
		if err := ctrl.Close(); err != nil {
			logger.Printf("close: %v", err)
		}
	}()

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		eng := ctrl.Engine()
		p := eng.Progress()
		fmt.Fprintf(rw, "seedcraft_search_running %d\n", boolInt(eng.State().String() != "idle"))
		fmt.Fprintf(rw, "seedcraft_search_processed_total %d\n", p.Processed)
		fmt.Fprintf(rw, "seedcraft_search_matches_total %d\n", p.Matches)
		fmt.Fprintf(rw, "seedcraft_search_accepted_total %d\n", p.Accepted)
		fmt.Fprintf(rw, "seedcraft_search_dropped_total %d\n", p.Dropped)
		fmt.Fprintf(rw, "seedcraft_search_failures_total %d\n", p.Failures)
		if stores.Index != nil {
			st := stores.Index.Stats()
			fmt.Fprintf(rw, "seedcraft_index_queue_depth %d\n", st.QueueDepth)
			fmt.Fprintf(rw, "seedcraft_index_drop_result_total %d\n", st.DropResultTotal)
		}
		if stores.Remote != nil {
			st := stores.Remote.Stats()
			fmt.Fprintf(rw, "seedcraft_remote_flush_fail_total %d\n", st.FlushFailTotal)
			fmt.Fprintf(rw, "seedcraft_remote_queue_dropped_total %d\n", st.QueueDroppedTotal)
		}
		if stores.Mirror != nil {
			st := stores.Mirror.Stats()
			fmt.Fprintf(rw, "seedcraft_mirror_queue_depth %d\n", st.QueueDepth)
			fmt.Fprintf(rw, "seedcraft_mirror_dropped_total %d\n", st.DroppedTotal)
			fmt.Fprintf(rw, "seedcraft_mirror_upload_success_total %d\n", st.UploadSuccessTotal)
			fmt.Fprintf(rw, "seedcraft_mirror_upload_fail_total %d\n", st.UploadFailTotal)
		}
	})
	mux.HandleFunc("/v1/status", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(ctrl.Status(""))
	})
	if envBool("SEEDCRAFT_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", ws.NewServer(ctrl, logger).Handler())
	if envBool("SEEDCRAFT_ENABLE_MCP", true) {
		ms, err := mcp.NewServer(mcp.Config{
			Controller: ctrl,
			HMACSecret: strings.TrimSpace(os.Getenv("SEEDCRAFT_MCP_HMAC_SECRET")),
		})
		if err != nil {
			logger.Fatalf("mcp: %v", err)
		}
		mux.HandleFunc("/mcp", ms.Handler())
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
