package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"seedcraft.ai/internal/persistence/archive"
	"seedcraft.ai/internal/persistence/checkpoint"
	"seedcraft.ai/internal/persistence/indexdb"
	rlog "seedcraft.ai/internal/persistence/log"
	"seedcraft.ai/internal/persistence/mirror"
	"seedcraft.ai/internal/persistence/searchconfig"
	"seedcraft.ai/internal/protocol"
	"seedcraft.ai/internal/search"
	"seedcraft.ai/internal/search/sink"
	"seedcraft.ai/internal/terrain/oracle"
	"seedcraft.ai/internal/terrain/store"
	"seedcraft.ai/internal/tuning"
)

// ErrNoIndex is returned by result queries when no sqlite index is open.
var ErrNoIndex = errors.New("no result index configured")

type ControllerConfig struct {
	Tuning  tuning.Tuning
	DataDir string
	Oracle  oracle.Oracle
	Logger  *log.Logger

	// Optional stores. Nil entries are skipped.
	Log    *rlog.ResultLogger
	Index  *indexdb.SQLiteIndex
	Remote *indexdb.RemoteIndex
	Mirror *mirror.Mirror
}

// Controller owns the search engine, its sink and the result stores, and fans
// run events out to subscribers as encoded protocol messages.
type Controller struct {
	cfg    ControllerConfig
	logger *log.Logger

	gen    *store.Engine
	sink   *sink.Sink
	engine *search.Engine
	ckpt   checkpoint.File

	subsMu  sync.Mutex
	subs    map[int]chan []byte
	nextSub int

	runMu  sync.Mutex
	runCtx context.Context
	stop   context.CancelFunc
	pumped chan struct{}
}

type checkpointers []search.Checkpointer

func (cs checkpointers) SaveCheckpoint(ctx context.Context, cp search.Checkpoint) error {
	var errs []error
	for _, c := range cs {
		if err := c.SaveCheckpoint(ctx, cp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func NewController(cfg ControllerConfig) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	}
	if cfg.Oracle == nil {
		cfg.Oracle = oracle.NewSimplex(cfg.Tuning.Generation.OracleSeedCache)
	}
	oracle.Initialize()

	c := &Controller{
		cfg:    cfg,
		logger: cfg.Logger,
		gen:    store.NewEngine(cfg.Oracle, cfg.Tuning.StoreConfig()),
		ckpt: checkpoint.File{
			Path:   filepath.Join(cfg.DataDir, "checkpoint", "search.ckpt.zst"),
			OnSave: cfg.Mirror.Enqueue,
		},
		subs:   map[int]chan []byte{},
		pumped: make(chan struct{}),
	}

	sc := cfg.Tuning.SinkConfig()
	sc.Logger = log.New(cfg.Logger.Writer(), "[sink] ", cfg.Logger.Flags())
	if cfg.Log != nil {
		sc.Stores = append(sc.Stores, cfg.Log)
	}
	if cfg.Index != nil {
		sc.Stores = append(sc.Stores, cfg.Index)
	}
	if cfg.Remote != nil {
		sc.Stores = append(sc.Stores, cfg.Remote)
	}
	c.sink = sink.New(sc)

	cps := checkpointers{c.ckpt}
	if cfg.Index != nil {
		cps = append(cps, cfg.Index)
	}
	opts := cfg.Tuning.SearchOptions()
	opts.Sink = c.sink
	opts.Checkpointer = cps
	opts.Logger = log.New(cfg.Logger.Writer(), "[search] ", cfg.Logger.Flags())
	c.engine = search.NewEngine(c.gen, opts)

	c.runCtx, c.stop = context.WithCancel(context.Background())
	go c.pump()
	return c
}

func (c *Controller) Engine() *search.Engine { return c.engine }

// StartConfig parses a search config document and starts it. With resume set
// the run continues from the job's last checkpoint.
func (c *Controller) StartConfig(ctx context.Context, raw []byte, resume, saveDefault bool) (string, error) {
	sc, err := searchconfig.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", search.ErrInvalidJob, err)
	}
	job, err := sc.ToJob(ctx, sc.JobID(), filepath.Join(c.cfg.DataDir, "seedfiles"))
	if err != nil {
		return "", err
	}
	if resume {
		cp, ok, err := c.latestCheckpoint(ctx, job.ID)
		if err != nil {
			return "", err
		}
		if ok {
			if job, err = cp.Resume(job); err != nil {
				return "", err
			}
			c.logger.Printf("job %s: resuming at %d", job.ID, job.Domain.Start)
		}
	}
	if saveDefault {
		if err := searchconfig.SaveDefault(c.cfg.DataDir, sc); err != nil {
			c.logger.Printf("save default config: %v", err)
		}
	}
	return c.Start(job)
}

func (c *Controller) latestCheckpoint(ctx context.Context, jobID string) (search.Checkpoint, bool, error) {
	if c.cfg.Index != nil {
		if cp, ok, err := c.cfg.Index.LatestCheckpoint(ctx, jobID); err != nil || ok {
			return cp, ok, err
		}
	}
	cp, ok, err := c.ckpt.Load()
	if err != nil || !ok || cp.JobID != jobID {
		return search.Checkpoint{}, false, err
	}
	return cp, true, nil
}

func (c *Controller) Start(job search.Job) (string, error) {
	if c.engine.State() == search.Idle {
		c.sink.Reset()
	}
	return c.engine.Start(job)
}

func (c *Controller) Stop() { c.engine.Stop() }

func (c *Controller) Status(reqID string) protocol.StatusMsg {
	st := protocol.StatusMsg{
		Type:            protocol.TypeStatus,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		State:           c.engine.State().String(),
		Progress:        c.engine.Progress(),
		ResumeStart:     c.engine.ResumeStart(),
	}
	if def, err := searchconfig.LoadDefault(c.cfg.DataDir); err == nil {
		st.DefaultConfig, _ = json.Marshal(def)
	}
	return st
}

// Results lists stored results. Without an index it falls back to what the
// sink accepted since the last start.
func (c *Controller) Results(ctx context.Context, runID string) ([]search.Result, error) {
	if c.cfg.Index != nil {
		return c.cfg.Index.Results(ctx, runID)
	}
	var out []search.Result
	for _, r := range c.sink.Results() {
		if runID == "" || r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *Controller) Annotate(ctx context.Context, runID string, seed int64, text string) error {
	if c.cfg.Index == nil {
		return ErrNoIndex
	}
	return c.cfg.Index.Annotate(ctx, runID, seed, text)
}

func (c *Controller) ClearResults(ctx context.Context) error {
	if c.cfg.Index == nil {
		return ErrNoIndex
	}
	return c.cfg.Index.ClearResults(ctx)
}

// Subscribe registers a broadcast listener. Messages are dropped for a
// subscriber whose buffer is full.
func (c *Controller) Subscribe(buf int) (<-chan []byte, func()) {
	if buf <= 0 {
		buf = 256
	}
	ch := make(chan []byte, buf)
	c.subsMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.subsMu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subsMu.Lock()
			delete(c.subs, id)
			c.subsMu.Unlock()
		})
	}
}

func (c *Controller) broadcast(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		c.logger.Printf("broadcast marshal: %v", err)
		return
	}
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- b:
		default:
		}
	}
}

// pump forwards engine events and flushed sink batches until Close.
func (c *Controller) pump() {
	defer close(c.pumped)
	events := c.engine.Events()
	batches := c.sink.Batches()
	for {
		select {
		case <-c.runCtx.Done():
			return
		case ev := <-events:
			c.onEvent(ev)
		case b, ok := <-batches:
			if !ok {
				batches = nil
				continue
			}
			c.broadcast(protocol.MatchMsg{Type: protocol.TypeMatch, ProtocolVersion: protocol.Version, Results: b})
		}
	}
}

func (c *Controller) onEvent(ev search.Event) {
	switch ev.Type {
	case search.EventProgress:
		c.broadcast(protocol.ProgressMsg{Type: protocol.TypeProgress, ProtocolVersion: protocol.Version, RunID: ev.RunID, Progress: ev.Progress})
	case search.EventStopped:
		if ev.Summary == nil {
			return
		}
		sum := *ev.Summary
		c.recordRun(sum)
		c.broadcast(protocol.StoppedMsg{Type: protocol.TypeStopped, ProtocolVersion: protocol.Version, Summary: sum})
	}
}

func (c *Controller) recordRun(sum search.Summary) {
	if c.cfg.Log != nil {
		if err := c.cfg.Log.WriteSummary(sum); err != nil {
			c.logger.Printf("run %s: write summary: %v", sum.RunID, err)
		}
	}
	if c.cfg.Index != nil {
		c.cfg.Index.RecordRun(sum)
	}
	if c.cfg.Remote != nil {
		c.cfg.Remote.RecordRun(sum)
	}
	paths, err := archive.ArchiveRun(c.cfg.DataDir, c.ckpt.Path, sum)
	if err != nil {
		c.logger.Printf("run %s: archive: %v", sum.RunID, err)
	}
	for _, p := range paths {
		c.cfg.Mirror.Enqueue(p)
	}
}

// Close stops any run, waits for it, drains the sink and closes the stores.
func (c *Controller) Close() error {
	c.engine.Stop()
	c.engine.Wait()
	c.stop()
	<-c.pumped

	// The pump may have exited before the final stop event arrived.
	for {
		select {
		case ev := <-c.engine.Events():
			c.onEvent(ev)
			continue
		default:
		}
		break
	}
	_ = c.sink.Close()

	var errs []error
	if c.cfg.Log != nil {
		errs = append(errs, c.cfg.Log.Close())
	}
	if c.cfg.Index != nil {
		errs = append(errs, c.cfg.Index.Close())
	}
	if c.cfg.Remote != nil {
		errs = append(errs, c.cfg.Remote.Close())
	}
	errs = append(errs, c.cfg.Mirror.Close())
	return errors.Join(errs...)
}
