package search

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"seedcraft.ai/internal/search/condition"
	"seedcraft.ai/internal/terrain/store"
)

// ResultSink accepts matches from workers. Offer must not block longer than
// its own timeout.
type ResultSink interface {
	Offer(ctx context.Context, r Result) error
	Full() bool
}

// Checkpointer persists the resume point of a stopped run.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
}

type State uint8

const (
	Idle State = iota
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return "idle"
}

type EventType string

const (
	EventMatch    EventType = "match"
	EventProgress EventType = "progress"
	EventStopped  EventType = "stopped"
)

// Event is pushed on the Events channel. Sends never block; a slow reader
// misses events but Progress and Wait stay exact.
type Event struct {
	Type     EventType
	RunID    string
	Result   *Result
	Progress Progress
	Summary  *Summary
}

type Options struct {
	Sink         ResultSink
	Checkpointer Checkpointer
	Logger       *log.Logger
	// MaxWorkers caps Job.Workers; zero uses DefaultMaxWorkers.
	MaxWorkers int
	// ProgressEvery is the progress event interval; zero uses 250ms.
	ProgressEvery time.Duration
	EventBuffer   int
	Now           func() time.Time
}

// Engine runs at most one search at a time.
type Engine struct {
	gen    *store.Engine
	sink   ResultSink
	cp     Checkpointer
	logger *log.Logger
	now    func() time.Time

	maxWorkers    int
	progressEvery time.Duration
	events        chan Event

	mu    sync.Mutex
	state State
	cur   *run
	last  Summary
}

type run struct {
	id      string
	job     Job
	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
	done    chan struct{}
	started time.Time

	capOnce  sync.Once
	reasonMu sync.Mutex
	reason   StopReason

	processed atomic.Uint64
	matches   atomic.Uint64
	accepted  atomic.Uint64
	dropped   atomic.Uint64
	failures  atomic.Uint64
	lastSeed  atomic.Int64
	hasLast   atomic.Bool

	summary Summary
}

func NewEngine(gen *store.Engine, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stdout, "[search] ", log.LstdFlags|log.Lmicroseconds)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers()
	}
	if opts.ProgressEvery <= 0 {
		opts.ProgressEvery = 250 * time.Millisecond
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 1024
	}
	return &Engine{
		gen:           gen,
		sink:          opts.Sink,
		cp:            opts.Checkpointer,
		logger:        opts.Logger,
		now:           opts.Now,
		maxWorkers:    opts.MaxWorkers,
		progressEvery: opts.ProgressEvery,
		events:        make(chan Event, opts.EventBuffer),
	}
}

// Events streams matches, periodic progress and stop notifications.
func (e *Engine) Events() <-chan Event { return e.events }

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
	}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Start validates the job and launches its workers. It returns once workers
// are running; use Wait or Events to follow the run.
func (e *Engine) Start(job Job) (string, error) {
	if err := job.Validate(e.maxWorkers, e.gen.Config().MaxStage); err != nil {
		return "", err
	}
	if e.sink == nil {
		return "", errors.New("search engine has no result sink")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Idle {
		return "", ErrBusy
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		id:      uuid.NewString(),
		job:     job,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: e.now(),
	}
	r.running.Store(true)
	e.cur = r
	e.state = Running

	e.logger.Printf("run %s: start mode=%s workers=%d conditions=%d", r.id, job.Domain.Mode, job.Workers, len(job.Conditions))
	for i := 0; i < job.Workers; i++ {
		r.wg.Add(1)
		go e.worker(r, i)
	}
	go e.supervise(r)
	return r.id, nil
}

// Stop asks the current run to end. It is idempotent, does not block, and
// may be called from any goroutine.
func (e *Engine) Stop() {
	e.mu.Lock()
	r := e.cur
	e.mu.Unlock()
	if r != nil {
		e.requestStop(r, ReasonUser)
	}
}

// setReason records the first stop reason and reports whether this call won.
func (r *run) setReason(reason StopReason) bool {
	r.reasonMu.Lock()
	defer r.reasonMu.Unlock()
	if r.reason != "" {
		return false
	}
	r.reason = reason
	return true
}

func (r *run) stopReason() StopReason {
	r.reasonMu.Lock()
	defer r.reasonMu.Unlock()
	return r.reason
}

func (e *Engine) requestStop(r *run, reason StopReason) {
	if !r.setReason(reason) {
		return
	}
	r.running.Store(false)
	r.cancel()
	e.mu.Lock()
	if e.cur == r && e.state == Running {
		e.state = Stopping
	}
	e.mu.Unlock()
	e.logger.Printf("run %s: stop requested (%s)", r.id, reason)
}

// Wait blocks until the current run, if any, has ended and returns its
// summary. With no run it returns the last summary.
func (e *Engine) Wait() Summary {
	e.mu.Lock()
	r := e.cur
	e.mu.Unlock()
	if r == nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.last
	}
	<-r.done
	return r.summary
}

// Progress returns the current (or last) run's counters.
func (e *Engine) Progress() Progress {
	e.mu.Lock()
	r := e.cur
	last := e.last
	e.mu.Unlock()
	if r == nil {
		return last.Progress
	}
	return r.progress()
}

// ResumeStart is the seed after the last processed one, the start a resumed
// arithmetic search should use.
func (e *Engine) ResumeStart() int64 {
	e.mu.Lock()
	r := e.cur
	last := e.last
	e.mu.Unlock()
	if r == nil {
		return last.ResumeStart
	}
	return r.resumeStart()
}

func (r *run) progress() Progress {
	return Progress{
		Processed: r.processed.Load(),
		Matches:   r.matches.Load(),
		Accepted:  r.accepted.Load(),
		Dropped:   r.dropped.Load(),
		Failures:  r.failures.Load(),
		LastSeed:  r.lastSeed.Load(),
	}
}

func (r *run) resumeStart() int64 {
	if !r.hasLast.Load() {
		return r.job.Domain.Start
	}
	return r.lastSeed.Load() + 1
}

func (e *Engine) supervise(r *run) {
	ticker := time.NewTicker(e.progressEvery)
	defer ticker.Stop()
	workersDone := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(workersDone)
	}()

wait:
	for {
		select {
		case <-ticker.C:
			e.emit(Event{Type: EventProgress, RunID: r.id, Progress: r.progress()})
		case <-workersDone:
			break wait
		}
	}

	r.setReason(ReasonExhausted)
	reason := r.stopReason()
	r.cancel()

	sum := Summary{
		RunID:       r.id,
		JobID:       r.job.ID,
		Reason:      reason,
		Progress:    r.progress(),
		ResumeStart: r.resumeStart(),
		StartedAt:   r.started,
		StoppedAt:   e.now(),
	}
	r.summary = sum

	if e.cp != nil {
		cp := Checkpoint{
			RunID:         r.id,
			JobID:         r.job.ID,
			Mode:          r.job.Domain.Mode,
			Start:         r.job.Domain.Start,
			FixedBits:     r.job.Domain.FixedBits,
			LastProcessed: sum.Progress.LastSeed,
			ResumeStart:   sum.ResumeStart,
			Processed:     sum.Progress.Processed,
			Reason:        reason,
			SavedAt:       sum.StoppedAt,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.cp.SaveCheckpoint(ctx, cp); err != nil {
			e.logger.Printf("run %s: save checkpoint: %v", r.id, err)
		}
		cancel()
	}

	e.mu.Lock()
	e.last = sum
	e.cur = nil
	e.state = Idle
	e.mu.Unlock()

	e.logger.Printf("run %s: stopped (%s) processed=%d matches=%d accepted=%d dropped=%d failures=%d",
		r.id, reason, sum.Progress.Processed, sum.Progress.Matches, sum.Progress.Accepted, sum.Progress.Dropped, sum.Progress.Failures)
	e.emit(Event{Type: EventStopped, RunID: r.id, Progress: sum.Progress, Summary: &sum})
	close(r.done)
}

func (e *Engine) worker(r *run, i int) {
	defer r.wg.Done()
	next := r.job.Domain.iterator(i, r.job.Workers)
	for r.running.Load() {
		seed, ok := next()
		if !ok {
			return
		}
		if !e.check(r, seed) {
			return
		}
	}
}

// check evaluates one seed. It returns false when the run was cancelled
// mid-seed; the seed then does not count as processed.
func (e *Engine) check(r *run, seed int64) bool {
	sess := e.gen.NewSession(seed)
	ok, err := condition.AllHold(r.ctx, sess, r.job.Conditions)
	sess.Discard()

	if err != nil {
		if r.ctx.Err() != nil {
			return false
		}
		r.failures.Add(1)
		var gf *store.GenerationFailure
		if errors.As(err, &gf) {
			e.logger.Printf("run %s: seed %d: %v", r.id, seed, gf)
		} else {
			e.logger.Printf("run %s: seed %d: evaluate: %v", r.id, seed, err)
		}
		ok = false
	}

	if ok {
		r.matches.Add(1)
		e.deliver(r, Result{RunID: r.id, Seed: seed, FoundAt: e.now()})
	}
	r.lastSeed.Store(seed)
	r.hasLast.Store(true)
	r.processed.Add(1)
	return true
}

func (e *Engine) deliver(r *run, res Result) {
	err := e.sink.Offer(r.ctx, res)
	switch {
	case err == nil:
		r.accepted.Add(1)
		e.emit(Event{Type: EventMatch, RunID: r.id, Result: &res, Progress: r.progress()})
	case errors.Is(err, ErrBackpressure):
		r.dropped.Add(1)
		e.logger.Printf("run %s: seed %d dropped: %v", r.id, res.Seed, err)
	case errors.Is(err, ErrCapReached):
		r.dropped.Add(1)
	default:
		r.dropped.Add(1)
		e.logger.Printf("run %s: seed %d: offer: %v", r.id, res.Seed, err)
	}
	if errors.Is(err, ErrCapReached) || e.sink.Full() {
		r.capOnce.Do(func() {
			e.logger.Printf("run %s: result cap reached", r.id)
			e.requestStop(r, ReasonResultCap)
		})
	}
}
