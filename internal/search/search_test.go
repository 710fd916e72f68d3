package search

import (
	"context"
	"errors"
	"io"
	"log"
	"runtime"
	"sort"
	"sync"
	"testing"
	"time"

	"seedcraft.ai/internal/search/condition"
	"seedcraft.ai/internal/terrain/oracle"
	"seedcraft.ai/internal/terrain/store"
)

func TestCursorTwoWorkersInterleave(t *testing.T) {
	d := Domain{Mode: FullRange, Start: 0}
	want := [][]int64{{0, 2, 4, 6, 8}, {1, 3, 5, 7, 9}}
	for i := 0; i < 2; i++ {
		c := d.Cursor(i, 2)
		for k, w := range want[i] {
			got, ok := c.Next()
			if !ok || got != w {
				t.Fatalf("worker %d step %d: got %d want %d", i, k, got, w)
			}
		}
	}
}

func TestCursorPartitionsDisjoint(t *testing.T) {
	const k = 200
	for _, mode := range []Mode{FullRange, FixedLower32, FixedLower48} {
		for n := 1; n <= 7; n++ {
			d := Domain{Mode: mode, Start: -12345, FixedBits: 0x0000BEEF12345678}
			seen := map[int64]int{}
			for i := 0; i < n; i++ {
				c := d.Cursor(i, n)
				for j := 0; j < k; j++ {
					s, _ := c.Next()
					if prev, dup := seen[s]; dup {
						t.Fatalf("%s n=%d: seed %d visited by workers %d and %d", mode, n, s, prev, i)
					}
					seen[s] = i
					if uint64(s)&mode.FixedMask() != uint64(d.FixedBits)&mode.FixedMask() {
						t.Fatalf("%s: seed %#x lost fixed bits", mode, uint64(s))
					}
				}
			}
		}
	}
}

func TestCursorStepSizes(t *testing.T) {
	c := Domain{Mode: FixedLower32, Start: 0, FixedBits: 7}.Cursor(0, 1)
	a, _ := c.Next()
	b, _ := c.Next()
	if a != 7 || b != 1<<32|7 {
		t.Fatalf("FIXED_LOWER_32: got %#x, %#x", a, b)
	}
	c = Domain{Mode: FixedLower48, Start: 0, FixedBits: 9}.Cursor(1, 2)
	a, _ = c.Next()
	b, _ = c.Next()
	if a != 1<<48|9 || b != 3<<48|9 {
		t.Fatalf("FIXED_LOWER_48: got %#x, %#x", a, b)
	}
}

func TestCursorCount(t *testing.T) {
	d := Domain{Mode: FullRange, Start: 100, Count: 5}
	var got []int64
	for i := 0; i < 2; i++ {
		c := d.Cursor(i, 2)
		for {
			s, ok := c.Next()
			if !ok {
				break
			}
			got = append(got, s)
		}
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	want := []int64{100, 101, 102, 103, 104}
	if len(got) != len(want) {
		t.Fatalf("got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v want %v", got, want)
		}
	}
	if _, ok := (Domain{Count: 1}).Cursor(3, 4).Next(); ok {
		t.Fatalf("worker beyond Count should get nothing")
	}
}

func TestSplitList(t *testing.T) {
	for size := 0; size <= 23; size++ {
		seeds := make([]int64, size)
		for i := range seeds {
			seeds[i] = int64(i * 3)
		}
		for n := 1; n <= 9; n++ {
			parts := SplitList(seeds, n)
			if len(parts) != n {
				t.Fatalf("size %d n %d: %d parts", size, n, len(parts))
			}
			var joined []int64
			lo, hi := size, 0
			for _, p := range parts {
				joined = append(joined, p...)
				lo = min(lo, len(p))
				hi = max(hi, len(p))
			}
			if hi-lo > 1 {
				t.Fatalf("size %d n %d: part sizes range %d..%d", size, n, lo, hi)
			}
			if len(joined) != size {
				t.Fatalf("size %d n %d: joined %d", size, n, len(joined))
			}
			for i := range seeds {
				if joined[i] != seeds[i] {
					t.Fatalf("size %d n %d: order broken at %d", size, n, i)
				}
			}
		}
	}
}

// seedCond matches seeds by a function of the seed alone.
type seedCond struct {
	match func(int64) (bool, error)
	delay time.Duration
}

func (c seedCond) Kind() condition.Kind { return "seed" }

func (c seedCond) Record() condition.Record { return condition.Record{Kind: "seed"} }

func (c seedCond) Evaluate(ctx context.Context, sess *store.Session) (bool, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return c.match(sess.Seed())
}

// memSink accepts up to limit results.
type memSink struct {
	mu    sync.Mutex
	limit int
	seeds []int64
}

func (s *memSink) Offer(ctx context.Context, r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && len(s.seeds) >= s.limit {
		return ErrCapReached
	}
	s.seeds = append(s.seeds, r.Seed)
	return nil
}

func (s *memSink) Full() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit > 0 && len(s.seeds) >= s.limit
}

type memCheckpointer struct {
	mu  sync.Mutex
	cps []Checkpoint
}

func (m *memCheckpointer) SaveCheckpoint(ctx context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cps = append(m.cps, cp)
	return nil
}

func newTestEngine(sink ResultSink, cp Checkpointer) *Engine {
	gen := store.NewEngine(oracle.NewSimplex(1), store.DefaultConfig())
	return NewEngine(gen, Options{
		Sink:          sink,
		Checkpointer:  cp,
		Logger:        log.New(io.Discard, "", 0),
		MaxWorkers:    8,
		ProgressEvery: 10 * time.Millisecond,
	})
}

func listJob(workers int, seeds []int64, c condition.Condition) Job {
	return Job{ID: "job", Domain: Domain{Mode: SeedList, Seeds: seeds}, Workers: workers, Conditions: []condition.Condition{c}}
}

func TestEngineExhaustsList(t *testing.T) {
	sink := &memSink{}
	cp := &memCheckpointer{}
	e := newTestEngine(sink, cp)
	var seeds []int64
	for i := int64(1); i <= 20; i++ {
		seeds = append(seeds, i)
	}
	even := seedCond{match: func(s int64) (bool, error) { return s%2 == 0, nil }}
	if _, err := e.Start(listJob(3, seeds, even)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sum := e.Wait()
	if sum.Reason != ReasonExhausted {
		t.Fatalf("reason: got %s", sum.Reason)
	}
	if sum.Progress.Processed != 20 || sum.Progress.Accepted != 10 {
		t.Fatalf("progress: %+v", sum.Progress)
	}
	sort.Slice(sink.seeds, func(i, j int) bool { return sink.seeds[i] < sink.seeds[j] })
	for i, s := range sink.seeds {
		if s != int64(2*(i+1)) {
			t.Fatalf("sink seeds: %v", sink.seeds)
		}
	}
	if e.State() != Idle {
		t.Fatalf("state: got %s", e.State())
	}
	if len(cp.cps) != 1 || cp.cps[0].Reason != ReasonExhausted {
		t.Fatalf("checkpoints: %+v", cp.cps)
	}
}

func TestEngineResultCapStopsOnce(t *testing.T) {
	sink := &memSink{limit: 1}
	e := newTestEngine(sink, nil)
	always := seedCond{match: func(int64) (bool, error) { return true, nil }}
	if _, err := e.Start(listJob(2, []int64{10, 11}, always)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sum := e.Wait()
	if sum.Reason != ReasonResultCap {
		t.Fatalf("reason: got %s", sum.Reason)
	}
	if sum.Progress.Accepted != 1 || len(sink.seeds) != 1 {
		t.Fatalf("accepted %d, sink %v", sum.Progress.Accepted, sink.seeds)
	}
}

func TestEngineStopIsIdempotent(t *testing.T) {
	cp := &memCheckpointer{}
	e := newTestEngine(&memSink{}, cp)
	never := seedCond{match: func(int64) (bool, error) { return false, nil }, delay: time.Millisecond}
	job := Job{ID: "arith", Domain: Domain{Mode: FullRange, Start: 1000}, Workers: 4, Conditions: []condition.Condition{never}}
	if _, err := e.Start(job); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.Stop()
		}()
	}
	wg.Wait()
	sum := e.Wait()
	e.Stop()

	if sum.Reason != ReasonUser {
		t.Fatalf("reason: got %s", sum.Reason)
	}
	if sum.Progress.Processed == 0 {
		t.Fatalf("nothing processed")
	}
	if sum.ResumeStart != sum.Progress.LastSeed+1 {
		t.Fatalf("resume start %d, last seed %d", sum.ResumeStart, sum.Progress.LastSeed)
	}
	if e.ResumeStart() != sum.ResumeStart {
		t.Fatalf("engine resume start %d", e.ResumeStart())
	}
	if len(cp.cps) != 1 || cp.cps[0].ResumeStart != sum.ResumeStart || cp.cps[0].Reason != ReasonUser {
		t.Fatalf("checkpoints: %+v", cp.cps)
	}
	if e.State() != Idle {
		t.Fatalf("state: got %s", e.State())
	}
}

func TestEngineBusyAndInvalid(t *testing.T) {
	e := newTestEngine(&memSink{}, nil)
	never := seedCond{match: func(int64) (bool, error) { return false, nil }, delay: time.Millisecond}

	_, err := e.Start(Job{Domain: Domain{Mode: SeedList}, Workers: 1, Conditions: []condition.Condition{never}})
	if !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("empty list: got %v", err)
	}
	if e.State() != Idle {
		t.Fatalf("invalid job changed state")
	}

	job := Job{Domain: Domain{Mode: FullRange}, Workers: 1, Conditions: []condition.Condition{never}}
	if _, err := e.Start(job); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := e.Start(job); !errors.Is(err, ErrBusy) {
		t.Fatalf("second Start: got %v", err)
	}
	e.Stop()
	e.Wait()
	if _, err := e.Start(job); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	e.Stop()
	e.Wait()
}

func TestEngineContainsFailures(t *testing.T) {
	sink := &memSink{}
	e := newTestEngine(sink, nil)
	flaky := seedCond{match: func(s int64) (bool, error) {
		if s%3 == 0 {
			return false, &store.GenerationFailure{Seed: s, Err: errors.New("oracle fault")}
		}
		return true, nil
	}}
	if _, err := e.Start(listJob(2, []int64{1, 2, 3, 4, 5, 6}, flaky)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sum := e.Wait()
	if sum.Reason != ReasonExhausted || sum.Progress.Processed != 6 {
		t.Fatalf("summary: %+v", sum)
	}
	if sum.Progress.Failures != 2 || sum.Progress.Accepted != 4 {
		t.Fatalf("progress: %+v", sum.Progress)
	}
}

func TestEngineEvents(t *testing.T) {
	e := newTestEngine(&memSink{}, nil)
	always := seedCond{match: func(int64) (bool, error) { return true, nil }}
	runID, err := e.Start(listJob(1, []int64{5}, always))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	e.Wait()
	var sawMatch, sawStop bool
	timeout := time.After(time.Second)
	for !sawStop {
		select {
		case ev := <-e.Events():
			if ev.RunID != runID {
				t.Fatalf("event for run %s", ev.RunID)
			}
			switch ev.Type {
			case EventMatch:
				sawMatch = ev.Result != nil && ev.Result.Seed == 5 && ev.Result.Annotation == ""
			case EventStopped:
				sawStop = ev.Summary != nil
			}
		case <-timeout:
			t.Fatalf("no stop event")
		}
	}
	if !sawMatch {
		t.Fatalf("no match event")
	}
}

func TestJobValidate(t *testing.T) {
	c := seedCond{match: func(int64) (bool, error) { return true, nil }}
	deep := condition.Height{MaxX: 0, MaxZ: 0, Stage: store.Spawn}
	cases := []struct {
		name string
		job  Job
		ok   bool
	}{
		{"ok", Job{Domain: Domain{Mode: FullRange}, Workers: 2, Conditions: []condition.Condition{c}}, true},
		{"no workers", Job{Domain: Domain{Mode: FullRange}, Workers: 0, Conditions: []condition.Condition{c}}, false},
		{"too many workers", Job{Domain: Domain{Mode: FullRange}, Workers: 9, Conditions: []condition.Condition{c}}, false},
		{"no conditions", Job{Domain: Domain{Mode: FullRange}, Workers: 1}, false},
		{"empty list", Job{Domain: Domain{Mode: SeedList}, Workers: 1, Conditions: []condition.Condition{c}}, false},
		{"bad mode", Job{Domain: Domain{Mode: Mode(9)}, Workers: 1, Conditions: []condition.Condition{c}}, false},
		{"stage too deep", Job{Domain: Domain{Mode: FullRange}, Workers: 1, Conditions: []condition.Condition{deep}}, false},
	}
	for _, tc := range cases {
		err := tc.job.Validate(8, store.Features)
		if tc.ok && err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidJob) {
			t.Fatalf("%s: expected ErrInvalidJob, got %v", tc.name, err)
		}
	}
}

func TestDefaultWorkerCapIsCPUBound(t *testing.T) {
	procs := runtime.GOMAXPROCS(0)
	if got := DefaultMaxWorkers(); got != procs {
		t.Fatalf("DefaultMaxWorkers: got %d want %d", got, procs)
	}
	c := seedCond{match: func(int64) (bool, error) { return true, nil }}
	job := Job{Domain: Domain{Mode: FullRange}, Workers: procs + 1, Conditions: []condition.Condition{c}}
	if err := job.Validate(0, store.Features); !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("expected ErrInvalidJob above %d workers, got %v", procs, err)
	}
}

func TestParseMode(t *testing.T) {
	for m := FullRange; m <= SeedList; m++ {
		if got, err := ParseMode(m.String()); err != nil || got != m {
			t.Fatalf("ParseMode(%s): %v %v", m, got, err)
		}
	}
	if got, err := ParseMode("2"); err != nil || got != FixedLower48 {
		t.Fatalf("ParseMode(2): %v %v", got, err)
	}
}

func TestCheckpointResume(t *testing.T) {
	job := Job{Domain: Domain{Mode: FixedLower32, Start: 7, FixedBits: 7, Count: 100}}
	cp := Checkpoint{Mode: FixedLower32, FixedBits: 7, ResumeStart: 7 + 40<<32, Processed: 40}
	got, err := cp.Resume(job)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.Domain.Start != 7+40<<32 || got.Domain.Count != 60 {
		t.Fatalf("domain: %+v", got.Domain)
	}

	bad := []struct {
		name string
		job  Job
		cp   Checkpoint
	}{
		{"list", Job{Domain: Domain{Mode: SeedList, Seeds: []int64{1}}}, Checkpoint{Mode: SeedList}},
		{"mode", job, Checkpoint{Mode: FullRange}},
		{"fixed bits", job, Checkpoint{Mode: FixedLower32, FixedBits: 8}},
		{"covered", job, Checkpoint{Mode: FixedLower32, FixedBits: 7, Processed: 100}},
	}
	for _, tc := range bad {
		if _, err := tc.cp.Resume(tc.job); !errors.Is(err, ErrInvalidJob) {
			t.Fatalf("%s: expected ErrInvalidJob, got %v", tc.name, err)
		}
	}
}
