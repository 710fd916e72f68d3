package sink

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"seedcraft.ai/internal/search"
	"seedcraft.ai/internal/search/condition"
	"seedcraft.ai/internal/terrain/oracle"
	"seedcraft.ai/internal/terrain/store"
)

var quiet = log.New(io.Discard, "", 0)

type memStore struct {
	mu      sync.Mutex
	results []search.Result
}

func (m *memStore) AppendResults(ctx context.Context, rs []search.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, rs...)
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.results)
}

// gateStore blocks every append until release is closed.
type gateStore struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gateStore) AppendResults(ctx context.Context, rs []search.Result) error {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	return nil
}

func TestSinkCap(t *testing.T) {
	s := New(Config{Cap: 3, Logger: quiet})
	defer s.Close()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := s.Offer(ctx, search.Result{Seed: int64(i)})
		if i < 3 && err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
		if i >= 3 && !errors.Is(err, search.ErrCapReached) {
			t.Fatalf("offer %d: expected ErrCapReached, got %v", i, err)
		}
	}
	if !s.Full() {
		t.Fatalf("sink should report full")
	}
}

func TestSinkResetKeepsUnflushedSlots(t *testing.T) {
	s := New(Config{Cap: 2, FlushBatch: 64, FlushEvery: time.Hour, Logger: quiet})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := s.Offer(ctx, search.Result{Seed: int64(i)}); err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
	}
	// Wait until the flusher holds both results in its pending batch.
	deadline := time.Now().Add(2 * time.Second)
	for s.Stats().QueueDepth > 0 {
		if time.Now().After(deadline) {
			t.Fatalf("queue never drained")
		}
		time.Sleep(time.Millisecond)
	}

	s.Reset()
	if err := s.Offer(ctx, search.Result{Seed: 9}); !errors.Is(err, search.ErrCapReached) {
		t.Fatalf("unflushed results must hold the cap after reset, got %v", err)
	}
	_ = s.Close()
	if got := len(s.Results()); got != 2 {
		t.Fatalf("results: got %d want 2", got)
	}
}

func TestSinkResetFreesFlushedSlots(t *testing.T) {
	st := &memStore{}
	s := New(Config{Cap: 2, FlushBatch: 2, Stores: []Store{st}, Logger: quiet})
	defer s.Close()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := s.Offer(ctx, search.Result{Seed: int64(i)}); err != nil {
			t.Fatalf("offer %d: %v", i, err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for st.len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("batch never flushed")
		}
		time.Sleep(time.Millisecond)
	}

	s.Reset()
	if s.Full() || len(s.Results()) != 0 {
		t.Fatalf("reset should clear a flushed run: full=%v results=%d", s.Full(), len(s.Results()))
	}
	for i := 0; i < 2; i++ {
		if err := s.Offer(ctx, search.Result{Seed: int64(10 + i)}); err != nil {
			t.Fatalf("offer after reset %d: %v", i, err)
		}
	}
}

func TestSinkBackpressure(t *testing.T) {
	gate := &gateStore{entered: make(chan struct{}), release: make(chan struct{})}
	s := New(Config{QueueSize: 1, FlushBatch: 1, OfferTimeout: 20 * time.Millisecond, Stores: []Store{gate}, Logger: quiet})
	ctx := context.Background()

	if err := s.Offer(ctx, search.Result{Seed: 1}); err != nil {
		t.Fatalf("offer 1: %v", err)
	}
	select {
	case <-gate.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("flusher never reached the store")
	}
	if err := s.Offer(ctx, search.Result{Seed: 2}); err != nil {
		t.Fatalf("offer 2: %v", err)
	}
	start := time.Now()
	err := s.Offer(ctx, search.Result{Seed: 3})
	if !errors.Is(err, search.ErrBackpressure) {
		t.Fatalf("offer 3: expected ErrBackpressure, got %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatalf("offer gave up before its timeout")
	}
	st := s.Stats()
	if st.Dropped != 1 || st.Accepted != 2 {
		t.Fatalf("stats: %+v", st)
	}

	close(gate.release)
	s.Close()
	if got := len(s.Results()); got != 2 {
		t.Fatalf("results after close: %d", got)
	}
}

func TestSinkBatchesBySize(t *testing.T) {
	mem := &memStore{}
	s := New(Config{FlushBatch: 4, FlushEvery: time.Hour, Stores: []Store{mem}, Logger: quiet})
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		if err := s.Offer(ctx, search.Result{Seed: int64(i)}); err != nil {
			t.Fatalf("offer: %v", err)
		}
	}
	next := int64(0)
	for b := 0; b < 2; b++ {
		select {
		case batch := <-s.Batches():
			if len(batch) != 4 {
				t.Fatalf("batch %d size %d", b, len(batch))
			}
			for _, r := range batch {
				if r.Seed != next {
					t.Fatalf("batch %d out of order: %d want %d", b, r.Seed, next)
				}
				next++
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("batch %d not flushed", b)
		}
	}
	s.Close()
	if mem.len() != 8 {
		t.Fatalf("store got %d results", mem.len())
	}
}

func TestSinkFlushesOnInterval(t *testing.T) {
	s := New(Config{FlushBatch: 100, FlushEvery: 20 * time.Millisecond, Logger: quiet})
	defer s.Close()
	if err := s.Offer(context.Background(), search.Result{Seed: 42}); err != nil {
		t.Fatalf("offer: %v", err)
	}
	select {
	case batch := <-s.Batches():
		if len(batch) != 1 || batch[0].Seed != 42 {
			t.Fatalf("batch: %+v", batch)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("interval flush never happened")
	}
}

func TestSinkCloseDrains(t *testing.T) {
	mem := &memStore{}
	s := New(Config{FlushBatch: 100, FlushEvery: time.Hour, Stores: []Store{mem}, Logger: quiet})
	for i := 0; i < 3; i++ {
		_ = s.Offer(context.Background(), search.Result{Seed: int64(i)})
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(s.Results()) != 3 || mem.len() != 3 {
		t.Fatalf("close did not drain: results=%d store=%d", len(s.Results()), mem.len())
	}
	if err := s.Offer(context.Background(), search.Result{Seed: 9}); !errors.Is(err, ErrClosed) {
		t.Fatalf("offer after close: %v", err)
	}
	_ = s.Close()
}

type matchAll struct{}

func (matchAll) Kind() condition.Kind     { return "all" }
func (matchAll) Record() condition.Record { return condition.Record{Kind: "all"} }
func (matchAll) Evaluate(ctx context.Context, sess *store.Session) (bool, error) {
	return true, nil
}

func TestSearchStopsOnceAtCap(t *testing.T) {
	s := New(Config{Cap: 1, Logger: quiet})
	gen := store.NewEngine(oracle.NewSimplex(1), store.DefaultConfig())
	e := search.NewEngine(gen, search.Options{Sink: s, Logger: quiet, MaxWorkers: 4})

	job := search.Job{
		Domain:     search.Domain{Mode: search.SeedList, Seeds: []int64{10, 11}},
		Workers:    2,
		Conditions: []condition.Condition{matchAll{}},
	}
	if _, err := e.Start(job); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sum := e.Wait()
	if sum.Reason != search.ReasonResultCap {
		t.Fatalf("reason: %s", sum.Reason)
	}
	if sum.Progress.Accepted != 1 {
		t.Fatalf("accepted: %d", sum.Progress.Accepted)
	}
	s.Close()
	if got := len(s.Results()); got != 1 {
		t.Fatalf("sink holds %d results", got)
	}
}
