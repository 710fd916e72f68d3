// Package sink is the bounded, batching destination for search results.
package sink

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"seedcraft.ai/internal/search"
)

// ErrClosed is returned by Offer after Close.
var ErrClosed = errors.New("result sink closed")

// Store persists flushed batches.
type Store interface {
	AppendResults(ctx context.Context, rs []search.Result) error
}

type Config struct {
	// Cap is the maximum number of accepted results. Zero means unlimited.
	Cap          int
	QueueSize    int
	OfferTimeout time.Duration
	FlushBatch   int
	FlushEvery   time.Duration
	Stores       []Store
	Logger       *log.Logger
}

func (c *Config) normalize() {
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.OfferTimeout <= 0 {
		c.OfferTimeout = 50 * time.Millisecond
	}
	if c.FlushBatch <= 0 {
		c.FlushBatch = 64
	}
	if c.FlushEvery <= 0 {
		c.FlushEvery = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = log.New(os.Stdout, "[sink] ", log.LstdFlags|log.Lmicroseconds)
	}
}

// Stats are the sink's lifetime counters.
type Stats struct {
	Accepted    int64  `json:"accepted"`
	Dropped     uint64 `json:"dropped"`
	Flushed     uint64 `json:"flushed"`
	StoreErrors uint64 `json:"store_errors"`
	QueueDepth  int    `json:"queue_depth"`
	QueueCap    int    `json:"queue_cap"`
}

// Sink accepts results from many goroutines into a bounded queue. A single
// flusher drains the queue in batches into every Store and onto Batches.
// Every accepted result holds one slot of Cap from the moment it is reserved;
// a result that times out gives its slot back.
type Sink struct {
	cfg Config

	q       chan search.Result
	batches chan []search.Result

	sendMu sync.RWMutex // guards q against close while offering
	closed atomic.Bool
	once   sync.Once
	wg     sync.WaitGroup

	reserved    atomic.Int64
	dropped     atomic.Uint64
	flushed     atomic.Uint64
	storeErrors atomic.Uint64

	mu      sync.Mutex
	results []search.Result
}

func New(cfg Config) *Sink {
	cfg.normalize()
	s := &Sink{
		cfg:     cfg,
		q:       make(chan search.Result, cfg.QueueSize),
		batches: make(chan []search.Result, 64),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s
}

func (s *Sink) reserve() bool {
	for {
		n := s.reserved.Load()
		if s.cfg.Cap > 0 && n >= int64(s.cfg.Cap) {
			return false
		}
		if s.reserved.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Offer enqueues r, waiting at most the offer timeout for queue space. It
// returns search.ErrCapReached once Cap results were accepted and
// search.ErrBackpressure when the queue stayed full.
func (s *Sink) Offer(ctx context.Context, r search.Result) error {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	if s.closed.Load() {
		return ErrClosed
	}
	if !s.reserve() {
		return search.ErrCapReached
	}

	select {
	case s.q <- r:
		return nil
	default:
	}
	t := time.NewTimer(s.cfg.OfferTimeout)
	defer t.Stop()
	select {
	case s.q <- r:
		return nil
	case <-t.C:
		s.reserved.Add(-1)
		s.dropped.Add(1)
		return search.ErrBackpressure
	case <-ctx.Done():
		s.reserved.Add(-1)
		s.dropped.Add(1)
		return ctx.Err()
	}
}

// Full reports whether Cap results have been accepted.
func (s *Sink) Full() bool {
	return s.cfg.Cap > 0 && s.reserved.Load() >= int64(s.cfg.Cap)
}

// Batches delivers each flushed batch. Sends never block the flusher; a
// reader that falls behind misses batches but Results stays complete.
func (s *Sink) Batches() <-chan []search.Result { return s.batches }

// Results returns every flushed result in flush order.
func (s *Sink) Results() []search.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]search.Result, len(s.results))
	copy(out, s.results)
	return out
}

// Reset forgets flushed results so a new run starts with a fresh cap.
// Results not yet flushed, queued or held in the flusher's batch, keep
// their slots and land in the new run.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	// reserved counts every unflushed slot plus len(s.results).
	s.reserved.Add(-int64(len(s.results)))
	s.results = nil
}

func (s *Sink) Stats() Stats {
	return Stats{
		Accepted:    s.reserved.Load(),
		Dropped:     s.dropped.Load(),
		Flushed:     s.flushed.Load(),
		StoreErrors: s.storeErrors.Load(),
		QueueDepth:  len(s.q),
		QueueCap:    cap(s.q),
	}
}

// Close stops accepting results, flushes what is queued and waits for the
// flusher to exit.
func (s *Sink) Close() error {
	s.once.Do(func() {
		s.sendMu.Lock()
		s.closed.Store(true)
		close(s.q)
		s.sendMu.Unlock()
		s.wg.Wait()
		close(s.batches)
	})
	return nil
}

func (s *Sink) loop() {
	ticker := time.NewTicker(s.cfg.FlushEvery)
	defer ticker.Stop()

	batch := make([]search.Result, 0, s.cfg.FlushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		out := make([]search.Result, len(batch))
		copy(out, batch)
		batch = batch[:0]
		s.flush(out)
	}

	for {
		select {
		case r, ok := <-s.q:
			if !ok {
				flush()
				return
			}
			batch = append(batch, r)
			if len(batch) >= s.cfg.FlushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *Sink) flush(batch []search.Result) {
	s.mu.Lock()
	s.results = append(s.results, batch...)
	s.mu.Unlock()
	s.flushed.Add(uint64(len(batch)))

	for _, st := range s.cfg.Stores {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := st.AppendResults(ctx, batch); err != nil {
			s.storeErrors.Add(1)
			s.cfg.Logger.Printf("store flush failed batch=%d err=%v", len(batch), err)
		}
		cancel()
	}

	select {
	case s.batches <- batch:
	default:
	}
}
