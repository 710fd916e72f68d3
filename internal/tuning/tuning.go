// Package tuning loads the engine and search tuning file.
package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"seedcraft.ai/internal/search"
	"seedcraft.ai/internal/search/sink"
	"seedcraft.ai/internal/terrain/store"
)

type Tuning struct {
	Generation Generation `yaml:"generation"`
	Search     Search     `yaml:"search"`
	Sink       Sink       `yaml:"sink"`
	Index      Index      `yaml:"index"`
}

type Generation struct {
	MinY             int    `yaml:"min_y"`
	MaxY             int    `yaml:"max_y"`
	CacheTTLMs       int    `yaml:"cache_ttl_ms"` // negative disables expiry
	MaxStage         string `yaml:"max_stage"`
	DependencyRadius int    `yaml:"dependency_radius"`
	OracleSeedCache  int    `yaml:"oracle_seed_cache"`
}

type Search struct {
	DefaultWorkers  int `yaml:"default_workers"`
	MaxWorkers      int `yaml:"max_workers"`
	ProgressEveryMs int `yaml:"progress_every_ms"`
	EventBuffer     int `yaml:"event_buffer"`
}

type Sink struct {
	ResultCap      int `yaml:"result_cap"`
	QueueCapacity  int `yaml:"queue_capacity"`
	OfferTimeoutMs int `yaml:"offer_timeout_ms"`
	FlushBatch     int `yaml:"flush_batch"`
	FlushEveryMs   int `yaml:"flush_every_ms"`
}

type Index struct {
	SQLite         bool   `yaml:"sqlite"`
	RemoteEndpoint string `yaml:"remote_endpoint,omitempty"`
	RemoteToken    string `yaml:"remote_token,omitempty"`
}

func Defaults() Tuning {
	return Tuning{
		Generation: Generation{
			MinY:             -64,
			MaxY:             320,
			CacheTTLMs:       30_000,
			MaxStage:         store.Features.String(),
			DependencyRadius: 8,
			OracleSeedCache:  16,
		},
		Search: Search{
			DefaultWorkers:  4,
			ProgressEveryMs: 250,
			EventBuffer:     1024,
		},
		Sink: Sink{
			ResultCap:      1000,
			QueueCapacity:  256,
			OfferTimeoutMs: 50,
			FlushBatch:     64,
			FlushEveryMs:   500,
		},
		Index: Index{SQLite: true},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

// Normalize fills zero values with defaults.
func (t *Tuning) Normalize() {
	d := Defaults()
	g := &t.Generation
	if g.MaxY == 0 && g.MinY == 0 {
		g.MinY, g.MaxY = d.Generation.MinY, d.Generation.MaxY
	}
	if g.CacheTTLMs == 0 {
		g.CacheTTLMs = d.Generation.CacheTTLMs
	}
	g.MaxStage = strings.ToUpper(strings.TrimSpace(g.MaxStage))
	if g.MaxStage == "" {
		g.MaxStage = d.Generation.MaxStage
	}
	if g.DependencyRadius <= 0 {
		g.DependencyRadius = d.Generation.DependencyRadius
	}
	if g.OracleSeedCache <= 0 {
		g.OracleSeedCache = d.Generation.OracleSeedCache
	}

	s := &t.Search
	if s.DefaultWorkers <= 0 {
		s.DefaultWorkers = d.Search.DefaultWorkers
	}
	if s.ProgressEveryMs <= 0 {
		s.ProgressEveryMs = d.Search.ProgressEveryMs
	}
	if s.EventBuffer <= 0 {
		s.EventBuffer = d.Search.EventBuffer
	}
	if s.MaxWorkers == 0 && s.DefaultWorkers > t.WorkerLimit() {
		s.DefaultWorkers = t.WorkerLimit()
	}
	// Every live worker holds one seed's oracle tables.
	if g.OracleSeedCache < t.WorkerLimit() {
		g.OracleSeedCache = t.WorkerLimit()
	}

	k := &t.Sink
	if k.ResultCap < 0 {
		k.ResultCap = 0
	}
	if k.QueueCapacity <= 0 {
		k.QueueCapacity = d.Sink.QueueCapacity
	}
	if k.OfferTimeoutMs <= 0 {
		k.OfferTimeoutMs = d.Sink.OfferTimeoutMs
	}
	if k.FlushBatch <= 0 {
		k.FlushBatch = d.Sink.FlushBatch
	}
	if k.FlushEveryMs <= 0 {
		k.FlushEveryMs = d.Sink.FlushEveryMs
	}
	t.Index.RemoteEndpoint = strings.TrimSpace(t.Index.RemoteEndpoint)
}

func (t Tuning) Validate() error {
	g := t.Generation
	if g.MaxY <= g.MinY {
		return fmt.Errorf("generation: max_y %d must exceed min_y %d", g.MaxY, g.MinY)
	}
	if (g.MaxY-g.MinY)%store.TileSize != 0 {
		return fmt.Errorf("generation: height %d is not a multiple of %d", g.MaxY-g.MinY, store.TileSize)
	}
	st, err := store.ParseStage(g.MaxStage)
	if err != nil {
		return fmt.Errorf("generation: %w", err)
	}
	if st == store.Empty {
		return fmt.Errorf("generation: max_stage must be above EMPTY")
	}
	if g.DependencyRadius > 32 {
		return fmt.Errorf("generation: dependency_radius %d exceeds 32", g.DependencyRadius)
	}
	if t.Search.MaxWorkers < 0 {
		return fmt.Errorf("search: max_workers %d < 0", t.Search.MaxWorkers)
	}
	if t.Search.MaxWorkers > 0 && t.Search.DefaultWorkers > t.Search.MaxWorkers {
		return fmt.Errorf("search: default_workers %d exceeds max_workers %d", t.Search.DefaultWorkers, t.Search.MaxWorkers)
	}
	return nil
}

// StoreConfig is the generation engine configuration. Validate must have
// passed.
func (t Tuning) StoreConfig() store.Config {
	g := t.Generation
	st, _ := store.ParseStage(g.MaxStage)
	ttl := time.Duration(g.CacheTTLMs) * time.Millisecond
	return store.Config{
		MinY:     g.MinY,
		MaxY:     g.MaxY,
		TTL:      ttl,
		MaxStage: st,
		Radius:   g.DependencyRadius,
	}
}

func (t Tuning) SinkConfig() sink.Config {
	k := t.Sink
	return sink.Config{
		Cap:          k.ResultCap,
		QueueSize:    k.QueueCapacity,
		OfferTimeout: time.Duration(k.OfferTimeoutMs) * time.Millisecond,
		FlushBatch:   k.FlushBatch,
		FlushEvery:   time.Duration(k.FlushEveryMs) * time.Millisecond,
	}
}

// WorkerLimit is the most workers a job may use.
func (t Tuning) WorkerLimit() int {
	if t.Search.MaxWorkers > 0 {
		return t.Search.MaxWorkers
	}
	return search.DefaultMaxWorkers()
}

func (t Tuning) SearchOptions() search.Options {
	return search.Options{
		MaxWorkers:    t.Search.MaxWorkers,
		ProgressEvery: time.Duration(t.Search.ProgressEveryMs) * time.Millisecond,
		EventBuffer:   t.Search.EventBuffer,
	}
}
