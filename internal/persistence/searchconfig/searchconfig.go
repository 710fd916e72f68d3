// Package searchconfig reads and writes search configuration files: JSON
// documents holding the job-level fields and the flat condition records.
package searchconfig

import (
	"bytes"
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"seedcraft.ai/internal/search"
	"seedcraft.ai/internal/search/condition"
	"seedcraft.ai/internal/seedfile"
)

// DefaultName is the file LoadDefault and SaveDefault use inside a data dir.
const DefaultName = "default_search.json"

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("searchconfig.schema.json", schemaJSON)
	})
	return schema, schemaErr
}

type Config struct {
	StartSeed    int64              `json:"start_seed"`
	SearchMode   int                `json:"search_mode"`
	FixedBits    string             `json:"fixed_bits"`
	SeedFilePath string             `json:"seed_file_path,omitempty"`
	ThreadCount  int                `json:"thread_count"`
	Count        uint64             `json:"count,omitempty"`
	Conditions   []condition.Record `json:"conditions"`
}

// Default is the config offered when no default file has been saved.
func Default() Config {
	return Config{
		SearchMode:  int(search.FullRange),
		FixedBits:   "0",
		ThreadCount: min(4, search.DefaultMaxWorkers()),
		Conditions: []condition.Record{{
			Kind:       condition.KindHeight,
			MinX:       -8,
			MaxX:       8,
			MinZ:       -8,
			MaxZ:       8,
			MinHeight:  90,
			MaxHeight:  256,
			Combinator: condition.Any.String(),
		}},
	}
}

// Parse validates raw against the schema and decodes it.
func Parse(raw []byte) (Config, error) {
	s, err := compiled()
	if err != nil {
		return Config{}, fmt.Errorf("compile schema: %w", err)
	}
	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return Config{}, fmt.Errorf("parse: %w", err)
	}
	if err := s.Validate(doc); err != nil {
		return Config{}, fmt.Errorf("validate: %w", err)
	}
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	return c, nil
}

func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	c, err := Parse(raw)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return c, nil
}

func Save(path string, c Config) error {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if _, err := Parse(b); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// LoadDefault returns the saved default config in dataDir, or Default when
// none was saved.
func LoadDefault(dataDir string) (Config, error) {
	c, err := Load(filepath.Join(dataDir, DefaultName))
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return c, err
}

func SaveDefault(dataDir string, c Config) error {
	return Save(filepath.Join(dataDir, DefaultName), c)
}

// ParseFixedBits accepts decimal or 0x-prefixed hex. Blank is zero.
func ParseFixedBits(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if v, err := strconv.ParseInt(s, 0, 64); err == nil {
		return v, nil
	}
	// Full 64-bit hex patterns do not fit int64.
	u, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("fixed bits %q: %w", s, err)
	}
	return int64(u), nil
}

// ToJob builds a job. Seed lists are loaded through seedfile.Fetch with
// cacheDir holding downloaded copies.
func (c Config) ToJob(ctx context.Context, id, cacheDir string) (search.Job, error) {
	mode := search.Mode(c.SearchMode)
	if mode > search.SeedList || c.SearchMode < 0 {
		return search.Job{}, fmt.Errorf("%w: unknown search mode %d", search.ErrInvalidJob, c.SearchMode)
	}
	fixed, err := ParseFixedBits(c.FixedBits)
	if err != nil {
		return search.Job{}, fmt.Errorf("%w: %v", search.ErrInvalidJob, err)
	}
	conds, err := condition.FromRecords(c.Conditions)
	if err != nil {
		return search.Job{}, fmt.Errorf("%w: %v", search.ErrInvalidJob, err)
	}
	dom := search.Domain{Mode: mode, Start: c.StartSeed, FixedBits: fixed, Count: c.Count}
	if mode == search.SeedList {
		if strings.TrimSpace(c.SeedFilePath) == "" {
			return search.Job{}, fmt.Errorf("%w: seed list mode without a seed file", search.ErrInvalidJob)
		}
		seeds, err := seedfile.Fetch(ctx, c.SeedFilePath, cacheDir)
		if err != nil {
			return search.Job{}, fmt.Errorf("%w: %v", search.ErrInvalidJob, err)
		}
		dom.Seeds = seeds
	}
	return search.Job{ID: id, Domain: dom, Workers: c.ThreadCount, Conditions: conds}, nil
}

// FromJob is the inverse of ToJob. The seed file path is not part of a job
// and must be set by the caller for list mode.
func FromJob(j search.Job) Config {
	return Config{
		StartSeed:   j.Domain.Start,
		SearchMode:  int(j.Domain.Mode),
		FixedBits:   strconv.FormatInt(j.Domain.FixedBits, 10),
		ThreadCount: j.Workers,
		Count:       j.Domain.Count,
		Conditions:  condition.ToRecords(j.Conditions),
	}
}

// JobID identifies the search a config describes independently of where it
// starts and how many workers run it, so a resumed run finds the checkpoint
// of the run it continues.
func (c Config) JobID() string {
	k := c
	k.StartSeed = 0
	k.Count = 0
	k.ThreadCount = 0
	b, _ := json.Marshal(k)
	sum := sha256.Sum256(b)
	return "job-" + hex.EncodeToString(sum[:6])
}
