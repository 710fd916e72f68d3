// Package search runs seed searches: it partitions a seed domain across a
// fixed worker pool, evaluates conditions per seed and hands matches to a
// result sink.
package search

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"seedcraft.ai/internal/search/condition"
	"seedcraft.ai/internal/terrain/store"
)

var (
	// ErrInvalidJob wraps every job validation failure.
	ErrInvalidJob = errors.New("invalid search job")
	// ErrBusy is returned by Start while a run is active.
	ErrBusy = errors.New("search already running")

	// ErrBackpressure is returned by a sink whose queue stayed full for the
	// whole offer timeout. The result is dropped.
	ErrBackpressure = errors.New("result sink backpressure")
	// ErrCapReached is returned by a sink that has accepted its maximum.
	ErrCapReached = errors.New("result cap reached")
)

// Job is an immutable search request.
type Job struct {
	ID         string
	Domain     Domain
	Workers    int
	Conditions []condition.Condition
}

// DefaultMaxWorkers bounds Job.Workers when the engine has no explicit cap:
// one worker per schedulable CPU.
func DefaultMaxWorkers() int { return runtime.GOMAXPROCS(0) }

// Validate checks the job against a worker cap and the highest stage the
// generation engine supports.
func (j Job) Validate(maxWorkers int, maxStage store.Stage) error {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers()
	}
	switch {
	case j.Workers < 1:
		return fmt.Errorf("%w: worker count %d < 1", ErrInvalidJob, j.Workers)
	case j.Workers > maxWorkers:
		return fmt.Errorf("%w: worker count %d exceeds %d", ErrInvalidJob, j.Workers, maxWorkers)
	case len(j.Conditions) == 0:
		return fmt.Errorf("%w: no conditions", ErrInvalidJob)
	case j.Domain.Mode > SeedList:
		return fmt.Errorf("%w: unknown mode %d", ErrInvalidJob, j.Domain.Mode)
	case j.Domain.Mode == SeedList && len(j.Domain.Seeds) == 0:
		return fmt.Errorf("%w: seed list is empty", ErrInvalidJob)
	}
	if need := condition.MaxStage(j.Conditions); need > maxStage {
		return fmt.Errorf("%w: conditions need stage %s, engine supports %s", ErrInvalidJob, need, maxStage)
	}
	return nil
}

// Result is one matched seed. Annotation starts empty and is edited later.
type Result struct {
	RunID      string    `json:"run_id"`
	Seed       int64     `json:"seed"`
	Annotation string    `json:"annotation"`
	FoundAt    time.Time `json:"found_at"`
}

// StopReason tells why a run ended.
type StopReason string

const (
	ReasonUser      StopReason = "user"
	ReasonResultCap StopReason = "result_cap"
	ReasonExhausted StopReason = "exhausted"
)

// Progress is a snapshot of a run's counters.
type Progress struct {
	Processed uint64 `json:"processed"`
	Matches   uint64 `json:"matches"`
	Accepted  uint64 `json:"accepted"`
	Dropped   uint64 `json:"dropped"`
	Failures  uint64 `json:"failures"`
	LastSeed  int64  `json:"last_seed"`
}

// Summary describes a finished run.
type Summary struct {
	RunID       string     `json:"run_id"`
	JobID       string     `json:"job_id"`
	Reason      StopReason `json:"reason"`
	Progress    Progress   `json:"progress"`
	ResumeStart int64      `json:"resume_start"`
	StartedAt   time.Time  `json:"started_at"`
	StoppedAt   time.Time  `json:"stopped_at"`
}

// Checkpoint is the best-effort resume point saved when a run stops. Under
// concurrency LastProcessed is whichever worker wrote last, so resuming from
// ResumeStart may skip or repeat seeds.
type Checkpoint struct {
	RunID         string     `json:"run_id"`
	JobID         string     `json:"job_id"`
	Mode          Mode       `json:"mode"`
	Start         int64      `json:"start"`
	FixedBits     int64      `json:"fixed_bits"`
	LastProcessed int64      `json:"last_processed"`
	ResumeStart   int64      `json:"resume_start"`
	Processed     uint64     `json:"processed"`
	Reason        StopReason `json:"reason"`
	SavedAt       time.Time  `json:"saved_at"`
}

// Resume returns j restarted from the checkpoint. Only arithmetic runs of the
// same mode and fixed bits can resume; a bounded count shrinks by the seeds
// already processed.
func (cp Checkpoint) Resume(j Job) (Job, error) {
	d := j.Domain
	switch {
	case d.Mode == SeedList:
		return j, fmt.Errorf("%w: seed list runs cannot resume", ErrInvalidJob)
	case cp.Mode != d.Mode:
		return j, fmt.Errorf("%w: checkpoint mode %s does not match job mode %s", ErrInvalidJob, cp.Mode, d.Mode)
	case d.Mode != FullRange && uint64(cp.FixedBits)&d.Mode.FixedMask() != uint64(d.FixedBits)&d.Mode.FixedMask():
		return j, fmt.Errorf("%w: checkpoint fixed bits differ", ErrInvalidJob)
	}
	d.Start = cp.ResumeStart
	if d.Count > 0 {
		if cp.Processed >= d.Count {
			return j, fmt.Errorf("%w: checkpointed run already covered %d seeds", ErrInvalidJob, d.Count)
		}
		d.Count -= cp.Processed
	}
	j.Domain = d
	return j, nil
}
