package store

import (
	"errors"
	"fmt"
)

// ErrUnsupportedStage matches any *UnsupportedStageError.
var ErrUnsupportedStage = errors.New("unsupported stage")

// UnsupportedStageError is returned when a caller asks for a stage above the
// engine's configured maximum. It is a programming error and never retried.
type UnsupportedStageError struct {
	Stage Stage
	Max   Stage
}

func (e *UnsupportedStageError) Error() string {
	return fmt.Sprintf("stage %s exceeds configured maximum %s", e.Stage, e.Max)
}

func (e *UnsupportedStageError) Is(target error) bool { return target == ErrUnsupportedStage }

// GenerationFailure reports that the oracle could not produce data for a cell.
type GenerationFailure struct {
	Seed    int64
	X, Y, Z int
	Err     error
}

func (e *GenerationFailure) Error() string {
	return fmt.Sprintf("generation failed for seed %d at (%d,%d,%d): %v", e.Seed, e.X, e.Y, e.Z, e.Err)
}

func (e *GenerationFailure) Unwrap() error { return e.Err }
