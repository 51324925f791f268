package domain

import "errors"

// Validation and state errors surfaced synchronously to callers. All are
// local and non-retryable.
var (
	ErrInvalidLocation      = errors.New("invalid location coordinates")
	ErrTripNotFound         = errors.New("trip not found")
	ErrCheckpointNotFound   = errors.New("checkpoint not found")
	ErrInvalidTransition    = errors.New("invalid checkpoint transition")
	ErrTooFarFromCheckpoint = errors.New("position too far from checkpoint")
	ErrEmptyBatch           = errors.New("empty location batch")
)
