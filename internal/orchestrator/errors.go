package orchestrator

import "errors"

// Failure taxonomy for pipeline runs. Sentinels are compared with errors.Is
// so callers can tell a skipped entity from a dead run.
var (
	// ErrDataUnavailable means no demand records survived filtering. Partial
	// misses skip the entity; a total miss aborts the run.
	ErrDataUnavailable = errors.New("demand data unavailable")

	// ErrFitFailure covers non-convergence, singular series, and insufficient
	// history. Non-fatal per entity and model kind.
	ErrFitFailure = errors.New("model fit failed")

	// ErrEvaluationFailure means actual and predicted series had no usable
	// overlap. Non-fatal; the candidate is dropped without a registry entry.
	ErrEvaluationFailure = errors.New("model evaluation failed")

	// ErrRegistryIO means the model catalog could not be read or written.
	// Run-fatal: silent catalog loss corrupts every later best-model lookup.
	ErrRegistryIO = errors.New("model registry unavailable")

	// ErrPersistence means the final forecast write failed. Fatal for the
	// persist step; results of earlier steps are still reported.
	ErrPersistence = errors.New("forecast persistence failed")

	// ErrRunLocked means another orchestrator run holds the single-writer
	// lock.
	ErrRunLocked = errors.New("another forecast run is in progress")
)
