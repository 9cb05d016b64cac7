package experiment

import (
	"errors"
	"fmt"

	"EconLab/internal/store"
)

// Domain errors. All of them are recoverable at the presentation layer;
// ErrStoreUnavailable is the one that asks the participant to retry rather
// than telling them what they did wrong.
var (
	ErrInvalidInvestment   = errors.New("investment must be between 0 and 100")
	ErrOutOfOrder          = errors.New("round submitted out of order")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionCompleted    = errors.New("session already completed")
	ErrDuplicateSubmission = errors.New("round already recorded")
	ErrResultNotReady      = errors.New("result not ready")
	ErrRoundNotRecorded    = errors.New("round not recorded")
	ErrExperimentClosed    = errors.New("experiment is closed")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// storeErr maps store sentinels onto domain errors and classifies anything
// else as a store outage.
func storeErr(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrSessionNotFound
	case errors.Is(err, store.ErrConflict):
		return ErrDuplicateSubmission
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
