package twin

import (
	"errors"
	"fmt"
)

// ErrTrainNotFound indicates an action or query referenced a train the
// live twin does not track.
var ErrTrainNotFound = errors.New("train not found")

// ErrBranchNotFound indicates a branch ID that was never created or was
// already discarded.
var ErrBranchNotFound = errors.New("branch not found")

// StaleStateError is returned when a caller acts on a state version the
// live twin has since moved past. Recoverable: re-fetch a snapshot and
// recompute.
type StaleStateError struct {
	Expected uint64 // version the caller computed against
	Actual   uint64 // current live version
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("stale state: computed against version %d, live twin is at %d", e.Expected, e.Actual)
}

// InfeasibleActionError is returned when applying an action would break
// a hard occupancy or physical constraint. Recoverable: the caller must
// pick a different action.
type InfeasibleActionError struct {
	TrainID    string
	ActionType string
	Reason     string
}

func (e *InfeasibleActionError) Error() string {
	return fmt.Sprintf("infeasible %s for train %s: %s", e.ActionType, e.TrainID, e.Reason)
}
