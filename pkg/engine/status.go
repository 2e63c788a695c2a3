package engine

import (
	"fmt"

	"github.com/planesync/planesync/pkg/stores"
)

// batchTransitions lists the statuses each status may move to. Cleanup
// re-enters from any finished status; RUNNING may only move to the cleanup
// statuses when cleanup is forced on an orphaned batch.
var batchTransitions = map[stores.BatchStatus][]stores.BatchStatus{
	stores.BatchStatusRunning: {
		stores.BatchStatusCompleted,
		stores.BatchStatusFailed,
		stores.BatchStatusPartialDeleted,
		stores.BatchStatusDeleted,
	},
	stores.BatchStatusCompleted: {
		stores.BatchStatusPartialDeleted,
		stores.BatchStatusDeleted,
	},
	stores.BatchStatusFailed: {
		stores.BatchStatusPartialDeleted,
		stores.BatchStatusDeleted,
	},
	stores.BatchStatusPartialDeleted: {
		stores.BatchStatusPartialDeleted,
		stores.BatchStatusDeleted,
	},
	stores.BatchStatusDeleted: {},
}

// CanTransition reports whether a batch may move from one status to another.
func CanTransition(from, to stores.BatchStatus) bool {
	for _, allowed := range batchTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// checkTransition returns ErrInvalidTransition when from -> to is not allowed.
func checkTransition(from, to stores.BatchStatus) error {
	if CanTransition(from, to) {
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// CanCleanup reports whether cleanup may start on a batch in status s.
// DELETED batches are accepted and left untouched.
func CanCleanup(s stores.BatchStatus, force bool) bool {
	return s != stores.BatchStatusRunning || force
}
