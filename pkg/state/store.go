// Package state implements the state engine: the deep-merge fold that
// derives a new, versioned LearnerState from a batch of accepted signals,
// with per-learner idempotency and optimistic-concurrency retry.
package state

import (
	"context"
	"errors"

	"github.com/meridianlabs/licl/pkg/contracts"
)

// ErrVersionConflict is returned by Store.Commit when a concurrent writer
// already inserted the state_version this call targeted. The engine owns
// the single retry; the store only needs to detect the race, not resolve
// it.
var ErrVersionConflict = errors.New("state: version conflict")

// Store is the persistence boundary for LearnerState and AppliedSignal
// rows. Every backend enforces the UNIQUE(org_id, learner_reference,
// state_version) constraint that makes Commit's conflict detection
// possible.
type Store interface {
	// CurrentState returns the latest LearnerState for (orgID, learnerRef),
	// or nil if none exists yet (the implicit v0 state).
	CurrentState(ctx context.Context, orgID, learnerRef string) (*contracts.LearnerState, error)

	// AppliedSignalIDs returns the subset of signalIDs already recorded as
	// applied for (orgID, learnerRef), regardless of which state_version
	// they were applied at.
	AppliedSignalIDs(ctx context.Context, orgID, learnerRef string, signalIDs []string) (map[string]bool, error)

	// Commit atomically inserts newState and one AppliedSignal row per
	// appliedSignalID, appliedAt, all within a single transaction. Returns
	// ErrVersionConflict if another writer already committed
	// newState.StateVersion for this (org, learner) first.
	Commit(ctx context.Context, newState contracts.LearnerState, appliedSignalIDs []string, appliedAt string) error
}
