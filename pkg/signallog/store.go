// Package signallog implements the signal log: an append-only, per-tenant
// ordered store of accepted signals, with keyed, time-range, and id-set
// queries. Records are immutable after insert. Range queries use the
// cursor/page-size helpers in pkg/pagination.
package signallog

import (
	"context"

	"github.com/meridianlabs/licl/pkg/contracts"
)

// GetByIDsError reports the outcome of a tenant-scoped id-set fetch that
// did not return every requested id.
type GetByIDsError struct {
	// Code is contracts.CodeUnknownSignalID or contracts.CodeSignalsNotInOrgScope.
	Code string
}

func (e *GetByIDsError) Error() string { return e.Code }

// Store is the stable interface every backend implements.
type Store interface {
	// Append inserts a new, immutable SignalRecord. Callers own uniqueness
	// of (org_id, signal_id) via the Idempotency Index upstream.
	Append(ctx context.Context, rec contracts.SignalRecord) error

	// QueryByRange returns signals for (orgID, learnerRef) accepted within
	// [from, to], ordered accepted_at ASC then internal id ASC, one page
	// at a time. nextCursor is "" when there is no further page.
	QueryByRange(ctx context.Context, orgID, learnerRef, from, to, cursor string, pageSize int) (records []contracts.SignalRecord, nextCursor string, err error)

	// GetByIDs fetches records for the given signal_ids under orgID. The
	// tenant scope is enforced in the query itself, not by post-filtering:
	// if fewer records come back than ids were requested, a secondary,
	// org-unfiltered existence check distinguishes an id that never
	// existed (CodeUnknownSignalID) from one that exists under a
	// different org (CodeSignalsNotInOrgScope). CodeUnknownSignalID takes
	// precedence when a batch contains both kinds. Records come back
	// ordered accepted_at ASC, id ASC.
	GetByIDs(ctx context.Context, orgID string, signalIDs []string) ([]contracts.SignalRecord, error)
}
