// Package decisionstore implements the decision store: insert-only
// persistence of immutable Decisions, with the same range-query and
// id-lookup shape as the signal log. No update or delete path exists.
package decisionstore

import (
	"context"

	"github.com/meridianlabs/licl/pkg/contracts"
)

// Store is the stable interface every backend implements.
type Store interface {
	// Save persists a Decision. (org_id, decision_id) is unique; a
	// collision is an infrastructure error (UUIDs make it practically
	// unreachable), not a modeled rejection.
	Save(ctx context.Context, d contracts.Decision) error

	// QueryByRange returns decisions for (orgID, learnerRef) decided
	// within [from, to], ordered decided_at ASC then internal id ASC, one
	// page at a time. nextCursor is "" when there is no further page.
	QueryByRange(ctx context.Context, orgID, learnerRef, from, to, cursor string, pageSize int) (decisions []contracts.Decision, nextCursor string, err error)

	// GetByID returns the Decision for (orgID, decisionID), or nil if none
	// exists.
	GetByID(ctx context.Context, orgID, decisionID string) (*contracts.Decision, error)
}
