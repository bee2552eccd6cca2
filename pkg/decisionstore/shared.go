package decisionstore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/meridianlabs/licl/pkg/contracts"
	"github.com/meridianlabs/licl/pkg/pagination"
)

// InvalidCursorError reports a page_token that failed to decode.
type InvalidCursorError struct{}

func (e *InvalidCursorError) Error() string { return contracts.CodeInvalidPageToken }

type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecisions(rows rowsScanner) ([]contracts.Decision, error) {
	var decisions []contracts.Decision
	for rows.Next() {
		d, err := scanDecisionRow(rows)
		if err != nil {
			return nil, err
		}
		decisions = append(decisions, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("decisionstore: rows: %w", err)
	}
	return decisions, nil
}

func scanDecisionRow(row rowScanner) (*contracts.Decision, error) {
	var d contracts.Decision
	var decisionType string
	var decisionContext string
	var matchedRuleID sql.NullString

	if err := row.Scan(&d.InternalID, &d.OrgID, &d.DecisionID, &d.LearnerReference, &decisionType, &d.DecidedAt,
		&decisionContext, &d.Trace.StateID, &d.Trace.StateVersion, &d.Trace.PolicyVersion, &matchedRuleID); err != nil {
		return nil, err
	}
	d.DecisionType = contracts.DecisionType(decisionType)
	d.DecisionContext = json.RawMessage(decisionContext)
	if matchedRuleID.Valid {
		ruleID := matchedRuleID.String
		d.Trace.MatchedRuleID = &ruleID
	}
	return &d, nil
}

func paginate(decisions []contracts.Decision, pageSize int) ([]contracts.Decision, string, error) {
	if len(decisions) <= pageSize {
		return decisions, "", nil
	}
	page := decisions[:pageSize]
	next := pagination.EncodeCursor(page[len(page)-1].InternalID)
	return page, next, nil
}

func nullableRuleID(ruleID *string) any {
	if ruleID == nil {
		return nil
	}
	return *ruleID
}
