package decisionstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/meridianlabs/licl/pkg/contracts"
	"github.com/meridianlabs/licl/pkg/pagination"
)

const sqliteDDL = `
	CREATE TABLE IF NOT EXISTS decisions (
		internal_id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id TEXT NOT NULL,
		decision_id TEXT NOT NULL,
		learner_reference TEXT NOT NULL,
		decision_type TEXT NOT NULL,
		decided_at TEXT NOT NULL,
		decision_context TEXT NOT NULL,
		state_id TEXT NOT NULL,
		state_version INTEGER NOT NULL,
		policy_version TEXT NOT NULL,
		matched_rule_id TEXT,
		UNIQUE (org_id, decision_id)
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_range
		ON decisions (org_id, learner_reference, decided_at, internal_id);
`

// SQLiteStore is the default Decision Store backend.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an already-open *sql.DB (modernc.org/sqlite driver)
// and ensures its schema exists.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if _, err := s.db.Exec(sqliteDDL); err != nil {
		return nil, fmt.Errorf("decisionstore: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Save(ctx context.Context, d contracts.Decision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (org_id, decision_id, learner_reference, decision_type, decided_at,
			decision_context, state_id, state_version, policy_version, matched_rule_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.OrgID, d.DecisionID, d.LearnerReference, string(d.DecisionType), d.DecidedAt,
		string(d.DecisionContext), d.Trace.StateID, d.Trace.StateVersion, d.Trace.PolicyVersion,
		nullableRuleID(d.Trace.MatchedRuleID))
	if err != nil {
		return fmt.Errorf("decisionstore: save: %w", err)
	}
	return nil
}

func (s *SQLiteStore) QueryByRange(ctx context.Context, orgID, learnerRef, from, to, cursor string, pageSize int) ([]contracts.Decision, string, error) {
	afterID, ok := pagination.DecodeCursor(cursor)
	if !ok {
		return nil, "", &InvalidCursorError{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT internal_id, org_id, decision_id, learner_reference, decision_type, decided_at,
			decision_context, state_id, state_version, policy_version, matched_rule_id
		FROM decisions
		WHERE org_id = ? AND learner_reference = ? AND decided_at >= ? AND decided_at <= ?
			AND internal_id > ?
		ORDER BY decided_at ASC, internal_id ASC
		LIMIT ?`,
		orgID, learnerRef, from, to, afterID, pageSize+1)
	if err != nil {
		return nil, "", fmt.Errorf("decisionstore: query range: %w", err)
	}
	defer rows.Close()

	decisions, err := scanDecisions(rows)
	if err != nil {
		return nil, "", err
	}
	return paginate(decisions, pageSize)
}

func (s *SQLiteStore) GetByID(ctx context.Context, orgID, decisionID string) (*contracts.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT internal_id, org_id, decision_id, learner_reference, decision_type, decided_at,
			decision_context, state_id, state_version, policy_version, matched_rule_id
		FROM decisions
		WHERE org_id = ? AND decision_id = ?`, orgID, decisionID)

	d, err := scanDecisionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decisionstore: get by id: %w", err)
	}
	return d, nil
}
