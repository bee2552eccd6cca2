package decisionstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/meridianlabs/licl/pkg/contracts"
	"github.com/meridianlabs/licl/pkg/pagination"
)

const postgresDDL = `
	CREATE TABLE IF NOT EXISTS decisions (
		internal_id BIGSERIAL PRIMARY KEY,
		org_id TEXT NOT NULL,
		decision_id TEXT NOT NULL,
		learner_reference TEXT NOT NULL,
		decision_type TEXT NOT NULL,
		decided_at TEXT NOT NULL,
		decision_context TEXT NOT NULL,
		state_id TEXT NOT NULL,
		state_version BIGINT NOT NULL,
		policy_version TEXT NOT NULL,
		matched_rule_id TEXT,
		UNIQUE (org_id, decision_id)
	);
	CREATE INDEX IF NOT EXISTS idx_decisions_range
		ON decisions (org_id, learner_reference, decided_at, internal_id);
`

// PostgresStore is the lib/pq-backed Decision Store variant.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open *sql.DB (lib/pq driver) and
// ensures its schema exists.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if _, err := s.db.Exec(postgresDDL); err != nil {
		return nil, fmt.Errorf("decisionstore: migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Save(ctx context.Context, d contracts.Decision) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO decisions (org_id, decision_id, learner_reference, decision_type, decided_at,
			decision_context, state_id, state_version, policy_version, matched_rule_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.OrgID, d.DecisionID, d.LearnerReference, string(d.DecisionType), d.DecidedAt,
		string(d.DecisionContext), d.Trace.StateID, d.Trace.StateVersion, d.Trace.PolicyVersion,
		nullableRuleID(d.Trace.MatchedRuleID))
	if err != nil {
		return fmt.Errorf("decisionstore: save: %w", err)
	}
	return nil
}

func (s *PostgresStore) QueryByRange(ctx context.Context, orgID, learnerRef, from, to, cursor string, pageSize int) ([]contracts.Decision, string, error) {
	afterID, ok := pagination.DecodeCursor(cursor)
	if !ok {
		return nil, "", &InvalidCursorError{}
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT internal_id, org_id, decision_id, learner_reference, decision_type, decided_at,
			decision_context, state_id, state_version, policy_version, matched_rule_id
		FROM decisions
		WHERE org_id = $1 AND learner_reference = $2 AND decided_at >= $3 AND decided_at <= $4
			AND internal_id > $5
		ORDER BY decided_at ASC, internal_id ASC
		LIMIT $6`,
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

func (s *PostgresStore) GetByID(ctx context.Context, orgID, decisionID string) (*contracts.Decision, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT internal_id, org_id, decision_id, learner_reference, decision_type, decided_at,
			decision_context, state_id, state_version, policy_version, matched_rule_id
		FROM decisions
		WHERE org_id = $1 AND decision_id = $2`, orgID, decisionID)

	d, err := scanDecisionRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("decisionstore: get by id: %w", err)
	}
	return d, nil
}
