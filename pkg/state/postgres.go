package state

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/meridianlabs/licl/pkg/contracts"
)

const postgresDDL = `
	CREATE TABLE IF NOT EXISTS learner_state (
		internal_id BIGSERIAL PRIMARY KEY,
		org_id TEXT NOT NULL,
		learner_reference TEXT NOT NULL,
		state_id TEXT NOT NULL,
		state_version BIGINT NOT NULL,
		updated_at TEXT NOT NULL,
		state TEXT NOT NULL,
		last_signal_id TEXT NOT NULL,
		last_signal_timestamp TEXT NOT NULL,
		UNIQUE (org_id, learner_reference, state_version)
	);
	CREATE INDEX IF NOT EXISTS idx_learner_state_latest
		ON learner_state (org_id, learner_reference, state_version DESC);

	CREATE TABLE IF NOT EXISTS applied_signals (
		org_id TEXT NOT NULL,
		learner_reference TEXT NOT NULL,
		signal_id TEXT NOT NULL,
		state_version BIGINT NOT NULL,
		applied_at TEXT NOT NULL,
		PRIMARY KEY (org_id, learner_reference, signal_id)
	);
`

// PostgresStore is the lib/pq-backed STATE Engine persistence variant.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open *sql.DB (lib/pq driver) and
// ensures its schema exists.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if _, err := s.db.Exec(postgresDDL); err != nil {
		return nil, fmt.Errorf("state: migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) CurrentState(ctx context.Context, orgID, learnerRef string) (*contracts.LearnerState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT org_id, learner_reference, state_id, state_version, updated_at, state,
			last_signal_id, last_signal_timestamp
		FROM learner_state
		WHERE org_id = $1 AND learner_reference = $2
		ORDER BY state_version DESC
		LIMIT 1`, orgID, learnerRef)

	var ls contracts.LearnerState
	var stateJSON string
	err := row.Scan(&ls.OrgID, &ls.LearnerReference, &ls.StateID, &ls.StateVersion, &ls.UpdatedAt, &stateJSON,
		&ls.Provenance.LastSignalID, &ls.Provenance.LastSignalTimestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: current state: %w", err)
	}
	ls.State = []byte(stateJSON)
	return &ls, nil
}

func (s *PostgresStore) AppliedSignalIDs(ctx context.Context, orgID, learnerRef string, signalIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(signalIDs))
	if len(signalIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(signalIDs))
	args := make([]any, 0, len(signalIDs)+2)
	args = append(args, orgID, learnerRef)
	for i, id := range signalIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT signal_id FROM applied_signals
		WHERE org_id = $1 AND learner_reference = $2 AND signal_id IN (%s)`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("state: applied signal ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("state: applied signal ids scan: %w", err)
		}
		result[id] = true
	}
	return result, rows.Err()
}

func (s *PostgresStore) Commit(ctx context.Context, newState contracts.LearnerState, appliedSignalIDs []string, appliedAt string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("state: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO learner_state (org_id, learner_reference, state_id, state_version, updated_at, state,
			last_signal_id, last_signal_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		newState.OrgID, newState.LearnerReference, newState.StateID, newState.StateVersion, newState.UpdatedAt,
		string(newState.State), newState.Provenance.LastSignalID, newState.Provenance.LastSignalTimestamp)
	if err != nil {
		if isUniqueConstraintViolation(err) {
			return ErrVersionConflict
		}
		return fmt.Errorf("state: insert learner_state: %w", err)
	}

	for _, signalID := range appliedSignalIDs {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO applied_signals (org_id, learner_reference, signal_id, state_version, applied_at)
			VALUES ($1, $2, $3, $4, $5)`,
			newState.OrgID, newState.LearnerReference, signalID, newState.StateVersion, appliedAt)
		if err != nil {
			return fmt.Errorf("state: insert applied_signal %s: %w", signalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("state: commit tx: %w", err)
	}
	return nil
}
