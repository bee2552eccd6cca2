package decisionstore

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/licl/pkg/contracts"
)

func openMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec(regexp.QuoteMeta(postgresDDL)).WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewPostgresStore(db)
	require.NoError(t, err)
	return s, mock
}

func TestPostgresStoreSave(t *testing.T) {
	s, mock := openMockPostgresStore(t)
	ruleID := "rule-reinforce"
	d := contracts.Decision{
		OrgID: "org-a", DecisionID: "dec-1", LearnerReference: "learner-1",
		DecisionType: contracts.DecisionReinforce, DecidedAt: "2026-01-01T00:00:00Z",
		DecisionContext: json.RawMessage(`{}`),
		Trace: contracts.Trace{
			StateID: "org-a:learner-1:v1", StateVersion: 1, PolicyVersion: "2.0.0", MatchedRuleID: &ruleID,
		},
	}

	mock.ExpectExec(`INSERT INTO decisions`).
		WithArgs("org-a", "dec-1", "learner-1", "reinforce", "2026-01-01T00:00:00Z",
			"{}", "org-a:learner-1:v1", int64(1), "2.0.0", "rule-reinforce").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.Save(context.Background(), d))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetByIDMissingReturnsNil(t *testing.T) {
	s, mock := openMockPostgresStore(t)

	mock.ExpectQuery(`SELECT internal_id, org_id, decision_id`).
		WithArgs("org-a", "no-such-decision").
		WillReturnRows(sqlmock.NewRows([]string{
			"internal_id", "org_id", "decision_id", "learner_reference", "decision_type", "decided_at",
			"decision_context", "state_id", "state_version", "policy_version", "matched_rule_id",
		}))

	got, err := s.GetByID(context.Background(), "org-a", "no-such-decision")
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreQueryByRangeInvalidCursor(t *testing.T) {
	s, _ := openMockPostgresStore(t)
	_, _, err := s.QueryByRange(context.Background(), "org-a", "learner-1", "2026-01-01T00:00:00Z", "2026-01-02T00:00:00Z", "not-a-valid-cursor!!", 10)
	require.Error(t, err)

	var invalid *InvalidCursorError
	require.ErrorAs(t, err, &invalid)
}
