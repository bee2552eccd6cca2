package decision

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/meridianlabs/licl/pkg/contracts"
	"github.com/meridianlabs/licl/pkg/decisionstore"
	"github.com/meridianlabs/licl/pkg/policy"
	"github.com/meridianlabs/licl/pkg/telemetry"
)

func noopTelemetry(t *testing.T) *telemetry.Provider {
	t.Helper()
	tel, err := telemetry.New(context.Background(), &telemetry.Config{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	return tel
}

type fakeStateReader struct {
	state *contracts.LearnerState
}

func (f *fakeStateReader) CurrentState(ctx context.Context, orgID, learnerRef string) (*contracts.LearnerState, error) {
	return f.state, nil
}

func testPolicy(t *testing.T) *policy.Policy {
	t.Helper()
	raw, _ := json.Marshal(contracts.PolicyDefinition{
		PolicyVersion: "2.0.0",
		Rules: []contracts.Rule{
			{
				RuleID: "rule-reinforce",
				Condition: contracts.ConditionNode{All: []contracts.ConditionNode{
					{Field: "stabilityScore", Operator: contracts.OpLt, Value: 0.7},
					{Field: "timeSinceReinforcement", Operator: contracts.OpGt, Value: 86400.0},
				}},
				DecisionType: contracts.DecisionReinforce,
			},
		},
		DefaultDecisionType: contracts.DecisionAdvance,
	})
	p, err := policy.Load(raw)
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func newTestStore(t *testing.T) decisionstore.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := decisionstore.NewSQLiteStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestEvaluateStateRuleFires(t *testing.T) {
	state := &contracts.LearnerState{
		OrgID: "org-a", LearnerReference: "learner-1", StateID: "org-a:learner-1:v1", StateVersion: 1,
		State: json.RawMessage(`{"stabilityScore":0.28,"timeSinceReinforcement":90000}`),
	}
	eng := NewEngine(&fakeStateReader{state: state}, newTestStore(t), testPolicy(t), noopTelemetry(t))
	eng.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	out, err := eng.EvaluateState(context.Background(), Request{
		OrgID: "org-a", LearnerReference: "learner-1", StateID: "org-a:learner-1:v1", StateVersion: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.OK {
		t.Fatalf("expected success, got errors: %+v", out.Errors)
	}
	if out.Result.DecisionType != contracts.DecisionReinforce {
		t.Fatalf("expected reinforce, got %s", out.Result.DecisionType)
	}
	if *out.Result.Trace.MatchedRuleID != "rule-reinforce" {
		t.Fatalf("unexpected matched_rule_id: %v", out.Result.Trace.MatchedRuleID)
	}
	if out.Result.Trace.PolicyVersion != "2.0.0" {
		t.Fatalf("unexpected policy_version: %s", out.Result.Trace.PolicyVersion)
	}
}

func TestEvaluateStateMissingStateRejected(t *testing.T) {
	eng := NewEngine(&fakeStateReader{state: nil}, newTestStore(t), testPolicy(t), noopTelemetry(t))
	out, err := eng.EvaluateState(context.Background(), Request{
		OrgID: "org-a", LearnerReference: "learner-1", StateID: "org-a:learner-1:v1", StateVersion: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.OK || out.Errors[0].Code != contracts.CodeStateNotFound {
		t.Fatalf("expected state_not_found, got %+v", out)
	}
}

func TestEvaluateStaleTraceRejected(t *testing.T) {
	state := &contracts.LearnerState{
		OrgID: "org-a", LearnerReference: "learner-1", StateID: "org-a:learner-1:v2", StateVersion: 2,
		State: json.RawMessage(`{}`),
	}
	eng := NewEngine(&fakeStateReader{state: state}, newTestStore(t), testPolicy(t), noopTelemetry(t))
	out, err := eng.EvaluateState(context.Background(), Request{
		OrgID: "org-a", LearnerReference: "learner-1", StateID: "org-a:learner-1:v1", StateVersion: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.OK || out.Errors[0].Code != contracts.CodeTraceStateMismatch {
		t.Fatalf("expected trace_state_mismatch, got %+v", out)
	}
}

func TestEvaluateStateNoRuleMatchesUsesDefault(t *testing.T) {
	state := &contracts.LearnerState{
		OrgID: "org-a", LearnerReference: "learner-1", StateID: "org-a:learner-1:v1", StateVersion: 1,
		State: json.RawMessage(`{"stabilityScore":0.95}`),
	}
	eng := NewEngine(&fakeStateReader{state: state}, newTestStore(t), testPolicy(t), noopTelemetry(t))
	out, err := eng.EvaluateState(context.Background(), Request{
		OrgID: "org-a", LearnerReference: "learner-1", StateID: "org-a:learner-1:v1", StateVersion: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.OK || out.Result.DecisionType != contracts.DecisionAdvance {
		t.Fatalf("expected default advance, got %+v", out)
	}
	if out.Result.Trace.MatchedRuleID != nil {
		t.Fatal("expected nil matched_rule_id")
	}
}
