// Package decision implements the decision engine: evaluates the current
// LearnerState against the cached policy and persists the resulting
// immutable Decision, with the same Outcome discrimination the state
// engine uses.
package decision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridianlabs/licl/pkg/contracts"
	"github.com/meridianlabs/licl/pkg/decisionstore"
	"github.com/meridianlabs/licl/pkg/forbidden"
	"github.com/meridianlabs/licl/pkg/policy"
	"github.com/meridianlabs/licl/pkg/state"
	"github.com/meridianlabs/licl/pkg/telemetry"
)

// Request is the input to Engine.EvaluateState.
type Request struct {
	OrgID            string
	LearnerReference string
	StateID          string
	StateVersion     int64
	RequestedAt      string

	// EvaluationContext is accepted for wire-contract forward-compatibility
	// but is never read by EvaluateState and never persisted: this
	// version's decision_context is always the empty object regardless of
	// what callers pass here.
	EvaluationContext json.RawMessage
}

// Outcome is the discriminated sum EvaluateState returns.
type Outcome struct {
	OK     bool
	Result contracts.Decision
	Errors []contracts.CodedError
}

func rejectCode(code, message string) Outcome {
	return Outcome{OK: false, Errors: []contracts.CodedError{{Code: code, Message: message}}}
}

// StateReader is the narrow STATE Engine surface the Decision Engine needs:
// the current snapshot for a learner, without the write path.
type StateReader interface {
	CurrentState(ctx context.Context, orgID, learnerRef string) (*contracts.LearnerState, error)
}

// Engine implements the Decision Engine.
type Engine struct {
	states    StateReader
	store     decisionstore.Store
	policy    *policy.Policy
	telemetry *telemetry.Provider
	now       func() time.Time
}

// NewEngine wires the Decision Engine to the state reader it evaluates
// against, the store it persists into, and the single process-wide cached
// policy. tel must not be nil — construct one with telemetry.New and
// Config.Enabled=false to get no-op instrumentation.
func NewEngine(states StateReader, store decisionstore.Store, p *policy.Policy, tel *telemetry.Provider) *Engine {
	return &Engine{states: states, store: store, policy: p, telemetry: tel, now: time.Now}
}

var _ StateReader = (*stateEngineAdapter)(nil)

type stateEngineAdapter struct{ eng *state.Engine }

// AdaptStateEngine exposes a *state.Engine as a StateReader without
// widening the Decision Engine's dependency to the STATE Engine's write
// surface.
func AdaptStateEngine(eng *state.Engine) StateReader { return &stateEngineAdapter{eng: eng} }

func (a *stateEngineAdapter) CurrentState(ctx context.Context, orgID, learnerRef string) (*contracts.LearnerState, error) {
	return a.eng.CurrentState(ctx, orgID, learnerRef)
}

// EvaluateState fetches the learner's current state, guards against stale
// coordinates, evaluates the policy, and persists the resulting Decision.
// Persistence happens only on success; rejections never raise.
func (e *Engine) EvaluateState(ctx context.Context, req Request) (Outcome, error) {
	ctx, span := e.telemetry.StartSpan(ctx, "decision.evaluate_state")
	defer span.End()

	if strings.TrimSpace(req.OrgID) == "" {
		return rejectCode(contracts.CodeOrgScopeRequired, "org_id is required"), nil
	}
	if strings.TrimSpace(req.LearnerReference) == "" || strings.TrimSpace(req.StateID) == "" {
		return rejectCode(contracts.CodeMissingRequiredField, "learner_reference and state_id are required"), nil
	}

	current, err := e.states.CurrentState(ctx, req.OrgID, req.LearnerReference)
	if err != nil {
		return Outcome{}, fmt.Errorf("decision: read state: %w", err)
	}
	if current == nil {
		return rejectCode(contracts.CodeStateNotFound, "no learner state exists for this org/learner"), nil
	}
	if current.StateID != req.StateID || current.StateVersion != req.StateVersion {
		return rejectCode(contracts.CodeTraceStateMismatch,
			fmt.Sprintf("requested state %s/v%d does not match current %s/v%d",
				req.StateID, req.StateVersion, current.StateID, current.StateVersion)), nil
	}

	if e.policy == nil {
		return rejectCode(contracts.CodePolicyNotFound, "no policy is loaded"), nil
	}

	_, evalSpan := e.telemetry.StartSpan(ctx, "policy.evaluate")
	evalResult, err := e.policy.EvaluateRaw(current.State)
	evalSpan.End()
	if err != nil {
		return Outcome{}, fmt.Errorf("decision: decode state for evaluation: %w", err)
	}

	decisionContext := json.RawMessage(`{}`)
	hit, err := forbidden.Scan(decisionContext, "decision_context")
	if err != nil {
		return Outcome{}, fmt.Errorf("decision: scan decision_context: %w", err)
	}
	if hit != nil {
		return rejectCode(contracts.CodeForbiddenSemanticKey, "forbidden semantic key in decision_context"), nil
	}

	d := contracts.Decision{
		OrgID:            req.OrgID,
		DecisionID:       uuid.NewString(),
		LearnerReference: req.LearnerReference,
		DecisionType:     evalResult.DecisionType,
		DecidedAt:        e.now().UTC().Format(time.RFC3339Nano),
		DecisionContext:  decisionContext,
		Trace: contracts.Trace{
			StateID:       current.StateID,
			StateVersion:  current.StateVersion,
			PolicyVersion: e.policy.Definition().PolicyVersion,
			MatchedRuleID: evalResult.MatchedRuleID,
		},
	}

	_, saveSpan := e.telemetry.StartSpan(ctx, "decisionstore.save")
	err = e.store.Save(ctx, d)
	saveSpan.End()
	if err != nil {
		return Outcome{}, fmt.Errorf("decision: save: %w", err)
	}

	return Outcome{OK: true, Result: d}, nil
}
