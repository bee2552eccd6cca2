package policy

import (
	"encoding/json"

	"github.com/meridianlabs/licl/pkg/contracts"
)

// EvalResult is the outcome of evaluating a state against a Policy.
type EvalResult struct {
	DecisionType  contracts.DecisionType
	MatchedRuleID *string
}

// Evaluate tries rules in declared order; the first whose condition yields
// true wins. No match falls back to the policy's default_decision_type
// with no matched rule.
func (p *Policy) Evaluate(state map[string]any) EvalResult {
	for _, rule := range p.def.Rules {
		if evalCondition(rule.Condition, state) {
			ruleID := rule.RuleID
			return EvalResult{DecisionType: rule.DecisionType, MatchedRuleID: &ruleID}
		}
	}
	return EvalResult{DecisionType: p.def.DefaultDecisionType, MatchedRuleID: nil}
}

// EvaluateRaw is a convenience wrapper for callers holding a json.RawMessage
// state rather than an already-decoded map (e.g. the Decision Engine
// reading LearnerState.State).
func (p *Policy) EvaluateRaw(rawState json.RawMessage) (EvalResult, error) {
	var state map[string]any
	if len(rawState) > 0 {
		if err := json.Unmarshal(rawState, &state); err != nil {
			return EvalResult{}, err
		}
	}
	return p.Evaluate(state), nil
}

// evalCondition recursively evaluates a ConditionNode against state. A leaf
// reading an absent field evaluates to false rather than raising.
func evalCondition(n contracts.ConditionNode, state map[string]any) bool {
	switch {
	case len(n.All) > 0:
		for _, child := range n.All {
			if !evalCondition(child, state) {
				return false
			}
		}
		return true
	case len(n.Any) > 0:
		for _, child := range n.Any {
			if evalCondition(child, state) {
				return true
			}
		}
		return false
	default:
		return evalLeaf(n, state)
	}
}

func evalLeaf(n contracts.ConditionNode, state map[string]any) bool {
	actual, present := state[n.Field]
	if !present {
		return false
	}

	switch n.Operator {
	case contracts.OpEq:
		return actual == n.Value
	case contracts.OpNeq:
		return actual != n.Value
	case contracts.OpGt, contracts.OpGte, contracts.OpLt, contracts.OpLte:
		a, aOK := asFloat(actual)
		b, bOK := asFloat(n.Value)
		if !aOK || !bOK {
			return false
		}
		switch n.Operator {
		case contracts.OpGt:
			return a > b
		case contracts.OpGte:
			return a >= b
		case contracts.OpLt:
			return a < b
		case contracts.OpLte:
			return a <= b
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
