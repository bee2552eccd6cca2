// Package policy implements the policy loader and evaluator: a
// declarative, versioned policy loaded once at process startup and cached
// read-only, plus the recursive condition evaluator the decision engine
// calls against learner state.
//
// Load-time validation is fail-closed and accumulate-then-reject: every
// problem in the document is collected before the load errors out, so an
// operator fixes a broken policy in one pass rather than one field at a
// time. policy_version is checked with Masterminds/semver rather than a
// hand-rolled regex.
package policy

import (
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/meridianlabs/licl/pkg/canonicalize"
	"github.com/meridianlabs/licl/pkg/contracts"
)

// LoadError reports every problem found while validating a policy
// definition, in the order detected.
type LoadError struct {
	Errors []contracts.CodedError
}

func (e *LoadError) Error() string {
	if len(e.Errors) == 0 {
		return "policy: invalid"
	}
	return fmt.Sprintf("policy: %s", e.Errors[0].Message)
}

// Policy is the load-time-validated, immutable in-memory representation of
// a PolicyDefinition, ready for repeated Evaluate calls.
type Policy struct {
	def contracts.PolicyDefinition
}

// Definition returns the validated PolicyDefinition this Policy wraps.
func (p *Policy) Definition() contracts.PolicyDefinition { return p.def }

// IntegrityHash returns the deterministic JCS+SHA-256 fingerprint of the
// policy definition, suitable for audit logging or detecting a policy file
// changing underneath a running process between restarts.
func (p *Policy) IntegrityHash() (string, error) {
	return canonicalize.Hash(p.def)
}

// Load parses and validates raw policy JSON. All detected problems are
// returned together in a *LoadError; Load never panics on malformed or
// semantically invalid input.
func Load(raw []byte) (*Policy, error) {
	var def contracts.PolicyDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, &LoadError{Errors: []contracts.CodedError{{
			Code:    contracts.CodeInvalidType,
			Message: fmt.Sprintf("malformed policy JSON: %v", err),
		}}}
	}

	var errs []contracts.CodedError

	if _, err := semver.StrictNewVersion(def.PolicyVersion); err != nil {
		errs = append(errs, contracts.CodedError{
			Code:      contracts.CodeInvalidPolicyVersion,
			Message:   fmt.Sprintf("policy_version %q is not valid semver: %v", def.PolicyVersion, err),
			FieldPath: "policy_version",
		})
	}

	if !contracts.ValidDecisionTypes(def.DefaultDecisionType) {
		errs = append(errs, contracts.CodedError{
			Code:      contracts.CodeInvalidDecisionType,
			Message:   fmt.Sprintf("default_decision_type %q is not a recognized decision type", def.DefaultDecisionType),
			FieldPath: "default_decision_type",
		})
	}

	seenRuleIDs := make(map[string]struct{}, len(def.Rules))
	for i, rule := range def.Rules {
		fieldBase := fmt.Sprintf("rules[%d]", i)

		if rule.RuleID == "" {
			errs = append(errs, contracts.CodedError{
				Code:      contracts.CodeMissingRequiredField,
				Message:   "rule_id is required",
				FieldPath: fieldBase + ".rule_id",
			})
		} else if _, dup := seenRuleIDs[rule.RuleID]; dup {
			errs = append(errs, contracts.CodedError{
				Code:      contracts.CodeInvalidFormat,
				Message:   fmt.Sprintf("duplicate rule_id %q", rule.RuleID),
				FieldPath: fieldBase + ".rule_id",
			})
		} else {
			seenRuleIDs[rule.RuleID] = struct{}{}
		}

		if !contracts.ValidDecisionTypes(rule.DecisionType) {
			errs = append(errs, contracts.CodedError{
				Code:      contracts.CodeInvalidDecisionType,
				Message:   fmt.Sprintf("decision_type %q is not a recognized decision type", rule.DecisionType),
				FieldPath: fieldBase + ".decision_type",
			})
		}

		errs = append(errs, validateCondition(rule.Condition, fieldBase+".condition")...)
	}

	if len(errs) > 0 {
		return nil, &LoadError{Errors: errs}
	}
	return &Policy{def: def}, nil
}

// validateCondition enforces the ConditionNode sum-type shape: exactly one
// of {leaf, all, any} is populated, combinators have at least two children,
// and every leaf operator is in the closed set.
func validateCondition(n contracts.ConditionNode, path string) []contracts.CodedError {
	isLeaf := n.Field != "" || n.Operator != ""
	variants := 0
	if isLeaf {
		variants++
	}
	if len(n.All) > 0 {
		variants++
	}
	if len(n.Any) > 0 {
		variants++
	}

	switch {
	case variants == 0:
		return []contracts.CodedError{{
			Code: contracts.CodeInvalidType, Message: "condition node has no variant set", FieldPath: path,
		}}
	case variants > 1:
		return []contracts.CodedError{{
			Code: contracts.CodeInvalidType, Message: "condition node mixes leaf and combinator fields", FieldPath: path,
		}}
	}

	var errs []contracts.CodedError

	if isLeaf {
		if !validOperator(n.Operator) {
			errs = append(errs, contracts.CodedError{
				Code:      contracts.CodeInvalidType,
				Message:   fmt.Sprintf("operator %q is not in the closed operator set", n.Operator),
				FieldPath: path + ".operator",
			})
		}
		if n.Field == "" {
			errs = append(errs, contracts.CodedError{
				Code: contracts.CodeMissingRequiredField, Message: "condition leaf requires field", FieldPath: path + ".field",
			})
		}
		return errs
	}

	children, label := n.All, "all"
	if len(n.Any) > 0 {
		children, label = n.Any, "any"
	}
	if len(children) < 2 {
		errs = append(errs, contracts.CodedError{
			Code:      contracts.CodeInvalidType,
			Message:   fmt.Sprintf("%s combinator requires at least 2 children", label),
			FieldPath: path + "." + label,
		})
	}
	for i, child := range children {
		errs = append(errs, validateCondition(child, fmt.Sprintf("%s.%s[%d]", path, label, i))...)
	}
	return errs
}

func validOperator(op contracts.ConditionOperator) bool {
	switch op {
	case contracts.OpEq, contracts.OpNeq, contracts.OpGt, contracts.OpGte, contracts.OpLt, contracts.OpLte:
		return true
	default:
		return false
	}
}
