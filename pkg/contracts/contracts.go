// Package contracts defines the shared wire and storage types for the
// Learning Intelligence Control Layer: signals, learner state, policy
// definitions, and decisions. These types carry no behavior of their own —
// each pipeline stage's package owns the logic that produces or consumes
// them.
package contracts

import "encoding/json"

// Metadata carries optional caller-supplied correlation identifiers on a
// SignalEnvelope. Never semantically inspected by the pipeline.
type Metadata struct {
	CorrelationID string `json:"correlation_id,omitempty"`
	TraceID       string `json:"trace_id,omitempty"`
}

// SignalEnvelope is the inbound, caller-supplied shape of a learner signal.
// Timestamp is kept as the raw string the caller sent so that a later read
// returns it byte-identical rather than reformatted by a time.Time round
// trip.
type SignalEnvelope struct {
	OrgID            string          `json:"org_id"`
	SignalID         string          `json:"signal_id"`
	SourceSystem     string          `json:"source_system"`
	LearnerReference string          `json:"learner_reference"`
	Timestamp        string          `json:"timestamp"`
	SchemaVersion    string          `json:"schema_version"`
	Payload          json.RawMessage `json:"payload"`
	Metadata         *Metadata       `json:"metadata,omitempty"`
}

// SignalRecord is the stored form of an accepted SignalEnvelope: immutable
// once appended to the Signal Log.
type SignalRecord struct {
	SignalEnvelope
	AcceptedAt string `json:"accepted_at"`

	// InternalID is the Signal Log's monotonic insertion sequence, used as
	// the tie-break key for ordering and as the opaque pagination cursor.
	// Never serialized to API consumers directly.
	InternalID int64 `json:"-"`
}

// Provenance binds a LearnerState snapshot to the signal that produced it.
type Provenance struct {
	LastSignalID        string `json:"last_signal_id"`
	LastSignalTimestamp string `json:"last_signal_timestamp"`
}

// LearnerState is a versioned per-learner snapshot folded from applied
// signals. Every version is retained; none are ever updated or deleted.
type LearnerState struct {
	OrgID            string          `json:"org_id"`
	LearnerReference string          `json:"learner_reference"`
	StateID          string          `json:"state_id"`
	StateVersion     int64           `json:"state_version"`
	UpdatedAt        string          `json:"updated_at"`
	State            json.RawMessage `json:"state"`
	Provenance       Provenance      `json:"provenance"`
}

// AppliedSignal records that a given signal has already been folded into a
// learner's state, enforcing per-learner idempotency of state application.
type AppliedSignal struct {
	OrgID            string `json:"org_id"`
	LearnerReference string `json:"learner_reference"`
	SignalID         string `json:"signal_id"`
	StateVersion     int64  `json:"state_version"`
	AppliedAt        string `json:"applied_at"`
}

// ConditionOperator is a leaf comparison operator in a policy condition
// tree. The set is closed; load-time validation rejects anything else.
type ConditionOperator string

const (
	OpEq  ConditionOperator = "eq"
	OpNeq ConditionOperator = "neq"
	OpGt  ConditionOperator = "gt"
	OpGte ConditionOperator = "gte"
	OpLt  ConditionOperator = "lt"
	OpLte ConditionOperator = "lte"
)

// ConditionNode is a sum type with exactly one active variant: Leaf, or one
// of the two combinators (All/Any). A node must not mix leaf fields with
// combinator fields — PolicyLoader enforces this at load time.
type ConditionNode struct {
	// Leaf variant.
	Field    string            `json:"field,omitempty"`
	Operator ConditionOperator `json:"operator,omitempty"`
	Value    any               `json:"value,omitempty"`

	// Combinator variants — exactly one of these is non-empty when the
	// node is a combinator.
	All []ConditionNode `json:"all,omitempty"`
	Any []ConditionNode `json:"any,omitempty"`
}

// Rule is one entry in a PolicyDefinition: if Condition matches, DecisionType
// fires.
type Rule struct {
	RuleID       string        `json:"rule_id"`
	Condition    ConditionNode `json:"condition"`
	DecisionType DecisionType  `json:"decision_type"`
}

// PolicyDefinition is the versioned, declarative policy evaluated by the
// Decision Engine. Loaded once at process startup and cached read-only.
type PolicyDefinition struct {
	PolicyID            string       `json:"policy_id"`
	PolicyVersion       string       `json:"policy_version"`
	Description         string       `json:"description,omitempty"`
	Rules               []Rule       `json:"rules"`
	DefaultDecisionType DecisionType `json:"default_decision_type"`
}

// DecisionType is a member of the closed decision-type set. Fixed, not
// extensible at runtime.
type DecisionType string

const (
	DecisionReinforce DecisionType = "reinforce"
	DecisionAdvance   DecisionType = "advance"
	DecisionIntervene DecisionType = "intervene"
	DecisionPause     DecisionType = "pause"
	DecisionEscalate  DecisionType = "escalate"
	DecisionRecommend DecisionType = "recommend"
	DecisionReroute   DecisionType = "reroute"
)

// ValidDecisionTypes reports whether dt is a member of the closed set.
func ValidDecisionTypes(dt DecisionType) bool {
	switch dt {
	case DecisionReinforce, DecisionAdvance, DecisionIntervene, DecisionPause,
		DecisionEscalate, DecisionRecommend, DecisionReroute:
		return true
	default:
		return false
	}
}

// Trace binds a Decision to the exact state, policy, and rule that produced
// it.
type Trace struct {
	StateID       string  `json:"state_id"`
	StateVersion  int64   `json:"state_version"`
	PolicyVersion string  `json:"policy_version"`
	MatchedRuleID *string `json:"matched_rule_id"`
}

// Decision is immutable once persisted: no update or delete path exists
// anywhere in the system.
type Decision struct {
	OrgID            string          `json:"org_id"`
	DecisionID       string          `json:"decision_id"`
	LearnerReference string          `json:"learner_reference"`
	DecisionType     DecisionType    `json:"decision_type"`
	DecidedAt        string          `json:"decided_at"`
	DecisionContext  json.RawMessage `json:"decision_context"`
	Trace            Trace           `json:"trace"`

	// InternalID is the Decision Store's monotonic insertion sequence.
	InternalID int64 `json:"-"`
}

// CodedError is a single structural/semantic/query failure, matching the
// {code, message, field_path?} shape used at every HTTP boundary and
// returned from every internal Outcome.
type CodedError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	FieldPath string `json:"field_path,omitempty"`
}

func (e CodedError) Error() string {
	return e.Message
}

// Error taxonomy — stable identifiers. Message text MUST NOT be used for
// control flow; callers branch on Code.
const (
	CodeMissingRequiredField  = "missing_required_field"
	CodeInvalidType           = "invalid_type"
	CodeInvalidFormat         = "invalid_format"
	CodeInvalidTimestamp      = "invalid_timestamp"
	CodeInvalidLength         = "invalid_length"
	CodeInvalidCharset        = "invalid_charset"
	CodeInvalidSchemaVersion  = "invalid_schema_version"
	CodePayloadNotObject      = "payload_not_object"
	CodeRequestTooLarge       = "request_too_large"
	CodeOrgScopeRequired      = "org_scope_required"
	CodeForbiddenSemanticKey  = "forbidden_semantic_key_detected"
	CodeDuplicateSignalID     = "duplicate_signal_id"
	CodeInvalidTimeRange      = "invalid_time_range"
	CodeInvalidPageToken      = "invalid_page_token"
	CodePageSizeOutOfRange    = "page_size_out_of_range"
	CodeUnknownSignalID       = "unknown_signal_id"
	CodeSignalsNotInOrgScope  = "signals_not_in_org_scope"
	CodeStatePayloadNotObject = "state_payload_not_object"
	CodeStateVersionConflict  = "state_version_conflict"
	CodeStateNotFound         = "state_not_found"
	CodeTraceStateMismatch    = "trace_state_mismatch"
	CodePolicyNotFound        = "policy_not_found"
	CodeInvalidPolicyVersion  = "invalid_policy_version"
	CodeInvalidDecisionType   = "invalid_decision_type"
	CodeDecisionContextNotObj = "decision_context_not_object"
	CodeMissingTrace          = "missing_trace"
)
