// Package orchestrator implements the ingestion orchestrator: the
// synchronous per-request pipeline wiring the forbidden-key scanner,
// structural validator, idempotency index, signal log, state engine, and
// decision engine together. State and decision failures are isolated from
// the HTTP response — once a signal is appended, the request is accepted
// regardless of downstream outcome.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/meridianlabs/licl/pkg/contracts"
	"github.com/meridianlabs/licl/pkg/decision"
	"github.com/meridianlabs/licl/pkg/forbidden"
	"github.com/meridianlabs/licl/pkg/idempotency"
	"github.com/meridianlabs/licl/pkg/signallog"
	"github.com/meridianlabs/licl/pkg/state"
	"github.com/meridianlabs/licl/pkg/structural"
	"github.com/meridianlabs/licl/pkg/telemetry"
)

// Status is the outcome status surfaced in SignalIngestResult.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusDuplicate Status = "duplicate"
	StatusRejected  Status = "rejected"
)

// Result is the SignalIngestResult returned to the HTTP layer.
type Result struct {
	Status          Status
	ReceivedAt      string
	RejectionReason *contracts.CodedError
}

// Orchestrator wires stages A through G synchronously per inbound signal.
type Orchestrator struct {
	idempotency idempotency.Index
	signals     signallog.Store
	stateEngine *state.Engine
	decisions   *decision.Engine
	telemetry   *telemetry.Provider
	now         func() time.Time
}

// New wires the ingestion orchestrator to its stage dependencies. tel
// supplies the span-per-stage tracer and the accepted/duplicate/rejected
// counters and must not be nil — construct one with telemetry.New and
// Config.Enabled=false to get no-op instrumentation.
func New(idx idempotency.Index, signals signallog.Store, stateEngine *state.Engine, decisions *decision.Engine, tel *telemetry.Provider) *Orchestrator {
	return &Orchestrator{idempotency: idx, signals: signals, stateEngine: stateEngine, decisions: decisions, telemetry: tel, now: time.Now}
}

// Ingest runs one inbound signal through the full pipeline: validate,
// scan, dedup, append, apply state, evaluate decision.
func (o *Orchestrator) Ingest(ctx context.Context, raw []byte) Result {
	ctx, span := o.telemetry.StartSpan(ctx, "orchestrator.ingest")
	defer span.End()

	// Step 1: Structural Validator.
	_, structSpan := o.telemetry.StartSpan(ctx, "structural.validate")
	validation := structural.ValidateEnvelope(raw)
	structSpan.End()
	if !validation.OK() {
		o.telemetry.RejectedCounter.Add(ctx, 1)
		return Result{Status: StatusRejected, RejectionReason: &validation.Errors[0]}
	}
	envelope := *validation.Envelope

	span.SetAttributes(attribute.String("org_id", envelope.OrgID), attribute.String("signal_id", envelope.SignalID))

	// Step 2: Forbidden-Key Scanner on payload.
	_, scanSpan := o.telemetry.StartSpan(ctx, "forbidden.scan")
	hit, err := forbidden.Scan(envelope.Payload, "payload")
	scanSpan.End()
	if err != nil {
		slog.Error("orchestrator: forbidden-key scan failed", "org_id", envelope.OrgID, "signal_id", envelope.SignalID, "error", err)
		o.telemetry.RejectedCounter.Add(ctx, 1)
		return Result{Status: StatusRejected, RejectionReason: &contracts.CodedError{
			Code: contracts.CodeInvalidType, Message: "payload could not be scanned",
		}}
	}
	if hit != nil {
		o.telemetry.RejectedCounter.Add(ctx, 1)
		return Result{Status: StatusRejected, RejectionReason: &contracts.CodedError{
			Code: contracts.CodeForbiddenSemanticKey, Message: "forbidden semantic key detected in payload", FieldPath: hit.Path,
		}}
	}

	nowT := o.now()
	now := nowT.UTC().Format(time.RFC3339Nano)

	// Step 3: Idempotency Index.
	_, idemSpan := o.telemetry.StartSpan(ctx, "idempotency.check")
	idemResult, err := o.idempotency.CheckAndStore(ctx, envelope.OrgID, envelope.SignalID, nowT)
	idemSpan.End()
	if err != nil {
		slog.Error("orchestrator: idempotency check failed", "org_id", envelope.OrgID, "signal_id", envelope.SignalID, "error", err)
		o.telemetry.RejectedCounter.Add(ctx, 1)
		return Result{Status: StatusRejected, RejectionReason: &contracts.CodedError{
			Code: contracts.CodeInvalidType, Message: "idempotency check failed",
		}}
	}
	if idemResult.IsDuplicate {
		o.telemetry.DuplicateCounter.Add(ctx, 1)
		return Result{Status: StatusDuplicate, ReceivedAt: idemResult.ReceivedAt}
	}

	// Step 4: Signal Log append.
	_, logSpan := o.telemetry.StartSpan(ctx, "signallog.append")
	record := contracts.SignalRecord{SignalEnvelope: envelope, AcceptedAt: now}
	err = o.signals.Append(ctx, record)
	logSpan.End()
	if err != nil {
		slog.Error("orchestrator: signal log append failed", "org_id", envelope.OrgID, "signal_id", envelope.SignalID, "error", err)
		o.telemetry.RejectedCounter.Add(ctx, 1)
		return Result{Status: StatusRejected, RejectionReason: &contracts.CodedError{
			Code: contracts.CodeInvalidType, Message: "signal could not be persisted",
		}}
	}

	o.telemetry.AcceptedCounter.Add(ctx, 1)
	result := Result{Status: StatusAccepted, ReceivedAt: now}

	// Step 5: STATE Engine — failures logged, never propagated.
	_, stateSpan := o.telemetry.StartSpan(ctx, "state.apply")
	stateOutcome, err := o.stateEngine.ApplySignals(ctx, state.Request{
		OrgID: envelope.OrgID, LearnerReference: envelope.LearnerReference,
		SignalIDs: []string{envelope.SignalID}, RequestedAt: now,
	})
	stateSpan.End()
	if err != nil {
		slog.Error("orchestrator: state engine failed", "org_id", envelope.OrgID, "learner_reference", envelope.LearnerReference, "error", err)
		return result
	}
	if !stateOutcome.OK {
		slog.Warn("orchestrator: state engine rejected signal", "org_id", envelope.OrgID, "learner_reference", envelope.LearnerReference,
			"signal_id", envelope.SignalID, "errors", stateOutcome.Errors)
		return result
	}

	// Step 6: Decision Engine — failures logged, never propagated.
	_, decisionSpan := o.telemetry.StartSpan(ctx, "decision.evaluate")
	decisionOutcome, err := o.decisions.EvaluateState(ctx, decision.Request{
		OrgID: envelope.OrgID, LearnerReference: envelope.LearnerReference,
		StateID: stateOutcome.Result.StateID, StateVersion: stateOutcome.Result.NewStateVersion, RequestedAt: now,
	})
	decisionSpan.End()
	if err != nil {
		slog.Error("orchestrator: decision engine failed", "org_id", envelope.OrgID, "learner_reference", envelope.LearnerReference, "error", err)
		return result
	}
	if !decisionOutcome.OK {
		slog.Warn("orchestrator: decision engine rejected evaluation", "org_id", envelope.OrgID, "learner_reference", envelope.LearnerReference,
			"errors", decisionOutcome.Errors)
	}

	return result
}
