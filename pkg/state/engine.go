package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/meridianlabs/licl/pkg/contracts"
	"github.com/meridianlabs/licl/pkg/forbidden"
	"github.com/meridianlabs/licl/pkg/signallog"
)

// Request is the input to Engine.ApplySignals.
type Request struct {
	OrgID            string
	LearnerReference string
	SignalIDs        []string
	RequestedAt      string
}

// Result is the success payload of a successful Outcome.
type Result struct {
	StateID           string
	NewStateVersion   int64
	AppliedSignalIDs  []string
	State             json.RawMessage
}

// Outcome is the discriminated sum ApplySignals returns. Exactly one of
// Result/Errors is populated, selected by OK. Never panics or returns a Go
// error for a rejection — only for genuine infrastructure failure.
type Outcome struct {
	OK     bool
	Result Result
	Errors []contracts.CodedError
}

func rejected(errs ...contracts.CodedError) Outcome {
	return Outcome{OK: false, Errors: errs}
}

func rejectCode(code, message string) Outcome {
	return rejected(contracts.CodedError{Code: code, Message: message})
}

// Engine implements the STATE Engine.
type Engine struct {
	signals signallog.Store
	store   Store
}

// NewEngine wires the STATE Engine to the Signal Log it reads accepted
// signals from and the Store it persists folded state into.
func NewEngine(signals signallog.Store, store Store) *Engine {
	return &Engine{signals: signals, store: store}
}

// CurrentState exposes the latest persisted LearnerState for (orgID,
// learnerRef) to read-only consumers such as the Decision Engine, without
// widening their dependency to the full Store write surface.
func (e *Engine) CurrentState(ctx context.Context, orgID, learnerRef string) (*contracts.LearnerState, error) {
	return e.store.CurrentState(ctx, orgID, learnerRef)
}

const maxRetries = 1

// ApplySignals fetches the batch, sorts it into canonical order, folds it
// into a new state version, scans for forbidden keys, and persists — with
// one optimistic-concurrency retry on conflict.
func (e *Engine) ApplySignals(ctx context.Context, req Request) (Outcome, error) {
	if strings.TrimSpace(req.OrgID) == "" {
		return rejectCode(contracts.CodeOrgScopeRequired, "org_id is required"), nil
	}
	if strings.TrimSpace(req.LearnerReference) == "" {
		return rejectCode(contracts.CodeMissingRequiredField, "learner_reference is required"), nil
	}
	if len(req.SignalIDs) == 0 {
		return rejectCode(contracts.CodeMissingRequiredField, "signal_ids must be non-empty"), nil
	}

	records, err := e.signals.GetByIDs(ctx, req.OrgID, req.SignalIDs)
	if err != nil {
		var gerr *signallog.GetByIDsError
		if errors.As(err, &gerr) {
			return rejectCode(gerr.Code, gerr.Error()), nil
		}
		return Outcome{}, fmt.Errorf("state: fetch signals: %w", err)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].AcceptedAt != records[j].AcceptedAt {
			return records[i].AcceptedAt < records[j].AcceptedAt
		}
		return records[i].InternalID < records[j].InternalID
	})

	for attempt := 0; ; attempt++ {
		outcome, conflict, err := e.attempt(ctx, req, records)
		if err != nil {
			return Outcome{}, err
		}
		if !conflict {
			return outcome, nil
		}
		if attempt >= maxRetries {
			return rejectCode(contracts.CodeStateVersionConflict, "state version conflict after retry"), nil
		}
	}
}

// attempt runs one full read-fold-commit pass. conflict=true signals the
// caller should retry once.
func (e *Engine) attempt(ctx context.Context, req Request, records []contracts.SignalRecord) (Outcome, bool, error) {
	current, err := e.store.CurrentState(ctx, req.OrgID, req.LearnerReference)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("state: read current: %w", err)
	}

	priorVersion := int64(0)
	var priorState map[string]any
	if current != nil {
		priorVersion = current.StateVersion
		if err := json.Unmarshal(current.State, &priorState); err != nil {
			return Outcome{}, false, fmt.Errorf("state: decode stored state: %w", err)
		}
	} else {
		priorState = map[string]any{}
	}

	allIDs := make([]string, len(records))
	for i, r := range records {
		allIDs[i] = r.SignalID
	}
	applied, err := e.store.AppliedSignalIDs(ctx, req.OrgID, req.LearnerReference, allIDs)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("state: read applied signals: %w", err)
	}

	remaining := make([]contracts.SignalRecord, 0, len(records))
	for _, r := range records {
		if !applied[r.SignalID] {
			remaining = append(remaining, r)
		}
	}

	if len(remaining) == 0 {
		stateID := ""
		if current != nil {
			stateID = current.StateID
		}
		return Outcome{OK: true, Result: Result{
			StateID:          stateID,
			NewStateVersion:  priorVersion,
			AppliedSignalIDs: []string{},
			State:            jsonOrEmptyObject(current),
		}}, false, nil
	}

	folded := priorState
	for _, r := range remaining {
		var raw any
		if err := json.Unmarshal(r.Payload, &raw); err != nil {
			return Outcome{}, false, fmt.Errorf("state: decode payload for %s: %w", r.SignalID, err)
		}
		delta, ok := raw.(map[string]any)
		if !ok {
			// Structural validation at ingestion already rejects a
			// non-object payload; this guards against state corruption
			// reaching the fold step undetected.
			return rejectCode(contracts.CodeStatePayloadNotObject, fmt.Sprintf("payload for signal %s is not an object", r.SignalID)), false, nil
		}
		folded = deepMerge(folded, delta)
	}

	if hit := forbidden.ScanValue(folded, "state"); hit != nil {
		return rejected(contracts.CodedError{
			Code:      contracts.CodeForbiddenSemanticKey,
			Message:   fmt.Sprintf("forbidden semantic key %q detected in derived state", hit.Key),
			FieldPath: hit.Path,
		}), false, nil
	}

	newState, err := json.Marshal(folded)
	if err != nil {
		return Outcome{}, false, fmt.Errorf("state: marshal folded state: %w", err)
	}

	newVersion := priorVersion + 1
	stateID := fmt.Sprintf("%s:%s:v%d", req.OrgID, req.LearnerReference, newVersion)
	last := remaining[len(remaining)-1]

	appliedIDs := make([]string, len(remaining))
	for i, r := range remaining {
		appliedIDs[i] = r.SignalID
	}

	record := contracts.LearnerState{
		OrgID:            req.OrgID,
		LearnerReference: req.LearnerReference,
		StateID:          stateID,
		StateVersion:     newVersion,
		UpdatedAt:        req.RequestedAt,
		State:            newState,
		Provenance: contracts.Provenance{
			LastSignalID:        last.SignalID,
			LastSignalTimestamp: last.Timestamp,
		},
	}

	if err := e.store.Commit(ctx, record, appliedIDs, req.RequestedAt); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return Outcome{}, true, nil
		}
		return Outcome{}, false, fmt.Errorf("state: commit: %w", err)
	}

	return Outcome{OK: true, Result: Result{
		StateID:          stateID,
		NewStateVersion:  newVersion,
		AppliedSignalIDs: appliedIDs,
		State:            newState,
	}}, false, nil
}

func jsonOrEmptyObject(s *contracts.LearnerState) json.RawMessage {
	if s == nil {
		return json.RawMessage("{}")
	}
	return s.State
}
