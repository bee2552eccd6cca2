package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/meridianlabs/licl/pkg/apierror"
	"github.com/meridianlabs/licl/pkg/authmw"
	"github.com/meridianlabs/licl/pkg/contracts"
	"github.com/meridianlabs/licl/pkg/decisionstore"
	"github.com/meridianlabs/licl/pkg/pagination"
	"github.com/meridianlabs/licl/pkg/signallog"
)

const maxIngestBodyBytes = 1 << 20 // 1 MiB; oversized bodies reject as request_too_large.

// signalIngestResult is the wire shape of POST /v1/signals's response body.
type signalIngestResult struct {
	Status          string                `json:"status"`
	ReceivedAt      string                `json:"received_at,omitempty"`
	RejectionReason *contracts.CodedError `json:"rejection_reason,omitempty"`
}

func (s *Server) handleIngestSignal(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxIngestBodyBytes+1))
	if err != nil {
		apierror.WriteInternal(w, err)
		return
	}
	if len(body) > maxIngestBodyBytes {
		apierror.WriteBadRequest(w, contracts.CodedError{
			Code: contracts.CodeRequestTooLarge, Message: "request body exceeds the maximum signal envelope size",
		})
		return
	}

	var scope struct {
		OrgID string `json:"org_id"`
	}
	if json.Unmarshal(body, &scope) == nil {
		if cerr := authmw.RequireBearerOrgMatch(r, scope.OrgID); cerr != nil {
			apierror.WriteUnauthorized(w, cerr.Message)
			return
		}
	}

	result := s.orchestrator.Ingest(r.Context(), body)

	if result.Status == "rejected" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(signalIngestResult{
			Status: string(result.Status), RejectionReason: result.RejectionReason,
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(signalIngestResult{
		Status: string(result.Status), ReceivedAt: result.ReceivedAt,
	})
}

// rangeParams is the parsed, validated set of query parameters shared by
// GET /v1/signals and GET /v1/decisions.
type rangeParams struct {
	orgID      string
	learnerRef string
	from       string
	to         string
	cursor     string
	pageSize   int
}

// parseRangeParams validates the common query-parameter surface, returning
// a CodedError the caller writes verbatim on failure.
func parseRangeParams(r *http.Request) (rangeParams, *contracts.CodedError) {
	q := r.URL.Query()

	orgID := q.Get("org_id")
	if orgID == "" {
		return rangeParams{}, &contracts.CodedError{Code: contracts.CodeOrgScopeRequired, Message: "org_id is required"}
	}
	learnerRef := q.Get("learner_reference")
	if learnerRef == "" {
		return rangeParams{}, &contracts.CodedError{Code: contracts.CodeMissingRequiredField, Message: "learner_reference is required", FieldPath: "learner_reference"}
	}

	from := q.Get("from_time")
	to := q.Get("to_time")
	if from == "" {
		return rangeParams{}, &contracts.CodedError{Code: contracts.CodeMissingRequiredField, Message: "from_time is required", FieldPath: "from_time"}
	}
	if to == "" {
		return rangeParams{}, &contracts.CodedError{Code: contracts.CodeMissingRequiredField, Message: "to_time is required", FieldPath: "to_time"}
	}
	fromT, err := time.Parse(time.RFC3339Nano, from)
	if err != nil {
		return rangeParams{}, &contracts.CodedError{Code: contracts.CodeInvalidTimestamp, Message: "from_time is not a valid RFC3339 timestamp", FieldPath: "from_time"}
	}
	toT, err := time.Parse(time.RFC3339Nano, to)
	if err != nil {
		return rangeParams{}, &contracts.CodedError{Code: contracts.CodeInvalidTimestamp, Message: "to_time is not a valid RFC3339 timestamp", FieldPath: "to_time"}
	}
	if fromT.After(toT) {
		return rangeParams{}, &contracts.CodedError{Code: contracts.CodeInvalidTimeRange, Message: "from_time must not be after to_time"}
	}

	pageSize := pagination.DefaultPageSize
	if raw := q.Get("page_size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return rangeParams{}, &contracts.CodedError{Code: contracts.CodePageSizeOutOfRange, Message: "page_size must be an integer", FieldPath: "page_size"}
		}
		validated, ok := pagination.ValidatePageSize(n)
		if !ok {
			return rangeParams{}, &contracts.CodedError{Code: contracts.CodePageSizeOutOfRange, Message: "page_size must be between 1 and 1000", FieldPath: "page_size"}
		}
		pageSize = validated
	}

	return rangeParams{
		orgID: orgID, learnerRef: learnerRef, from: from, to: to,
		cursor: q.Get("page_token"), pageSize: pageSize,
	}, nil
}

type signalLogReadResponse struct {
	Signals       []contracts.SignalRecord `json:"signals"`
	NextPageToken string                   `json:"next_page_token,omitempty"`
}

func (s *Server) handleQuerySignals(w http.ResponseWriter, r *http.Request) {
	params, cerr := parseRangeParams(r)
	if cerr != nil {
		apierror.WriteBadRequest(w, *cerr)
		return
	}
	if cerr := authmw.RequireBearerOrgMatch(r, params.orgID); cerr != nil {
		apierror.WriteUnauthorized(w, cerr.Message)
		return
	}

	records, next, err := s.signals.QueryByRange(r.Context(), params.orgID, params.learnerRef, params.from, params.to, params.cursor, params.pageSize)
	if err != nil {
		var invalid *signallog.InvalidCursorError
		if errors.As(err, &invalid) {
			apierror.WriteBadRequest(w, contracts.CodedError{Code: contracts.CodeInvalidPageToken, Message: "page_token is invalid", FieldPath: "page_token"})
			return
		}
		apierror.WriteInternal(w, err)
		return
	}

	if records == nil {
		records = []contracts.SignalRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(signalLogReadResponse{Signals: records, NextPageToken: next})
}

type getDecisionsResponse struct {
	Decisions     []contracts.Decision `json:"decisions"`
	NextPageToken string               `json:"next_page_token,omitempty"`
}

func (s *Server) handleQueryDecisions(w http.ResponseWriter, r *http.Request) {
	params, cerr := parseRangeParams(r)
	if cerr != nil {
		apierror.WriteBadRequest(w, *cerr)
		return
	}
	if cerr := authmw.RequireBearerOrgMatch(r, params.orgID); cerr != nil {
		apierror.WriteUnauthorized(w, cerr.Message)
		return
	}

	decisions, next, err := s.decisions.QueryByRange(r.Context(), params.orgID, params.learnerRef, params.from, params.to, params.cursor, params.pageSize)
	if err != nil {
		var invalid *decisionstore.InvalidCursorError
		if errors.As(err, &invalid) {
			apierror.WriteBadRequest(w, contracts.CodedError{Code: contracts.CodeInvalidPageToken, Message: "page_token is invalid", FieldPath: "page_token"})
			return
		}
		apierror.WriteInternal(w, err)
		return
	}
	if decisions == nil {
		decisions = []contracts.Decision{}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(getDecisionsResponse{Decisions: decisions, NextPageToken: next})
}

// handleGetDecision serves the single-decision fetch:
// GET /v1/decisions/{decision_id}, tenant-scoped like every other route.
func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	orgID := r.URL.Query().Get("org_id")
	if orgID == "" {
		apierror.WriteBadRequest(w, contracts.CodedError{Code: contracts.CodeOrgScopeRequired, Message: "org_id is required"})
		return
	}
	if cerr := authmw.RequireBearerOrgMatch(r, orgID); cerr != nil {
		apierror.WriteUnauthorized(w, cerr.Message)
		return
	}

	decisionID := r.PathValue("decision_id")
	d, err := s.decisions.GetByID(r.Context(), orgID, decisionID)
	if err != nil {
		apierror.WriteInternal(w, err)
		return
	}
	if d == nil {
		apierror.WriteNotFound(w, contracts.CodedError{Code: "decision_not_found", Message: "no decision exists for this org_id/decision_id"})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(d)
}
