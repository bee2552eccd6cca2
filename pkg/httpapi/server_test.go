package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/meridianlabs/licl/pkg/contracts"
	"github.com/meridianlabs/licl/pkg/decision"
	"github.com/meridianlabs/licl/pkg/decisionstore"
	"github.com/meridianlabs/licl/pkg/idempotency"
	"github.com/meridianlabs/licl/pkg/orchestrator"
	"github.com/meridianlabs/licl/pkg/policy"
	"github.com/meridianlabs/licl/pkg/signallog"
	"github.com/meridianlabs/licl/pkg/state"
	"github.com/meridianlabs/licl/pkg/telemetry"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	idx, err := idempotency.NewSQLiteIndex(db)
	require.NoError(t, err)
	sl, err := signallog.NewSQLiteStore(db)
	require.NoError(t, err)
	stStore, err := state.NewSQLiteStore(db)
	require.NoError(t, err)
	dStore, err := decisionstore.NewSQLiteStore(db)
	require.NoError(t, err)

	polRaw, _ := json.Marshal(contracts.PolicyDefinition{
		PolicyVersion:       "2.0.0",
		DefaultDecisionType: contracts.DecisionReinforce,
		Rules: []contracts.Rule{
			{
				RuleID: "rule-reinforce",
				Condition: contracts.ConditionNode{All: []contracts.ConditionNode{
					{Field: "stabilityScore", Operator: contracts.OpLt, Value: 0.7},
					{Field: "timeSinceReinforcement", Operator: contracts.OpGt, Value: float64(86400)},
				}},
				DecisionType: contracts.DecisionReinforce,
			},
		},
	})
	pol, err := policy.Load(polRaw)
	require.NoError(t, err)

	tel, err := telemetry.New(context.Background(), &telemetry.Config{Enabled: false})
	require.NoError(t, err)

	stateEngine := state.NewEngine(sl, stStore)
	decisionEngine := decision.NewEngine(decision.AdaptStateEngine(stateEngine), dStore, pol, tel)
	orch := orchestrator.New(idx, sl, stateEngine, decisionEngine, tel)

	return New(orch, sl, dStore, HealthInfo{PolicyHash: "test-hash", StorageDriver: "sqlite", StartedAt: time.Now()})
}

func ingestEnvelope(t *testing.T, srv *Server, orgID, signalID, learnerRef string, payload map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"org_id":             orgID,
		"signal_id":          signalID,
		"source_system":      "lms",
		"learner_reference":  learnerRef,
		"timestamp":          "2026-01-01T00:00:00Z",
		"schema_version":     "v1",
		"payload":            payload,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/signals", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp healthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "ok", resp.Status)
	require.Equal(t, "test-hash", resp.PolicyHash)
	require.Equal(t, "sqlite", resp.StorageDriver)
	require.GreaterOrEqual(t, resp.UptimeSeconds, int64(0))
}

func TestIngestAndQuerySignalsRoundTrip(t *testing.T) {
	srv := newTestServer(t)
	w := ingestEnvelope(t, srv, "org-a", "sig-1", "learner-1", map[string]any{"stabilityScore": 0.28})
	require.Equal(t, http.StatusOK, w.Code)

	var ingestResp signalIngestResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ingestResp))
	require.Equal(t, "accepted", ingestResp.Status)

	url := "/v1/signals?org_id=org-a&learner_reference=learner-1&from_time=2025-01-01T00:00:00Z&to_time=2027-01-01T00:00:00Z"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	qw := httptest.NewRecorder()
	srv.Router().ServeHTTP(qw, req)
	require.Equal(t, http.StatusOK, qw.Code)

	var resp signalLogReadResponse
	require.NoError(t, json.Unmarshal(qw.Body.Bytes(), &resp))
	require.Len(t, resp.Signals, 1)
	require.Equal(t, "sig-1", resp.Signals[0].SignalID)
}

func TestIngestDuplicateReturnsDuplicateStatus(t *testing.T) {
	srv := newTestServer(t)
	first := ingestEnvelope(t, srv, "org-a", "sig-dup", "learner-1", map[string]any{"stabilityScore": 0.5})
	second := ingestEnvelope(t, srv, "org-a", "sig-dup", "learner-1", map[string]any{"stabilityScore": 0.5})

	var firstResp, secondResp signalIngestResult
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &firstResp))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &secondResp))

	require.Equal(t, "duplicate", secondResp.Status)
	require.Equal(t, firstResp.ReceivedAt, secondResp.ReceivedAt)
}

func TestIngestRejectedOnForbiddenKey(t *testing.T) {
	srv := newTestServer(t)
	w := ingestEnvelope(t, srv, "org-a", "sig-bad", "learner-1", map[string]any{"workflow": map[string]any{"step": 1}})
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp signalIngestResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "rejected", resp.Status)
	require.NotNil(t, resp.RejectionReason)
	require.Equal(t, contracts.CodeForbiddenSemanticKey, resp.RejectionReason.Code)
}

func TestIngestThenDecisionReachableViaQueryAndGetByID(t *testing.T) {
	srv := newTestServer(t)
	w := ingestEnvelope(t, srv, "org-a", "sig-1", "learner-1", map[string]any{
		"stabilityScore": 0.28, "timeSinceReinforcement": 90000,
	})
	require.Equal(t, http.StatusOK, w.Code)

	url := "/v1/decisions?org_id=org-a&learner_reference=learner-1&from_time=2025-01-01T00:00:00Z&to_time=2027-01-01T00:00:00Z"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	qw := httptest.NewRecorder()
	srv.Router().ServeHTTP(qw, req)
	require.Equal(t, http.StatusOK, qw.Code)

	var resp getDecisionsResponse
	require.NoError(t, json.Unmarshal(qw.Body.Bytes(), &resp))
	require.Len(t, resp.Decisions, 1)
	require.Equal(t, contracts.DecisionReinforce, resp.Decisions[0].DecisionType)
	require.NotNil(t, resp.Decisions[0].Trace.MatchedRuleID)
	require.Equal(t, "rule-reinforce", *resp.Decisions[0].Trace.MatchedRuleID)

	getURL := "/v1/decisions/" + resp.Decisions[0].DecisionID + "?org_id=org-a"
	getReq := httptest.NewRequest(http.MethodGet, getURL, nil)
	getW := httptest.NewRecorder()
	srv.Router().ServeHTTP(getW, getReq)
	require.Equal(t, http.StatusOK, getW.Code)

	var got contracts.Decision
	require.NoError(t, json.Unmarshal(getW.Body.Bytes(), &got))
	require.Equal(t, resp.Decisions[0].DecisionID, got.DecisionID)
}

func TestQueryMissingOrgIDRejected(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/signals?learner_reference=learner-1&from_time=2025-01-01T00:00:00Z&to_time=2027-01-01T00:00:00Z", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var ce contracts.CodedError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ce))
	require.Equal(t, contracts.CodeOrgScopeRequired, ce.Code)
}

func TestQueryPageSizeOutOfRangeRejected(t *testing.T) {
	srv := newTestServer(t)
	url := "/v1/signals?org_id=org-a&learner_reference=learner-1&from_time=2025-01-01T00:00:00Z&to_time=2027-01-01T00:00:00Z&page_size=1001"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var ce contracts.CodedError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ce))
	require.Equal(t, contracts.CodePageSizeOutOfRange, ce.Code)
}

func TestQueryInvalidTimeRangeRejected(t *testing.T) {
	srv := newTestServer(t)
	url := "/v1/signals?org_id=org-a&learner_reference=learner-1&from_time=2027-01-01T00:00:00Z&to_time=2025-01-01T00:00:00Z"
	req := httptest.NewRequest(http.MethodGet, url, nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var ce contracts.CodedError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ce))
	require.Equal(t, contracts.CodeInvalidTimeRange, ce.Code)
}
