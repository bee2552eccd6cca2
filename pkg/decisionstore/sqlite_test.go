package decisionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/meridianlabs/licl/pkg/contracts"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	s, err := NewSQLiteStore(db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func decision(org, id, learnerRef, decidedAt string) contracts.Decision {
	ruleID := "rule-reinforce"
	return contracts.Decision{
		OrgID:            org,
		DecisionID:       id,
		LearnerReference: learnerRef,
		DecisionType:     contracts.DecisionReinforce,
		DecidedAt:        decidedAt,
		DecisionContext:  json.RawMessage(`{}`),
		Trace: contracts.Trace{
			StateID: learnerRef + ":v1", StateVersion: 1, PolicyVersion: "2.0.0", MatchedRuleID: &ruleID,
		},
	}
}

func TestSaveAndGetByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.Save(ctx, decision("org-a", "dec-1", "learner-1", "2026-01-01T00:00:00Z")); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetByID(ctx, "org-a", "dec-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.DecisionType != contracts.DecisionReinforce {
		t.Fatalf("unexpected result: %+v", got)
	}
	if *got.Trace.MatchedRuleID != "rule-reinforce" {
		t.Fatalf("unexpected matched_rule_id: %v", got.Trace.MatchedRuleID)
	}
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	s := openTestStore(t)
	got, err := s.GetByID(context.Background(), "org-a", "no-such-decision")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatal("expected nil for missing decision")
	}
}

func TestQueryByRangeOrdersAndPaginates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	times := []string{"2026-01-01T00:00:00Z", "2026-01-01T01:00:00Z", "2026-01-01T02:00:00Z"}
	for i, ts := range times {
		if err := s.Save(ctx, decision("org-a", "dec-"+string(rune('1'+i)), "learner-1", ts)); err != nil {
			t.Fatal(err)
		}
	}

	page1, cursor1, err := s.QueryByRange(ctx, "org-a", "learner-1", "2026-01-01T00:00:00Z", "2026-01-01T23:59:59Z", "", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page1) != 2 || cursor1 == "" {
		t.Fatalf("expected 2 results with next cursor, got %d, cursor=%q", len(page1), cursor1)
	}

	page2, cursor2, err := s.QueryByRange(ctx, "org-a", "learner-1", "2026-01-01T00:00:00Z", "2026-01-01T23:59:59Z", cursor1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page2) != 1 || cursor2 != "" {
		t.Fatalf("expected final page of 1, got %d, cursor=%q", len(page2), cursor2)
	}
}

func TestQueryByRangePageSizeOneWalkIsDeterministic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	times := []string{"2026-01-01T10:00:00Z", "2026-01-01T11:00:00Z", "2026-01-01T12:00:00Z"}
	for i, ts := range times {
		if err := s.Save(ctx, decision("org-a", "dec-"+string(rune('1'+i)), "learner-1", ts)); err != nil {
			t.Fatal(err)
		}
	}

	walk := func() ([]string, []string) {
		var ids, cursors []string
		cursor := ""
		for i := 0; i < 3; i++ {
			page, next, err := s.QueryByRange(ctx, "org-a", "learner-1",
				"2026-01-01T00:00:00Z", "2026-01-01T23:59:59Z", cursor, 1)
			if err != nil {
				t.Fatal(err)
			}
			if len(page) != 1 {
				t.Fatalf("expected exactly one decision per page, got %d", len(page))
			}
			ids = append(ids, page[0].DecisionID)
			cursors = append(cursors, next)
			cursor = next
		}
		return ids, cursors
	}

	ids1, cursors1 := walk()
	ids2, cursors2 := walk()

	if ids1[0] != "dec-1" || ids1[1] != "dec-2" || ids1[2] != "dec-3" {
		t.Fatalf("expected decided_at order with no repeats, got %v", ids1)
	}
	if cursors1[2] != "" {
		t.Fatalf("expected exhausted walk to end with an empty cursor, got %q", cursors1[2])
	}
	for i := range ids1 {
		if ids1[i] != ids2[i] || cursors1[i] != cursors2[i] {
			t.Fatalf("non-deterministic pagination: %v/%v vs %v/%v", ids1, cursors1, ids2, cursors2)
		}
	}
}
