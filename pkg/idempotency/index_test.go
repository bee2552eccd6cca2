package idempotency

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func TestMemoryIndexFirstAcceptThenDuplicate(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r1, err := idx.CheckAndStore(ctx, "org-a", "sig-1", now)
	if err != nil {
		t.Fatal(err)
	}
	if r1.IsDuplicate {
		t.Fatal("expected first call to be accepted")
	}

	r2, err := idx.CheckAndStore(ctx, "org-a", "sig-1", now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if !r2.IsDuplicate {
		t.Fatal("expected second call to be a duplicate")
	}
	if r2.ReceivedAt != r1.ReceivedAt {
		t.Fatalf("expected original received_at preserved: %s vs %s", r1.ReceivedAt, r2.ReceivedAt)
	}
}

func TestMemoryIndexSameSignalDifferentOrgNotDuplicate(t *testing.T) {
	idx := NewMemoryIndex()
	ctx := context.Background()
	now := time.Now()

	r1, _ := idx.CheckAndStore(ctx, "org-a", "sig-1", now)
	r2, _ := idx.CheckAndStore(ctx, "org-b", "sig-1", now)

	if r1.IsDuplicate || r2.IsDuplicate {
		t.Fatal("same signal_id in different orgs must not be a duplicate")
	}
}

func TestSQLiteIndexFirstAcceptThenDuplicate(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	idx, err := NewSQLiteIndex(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	now := time.Now()

	r1, err := idx.CheckAndStore(ctx, "org-a", "sig-1", now)
	if err != nil {
		t.Fatal(err)
	}
	if r1.IsDuplicate {
		t.Fatal("expected first call accepted")
	}

	r2, err := idx.CheckAndStore(ctx, "org-a", "sig-1", now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if !r2.IsDuplicate {
		t.Fatal("expected duplicate on replay")
	}
	if r2.ReceivedAt != r1.ReceivedAt {
		t.Fatalf("original received_at must be preserved: %s vs %s", r1.ReceivedAt, r2.ReceivedAt)
	}
}
