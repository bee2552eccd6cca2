package signallog

import (
	"context"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	_ "modernc.org/sqlite"
)

// TestQueryByRangeDeterministic walks the full result set page by page,
// twice, for a random page size and checks both walks return identical
// record sequences and identical cursors at every step.
func TestQueryByRangeDeterministic(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		acceptedAt := fmt.Sprintf("2026-01-01T0%d:00:00Z", i)
		if err := s.Append(ctx, record("org-a", fmt.Sprintf("sig-%d", i), "learner-1", acceptedAt)); err != nil {
			t.Fatal(err)
		}
	}

	walk := func(pageSize int) ([]string, []string) {
		var ids, cursors []string
		cursor := ""
		for {
			page, next, err := s.QueryByRange(ctx, "org-a", "learner-1",
				"2026-01-01T00:00:00Z", "2026-01-01T23:59:59Z", cursor, pageSize)
			if err != nil {
				t.Fatal(err)
			}
			for _, r := range page {
				ids = append(ids, r.SignalID)
			}
			cursors = append(cursors, next)
			if next == "" {
				break
			}
			cursor = next
		}
		return ids, cursors
	}

	props := gopter.NewProperties(nil)
	props.Property("two identical walks agree on records and cursors", prop.ForAll(
		func(pageSize int) bool {
			ids1, cursors1 := walk(pageSize)
			ids2, cursors2 := walk(pageSize)
			if len(ids1) != 9 || len(ids1) != len(ids2) || len(cursors1) != len(cursors2) {
				return false
			}
			for i := range ids1 {
				if ids1[i] != ids2[i] {
					return false
				}
			}
			for i := range cursors1 {
				if cursors1[i] != cursors2[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 10),
	))

	props.TestingRun(t)
}
