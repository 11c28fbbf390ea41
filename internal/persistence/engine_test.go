package persistence

import "testing"

func TestUpsertResultUnchanged(t *testing.T) {
	r := UpsertResult{Attempted: 10, Inserted: 2, Updated: 3, Duplicates: 1}
	if got := r.Unchanged(); got != 4 {
		t.Fatalf("Unchanged() = %d, want 4", got)
	}
}

func TestUpsertResultClassify(t *testing.T) {
	cases := []struct {
		name string
		r    UpsertResult
		want string
	}{
		{"empty", UpsertResult{Attempted: 0}, "persist_empty"},
		{"all inserted", UpsertResult{Attempted: 5, Inserted: 5}, "persist_inserted"},
		{"all updated", UpsertResult{Attempted: 5, Updated: 5}, "persist_updated"},
		{"mixed insert+update", UpsertResult{Attempted: 5, Inserted: 2, Updated: 3}, "persist_mixed"},
		{"all duplicate", UpsertResult{Attempted: 5, Duplicates: 5}, "persist_noop_all_duplicate"},
		{"some unchanged, some duplicate", UpsertResult{Attempted: 5, Duplicates: 2}, "persist_noop"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := c.r.Classify(); got != c.want {
				t.Fatalf("Classify() = %q, want %q (result=%+v)", got, c.want, c.r)
			}
		})
	}
}
