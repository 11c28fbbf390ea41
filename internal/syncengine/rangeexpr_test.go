package syncengine

import (
	"testing"
)

func TestParseRangesDescendingMerge(t *testing.T) {
	ranges, err := ParseRanges("498-492,489,487-485")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Range{{Start: 498, End: 492}, {Start: 489, End: 489}, {Start: 487, End: 485}}
	if len(ranges) != len(want) {
		t.Fatalf("ParseRanges() = %+v, want %+v", ranges, want)
	}
	for i := range want {
		if ranges[i] != want[i] {
			t.Fatalf("ranges[%d] = %+v, want %+v", i, ranges[i], want[i])
		}
	}
}

func TestParseRangesMergesOverlapping(t *testing.T) {
	ranges, err := ParseRanges("10-5,7-3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 1 || ranges[0] != (Range{Start: 10, End: 3}) {
		t.Fatalf("expected overlapping ranges to merge into one span, got %+v", ranges)
	}
}

func TestParseRangesMergesAdjacent(t *testing.T) {
	ranges, err := ParseRanges("10-8,7-5")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 1 || ranges[0] != (Range{Start: 10, End: 5}) {
		t.Fatalf("expected adjacent ranges to merge into one span, got %+v", ranges)
	}
}

func TestParseRangesNormalizesUnicodeDashes(t *testing.T) {
	ranges, err := ParseRanges("10–5") // en dash
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 1 || ranges[0] != (Range{Start: 10, End: 5}) {
		t.Fatalf("expected unicode dash to normalize to ascii '-', got %+v", ranges)
	}
}

func TestParseRangesAcceptsReversedTokenOrder(t *testing.T) {
	ranges, err := ParseRanges("5-10")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranges) != 1 || ranges[0] != (Range{Start: 10, End: 5}) {
		t.Fatalf("expected start/end to be swapped into descending order, got %+v", ranges)
	}
}

func TestParseRangesRejectsEmptyExpression(t *testing.T) {
	if _, err := ParseRanges(""); err == nil {
		t.Fatal("expected an error for an empty range expression")
	}
	if _, err := ParseRanges("  , , "); err == nil {
		t.Fatal("expected an error for an expression with no tokens")
	}
}

func TestParseRangesRejectsInvalidToken(t *testing.T) {
	if _, err := ParseRanges("abc"); err == nil {
		t.Fatal("expected an error for a non-numeric token")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	exprs := []string{"498-492,489,487-485", "1", "10-1"}
	for _, expr := range exprs {
		ranges, err := ParseRanges(expr)
		if err != nil {
			t.Fatalf("ParseRanges(%q): unexpected error: %v", expr, err)
		}
		reparsed, err := ParseRanges(Serialize(ranges))
		if err != nil {
			t.Fatalf("ParseRanges(Serialize(...)) for %q: unexpected error: %v", expr, err)
		}
		if len(reparsed) != len(ranges) {
			t.Fatalf("round-trip for %q changed range count: %+v vs %+v", expr, ranges, reparsed)
		}
		for i := range ranges {
			if ranges[i] != reparsed[i] {
				t.Fatalf("round-trip for %q: %+v != %+v", expr, ranges[i], reparsed[i])
			}
		}
	}
}

func TestExpandBoundaryOrderMatchesScenarioC(t *testing.T) {
	pages := ExpandBoundary(Range{Start: 10, End: 5}, 20)
	want := []int32{11, 4, 10, 9, 8, 7, 6, 5}
	if len(pages) != len(want) {
		t.Fatalf("ExpandBoundary() = %v, want %v", pages, want)
	}
	for i := range want {
		if pages[i] != want[i] {
			t.Fatalf("pages[%d] = %d, want %d (full: %v)", i, pages[i], want[i], pages)
		}
	}
}

func TestExpandBoundarySkipsOutOfRangeNeighbors(t *testing.T) {
	// End-1 would be 0, and Start+1 would exceed totalPages; neither exists.
	pages := ExpandBoundary(Range{Start: 5, End: 1}, 5)
	for _, p := range pages {
		if p == 6 || p == 0 {
			t.Fatalf("ExpandBoundary produced an out-of-range page: %v", pages)
		}
	}
	want := []int32{5, 4, 3, 2, 1}
	if len(pages) != len(want) {
		t.Fatalf("ExpandBoundary() = %v, want %v", pages, want)
	}
	for i := range want {
		if pages[i] != want[i] {
			t.Fatalf("pages[%d] = %d, want %d", i, pages[i], want[i])
		}
	}
}

func TestExpandBoundaryDeduplicatesOverlapWithCoreRange(t *testing.T) {
	// A single-page range whose neighbors would otherwise duplicate the
	// core page.
	pages := ExpandBoundary(Range{Start: 5, End: 5}, 10)
	seen := map[int32]int{}
	for _, p := range pages {
		seen[p]++
	}
	for p, n := range seen {
		if n > 1 {
			t.Fatalf("page %d appeared %d times in %v, expected each page exactly once", p, n, pages)
		}
	}
}
