// Package syncengine implements the partial-resync pipeline: range
// expression parsing/normalization/merge, canonical-boundary expansion,
// and the bounded sweep-delete rule.
package syncengine

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"
)

// Range is an inclusive physical-page span in reverse order
// (Start >= End): Start is the older page, so a span reads oldest to
// newest.
type Range struct {
	Start int32
	End   int32
}

// unicodeDashes are the non-ASCII dash/tilde glyphs users may paste when
// copying a range expression from a UI tooltip or a spreadsheet.
var unicodeDashes = []string{"‒", "–", "—", "―", "⁓", "〜", "～"}

// ParseRanges parses a comma-separated list of single pages or inclusive
// ranges like "498-492,489,487-485" into a normalized, descending,
// overlap-merged list of Range.
func ParseRanges(expr string) ([]Range, error) {
	normalized := expr
	for _, d := range unicodeDashes {
		normalized = strings.ReplaceAll(normalized, d, "-")
	}

	var ranges []Range
	for _, tok := range strings.Split(normalized, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		r, err := parseToken(tok)
		if err != nil {
			return nil, fmt.Errorf("syncengine: %w", err)
		}
		ranges = append(ranges, r)
	}
	if len(ranges) == 0 {
		return nil, fmt.Errorf("syncengine: empty range expression")
	}
	return mergeRanges(ranges), nil
}

func parseToken(tok string) (Range, error) {
	parts := strings.SplitN(tok, "-", 2)
	if len(parts) == 1 {
		v, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return Range{}, fmt.Errorf("invalid page %q: %w", tok, err)
		}
		return Range{Start: int32(v), End: int32(v)}, nil
	}
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return Range{}, fmt.Errorf("invalid range start in %q: %w", tok, err)
	}
	end, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return Range{}, fmt.Errorf("invalid range end in %q: %w", tok, err)
	}
	if start < end {
		start, end = end, start
	}
	return Range{Start: int32(start), End: int32(end)}, nil
}

// mergeRanges sorts descending by Start and merges overlapping/adjacent
// ranges.
func mergeRanges(ranges []Range) []Range {
	slices.SortFunc(ranges, func(a, b Range) int {
		return int(b.Start - a.Start)
	})
	merged := make([]Range, 0, len(ranges))
	for _, r := range ranges {
		if n := len(merged); n > 0 && r.Start >= merged[n-1].End-1 {
			if r.End < merged[n-1].End {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Serialize renders a normalized range list back into the "a-b,c" form,
// used to confirm the round-trip property in spec §8.
func Serialize(ranges []Range) string {
	parts := make([]string, 0, len(ranges))
	for _, r := range ranges {
		if r.Start == r.End {
			parts = append(parts, strconv.Itoa(int(r.Start)))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", r.Start, r.End))
		}
	}
	return strings.Join(parts, ",")
}

// ExpandBoundary adds one page older (Start+1) if it exists, and one page
// newer (End-1) if it exists, per spec §4.8's canonical-boundary-miss
// prevention. The order matches spec.md Scenario C: the older boundary
// page first, then the newer boundary page, then the originally-requested
// core pages (descending) -- execution order is cosmetic (per-page work is
// independent) but kept stable so event-ordering expectations in tests are
// deterministic.
func ExpandBoundary(r Range, totalPages int32) []int32 {
	seen := map[int32]struct{}{}
	var pages []int32
	add := func(p int32) {
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		pages = append(pages, p)
	}
	if r.Start+1 <= totalPages {
		add(r.Start + 1)
	}
	if r.End-1 >= 1 {
		add(r.End - 1)
	}
	for p := r.Start; p >= r.End; p-- {
		add(p)
	}
	return pages
}
