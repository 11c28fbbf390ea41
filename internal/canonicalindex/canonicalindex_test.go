package canonicalindex

import "testing"

func TestComputeBijection(t *testing.T) {
	const totalPages, itemsOnLastPage = 5, 7

	seen := map[Position]struct{}{}
	var count int
	for p := int32(1); p <= totalPages; p++ {
		limit := int32(PageSize)
		if p == totalPages {
			limit = itemsOnLastPage
		}
		for s := int32(0); s < limit; s++ {
			pos, err := Compute(totalPages, itemsOnLastPage, p, s)
			if err != nil {
				t.Fatalf("Compute(%d,%d,%d,%d): unexpected error: %v", totalPages, itemsOnLastPage, p, s, err)
			}
			if _, dup := seen[pos]; dup {
				t.Fatalf("position %+v produced by more than one (page,slot)", pos)
			}
			seen[pos] = struct{}{}
			count++
		}
	}

	maxOffset := MaxOffset(totalPages, itemsOnLastPage)
	if int64(count) != maxOffset {
		t.Fatalf("expected %d distinct positions, got %d", maxOffset, count)
	}
	for pos := range seen {
		if pos.PageID < 0 || int64(pos.PageID) >= maxOffset/int64(PageSize)+1 {
			t.Fatalf("page id %d out of expected range", pos.PageID)
		}
	}
}

func TestComputeOldestPageIsPageZero(t *testing.T) {
	pos, err := Compute(5, 7, 5, 6)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.PageID != 0 || pos.IndexInPage != 0 {
		t.Fatalf("expected the last slot on the oldest physical page to be (0,0), got %+v", pos)
	}
}

func TestComputeRejectsNonPositiveTotalPages(t *testing.T) {
	if _, err := Compute(0, 7, 1, 0); err == nil {
		t.Fatal("expected ConfigError for non-positive total_pages")
	} else if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("expected *ConfigError, got %T", err)
	}
}

func TestComputeRejectsItemsOnLastPageOutOfRange(t *testing.T) {
	for _, items := range []int32{0, PageSize + 1} {
		if _, err := Compute(5, items, 1, 0); err == nil {
			t.Fatalf("expected ConfigError for items_on_last_page=%d", items)
		}
	}
}

func TestComputeRejectsSlotOutOfRangeOnOldestPage(t *testing.T) {
	if _, err := Compute(5, 7, 5, 7); err == nil {
		t.Fatal("expected SlotError for a slot beyond items_on_last_page on the oldest page")
	} else if _, ok := err.(*SlotError); !ok {
		t.Fatalf("expected *SlotError, got %T", err)
	}
}

func TestComputeRejectsSlotOutOfRangeOnFullPage(t *testing.T) {
	if _, err := Compute(5, 7, 2, PageSize); err == nil {
		t.Fatal("expected SlotError for a slot beyond PageSize on a full page")
	}
	if _, err := Compute(5, 7, 2, -1); err == nil {
		t.Fatal("expected SlotError for a negative slot")
	}
}

func TestComputeRejectsPhysicalPageOutOfRange(t *testing.T) {
	if _, err := Compute(5, 7, 0, 0); err == nil {
		t.Fatal("expected ConfigError for physical_page 0")
	}
	if _, err := Compute(5, 7, 6, 0); err == nil {
		t.Fatal("expected ConfigError for physical_page beyond total_pages")
	}
}

func TestPhysicalFromPageIDIsComputeInverse(t *testing.T) {
	const totalPages, itemsOnLastPage = 5, 7
	for p := int32(1); p <= totalPages; p++ {
		pos, err := Compute(totalPages, itemsOnLastPage, p, 0)
		if err != nil {
			t.Fatalf("Compute(%d,0): unexpected error: %v", p, err)
		}
		if got := PhysicalFromPageID(totalPages, pos.PageID); got != p {
			t.Fatalf("PhysicalFromPageID(%d, %d) = %d, want %d", totalPages, pos.PageID, got, p)
		}
	}
}

func TestNewlyPrependedPageKeepsExistingPageIDsStable(t *testing.T) {
	// An item's page_id must be stable across a site growing by one page,
	// because canonical identity is anchored to the oldest page, not the
	// newest.
	before, err := Compute(5, 7, 5, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, err := Compute(6, 7, 6, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if before != after {
		t.Fatalf("expected stable canonical position across growth, got %+v before vs %+v after", before, after)
	}
}
