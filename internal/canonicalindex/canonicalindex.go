// Package canonicalindex maps a physical (page, slot) position on a
// forward-growing paginated site to a stable canonical (page_id,
// index_in_page) position, so that a product's identity survives the site
// prepending new items ahead of it.
package canonicalindex

import "fmt"

// PageSize is the fixed item count per full page. It is a domain invariant,
// not a tunable: a page reporting a different count (other than the oldest
// page) is an anomaly for Validation to report, not a reconfiguration.
const PageSize = 12

// Position is a canonical (page_id, index_in_page) pair.
type Position struct {
	PageID      int32
	IndexInPage int32
}

// ConfigError reports a fatal, non-retryable misconfiguration of the
// pagination parameters (e.g. non-positive total_pages).
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "canonicalindex: " + e.Reason }

// SlotError reports a slot index that cannot exist on the given physical
// page (out-of-range on the oldest page, or negative/overflowing on any
// page).
type SlotError struct {
	Physical int32
	Slot     int32
	Reason   string
}

func (e *SlotError) Error() string {
	return fmt.Sprintf("canonicalindex: invalid slot %d on physical page %d: %s", e.Slot, e.Physical, e.Reason)
}

// Compute returns the canonical position for an item observed at
// physical page P, slot S, given a site whose oldest page is T and whose
// oldest page carries L items (1..PageSize).
//
// Page IDs are anchored to the oldest page: physical page T gets the
// smallest page_ids. For P < T every page holds exactly PageSize items; for
// P == T only the first L slots are valid.
func Compute(totalPages, itemsOnLastPage, physicalPage, slotInPage int32) (Position, error) {
	if totalPages <= 0 {
		return Position{}, &ConfigError{Reason: fmt.Sprintf("total_pages must be positive, got %d", totalPages)}
	}
	if itemsOnLastPage <= 0 || itemsOnLastPage > PageSize {
		return Position{}, &ConfigError{Reason: fmt.Sprintf("items_on_last_page must be in [1, %d], got %d", PageSize, itemsOnLastPage)}
	}
	if physicalPage <= 0 || physicalPage > totalPages {
		return Position{}, &ConfigError{Reason: fmt.Sprintf("physical_page must be in [1, %d], got %d", totalPages, physicalPage)}
	}
	if physicalPage == totalPages {
		if slotInPage < 0 || slotInPage >= itemsOnLastPage {
			return Position{}, &SlotError{Physical: physicalPage, Slot: slotInPage, Reason: "oldest page only has items_on_last_page slots"}
		}
	} else if slotInPage < 0 || slotInPage >= PageSize {
		return Position{}, &SlotError{Physical: physicalPage, Slot: slotInPage, Reason: "slot out of [0, PageSize) range"}
	}

	offsetFromOldest := int64(totalPages-physicalPage)*int64(PageSize) + int64(PageSize-1-slotInPage)
	// The oldest page shifts the origin: its slots only span [0, L), so an
	// offset computed against a full PageSize must be rebased by the
	// PageSize-L slots that don't exist on the oldest page.
	offsetFromOldest -= int64(PageSize - itemsOnLastPage)

	pageID := offsetFromOldest / int64(PageSize)
	indexInPage := offsetFromOldest % int64(PageSize)

	return Position{PageID: int32(pageID), IndexInPage: int32(indexInPage)}, nil
}

// MaxOffset returns the exclusive upper bound of valid offsets for a site
// with the given (totalPages, itemsOnLastPage), i.e. the bijection's range
// is [0, MaxOffset).
func MaxOffset(totalPages, itemsOnLastPage int32) int64 {
	return int64(totalPages-1)*int64(PageSize) + int64(itemsOnLastPage)
}

// PhysicalFromPageID converts a canonical page_id back to the physical page
// number it currently lives on, given the site's current total_pages. This
// is the inverse operation the Planner uses to resume an incremental crawl
// from a previously-seen canonical position.
func PhysicalFromPageID(totalPages, pageID int32) int32 {
	return totalPages - pageID
}
