package stagelogic

import (
	"testing"

	"github.com/fntelecomllc/crawlkernel/internal/canonicalindex"
	"github.com/fntelecomllc/crawlkernel/internal/models"
)

func fullPage(pageID int32) []models.Product {
	rows := make([]models.Product, 0, canonicalindex.PageSize)
	for i := int32(0); i < canonicalindex.PageSize; i++ {
		rows = append(rows, models.Product{PageID: pageID, IndexInPage: i})
	}
	return rows
}

func TestClassifyPageAnomalyFullPageIsClean(t *testing.T) {
	if got := ClassifyPageAnomaly(3, fullPage(3), false); got != nil {
		t.Fatalf("expected no anomaly for a full page, got %+v", got)
	}
}

func TestClassifyPageAnomalySparsePage(t *testing.T) {
	rows := fullPage(3)[:canonicalindex.PageSize-1]
	got := ClassifyPageAnomaly(3, rows, false)
	if got == nil || got.Code != "sparse_page" {
		t.Fatalf("expected sparse_page anomaly, got %+v", got)
	}
}

func TestClassifyPageAnomalyOldestPageExemptFromSparseRule(t *testing.T) {
	rows := fullPage(0)[:canonicalindex.PageSize-1]
	if got := ClassifyPageAnomaly(0, rows, true); got != nil {
		t.Fatalf("expected the oldest page to be exempt from the sparse-page rule, got %+v", got)
	}
}

func TestClassifyPageAnomalyDuplicateIndexTakesPriorityOverSparse(t *testing.T) {
	rows := []models.Product{
		{PageID: 3, IndexInPage: 0},
		{PageID: 3, IndexInPage: 0},
	}
	got := ClassifyPageAnomaly(3, rows, false)
	if got == nil || got.Code != "duplicate_index" {
		t.Fatalf("expected duplicate_index anomaly, got %+v", got)
	}
	if got.PageID != 3 || got.IndexInPage != 0 {
		t.Fatalf("unexpected anomaly detail: %+v", got)
	}
}
