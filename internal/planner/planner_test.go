package planner

import (
	"testing"

	"github.com/fntelecomllc/crawlkernel/internal/models"
)

func TestComputeManualModeIsClamped(t *testing.T) {
	r := Compute(Request{
		Mode:        ModeManual,
		ManualStart: 9999,
		ManualEnd:   0,
		Site:        models.SiteStatus{TotalPages: 50},
	})
	if r.StartOldest != 50 {
		t.Fatalf("StartOldest = %d, want clamped to TotalPages=50", r.StartOldest)
	}
	if r.EndNewest != 1 {
		t.Fatalf("EndNewest = %d, want clamped to 1", r.EndNewest)
	}
	if r.Reason != "manual" {
		t.Fatalf("Reason = %q, want %q", r.Reason, "manual")
	}
}

func TestComputeManualModeSwapsInvertedBounds(t *testing.T) {
	r := Compute(Request{
		Mode:        ModeManual,
		ManualStart: 5,
		ManualEnd:   20,
		Site:        models.SiteStatus{TotalPages: 50},
	})
	if r.StartOldest < r.EndNewest {
		t.Fatalf("expected StartOldest >= EndNewest after clamp, got start=%d end=%d", r.StartOldest, r.EndNewest)
	}
}

func TestComputeIntelligentEmptyDbIsConservative(t *testing.T) {
	r := Compute(Request{
		Mode:           ModeIntelligent,
		PageRangeLimit: 30,
		Site:           models.SiteStatus{TotalPages: 500},
		Db:             models.DbAnalysis{IsEmpty: true},
		PageSize:       12,
	})
	if r.Reason != "empty_db_conservative_first_run" {
		t.Fatalf("Reason = %q, want empty_db_conservative_first_run", r.Reason)
	}
	if r.StartOldest != 30 {
		t.Fatalf("StartOldest = %d, want budget=30 for a fresh site", r.StartOldest)
	}
}

func TestComputeIntelligentEmptyDbBudgetCappedAt50(t *testing.T) {
	r := Compute(Request{
		Mode:           ModeIntelligent,
		PageRangeLimit: 1000,
		Site:           models.SiteStatus{TotalPages: 2000},
		Db:             models.DbAnalysis{IsEmpty: true},
		PageSize:       12,
	})
	if r.StartOldest != 50 {
		t.Fatalf("StartOldest = %d, want capped at 50", r.StartOldest)
	}
}

func TestComputeIntelligentIncrementalResumesFromMaxPageID(t *testing.T) {
	r := Compute(Request{
		Mode:           ModeIntelligent,
		PageRangeLimit: 10,
		Site:           models.SiteStatus{TotalPages: 100},
		Db:             models.DbAnalysis{TotalProducts: 1000, MaxPageID: 5},
		PageSize:       12,
	})
	if r.Reason != "incremental" {
		t.Fatalf("Reason = %q, want incremental", r.Reason)
	}
	// mPhysical = T - MaxPageID = 95; EndNewest should resume just past it.
	if r.EndNewest != 96 {
		t.Fatalf("EndNewest = %d, want 96 (resume point)", r.EndNewest)
	}
}

func TestComputeIntelligentAlreadyCaughtUpStaysWithinBounds(t *testing.T) {
	// The crawl has already reached the site's oldest page; clamp's
	// swap-on-inversion guarantee means StartOldest never ends up below
	// EndNewest regardless of how far MaxPageID has advanced.
	r := Compute(Request{
		Mode:           ModeIntelligent,
		PageRangeLimit: 10,
		Site:           models.SiteStatus{TotalPages: 100},
		Db:             models.DbAnalysis{TotalProducts: 1000, MaxPageID: 100},
		PageSize:       12,
	})
	if r.StartOldest < r.EndNewest {
		t.Fatalf("invariant violated: start=%d < end=%d", r.StartOldest, r.EndNewest)
	}
}

func TestComputeVerificationModeUsesExplicitPages(t *testing.T) {
	r := Compute(Request{
		Mode:              ModeVerification,
		VerificationPages: []int32{10, 3, 7},
		Site:              models.SiteStatus{TotalPages: 100},
	})
	if r.StartOldest != 10 || r.EndNewest != 3 {
		t.Fatalf("got start=%d end=%d, want start=10 end=3", r.StartOldest, r.EndNewest)
	}
}

func TestComputeVerificationModeDefaultsToLastPages(t *testing.T) {
	r := Compute(Request{
		Mode:           ModeVerification,
		PageRangeLimit: 5,
		Site:           models.SiteStatus{TotalPages: 100},
	})
	if r.StartOldest != 5 || r.EndNewest != 1 {
		t.Fatalf("got start=%d end=%d, want start=5 end=1", r.StartOldest, r.EndNewest)
	}
}

func TestClampMarksCompleteCrawl(t *testing.T) {
	r := Compute(Request{
		Mode:        ModeManual,
		ManualStart: 100,
		ManualEnd:   1,
		Site:        models.SiteStatus{TotalPages: 100},
	})
	if !r.IsCompleteCrawl {
		t.Fatal("expected IsCompleteCrawl when range spans the entire site")
	}
}
