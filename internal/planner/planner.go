// Package planner implements the CrawlingPlanner: given cached site/db
// analysis, computes the physical page range a session should crawl, in
// one of three modes (intelligent/manual/verification).
package planner

import "github.com/fntelecomllc/crawlkernel/internal/models"

// Mode selects how CalculatedRange is derived.
type Mode string

const (
	ModeIntelligent  Mode = "intelligent"
	ModeManual       Mode = "manual"
	ModeVerification Mode = "verification"
)

// Request is the Planner's input for one computation.
type Request struct {
	Mode             Mode
	PageRangeLimit   int32
	ManualStart      int32 // only used when Mode == ModeManual
	ManualEnd        int32
	VerificationPages []int32 // only used when Mode == ModeVerification
	Site             models.SiteStatus
	Db               models.DbAnalysis
	PageSize         int32
}

const pageSize = 12

// Compute derives a models.CalculatedRange for the given request, applying
// the clamping rules from spec §4.7.
func Compute(req Request) models.CalculatedRange {
	switch req.Mode {
	case ModeManual:
		return clamp(models.CalculatedRange{
			StartOldest: req.ManualStart,
			EndNewest:   req.ManualEnd,
			TotalPages:  req.Site.TotalPages,
			Reason:      "manual",
		}, req)
	case ModeVerification:
		return verification(req)
	default:
		return intelligent(req)
	}
}

func intelligent(req Request) models.CalculatedRange {
	T := req.Site.TotalPages
	N := req.Db.TotalProducts
	size := req.PageSize
	if size <= 0 {
		size = pageSize
	}

	var r models.CalculatedRange
	r.TotalPages = T

	switch {
	case req.Db.IsEmpty:
		budget := req.PageRangeLimit
		if budget > 50 {
			budget = 50
		}
		r.StartOldest = min32(T, budget)
		r.EndNewest = 1
		r.Reason = "empty_db_conservative_first_run"
		r.IsCompleteCrawl = r.StartOldest >= T

	case T > 2*int32(N/int64(size)):
		budget := req.PageRangeLimit * 2
		if budget > 200 {
			budget = 200
		}
		r.StartOldest = min32(T, budget)
		r.EndNewest = 1
		r.Reason = "site_grew_materially_expand_budget"

	default:
		mPhysical := T - req.Db.MaxPageID
		r.StartOldest = min32(T, mPhysical+req.PageRangeLimit)
		r.EndNewest = max32(1, mPhysical+1)
		r.Reason = "incremental"
	}

	if r.StartOldest < r.EndNewest {
		// "nothing to do": fall back to verifying the last pages.
		verifyCount := req.PageRangeLimit
		if verifyCount > 10 {
			verifyCount = 10
		}
		r.StartOldest = min32(T, verifyCount)
		r.EndNewest = 1
		r.Reason = "verification_fallback_nothing_to_do"
	}
	return clamp(r, req)
}

func verification(req Request) models.CalculatedRange {
	T := req.Site.TotalPages
	r := models.CalculatedRange{TotalPages: T, Reason: "verification"}
	if len(req.VerificationPages) == 0 {
		count := req.PageRangeLimit
		if count > 10 {
			count = 10
		}
		r.StartOldest = min32(T, count)
		r.EndNewest = 1
		return clamp(r, req)
	}
	start, end := req.VerificationPages[0], req.VerificationPages[0]
	for _, p := range req.VerificationPages {
		if p > start {
			start = p
		}
		if p < end {
			end = p
		}
	}
	r.StartOldest, r.EndNewest = start, end
	return clamp(r, req)
}

// clamp bounds start_oldest and end_newest to [1, T] and swaps them if
// they end up inverted, so start_oldest >= end_newest. It does not limit
// the span; a range's width is whatever the calling mode computed.
func clamp(r models.CalculatedRange, req Request) models.CalculatedRange {
	T := req.Site.TotalPages
	if T <= 0 {
		T = 1
	}
	if r.StartOldest > T {
		r.StartOldest = T
	}
	if r.StartOldest < 1 {
		r.StartOldest = 1
	}
	if r.EndNewest < 1 {
		r.EndNewest = 1
	}
	if r.EndNewest > T {
		r.EndNewest = T
	}
	if r.StartOldest < r.EndNewest {
		r.StartOldest, r.EndNewest = r.EndNewest, r.StartOldest
	}
	r.TotalPages = T
	r.IsCompleteCrawl = r.IsCompleteCrawl || (r.StartOldest == T && r.EndNewest == 1)
	return r
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
