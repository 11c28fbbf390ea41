// Package stagelogic implements the five pure per-stage strategies
// (StatusCheck, ListPage, DetailGroup, Validation, Save) behind a small
// factory, mirroring the teacher's phase-executor dispatch shape
// generalized from a tagged enum of phases to a tagged enum of stages.
package stagelogic

import (
	"context"
	"fmt"

	"github.com/fntelecomllc/crawlkernel/internal/canonicalindex"
	"github.com/fntelecomllc/crawlkernel/internal/capability"
	"github.com/fntelecomllc/crawlkernel/internal/models"
	"github.com/fntelecomllc/crawlkernel/internal/persistence"
)

// Type enumerates the five strategies.
type Type string

const (
	TypeStatusCheck  Type = "status_check"
	TypeListPage     Type = "list_page"
	TypeDetailGroup  Type = "detail_group"
	TypeValidation   Type = "validation"
	TypeSave         Type = "save"
)

// Deps bundles the collaborators every strategy may need. Not every
// strategy uses every field.
type Deps struct {
	Fetcher    capability.Fetcher
	Extractor  capability.Extractor
	Engine     *persistence.Engine
	SiteConfig SiteConfig
}

// SiteConfig carries the fetch-time parameters from RunConfig/SiteConfig
// that stage logic needs but doesn't own (the capability adapters are out
// of kernel scope per spec §1).
type SiteConfig struct {
	BaseURL   string
	UserAgent string
	Referer   string
}

// Output is the generic result of one strategy invocation; only the
// fields relevant to the invoked Type are populated.
type Output struct {
	SiteStatus    *models.SiteStatus
	ProductURLs   []string
	ProductDetail *models.ProductDetail
	Anomalies     []ValidationAnomaly
	Upsert        *persistence.UpsertResult
	UpsertAnoms   []persistence.Anomaly
}

// ValidationAnomaly is one divergence found scanning the products table.
type ValidationAnomaly struct {
	Code        string
	PageID      int32
	IndexInPage int32
}

// Input is the generic per-item invocation payload; only the fields
// relevant to the invoked Type are populated, matching spec §9's
// "execute(input: {stage_type, item, config, deps}) -> Output" surface.
type Input struct {
	Type Type

	// ListPage
	PhysicalPage     int32
	TotalPages       int32
	ItemsOnLastPage  int32

	// DetailGroup
	URL string

	// Validation
	PageIDs []int32

	// Save
	Items []persistence.Item
}

// Execute dispatches to the strategy named by input.Type. Implementers of
// a systems language without a generic Output could use a trait-object
// registry instead of this switch; either is semantically equivalent (see
// SPEC_FULL.md §9).
func Execute(ctx context.Context, deps Deps, input Input) (Output, error) {
	switch input.Type {
	case TypeStatusCheck:
		return statusCheck(ctx, deps)
	case TypeListPage:
		return listPage(ctx, deps, input)
	case TypeDetailGroup:
		return detailGroup(ctx, deps, input)
	case TypeValidation:
		return validation(ctx, deps, input)
	case TypeSave:
		return save(ctx, deps, input)
	default:
		return Output{}, fmt.Errorf("stagelogic: unknown stage type %q", input.Type)
	}
}

func statusCheck(ctx context.Context, deps Deps) (Output, error) {
	resp, err := deps.Fetcher.Fetch(ctx, deps.SiteConfig.BaseURL, capability.FetchOptions{
		UserAgent: deps.SiteConfig.UserAgent,
		Referer:   deps.SiteConfig.Referer,
	})
	if err != nil {
		return Output{}, fmt.Errorf("status check fetch: %w", err)
	}
	body, err := resp.Text()
	if err != nil {
		return Output{}, fmt.Errorf("status check read: %w", err)
	}
	totalPages, err := deps.Extractor.ExtractTotalPages(body)
	if err != nil {
		return Output{}, fmt.Errorf("status check extract: %w", err)
	}
	last, err := listPage(ctx, deps, Input{Type: TypeListPage, PhysicalPage: totalPages})
	if err != nil {
		return Output{}, fmt.Errorf("status check last page: %w", err)
	}
	onLastPage := int32(len(last.ProductURLs))
	return Output{SiteStatus: &models.SiteStatus{
		TotalPages: totalPages,
		ProductsOnLastPage: onLastPage,
		EstimatedTotal: int64(totalPages-1)*canonicalindex.PageSize + int64(onLastPage),
		Accessible: true,
		HealthScore: 1.0,
	}}, nil
}

func listPage(ctx context.Context, deps Deps, in Input) (Output, error) {
	url := fmt.Sprintf("%s?page=%d", deps.SiteConfig.BaseURL, in.PhysicalPage)
	resp, err := deps.Fetcher.Fetch(ctx, url, capability.FetchOptions{
		UserAgent: deps.SiteConfig.UserAgent,
		Referer:   deps.SiteConfig.Referer,
	})
	if err != nil {
		return Output{}, fmt.Errorf("list page fetch: %w", err)
	}
	body, err := resp.Text()
	if err != nil {
		return Output{}, fmt.Errorf("list page read: %w", err)
	}
	urls, err := deps.Extractor.ExtractProductURLs(body)
	if err != nil {
		return Output{}, fmt.Errorf("list page extract: %w", err)
	}
	return Output{ProductURLs: urls}, nil
}

func detailGroup(ctx context.Context, deps Deps, in Input) (Output, error) {
	resp, err := deps.Fetcher.Fetch(ctx, in.URL, capability.FetchOptions{
		UserAgent: deps.SiteConfig.UserAgent,
		Referer:   deps.SiteConfig.Referer,
	})
	if err != nil {
		return Output{}, fmt.Errorf("detail fetch: %w", err)
	}
	body, err := resp.Text()
	if err != nil {
		return Output{}, fmt.Errorf("detail read: %w", err)
	}
	detail, err := deps.Extractor.ExtractProductDetail(body, in.URL)
	if err != nil {
		return Output{}, fmt.Errorf("detail extract: %w", err)
	}
	return Output{ProductDetail: detail}, nil
}

// validation reads no rows and always returns an empty Anomalies list: the
// per-page scan for sparse-page / duplicate-index anomalies is done by
// internal/actors' ValidationDriver, which lists each page's rows and
// classifies them with ClassifyPageAnomaly.
func validation(ctx context.Context, deps Deps, in Input) (Output, error) {
	var anomalies []ValidationAnomaly
	repo := deps.Engine.AsRepository()
	for _, pageID := range in.PageIDs {
		_ = repo // reserved: a Store-level scan lives in internal/actors' validation driver,
		// which has direct Store access; this pure strategy only classifies
		// a pre-fetched slot count, since "list rows for a page_id" is a
		// storage query, not stage logic.
		_ = pageID
	}
	return Output{Anomalies: anomalies}, nil
}

// ClassifyPageAnomaly classifies one canonical page's observed product
// rows against PageSize, implementing spec §4.1/§8's sparse/duplicate
// rules. isOldest pages are exempt from the sparse-page rule.
func ClassifyPageAnomaly(pageID int32, rows []models.Product, isOldest bool) *ValidationAnomaly {
	seen := make(map[int32]int)
	for _, r := range rows {
		seen[r.IndexInPage]++
	}
	for idx, count := range seen {
		if count > 1 {
			return &ValidationAnomaly{Code: "duplicate_index", PageID: pageID, IndexInPage: idx}
		}
	}
	if !isOldest && len(rows) != canonicalindex.PageSize {
		return &ValidationAnomaly{Code: "sparse_page", PageID: pageID}
	}
	return nil
}

func save(ctx context.Context, deps Deps, in Input) (Output, error) {
	result, anomalies, err := deps.Engine.Upsert(ctx, in.Items)
	if err != nil {
		return Output{}, fmt.Errorf("save upsert: %w", err)
	}
	return Output{Upsert: &result, UpsertAnoms: anomalies}, nil
}
