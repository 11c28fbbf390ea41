package actors

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fntelecomllc/crawlkernel/internal/canonicalindex"
	"github.com/fntelecomllc/crawlkernel/internal/events"
	"github.com/fntelecomllc/crawlkernel/internal/models"
	"github.com/fntelecomllc/crawlkernel/internal/obsmetrics"
	"github.com/fntelecomllc/crawlkernel/internal/persistence"
	"github.com/fntelecomllc/crawlkernel/internal/stagelogic"
)

// BatchReport is BatchActor's public contract return value, per spec §4.4.
type BatchReport struct {
	PagesTotal        int32
	PagesSuccess      int32
	PagesFailed       int32
	ListPagesFailed   []int32
	DetailsSuccess    int32
	DetailsFailed     int32
	RetriesUsed       int32
	DuplicatesSkipped int32
	ProductsInserted  int64
	ProductsUpdated   int64
	Duration          time.Duration
	FinalFailure      bool
}

// BatchConfig bundles the per-stage concurrency/timeout knobs a
// BatchActor needs to run its four stages.
type BatchConfig struct {
	ListConcurrency   int
	DetailConcurrency int
	StageTimeout      time.Duration
	TotalPages        int32
	ItemsOnLastPage   int32
}

// BatchActor owns one contiguous page batch for the duration of its four
// sequential stages (ListPage -> DetailGroup -> Validation -> Save).
type BatchActor struct {
	stage    *StageActor
	persist  *persistence.Engine
	runGuard *RunGuard
	metrics  *obsmetrics.Collector
}

// NewBatchActor constructs a BatchActor sharing its parent session's
// StageActor pool, persistence engine, and run guard. metrics may be nil.
func NewBatchActor(stage *StageActor, persist *persistence.Engine, runGuard *RunGuard, metrics *obsmetrics.Collector) *BatchActor {
	return &BatchActor{stage: stage, persist: persist, runGuard: runGuard, metrics: metrics}
}

// ProcessBatch runs pages (a contiguous physical-page subrange, oldest
// first) through the four stages, aggregating a BatchReport. If any stage
// fails fatally it emits BatchFailed{final_failure:true} and returns
// immediately; the session decides whether to continue or abort.
func (b *BatchActor) ProcessBatch(ctx context.Context, actx *models.ActorContext, batchID uuid.UUID, pages []int32, cfg BatchConfig) BatchReport {
	start := time.Now()
	if b.metrics != nil {
		defer func() { b.metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()
	}
	actx.Emit.Emit(string(events.BatchCreated), map[string]any{"batchId": batchID, "pages": len(pages)})
	actx.Emit.Emit(string(events.BatchStarted), map[string]any{"batchId": batchID})

	report := BatchReport{PagesTotal: int32(len(pages))}

	listItems := make([]StageItem, len(pages))
	for i, p := range pages {
		listItems[i] = StageItem{ID: fmt.Sprintf("page:%d", p), Input: stagelogic.Input{
			Type: stagelogic.TypeListPage, PhysicalPage: p, TotalPages: cfg.TotalPages, ItemsOnLastPage: cfg.ItemsOnLastPage,
		}}
	}
	listResult, err := b.stage.ExecuteStage(ctx, actx, stagelogic.TypeListPage, listItems, cfg.ListConcurrency, cfg.StageTimeout)
	if err != nil {
		return b.fail(actx, batchID, report, start, err)
	}

	urlSet := map[string]struct{}{}
	pageOfURL := map[string]int32{}
	slotOfURL := map[string]int32{}
	for _, ir := range listResult.ItemResults {
		page := pageFromItemID(ir.ItemID)
		if ir.Success {
			report.PagesSuccess++
			for slot, u := range ir.Output.ProductURLs {
				urlSet[u] = struct{}{}
				pageOfURL[u] = page
				slotOfURL[u] = int32(slot)
			}
		} else {
			report.PagesFailed++
			report.ListPagesFailed = append(report.ListPagesFailed, page)
		}
		report.RetriesUsed += int32(ir.RetryCount)
	}

	urls := make([]string, 0, len(urlSet))
	for u := range urlSet {
		urls = append(urls, u)
	}
	detailItems := make([]StageItem, len(urls))
	for i, u := range urls {
		detailItems[i] = StageItem{ID: u, Input: stagelogic.Input{Type: stagelogic.TypeDetailGroup, URL: u}}
	}
	detailResult, err := b.stage.ExecuteStage(ctx, actx, stagelogic.TypeDetailGroup, detailItems, cfg.DetailConcurrency, cfg.StageTimeout)
	if err != nil {
		return b.fail(actx, batchID, report, start, err)
	}

	details := make(map[string]*models.ProductDetail, len(detailResult.ItemResults))
	for _, ir := range detailResult.ItemResults {
		if ir.Success {
			report.DetailsSuccess++
			details[ir.ItemID] = ir.Output.ProductDetail
		} else {
			report.DetailsFailed++
		}
		report.RetriesUsed += int32(ir.RetryCount)
	}

	// The Validation stage runs here with no items, so it checks none of
	// this batch's pages and only emits StageStarted/StageCompleted; the
	// full-table scan lives behind the dedicated Validation command surface
	// in internal/httpapi (ValidationDriver).
	_, _ = b.stage.ExecuteStage(ctx, actx, stagelogic.TypeValidation, nil, 1, cfg.StageTimeout)

	guardKey := fmt.Sprintf("%s:%s:data_saving", actx.SessionID, batchID)
	if !b.runGuard.TryAcquire(guardKey) {
		report.Duration = time.Since(start)
		return report
	}
	defer b.runGuard.Release(guardKey)

	items := make([]persistence.Item, 0, len(urls))
	for _, u := range urls {
		pos, perr := canonicalindex.Compute(cfg.TotalPages, cfg.ItemsOnLastPage, pageOfURL[u], slotOfURL[u])
		if perr != nil {
			continue
		}
		d := details[u]
		if d != nil {
			d.PageID, d.IndexInPage = pos.PageID, pos.IndexInPage
		}
		items = append(items, persistence.Item{
			Product: &models.Product{URL: u, PageID: pos.PageID, IndexInPage: pos.IndexInPage},
			Detail:  d,
		})
	}

	if len(items) == 0 {
		actx.Emit.Emit(string(events.ProductLifecycle), events.ProductLifecycleData{Status: events.PersistEmpty})
		report.Duration = time.Since(start)
		return report
	}

	actx.Emit.Emit(string(events.ProductLifecycle), events.ProductLifecycleData{Status: events.PersistStarted})
	saveResult, err := stagelogic.Execute(ctx, b.stage.deps, stagelogic.Input{Type: stagelogic.TypeSave, Items: items})
	if err != nil {
		actx.Emit.Emit(string(events.ProductLifecycle), events.ProductLifecycleData{Status: events.PersistFailed, Error: err.Error()})
		return b.fail(actx, batchID, report, start, err)
	}

	outcome := *saveResult.Upsert
	if b.metrics != nil {
		b.metrics.CountUpsert(outcome.Classify())
	}
	actx.Emit.Emit(string(events.ProductLifecycle), events.ProductLifecycleData{Status: events.ProductLifecycleStatus(outcome.Classify())})
	for _, a := range saveResult.UpsertAnoms {
		actx.Emit.Emit(string(events.PersistenceAnomaly), events.PersistenceAnomalyData{
			Kind: a.Kind, Detail: a.Detail, Attempted: a.Attempted, Inserted: a.Inserted, Updated: a.Updated,
		})
	}

	report.ProductsInserted = int64(outcome.Inserted)
	report.ProductsUpdated = int64(outcome.Updated)
	report.DuplicatesSkipped = int32(outcome.Duplicates)
	report.Duration = time.Since(start)

	actx.Emit.Emit(string(events.BatchReport), events.BatchReportData{
		PagesTotal: report.PagesTotal, PagesSuccess: report.PagesSuccess, PagesFailed: report.PagesFailed,
		ListPagesFailed: report.ListPagesFailed, DetailsSuccess: report.DetailsSuccess, DetailsFailed: report.DetailsFailed,
		RetriesUsed: report.RetriesUsed, DuplicatesSkipped: report.DuplicatesSkipped,
		ProductsInserted: report.ProductsInserted, ProductsUpdated: report.ProductsUpdated, Duration: report.Duration,
	})
	return report
}

func (b *BatchActor) fail(actx *models.ActorContext, batchID uuid.UUID, report BatchReport, start time.Time, err error) BatchReport {
	report.FinalFailure = true
	report.Duration = time.Since(start)
	actx.Emit.Emit(string(events.BatchFailed), map[string]any{"batchId": batchID, "finalFailure": true, "error": err.Error()})
	return report
}

func pageFromItemID(itemID string) int32 {
	var p int32
	_, _ = fmt.Sscanf(itemID, "page:%d", &p)
	return p
}
