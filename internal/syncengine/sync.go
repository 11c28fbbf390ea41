package syncengine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fntelecomllc/crawlkernel/internal/canonicalindex"
	"github.com/fntelecomllc/crawlkernel/internal/events"
	"github.com/fntelecomllc/crawlkernel/internal/models"
	"github.com/fntelecomllc/crawlkernel/internal/obsmetrics"
	"github.com/fntelecomllc/crawlkernel/internal/persistence"
	"github.com/fntelecomllc/crawlkernel/internal/retry"
	"github.com/fntelecomllc/crawlkernel/internal/stagelogic"
	"github.com/fntelecomllc/crawlkernel/internal/store/postgres"
)

// Engine drives one partial sync session: per-page list+detail fetch with
// repair-missing-first prioritization, sync_observed bookkeeping, and the
// bounded sweep-delete rule.
type Engine struct {
	store    *postgres.Store
	persist  *persistence.Engine
	deps     stagelogic.Deps
	retryCfg retry.Config
	pageSize int32
	metrics  *obsmetrics.Collector
}

// New wires a sync engine from its collaborators. metrics may be nil.
func New(store *postgres.Store, persist *persistence.Engine, deps stagelogic.Deps, retryCfg retry.Config, metrics *obsmetrics.Collector) *Engine {
	return &Engine{store: store, persist: persist, deps: deps, retryCfg: retryCfg, pageSize: canonicalindex.PageSize, metrics: metrics}
}

// RunRequest is one StartPartialSync/StartSyncPages/StartRepairSync
// invocation, already normalized into physical pages to visit.
type RunRequest struct {
	SessionID  uuid.UUID
	Ranges     []Range
	TotalPages int32
	ItemsOnLastPage int32
	DryRun     bool
}

// Run executes the sync session end-to-end, emitting the event sequence
// from spec §4.8 via emit.
func (e *Engine) Run(ctx context.Context, req RunRequest, emit models.EventEmitter) (events.SyncCompletedData, error) {
	emit.Emit(string(events.SyncStarted), map[string]any{"sessionId": req.SessionID, "dryRun": req.DryRun})

	sess := &models.SyncSession{
		SessionID:    req.SessionID,
		CoverageText: Serialize(req.Ranges),
		Status:       models.SyncSessionRunning,
	}
	if !req.DryRun {
		if err := e.store.CreateSyncSession(ctx, nil, sess); err != nil {
			return events.SyncCompletedData{}, fmt.Errorf("create sync session: %w", err)
		}
	}

	var result events.SyncCompletedData
	result.TotalPages = req.TotalPages
	result.ItemsOnLastPage = req.ItemsOnLastPage

	var observedPages []int32
	for _, r := range req.Ranges {
		pages := ExpandBoundary(r, req.TotalPages)
		observedPages = append(observedPages, pages...)
		for _, page := range pages {
			if err := ctx.Err(); err != nil {
				if !req.DryRun {
					_ = e.store.FinishSyncSession(ctx, nil, req.SessionID, models.SyncSessionFailed)
				}
				return result, err
			}
			if err := e.runPage(ctx, req, page, emit, &result); err != nil {
				result.Failed++
			}
		}
	}

	if !req.DryRun {
		for _, r := range req.Ranges {
			lowHigh := canonicalBand(r, req.TotalPages, req.ItemsOnLastPage)
			deleted, err := e.store.SweepDeleteUnobserved(ctx, nil, req.SessionID, lowHigh[0], lowHigh[1], int(e.pageSize))
			if err == nil {
				result.Deleted += deleted
			}
		}
		_ = e.store.FinishSyncSession(ctx, nil, req.SessionID, models.SyncSessionCompleted)
	}

	result.PagesProcessed = int32(len(observedPages))
	emit.Emit(string(events.SyncCompleted), result)
	return result, nil
}

// canonicalBand computes the [low, high] page_id band covered by a
// physical range's two boundary pages.
func canonicalBand(r Range, totalPages, itemsOnLastPage int32) [2]int32 {
	hi, _ := canonicalindex.Compute(totalPages, itemsOnLastPage, r.Start, 0)
	lo, _ := canonicalindex.Compute(totalPages, itemsOnLastPage, r.End, 0)
	if hi.PageID < lo.PageID {
		hi.PageID, lo.PageID = lo.PageID, hi.PageID
	}
	return [2]int32{lo.PageID, hi.PageID}
}

func (e *Engine) runPage(ctx context.Context, req RunRequest, page int32, emit models.EventEmitter, result *events.SyncCompletedData) error {
	emit.Emit(string(events.SyncPageStarted), map[string]any{"page": page})

	listPolicy := e.retryCfg.List
	if listPolicy.MaxAttempts < 4 {
		listPolicy.MaxAttempts = 4
	}

	var urls []string
	err := retry.Run(ctx, retry.StageList, listPolicy, func(ctx context.Context, attempt int) error {
		out, err := stagelogic.Execute(ctx, e.deps, stagelogic.Input{
			Type: stagelogic.TypeListPage, PhysicalPage: page, TotalPages: req.TotalPages,
		})
		if err != nil {
			return retry.Classify(retry.ClassNetworkTransient, err)
		}
		urls = out.ProductURLs
		return nil
	}, func(stage retry.Stage, attempt, max int, reason string, class retry.ErrorClass) {
		emit.Emit(string(events.StageRetrying), events.StageRetryingData{Stage: string(stage), Attempt: attempt, Max: max, Reason: reason})
		if e.metrics != nil {
			e.metrics.CountRetry(string(stage), class.String())
		}
	})
	if err != nil {
		emit.Emit(string(events.SyncWarning), events.SyncWarningData{Code: "page_incomplete_after_retries", Page: page})
		return err
	}

	expected := e.pageSize
	if page == req.TotalPages {
		expected = req.ItemsOnLastPage
	}
	if int32(len(urls)) != expected {
		emit.Emit(string(events.SyncWarning), events.SyncWarningData{Code: "count_mismatch", Page: page})
	}

	if req.DryRun {
		emit.Emit(string(events.SyncPageCompleted), map[string]any{"page": page, "count": len(urls)})
		return nil
	}

	missingDetail, rest := e.partitionRepairFirst(ctx, urls)
	ordered := append(missingDetail, rest...)

	// spec §4.8 step 3: record-observed, upsert-product, and upsert-detail
	// for the whole page run inside one transaction, not one per URL.
	txErr := e.store.WithTx(ctx, func(q postgres.Querier) error {
		for i, url := range ordered {
			pos, perr := canonicalindex.Compute(req.TotalPages, req.ItemsOnLastPage, page, int32(indexOf(urls, url)))
			if perr != nil {
				result.Failed++
				continue
			}
			if err := e.store.RecordSyncObserved(ctx, q, &models.SyncObserved{
				SessionID: req.SessionID, URL: url, PageID: pos.PageID, IndexInPage: pos.IndexInPage,
			}); err != nil {
				result.Failed++
				continue
			}
			_, created, err := e.persist.AsRepository().UpsertProduct(ctx, q, &models.Product{URL: url, PageID: pos.PageID, IndexInPage: pos.IndexInPage})
			if err != nil {
				result.Failed++
				continue
			}
			if created {
				result.Inserted++
				if e.metrics != nil {
					e.metrics.CountUpsert("persist_inserted")
				}
			} else {
				result.Updated++
				if e.metrics != nil {
					e.metrics.CountUpsert("persist_updated")
				}
			}

			detailPolicy := e.retryCfg.Detail
			derr := e.persist.DetailRetry(ctx, q, url, detailPolicy, func(ctx context.Context) (*models.ProductDetail, error) {
				out, err := stagelogic.Execute(ctx, e.deps, stagelogic.Input{Type: stagelogic.TypeDetailGroup, URL: url})
				if err != nil {
					return nil, err
				}
				out.ProductDetail.PageID, out.ProductDetail.IndexInPage = pos.PageID, pos.IndexInPage
				return out.ProductDetail, nil
			}, nil)
			if derr != nil {
				result.Skipped++
			}

			if (i+1)%10 == 0 {
				emit.Emit(string(events.SyncUpsertProgress), map[string]any{"page": page, "processed": i + 1, "total": len(ordered)})
			}
		}
		return nil
	})
	if txErr != nil {
		emit.Emit(string(events.SyncWarning), events.SyncWarningData{Code: "page_transaction_failed", Page: page})
		return txErr
	}

	emit.Emit(string(events.SyncPageCompleted), map[string]any{"page": page, "count": len(ordered)})
	return nil
}

// partitionRepairFirst splits URLs into those with a product row but no
// detail row (repaired first) and the rest, per spec §4.8 step 3(b).
func (e *Engine) partitionRepairFirst(ctx context.Context, urls []string) (missing, rest []string) {
	for _, u := range urls {
		_, err := e.store.GetProductDetail(ctx, nil, u)
		if err != nil {
			if _, perr := e.store.GetProduct(ctx, nil, u); perr == nil {
				missing = append(missing, u)
				continue
			}
		}
		rest = append(rest, u)
	}
	return missing, rest
}

func indexOf(urls []string, url string) int {
	for i, u := range urls {
		if u == url {
			return i
		}
	}
	return 0
}
