package actors

import (
	"context"

	"github.com/fntelecomllc/crawlkernel/internal/events"
	"github.com/fntelecomllc/crawlkernel/internal/models"
	"github.com/fntelecomllc/crawlkernel/internal/stagelogic"
	"github.com/fntelecomllc/crawlkernel/internal/store/postgres"
)

// ValidationDriver runs the full-table Validation scan stagelogic.validation
// defers to, since classifying a page's anomalies is pure but listing its
// rows is a storage query -- this is the "Store-level scan" referenced in
// stagelogic's own comment.
type ValidationDriver struct {
	store *postgres.Store
}

// NewValidationDriver wires a ValidationDriver to its Store.
func NewValidationDriver(store *postgres.Store) *ValidationDriver {
	return &ValidationDriver{store: store}
}

// Run scans every canonical page_id currently present in products,
// classifying each with stagelogic.ClassifyPageAnomaly and emitting the
// validation_* event sequence from spec §4.1/§8.
func (v *ValidationDriver) Run(ctx context.Context, actx *models.ActorContext) (events.ValidationCompletedData, error) {
	actx.Emit.Emit(string(events.ValidationStarted), nil)

	pageIDs, err := v.store.DistinctPageIDs(ctx, nil)
	if err != nil {
		return events.ValidationCompletedData{}, err
	}

	// The highest page_id is the one page exempt from the sparse-page rule:
	// canonicalindex numbers page_ids up from the oldest item, so page_id 0
	// is full and only the newest canonical page may hold fewer rows.
	var partialPage int32 = -1
	for _, p := range pageIDs {
		if p > partialPage {
			partialPage = p
		}
	}

	var divergences, anomalyCount int
	for _, pageID := range pageIDs {
		if actx.Cancel != nil && actx.Cancel.Cancelled() {
			break
		}
		rows, err := v.store.ListProductsByPageID(ctx, nil, pageID)
		if err != nil {
			continue
		}
		actx.Emit.Emit(string(events.ValidationPageScanned), map[string]any{"pageId": pageID, "rows": len(rows)})

		if anomaly := stagelogic.ClassifyPageAnomaly(pageID, rows, pageID == partialPage); anomaly != nil {
			anomalyCount++
			if anomaly.Code == "duplicate_index" {
				divergences++
				actx.Emit.Emit(string(events.ValidationDivergenceFound), events.ValidationAnomalyData{
					Code: anomaly.Code, PageID: anomaly.PageID, IndexInPage: anomaly.IndexInPage,
				})
			} else {
				actx.Emit.Emit(string(events.ValidationAnomaly), events.ValidationAnomalyData{
					Code: anomaly.Code, PageID: anomaly.PageID, IndexInPage: anomaly.IndexInPage,
				})
			}
		}
	}

	result := events.ValidationCompletedData{Divergences: divergences, Anomalies: anomalyCount}
	actx.Emit.Emit(string(events.ValidationCompleted), result)
	return result, nil
}
