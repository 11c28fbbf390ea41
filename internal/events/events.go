// Package events defines the additive v1 event schema emitted by every
// actor and service in the crawl kernel, plus the EventBuilder helper that
// stamps each event with a monotonic sequence number and a backend
// timestamp. The schema is additive-only: new fields must be optional, and
// removing or reinterpreting a field requires a version bump (see
// SchemaVersion).
package events

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is bumped only when a field's meaning changes or a field
// is removed; new optional fields and new variants do not require a bump.
const SchemaVersion = 1

// Name enumerates the event variants from SPEC_FULL.md / spec.md §6.
type Name string

const (
	SessionStarted   Name = "session_started"
	SessionCompleted Name = "session_completed"
	SessionFailed    Name = "session_failed"
	SessionTimeout   Name = "session_timeout"

	PhaseStarted   Name = "phase_started"
	PhaseCompleted Name = "phase_completed"
	PhaseAborted   Name = "phase_aborted"

	BatchCreated  Name = "batch_created"
	BatchStarted  Name = "batch_started"
	BatchReport   Name = "batch_report"
	BatchFailed   Name = "batch_failed"

	StageStarted   Name = "stage_started"
	StageCompleted Name = "stage_completed"
	StageFailed    Name = "stage_failed"
	StageRetrying  Name = "stage_retrying"

	StageItemStarted   Name = "stage_item_started"
	StageItemCompleted Name = "stage_item_completed"

	PageLifecycle    Name = "page_lifecycle"
	ProductLifecycle Name = "product_lifecycle"
	ProductLifecycleGroup Name = "product_lifecycle_group"

	PersistenceAnomaly Name = "persistence_anomaly"
	DatabaseStats      Name = "database_stats"

	PreflightDiagnostics Name = "preflight_diagnostics"
	Progress             Name = "progress"
	NextPlanReady         Name = "next_plan_ready"
	ShutdownRequested     Name = "shutdown_requested"
	ShutdownCompleted     Name = "shutdown_completed"
	CrawlReportSession    Name = "crawl_report_session"

	SyncStarted       Name = "sync_started"
	SyncPageStarted   Name = "sync_page_started"
	SyncUpsertProgress Name = "sync_upsert_progress"
	SyncPageCompleted Name = "sync_page_completed"
	SyncWarning       Name = "sync_warning"
	SyncCompleted     Name = "sync_completed"

	ValidationStarted       Name = "validation_started"
	ValidationPageScanned   Name = "validation_page_scanned"
	ValidationDivergenceFound Name = "validation_divergence_found"
	ValidationAnomaly       Name = "validation_anomaly"
	ValidationCompleted     Name = "validation_completed"
)

// PageLifecycleStatus enumerates PageLifecycle.Status.
type PageLifecycleStatus string

const (
	FetchStarted         PageLifecycleStatus = "fetch_started"
	FetchCompleted       PageLifecycleStatus = "fetch_completed"
	DetailMappingEmitted PageLifecycleStatus = "detail_mapping_emitted"
	Failed               PageLifecycleStatus = "failed"
)

// ProductLifecycleStatus enumerates ProductLifecycle.Status.
type ProductLifecycleStatus string

const (
	ProductFetchStarted          ProductLifecycleStatus = "fetch_started"
	ProductFetchCompleted        ProductLifecycleStatus = "fetch_completed"
	ProductFailed                ProductLifecycleStatus = "failed"
	ProductInserted              ProductLifecycleStatus = "product_inserted"
	ProductUpdated               ProductLifecycleStatus = "product_updated"
	ProductSkippedNoChange       ProductLifecycleStatus = "product_skipped_nochange"
	DetailsPersisted             ProductLifecycleStatus = "details_persisted"
	DetailsSkippedExists          ProductLifecycleStatus = "details_skipped_exists"
	PersistStarted               ProductLifecycleStatus = "persist_started"
	PersistInserted               ProductLifecycleStatus = "persist_inserted"
	PersistUpdated                 ProductLifecycleStatus = "persist_updated"
	PersistMixed                   ProductLifecycleStatus = "persist_mixed"
	PersistNoop                    ProductLifecycleStatus = "persist_noop"
	PersistNoopAllDuplicate         ProductLifecycleStatus = "persist_noop_all_duplicate"
	PersistFailed                   ProductLifecycleStatus = "persist_failed"
	PersistEmpty                    ProductLifecycleStatus = "persist_empty"
	PersistSkipped                  ProductLifecycleStatus = "persist_skipped"
)

// Envelope is the flat JSON object every event is serialized as: a variant
// tag plus identity/ordering fields plus variant-specific Data.
type Envelope struct {
	Variant   Name            `json:"variant"`
	SessionID uuid.UUID       `json:"sessionId"`
	BatchID   *uuid.UUID      `json:"batchId,omitempty"`
	Seq       int64           `json:"seq"`
	BackendTS time.Time       `json:"backendTs"`
	EventName string          `json:"eventName"`
	Data      any             `json:"data,omitempty"`
}

// Sink receives emitted envelopes; SSE/WS transports and in-process test
// buffers all implement this.
type Sink interface {
	Publish(Envelope)
}

// Builder stamps envelopes with a monotonically increasing sequence number
// for one session, mirroring the teacher's EventBuilder convenience-method
// pattern (campaign-scoped builder -> session-scoped builder).
type Builder struct {
	sessionID uuid.UUID
	batchID   *uuid.UUID
	seq       *int64
	sink      Sink
}

// NewBuilder creates a session-scoped builder sharing one sequence counter
// across every batch/stage spawned within that session.
func NewBuilder(sessionID uuid.UUID, sink Sink) *Builder {
	var seq int64
	return &Builder{sessionID: sessionID, seq: &seq, sink: sink}
}

// WithBatch returns a child builder scoped to a batch, sharing the parent's
// sequence counter and sink.
func (b *Builder) WithBatch(batchID uuid.UUID) *Builder {
	return &Builder{sessionID: b.sessionID, batchID: &batchID, seq: b.seq, sink: b.sink}
}

// Emit publishes one event, implementing models.EventEmitter.
func (b *Builder) Emit(eventName string, data any) {
	if b.sink == nil {
		return
	}
	b.sink.Publish(Envelope{
		Variant:   Name(eventName),
		SessionID: b.sessionID,
		BatchID:   b.batchID,
		Seq:       atomic.AddInt64(b.seq, 1),
		BackendTS: time.Now(),
		EventName: eventName,
		Data:      data,
	})
}

// --- variant payloads (additive: only ever add fields) ---

type SessionStartedData struct {
	Mode string `json:"mode"`
}

type SessionCompletedData struct {
	TotalPages       int32         `json:"totalPages"`
	TotalSuccess     int32         `json:"totalSuccess"`
	TotalFailed      int32         `json:"totalFailed"`
	ProductsInserted int64         `json:"productsInserted"`
	ProductsUpdated  int64         `json:"productsUpdated"`
	Duration         time.Duration `json:"durationMs"`
}

type SessionFailedData struct {
	Error        string `json:"error"`
	FinalFailure bool   `json:"finalFailure"`
}

type StageRetryingData struct {
	Stage  string `json:"stage"`
	Attempt int   `json:"attempt"`
	Max    int    `json:"max"`
	Reason string `json:"reason"`
}

type StageItemStartedData struct {
	ItemID string `json:"itemId"`
}

type StageItemCompletedData struct {
	ItemID        string `json:"itemId"`
	Success       bool   `json:"success"`
	CollectedCount int   `json:"collectedCount,omitempty"`
	Error         string `json:"error,omitempty"`
	RetryCount    int    `json:"retryCount,omitempty"`
}

type PageLifecycleData struct {
	Page    int32               `json:"page"`
	Status  PageLifecycleStatus `json:"status"`
	Scheduled int             `json:"scheduledDetails,omitempty"`
	Error   string              `json:"error,omitempty"`
}

type ProductLifecycleData struct {
	URL    string                 `json:"url"`
	Status ProductLifecycleStatus `json:"status"`
	Error  string                 `json:"error,omitempty"`
}

type ProductLifecycleGroupData struct {
	Phase      string `json:"phase"`
	Started    int    `json:"started"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Duplicates int    `json:"duplicates"`
}

type PersistenceAnomalyData struct {
	Kind      string `json:"kind"`
	Detail    string `json:"detail,omitempty"`
	Attempted int    `json:"attempted"`
	Inserted  int    `json:"inserted"`
	Updated   int    `json:"updated"`
}

type DatabaseStatsData struct {
	TotalProductDetails int64 `json:"totalProductDetails"`
	MinPage             int32 `json:"minPage"`
	MaxPage             int32 `json:"maxPage"`
}

type BatchReportData struct {
	PagesTotal        int32    `json:"pagesTotal"`
	PagesSuccess      int32    `json:"pagesSuccess"`
	PagesFailed       int32    `json:"pagesFailed"`
	ListPagesFailed   []int32  `json:"listPagesFailed,omitempty"`
	DetailsSuccess    int32    `json:"detailsSuccess"`
	DetailsFailed     int32    `json:"detailsFailed"`
	RetriesUsed       int32    `json:"retriesUsed"`
	DuplicatesSkipped int32    `json:"duplicatesSkipped"`
	ProductsInserted  int64    `json:"productsInserted"`
	ProductsUpdated   int64    `json:"productsUpdated"`
	Duration          time.Duration `json:"durationMs"`
}

type SyncWarningData struct {
	Code string `json:"code"`
	Page int32  `json:"page,omitempty"`
}

type SyncCompletedData struct {
	PagesProcessed    int32    `json:"pagesProcessed"`
	Inserted          int64    `json:"inserted"`
	Updated           int64    `json:"updated"`
	Skipped           int64    `json:"skipped"`
	Failed            int64    `json:"failed"`
	Deleted           int64    `json:"deleted"`
	TotalPages        int32    `json:"totalPages"`
	ItemsOnLastPage   int32    `json:"itemsOnLastPage"`
	Anomalies         []int32  `json:"anomalies,omitempty"`
}

type ValidationAnomalyData struct {
	Code        string `json:"code"`
	PageID      int32  `json:"pageId"`
	IndexInPage int32  `json:"indexInPage,omitempty"`
}

type ValidationCompletedData struct {
	Divergences int `json:"divergences"`
	Anomalies   int `json:"anomalies"`
}
