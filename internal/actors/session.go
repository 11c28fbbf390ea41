package actors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fntelecomllc/crawlkernel/internal/events"
	"github.com/fntelecomllc/crawlkernel/internal/models"
	"github.com/fntelecomllc/crawlkernel/internal/obsmetrics"
	"github.com/fntelecomllc/crawlkernel/internal/persistence"
	"github.com/fntelecomllc/crawlkernel/internal/planner"
	"github.com/fntelecomllc/crawlkernel/internal/stagelogic"
	"github.com/fntelecomllc/crawlkernel/internal/statecache"
	"github.com/fntelecomllc/crawlkernel/internal/syncengine"
)

// SessionState is the SessionActor's top-level lifecycle.
type SessionState string

const (
	SessionIdle      SessionState = "idle"
	SessionRunning   SessionState = "running"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
	SessionCancelled SessionState = "cancelled"
)

// StartCrawlRequest is SessionActor's own representation of a
// StartCrawling command, independent of any transport encoding.
type StartCrawlRequest struct {
	Mode         planner.Mode
	ManualStart  int32
	ManualEnd    int32
	Verification []int32
}

// SyncRequest is SessionActor's own representation of a partial-sync
// command (StartPartialSync / StartSyncPages / StartDiagnosticSync /
// StartRepairSync all resolve to this shape once their range expression is
// parsed).
type SyncRequest struct {
	RangeExpr string
	DryRun    bool
}

// SessionStatusView is the read model SessionStatus returns.
type SessionStatusView struct {
	SessionID uuid.UUID
	State     SessionState
	StartedAt time.Time
}

type trackedSession struct {
	id        uuid.UUID
	state     SessionState
	startedAt time.Time
	cancel    context.CancelFunc
}

// SessionActor is the root of the actor tree: one instance serves every
// session a running kernel process hosts, each tracked independently so
// CancelSession/SessionStatus can address a session by id without a
// parent-to-child back-pointer (the same strict-tree discipline applies
// one level down, at BatchActor -> StageActor).
type SessionActor struct {
	deps     stagelogic.Deps
	stage    *StageActor
	persist  *persistence.Engine
	runGuard *RunGuard
	sync     *syncengine.Engine
	cache    *statecache.Cache
	cfg      models.RunConfig
	metrics  *obsmetrics.Collector

	mu       sync.Mutex
	sessions map[uuid.UUID]*trackedSession
}

// NewSessionActor wires a SessionActor from its collaborators. metrics may
// be nil, in which case the batches it spawns record no Prometheus metrics.
func NewSessionActor(deps stagelogic.Deps, stage *StageActor, persist *persistence.Engine, runGuard *RunGuard, sync *syncengine.Engine, cache *statecache.Cache, cfg models.RunConfig, metrics *obsmetrics.Collector) *SessionActor {
	return &SessionActor{
		deps:     deps,
		stage:    stage,
		persist:  persist,
		runGuard: runGuard,
		sync:     sync,
		cache:    cache,
		cfg:      cfg,
		metrics:  metrics,
		sessions: make(map[uuid.UUID]*trackedSession),
	}
}

// StartCrawling begins a new crawl session per spec §4.2: preflight status
// check, Planner range computation, batch splitting, sequential batch
// dispatch (per DESIGN.md's Open Question decision, intra-session batches
// run one at a time by default). It returns immediately with the new
// session's id; the crawl itself runs in a background goroutine emitting
// its event sequence through sink.
func (a *SessionActor) StartCrawling(parent context.Context, sink events.Sink, req StartCrawlRequest) (uuid.UUID, error) {
	sessionID := uuid.New()
	ctx, cancel := context.WithCancel(parent)
	if a.cfg.SessionTimeout > 0 {
		timeoutCtx, timeoutCancel := context.WithTimeout(ctx, a.cfg.SessionTimeout)
		ctx = timeoutCtx
		prevCancel := cancel
		cancel = func() { timeoutCancel(); prevCancel() }
	}

	a.mu.Lock()
	a.sessions[sessionID] = &trackedSession{id: sessionID, state: SessionRunning, startedAt: time.Now(), cancel: cancel}
	a.mu.Unlock()

	builder := events.NewBuilder(sessionID, sink)
	go a.runCrawl(ctx, sessionID, builder, req)
	return sessionID, nil
}

func (a *SessionActor) runCrawl(ctx context.Context, sessionID uuid.UUID, builder *events.Builder, req StartCrawlRequest) {
	start := time.Now()
	builder.Emit(string(events.SessionStarted), events.SessionStartedData{Mode: string(req.Mode)})

	site, err := a.preflight(ctx, sessionID, builder)
	if err != nil {
		builder.Emit(string(events.SessionFailed), events.SessionFailedData{Error: err.Error(), FinalFailure: true})
		a.finishSession(sessionID, SessionFailed)
		return
	}

	dbAnalysis, err := a.persist.DbAnalysis(ctx)
	if err != nil {
		builder.Emit(string(events.SessionFailed), events.SessionFailedData{Error: err.Error(), FinalFailure: true})
		a.finishSession(sessionID, SessionFailed)
		return
	}

	calc := planner.Compute(planner.Request{
		Mode:              req.Mode,
		PageRangeLimit:    a.cfg.PageRangeLimit,
		ManualStart:       req.ManualStart,
		ManualEnd:         req.ManualEnd,
		VerificationPages: req.Verification,
		Site:              site,
		Db:                dbAnalysis,
		PageSize:          a.cfg.PageSize,
	})

	pages := pagesDescending(calc.StartOldest, calc.EndNewest)
	batches := splitBatches(pages, maxInt32(1, a.cfg.BatchSize))

	var totalSuccess, totalFailed int32
	var productsInserted, productsUpdated int64
	var finalFailure bool

	for _, batchPages := range batches {
		if ctx.Err() != nil {
			finalFailure = true
			break
		}
		batchID := uuid.New()
		batchActor := NewBatchActor(a.stage, a.persist, a.runGuard, a.metrics)
		batchActx := &models.ActorContext{
			SessionID: sessionID,
			BatchID:   &batchID,
			Cancel:    ctxCancelSignal{ctx},
			Emit:      builder.WithBatch(batchID),
			Config:    a.cfg,
		}
		report := batchActor.ProcessBatch(ctx, batchActx, batchID, batchPages, BatchConfig{
			ListConcurrency:   a.cfg.ListPageMaxConcurrent,
			DetailConcurrency: a.cfg.ProductDetailMaxConcurrent,
			StageTimeout:      a.cfg.StageTimeout,
			TotalPages:        site.TotalPages,
			ItemsOnLastPage:   site.ProductsOnLastPage,
		})
		totalSuccess += report.PagesSuccess
		totalFailed += report.PagesFailed
		productsInserted += report.ProductsInserted
		productsUpdated += report.ProductsUpdated
		if report.FinalFailure {
			finalFailure = true
			break
		}
	}

	builder.Emit(string(events.CrawlReportSession), map[string]any{
		"totalSuccess": totalSuccess, "totalFailed": totalFailed,
		"productsInserted": productsInserted, "productsUpdated": productsUpdated,
	})

	// The recommendation carried by NextPlanReady is for the *next* session,
	// so it is computed against the DB state this crawl just left behind
	// (spec §4.5 step 6: CrawlReportSession -> NextPlanReady -> SessionCompleted),
	// not against the state the Planner saw at StartCrawling time.
	if nextDb, dbErr := a.persist.DbAnalysis(ctx); dbErr == nil {
		nextCalc := planner.Compute(planner.Request{
			Mode:           planner.ModeIntelligent,
			PageRangeLimit: a.cfg.PageRangeLimit,
			Site:           site,
			Db:             nextDb,
			PageSize:       a.cfg.PageSize,
		})
		builder.Emit(string(events.NextPlanReady), nextCalc)
	}

	if finalFailure {
		builder.Emit(string(events.SessionFailed), events.SessionFailedData{Error: "one or more batches reached final failure", FinalFailure: true})
		a.finishSession(sessionID, SessionFailed)
		return
	}

	builder.Emit(string(events.SessionCompleted), events.SessionCompletedData{
		TotalPages: site.TotalPages, TotalSuccess: totalSuccess, TotalFailed: totalFailed,
		ProductsInserted: productsInserted, ProductsUpdated: productsUpdated, Duration: time.Since(start),
	})
	a.finishSession(sessionID, SessionCompleted)
}

// preflight runs the StatusCheck strategy and caches the resulting
// SiteStatus, per spec §4.2 step 1.
func (a *SessionActor) preflight(ctx context.Context, sessionID uuid.UUID, builder *events.Builder) (models.SiteStatus, error) {
	if cached, ok := a.cache.GetValid(statecache.CategorySiteAnalysis); ok {
		if site, ok := cached.(models.SiteStatus); ok {
			builder.Emit(string(events.PreflightDiagnostics), map[string]any{"cached": true, "totalPages": site.TotalPages})
			return site, nil
		}
	}
	out, err := stagelogic.Execute(ctx, a.deps, stagelogic.Input{Type: stagelogic.TypeStatusCheck})
	if err != nil {
		return models.SiteStatus{}, fmt.Errorf("preflight status check: %w", err)
	}
	site := *out.SiteStatus
	a.cache.Set(statecache.CategorySiteAnalysis, site, 5*time.Minute)
	builder.Emit(string(events.PreflightDiagnostics), map[string]any{"cached": false, "totalPages": site.TotalPages})
	return site, nil
}

// StartPartialSync begins a sync session, delegating to the sync engine
// and emitting its event sequence through sink.
func (a *SessionActor) StartPartialSync(parent context.Context, sink events.Sink, req SyncRequest) (uuid.UUID, error) {
	ranges, err := syncengine.ParseRanges(req.RangeExpr)
	if err != nil {
		return uuid.Nil, err
	}
	sessionID := uuid.New()
	ctx, cancel := context.WithCancel(parent)

	a.mu.Lock()
	a.sessions[sessionID] = &trackedSession{id: sessionID, state: SessionRunning, startedAt: time.Now(), cancel: cancel}
	a.mu.Unlock()

	builder := events.NewBuilder(sessionID, sink)

	go func() {
		defer cancel()
		site, err := a.preflight(ctx, sessionID, builder)
		if err != nil {
			builder.Emit(string(events.SessionFailed), events.SessionFailedData{Error: err.Error(), FinalFailure: true})
			a.finishSession(sessionID, SessionFailed)
			return
		}
		_, err = a.sync.Run(ctx, syncengine.RunRequest{
			SessionID: sessionID, Ranges: ranges, TotalPages: site.TotalPages,
			ItemsOnLastPage: site.ProductsOnLastPage, DryRun: req.DryRun,
		}, builder)
		if err != nil {
			a.finishSession(sessionID, SessionFailed)
			return
		}
		a.finishSession(sessionID, SessionCompleted)
	}()

	return sessionID, nil
}

func (a *SessionActor) finishSession(id uuid.UUID, state SessionState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[id]; ok {
		s.state = state
	}
}

// CancelSession requests cooperative cancellation of a running session,
// per spec §4.2's CancelSession command.
func (a *SessionActor) CancelSession(sessionID uuid.UUID) error {
	a.mu.Lock()
	s, ok := a.sessions[sessionID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}
	s.cancel()
	a.mu.Lock()
	s.state = SessionCancelled
	a.mu.Unlock()
	return nil
}

// SessionStatus reports a session's current lifecycle state.
func (a *SessionActor) SessionStatus(sessionID uuid.UUID) (SessionStatusView, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[sessionID]
	if !ok {
		return SessionStatusView{}, false
	}
	return SessionStatusView{SessionID: s.id, State: s.state, StartedAt: s.startedAt}, true
}

// ctxCancelSignal adapts a context.Context to models.CancelSignal.
type ctxCancelSignal struct{ ctx context.Context }

func (c ctxCancelSignal) Done() <-chan struct{} { return c.ctx.Done() }
func (c ctxCancelSignal) Cancelled() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// pagesDescending lists every physical page from start down to end
// inclusive (start >= end, so the oldest page comes first).
func pagesDescending(start, end int32) []int32 {
	if start < end {
		return nil
	}
	pages := make([]int32, 0, start-end+1)
	for p := start; p >= end; p-- {
		pages = append(pages, p)
	}
	return pages
}

// splitBatches partitions pages into contiguous groups of at most size,
// preserving order (oldest-first).
func splitBatches(pages []int32, size int32) [][]int32 {
	if size <= 0 {
		size = 1
	}
	var batches [][]int32
	for i := 0; i < len(pages); i += int(size) {
		end := i + int(size)
		if end > len(pages) {
			end = len(pages)
		}
		batches = append(batches, pages[i:end])
	}
	return batches
}

func maxInt32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}
