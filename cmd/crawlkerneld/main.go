// Command crawlkerneld boots the crawl kernel process: loads layered
// config, opens Postgres and runs pending migrations, wires the actor
// tree and its stage-logic collaborators, and serves the Command API over
// HTTP (REST + SSE) and a companion WebSocket event hub, mirroring the
// teacher's cmd/apiserver boot sequence (config -> store -> services ->
// router -> listen) generalized to the kernel's own collaborators.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"

	"github.com/fntelecomllc/crawlkernel/internal/actors"
	"github.com/fntelecomllc/crawlkernel/internal/config"
	"github.com/fntelecomllc/crawlkernel/internal/events"
	"github.com/fntelecomllc/crawlkernel/internal/httpapi"
	"github.com/fntelecomllc/crawlkernel/internal/logging"
	"github.com/fntelecomllc/crawlkernel/internal/models"
	"github.com/fntelecomllc/crawlkernel/internal/obshealth"
	"github.com/fntelecomllc/crawlkernel/internal/obsmetrics"
	"github.com/fntelecomllc/crawlkernel/internal/obstracing"
	"github.com/fntelecomllc/crawlkernel/internal/persistence"
	"github.com/fntelecomllc/crawlkernel/internal/planner"
	"github.com/fntelecomllc/crawlkernel/internal/retry"
	"github.com/fntelecomllc/crawlkernel/internal/stagelogic"
	"github.com/fntelecomllc/crawlkernel/internal/statecache"
	"github.com/fntelecomllc/crawlkernel/internal/store/postgres"
	"github.com/fntelecomllc/crawlkernel/internal/syncengine"
	"github.com/fntelecomllc/crawlkernel/internal/transport"
	"github.com/fntelecomllc/crawlkernel/internal/wsock"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	envPath := flag.String("env", "", "path to .env")
	migrationsPath := flag.String("migrations", "file://db/migrations", "golang-migrate source URL")
	productLinkPattern := flag.String("product-link-pattern", `/products/[^"'\s]+`, "regexp matching a product detail href")
	totalPagesPattern := flag.String("total-pages-pattern", `Page \d+ of (\d+)`, "regexp whose first capture group is the site's total page count")
	flag.Parse()

	logger := logging.NewStdLogger()

	cfg, err := config.Load(*configPath, *envPath)
	if err != nil {
		logger.Error(context.Background(), "config load failed", err, nil)
		os.Exit(1)
	}

	if cfg.Observability.TracingEnabled {
		tp, err := obstracing.Init(cfg.Observability.ServiceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Error(context.Background(), "tracing init failed, continuing without tracing", err, nil)
		} else {
			defer func() { _ = tp.Shutdown(context.Background()) }()
		}
	}

	metrics := obsmetrics.New(nil)

	db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
	if err != nil {
		logger.Error(context.Background(), "postgres open failed", err, nil)
		os.Exit(1)
	}
	defer db.Close()

	if err := runMigrations(cfg.Database.DSN, *migrationsPath, logger); err != nil {
		logger.Error(context.Background(), "migration run failed", err, nil)
		os.Exit(1)
	}

	store := postgres.New(db)
	persist := persistence.New(store)
	cache := statecache.New()

	extractor, err := transport.NewHTMLExtractor(*productLinkPattern, *totalPagesPattern)
	if err != nil {
		logger.Error(context.Background(), "extractor patterns invalid", err, nil)
		os.Exit(1)
	}
	deps := stagelogic.Deps{
		Fetcher:   transport.NewHTTPFetcher(cfg.Run.StageTimeout),
		Extractor: extractor,
		Engine:    persist,
		SiteConfig: stagelogic.SiteConfig{
			BaseURL: cfg.Site.BaseURL, UserAgent: cfg.Site.UserAgent, Referer: cfg.Site.Referer,
		},
	}

	retryCfg := retry.Config{
		List:       toPolicy(cfg.Retry.List),
		Detail:     toPolicy(cfg.Retry.Detail),
		Validation: toPolicy(cfg.Retry.Validation),
		Save:       toPolicy(cfg.Retry.Save),
	}

	runCfg := models.RunConfig{
		PageSize:                   cfg.Run.PageSize,
		BatchSize:                  cfg.Run.BatchSize,
		ListPageMaxConcurrent:      cfg.Run.ListPageMaxConcurrent,
		ProductDetailMaxConcurrent: cfg.Run.ProductDetailMaxConcurrent,
		ProductDetailRetryCount:    cfg.Run.ProductDetailRetryCount,
		ParallelBatches:            cfg.Run.ParallelBatches,
		PageRangeLimit:             cfg.Planner.PageRangeLimit,
		VerificationPageCount:      cfg.Planner.VerificationPageCount,
		SessionTimeout:             cfg.Run.SessionTimeout,
		StageTimeout:               cfg.Run.StageTimeout,
	}

	stage := actors.NewStageActor(deps, retryCfg, metrics)
	runGuard := actors.NewRunGuard()
	syncEngine := syncengine.New(store, persist, deps, retryCfg, metrics)
	session := actors.NewSessionActor(deps, stage, persist, runGuard, syncEngine, cache, runCfg, metrics)
	validation := actors.NewValidationDriver(store)

	hub := wsock.NewHub()
	go hub.Run()
	defer hub.Stop()

	adapter := &sessionRunnerAdapter{session: session, validation: validation}
	apiServer := httpapi.NewServer(adapter)
	// apiServer itself is an events.Sink (it fans out to SSE subscribers);
	// adapter.sink fans every session's events out to both SSE and the
	// WebSocket hub, so either transport sees the full stream.
	adapter.sink = fanoutSink{hub, apiServer}

	mux := http.NewServeMux()
	mux.Handle("/", apiServer.Router())
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := hub.ServeWS(w, r); err != nil {
			logger.Warn(r.Context(), "websocket upgrade failed", logging.Fields{"error": err.Error()})
		}
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		snap := obshealth.Read()
		fmt.Fprintf(w, "cpu_percent=%.2f memory_used_mb=%d goroutines=%d\n", snap.CPUPercent, snap.MemoryUsedMB, snap.Goroutines)
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: mux}
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}

	go func() {
		logger.Info(context.Background(), "command api listening", logging.Fields{"addr": cfg.Server.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "command api server failed", err, nil)
		}
	}()
	go func() {
		logger.Info(context.Background(), "metrics listening", logging.Fields{"addr": cfg.Server.MetricsAddr})
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "metrics server failed", err, nil)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func runMigrations(dsn, migrationsURL string, logger *logging.StdLogger) error {
	m, err := migrate.New(migrationsURL, toPostgresMigrateDSN(dsn))
	if err != nil {
		return fmt.Errorf("migrate init: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	logger.Info(context.Background(), "migrations applied", nil)
	return nil
}

// toPostgresMigrateDSN returns dsn unchanged: golang-migrate's postgres
// driver accepts the same "postgres://" DSN the pgx pool uses. The wrapper
// is the one place where driver-specific query params would be added.
func toPostgresMigrateDSN(dsn string) string { return dsn }

func toPolicy(c config.RetryPolicyConfig) retry.Policy {
	return retry.Policy{
		MaxAttempts:       c.MaxAttempts,
		BaseDelay:         time.Duration(c.BaseDelayMs) * time.Millisecond,
		MaxDelay:          time.Duration(c.MaxDelayMs) * time.Millisecond,
		ExponentialFactor: c.ExponentialFactor,
		Jitter:            c.Jitter,
	}
}

// fanoutSink publishes every envelope to each of its backing sinks, used
// here to serve SSE subscribers and WebSocket subscribers from the same
// event stream without coupling SessionActor to either transport.
type fanoutSink []events.Sink

func (f fanoutSink) Publish(env events.Envelope) {
	for _, sink := range f {
		if sink != nil {
			sink.Publish(env)
		}
	}
}

// sessionRunnerAdapter satisfies httpapi.SessionRunner by translating its
// transport-facing request/response shapes into actors.SessionActor's
// domain-facing ones, and supplies the fan-out events.Sink every session's
// command spawns into -- the seam that keeps internal/actors free of any
// internal/httpapi import.
type sessionRunnerAdapter struct {
	session    *actors.SessionActor
	sink       events.Sink
	validation *actors.ValidationDriver
}

func (a *sessionRunnerAdapter) StartCrawling(ctx context.Context, req httpapi.StartCrawlRequest) (uuid.UUID, error) {
	return a.session.StartCrawling(ctx, a.sink, actors.StartCrawlRequest{
		Mode:         planner.Mode(req.Mode),
		ManualStart:  req.ManualStart,
		ManualEnd:    req.ManualEnd,
		Verification: req.Verification,
	})
}

func (a *sessionRunnerAdapter) StartPartialSync(ctx context.Context, req httpapi.StartSyncRequest) (uuid.UUID, error) {
	return a.session.StartPartialSync(ctx, a.sink, actors.SyncRequest{RangeExpr: req.RangeExpr, DryRun: req.DryRun})
}

// RunValidation implements httpapi.Validator, running the full-table scan
// synchronously under a throwaway session id so its event sequence still
// carries a SessionID subscribers can filter on.
func (a *sessionRunnerAdapter) RunValidation(ctx context.Context) (httpapi.ValidationReport, error) {
	sessionID := uuid.New()
	builder := events.NewBuilder(sessionID, a.sink)
	actx := &models.ActorContext{SessionID: sessionID, Cancel: ctxDoneSignal{ctx}, Emit: builder}
	result, err := a.validation.Run(ctx, actx)
	if err != nil {
		return httpapi.ValidationReport{}, err
	}
	return httpapi.ValidationReport{Divergences: result.Divergences, Anomalies: result.Anomalies}, nil
}

// ctxDoneSignal adapts a context.Context to models.CancelSignal for
// callers outside internal/actors, which keeps its own equivalent
// unexported.
type ctxDoneSignal struct{ ctx context.Context }

func (c ctxDoneSignal) Done() <-chan struct{} { return c.ctx.Done() }
func (c ctxDoneSignal) Cancelled() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

func (a *sessionRunnerAdapter) CancelSession(sessionID uuid.UUID) error {
	return a.session.CancelSession(sessionID)
}

func (a *sessionRunnerAdapter) SessionStatus(sessionID uuid.UUID) (httpapi.SessionStatusView, bool) {
	view, ok := a.session.SessionStatus(sessionID)
	if !ok {
		return httpapi.SessionStatusView{}, false
	}
	return httpapi.SessionStatusView{SessionID: view.SessionID, State: string(view.State), StartedAt: view.StartedAt}, true
}
