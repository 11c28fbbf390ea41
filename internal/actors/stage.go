// Package actors implements the three-tier actor hierarchy (Session ->
// Batch -> Stage). Each actor owns private state reachable only through
// its public contract or command channel; children hold a clone of the
// parent's ActorContext, never a back-pointer, so the hierarchy is a
// strict tree (SPEC_FULL.md / spec.md §9 "Cyclic ownership avoided").
package actors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fntelecomllc/crawlkernel/internal/events"
	"github.com/fntelecomllc/crawlkernel/internal/models"
	"github.com/fntelecomllc/crawlkernel/internal/obsmetrics"
	"github.com/fntelecomllc/crawlkernel/internal/obstracing"
	"github.com/fntelecomllc/crawlkernel/internal/retry"
	"github.com/fntelecomllc/crawlkernel/internal/stagelogic"
)

// StageState is the StageActor's lifecycle state machine.
type StageState int

const (
	StageIdle StageState = iota
	StageStarting
	StageProcessing
	StageCompletedState
	StageFailedState
	StageTimeoutState
)

// ErrAlreadyProcessing is returned by ExecuteStage on re-entry.
var ErrAlreadyProcessing = fmt.Errorf("stage actor: already processing")

// StageItem is one unit of work dispatched to a stage, carrying enough
// identity for ordering/lookup without forcing every stage to share one
// concrete item type.
type StageItem struct {
	ID    string
	Input stagelogic.Input
}

// ItemResult is one item's outcome, recorded in StageResult.ItemResults.
type ItemResult struct {
	ItemID     string
	Success    bool
	Output     stagelogic.Output
	Error      error
	RetryCount int
}

// StageResult is StageActor's public contract return value.
type StageResult struct {
	Processed   int
	Successful  int
	Failed      int
	Duration    time.Duration
	ItemResults []ItemResult
}

// StageActor runs one stage over N items with bounded concurrency,
// per-item timeouts are governed by the overall stage deadline, retries,
// and lifecycle events. It is re-entrant only from Idle.
type StageActor struct {
	mu      sync.Mutex
	state   StageState
	deps    stagelogic.Deps
	retry   retry.Config
	metrics *obsmetrics.Collector
}

// NewStageActor constructs a StageActor bound to its strategy
// collaborators, retry configuration, and metrics collector. metrics may
// be nil, in which case stage/item/retry observations are skipped.
func NewStageActor(deps stagelogic.Deps, retryCfg retry.Config, metrics *obsmetrics.Collector) *StageActor {
	return &StageActor{state: StageIdle, deps: deps, retry: retryCfg, metrics: metrics}
}

// ExecuteStage runs stageType over items with the given concurrency limit
// and deadline, emitting the lifecycle event sequence from spec §4.3.
func (a *StageActor) ExecuteStage(ctx context.Context, actx *models.ActorContext, stageType stagelogic.Type, items []StageItem, concurrencyLimit int, timeout time.Duration) (StageResult, error) {
	a.mu.Lock()
	if a.state != StageIdle {
		a.mu.Unlock()
		return StageResult{}, ErrAlreadyProcessing
	}
	a.state = StageStarting
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		a.state = StageIdle
		a.mu.Unlock()
	}()

	start := time.Now()
	actx.Emit.Emit(string(events.StageStarted), map[string]any{"stage": string(stageType), "items": len(items)})

	deadline := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		deadline, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	a.mu.Lock()
	a.state = StageProcessing
	a.mu.Unlock()

	if concurrencyLimit <= 0 {
		concurrencyLimit = 1
	}
	sem := make(chan struct{}, concurrencyLimit)
	results := make([]ItemResult, len(items))
	var wg sync.WaitGroup

	for i, item := range items {
		select {
		case <-deadline.Done():
			a.mu.Lock()
			a.state = StageTimeoutState
			a.mu.Unlock()
			actx.Emit.Emit(string(events.StageFailed), map[string]any{"stage": string(stageType), "error": "timeout"})
			return partialResult(results, start), deadline.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(idx int, it StageItem) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = a.runItem(deadline, actx, stageType, it)
		}(i, item)
	}
	wg.Wait()

	if deadline.Err() != nil {
		a.mu.Lock()
		a.state = StageTimeoutState
		a.mu.Unlock()
		actx.Emit.Emit(string(events.StageFailed), map[string]any{"stage": string(stageType), "error": "timeout"})
		return partialResult(results, start), deadline.Err()
	}

	result := partialResult(results, start)
	a.mu.Lock()
	if result.Failed > 0 && result.Successful == 0 && len(items) > 0 {
		a.state = StageFailedState
	} else {
		a.state = StageCompletedState
	}
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.ObserveStage(string(stageType), result.Duration.Seconds())
	}

	actx.Emit.Emit(string(events.StageCompleted), map[string]any{
		"stage": string(stageType), "processed": result.Processed, "successful": result.Successful, "failed": result.Failed,
	})
	return result, nil
}

func partialResult(results []ItemResult, start time.Time) StageResult {
	r := StageResult{Duration: time.Since(start), ItemResults: results}
	for _, ir := range results {
		if ir.ItemID == "" {
			continue
		}
		r.Processed++
		if ir.Success {
			r.Successful++
		} else {
			r.Failed++
		}
	}
	return r
}

// runItem emits StageItemStarted, the stage-specific lifecycle pre/post
// events, and StageItemCompleted, in that order, per spec §4.3's ordering
// guarantee.
func (a *StageActor) runItem(ctx context.Context, actx *models.ActorContext, stageType stagelogic.Type, item StageItem) ItemResult {
	ctx, span := obstracing.StartStageSpan(ctx, obstracing.Tracer("crawlkernel/actors"), string(stageType), item.ID)
	defer span.End()

	actx.Emit.Emit(string(events.StageItemStarted), events.StageItemStartedData{ItemID: item.ID})

	emitPreLifecycle(actx, stageType, item)

	policy := a.retry.For(policyStageFor(stageType))
	attempts := 0
	var out stagelogic.Output
	err := retry.Run(ctx, policyStageFor(stageType), policy, func(ctx context.Context, attempt int) error {
		attempts = attempt
		o, e := stagelogic.Execute(ctx, a.deps, item.Input)
		if e != nil {
			return retry.Classify(retry.ClassTaskExecutionFailed, e)
		}
		out = o
		return nil
	}, func(stage retry.Stage, attempt, max int, reason string, class retry.ErrorClass) {
		actx.Emit.Emit(string(events.StageRetrying), events.StageRetryingData{Stage: string(stage), Attempt: attempt, Max: max, Reason: reason})
		if a.metrics != nil {
			a.metrics.CountRetry(string(stage), class.String())
		}
	})

	success := err == nil
	emitPostLifecycle(actx, stageType, item, success, err)

	if a.metrics != nil {
		outcome := "success"
		if !success {
			outcome = "failed"
		}
		a.metrics.CountItem(string(stageType), outcome)
	}

	collected := 0
	if success {
		collected = len(out.ProductURLs)
	}
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}
	actx.Emit.Emit(string(events.StageItemCompleted), events.StageItemCompletedData{
		ItemID: item.ID, Success: success, CollectedCount: collected, Error: errStr, RetryCount: attempts - 1,
	})

	return ItemResult{ItemID: item.ID, Success: success, Output: out, Error: err, RetryCount: attempts - 1}
}

func policyStageFor(t stagelogic.Type) retry.Stage {
	switch t {
	case stagelogic.TypeDetailGroup:
		return retry.StageDetail
	case stagelogic.TypeValidation:
		return retry.StageValidation
	case stagelogic.TypeSave:
		return retry.StageSave
	default:
		return retry.StageList
	}
}

func emitPreLifecycle(actx *models.ActorContext, stageType stagelogic.Type, item StageItem) {
	switch stageType {
	case stagelogic.TypeStatusCheck, stagelogic.TypeListPage:
		actx.Emit.Emit(string(events.PageLifecycle), events.PageLifecycleData{Page: item.Input.PhysicalPage, Status: events.FetchStarted})
	case stagelogic.TypeDetailGroup:
		actx.Emit.Emit(string(events.ProductLifecycle), events.ProductLifecycleData{URL: item.Input.URL, Status: events.ProductFetchStarted})
	}
}

func emitPostLifecycle(actx *models.ActorContext, stageType stagelogic.Type, item StageItem, success bool, err error) {
	switch stageType {
	case stagelogic.TypeStatusCheck, stagelogic.TypeListPage:
		if success {
			actx.Emit.Emit(string(events.PageLifecycle), events.PageLifecycleData{Page: item.Input.PhysicalPage, Status: events.FetchCompleted})
		} else {
			actx.Emit.Emit(string(events.PageLifecycle), events.PageLifecycleData{Page: item.Input.PhysicalPage, Status: events.Failed, Error: errString(err)})
		}
	case stagelogic.TypeDetailGroup:
		if success {
			actx.Emit.Emit(string(events.ProductLifecycle), events.ProductLifecycleData{URL: item.Input.URL, Status: events.ProductFetchCompleted})
		} else {
			actx.Emit.Emit(string(events.ProductLifecycle), events.ProductLifecycleData{URL: item.Input.URL, Status: events.ProductFailed, Error: errString(err)})
		}
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
