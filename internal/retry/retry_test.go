package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestClassifyAndClassOfRoundTrip(t *testing.T) {
	base := errors.New("boom")
	classified := Classify(ClassDatabaseBusy, base)
	if got := ClassOf(classified); got != ClassDatabaseBusy {
		t.Fatalf("ClassOf() = %v, want %v", got, ClassDatabaseBusy)
	}
	if !errors.Is(classified, base) {
		t.Fatal("Classify should preserve Unwrap() chain to the original error")
	}
}

func TestClassOfUnclassifiedDefaultsToTaskExecutionFailed(t *testing.T) {
	if got := ClassOf(errors.New("opaque")); got != ClassTaskExecutionFailed {
		t.Fatalf("ClassOf(unclassified) = %v, want %v", got, ClassTaskExecutionFailed)
	}
}

func TestClassOfContextCancelled(t *testing.T) {
	if got := ClassOf(context.Canceled); got != ClassTaskCancelled {
		t.Fatalf("ClassOf(context.Canceled) = %v, want %v", got, ClassTaskCancelled)
	}
}

func TestRetryableTaxonomy(t *testing.T) {
	retryable := map[ErrorClass]bool{
		ClassNetworkTransient:    true,
		ClassNetworkTimeout:      true,
		ClassResourceExhausted:   true,
		ClassDatabaseBusy:        true,
		ClassTaskExecutionFailed: true,
		ClassParsing:             false,
		ClassValidation:          false,
		ClassDatabaseConstraint:  false,
		ClassDatabaseOther:       false,
		ClassConfiguration:       false,
		ClassChannel:             false,
		ClassTaskCancelled:       false,
		ClassUnknown:             false,
	}
	for class, want := range retryable {
		if got := class.Retryable(); got != want {
			t.Fatalf("%v.Retryable() = %v, want %v", class, got, want)
		}
	}
}

func TestRunNeverExceedsMaxAttempts(t *testing.T) {
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Microsecond, ExponentialFactor: 1}
	var attempts int
	err := Run(context.Background(), StageDetail, policy, func(ctx context.Context, attempt int) error {
		attempts++
		return Classify(ClassNetworkTransient, errors.New("still failing"))
	}, nil)
	if err == nil {
		t.Fatal("expected the final error to propagate")
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want exactly MaxAttempts=3", attempts)
	}
}

func TestRunStopsImmediatelyOnNonRetryableClass(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Microsecond, ExponentialFactor: 1}
	var attempts int
	err := Run(context.Background(), StageValidation, policy, func(ctx context.Context, attempt int) error {
		attempts++
		return Classify(ClassValidation, errors.New("bad shape"))
	}, nil)
	if err == nil {
		t.Fatal("expected the non-retryable error to propagate")
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want exactly 1 since ClassValidation is not retryable", attempts)
	}
}

func TestRunSucceedsWithoutExhaustingAttempts(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Microsecond, ExponentialFactor: 1}
	var attempts int
	err := Run(context.Background(), StageList, policy, func(ctx context.Context, attempt int) error {
		attempts++
		if attempt < 2 {
			return Classify(ClassNetworkTransient, errors.New("transient"))
		}
		return nil
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2 (fail once, then succeed)", attempts)
	}
}

func TestRunInvokesOnRetryWithStageAndReason(t *testing.T) {
	policy := Policy{MaxAttempts: 2, BaseDelay: time.Microsecond, ExponentialFactor: 1}
	var gotStage Stage
	var gotReason string
	var gotClass ErrorClass
	_ = Run(context.Background(), StageSave, policy, func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			return Classify(ClassDatabaseBusy, errors.New("locked"))
		}
		return nil
	}, func(stage Stage, attempt, max int, reason string, class ErrorClass) {
		gotStage = stage
		gotReason = reason
		gotClass = class
	})
	if gotStage != StageSave {
		t.Fatalf("onRetry stage = %v, want %v", gotStage, StageSave)
	}
	if gotReason != "locked" {
		t.Fatalf("onRetry reason = %q, want %q", gotReason, "locked")
	}
	if gotClass != ClassDatabaseBusy {
		t.Fatalf("onRetry class = %v, want %v", gotClass, ClassDatabaseBusy)
	}
}

func TestRunRespectsContextCancellationDuringSleep(t *testing.T) {
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Hour, ExponentialFactor: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Run(ctx, StageList, policy, func(ctx context.Context, attempt int) error {
		return Classify(ClassNetworkTransient, errors.New("transient"))
	}, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
}

func TestPolicyDelayRespectsMaxDelay(t *testing.T) {
	policy := Policy{BaseDelay: time.Second, MaxDelay: 2 * time.Second, ExponentialFactor: 10}
	d := policy.Delay(5)
	if d > 2*time.Second {
		t.Fatalf("Delay() = %v, want capped at MaxDelay=2s", d)
	}
}

func TestPolicyDelayZeroForNonPositiveAttempt(t *testing.T) {
	policy := Policy{BaseDelay: time.Second, ExponentialFactor: 2}
	if d := policy.Delay(0); d != 0 {
		t.Fatalf("Delay(0) = %v, want 0", d)
	}
}
