package events

import (
	"testing"

	"github.com/google/uuid"
)

type recordingSink struct {
	envelopes []Envelope
}

func (s *recordingSink) Publish(env Envelope) { s.envelopes = append(s.envelopes, env) }

func TestBuilderSequenceIsMonotonicWithinSession(t *testing.T) {
	sink := &recordingSink{}
	sessionID := uuid.New()
	builder := NewBuilder(sessionID, sink)

	builder.Emit(string(SessionStarted), nil)
	builder.Emit(string(PreflightDiagnostics), nil)
	builder.Emit(string(SessionCompleted), nil)

	if len(sink.envelopes) != 3 {
		t.Fatalf("got %d envelopes, want 3", len(sink.envelopes))
	}
	for i, env := range sink.envelopes {
		if env.Seq != int64(i+1) {
			t.Fatalf("envelope %d has Seq=%d, want %d", i, env.Seq, i+1)
		}
		if env.SessionID != sessionID {
			t.Fatalf("envelope %d has SessionID=%v, want %v", i, env.SessionID, sessionID)
		}
	}
}

func TestWithBatchSharesSequenceCounterWithParent(t *testing.T) {
	sink := &recordingSink{}
	sessionID := uuid.New()
	builder := NewBuilder(sessionID, sink)
	builder.Emit(string(SessionStarted), nil)

	batchID := uuid.New()
	batchBuilder := builder.WithBatch(batchID)
	batchBuilder.Emit(string(BatchStarted), nil)
	builder.Emit(string(SessionCompleted), nil)

	if len(sink.envelopes) != 3 {
		t.Fatalf("got %d envelopes, want 3", len(sink.envelopes))
	}
	if sink.envelopes[1].Seq != 2 {
		t.Fatalf("batch-scoped emit should continue the parent's sequence, got Seq=%d", sink.envelopes[1].Seq)
	}
	if sink.envelopes[1].BatchID == nil || *sink.envelopes[1].BatchID != batchID {
		t.Fatalf("expected batch-scoped envelope to carry BatchID=%v, got %+v", batchID, sink.envelopes[1].BatchID)
	}
	if sink.envelopes[0].BatchID != nil || sink.envelopes[2].BatchID != nil {
		t.Fatal("session-scoped envelopes must not carry a BatchID")
	}
}

func TestBuilderEmitIsNoOpWithoutSink(t *testing.T) {
	builder := NewBuilder(uuid.New(), nil)
	// Must not panic when no sink is attached.
	builder.Emit(string(SessionStarted), nil)
}
