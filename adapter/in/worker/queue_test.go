package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"mailmind/pkg/apperr"
)

const (
	testInterItemDelay = 2 * time.Second
	testRetryDelay     = 5 * time.Minute
)

// recorder is a ProcessFunc that records calls and returns scripted errors.
type recorder struct {
	mu     sync.Mutex
	calls  []string
	errors map[string]error
}

func (r *recorder) process(_ context.Context, messageID string, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, messageID)
	return r.errors[messageID]
}

func (r *recorder) processed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func newTestQueue(rec *recorder) (*Queue, *fakeClock) {
	clock := newFakeClock()
	q := NewQueue(context.Background(), QueueConfig{
		InterItemDelay: testInterItemDelay,
		RetryDelay:     testRetryDelay,
	}, clock, rec.process, zerolog.Nop())
	return q, clock
}

func TestEnqueueDedup(t *testing.T) {
	q, _ := newTestQueue(&recorder{})

	q.Enqueue("m1", false)
	q.Enqueue("m1", false)
	if got := q.Len(); got != 1 {
		t.Errorf("Len after duplicate enqueue = %d, want 1", got)
	}

	q.Enqueue("m1", true)
	if got := q.Len(); got != 2 {
		t.Errorf("Len after force enqueue = %d, want 2", got)
	}
}

func TestDrainFIFO(t *testing.T) {
	rec := &recorder{}
	q, clock := newTestQueue(rec)
	q.Start()

	q.Enqueue("m1", false)
	q.Enqueue("m2", false)
	q.Enqueue("m3", false)

	clock.Advance(time.Minute)

	got := rec.processed()
	if len(got) != 3 || got[0] != "m1" || got[1] != "m2" || got[2] != "m3" {
		t.Errorf("processed order = %v, want [m1 m2 m3]", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len after drain = %d", q.Len())
	}
	if q.State() != StateIdle {
		t.Errorf("State after drain = %s", q.State())
	}
	if s := q.GetStats(); s.ProcessedCount != 3 || s.ErrorCount != 0 {
		t.Errorf("stats = %+v", s)
	}
}

func TestDrainWaitsInterItemDelay(t *testing.T) {
	rec := &recorder{}
	q, clock := newTestQueue(rec)
	q.Start()
	q.Enqueue("m1", false)

	clock.Advance(testInterItemDelay - time.Millisecond)
	if len(rec.processed()) != 0 {
		t.Fatal("drained before the inter-item delay elapsed")
	}
	clock.Advance(time.Millisecond)
	if len(rec.processed()) != 1 {
		t.Fatal("did not drain after the inter-item delay")
	}
}

func TestPauseOnTransientFailure(t *testing.T) {
	rec := &recorder{errors: map[string]error{
		"m1": apperr.InferenceTransport(context.DeadlineExceeded),
	}}
	q, clock := newTestQueue(rec)
	q.Start()
	q.Enqueue("m1", false)
	q.Enqueue("m2", false)

	clock.Advance(testInterItemDelay)

	if got := q.State(); got != StatePaused {
		t.Fatalf("State after failure = %s, want %s", got, StatePaused)
	}
	// The failed item is back at the head, nothing lost.
	if got := q.Len(); got != 2 {
		t.Errorf("Len after failure = %d, want 2", got)
	}
	if calls := rec.processed(); len(calls) != 1 || calls[0] != "m1" {
		t.Errorf("calls = %v, want [m1]", calls)
	}

	// Nothing drains while paused.
	clock.Advance(testRetryDelay - time.Second)
	if len(rec.processed()) != 1 {
		t.Fatalf("queue drained while paused: %v", rec.processed())
	}

	// After the retry delay the same item is retried first.
	rec.mu.Lock()
	rec.errors = nil
	rec.mu.Unlock()
	clock.Advance(testRetryDelay)

	calls := rec.processed()
	if len(calls) != 3 || calls[1] != "m1" || calls[2] != "m2" {
		t.Errorf("calls after resume = %v, want [m1 m1 m2]", calls)
	}
	if s := q.GetStats(); s.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", s.ErrorCount)
	}
}

func TestItemErrorDoesNotPause(t *testing.T) {
	rec := &recorder{errors: map[string]error{
		"m1": apperr.MalformedOutput(context.Canceled),
	}}
	q, clock := newTestQueue(rec)
	q.Start()
	q.Enqueue("m1", false)
	q.Enqueue("m2", false)

	clock.Advance(time.Minute)

	calls := rec.processed()
	if len(calls) != 2 || calls[1] != "m2" {
		t.Errorf("calls = %v, want [m1 m2]", calls)
	}
	if s := q.GetStats(); s.ErrorCount != 1 || s.ProcessedCount != 1 {
		t.Errorf("stats = %+v", s)
	}
}

func TestMessageGoneDropsSilently(t *testing.T) {
	rec := &recorder{errors: map[string]error{
		"m1": apperr.MessageGone("m1"),
	}}
	q, clock := newTestQueue(rec)
	q.Start()
	q.Enqueue("m1", false)
	q.Enqueue("m2", false)

	clock.Advance(time.Minute)

	if s := q.GetStats(); s.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, want 0 for a deleted message", s.ErrorCount)
	}
	if calls := rec.processed(); len(calls) != 2 {
		t.Errorf("calls = %v", calls)
	}
}

func TestManualFlagGatesDraining(t *testing.T) {
	rec := &recorder{}
	q, clock := newTestQueue(rec)
	q.Start()
	q.SetManualFlag(true)
	q.Enqueue("m1", false)

	clock.Advance(time.Minute)
	if len(rec.processed()) != 0 {
		t.Fatal("background work ran while a manual action was in flight")
	}
	if got := q.State(); got != StateIdle {
		t.Errorf("State = %s, want %s", got, StateIdle)
	}

	q.SetManualFlag(false)
	clock.Advance(time.Minute)
	if len(rec.processed()) != 1 {
		t.Fatal("queue did not resume after the manual action finished")
	}
}

func TestStopKeepsItems(t *testing.T) {
	rec := &recorder{}
	q, clock := newTestQueue(rec)
	q.Start()
	q.Stop()
	q.Enqueue("m1", false)

	clock.Advance(time.Minute)
	if len(rec.processed()) != 0 {
		t.Fatal("disabled queue drained")
	}
	if got := q.State(); got != StateDisabled {
		t.Errorf("State = %s, want %s", got, StateDisabled)
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, item lost on stop", q.Len())
	}

	if wasEmpty := q.Start(); wasEmpty {
		t.Error("Start reported an empty queue")
	}
	clock.Advance(time.Minute)
	if len(rec.processed()) != 1 {
		t.Fatal("queue did not resume after Start")
	}
}

func TestStartClearsPause(t *testing.T) {
	rec := &recorder{errors: map[string]error{
		"m1": apperr.InferenceTimeout(context.DeadlineExceeded),
	}}
	q, clock := newTestQueue(rec)
	q.Start()
	q.Enqueue("m1", false)
	clock.Advance(testInterItemDelay)

	if q.State() != StatePaused {
		t.Fatalf("State = %s, want paused", q.State())
	}

	rec.mu.Lock()
	rec.errors = nil
	rec.mu.Unlock()

	// Start overrides the backoff instead of waiting it out.
	q.Start()
	clock.Advance(testInterItemDelay)
	if calls := rec.processed(); len(calls) != 2 {
		t.Errorf("calls = %v, want retry right after Start", calls)
	}
}

func TestClear(t *testing.T) {
	q, _ := newTestQueue(&recorder{})
	q.Enqueue("m1", false)
	q.Enqueue("m2", false)

	if n := q.Clear(); n != 2 {
		t.Errorf("Clear = %d, want 2", n)
	}
	if q.Len() != 0 {
		t.Errorf("Len after Clear = %d", q.Len())
	}
	// Dedup state resets with the items.
	q.Enqueue("m1", false)
	if q.Len() != 1 {
		t.Errorf("Len after re-enqueue = %d, want 1", q.Len())
	}
}
