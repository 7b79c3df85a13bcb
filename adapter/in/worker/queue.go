package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"mailmind/pkg/apperr"
)

// State is the queue's externally visible mode.
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining" // one item in flight
	StatePaused   State = "paused"   // inference failure backoff
	StateDisabled State = "disabled" // user setting off
)

// ProcessFunc handles one dequeued item. The returned error drives the state
// machine: nil and message-gone continue draining, transient errors pause the
// whole queue and re-queue the item at the head, anything else counts as an
// item-level error and draining continues.
type ProcessFunc func(ctx context.Context, messageID string, force bool) error

type queueItem struct {
	messageID string
	force     bool
}

// QueueConfig tunes drain pacing.
type QueueConfig struct {
	// InterItemDelay spaces consecutive drain attempts so the inference
	// server is never hit back-to-back.
	InterItemDelay time.Duration
	// RetryDelay is how long the queue stays paused after a transient
	// inference failure.
	RetryDelay time.Duration
}

// Stats is a point-in-time queue snapshot.
type Stats struct {
	State          State `json:"state"`
	Length         int   `json:"length"`
	ProcessedCount int   `json:"processed_count"`
	ErrorCount     int   `json:"error_count"`
	ManualInFlight bool  `json:"manual_in_flight"`
}

// Queue is a single-worker FIFO work queue with pause/resume. At most one
// item is in flight; a transient failure pauses everything until the retry
// delay elapses rather than burning through the remaining items.
type Queue struct {
	cfg     QueueConfig
	clock   Clock
	process ProcessFunc
	log     zerolog.Logger

	mu             sync.Mutex
	ctx            context.Context
	items          []queueItem
	pending        map[string]int // queued copies per message ID
	enabled        bool
	paused         bool
	processing     bool
	manualInFlight bool
	drainScheduled bool
	processedCount int
	errorCount     int
	unpauseTimer   Timer
}

// NewQueue creates a stopped queue; call Start to begin draining. ctx bounds
// every processing call.
func NewQueue(ctx context.Context, cfg QueueConfig, clock Clock, process ProcessFunc, log zerolog.Logger) *Queue {
	if cfg.InterItemDelay <= 0 {
		cfg.InterItemDelay = 2 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Minute
	}
	return &Queue{
		cfg:     cfg,
		clock:   clock,
		process: process,
		log:     log.With().Str("component", "work_queue").Logger(),
		ctx:     ctx,
		pending: make(map[string]int),
	}
}

// Enqueue appends messageID unless it is already queued; force skips the
// dedup check and later bypasses the cache-hit skip for that item.
func (q *Queue) Enqueue(messageID string, force bool) {
	q.mu.Lock()
	if !force && q.pending[messageID] > 0 {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, queueItem{messageID: messageID, force: force})
	q.pending[messageID]++
	length := len(q.items)
	q.scheduleDrainLocked()
	q.mu.Unlock()

	q.log.Debug().Str("messageId", messageID).Bool("force", force).Int("queued", length).Msg("enqueued")
}

// Stop disables draining. Queued items are kept.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.enabled = false
	q.mu.Unlock()
	q.log.Info().Msg("queue stopped")
}

// Start enables draining and clears any failure pause. It reports whether
// the queue was empty, so the caller can decide to backfill.
func (q *Queue) Start() (wasEmpty bool) {
	q.mu.Lock()
	q.enabled = true
	q.paused = false
	if q.unpauseTimer != nil {
		q.unpauseTimer.Stop()
		q.unpauseTimer = nil
	}
	wasEmpty = len(q.items) == 0
	q.scheduleDrainLocked()
	q.mu.Unlock()

	q.log.Info().Bool("wasEmpty", wasEmpty).Msg("queue started")
	return wasEmpty
}

// SetManualFlag gates background draining while a user-triggered foreground
// action runs. Clearing the flag immediately attempts to resume.
func (q *Queue) SetManualFlag(active bool) {
	q.mu.Lock()
	q.manualInFlight = active
	if !active {
		q.scheduleDrainLocked()
	}
	q.mu.Unlock()
}

// Clear drops every queued item. In-flight work is unaffected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.pending = make(map[string]int)
	q.mu.Unlock()

	if n > 0 {
		q.log.Info().Int("dropped", n).Msg("queue cleared")
	}
	return n
}

// State derives the externally visible mode.
func (q *Queue) State() State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stateLocked()
}

func (q *Queue) stateLocked() State {
	switch {
	case !q.enabled:
		return StateDisabled
	case q.paused:
		return StatePaused
	case q.processing:
		return StateDraining
	default:
		return StateIdle
	}
}

// Len returns the number of queued (not in-flight) items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// GetStats returns a snapshot of queue state and session counters.
func (q *Queue) GetStats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		State:          q.stateLocked(),
		Length:         len(q.items),
		ProcessedCount: q.processedCount,
		ErrorCount:     q.errorCount,
		ManualInFlight: q.manualInFlight,
	}
}

// scheduleDrainLocked arms one drain attempt after the inter-item delay.
// Multiple triggers collapse into a single pending attempt.
func (q *Queue) scheduleDrainLocked() {
	if q.drainScheduled || len(q.items) == 0 {
		return
	}
	if !q.enabled || q.paused || q.processing || q.manualInFlight {
		return
	}
	q.drainScheduled = true
	q.clock.AfterFunc(q.cfg.InterItemDelay, q.drainAttempt)
}

// drainAttempt re-checks every guard, pops the head, and processes it. The
// guards run again here because state may have changed while the timer was
// pending.
func (q *Queue) drainAttempt() {
	q.mu.Lock()
	q.drainScheduled = false
	if !q.enabled || q.paused || q.processing || q.manualInFlight || len(q.items) == 0 {
		q.mu.Unlock()
		return
	}
	item := q.items[0]
	q.items = q.items[1:]
	q.pending[item.messageID]--
	if q.pending[item.messageID] <= 0 {
		delete(q.pending, item.messageID)
	}
	q.processing = true
	ctx := q.ctx
	q.mu.Unlock()

	err := q.process(ctx, item.messageID, item.force)

	q.mu.Lock()
	q.processing = false
	switch {
	case err == nil:
		q.processedCount++
		q.scheduleDrainLocked()
	case apperr.IsMessageGone(err):
		// Deleted mid-queue: drop silently, not an error.
		q.scheduleDrainLocked()
	case apperr.IsTransient(err):
		q.errorCount++
		q.requeueHeadLocked(item)
		q.pauseLocked()
	default:
		q.errorCount++
		q.scheduleDrainLocked()
	}
	q.mu.Unlock()

	if err != nil && !apperr.IsMessageGone(err) {
		q.log.Warn().Err(err).
			Str("messageId", item.messageID).
			Bool("transient", apperr.IsTransient(err)).
			Msg("item processing failed")
	}
}

// requeueHeadLocked puts a failed item back at the front so it retries
// before anything newly enqueued.
func (q *Queue) requeueHeadLocked(item queueItem) {
	q.items = append([]queueItem{item}, q.items...)
	q.pending[item.messageID]++
}

// pauseLocked halts draining and arms the automatic un-pause.
func (q *Queue) pauseLocked() {
	q.paused = true
	if q.unpauseTimer != nil {
		q.unpauseTimer.Stop()
	}
	q.unpauseTimer = q.clock.AfterFunc(q.cfg.RetryDelay, func() {
		q.mu.Lock()
		q.paused = false
		q.unpauseTimer = nil
		q.scheduleDrainLocked()
		q.mu.Unlock()
		q.log.Info().Msg("retry delay elapsed, resuming queue")
	})
	q.log.Warn().Dur("retryDelay", q.cfg.RetryDelay).Msg("queue paused after inference failure")
}
