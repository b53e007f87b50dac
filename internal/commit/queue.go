package commit

import (
	"sync"
	"time"

	"canvas-backend/internal/model"
)

// FlushFunc commits the latest coalesced patch for a key. It runs outside
// the queue lock and may block on the network.
type FlushFunc func(key string, patch model.ShapePatch)

// Queue coalesces high-frequency patches per shape key and limits how often
// they are flushed to the store. Last value wins: a newer Submit overwrites
// a not-yet-flushed patch, intermediate states are never queued. Per key,
// at most one flush is in flight at a time.
type Queue struct {
	mu       sync.Mutex
	interval time.Duration
	flush    FlushFunc
	entries  map[string]*entry
	closed   bool
}

type entry struct {
	flightMu  sync.Mutex // serializes flushes for this key
	pending   *model.ShapePatch
	timer     *time.Timer
	lastFlush time.Time
}

func NewQueue(interval time.Duration, flush FlushFunc) *Queue {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Queue{
		interval: interval,
		flush:    flush,
		entries:  map[string]*entry{},
	}
}

// Submit stores the latest patch for key. If the minimum interval has
// elapsed since the last flush the patch goes out immediately; otherwise a
// single timer is armed for the remaining time.
func (q *Queue) Submit(key string, patch model.ShapePatch) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	e := q.entryLocked(key)
	e.pending = &patch
	elapsed := time.Since(e.lastFlush)
	if elapsed >= q.interval {
		q.mu.Unlock()
		go q.flushKey(key, false)
		return
	}
	if e.timer == nil {
		remaining := q.interval - elapsed
		e.timer = time.AfterFunc(remaining, func() {
			q.flushKey(key, false)
		})
	}
	q.mu.Unlock()
}

// Finalize cancels any pending timer for key and synchronously flushes the
// latest stored patch, so the final state of an interaction is committed
// exactly once even when a throttle window was in flight.
func (q *Queue) Finalize(key string) {
	q.flushKey(key, true)
}

// Abort drops the pending patch and timer for key without flushing.
func (q *Queue) Abort(key string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[key]
	if !ok {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.pending = nil
}

// Close aborts every key; no flush fires afterwards.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for _, e := range q.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.pending = nil
	}
}

func (q *Queue) entryLocked(key string) *entry {
	e, ok := q.entries[key]
	if !ok {
		// Zero lastFlush so the first submit for a key flushes immediately.
		e = &entry{}
		q.entries[key] = e
	}
	return e
}

// flushKey takes the pending patch for key and commits it. When the
// interval has not elapsed yet and force is false, it re-arms the timer
// instead. flightMu makes concurrent callers for the same key queue up, so
// a flush never overtakes another one for that key.
func (q *Queue) flushKey(key string, force bool) {
	q.mu.Lock()
	e, ok := q.entries[key]
	q.mu.Unlock()
	if !ok {
		return
	}

	e.flightMu.Lock()
	defer e.flightMu.Unlock()

	q.mu.Lock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if q.closed || e.pending == nil {
		q.mu.Unlock()
		return
	}
	if !force {
		if wait := q.interval - time.Since(e.lastFlush); wait > 0 {
			e.timer = time.AfterFunc(wait, func() {
				q.flushKey(key, false)
			})
			q.mu.Unlock()
			return
		}
	}
	patch := *e.pending
	e.pending = nil
	q.mu.Unlock()

	q.flush(key, patch)

	q.mu.Lock()
	e.lastFlush = time.Now()
	q.mu.Unlock()
}
