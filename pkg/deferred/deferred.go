// Package deferred implements the delayed-deletion scheduler: when the
// engine deletes an object, the deletion is held for a grace window so a
// late-opening reader or a just-resurrected writer never observes a
// vanished predecessor. A second delete for the same key arriving before
// the window elapses replaces the pending one and restarts its window;
// Cancel, called when the key is re-created, drops the pending delete.
//
// The ordered-by-deadline index is a skipmap.FuncMap, the same
// concurrent-skiplist type and comparator-function construction the
// teacher's memtable uses for its sorted key space
// (pkg/memtable.Memtable's skipmap.NewFunc(bytes.Compare-style less)).
package deferred

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zhangyunhao116/skipmap"

	"lsmcloud/pkg/objstore"
	"lsmcloud/pkg/retry"
	"lsmcloud/pkg/types"
)

// DefaultDelay is the default grace window before a delete is issued.
const DefaultDelay = time.Hour

// failureBackoff bounds how soon a failed delete is retried, so a
// persistently-failing delete does not spin the worker.
const failureBackoff = 30 * time.Second

// idleWait is how long the worker sleeps when the queue is empty; Enqueue
// wakes it early via the wake channel.
const idleWait = time.Hour

// Scheduler holds one {object key -> earliest-delete-time} map per prefix
// and issues deletes as deadlines elapse.
type Scheduler struct {
	store       objstore.Client
	prefix      types.Prefix
	delay       time.Duration
	retryBudget time.Duration

	// mu guards byKey and sequences byDeadline mutations: the skiplist
	// itself is lock-free, but the reverse index and cancel-on-recreate
	// semantics need a single guarding mutex per spec.md §4.8/§5.
	mu         sync.Mutex
	byDeadline *skipmap.FuncMap[string, string]
	byKey      map[string]string // object key -> its current deadline key

	wake chan struct{}
	done chan struct{}
	stop context.CancelFunc
}

// Opts configures a Scheduler beyond its required collaborators.
type Opts struct {
	Delay       time.Duration
	RetryBudget time.Duration
}

// New returns a Scheduler for prefix. Call Start to begin processing.
func New(store objstore.Client, prefix types.Prefix, opts Opts) *Scheduler {
	delay := opts.Delay
	if delay <= 0 {
		delay = DefaultDelay
	}
	budget := opts.RetryBudget
	if budget <= 0 {
		budget = retry.DefaultBudget
	}
	return &Scheduler{
		store:       store,
		prefix:      prefix,
		delay:       delay,
		retryBudget: budget,
		byDeadline:  skipmap.NewFunc[string, string](func(a, b string) bool { return a < b }),
		byKey:       make(map[string]string),
		wake:        make(chan struct{}, 1),
	}
}

// Start begins the background worker that issues deletes as deadlines
// elapse. Pending deletes are abandoned on ctx cancellation (spec.md
// §4.8: "on process shutdown, pending deletes are abandoned").
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.stop = cancel
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop halts the worker. Pending entries are left in place; nothing is
// deleted or persisted for them.
func (s *Scheduler) Stop() {
	if s.stop != nil {
		s.stop()
		<-s.done
	}
}

// Enqueue schedules key for deletion after the configured delay,
// replacing any earlier pending deadline for the same key.
func (s *Scheduler) Enqueue(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rescheduleLocked(key, time.Now().Add(s.delay))
	s.wakeNow()
}

// Cancel cancels key's pending delete, if any, reporting whether one was
// pending. The engine calls this when a write completes for a key that
// was previously enqueued for deletion (spec.md's "recreate" case).
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	dk, ok := s.byKey[key]
	if !ok {
		return false
	}
	delete(s.byKey, key)
	return s.byDeadline.Delete(dk)
}

// Pending reports whether key currently has a delete scheduled.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byKey[key]
	return ok
}

// Len reports the number of deletes currently queued. Exposed for
// healthz's status surface; not used in any scheduling decision.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

func (s *Scheduler) rescheduleLocked(key string, deadline time.Time) {
	if old, ok := s.byKey[key]; ok {
		s.byDeadline.Delete(old)
	}
	dk := deadlineKey(deadline, key)
	s.byKey[key] = dk
	s.byDeadline.Store(dk, key)
}

func (s *Scheduler) wakeNow() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// peekMinLocked returns the earliest-deadline entry. Range over a skip
// list visits keys in ascending order starting from the head, so the
// first callback is the minimum; this is the map's "first element" the
// spec's O(log N) wording refers to.
func (s *Scheduler) peekMinLocked() (dk, key string, ok bool) {
	s.byDeadline.Range(func(k, v string) bool {
		dk, key, ok = k, v, true
		return false
	})
	return
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	for {
		s.mu.Lock()
		dk, key, ok := s.peekMinLocked()
		s.mu.Unlock()

		wait := idleWait
		if ok {
			if d := time.Until(deadlineOf(dk)); d > 0 {
				wait = d
			} else {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
			continue
		case <-timer.C:
			if ok {
				s.fire(ctx, dk, key)
			}
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, dk, key string) {
	err := retry.Do(ctx, s.retryBudget, retry.Transient, func() error {
		return s.store.Delete(ctx, s.prefix, key)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	// The entry may have been cancelled or re-enqueued with a fresh
	// deadline key while the delete was in flight; only clear it if it
	// still refers to this exact generation.
	if cur, ok := s.byKey[key]; !ok || cur != dk {
		return
	}

	if err != nil {
		slog.Warn("deferred delete failed, will retry at next wake", "key", key, "error", err)
		s.rescheduleLocked(key, time.Now().Add(failureBackoff))
		return
	}

	delete(s.byKey, key)
	s.byDeadline.Delete(dk)
}

// deadlineKey builds a string that sorts by deadline first, key second,
// so skipmap.FuncMap's ascending string order is deadline order.
func deadlineKey(deadline time.Time, key string) string {
	return fmt.Sprintf("%020d|%s", deadline.UnixNano(), key)
}

// deadlineOf recovers the deadline encoded by deadlineKey.
func deadlineOf(dk string) time.Time {
	nanosPart, _, _ := strings.Cut(dk, "|")
	nanos, _ := strconv.ParseInt(nanosPart, 10, 64)
	return time.Unix(0, nanos)
}
