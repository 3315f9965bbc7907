/*
Package refcount implements the shared-ownership primitive backing service
registrations and service references: an atomic count, initialised to 1,
incremented by Acquire, and decremented by Release which invokes a
caller-supplied release function exactly once when the count reaches
zero.

Service references carry two independent counters - a reference count
(how many handles exist), realised as a Handle, and a usage count (how
many GetService calls have not yet been matched by UngetService), kept
as a separate plain atomic counter - so the two never interfere with
each other.
*/
package refcount

import "sync/atomic"

// Handle is an embeddable reference count. The zero value is not usable;
// call Init before first use.
type Handle struct {
	count atomic.Int64
}

// Init sets the count to 1. Must be called once before Acquire/Release.
func (h *Handle) Init() {
	h.count.Store(1)
}

// Acquire increments the count. Calling Acquire after the count has
// already reached zero is a programming error: the handle's owner has
// released its last reference and the backing resource may already be
// gone. It panics rather than silently resurrecting a dead handle.
func (h *Handle) Acquire() {
	for {
		cur := h.count.Load()
		if cur <= 0 {
			panic("refcount: Acquire called on a handle with a non-positive count")
		}
		if h.count.CompareAndSwap(cur, cur+1) {
			return
		}
	}
}

// TryAcquire increments the count unless it has already reached zero,
// returning whether the acquire succeeded. Unlike Acquire, a failed
// TryAcquire is an expected outcome (the holder raced a concurrent
// Release to zero) rather than a programming error, so it never panics.
func (h *Handle) TryAcquire() bool {
	for {
		cur := h.count.Load()
		if cur <= 0 {
			return false
		}
		if h.count.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release decrements the count and invokes release exactly once, the
// instant the count reaches zero. Safe to call from any goroutine.
func (h *Handle) Release(release func()) {
	if h.count.Add(-1) == 0 && release != nil {
		release()
	}
}

// Count returns the current count, for diagnostics and tests only -
// callers must never branch production logic on a racy snapshot.
func (h *Handle) Count() int64 {
	return h.count.Load()
}
