package tracker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/celixd/pkg/filter"
	"github.com/cuemby/celixd/pkg/metrics"
	"github.com/cuemby/celixd/pkg/registry"
	"github.com/rs/zerolog"
)

// defaultTeardownGrace bounds how long Close/remove waits for a tracked
// entry's in-flight callbacks to drain before giving up and logging a
// diagnostic, per the open question in the framework's design notes: the
// window between "removed from the table" and "usage reaches zero" is
// not otherwise bounded.
const defaultTeardownGrace = 2 * time.Second

// Options customizes how a Tracker reacts to matching services. Every
// field is optional. When Adding is nil, the tracker fetches the
// payload itself via Registry.GetService.
type Options struct {
	Adding         func(ref *registry.Reference) (service any, ok bool)
	Added          func(ref *registry.Reference, service any)
	Modified       func(ref *registry.Reference, service any)
	Removed        func(ref *registry.Reference, service any)
	HighestChanged func(ref *registry.Reference, service any)
}

type trackedEntry struct {
	ref     *registry.Reference
	payload any
	usage   atomic.Int64
}

func (te *trackedEntry) use(fn func()) {
	te.usage.Add(1)
	defer te.usage.Add(-1)
	fn()
}

func (te *trackedEntry) waitIdle(grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if te.usage.Load() == 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return te.usage.Load() == 0
}

// Tracker is a per-subscriber, filter-scoped view of a Registry with
// add/modified/remove callbacks and a "highest-ranking" selector.
type Tracker struct {
	reg      *registry.Registry
	bundleID int64
	filter   *filter.Filter
	opts     Options
	grace    time.Duration
	log      zerolog.Logger

	listenerID int64

	mu      sync.RWMutex
	tracked map[int64]*trackedEntry

	highestMu sync.Mutex
	highestID int64

	closed atomic.Bool
}

// Open subscribes a service listener for f, then enumerates every
// currently-matching entry as a synthetic REGISTERED, invoking
// callbacks for each before returning.
func Open(reg *registry.Registry, bundleID int64, f *filter.Filter, opts Options, log zerolog.Logger) *Tracker {
	t := &Tracker{
		reg:       reg,
		bundleID:  bundleID,
		filter:    f,
		opts:      opts,
		grace:     defaultTeardownGrace,
		log:       log.With().Str("component", "tracker").Logger(),
		tracked:   make(map[int64]*trackedEntry),
		highestID: -1,
	}
	t.listenerID = reg.AddServiceListener(bundleID, f, t.onEvent)

	refs, _ := reg.GetServiceReferences(bundleID, "", f)
	for _, ref := range refs {
		t.addTracked(ref)
	}
	return t
}

// Close removes the service listener, then tears down every tracked
// entry as if it had been unregistered.
func (t *Tracker) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	t.reg.RemoveServiceListener(t.listenerID)

	t.mu.RLock()
	ids := make([]int64, 0, len(t.tracked))
	for id := range t.tracked {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	for _, id := range ids {
		t.removeTracked(id)
	}
}

// Size returns the number of currently tracked entries.
func (t *Tracker) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.tracked)
}

func (t *Tracker) onEvent(e registry.Event) {
	id := e.Properties.GetLong(registry.PropertyID, -1)
	if id < 0 {
		return
	}
	switch e.Type {
	case registry.EventRegistered:
		t.addIfAbsent(id)
	case registry.EventModified:
		t.mu.RLock()
		_, exists := t.tracked[id]
		t.mu.RUnlock()
		if exists {
			t.modifyTracked(id)
		} else {
			t.addIfAbsent(id)
		}
	case registry.EventModifiedEndmatch, registry.EventUnregistering:
		t.removeTracked(id)
	}
}

func (t *Tracker) addIfAbsent(id int64) {
	t.mu.RLock()
	_, exists := t.tracked[id]
	t.mu.RUnlock()
	if exists {
		return
	}
	ref, err := t.reg.GetServiceReferenceByID(t.bundleID, id)
	if err != nil || ref == nil {
		return
	}
	t.addTracked(ref)
}

func (t *Tracker) addTracked(ref *registry.Reference) {
	id := ref.ID()

	t.mu.Lock()
	if _, exists := t.tracked[id]; exists {
		t.mu.Unlock()
		t.reg.ReleaseReference(ref)
		return
	}
	te := &trackedEntry{ref: ref}
	t.tracked[id] = te
	t.mu.Unlock()

	var (
		payload any
		ok      = true
		err     error
	)
	if t.opts.Adding != nil {
		payload, ok = t.opts.Adding(ref)
	} else {
		payload, err = t.reg.GetService(t.bundleID, ref)
		ok = err == nil
	}
	if !ok {
		t.mu.Lock()
		delete(t.tracked, id)
		t.mu.Unlock()
		t.reg.ReleaseReference(ref)
		return
	}
	te.payload = payload

	if t.opts.Added != nil {
		te.use(func() { t.opts.Added(ref, payload) })
	}
	t.recomputeHighest()
}

func (t *Tracker) modifyTracked(id int64) {
	t.mu.RLock()
	te, ok := t.tracked[id]
	t.mu.RUnlock()
	if !ok {
		return
	}
	if t.opts.Modified != nil {
		te.use(func() { t.opts.Modified(te.ref, te.payload) })
	}
	t.recomputeHighest()
}

func (t *Tracker) removeTracked(id int64) {
	t.mu.Lock()
	te, ok := t.tracked[id]
	if ok {
		delete(t.tracked, id)
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	if t.opts.Removed != nil {
		te.use(func() { t.opts.Removed(te.ref, te.payload) })
	}
	if !te.waitIdle(t.grace) {
		metrics.TrackerTeardownGraceExceededTotal.Inc()
		t.log.Warn().Int64("service_id", id).Dur("grace", t.grace).
			Msg("tracked entry still in use after teardown grace period, freeing anyway")
	}
	if t.opts.Adding == nil {
		t.reg.UngetService(t.bundleID, te.ref)
	}
	t.reg.ReleaseReference(te.ref)
	t.recomputeHighest()
}

// recomputeHighest re-elects the tracked entry with the greatest
// (ranking, -id) and, if it differs from the previous highest, invokes
// HighestChanged (with a nil service if no entries remain).
func (t *Tracker) recomputeHighest() {
	t.mu.RLock()
	var best *trackedEntry
	for _, te := range t.tracked {
		if best == nil || isHigher(te.ref, best.ref) {
			best = te
		}
	}
	t.mu.RUnlock()

	t.highestMu.Lock()
	defer t.highestMu.Unlock()

	var newHighest int64 = -1
	if best != nil {
		newHighest = best.ref.ID()
	}
	if newHighest == t.highestID {
		return
	}
	t.highestID = newHighest
	metrics.TrackerHighestChangesTotal.WithLabelValues(t.serviceName(best)).Inc()

	if t.opts.HighestChanged == nil {
		return
	}
	if best == nil {
		t.opts.HighestChanged(nil, nil)
		return
	}
	best.use(func() { t.opts.HighestChanged(best.ref, best.payload) })
}

// serviceName labels the re-election metric: the current highest's own
// service name, or the tracker's filter when nothing currently matches
// (e.g. the last tracked entry was just removed).
func (t *Tracker) serviceName(best *trackedEntry) string {
	if best != nil {
		if name := best.ref.Name(); name != "" {
			return name
		}
	}
	return t.filter.String()
}

func isHigher(a, b *registry.Reference) bool {
	ra, rb := a.Ranking(), b.Ranking()
	if ra != rb {
		return ra > rb
	}
	return a.ID() < b.ID()
}

// UseHighestRankingService invokes cb with the current highest-ranking
// tracked entry, if any, returning 1 if cb was invoked or 0 if nothing
// matches.
func (t *Tracker) UseHighestRankingService(cb func(ref *registry.Reference, service any)) int {
	t.mu.RLock()
	var best *trackedEntry
	for _, te := range t.tracked {
		if best == nil || isHigher(te.ref, best.ref) {
			best = te
		}
	}
	t.mu.RUnlock()
	if best == nil {
		return 0
	}
	best.use(func() { cb(best.ref, best.payload) })
	return 1
}

// UseServices invokes cb once per currently tracked entry, returning the
// number of invocations.
func (t *Tracker) UseServices(cb func(ref *registry.Reference, service any)) int {
	t.mu.RLock()
	entries := make([]*trackedEntry, 0, len(t.tracked))
	for _, te := range t.tracked {
		entries = append(entries, te)
	}
	t.mu.RUnlock()

	for _, te := range entries {
		te.use(func() { cb(te.ref, te.payload) })
	}
	return len(entries)
}
