package registry

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/celixd/pkg/props"
	"github.com/cuemby/celixd/pkg/refcount"
)

// Kind distinguishes a plain service payload from one produced per
// consumer bundle by a ServiceFactory.
type Kind int

const (
	// KindPlain services hand every consumer the same payload.
	KindPlain Kind = iota
	// KindFactory services call Factory.GetService/UngetService once
	// per requesting bundle.
	KindFactory
)

// Factory produces (and reclaims) a service instance per consumer
// bundle. Registered via Registry.RegisterFactory.
type Factory interface {
	GetService(bundleID int64) (any, error)
	UngetService(bundleID int64, service any)
}

// entry is the authoritative, registry-owned record for one registered
// service. Registration and Reference are the handles bundles actually
// hold; entry itself is never exposed outside the package.
type entry struct {
	id       int64
	name     string
	bundleID int64
	kind     Kind
	payload  any
	factory  Factory

	mu            sync.RWMutex
	attrs         *props.Properties
	unregistering bool

	// handle gates entry destruction: Init'd to 1 at register time for
	// "still registered", acquired once per outstanding Reference, and
	// released by unregister and by every Reference's own teardown.
	handle refcount.Handle

	factoryMu        sync.Mutex
	factoryInstances map[int64]any
}

func (e *entry) properties() *props.Properties {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.attrs.Copy()
}

func (e *entry) ranking() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.attrs.GetLong(PropertyRanking, 0)
}

func (e *entry) isUnregistering() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.unregistering
}

// Reference is a consumer bundle's shared handle onto a service entry.
// It carries two independent counts: refCount (how many copies of this
// handle exist) and useCount (how many GetService calls have not yet
// been matched by UngetService). useCount never exceeds refCount.
type Reference struct {
	e        *entry
	bundleID int64

	refCount refcount.Handle
	useCount atomic.Int64
}

func newReference(e *entry, bundleID int64) *Reference {
	r := &Reference{e: e, bundleID: bundleID}
	r.refCount.Init()
	return r
}

// ID returns the service.id of the referenced entry.
func (r *Reference) ID() int64 { return r.e.id }

// Name returns the service.name of the referenced entry.
func (r *Reference) Name() string { return r.e.name }

// Properties returns a snapshot copy of the entry's current properties.
func (r *Reference) Properties() *props.Properties { return r.e.properties() }

// Ranking returns the entry's current service.ranking.
func (r *Reference) Ranking() int64 { return r.e.ranking() }

// acquire duplicates this reference handle (used when the same logical
// reference is handed to more than one owner, e.g. a tracker snapshot).
func (r *Reference) acquire() {
	r.refCount.Acquire()
}

// release drops one holder of this reference. When the last holder
// releases, the reference stops pinning the entry alive.
func (r *Reference) release() {
	r.refCount.Release(func() {
		r.e.handle.Release(nil)
	})
}

// UseCount reports the current usage count, for tests and diagnostics.
func (r *Reference) UseCount() int64 {
	return r.useCount.Load()
}
