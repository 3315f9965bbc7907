package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cuemby/celixd/pkg/filter"
	"github.com/cuemby/celixd/pkg/props"
	"github.com/rs/zerolog"
)

// Well-known property keys every registered entry carries.
const (
	PropertyID      = "service.id"
	PropertyName    = "service.name"
	PropertyRanking = "service.ranking"
)

var (
	// ErrIllegalArgument is returned when register is called with an
	// empty name or nil payload.
	ErrIllegalArgument = errors.New("registry: illegal argument")
	// ErrUnregistered is returned by operations on a reference whose
	// entry has already been unregistered.
	ErrUnregistered = errors.New("registry: service unregistered")
)

// Registry is the authoritative directory of (name, attributes,
// producer-bundle) service tuples. It assigns ids, matches filters, and
// notifies listeners. All operations are safe for concurrent use.
type Registry struct {
	log zerolog.Logger

	nextID atomic.Int64

	mu      sync.RWMutex
	byID    map[int64]*entry
	byName  map[string][]*entry // insertion order preserved per name

	listenersMu sync.RWMutex
	listeners   []*serviceListener
	nextListener atomic.Int64
}

// New creates an empty Registry.
func New(log zerolog.Logger) *Registry {
	return &Registry{
		log:    log.With().Str("component", "registry").Logger(),
		byID:   make(map[int64]*entry),
		byName: make(map[string][]*entry),
	}
}

// ServiceCount returns the number of currently registered entries.
func (r *Registry) ServiceCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// ListenerCount returns the number of currently active service listeners.
func (r *Registry) ListenerCount() int {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	return len(r.listeners)
}

// Registration is the producer-side handle returned by Register and
// RegisterFactory. Unregister removes the service from the directory.
type Registration struct {
	r *Registry
	e *entry
}

// ID returns the service.id assigned at registration.
func (reg *Registration) ID() int64 { return reg.e.id }

// SetProperties replaces the entry's attribute set (preserving
// service.id/service.name) and fires a MODIFIED event to listeners,
// including synthetic ENDMATCH events for listeners whose filter matched
// the old properties but not the new ones.
func (reg *Registration) SetProperties(p *props.Properties) {
	reg.r.setProperties(reg.e, p)
}

// Unregister removes the service from the registry: it marks the entry
// unregistering, fires UNREGISTERING to matching listeners so they can
// release references, then removes it from the table. The payload stays
// addressable until the last outstanding Reference releases.
func (reg *Registration) Unregister() {
	reg.r.unregister(reg.e)
}

// Register inserts a plain service into the directory and synchronously
// notifies matching listeners with Registered. Registering an empty name
// or a nil payload fails with ErrIllegalArgument.
func (r *Registry) Register(bundleID int64, name string, payload any, p *props.Properties) (*Registration, error) {
	return r.register(bundleID, name, payload, nil, KindPlain, p)
}

// RegisterFactory inserts a factory-backed service: GetService calls the
// factory's GetService once per requesting bundle, and UngetService calls
// the factory's UngetService when that bundle's usage count reaches zero.
func (r *Registry) RegisterFactory(bundleID int64, name string, factory Factory, p *props.Properties) (*Registration, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: nil factory", ErrIllegalArgument)
	}
	return r.register(bundleID, name, nil, factory, KindFactory, p)
}

func (r *Registry) register(bundleID int64, name string, payload any, factory Factory, kind Kind, p *props.Properties) (*Registration, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty service name", ErrIllegalArgument)
	}
	if kind == KindPlain && payload == nil {
		return nil, fmt.Errorf("%w: nil payload", ErrIllegalArgument)
	}
	if p == nil {
		p = props.New()
	} else {
		p = p.Copy()
	}
	id := r.nextID.Add(1)
	p.Set(PropertyID, id)
	p.Set(PropertyName, name)
	if !p.Has(PropertyRanking) {
		p.Set(PropertyRanking, int64(0))
	}

	e := &entry{
		id:       id,
		name:     name,
		bundleID: bundleID,
		kind:     kind,
		payload:  payload,
		factory:  factory,
		attrs:    p,
	}
	if kind == KindFactory {
		e.factoryInstances = make(map[int64]any)
	}
	e.handle.Init()

	r.mu.Lock()
	r.byID[id] = e
	r.byName[name] = append(r.byName[name], e)
	r.mu.Unlock()

	r.log.Debug().Int64("service_id", id).Str("service_name", name).Int64("bundle_id", bundleID).Msg("service registered")
	r.notify(EventRegistered, e.properties(), nil)

	return &Registration{r: r, e: e}, nil
}

func (r *Registry) setProperties(e *entry, newProps *props.Properties) {
	old := e.properties()

	e.mu.Lock()
	merged := newProps.Copy()
	merged.Set(PropertyID, e.id)
	merged.Set(PropertyName, e.name)
	if !merged.Has(PropertyRanking) {
		merged.Set(PropertyRanking, int64(0))
	}
	e.attrs = merged
	e.mu.Unlock()

	r.notify(EventModified, e.properties(), old)
}

func (r *Registry) unregister(e *entry) {
	e.mu.Lock()
	if e.unregistering {
		e.mu.Unlock()
		return
	}
	e.unregistering = true
	e.mu.Unlock()

	r.notify(EventUnregistering, e.properties(), nil)

	r.mu.Lock()
	delete(r.byID, e.id)
	list := r.byName[e.name]
	for i, candidate := range list {
		if candidate == e {
			r.byName[e.name] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(r.byName[e.name]) == 0 {
		delete(r.byName, e.name)
	}
	r.mu.Unlock()

	r.log.Debug().Int64("service_id", e.id).Str("service_name", e.name).Msg("service unregistered")
	e.handle.Release(nil)
}

// GetServiceReferences returns handles to every unregistered-flag-free
// entry matching name (if non-empty) and f (if non-nil). Each returned
// Reference's ref-count is pre-incremented for the caller.
func (r *Registry) GetServiceReferences(bundleID int64, name string, f *filter.Filter) ([]*Reference, error) {
	r.mu.RLock()
	var candidates []*entry
	if name != "" {
		candidates = append(candidates, r.byName[name]...)
	} else {
		for _, list := range r.byName {
			candidates = append(candidates, list...)
		}
	}
	r.mu.RUnlock()

	var out []*Reference
	for _, e := range candidates {
		if e.isUnregistering() {
			continue
		}
		if f != nil && !f.Match(e.properties()) {
			continue
		}
		if !e.handle.TryAcquire() {
			continue
		}
		ref := newReference(e, bundleID)
		out = append(out, ref)
	}
	sortByRanking(out)
	return out, nil
}

// GetServiceReference returns the single highest-ranking match: greatest
// service.ranking, ties broken by lowest service.id. Returns nil, nil if
// nothing matches.
func (r *Registry) GetServiceReference(bundleID int64, name string, f *filter.Filter) (*Reference, error) {
	refs, err := r.GetServiceReferences(bundleID, name, f)
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	best := refs[0]
	for _, extra := range refs[1:] {
		extra.release()
	}
	return best, nil
}

func sortByRanking(refs []*Reference) {
	sort.SliceStable(refs, func(i, j int) bool {
		ri, rj := refs[i].Ranking(), refs[j].Ranking()
		if ri != rj {
			return ri > rj
		}
		return refs[i].ID() < refs[j].ID()
	})
}

// GetService increments the reference's use-count and returns the
// payload (or the per-bundle factory result). Fails with ErrUnregistered
// if the reference's entry has already been unregistered; the use-count
// is left unchanged in that case.
func (r *Registry) GetService(bundleID int64, ref *Reference) (any, error) {
	e := ref.e
	if e.isUnregistering() {
		return nil, ErrUnregistered
	}
	ref.useCount.Add(1)

	if e.kind == KindPlain {
		return e.payload, nil
	}

	e.factoryMu.Lock()
	defer e.factoryMu.Unlock()
	if svc, ok := e.factoryInstances[bundleID]; ok {
		return svc, nil
	}
	svc, err := e.factory.GetService(bundleID)
	if err != nil {
		ref.useCount.Add(-1)
		return nil, err
	}
	e.factoryInstances[bundleID] = svc
	return svc, nil
}

// UngetService decrements the reference's use-count. On factory-backed
// entries, once no bundle holds a use on the entry for this consumer
// bundle, the factory's UngetService is invoked.
func (r *Registry) UngetService(bundleID int64, ref *Reference) {
	e := ref.e
	n := ref.useCount.Add(-1)
	if n < 0 {
		ref.useCount.Store(0)
		return
	}
	if n > 0 || e.kind != KindFactory {
		return
	}
	e.factoryMu.Lock()
	svc, ok := e.factoryInstances[bundleID]
	if ok {
		delete(e.factoryInstances, bundleID)
	}
	e.factoryMu.Unlock()
	if ok {
		e.factory.UngetService(bundleID, svc)
	}
}

// GetServiceReferenceByID returns a fresh Reference onto the entry with
// the given service.id, or nil if it does not exist or is already
// unregistering. Used by trackers to resolve the id carried in a
// REGISTERED/MODIFIED event into a handle they can hold.
func (r *Registry) GetServiceReferenceByID(bundleID, id int64) (*Reference, error) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if e.isUnregistering() {
		return nil, nil
	}
	if !e.handle.TryAcquire() {
		return nil, nil
	}
	return newReference(e, bundleID), nil
}

// ReleaseReference drops the caller's hold on ref; once the last holder
// releases, the entry is freed if it is also unregistered.
func (r *Registry) ReleaseReference(ref *Reference) {
	ref.release()
}
