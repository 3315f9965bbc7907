package bundlectx

import (
	"sync"
	"sync/atomic"

	"github.com/cuemby/celixd/pkg/fevent"
	"github.com/cuemby/celixd/pkg/filter"
	"github.com/cuemby/celixd/pkg/props"
	"github.com/cuemby/celixd/pkg/registry"
	"github.com/cuemby/celixd/pkg/tracker"
	"github.com/rs/zerolog"
)

// BundleSnapshot is the read-only view of an installed bundle exposed to
// bundle listeners and the list_bundles operation.
type BundleSnapshot struct {
	ID       int64
	Location string
	State    string
}

// Host is the subset of the framework a Context delegates
// install/start/stop/uninstall and property lookups to. It is declared
// here, not imported from the framework package, so that framework can
// depend on bundlectx without bundlectx depending back on framework.
type Host interface {
	InstallBundle(location string, autoStart bool) (int64, error)
	StartBundle(id int64) error
	StopBundle(id int64) error
	UninstallBundle(id int64) (bool, error)
	UnloadBundle(id int64) (bool, error)
	UpdateBundle(id int64, newLocation string) (bool, error)
	GetProperty(key, def string) string
	ListBundles() []BundleSnapshot
	AddBundleListener(bundleID int64, cb fevent.BundleListenerFunc) int64
	RemoveBundleListener(id int64)
	AddFrameworkListener(bundleID int64, cb fevent.FrameworkListenerFunc) int64
	RemoveFrameworkListener(id int64)
}

// Context is a bundle's isolation boundary onto the framework: every
// registration, tracker, and listener it creates is recorded here and
// torn down when the owning bundle leaves ACTIVE: by kind (trackers,
// then listeners, then registrations), each kind in reverse creation
// order. Creation order across different kinds is not recorded.
type Context struct {
	bundleID int64
	reg      *registry.Registry
	host     Host
	log      zerolog.Logger

	nextTrackerID atomic.Int64

	mu            sync.Mutex
	registrations []*registry.Registration
	trackers      map[int64]*tracker.Tracker
	trackerOrder  []int64
	serviceListenerIDs []int64
	bundleListenerIDs  []int64
	frameworkListenerIDs []int64
}

// New creates a Context for bundleID, backed by reg for service
// operations and host for framework-level operations.
func New(bundleID int64, reg *registry.Registry, host Host, log zerolog.Logger) *Context {
	return &Context{
		bundleID: bundleID,
		reg:      reg,
		host:     host,
		log:      log.With().Int64("bundle_id", bundleID).Logger(),
		trackers: make(map[int64]*tracker.Tracker),
	}
}

// BundleID returns the id of the bundle this context belongs to.
func (c *Context) BundleID() int64 { return c.bundleID }

// RegisterService publishes payload under name with props, producer
// bundle bound to this context's owner.
func (c *Context) RegisterService(name string, payload any, p *props.Properties) (*registry.Registration, error) {
	reg, err := c.reg.Register(c.bundleID, name, payload, p)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.registrations = append(c.registrations, reg)
	c.mu.Unlock()
	return reg, nil
}

// RegisterServiceFactory publishes a factory-backed service under name.
func (c *Context) RegisterServiceFactory(name string, factory registry.Factory, p *props.Properties) (*registry.Registration, error) {
	reg, err := c.reg.RegisterFactory(c.bundleID, name, factory, p)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.registrations = append(c.registrations, reg)
	c.mu.Unlock()
	return reg, nil
}

// GetServiceReferences returns handles to every matching, currently
// registered entry.
func (c *Context) GetServiceReferences(name string, f *filter.Filter) ([]*registry.Reference, error) {
	return c.reg.GetServiceReferences(c.bundleID, name, f)
}

// GetServiceReference returns the single highest-ranking match.
func (c *Context) GetServiceReference(name string, f *filter.Filter) (*registry.Reference, error) {
	return c.reg.GetServiceReference(c.bundleID, name, f)
}

// GetService resolves ref to its payload, incrementing the reference's
// use-count.
func (c *Context) GetService(ref *registry.Reference) (any, error) {
	return c.reg.GetService(c.bundleID, ref)
}

// UngetService decrements ref's use-count.
func (c *Context) UngetService(ref *registry.Reference) {
	c.reg.UngetService(c.bundleID, ref)
}

// AddServiceListener registers cb for events matching f.
func (c *Context) AddServiceListener(f *filter.Filter, cb registry.ListenerFunc) int64 {
	id := c.reg.AddServiceListener(c.bundleID, f, cb)
	c.mu.Lock()
	c.serviceListenerIDs = append(c.serviceListenerIDs, id)
	c.mu.Unlock()
	return id
}

// AddBundleListener registers cb for bundle lifecycle events.
func (c *Context) AddBundleListener(cb fevent.BundleListenerFunc) int64 {
	id := c.host.AddBundleListener(c.bundleID, cb)
	c.mu.Lock()
	c.bundleListenerIDs = append(c.bundleListenerIDs, id)
	c.mu.Unlock()
	return id
}

// AddFrameworkListener registers cb for framework-wide events.
func (c *Context) AddFrameworkListener(cb fevent.FrameworkListenerFunc) int64 {
	id := c.host.AddFrameworkListener(c.bundleID, cb)
	c.mu.Lock()
	c.frameworkListenerIDs = append(c.frameworkListenerIDs, id)
	c.mu.Unlock()
	return id
}

// TrackServices opens a tracker scoped to this bundle for filter f.
func (c *Context) TrackServices(f *filter.Filter, opts tracker.Options) int64 {
	t := tracker.Open(c.reg, c.bundleID, f, opts, c.log)
	id := c.nextTrackerID.Add(1)
	c.mu.Lock()
	c.trackers[id] = t
	c.trackerOrder = append(c.trackerOrder, id)
	c.mu.Unlock()
	return id
}

// Tracker returns the tracker previously opened with TrackServices, if
// any.
func (c *Context) Tracker(id int64) (*tracker.Tracker, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trackers[id]
	return t, ok
}

// CloseTracker closes and forgets the tracker with the given id.
func (c *Context) CloseTracker(id int64) {
	c.mu.Lock()
	t, ok := c.trackers[id]
	if ok {
		delete(c.trackers, id)
	}
	c.mu.Unlock()
	if ok {
		t.Close()
	}
}

// InstallBundle installs a new bundle at location via the host
// framework.
func (c *Context) InstallBundle(location string, autoStart bool) (int64, error) {
	return c.host.InstallBundle(location, autoStart)
}

// StartBundle, StopBundle, UnloadBundle, UpdateBundle delegate bundle
// lifecycle operations to the host framework.
func (c *Context) StartBundle(id int64) error               { return c.host.StartBundle(id) }
func (c *Context) StopBundle(id int64) error                 { return c.host.StopBundle(id) }
func (c *Context) UnloadBundle(id int64) (bool, error)       { return c.host.UnloadBundle(id) }
func (c *Context) UpdateBundle(id int64, loc string) (bool, error) { return c.host.UpdateBundle(id, loc) }
func (c *Context) ListBundles() []BundleSnapshot             { return c.host.ListBundles() }

// GetProperty reads a framework configuration property.
func (c *Context) GetProperty(key, def string) string {
	return c.host.GetProperty(key, def)
}

// Destroy tears down everything this context created, one kind at a
// time and each kind in reverse creation order: trackers close (which
// themselves remove their listener and release their tracked
// references), then service, bundle and framework listeners are
// removed, then every registration produced by this bundle is
// unregistered. A registration made before a tracker is still
// unregistered after that tracker closes.
func (c *Context) Destroy() {
	c.mu.Lock()
	trackerOrder := c.trackerOrder
	serviceListenerIDs := c.serviceListenerIDs
	bundleListenerIDs := c.bundleListenerIDs
	frameworkListenerIDs := c.frameworkListenerIDs
	registrations := c.registrations
	c.trackerOrder = nil
	c.serviceListenerIDs = nil
	c.bundleListenerIDs = nil
	c.frameworkListenerIDs = nil
	c.registrations = nil
	c.mu.Unlock()

	for i := len(trackerOrder) - 1; i >= 0; i-- {
		c.CloseTracker(trackerOrder[i])
	}
	for i := len(serviceListenerIDs) - 1; i >= 0; i-- {
		c.reg.RemoveServiceListener(serviceListenerIDs[i])
	}
	for i := len(bundleListenerIDs) - 1; i >= 0; i-- {
		c.host.RemoveBundleListener(bundleListenerIDs[i])
	}
	for i := len(frameworkListenerIDs) - 1; i >= 0; i-- {
		c.host.RemoveFrameworkListener(frameworkListenerIDs[i])
	}
	for i := len(registrations) - 1; i >= 0; i-- {
		registrations[i].Unregister()
	}
}
