// Package framework implements the module services framework core: the
// installed-bundle map, the service registry, the bundle/framework
// event dispatcher, and the install/start/stop/uninstall orchestration
// that drives pkg/bundle's state machine. It is the module's analogue
// of a container orchestrator's central manager - the thing that owns
// lifecycle, locking, and dispatch for everything else in the process.
package framework

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/celixd/pkg/archive"
	"github.com/cuemby/celixd/pkg/bundle"
	"github.com/cuemby/celixd/pkg/bundlectx"
	"github.com/cuemby/celixd/pkg/config"
	"github.com/cuemby/celixd/pkg/fevent"
	"github.com/cuemby/celixd/pkg/metrics"
	"github.com/cuemby/celixd/pkg/registry"
	"github.com/rs/zerolog"
)

// SystemBundleID is the reserved id of the framework bundle itself.
const SystemBundleID int64 = 0

var (
	// ErrUnknownBundle is returned by operations addressing a bundle id
	// that has never been installed, or has been uninstalled.
	ErrUnknownBundle = errors.New("framework: unknown bundle")
	// ErrNoManifest is returned by InstallBundle when location has not
	// been registered via RegisterManifest. The manifest parser and
	// module resolver are out of scope; callers supply the resolved
	// activator factory and library list directly.
	ErrNoManifest = errors.New("framework: no manifest registered for location")
	// ErrShuttingDown is returned by any lifecycle operation attempted
	// after StopFramework has been called.
	ErrShuttingDown = errors.New("framework: shutting down")
)

// Manifest is what InstallBundle needs to resolve a location into a
// runnable bundle: the libraries it declares and the factory that
// builds its activator. Supplying this directly stands in for the
// out-of-scope archive extraction and manifest-parsing subsystems.
type Manifest struct {
	Libraries     []bundle.Library
	MakeActivator bundle.ActivatorFactory
}

type bundleListenerEntry struct {
	id       int64
	bundleID int64
	cb       fevent.BundleListenerFunc
}

type frameworkListenerEntry struct {
	id       int64
	bundleID int64
	cb       fevent.FrameworkListenerFunc
}

// Framework owns every piece of framework-wide state: the installed
// bundle map, the service registry, the event dispatcher, listener
// lists, the global lock, and configuration.
type Framework struct {
	log zerolog.Logger
	cfg config.Framework
	reg *registry.Registry
	archive *archive.Store

	global globalLock

	mu         sync.RWMutex
	bundles    map[int64]*bundle.Bundle
	byLocation map[string]int64
	manifests  map[string]Manifest
	nextID     atomic.Int64

	bundleListenersMu sync.RWMutex
	bundleListeners   []bundleListenerEntry

	frameworkListenersMu sync.RWMutex
	frameworkListeners   []frameworkListenerEntry
	nextListenerID       atomic.Int64

	dispatchCh     chan dispatchRequest
	dispatcherDone chan struct{}

	shuttingDown atomic.Bool
	shutdownOnce sync.Once
	shutdownDone chan struct{}
}

// New constructs a Framework backed by store for revision bookkeeping.
func New(cfg config.Framework, store *archive.Store, log zerolog.Logger) *Framework {
	f := &Framework{
		log:            log.With().Str("component", "framework").Logger(),
		cfg:            cfg,
		reg:            registry.New(log),
		archive:        store,
		bundles:        make(map[int64]*bundle.Bundle),
		byLocation:     make(map[string]int64),
		manifests:      make(map[string]Manifest),
		dispatchCh:     make(chan dispatchRequest, 256),
		dispatcherDone: make(chan struct{}),
		shutdownDone:   make(chan struct{}),
	}
	f.nextID.Store(SystemBundleID)
	go f.runDispatcher()
	return f
}

// Registry returns the framework's service registry.
func (f *Framework) Registry() *registry.Registry { return f.reg }

// RegisterManifest declares what InstallBundle should load for location,
// standing in for the archive/manifest-resolution subsystem named
// out-of-scope.
func (f *Framework) RegisterManifest(location string, m Manifest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests[location] = m
}

// InstallBundle creates an archive revision, assigns an id, moves the
// bundle to INSTALLED then RESOLVED, and fires INSTALLED. If autoStart,
// it then starts the bundle. Installing a location with no registered
// manifest fails with ErrNoManifest and leaves no bundle entry.
func (f *Framework) InstallBundle(location string, autoStart bool) (int64, error) {
	if f.shuttingDown.Load() {
		return 0, ErrShuttingDown
	}

	f.mu.RLock()
	m, ok := f.manifests[location]
	f.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoManifest, location)
	}

	f.global.Lock()
	id := f.nextID.Add(1)
	b := bundle.New(id, location, m.MakeActivator, f.log)
	f.mu.Lock()
	f.bundles[id] = b
	f.byLocation[location] = id
	f.mu.Unlock()
	f.global.Unlock()

	names := make([]string, len(m.Libraries))
	for i, lib := range m.Libraries {
		names[i] = lib.Name
	}
	if err := b.Resolve(f.archive, names); err != nil {
		f.mu.Lock()
		delete(f.bundles, id)
		delete(f.byLocation, location)
		f.mu.Unlock()
		return 0, err
	}
	b.SetLibraries(m.Libraries)

	metrics.FrameworkBundlesTotal.WithLabelValues(bundle.Installed.String()).Inc()
	f.dispatchBundleEvent(fevent.BundleEvent{BundleID: id, Type: fevent.BundleInstalled})
	f.log.Info().Int64("bundle_id", id).Str("location", location).Msg("bundle installed")

	if autoStart {
		if err := f.StartBundle(id); err != nil {
			return id, err
		}
	}
	return id, nil
}

// StartBundle starts the bundle with the given id.
func (f *Framework) StartBundle(id int64) error {
	b, err := f.bundleByID(id)
	if err != nil {
		return err
	}
	before := b.State()
	ctx := bundlectx.New(id, f.reg, f, f.log)
	err = b.Start(ctx, func(t fevent.BundleEventType) {
		f.dispatchBundleEvent(fevent.BundleEvent{BundleID: id, Type: t})
	})
	recordStateTransition(before, b.State())
	return err
}

// StopBundle stops the bundle with the given id, then releases its
// unloadable library handles in reverse load order.
func (f *Framework) StopBundle(id int64) error {
	b, err := f.bundleByID(id)
	if err != nil {
		return err
	}
	before := b.State()
	err = b.Stop(func(t fevent.BundleEventType) {
		f.dispatchBundleEvent(fevent.BundleEvent{BundleID: id, Type: t})
	})
	b.UnloadLibraries()
	recordStateTransition(before, b.State())
	return err
}

// recordStateTransition keeps the per-state bundle gauge accurate across
// a state change, decrementing the bucket a bundle left and incrementing
// the one it entered. A no-op when the transition did not actually move
// the bundle (e.g. Start called on an already-ACTIVE bundle).
func recordStateTransition(before, after bundle.State) {
	if before == after {
		return
	}
	metrics.FrameworkBundlesTotal.WithLabelValues(before.String()).Dec()
	metrics.FrameworkBundlesTotal.WithLabelValues(after.String()).Inc()
}

// UninstallBundle stops the bundle if ACTIVE, forcibly releases every
// library handle, removes it from the installed-bundle map, fires
// UNINSTALLED, and forgets its archive history.
func (f *Framework) UninstallBundle(id int64) (bool, error) {
	b, err := f.bundleByID(id)
	if err != nil {
		return false, err
	}

	if b.State() == bundle.Active {
		if err := f.StopBundle(id); err != nil {
			return false, err
		}
	}
	b.ForceUnloadLibraries()

	f.global.Lock()
	f.mu.Lock()
	delete(f.bundles, id)
	delete(f.byLocation, b.Location())
	f.mu.Unlock()
	f.global.Unlock()

	before := b.State()
	b.Uninstall()
	if err := f.archive.Forget(b.Location()); err != nil {
		f.log.Warn().Err(err).Int64("bundle_id", id).Msg("error forgetting archive history")
	}

	recordStateTransition(before, bundle.Uninstalled)
	f.dispatchBundleEvent(fevent.BundleEvent{BundleID: id, Type: fevent.BundleUninstalled})
	f.log.Info().Int64("bundle_id", id).Msg("bundle uninstalled")
	return true, nil
}

// UnloadBundle stops the bundle if ACTIVE and forcibly releases every
// library handle (including ones the manifest marked non-unloadable),
// without removing the bundle from the installed map. The bundle stays
// RESOLVED and can be started again once its libraries are reloaded.
func (f *Framework) UnloadBundle(id int64) (bool, error) {
	b, err := f.bundleByID(id)
	if err != nil {
		return false, err
	}
	if b.State() == bundle.Active {
		if err := f.StopBundle(id); err != nil {
			return false, err
		}
	}
	b.ForceUnloadLibraries()
	return true, nil
}

// UpdateBundle stops the bundle if ACTIVE, records a new archive revision
// for newLocation (or for the bundle's own location if newLocation is
// empty) with that location's manifest libraries, fires UPDATED, and
// restarts the bundle if it was ACTIVE. The bundle keeps its original
// location, its location-to-id mapping and its activator factory. The
// caller must have registered a manifest for the new location before
// calling this.
func (f *Framework) UpdateBundle(id int64, newLocation string) (bool, error) {
	b, err := f.bundleByID(id)
	if err != nil {
		return false, err
	}
	wasActive := b.State() == bundle.Active
	if wasActive {
		if err := f.StopBundle(id); err != nil {
			return false, err
		}
	}

	location := newLocation
	if location == "" {
		location = b.Location()
	}
	f.mu.RLock()
	m, ok := f.manifests[location]
	f.mu.RUnlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrNoManifest, location)
	}

	names := make([]string, len(m.Libraries))
	for i, lib := range m.Libraries {
		names[i] = lib.Name
	}
	if _, err := f.archive.AddRevision(location, names, time.Now()); err != nil {
		return false, err
	}
	b.SetLibraries(m.Libraries)

	f.dispatchBundleEvent(fevent.BundleEvent{BundleID: id, Type: fevent.BundleUpdated})
	if wasActive {
		return true, f.StartBundle(id)
	}
	return true, nil
}

// GetBundleIDByLocation returns the id installed at location, if any.
func (f *Framework) GetBundleIDByLocation(location string) (int64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	id, ok := f.byLocation[location]
	return id, ok
}

// GetBundleState returns the current state of the bundle with the given
// id.
func (f *Framework) GetBundleState(id int64) (bundle.State, bool) {
	b, err := f.bundleByID(id)
	if err != nil {
		return 0, false
	}
	return b.State(), true
}

// ListBundles returns a snapshot of every currently-installed bundle.
func (f *Framework) ListBundles() []bundlectx.BundleSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]bundlectx.BundleSnapshot, 0, len(f.bundles))
	for id, b := range f.bundles {
		out = append(out, bundlectx.BundleSnapshot{ID: id, Location: b.Location(), State: b.State().String()})
	}
	return out
}

// GetProperty reads a framework configuration property. Only
// celix.framework.cache.dir is answered (with the configured cache dir,
// when one is set); every other key returns def.
func (f *Framework) GetProperty(key, def string) string {
	switch key {
	case "celix.framework.cache.dir":
		if f.cfg.CacheDir != "" {
			return f.cfg.CacheDir
		}
	}
	return def
}

// AddBundleListener registers cb, owned by bundleID, for bundle-changed
// events. It satisfies bundlectx.Host.
func (f *Framework) AddBundleListener(bundleID int64, cb fevent.BundleListenerFunc) int64 {
	id := f.nextListenerID.Add(1)
	f.bundleListenersMu.Lock()
	f.bundleListeners = append(f.bundleListeners, bundleListenerEntry{id: id, bundleID: bundleID, cb: cb})
	f.bundleListenersMu.Unlock()
	return id
}

// RemoveBundleListener removes a bundle listener previously added with
// AddBundleListener.
func (f *Framework) RemoveBundleListener(id int64) {
	f.bundleListenersMu.Lock()
	defer f.bundleListenersMu.Unlock()
	for i, l := range f.bundleListeners {
		if l.id == id {
			f.bundleListeners = append(f.bundleListeners[:i], f.bundleListeners[i+1:]...)
			return
		}
	}
}

// AddFrameworkListener registers cb, owned by bundleID, for
// framework-wide events. It satisfies bundlectx.Host.
func (f *Framework) AddFrameworkListener(bundleID int64, cb fevent.FrameworkListenerFunc) int64 {
	id := f.nextListenerID.Add(1)
	f.frameworkListenersMu.Lock()
	f.frameworkListeners = append(f.frameworkListeners, frameworkListenerEntry{id: id, bundleID: bundleID, cb: cb})
	f.frameworkListenersMu.Unlock()
	return id
}

// RemoveFrameworkListener removes a framework listener previously added
// with AddFrameworkListener.
func (f *Framework) RemoveFrameworkListener(id int64) {
	f.frameworkListenersMu.Lock()
	defer f.frameworkListenersMu.Unlock()
	for i, l := range f.frameworkListeners {
		if l.id == id {
			f.frameworkListeners = append(f.frameworkListeners[:i], f.frameworkListeners[i+1:]...)
			return
		}
	}
}

func (f *Framework) bundleByID(id int64) (*bundle.Bundle, error) {
	f.mu.RLock()
	b, ok := f.bundles[id]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBundle, id)
	}
	return b, nil
}

// StopFramework signals shutdown, stops every installed bundle (other
// than the system bundle) in reverse-installation order, then stops the
// event dispatcher. It returns once shutdown has fully completed; a
// concurrent caller should use WaitForStop instead if it only needs to
// block until some other goroutine finishes shutting the framework down.
func (f *Framework) StopFramework() {
	f.shutdownOnce.Do(func() {
		f.shuttingDown.Store(true)

		f.mu.RLock()
		ids := make([]int64, 0, len(f.bundles))
		for id := range f.bundles {
			ids = append(ids, id)
		}
		f.mu.RUnlock()
		sortDescending(ids)

		for _, id := range ids {
			if err := f.StopBundle(id); err != nil {
				f.log.Warn().Int64("bundle_id", id).Err(err).Msg("error stopping bundle during shutdown")
			}
		}

		close(f.dispatchCh)
		<-f.dispatcherDone
		close(f.shutdownDone)
	})
}

// WaitForStop blocks until StopFramework has fully completed.
func (f *Framework) WaitForStop() {
	<-f.shutdownDone
}

func sortDescending(ids []int64) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] < ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

