// Package bundle implements the installable unit of deployment: its
// state machine, its activator contract, and the library bookkeeping
// that ties a bundle to its archive revision.
package bundle

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/celixd/pkg/archive"
	"github.com/cuemby/celixd/pkg/bundlectx"
	"github.com/cuemby/celixd/pkg/fevent"
	"github.com/rs/zerolog"
)

// State is a position in the bundle lifecycle state machine.
type State int

const (
	Installed State = iota
	Resolved
	Starting
	Active
	Stopping
	Uninstalled
)

func (s State) String() string {
	switch s {
	case Installed:
		return "INSTALLED"
	case Resolved:
		return "RESOLVED"
	case Starting:
		return "STARTING"
	case Active:
		return "ACTIVE"
	case Stopping:
		return "STOPPING"
	case Uninstalled:
		return "UNINSTALLED"
	default:
		return "UNKNOWN"
	}
}

// Activator is the symbol contract a bundle's library exposes, the Go
// analogue of activator_create/activator_start/activator_stop/
// activator_destroy. Create returns the bundle's own service instance
// (often nil - most activators register their services directly on ctx
// instead of returning one).
type Activator interface {
	Create(ctx *bundlectx.Context) (any, error)
	Start(ctx *bundlectx.Context) error
	Stop(ctx *bundlectx.Context) error
	Destroy(ctx *bundlectx.Context) error
}

// ActivatorFactory builds a fresh Activator for a bundle being started.
// A manifest maps a bundle location to the factory that produces its
// activator, standing in for the out-of-scope step of dynamically
// loading a shared library and resolving its activator_* symbols.
type ActivatorFactory func() Activator

// Library is one entry of a bundle's manifest-declared library list.
// Unload is invoked in reverse registration order while the bundle is
// STOPPING; a library not marked Unloadable is kept loaded across
// restarts for debugging, per the manifest's declaration.
type Library struct {
	Name       string
	Unloadable bool
	Unload     func() error
}

// Bundle is one installed unit: a location, an id, a state, and - once
// started - a context and an activator instance.
type Bundle struct {
	log zerolog.Logger

	mu    sync.Mutex // short critical sections only; never held across an activator call
	id    int64
	location string
	state    State
	revision *archive.Revision
	libraries []Library

	makeActivator ActivatorFactory
	activator     Activator
	ctx           *bundlectx.Context
	instance      any
}

// New constructs a freshly-installed bundle. id is assigned by the
// framework; makeActivator may be nil for a bundle with no code (a pure
// configuration/resource bundle).
func New(id int64, location string, makeActivator ActivatorFactory, log zerolog.Logger) *Bundle {
	return &Bundle{
		log:           log.With().Int64("bundle_id", id).Str("location", location).Logger(),
		id:            id,
		location:      location,
		state:         Installed,
		makeActivator: makeActivator,
	}
}

// ID returns the bundle's assigned id.
func (b *Bundle) ID() int64 { return b.id }

// Location returns the location the bundle was installed from.
func (b *Bundle) Location() string { return b.location }

// State returns the bundle's current lifecycle state.
func (b *Bundle) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Resolve moves an INSTALLED bundle to RESOLVED by recording the
// archive revision it will load libraries from. A no-op if already past
// INSTALLED.
func (b *Bundle) Resolve(store *archive.Store, libraries []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Installed {
		return nil
	}
	rev, err := store.AddRevision(b.location, libraries, installTime())
	if err != nil {
		return fmt.Errorf("bundle %d: resolve: %w", b.id, err)
	}
	b.revision = rev
	b.state = Resolved
	return nil
}

// installTime is a seam so tests can avoid depending on wall-clock
// behavior if they need to; production callers get the real time.
var installTime = time.Now

// Start requires a RESOLVED bundle (the framework resolves a bundle when
// it installs it) and returns an error for any other state except ACTIVE.
// It invokes Create then Start on the activator, and moves the bundle to
// ACTIVE. notify fires STARTING then STARTED (or neither, past STARTING,
// if the activator fails) so the framework can dispatch bundle-changed
// events at the right points. The bundle lock is held only for the state
// checks and commits that bracket the activator call, never across the
// call itself - an activator is user code and may re-enter the framework
// (install a dependency, query bundle state) while running.
func (b *Bundle) Start(ctx *bundlectx.Context, notify func(fevent.BundleEventType)) error {
	b.mu.Lock()
	if b.state == Active {
		b.mu.Unlock()
		return nil
	}
	if b.state != Resolved {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("bundle %d: start: invalid state %s (call Resolve first)", b.id, state)
	}
	b.state = Starting
	b.ctx = ctx
	var activator Activator
	if b.makeActivator != nil {
		activator = b.makeActivator()
		b.activator = activator
	}
	b.mu.Unlock()

	notify(fevent.BundleStarting)

	if activator != nil {
		instance, err := activator.Create(ctx)
		if err != nil {
			b.revertToResolved()
			return fmt.Errorf("bundle %d: activator create: %w", b.id, err)
		}
		b.mu.Lock()
		b.instance = instance
		b.mu.Unlock()

		if err := activator.Start(ctx); err != nil {
			b.revertToResolved()
			return fmt.Errorf("bundle %d: activator start: %w", b.id, err)
		}
	}

	b.mu.Lock()
	b.state = Active
	b.mu.Unlock()
	notify(fevent.BundleStarted)
	b.log.Info().Msg("bundle started")
	return nil
}

func (b *Bundle) revertToResolved() {
	b.mu.Lock()
	b.state = Resolved
	b.ctx = nil
	b.activator = nil
	b.instance = nil
	b.mu.Unlock()
}

// Stop invokes Stop then Destroy on the activator, tears down the
// bundle's context (releasing every registration, tracker, and listener
// it created), and moves the bundle to RESOLVED. Library unload is the
// caller's responsibility (the framework releases library handles from
// the archive revision in reverse order after Stop returns). notify
// fires STOPPING then STOPPED. As in Start, the bundle lock brackets the
// activator call rather than spanning it.
func (b *Bundle) Stop(notify func(fevent.BundleEventType)) error {
	b.mu.Lock()
	if b.state != Active {
		b.mu.Unlock()
		return nil
	}
	b.state = Stopping
	activator, ctx := b.activator, b.ctx
	b.mu.Unlock()

	notify(fevent.BundleStopping)

	var stopErr error
	if activator != nil {
		if err := activator.Stop(ctx); err != nil {
			stopErr = fmt.Errorf("bundle %d: activator stop: %w", b.id, err)
			b.log.Error().Err(err).Msg("activator stop failed, continuing teardown")
		}
		if err := activator.Destroy(ctx); err != nil {
			b.log.Error().Err(err).Msg("activator destroy failed, continuing teardown")
		}
	}
	if ctx != nil {
		ctx.Destroy()
	}

	b.mu.Lock()
	b.state = Resolved
	b.ctx = nil
	b.activator = nil
	b.instance = nil
	b.mu.Unlock()

	notify(fevent.BundleStopped)
	b.log.Info().Msg("bundle stopped")
	return stopErr
}

// Uninstall marks the bundle terminal. The framework must have already
// stopped it (if ACTIVE) before calling this.
func (b *Bundle) Uninstall() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Uninstalled
}

// Revision returns the archive revision this bundle last resolved to,
// or nil if it has never been resolved.
func (b *Bundle) Revision() *archive.Revision {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.revision
}

// SetLibraries records the library handles Start loaded for the current
// revision, in load order, so UnloadLibraries can release them in
// reverse.
func (b *Bundle) SetLibraries(libs []Library) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.libraries = libs
}

// UnloadLibraries releases every unloadable library handle recorded for
// this bundle, in reverse load order, called by the framework after
// Stop returns. Libraries not marked Unloadable are left loaded, for
// debugging, exactly as the manifest declared.
func (b *Bundle) UnloadLibraries() {
	b.unloadLibraries(false)
}

// ForceUnloadLibraries releases every recorded library handle regardless
// of its Unloadable flag. This backs the explicit unload_bundle
// operation, which overrides the manifest's "keep for debugging"
// declaration on operator request.
func (b *Bundle) ForceUnloadLibraries() {
	b.unloadLibraries(true)
}

func (b *Bundle) unloadLibraries(force bool) {
	b.mu.Lock()
	libs := b.libraries
	b.libraries = nil
	b.mu.Unlock()

	for i := len(libs) - 1; i >= 0; i-- {
		lib := libs[i]
		if !force && !lib.Unloadable {
			continue
		}
		if lib.Unload == nil {
			continue
		}
		if err := lib.Unload(); err != nil {
			b.log.Warn().Err(err).Str("library", lib.Name).Msg("library unload failed")
		}
	}
}
