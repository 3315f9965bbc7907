package bundle

import (
	"errors"
	"testing"

	"github.com/cuemby/celixd/pkg/archive"
	"github.com/cuemby/celixd/pkg/bundlectx"
	"github.com/cuemby/celixd/pkg/fevent"
	"github.com/cuemby/celixd/pkg/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubHost struct{}

func (stubHost) InstallBundle(string, bool) (int64, error)         { return 0, nil }
func (stubHost) StartBundle(int64) error                           { return nil }
func (stubHost) StopBundle(int64) error                            { return nil }
func (stubHost) UninstallBundle(int64) (bool, error)                { return true, nil }
func (stubHost) UnloadBundle(int64) (bool, error)                   { return true, nil }
func (stubHost) UpdateBundle(int64, string) (bool, error)           { return true, nil }
func (stubHost) GetProperty(_, def string) string                  { return def }
func (stubHost) ListBundles() []bundlectx.BundleSnapshot           { return nil }
func (stubHost) AddBundleListener(int64, fevent.BundleListenerFunc) int64 { return 0 }
func (stubHost) RemoveBundleListener(int64)                        {}
func (stubHost) AddFrameworkListener(int64, fevent.FrameworkListenerFunc) int64 { return 0 }
func (stubHost) RemoveFrameworkListener(int64)                     {}

type recordingActivator struct {
	createErr, startErr error
	created, started, stopped, destroyed bool
}

func (a *recordingActivator) Create(ctx *bundlectx.Context) (any, error) {
	a.created = true
	return nil, a.createErr
}
func (a *recordingActivator) Start(ctx *bundlectx.Context) error {
	a.started = true
	return a.startErr
}
func (a *recordingActivator) Stop(ctx *bundlectx.Context) error {
	a.stopped = true
	return nil
}
func (a *recordingActivator) Destroy(ctx *bundlectx.Context) error {
	a.destroyed = true
	return nil
}

func newTestContext(reg *registry.Registry, bundleID int64) *bundlectx.Context {
	return bundlectx.New(bundleID, reg, stubHost{}, zerolog.Nop())
}

func TestStartTransitionsThroughStartingToActive(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	store, err := archive.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	act := &recordingActivator{}
	b := New(1, "file:///a.zip", func() Activator { return act }, zerolog.Nop())
	require.NoError(t, b.Resolve(store, []string{"liba.so"}))

	var events []fevent.BundleEventType
	ctx := newTestContext(reg, 1)
	require.NoError(t, b.Start(ctx, func(e fevent.BundleEventType) { events = append(events, e) }))

	assert.Equal(t, Active, b.State())
	assert.True(t, act.created)
	assert.True(t, act.started)
	assert.Equal(t, []fevent.BundleEventType{fevent.BundleStarting, fevent.BundleStarted}, events)
}

func TestStartFromInstalledFailsWithoutResolve(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	b := New(1, "file:///a.zip", func() Activator { return &recordingActivator{} }, zerolog.Nop())
	ctx := newTestContext(reg, 1)
	err := b.Start(ctx, func(fevent.BundleEventType) {})
	assert.Error(t, err)
	assert.Equal(t, Installed, b.State())
}

func TestStartActivatorFailureRevertsToResolved(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	store, err := archive.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	act := &recordingActivator{startErr: errors.New("boom")}
	b := New(1, "file:///a.zip", func() Activator { return act }, zerolog.Nop())
	require.NoError(t, b.Resolve(store, nil))

	ctx := newTestContext(reg, 1)
	err = b.Start(ctx, func(fevent.BundleEventType) {})
	assert.Error(t, err)
	assert.Equal(t, Resolved, b.State())
}

func TestStopInvokesStopThenDestroyAndReturnsToResolved(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	store, err := archive.Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	act := &recordingActivator{}
	b := New(1, "file:///a.zip", func() Activator { return act }, zerolog.Nop())
	require.NoError(t, b.Resolve(store, nil))
	ctx := newTestContext(reg, 1)
	require.NoError(t, b.Start(ctx, func(fevent.BundleEventType) {}))

	var events []fevent.BundleEventType
	require.NoError(t, b.Stop(func(e fevent.BundleEventType) { events = append(events, e) }))

	assert.Equal(t, Resolved, b.State())
	assert.True(t, act.stopped)
	assert.True(t, act.destroyed)
	assert.Equal(t, []fevent.BundleEventType{fevent.BundleStopping, fevent.BundleStopped}, events)
}

func TestUnloadLibrariesSkipsNonUnloadableEntries(t *testing.T) {
	b := New(1, "file:///a.zip", nil, zerolog.Nop())
	var unloadedA, unloadedB bool
	b.SetLibraries([]Library{
		{Name: "keep.so", Unloadable: false, Unload: func() error { unloadedA = true; return nil }},
		{Name: "drop.so", Unloadable: true, Unload: func() error { unloadedB = true; return nil }},
	})
	b.UnloadLibraries()
	assert.False(t, unloadedA)
	assert.True(t, unloadedB)
}
