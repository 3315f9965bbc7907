package registry

import (
	"testing"

	"github.com/cuemby/celixd/pkg/filter"
	"github.com/cuemby/celixd/pkg/props"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return New(zerolog.Nop())
}

func TestRegisterAssignsUniqueIncreasingIDs(t *testing.T) {
	r := newTestRegistry(t)

	reg1, err := r.Register(1, "svc.a", "payload-a", nil)
	require.NoError(t, err)
	reg2, err := r.Register(1, "svc.b", "payload-b", nil)
	require.NoError(t, err)

	assert.Less(t, reg1.ID(), reg2.ID())
}

func TestRegisterRejectsEmptyNameOrNilPayload(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Register(1, "", "payload", nil)
	assert.ErrorIs(t, err, ErrIllegalArgument)

	_, err = r.Register(1, "svc.a", nil, nil)
	assert.ErrorIs(t, err, ErrIllegalArgument)
}

func TestGetServiceReferenceHighestRankingTieBreak(t *testing.T) {
	r := newTestRegistry(t)

	p10 := props.New()
	p10.Set(PropertyRanking, int64(10))

	regS1, err := r.Register(1, "X", "s1", p10)
	require.NoError(t, err)
	_, err = r.Register(1, "X", "s2", p10)
	require.NoError(t, err)

	ref, err := r.GetServiceReference(99, "X", nil)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, regS1.ID(), ref.ID())
}

func TestRegisterThenUnregisterIsObservationallyUnchanged(t *testing.T) {
	r := newTestRegistry(t)

	before, err := r.GetServiceReferences(1, "", nil)
	require.NoError(t, err)

	reg, err := r.Register(1, "svc.a", "payload", nil)
	require.NoError(t, err)
	reg.Unregister()

	after, err := r.GetServiceReferences(1, "", nil)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestGetServiceOnUnregisteredEntryFails(t *testing.T) {
	r := newTestRegistry(t)

	reg, err := r.Register(1, "svc.a", "payload", nil)
	require.NoError(t, err)

	refs, err := r.GetServiceReferences(2, "svc.a", nil)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	ref := refs[0]

	reg.Unregister()

	_, err = r.GetService(2, ref)
	assert.ErrorIs(t, err, ErrUnregistered)
	assert.Equal(t, int64(0), ref.UseCount())
}

func TestServiceListenerReceivesRegisteredAndUnregistering(t *testing.T) {
	r := newTestRegistry(t)
	var events []EventType

	f := filter.MustParse("(service.name=svc.a)")
	r.AddServiceListener(1, f, func(e Event) {
		events = append(events, e.Type)
	})

	reg, err := r.Register(2, "svc.a", "payload", nil)
	require.NoError(t, err)
	reg.Unregister()

	require.Len(t, events, 2)
	assert.Equal(t, EventRegistered, events[0])
	assert.Equal(t, EventUnregistering, events[1])
}

func TestListenerPanicDoesNotStopDelivery(t *testing.T) {
	r := newTestRegistry(t)
	called := false

	r.AddServiceListener(1, nil, func(Event) {
		panic("boom")
	})
	r.AddServiceListener(1, nil, func(Event) {
		called = true
	})

	_, err := r.Register(2, "svc.a", "payload", nil)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestFactoryServiceCallsGetAndUngetPerBundle(t *testing.T) {
	r := newTestRegistry(t)
	f := &countingFactory{}

	reg, err := r.RegisterFactory(1, "svc.factory", f, nil)
	require.NoError(t, err)

	refs, err := r.GetServiceReferences(2, "svc.factory", nil)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	ref := refs[0]

	svc, err := r.GetService(2, ref)
	require.NoError(t, err)
	assert.Equal(t, "instance-2", svc)
	assert.Equal(t, 1, f.gets)

	r.UngetService(2, ref)
	assert.Equal(t, 1, f.ungets)

	reg.Unregister()
}

type countingFactory struct {
	gets, ungets int
}

func (f *countingFactory) GetService(bundleID int64) (any, error) {
	f.gets++
	return "instance-2", nil
}

func (f *countingFactory) UngetService(bundleID int64, service any) {
	f.ungets++
}
