package tracker

import (
	"testing"
	"time"

	"github.com/cuemby/celixd/pkg/filter"
	"github.com/cuemby/celixd/pkg/props"
	"github.com/cuemby/celixd/pkg/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rankingProps(r int64) *props.Properties {
	p := props.New()
	p.Set(registry.PropertyRanking, r)
	return p
}

func TestHighestRankingSelectionAndReelection(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	f := filter.MustParse("(service.name=X)")

	var highest []any
	tr := Open(reg, 1, f, Options{
		HighestChanged: func(ref *registry.Reference, service any) {
			highest = append(highest, service)
		},
	}, zerolog.Nop())
	defer tr.Close()

	regLow, err := reg.Register(2, "X", "low", rankingProps(5))
	require.NoError(t, err)
	regHigh, err := reg.Register(2, "X", "high", rankingProps(10))
	require.NoError(t, err)

	require.Len(t, highest, 2)
	assert.Equal(t, "low", highest[0])
	assert.Equal(t, "high", highest[1])

	regHigh.Unregister()
	require.Len(t, highest, 3)
	assert.Equal(t, "low", highest[2])

	regLow.Unregister()
	require.Len(t, highest, 4)
	assert.Nil(t, highest[3])
}

func TestTrackerOpenEnumeratesExistingMatches(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	f := filter.MustParse("(service.name=X)")

	_, err := reg.Register(2, "X", "already-there", nil)
	require.NoError(t, err)

	tr := Open(reg, 1, f, Options{}, zerolog.Nop())
	defer tr.Close()

	assert.Equal(t, 1, tr.Size())
}

func TestCloseTreatsEveryTrackedEntryAsRemoved(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	f := filter.MustParse("(service.name=X)")

	_, err := reg.Register(2, "X", "svc", nil)
	require.NoError(t, err)

	var removed int
	tr := Open(reg, 1, f, Options{
		Removed: func(ref *registry.Reference, service any) {
			removed++
		},
	}, zerolog.Nop())

	tr.Close()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, tr.Size())
}

func TestUseServicesInvokesCallbackPerTrackedEntry(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	f := filter.MustParse("(service.name=X)")

	_, err := reg.Register(2, "X", "a", nil)
	require.NoError(t, err)
	_, err = reg.Register(2, "X", "b", nil)
	require.NoError(t, err)

	tr := Open(reg, 1, f, Options{}, zerolog.Nop())
	defer tr.Close()

	var seen []any
	n := tr.UseServices(func(ref *registry.Reference, service any) {
		seen = append(seen, service)
	})
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []any{"a", "b"}, seen)
}

func TestRemoveWaitsForInFlightUseBeforeFreeing(t *testing.T) {
	reg := registry.New(zerolog.Nop())
	f := filter.MustParse("(service.name=X)")

	reg2, err := reg.Register(2, "X", "svc", nil)
	require.NoError(t, err)

	tr := Open(reg, 1, f, Options{}, zerolog.Nop())
	tr.grace = 200 * time.Millisecond

	release := make(chan struct{})
	started := make(chan struct{})
	go tr.UseServices(func(ref *registry.Reference, service any) {
		close(started)
		<-release
	})
	<-started

	done := make(chan struct{})
	go func() {
		reg2.Unregister()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("unregister returned before in-flight use released")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	<-done
}
