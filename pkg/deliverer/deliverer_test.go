package deliverer

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/celixd/pkg/eventadmin"
	"github.com/cuemby/celixd/pkg/props"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendEventInvokesDoneWithOutcome(t *testing.T) {
	admin := eventadmin.New(zerolog.Nop())
	admin.AddHandler([]string{"a/b"}, nil, func(string, *props.Properties) {})

	d := New(2, admin, zerolog.Nop())
	defer d.Close()

	done := make(chan error, 1)
	require.NoError(t, d.SendEvent("a/b", props.New(), func(err error) { done <- err }))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSendEventWithNoEventAdminReportsError(t *testing.T) {
	d := New(1, nil, zerolog.Nop())
	defer d.Close()

	done := make(chan error, 1)
	require.NoError(t, d.SendEvent("a/b", props.New(), func(err error) { done <- err }))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNoEventAdmin)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestCloseFailsQueuedItemsWithIllegalState(t *testing.T) {
	d := New(1, nil, zerolog.Nop())

	var mu sync.Mutex
	var outcomes []error
	var wg sync.WaitGroup
	wg.Add(1)
	require.NoError(t, d.SendEvent("a/b", props.New(), func(err error) {
		mu.Lock()
		outcomes = append(outcomes, err)
		mu.Unlock()
		wg.Done()
	}))

	d.Close()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0] == ErrIllegalState || outcomes[0] == ErrNoEventAdmin)
}

func TestSendEventAfterCloseReturnsIllegalState(t *testing.T) {
	d := New(1, nil, zerolog.Nop())
	d.Close()

	err := d.SendEvent("a/b", props.New(), nil)
	assert.ErrorIs(t, err, ErrIllegalState)
}
