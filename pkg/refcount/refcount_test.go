package refcount

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReleaseInvokesCallbackOnlyOnce(t *testing.T) {
	var h Handle
	h.Init()
	h.Acquire()

	releases := 0
	release := func() { releases++ }

	h.Release(release)
	assert.Equal(t, 0, releases)
	h.Release(release)
	assert.Equal(t, 1, releases)
}

func TestAcquireOnZeroCountPanics(t *testing.T) {
	var h Handle
	h.Init()
	h.Release(nil)

	assert.Panics(t, func() { h.Acquire() })
}

func TestTryAcquireFailsOnZeroCount(t *testing.T) {
	var h Handle
	h.Init()
	h.Release(nil)

	assert.False(t, h.TryAcquire())
}

func TestConcurrentAcquireRelease(t *testing.T) {
	var h Handle
	h.Init()

	const n = 100
	var wg sync.WaitGroup
	releases := 0
	var mu sync.Mutex

	for i := 0; i < n; i++ {
		h.Acquire()
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Release(func() {
				mu.Lock()
				releases++
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	h.Release(func() {
		mu.Lock()
		releases++
		mu.Unlock()
	})

	assert.Equal(t, 1, releases)
}
