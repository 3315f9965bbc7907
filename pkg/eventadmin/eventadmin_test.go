package eventadmin

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/celixd/pkg/props"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendEventDeliversToMatchingHandlerSynchronously(t *testing.T) {
	a := New(zerolog.Nop())
	var got string
	a.AddHandler([]string{"a/b"}, nil, func(topic string, p *props.Properties) {
		got = topic
	})

	require.NoError(t, a.SendEvent("a/b", props.New()))
	assert.Equal(t, "a/b", got)
}

func TestSendEventReturnsErrNoHandlersWhenNothingMatches(t *testing.T) {
	a := New(zerolog.Nop())
	a.AddHandler([]string{"a/b"}, nil, func(string, *props.Properties) {})

	err := a.SendEvent("x/y", props.New())
	assert.ErrorIs(t, err, ErrNoHandlers)
}

func TestPostEventDeliversAsynchronouslyToAllMatchingHandlers(t *testing.T) {
	a := New(zerolog.Nop())
	var mu sync.Mutex
	var count int
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		a.AddHandler([]string{"a/*"}, nil, func(topic string, p *props.Properties) {
			mu.Lock()
			count++
			mu.Unlock()
			done <- struct{}{}
		})
	}

	a.PostEvent("a/b", props.New())

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for handler delivery")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, count)
}

func TestRemoveHandlerStopsFurtherDelivery(t *testing.T) {
	a := New(zerolog.Nop())
	var mu sync.Mutex
	var count int
	id := a.AddHandler([]string{"a/b"}, nil, func(string, *props.Properties) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	a.RemoveHandler(id)

	err := a.SendEvent("a/b", props.New())
	assert.ErrorIs(t, err, ErrNoHandlers)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestTopicMatchesWildcardPatterns(t *testing.T) {
	assert.True(t, topicMatches("a/b", "a/b"))
	assert.False(t, topicMatches("a/b", "a/c"))
	assert.True(t, topicMatches("a/*", "a/b"))
	assert.False(t, topicMatches("a/*", "a/b/c"))
	assert.True(t, topicMatches("a/**", "a/b/c"))
	assert.True(t, topicMatches("a/**", "a"))
}
