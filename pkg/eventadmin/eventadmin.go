package eventadmin

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cuemby/celixd/pkg/filter"
	"github.com/cuemby/celixd/pkg/props"
	"github.com/rs/zerolog"
)

// ErrNoHandlers is returned by SendEvent when no local handler is
// interested in topic; pkg/deliverer treats this the same as any other
// SendEvent failure (worker moves on, done-callback sees the error).
var ErrNoHandlers = errors.New("eventadmin: no handler for topic")

// HandlerFunc receives one event delivery.
type HandlerFunc func(topic string, p *props.Properties)

// EventAdmin is the local event-admin collaborator spec'd as an
// external service: PostEvent delivers asynchronously and never blocks
// the caller; SendEvent delivers synchronously to every matching
// handler and returns once they have all run.
type EventAdmin interface {
	PostEvent(topic string, p *props.Properties)
	SendEvent(topic string, p *props.Properties) error
	AddHandler(topics []string, f *filter.Filter, handler HandlerFunc) int64
	RemoveHandler(id int64)
}

type subscription struct {
	id      int64
	topics  []string
	filter  *filter.Filter
	handler HandlerFunc
	queue   chan delivery
	done    chan struct{}
}

type delivery struct {
	topic string
	props *props.Properties
}

const handlerQueueCapacity = 64

// LocalAdmin is the default in-process EventAdmin: each handler gets its
// own buffered queue and goroutine, so one slow handler never blocks
// delivery to another. PostEvent drops the event for a handler whose
// queue is full rather than blocking the publisher, matching the
// teacher's non-blocking-publish broker.
type LocalAdmin struct {
	log zerolog.Logger

	nextID atomic.Int64

	mu   sync.RWMutex
	subs map[int64]*subscription
}

// New creates an empty LocalAdmin.
func New(log zerolog.Logger) *LocalAdmin {
	return &LocalAdmin{
		log:  log.With().Str("component", "eventadmin").Logger(),
		subs: make(map[int64]*subscription),
	}
}

// AddHandler registers handler for every topic in topics, optionally
// narrowed by f. Returns an id RemoveHandler can use to unregister it.
func (a *LocalAdmin) AddHandler(topics []string, f *filter.Filter, handler HandlerFunc) int64 {
	id := a.nextID.Add(1)
	sub := &subscription{
		id:      id,
		topics:  append([]string(nil), topics...),
		filter:  f,
		handler: handler,
		queue:   make(chan delivery, handlerQueueCapacity),
		done:    make(chan struct{}),
	}
	go sub.run()

	a.mu.Lock()
	a.subs[id] = sub
	a.mu.Unlock()
	return id
}

// RemoveHandler unregisters the handler added with the given id.
func (a *LocalAdmin) RemoveHandler(id int64) {
	a.mu.Lock()
	sub, ok := a.subs[id]
	if ok {
		delete(a.subs, id)
	}
	a.mu.Unlock()
	if ok {
		close(sub.done)
	}
}

func (s *subscription) run() {
	for {
		select {
		case d := <-s.queue:
			s.handler(d.topic, d.props)
		case <-s.done:
			return
		}
	}
}

func (s *subscription) matches(topic string, p *props.Properties) bool {
	matched := false
	for _, pattern := range s.topics {
		if topicMatches(pattern, topic) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if s.filter == nil {
		return true
	}
	return s.filter.Match(p)
}

// topicMatches implements the subset of EventAdmin topic-pattern
// matching this module needs: an exact match, or a pattern ending in
// "/*" matching exactly one additional path segment, or a pattern
// ending in "/**" matching any number of trailing segments.
func topicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	switch {
	case len(pattern) >= 3 && pattern[len(pattern)-3:] == "/**":
		prefix := pattern[:len(pattern)-3]
		return topic == prefix || (len(topic) > len(prefix) && topic[:len(prefix)+1] == prefix+"/")
	case len(pattern) >= 2 && pattern[len(pattern)-2:] == "/*":
		prefix := pattern[:len(pattern)-2]
		if len(topic) <= len(prefix) || topic[:len(prefix)+1] != prefix+"/" {
			return false
		}
		rest := topic[len(prefix)+1:]
		return rest != "" && !containsSlash(rest)
	default:
		return false
	}
}

func containsSlash(s string) bool {
	for _, r := range s {
		if r == '/' {
			return true
		}
	}
	return false
}

// snapshot returns every subscription currently registered, a point-in-
// time view taken under a read lock and released before any handler is
// invoked or queued, the same discipline pkg/registry uses for listener
// delivery.
func (a *LocalAdmin) snapshot() []*subscription {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*subscription, 0, len(a.subs))
	for _, s := range a.subs {
		out = append(out, s)
	}
	return out
}

// PostEvent delivers topic/p asynchronously to every matching handler,
// queuing one delivery per handler. A handler whose queue is full drops
// the event rather than blocking the publisher.
func (a *LocalAdmin) PostEvent(topic string, p *props.Properties) {
	for _, s := range a.snapshot() {
		if !s.matches(topic, p) {
			continue
		}
		select {
		case s.queue <- delivery{topic: topic, props: p}:
		default:
			a.log.Warn().Int64("handler_id", s.id).Str("topic", topic).Msg("handler queue full, dropping event")
		}
	}
}

// SendEvent delivers topic/p synchronously: it invokes every matching
// handler in turn on the calling goroutine and returns once they have
// all run. Returns ErrNoHandlers if no handler's topics/filter match.
func (a *LocalAdmin) SendEvent(topic string, p *props.Properties) error {
	matched := 0
	for _, s := range a.snapshot() {
		if !s.matches(topic, p) {
			continue
		}
		matched++
		s.handler(topic, p)
	}
	if matched == 0 {
		return ErrNoHandlers
	}
	return nil
}
