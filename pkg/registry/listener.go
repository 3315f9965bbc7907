package registry

import (
	"github.com/cuemby/celixd/pkg/filter"
	"github.com/cuemby/celixd/pkg/props"
)

// EventType identifies a service event delivered to listeners.
type EventType int

const (
	// EventRegistered fires when a new service entry is inserted.
	EventRegistered EventType = iota
	// EventModified fires when a registration's properties change.
	EventModified
	// EventModifiedEndmatch is synthesized for a listener whose filter
	// matched the entry's old properties but not its new ones.
	EventModifiedEndmatch
	// EventUnregistering fires before an entry is removed from the
	// directory, giving listeners a chance to release references.
	EventUnregistering
)

func (t EventType) String() string {
	switch t {
	case EventRegistered:
		return "REGISTERED"
	case EventModified:
		return "MODIFIED"
	case EventModifiedEndmatch:
		return "MODIFIED_ENDMATCH"
	case EventUnregistering:
		return "UNREGISTERING"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered to a service listener callback.
type Event struct {
	Type       EventType
	Properties *props.Properties
}

// ListenerFunc receives service events. Panics and errors from a
// listener callback are logged by the registry and never abort delivery
// to subsequent listeners.
type ListenerFunc func(Event)

type serviceListener struct {
	id       int64
	bundleID int64
	filter   *filter.Filter
	cb       ListenerFunc
}

// AddServiceListener registers cb to be invoked synchronously for every
// REGISTERED/MODIFIED/UNREGISTERING event matching f. It returns a
// listener id usable with RemoveServiceListener. A nil filter matches
// every event.
func (r *Registry) AddServiceListener(bundleID int64, f *filter.Filter, cb ListenerFunc) int64 {
	id := r.nextListener.Add(1)
	l := &serviceListener{id: id, bundleID: bundleID, filter: f, cb: cb}

	r.listenersMu.Lock()
	r.listeners = append(r.listeners, l)
	r.listenersMu.Unlock()

	return id
}

// RemoveServiceListener unregisters a listener previously added with
// AddServiceListener.
func (r *Registry) RemoveServiceListener(id int64) {
	r.listenersMu.Lock()
	defer r.listenersMu.Unlock()
	for i, l := range r.listeners {
		if l.id == id {
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

// ListenersForBundle returns the current snapshot of listener ids
// registered by a given bundle, in registration order.
func (r *Registry) ListenersForBundle(bundleID int64) []int64 {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	var ids []int64
	for _, l := range r.listeners {
		if l.bundleID == bundleID {
			ids = append(ids, l.id)
		}
	}
	return ids
}

// notify snapshots the listener list under the listener lock, releases
// the lock, then invokes every matching listener on the calling
// goroutine - service events are latency-sensitive and their primary
// consumers (trackers) are built to run synchronously with registration.
// A listener that panics is logged and does not stop delivery to the
// rest.
func (r *Registry) notify(evt EventType, newProps, oldProps *props.Properties) {
	r.listenersMu.RLock()
	snapshot := make([]*serviceListener, len(r.listeners))
	copy(snapshot, r.listeners)
	r.listenersMu.RUnlock()

	for _, l := range snapshot {
		matchesNew := l.filter.Match(newProps)
		matchesOld := oldProps != nil && l.filter.Match(oldProps)

		switch evt {
		case EventModified:
			if matchesNew {
				r.deliver(l, Event{Type: EventModified, Properties: newProps})
			} else if matchesOld {
				r.deliver(l, Event{Type: EventModifiedEndmatch, Properties: newProps})
			}
		default:
			if matchesNew {
				r.deliver(l, Event{Type: evt, Properties: newProps})
			}
		}
	}
}

func (r *Registry) deliver(l *serviceListener, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Int64("listener_bundle_id", l.bundleID).Msg("service listener panicked")
		}
	}()
	l.cb(evt)
}
