package framework

import (
	"github.com/cuemby/celixd/pkg/fevent"
	"github.com/cuemby/celixd/pkg/metrics"
)

// dispatchRequest is one unit of work for the event-dispatcher goroutine:
// either a bundle-changed event or a framework-wide event, carrying a
// snapshot of the listeners it must reach.
type dispatchRequest struct {
	bundleEvt    *fevent.BundleEvent
	bundleCbs    []fevent.BundleListenerFunc
	frameworkEvt *fevent.FrameworkEvent
	frameworkCbs []fevent.FrameworkListenerFunc
}

// runDispatcher drains f.dispatchCh on a single goroutine until it is
// closed, invoking each request's listener snapshot in order. A single
// FIFO queue is what gives bundle-event delivery its total order across
// bundles, per the ordering guarantee bundle listeners rely on.
func (f *Framework) runDispatcher() {
	defer close(f.dispatcherDone)
	for req := range f.dispatchCh {
		metrics.FrameworkDispatcherQueueDepth.Set(float64(len(f.dispatchCh)))
		if req.bundleEvt != nil {
			metrics.FrameworkDispatcherEventsTotal.WithLabelValues("bundle").Inc()
			for _, cb := range req.bundleCbs {
				f.deliverBundleEvent(cb, *req.bundleEvt)
			}
		}
		if req.frameworkEvt != nil {
			metrics.FrameworkDispatcherEventsTotal.WithLabelValues("framework").Inc()
			for _, cb := range req.frameworkCbs {
				f.deliverFrameworkEvent(cb, *req.frameworkEvt)
			}
		}
	}
}

func (f *Framework) deliverBundleEvent(cb fevent.BundleListenerFunc, evt fevent.BundleEvent) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error().Interface("panic", r).Int64("bundle_id", evt.BundleID).Msg("bundle listener panicked")
		}
	}()
	cb(evt)
}

func (f *Framework) deliverFrameworkEvent(cb fevent.FrameworkListenerFunc, evt fevent.FrameworkEvent) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error().Interface("panic", r).Msg("framework listener panicked")
		}
	}()
	cb(evt)
}

// dispatchBundleEvent enqueues a bundle-changed notification for every
// currently-registered bundle listener. Enqueue, not direct invocation,
// so the calling goroutine (holding a bundle's short-lived lock moments
// earlier) never blocks on listener code.
func (f *Framework) dispatchBundleEvent(evt fevent.BundleEvent) {
	f.bundleListenersMu.RLock()
	cbs := make([]fevent.BundleListenerFunc, 0, len(f.bundleListeners))
	for _, l := range f.bundleListeners {
		cbs = append(cbs, l.cb)
	}
	f.bundleListenersMu.RUnlock()

	if len(cbs) == 0 {
		return
	}
	f.dispatchCh <- dispatchRequest{bundleEvt: &evt, bundleCbs: cbs}
}

// dispatchFrameworkEvent enqueues a framework-wide notification for
// every currently-registered framework listener.
func (f *Framework) dispatchFrameworkEvent(evt fevent.FrameworkEvent) {
	f.frameworkListenersMu.RLock()
	cbs := make([]fevent.FrameworkListenerFunc, 0, len(f.frameworkListeners))
	for _, l := range f.frameworkListeners {
		cbs = append(cbs, l.cb)
	}
	f.frameworkListenersMu.RUnlock()

	if len(cbs) == 0 {
		return
	}
	f.dispatchCh <- dispatchRequest{frameworkEvt: &evt, frameworkCbs: cbs}
}
