package deliverer

import (
	"errors"
	"sync"

	"github.com/cuemby/celixd/pkg/eventadmin"
	"github.com/cuemby/celixd/pkg/metrics"
	"github.com/cuemby/celixd/pkg/props"
	"github.com/rs/zerolog"
)

// MinThreads and MaxThreads bound the configurable worker count; Default
// matches spec.md's deliverer sizing.
const (
	MinThreads     = 1
	MaxThreads     = 20
	DefaultThreads = 5
	defaultQueueCapacity = 256
)

// ErrIllegalState is returned by SendEvent once Close has been called,
// and passed to the done callback of queued-but-undelivered work items
// drained during Close.
var ErrIllegalState = errors.New("deliverer: closed")

// ErrNoEventAdmin is passed to a work item's done callback when no local event-admin has been wired
// in yet - the deliverer has somewhere to queue work but nothing to
// drive with it.
var ErrNoEventAdmin = errors.New("deliverer: no event-admin registered")

type workItem struct {
	topic string
	props *props.Properties
	done  func(error)
}

// Deliverer drains a bounded queue of synchronous events across a fixed
// pool of worker goroutines, calling admin.SendEvent for each then
// invoking the item's done callback with the outcome.
type Deliverer struct {
	log   zerolog.Logger
	admin eventadmin.EventAdmin

	queue chan workItem

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup
}

// New starts a Deliverer with threads workers (clamped to
// [MinThreads, MaxThreads]) backed by admin. admin may be nil if it will
// be set later via SetEventAdmin - e.g. while the framework is still
// wiring up its bundles - in which case each queued event's done
// callback receives ErrNoEventAdmin until one is set.
func New(threads int, admin eventadmin.EventAdmin, log zerolog.Logger) *Deliverer {
	if threads < MinThreads {
		threads = MinThreads
	}
	if threads > MaxThreads {
		threads = MaxThreads
	}
	d := &Deliverer{
		log:    log.With().Str("component", "deliverer").Logger(),
		admin:  admin,
		queue:  make(chan workItem, defaultQueueCapacity),
		closed: make(chan struct{}),
	}
	for i := 0; i < threads; i++ {
		d.wg.Add(1)
		go d.runWorker()
	}
	return d
}

// SetEventAdmin wires (or replaces) the local event-admin workers call
// SendEvent/PostEvent against.
func (d *Deliverer) SetEventAdmin(admin eventadmin.EventAdmin) {
	d.admin = admin
}

func (d *Deliverer) runWorker() {
	defer d.wg.Done()
	for {
		select {
		case <-d.closed:
			return
		case item := <-d.queue:
			metrics.DelivererQueueDepth.Set(float64(len(d.queue)))
			d.deliver(item)
		}
	}
}

func (d *Deliverer) deliver(item workItem) {
	if d.admin == nil {
		metrics.DelivererEventsTotal.WithLabelValues("no_admin").Inc()
		if item.done != nil {
			item.done(ErrNoEventAdmin)
		}
		return
	}
	err := d.admin.SendEvent(item.topic, item.props)
	if err != nil {
		metrics.DelivererEventsTotal.WithLabelValues("failed").Inc()
		d.log.Warn().Err(err).Str("topic", item.topic).Msg("send_event failed")
	} else {
		metrics.DelivererEventsTotal.WithLabelValues("delivered").Inc()
	}
	if item.done != nil {
		item.done(err)
	}
}

// SendEvent enqueues a synchronous delivery. done, if non-nil, is called
// exactly once with the delivery's outcome, from a worker goroutine, once
// a worker has either delivered the event or discovered the deliverer
// has no event-admin to deliver it through. Returns ErrIllegalState if
// the deliverer is closed, without ever calling done.
func (d *Deliverer) SendEvent(topic string, p *props.Properties, done func(error)) error {
	select {
	case <-d.closed:
		return ErrIllegalState
	default:
	}
	select {
	case d.queue <- workItem{topic: topic, props: p, done: done}:
		metrics.DelivererQueueDepth.Set(float64(len(d.queue)))
		return nil
	case <-d.closed:
		return ErrIllegalState
	}
}

// PostEvent bypasses the queue entirely and forwards directly to the
// event-admin's own PostEvent, which is responsible for its own
// dispatch. A no-op (not an error) if no event-admin is registered,
// mirroring post_event's fire-and-forget contract.
func (d *Deliverer) PostEvent(topic string, p *props.Properties) {
	if d.admin == nil {
		return
	}
	d.admin.PostEvent(topic, p)
}

// Close stops accepting new work, waits for every worker goroutine to
// exit, then drains and fails every item left queued with
// ErrIllegalState - a worker that already dequeued an item before
// observing closed still delivers it normally.
func (d *Deliverer) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
	})
	d.wg.Wait()
	for {
		select {
		case item := <-d.queue:
			metrics.DelivererQueueDepth.Set(float64(len(d.queue)))
			metrics.DelivererEventsTotal.WithLabelValues("illegal_state").Inc()
			if item.done != nil {
				item.done(ErrIllegalState)
			}
		default:
			return
		}
	}
}
