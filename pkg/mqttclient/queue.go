package mqttclient

import (
	"errors"
	"sync"

	"github.com/cuemby/celixd/pkg/metrics"
)

// DefaultQueueCapacity and MaxQueueCapacity bound the configurable
// outbound queue size.
const (
	DefaultQueueCapacity = 256
	MaxQueueCapacity     = 2048
)

// ErrQueueFull is returned by enqueue when a message's priority is not
// admitted at the queue's current usage level.
var ErrQueueFull = errors.New("mqttclient: outbound queue full")

// outboundMessage is one entry of the bounded outbound queue.
type outboundMessage struct {
	topic          string
	payload        []byte
	qos            byte
	priority       Priority
	expiry         int64 // seconds, 0 = no expiry
	correlationData []byte
	responseTopic  string
	ackCh          chan error // non-nil for publish_sync callers
}

// outboundQueue is a capacity-bounded FIFO with priority-gated
// admission: a message is enqueued only if its priority's admission
// threshold is satisfied at the queue's current depth, per spec.md
// §4.9. Reconnection handling (dropping QoS-0 entries) is implemented
// as a separate sweep rather than inside the queue itself, since it
// needs to run only on a disconnect transition.
type outboundQueue struct {
	capacity int

	mu    sync.Mutex
	items []outboundMessage
}

func newOutboundQueue(capacity int) *outboundQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if capacity > MaxQueueCapacity {
		capacity = MaxQueueCapacity
	}
	return &outboundQueue{capacity: capacity}
}

// enqueue appends msg if admitted, returning ErrQueueFull otherwise.
func (q *outboundQueue) enqueue(msg outboundMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !msg.priority.admitted(len(q.items), q.capacity) {
		metrics.EarpmOutboundRejectedTotal.WithLabelValues(msg.priority.String()).Inc()
		return ErrQueueFull
	}
	q.items = append(q.items, msg)
	q.recordDepths()
	return nil
}

// dequeue pops the oldest queued message, if any.
func (q *outboundQueue) dequeue() (outboundMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return outboundMessage{}, false
	}
	msg := q.items[0]
	q.items = q.items[1:]
	q.recordDepths()
	return msg, true
}

// recordDepths republishes the current queue depth per priority. Called
// with q.mu held; the queue is one shared FIFO, not partitioned by
// priority, so depth here means "messages of this priority currently
// queued", not a separate sub-queue length.
func (q *outboundQueue) recordDepths() {
	var counts [3]int
	for _, m := range q.items {
		counts[m.priority]++
	}
	metrics.EarpmOutboundQueueDepth.WithLabelValues(PriorityLow.String()).Set(float64(counts[PriorityLow]))
	metrics.EarpmOutboundQueueDepth.WithLabelValues(PriorityMiddle.String()).Set(float64(counts[PriorityMiddle]))
	metrics.EarpmOutboundQueueDepth.WithLabelValues(PriorityHigh.String()).Set(float64(counts[PriorityHigh]))
}

// len returns the current queue depth.
func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// dropQoS0 removes every queued QoS-0 message, failing its ack channel
// (if any) with ErrNotConnected, called on a disconnect transition per
// spec.md §4.9 ("all QoS-0 pending messages are dropped").
func (q *outboundQueue) dropQoS0() {
	q.mu.Lock()
	kept := q.items[:0]
	var dropped []outboundMessage
	for _, m := range q.items {
		if m.qos == 0 {
			dropped = append(dropped, m)
			continue
		}
		kept = append(kept, m)
	}
	q.items = kept
	q.recordDepths()
	q.mu.Unlock()

	for _, m := range dropped {
		if m.ackCh != nil {
			m.ackCh <- ErrNotConnected
		}
	}
}
