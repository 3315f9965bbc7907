package mqttclient

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// ErrNotConnected is handed to the ack channel of a queued QoS-0 message
// that is dropped when the broker connection is lost; a PublishSync
// waiting on such a message returns it.
var ErrNotConnected = errors.New("mqttclient: not connected")

// ErrClosed is returned by Publish* once the client has been closed.
var ErrClosed = errors.New("mqttclient: closed")

const (
	minReconnectBackoff = 500 * time.Millisecond
	maxReconnectBackoff = 30 * time.Second
)

// Endpoint is one candidate broker address. Endpoints are tried in
// rotating order on every reconnect attempt, AddEndpoint growing the
// rotation (and notifying the EndpointAddedFunc) as new brokers are
// discovered (e.g. via mDNS), matching the "externally supplied broker discovery"
// shape spec.md §4.9 describes.
type Endpoint struct {
	URI      string
	ClientID string
}

// EndpointAddedFunc is invoked once per newly admitted endpoint.
type EndpointAddedFunc func(Endpoint)

// ConnectedFunc is invoked once per transition into the connected
// state, not once per underlying paho callback (paho may call its own
// OnConnect handler more than once across retries).
type ConnectedFunc func()

// Options configures a Client.
type Options struct {
	Endpoints       []Endpoint
	QueueCapacity   int
	Username        string
	Password        string
	WillTopic       string
	WillPayload     []byte
	WillQoS         byte
	KeepAlive       time.Duration
	ConnectTimeout  time.Duration
	OnConnected     ConnectedFunc
	OnEndpointAdded EndpointAddedFunc
	// OnMessage, if set, receives every message this client delivers,
	// regardless of which topic pattern it matched - the single
	// receive callback pkg/earpm dispatches by topic suffix.
	OnMessage func(topic string, payload []byte)
	Log       zerolog.Logger
}

// Client wraps a paho.mqtt.golang client with a bounded priority
// outbound queue, endpoint rotation with exponential backoff, and
// caller-reference-counted subscriptions. It is the module's MQTT
// transport; pkg/earpm is its only intended caller.
type Client struct {
	opts Options
	log  zerolog.Logger

	mu        sync.Mutex
	endpoints []Endpoint
	next      int
	backoff   time.Duration

	inner mqtt.Client

	queue *outboundQueue

	subsMu sync.Mutex
	subs   map[string]*subscriptionEntry

	connectedMu sync.Mutex
	connected   bool

	closed atomic.Bool
	done   chan struct{}
}

// subscriptionEntry tracks how many distinct callers want topic, and
// the highest QoS any of them requested - the QoS actually asserted
// with the broker.
type subscriptionEntry struct {
	qos       byte
	refCounts map[int64]byte // caller token -> requested QoS
}

// New constructs a Client and starts its connection-management
// goroutine. Connect is attempted asynchronously; callers observe
// readiness via opts.OnConnected or by calling IsConnected.
func New(opts Options) (*Client, error) {
	if len(opts.Endpoints) == 0 {
		return nil, errors.New("mqttclient: at least one endpoint is required")
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 30 * time.Second
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 10 * time.Second
	}

	c := &Client{
		opts:      opts,
		log:       opts.Log,
		endpoints: append([]Endpoint(nil), opts.Endpoints...),
		backoff:   minReconnectBackoff,
		queue:     newOutboundQueue(opts.QueueCapacity),
		subs:      make(map[string]*subscriptionEntry),
		done:      make(chan struct{}),
	}

	go c.connectLoop()
	return c, nil
}

// AddEndpoint admits a newly discovered broker candidate into the
// rotation, invoking opts.OnEndpointAdded if set.
func (c *Client) AddEndpoint(ep Endpoint) {
	c.mu.Lock()
	c.endpoints = append(c.endpoints, ep)
	c.mu.Unlock()
	if c.opts.OnEndpointAdded != nil {
		c.opts.OnEndpointAdded(ep)
	}
}

// IsConnected reports whether the client currently holds a live broker
// connection.
func (c *Client) IsConnected() bool {
	c.connectedMu.Lock()
	defer c.connectedMu.Unlock()
	return c.connected
}

// connectLoop rotates through endpoints, attempting a connection with
// exponential backoff between failures, until Close is called.
func (c *Client) connectLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		ep := c.nextEndpoint()
		opts := mqtt.NewClientOptions().
			AddBroker(ep.URI).
			SetClientID(ep.ClientID).
			SetKeepAlive(c.opts.KeepAlive).
			SetConnectTimeout(c.opts.ConnectTimeout).
			SetAutoReconnect(false).
			SetCleanSession(false).
			SetOnConnectHandler(c.onConnect).
			SetConnectionLostHandler(c.onConnectionLost).
			SetDefaultPublishHandler(c.onMessage)
		if c.opts.Username != "" {
			opts.SetUsername(c.opts.Username)
		}
		if c.opts.Password != "" {
			opts.SetPassword(c.opts.Password)
		}
		if c.opts.WillTopic != "" {
			opts.SetWill(c.opts.WillTopic, string(c.opts.WillPayload), c.opts.WillQoS, true)
		}

		inner := mqtt.NewClient(opts)
		token := inner.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Warn().Err(err).Str("broker", ep.URI).Msg("mqtt connect failed")
			c.sleepBackoff()
			continue
		}

		c.mu.Lock()
		c.inner = inner
		c.backoff = minReconnectBackoff
		c.mu.Unlock()

		// Block here until the connection drops (waitDisconnected polls
		// the connection state), then loop to the next rotation.
		<-c.waitDisconnected(inner)
		if c.isClosed() {
			return
		}
	}
}

func (c *Client) waitDisconnected(inner mqtt.Client) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		for inner.IsConnectionOpen() && !c.isClosed() {
			time.Sleep(500 * time.Millisecond)
		}
		close(ch)
	}()
	return ch
}

func (c *Client) nextEndpoint() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep := c.endpoints[c.next%len(c.endpoints)]
	c.next++
	return ep
}

func (c *Client) sleepBackoff() {
	c.mu.Lock()
	d := c.backoff
	c.backoff *= 2
	if c.backoff > maxReconnectBackoff {
		c.backoff = maxReconnectBackoff
	}
	c.mu.Unlock()

	jitter := time.Duration(rand.Int63n(int64(d) / 4 + 1))
	time.Sleep(d + jitter)
}

func (c *Client) onConnect(inner mqtt.Client) {
	c.connectedMu.Lock()
	wasConnected := c.connected
	c.connected = true
	c.connectedMu.Unlock()

	c.resubscribeAll(inner)
	c.drainQueue(inner)

	if !wasConnected && c.opts.OnConnected != nil {
		c.opts.OnConnected()
	}
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(msg.Topic(), msg.Payload())
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connectedMu.Lock()
	c.connected = false
	c.connectedMu.Unlock()

	c.log.Warn().Err(err).Msg("mqtt connection lost")
	c.queue.dropQoS0()
}

func (c *Client) resubscribeAll(inner mqtt.Client) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for topic, entry := range c.subs {
		token := inner.Subscribe(topic, entry.qos, nil)
		token.Wait()
		if err := token.Error(); err != nil {
			c.log.Warn().Err(err).Str("topic", topic).Msg("resubscribe failed")
		}
	}
}

// drainQueue publishes every message still in the outbound queue,
// oldest first, after a (re)connect.
func (c *Client) drainQueue(inner mqtt.Client) {
	for {
		msg, ok := c.queue.dequeue()
		if !ok {
			return
		}
		c.publishNow(inner, msg)
	}
}

func (c *Client) publishNow(inner mqtt.Client, msg outboundMessage) {
	token := inner.Publish(msg.topic, msg.qos, false, msg.payload)
	go func() {
		token.Wait()
		if msg.ackCh != nil {
			msg.ackCh <- token.Error()
		}
	}()
}

// PublishAsync enqueues payload for delivery and returns immediately.
// If the queue rejects the message (its priority's admission threshold
// is exceeded), ErrQueueFull is returned without blocking.
func (c *Client) PublishAsync(topic string, payload []byte, qos byte, priority Priority) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	msg := outboundMessage{topic: topic, payload: payload, qos: qos, priority: priority}
	if err := c.queue.enqueue(msg); err != nil {
		return err
	}
	c.drainIfConnected()
	return nil
}

// PublishSync enqueues payload and blocks until the broker acknowledges
// delivery, the deadline passes, or the client is closed.
func (c *Client) PublishSync(topic string, payload []byte, qos byte, priority Priority, timeout time.Duration) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := ValidateTopic(topic); err != nil {
		return err
	}
	ackCh := make(chan error, 1)
	msg := outboundMessage{topic: topic, payload: payload, qos: qos, priority: priority, ackCh: ackCh}
	if err := c.queue.enqueue(msg); err != nil {
		return err
	}
	c.drainIfConnected()

	select {
	case err := <-ackCh:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("mqttclient: publish to %q timed out after %s", topic, timeout)
	case <-c.done:
		return ErrClosed
	}
}

// drainIfConnected publishes every queued message immediately if a
// connection is up, otherwise leaves them queued for drainQueue to
// pick up on the next connect.
func (c *Client) drainIfConnected() {
	c.mu.Lock()
	inner := c.inner
	c.mu.Unlock()
	if inner == nil || !c.IsConnected() {
		return
	}
	c.drainQueue(inner)
}

// Subscribe registers caller's interest in topic at qos, keyed by an
// opaque caller token the caller picks (and reuses for Unsubscribe).
// The asserted subscription QoS is the maximum requested by any
// currently-registered caller.
func (c *Client) Subscribe(topic string, qos byte, caller int64) error {
	if err := ValidateTopic(topic); err != nil {
		return err
	}

	c.subsMu.Lock()
	entry, exists := c.subs[topic]
	if !exists {
		entry = &subscriptionEntry{refCounts: make(map[int64]byte)}
		c.subs[topic] = entry
	}
	entry.refCounts[caller] = qos
	newQoS := maxQoS(entry.refCounts)
	needsAssert := !exists || newQoS != entry.qos
	entry.qos = newQoS
	c.subsMu.Unlock()

	if !needsAssert {
		return nil
	}
	return c.assertSubscription(topic, newQoS)
}

// Unsubscribe removes caller's interest in topic. The broker
// subscription is downgraded to the new max QoS among remaining
// callers, or torn down entirely if caller was the last one.
func (c *Client) Unsubscribe(topic string, caller int64) error {
	c.subsMu.Lock()
	entry, ok := c.subs[topic]
	if !ok {
		c.subsMu.Unlock()
		return nil
	}
	delete(entry.refCounts, caller)
	if len(entry.refCounts) == 0 {
		delete(c.subs, topic)
		c.subsMu.Unlock()
		return c.assertUnsubscription(topic)
	}
	newQoS := maxQoS(entry.refCounts)
	changed := newQoS != entry.qos
	entry.qos = newQoS
	c.subsMu.Unlock()

	if !changed {
		return nil
	}
	return c.assertSubscription(topic, newQoS)
}

func (c *Client) assertSubscription(topic string, qos byte) error {
	c.mu.Lock()
	inner := c.inner
	c.mu.Unlock()
	if inner == nil || !c.IsConnected() {
		return nil
	}
	token := inner.Subscribe(topic, qos, nil)
	token.Wait()
	return token.Error()
}

func (c *Client) assertUnsubscription(topic string) error {
	c.mu.Lock()
	inner := c.inner
	c.mu.Unlock()
	if inner == nil || !c.IsConnected() {
		return nil
	}
	token := inner.Unsubscribe(topic)
	token.Wait()
	return token.Error()
}

func maxQoS(refCounts map[int64]byte) byte {
	var max byte
	for _, qos := range refCounts {
		if qos > max {
			max = qos
		}
	}
	return max
}

// Close disconnects the client and stops its connection-management
// goroutine. It does not fail queued messages: they stay unsent, and a
// PublishSync still waiting on one returns ErrClosed. Close is for
// process shutdown.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.done)
	c.mu.Lock()
	inner := c.inner
	c.mu.Unlock()
	if inner != nil {
		inner.Disconnect(250)
	}
}

func (c *Client) isClosed() bool {
	return c.closed.Load()
}
