package earpm

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/celixd/pkg/deliverer"
	"github.com/cuemby/celixd/pkg/metrics"
	"github.com/cuemby/celixd/pkg/mqttclient"
	"github.com/cuemby/celixd/pkg/props"
	"github.com/rs/zerolog"
)

// Provider is the event-admin remote-provider-mqtt service: it is the
// local event-admin's only conduit to peer frameworks. The local
// event-admin calls PostEvent/SendEvent for events flagged remote;
// Provider's own inbound MQTT callback (HandleMessage) delivers user
// events arriving from peers back into the local deliverer.
type Provider struct {
	log zerolog.Logger

	uuid           string
	defaultQoS     byte
	noAckThreshold int

	mqtt      *mqttclient.Client
	deliverer *deliverer.Deliverer

	local *localHandlerTable

	remotesMu sync.RWMutex
	remotes   map[string]*remoteFramework

	ackSeq atomic.Uint64
}

// Option configures New.
type Option func(*Provider)

// WithDefaultQoS sets the QoS used for outbound publishes when an
// event carries no event.remote.qos property. Default 0.
func WithDefaultQoS(qos byte) Option {
	return func(p *Provider) { p.defaultQoS = qos }
}

// WithNoAckThreshold sets the consecutive-timeout count recorded
// against a remote framework before it is reported unreachable.
// Default DefaultNoAckThreshold.
func WithNoAckThreshold(n int) Option {
	return func(p *Provider) { p.noAckThreshold = n }
}

// New constructs a Provider. Callers must route every message client
// delivers into the returned Provider's HandleMessage - pass
// Provider.HandleMessage as mqttclient.Options.OnMessage and
// Provider.OnConnected as mqttclient.Options.OnConnected before
// connecting client.
func New(uuid string, client *mqttclient.Client, dlv *deliverer.Deliverer, log zerolog.Logger, opts ...Option) *Provider {
	p := &Provider{
		log:            log.With().Str("component", "earpm").Logger(),
		uuid:           uuid,
		noAckThreshold: DefaultNoAckThreshold,
		mqtt:           client,
		deliverer:      dlv,
		local:          newLocalHandlerTable(),
		remotes:        make(map[string]*remoteFramework),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OnConnected re-announces this framework's handlers on every
// transition to connected: a HandlerInfo/query to re-learn peers and a
// HandlerInfo/update with our full handler set so peers re-learn us.
func (p *Provider) OnConnected() {
	p.publish(TopicPrefix+topicHandlerInfoQuery, nil, 0)
	p.publishHandlerInfoUpdate()
}

// HandleMessage is the single MQTT receive callback spec.md §4.11
// describes: it inspects topic and dispatches to control-topic
// handling or to the inbound user-event path. Every inbound message
// resets its sender's consecutive-timeout count, treating receipt as a
// liveness signal.
func (p *Provider) HandleMessage(topic string, payload []byte) {
	if !strings.HasPrefix(topic, TopicPrefix) {
		return
	}
	rest := strings.TrimPrefix(topic, TopicPrefix)

	env, err := decodeEnvelope(payload)
	if err != nil {
		p.log.Warn().Err(err).Str("topic", topic).Msg("malformed earpm envelope")
		return
	}
	if env.version != "" && !versionAccepted(env.version) {
		p.log.Warn().Str("version", env.version).Str("topic", topic).Msg("rejecting message with incompatible protocol version")
		return
	}
	if env.senderUUID != "" {
		if rf := p.getRemote(env.senderUUID); rf != nil {
			rf.resetTimeouts()
		}
	}

	switch {
	case rest == topicSessionEnd:
		p.handleSessionEnd(env.senderUUID)
	case rest == topicHandlerInfoAdd:
		p.handleHandlerInfoAdd(env.senderUUID, env.body)
	case rest == topicHandlerInfoRemove:
		p.handleHandlerInfoRemove(env.senderUUID, env.body)
	case rest == topicHandlerInfoUpdate:
		p.handleHandlerInfoUpdate(env.senderUUID, env.body)
	case rest == topicHandlerInfoQuery:
		p.publishHandlerInfoUpdate()
	case strings.HasPrefix(rest, ackTopicPrefix):
		p.handleAck(rest, env)
	default:
		p.handleUserEvent(topic, env)
	}
}

func (p *Provider) getRemote(uuid string) *remoteFramework {
	p.remotesMu.RLock()
	rf := p.remotes[uuid]
	p.remotesMu.RUnlock()
	return rf
}

func (p *Provider) getOrCreateRemote(uuid string) *remoteFramework {
	p.remotesMu.Lock()
	defer p.remotesMu.Unlock()
	rf, ok := p.remotes[uuid]
	if !ok {
		rf = newRemoteFramework(uuid)
		p.remotes[uuid] = rf
		metrics.EarpmRemoteFrameworksTotal.Set(float64(len(p.remotes)))
	}
	return rf
}

func (p *Provider) removeRemote(uuid string) {
	p.remotesMu.Lock()
	delete(p.remotes, uuid)
	metrics.EarpmRemoteFrameworksTotal.Set(float64(len(p.remotes)))
	p.remotesMu.Unlock()
}

func (p *Provider) handleSessionEnd(senderUUID string) {
	if senderUUID == "" {
		return
	}
	if rf := p.getRemote(senderUUID); rf != nil {
		rf.resolveAllPending()
	}
	p.removeRemote(senderUUID)
	p.log.Debug().Str("sender", senderUUID).Msg("remote framework session ended")
}

func (p *Provider) handleHandlerInfoAdd(senderUUID string, body []byte) {
	if senderUUID == "" {
		return
	}
	h, err := decodeHandlerInfoAdd(body)
	if err != nil {
		p.log.Warn().Err(err).Msg("malformed HandlerInfo/add")
		return
	}
	p.getOrCreateRemote(senderUUID).addHandler(h)
}

func (p *Provider) handleHandlerInfoRemove(senderUUID string, body []byte) {
	if senderUUID == "" {
		return
	}
	handlerID, err := decodeHandlerInfoRemove(body)
	if err != nil {
		p.log.Warn().Err(err).Msg("malformed HandlerInfo/remove")
		return
	}
	rf := p.getRemote(senderUUID)
	if rf == nil {
		return
	}
	if rf.removeHandler(handlerID) {
		p.removeRemote(senderUUID)
	}
}

func (p *Provider) handleHandlerInfoUpdate(senderUUID string, body []byte) {
	if senderUUID == "" {
		return
	}
	handlers, err := decodeHandlerInfoUpdate(body)
	if err != nil {
		p.log.Warn().Err(err).Msg("malformed HandlerInfo/update")
		return
	}
	if len(handlers) == 0 {
		p.removeRemote(senderUUID)
		return
	}
	p.getOrCreateRemote(senderUUID).replaceHandlers(handlers)
}

func (p *Provider) handleAck(rest string, env envelope) {
	requesterUUID := strings.TrimPrefix(rest, ackTopicPrefix)
	if requesterUUID != p.uuid || env.senderUUID == "" || !env.hasAckSeq {
		return
	}
	if rf := p.getRemote(env.senderUUID); rf != nil {
		rf.ackSeq(env.ackSeq)
	}
}

// handleUserEvent is the catch-all inbound path: any topic that isn't
// a control topic is a remote user event. If the sender attached a
// response-topic, it is delivered synchronously through the deliverer
// and acked; otherwise it is posted asynchronously.
func (p *Provider) handleUserEvent(topic string, env envelope) {
	if p.deliverer == nil {
		return
	}
	pr, err := props.Load(string(env.body))
	if err != nil {
		p.log.Warn().Err(err).Str("topic", topic).Msg("malformed remote event payload")
		return
	}
	if env.responseTopic == "" {
		p.deliverer.PostEvent(topic, pr)
		return
	}
	senderUUID, ackSeq := env.senderUUID, env.ackSeq
	p.deliverer.SendEvent(topic, pr, func(error) {
		p.publishAck(env.responseTopic, senderUUID, ackSeq)
	})
}

func (p *Provider) publishAck(responseTopic, requesterUUID string, ackSeq uint64) {
	payload := encodeEnvelope(p.uuid, "", ackSeq, true, nil)
	if err := p.mqtt.PublishAsync(responseTopic, payload, 0, mqttclient.PriorityHigh); err != nil {
		p.log.Warn().Err(err).Str("response_topic", responseTopic).Str("requester", requesterUUID).Msg("failed to publish ack")
	}
}

// PostEvent is the fire-and-forget half of the outbound path: resolve
// interest, serialize, and publish at low priority. No error is
// returned for "nobody was interested" - that is success per spec.md
// §4.11 step 2.
func (p *Provider) PostEvent(topic string, pr *props.Properties) error {
	if !p.anyRemoteInterested(topic, pr) {
		return nil
	}
	return p.publish(topic, pr, p.resolveQoS(pr))
}

func (p *Provider) publish(topic string, pr *props.Properties, qos byte) error {
	var body []byte
	if pr != nil {
		body = []byte(pr.Save())
	}
	payload := encodeEnvelope(p.uuid, "", 0, false, body)
	return p.mqtt.PublishAsync(topic, payload, qos, mqttclient.PriorityLow)
}

// SendEvent is the synchronous half: publish with a response-topic and
// correlation data (ack-seq), then wait for every interested remote
// framework to ack or time out.
func (p *Provider) SendEvent(topic string, pr *props.Properties) error {
	interested := p.interestedRemotes(topic, pr)
	if len(interested) == 0 {
		return nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.EarpmSyncEventLatency)

	seq := p.ackSeq.Add(1)
	waits := make(map[*remoteFramework]chan struct{}, len(interested))
	for _, rf := range interested {
		waits[rf] = rf.addPendingAck(seq)
	}

	ackTopic := TopicPrefix + ackTopicPrefix + p.uuid
	var body []byte
	if pr != nil {
		body = []byte(pr.Save())
	}
	payload := encodeEnvelope(p.uuid, ackTopic, seq, true, body)
	if err := p.mqtt.PublishAsync(topic, payload, p.resolveQoS(pr), mqttclient.PriorityLow); err != nil {
		for rf := range waits {
			rf.clearPendingAck(seq)
		}
		return err
	}

	// Wait for every remote to ack concurrently against one shared
	// deadline. A per-remote select on the same time.Timer would only
	// ever fire once (Timer.C delivers a single value), starving any
	// remote later in map-iteration order and letting the caller block
	// past the expiry interval spec.md §8 promises.
	stop := make(chan struct{})
	acked := make(chan *remoteFramework, len(waits))
	for rf, done := range waits {
		rf, done := rf, done
		go func() {
			select {
			case <-done:
				acked <- rf
			case <-stop:
			}
		}()
	}

	pending := make(map[*remoteFramework]struct{}, len(waits))
	for rf := range waits {
		pending[rf] = struct{}{}
	}

	deadline := time.NewTimer(expiryFromProps(pr))
	defer deadline.Stop()
	for len(pending) > 0 {
		select {
		case rf := <-acked:
			delete(pending, rf)
		case <-deadline.C:
			close(stop)
			metrics.EarpmSyncEventTimeoutsTotal.Add(float64(len(pending)))
			for rf := range pending {
				rf.clearPendingAck(seq)
				if n := rf.recordTimeout(); n >= p.noAckThreshold {
					p.log.Warn().Str("remote", rf.uuid).Int("consecutive_timeouts", n).Msg("remote framework not acking sync events")
				}
			}
			return nil
		}
	}
	close(stop)
	return nil
}

func (p *Provider) resolveQoS(pr *props.Properties) byte {
	if pr == nil {
		return p.defaultQoS
	}
	return byte(pr.GetLong(PropertyRemoteQoS, int64(p.defaultQoS)))
}

func expiryFromProps(pr *props.Properties) time.Duration {
	if pr == nil {
		return DefaultSendEventExpiry
	}
	seconds := pr.GetLong(PropertyRemoteExpiryInterval, int64(DefaultSendEventExpiry/time.Second))
	if seconds <= 0 {
		return DefaultSendEventExpiry
	}
	return time.Duration(seconds) * time.Second
}

func (p *Provider) anyRemoteInterested(topic string, pr *props.Properties) bool {
	p.remotesMu.RLock()
	defer p.remotesMu.RUnlock()
	for _, rf := range p.remotes {
		if rf.matches(topic, pr) {
			return true
		}
	}
	return false
}

func (p *Provider) interestedRemotes(topic string, pr *props.Properties) []*remoteFramework {
	p.remotesMu.RLock()
	defer p.remotesMu.RUnlock()
	var out []*remoteFramework
	for _, rf := range p.remotes {
		if rf.matches(topic, pr) {
			out = append(out, rf)
		}
	}
	return out
}
