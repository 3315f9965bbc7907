// Package earpmbundle is the framework's built-in bundle for the
// event-admin remote-provider-mqtt service: it wires pkg/mqttclient,
// pkg/deliverer, pkg/eventadmin and pkg/earpm together the way an
// installed bundle's activator would, and tracks locally-registered
// event-handler services so they are mirrored to MQTT peers without
// any manual AddLocalHandler/RemoveLocalHandler calls from the handler
// bundle itself.
package earpmbundle

import (
	"github.com/cuemby/celixd/pkg/bundle"
	"github.com/cuemby/celixd/pkg/bundlectx"
	"github.com/cuemby/celixd/pkg/config"
	"github.com/cuemby/celixd/pkg/deliverer"
	"github.com/cuemby/celixd/pkg/earpm"
	"github.com/cuemby/celixd/pkg/eventadmin"
	"github.com/cuemby/celixd/pkg/filter"
	"github.com/cuemby/celixd/pkg/mqttclient"
	"github.com/cuemby/celixd/pkg/props"
	"github.com/cuemby/celixd/pkg/registry"
	"github.com/cuemby/celixd/pkg/tracker"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service names this bundle publishes and consumes.
const (
	ServiceEventAdmin     = "celix.event_admin"
	ServiceRemoteProvider = "celix.earpm.remote_provider"
	ServiceEventHandler   = "celix.event_handler"
)

// Service properties an event-handler registration is expected to
// carry: the topic patterns it wants delivered, an optional LDAP
// filter narrowing them further, and the QoS to subscribe at.
const (
	PropertyEventTopics = "event.topics"
	PropertyEventFilter = "event.filter"
	PropertyEventQoS    = "event.qos"
)

// New builds the ActivatorFactory framework.Manifest expects, closing
// over the broker endpoints and EARPM configuration resolved at
// process start.
func New(cfg config.EARPM, endpoints []mqttclient.Endpoint, log zerolog.Logger) bundle.ActivatorFactory {
	return func() bundle.Activator {
		return &activator{
			cfg:       cfg,
			endpoints: endpoints,
			log:       log.With().Str("component", "earpm_bundle").Logger(),
			handlers:  make(map[int64]struct{}),
		}
	}
}

type activator struct {
	cfg       config.EARPM
	endpoints []mqttclient.Endpoint
	log       zerolog.Logger

	admin    *eventadmin.LocalAdmin
	dlv      *deliverer.Deliverer
	mqtt     *mqttclient.Client
	provider *earpm.Provider

	// handlers is the set of tracked event-handler service ids currently
	// registered with provider (a service's id doubles as its
	// HandlerInfo.HandlerID), so Removed only unregisters what Added
	// actually added.
	handlers map[int64]struct{}

	// trackerID is the event-handler tracker opened by Start.
	trackerID int64
}

// Create wires the MQTT client, deliverer, event-admin and provider,
// and registers the event-admin and remote-provider services. The MQTT
// client's OnMessage/OnConnected hooks close over the not-yet-built
// provider, per earpm.New's documented construction order: the client
// must exist before the provider, but the provider is the only thing
// that knows how to handle what the client delivers.
func (a *activator) Create(ctx *bundlectx.Context) (any, error) {
	a.admin = eventadmin.New(a.log)
	a.dlv = deliverer.New(a.cfg.SyncEventDeliveryThreads, a.admin, a.log)

	id := uuid.NewString()
	var provider *earpm.Provider
	client, err := mqttclient.New(mqttclient.Options{
		Endpoints:     a.endpoints,
		QueueCapacity: a.cfg.MsgQueueCapacity,
		OnMessage:     func(topic string, payload []byte) { provider.HandleMessage(topic, payload) },
		OnConnected:   func() { provider.OnConnected() },
		Log:           a.log,
	})
	if err != nil {
		return nil, err
	}
	a.mqtt = client

	provider = earpm.New(id, client, a.dlv, a.log,
		earpm.WithDefaultQoS(byte(a.cfg.EventDefaultQoS)),
		earpm.WithNoAckThreshold(a.cfg.SyncEventNoAckThreshold))
	a.provider = provider

	if _, err := ctx.RegisterService(ServiceEventAdmin, eventadmin.EventAdmin(a.admin), props.New()); err != nil {
		return nil, err
	}
	if _, err := ctx.RegisterService(ServiceRemoteProvider, a.provider, props.New()); err != nil {
		return nil, err
	}
	return nil, nil
}

// Start begins tracking event-handler services: every one present or
// later registered is mirrored to the remote provider as a local
// handler, and the MQTT client's own connect loop (already running
// since Create) carries outbound traffic once a broker is reachable.
func (a *activator) Start(ctx *bundlectx.Context) error {
	f := filter.MustParse("(" + registry.PropertyName + "=" + ServiceEventHandler + ")")
	a.trackerID = ctx.TrackServices(f, tracker.Options{
		Added:   a.onHandlerAdded,
		Removed: a.onHandlerRemoved,
	})
	return nil
}

func (a *activator) onHandlerAdded(ref *registry.Reference, service any) {
	p := ref.Properties()
	topics, _ := p.Get(PropertyEventTopics)
	topicList, _ := topics.([]string)
	if len(topicList) == 0 {
		a.log.Warn().Int64("service_id", ref.ID()).Msg("event handler service registered without event.topics")
		return
	}
	qos := byte(p.GetLong(PropertyEventQoS, 0))
	if err := a.provider.AddLocalHandler(earpm.HandlerInfo{
		HandlerID: ref.ID(),
		Topics:    topicList,
		Filter:    p.GetString(PropertyEventFilter, ""),
	}, qos); err != nil {
		a.log.Warn().Err(err).Int64("service_id", ref.ID()).Msg("failed to register local event handler")
		return
	}
	a.handlers[ref.ID()] = struct{}{}
}

func (a *activator) onHandlerRemoved(ref *registry.Reference, service any) {
	if _, ok := a.handlers[ref.ID()]; !ok {
		return
	}
	delete(a.handlers, ref.ID())
	if err := a.provider.RemoveLocalHandler(ref.ID()); err != nil {
		a.log.Warn().Err(err).Int64("service_id", ref.ID()).Msg("failed to unregister local event handler")
	}
}

// Stop closes the tracker, which synthesizes a Removed callback for
// every still-tracked handler before this returns.
func (a *activator) Stop(ctx *bundlectx.Context) error {
	ctx.CloseTracker(a.trackerID)
	return nil
}

// Destroy closes the MQTT client and the deliverer, in that order:
// the client stops accepting new outbound work first, then the
// deliverer drains or reports whatever it still had queued.
func (a *activator) Destroy(ctx *bundlectx.Context) error {
	if a.mqtt != nil {
		a.mqtt.Close()
	}
	if a.dlv != nil {
		a.dlv.Close()
	}
	return nil
}
