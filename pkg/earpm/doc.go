// Package earpm implements the event-admin remote-provider-mqtt: the
// service-interface facade that bridges the local event-admin's
// post_event/send_event calls to peer frameworks over MQTT, and routes
// inbound remote events back to the local event-admin through
// pkg/deliverer.
//
// A Provider tracks two things: the local handler table (who on this
// framework wants which topics, mirrored to peers as HandlerInfo) and
// the remote framework table (which peers have told us about their
// handlers, and what acks we're still waiting on from them). The remote
// table is driven entirely off the single MQTT receive callback,
// Provider.HandleMessage, which dispatches by topic suffix; the local
// table changes through AddLocalHandler and RemoveLocalHandler.
package earpm
