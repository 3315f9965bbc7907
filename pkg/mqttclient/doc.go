// Package mqttclient wraps github.com/eclipse/paho.mqtt.golang with the
// behavior pkg/earpm needs and the teacher's MQTT-using packages don't
// have to provide themselves: broker endpoint rotation with exponential
// backoff, a bounded priority outbound queue with admission thresholds,
// synchronous and asynchronous publish, reconnection semantics that
// distinguish QoS 0 from QoS 1/2, a caller-reference-counted
// subscription table, and a session-end will message.
//
// Response-topic and correlation-data, which MQTT v5 carries as wire
// properties, are instead carried in pkg/earpm's own JSON envelope
// (wireEnvelope, serialized into the payload by pkg/earpm) rather
// than as native v5 packet properties - paho.mqtt.golang's published
// API surface is the v3.1.1 client contract, so a v5 property would
// have no library-level representation to set.
package mqttclient
