package earpm

import "time"

// Wire constants, grounded on celix_earpm_constants.h: the MQTT topic
// namespace, protocol version, and default resource bounds every
// provider instance starts from.
const (
	// TopicPrefix namespaces every topic this provider publishes or
	// subscribes to.
	TopicPrefix = "celix/EventAdminMqtt/"

	// ProtocolVersion is the version string stamped into the Version
	// field of every outbound message's envelope (wireEnvelope).
	ProtocolVersion = "1.0.0"

	// DefaultQueueCapacity and MaxQueueCapacity bound the MQTT client's
	// outbound queue behind this provider.
	DefaultQueueCapacity = 256
	MaxQueueCapacity     = 2048

	// DefaultSyncDeliveryThreads sizes the deliverer backing inbound
	// synchronous user events.
	DefaultSyncDeliveryThreads = 5

	// DefaultNoAckThreshold is the number of consecutive send_event
	// timeouts tolerated from a remote framework before it is
	// considered unreachable for reporting purposes.
	DefaultNoAckThreshold = 10

	// DefaultSendEventExpiry is used when an event passed to SendEvent does not carry
	// an explicit event.remote.expiry-interval property.
	DefaultSendEventExpiry = 5 * time.Minute
)

// Control subtopics, relative to TopicPrefix.
const (
	topicHandlerInfoAdd    = "HandlerInfo/add"
	topicHandlerInfoRemove = "HandlerInfo/remove"
	topicHandlerInfoUpdate = "HandlerInfo/update"
	topicHandlerInfoQuery  = "HandlerInfo/query"
	topicSessionEnd        = "session/end"
	ackTopicPrefix         = "SyncEvent/ack/"
)

// Well-known event properties read from a posted/sent event.
const (
	PropertyRemoteQoS           = "event.remote.qos"
	PropertyRemoteExpiryInterval = "event.remote.expiry-interval"
)
