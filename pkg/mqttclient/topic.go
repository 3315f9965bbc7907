package mqttclient

import (
	"errors"
	"fmt"
	"strings"
)

// MaxTopicBytes is the longest topic this wrapper will publish or
// subscribe to.
const MaxTopicBytes = 1024

// ErrInvalidTopic is returned by ValidateTopic (and anything that calls
// it) for a topic that is empty, too long, or starts with a reserved
// character.
var ErrInvalidTopic = errors.New("mqttclient: invalid topic")

// ValidateTopic rejects an empty topic, one longer than MaxTopicBytes,
// or one starting with '$', '+', or '#' - the reserved leading
// characters MQTT brokers treat specially (shared subscriptions,
// single-level wildcard, multi-level wildcard).
func ValidateTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if len(topic) > MaxTopicBytes {
		return fmt.Errorf("%w: %d bytes exceeds max %d", ErrInvalidTopic, len(topic), MaxTopicBytes)
	}
	if strings.HasPrefix(topic, "$") || strings.HasPrefix(topic, "+") || strings.HasPrefix(topic, "#") {
		return fmt.Errorf("%w: reserved leading character in %q", ErrInvalidTopic, topic)
	}
	return nil
}
