package earpm

import "strings"

// anyTopicMatches reports whether topic matches any of patterns, using
// the same exact/"/*"-one-level/"/**"-any-level convention
// pkg/eventadmin uses for local handler topic interest - a remote
// handler's declared topics are matched the same way a local one's
// would be.
func anyTopicMatches(patterns []string, topic string) bool {
	for _, pattern := range patterns {
		if topicMatches(pattern, topic) {
			return true
		}
	}
	return false
}

func topicMatches(pattern, topic string) bool {
	if pattern == topic {
		return true
	}
	switch {
	case strings.HasSuffix(pattern, "/**"):
		prefix := strings.TrimSuffix(pattern, "/**")
		return topic == prefix || strings.HasPrefix(topic, prefix+"/")
	case strings.HasSuffix(pattern, "/*"):
		prefix := strings.TrimSuffix(pattern, "/*")
		if !strings.HasPrefix(topic, prefix+"/") {
			return false
		}
		rest := topic[len(prefix)+1:]
		return rest != "" && !strings.Contains(rest, "/")
	default:
		return false
	}
}
