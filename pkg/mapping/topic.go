package mapping

import "strings"

// MatchTopic reports whether an MQTT-style topic filter matches a concrete
// topic. "+" matches exactly one level, a trailing "#" matches any remainder
// (including none).
func MatchTopic(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, fl := range filterLevels {
		if fl == "#" {
			return i == len(filterLevels)-1
		}
		if i >= len(topicLevels) {
			return false
		}
		if fl != "+" && fl != topicLevels[i] {
			return false
		}
	}
	return len(filterLevels) == len(topicLevels)
}
