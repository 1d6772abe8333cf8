package mqttpacket

import "strings"

// Matches reports whether topic matches filter, where filter may contain the
// single-level wildcard "+" in place of exactly one path segment. The
// multi-level "#" wildcard is not part of the subset the web interface uses
// and is treated as a literal segment (never matches).
func Matches(filter, topic string) bool {
	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")

	if len(filterParts) != len(topicParts) {
		return false
	}

	for i, fp := range filterParts {
		if fp == "+" {
			continue
		}
		if fp != topicParts[i] {
			return false
		}
	}

	return true
}
