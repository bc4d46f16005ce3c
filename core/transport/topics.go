package transport

import (
	"fmt"
	"strings"
)

// TopicRoot is the first segment of every device topic.
const TopicRoot = "device"

// Message categories carried in the second topic segment.
const (
	CategoryHeartbeat = "heartbeat"
	CategorySensor    = "sensor"
	CategoryEvent     = "event"
	CategoryCommand   = "command"
	SubResult         = "result"
)

// InboundPatterns lists the subscriptions the backend needs.
var InboundPatterns = []string{
	TopicRoot + "/+/" + CategoryHeartbeat,
	TopicRoot + "/+/" + CategorySensor,
	TopicRoot + "/+/" + CategoryEvent,
	TopicRoot + "/+/" + CategoryCommand + "/" + SubResult,
}

// CommandTopic is where commands for serial are published.
func CommandTopic(serial string) string {
	return fmt.Sprintf("%s/%s/%s", TopicRoot, serial, CategoryCommand)
}

// Match reports whether topic matches an MQTT filter with + and # wildcards.
func Match(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
