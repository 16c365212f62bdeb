package broker

import "strings"

// Fixed relay topics.
const (
	DiscoverRequestTopic = "discover-request"
	BroadcastTopic       = "broadcast"

	// DiscoverResponseFilter matches every discovery response.
	DiscoverResponseFilter = "discover-response/+"
)

// DiscoverResponseTopic returns the topic a peer answers discovery on.
func DiscoverResponseTopic(peerID string) string {
	return "discover-response/" + peerID
}

// LinkTopic returns the link/unlink request topic for a device.
func LinkTopic(deviceID string) string {
	return "device/" + deviceID + "/link"
}

// StatusTopic returns the status topic a device reports on.
func StatusTopic(deviceID string) string {
	return "device/" + deviceID + "/status"
}

// NotificationTopic returns the topic notifications are forwarded to.
func NotificationTopic(deviceID string) string {
	return "device/" + deviceID + "/notification"
}

// DeviceFromTopic extracts {id} from a "device/{id}/..." topic.
func DeviceFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != "device" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// PeerFromResponseTopic extracts {peerId} from a discovery response topic.
func PeerFromResponseTopic(topic string) (string, bool) {
	id, ok := strings.CutPrefix(topic, "discover-response/")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

// Match reports whether topic matches filter using MQTT wildcard rules.
// "+" matches exactly one level; "#" matches the remaining levels (including
// none) and is only valid as the final level.
func Match(filter, topic string) bool {
	if filter == topic {
		return true
	}

	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")

	for i, f := range fl {
		if f == "#" {
			return i == len(fl)-1
		}
		if i >= len(tl) {
			return false
		}
		if f != "+" && f != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}
