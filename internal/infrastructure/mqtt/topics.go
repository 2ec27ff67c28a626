package mqtt

import "strings"

// DefaultTopicPrefix is the root of every FleetWatch topic.
const DefaultTopicPrefix = "fleetwatch"

// Telemetry channels published by endpoints.
const (
	ChannelLog   = "log"
	ChannelIP    = "ip"
	ChannelHello = "hello"
)

// Topics builds FleetWatch MQTT topics under a common prefix.
//
//	topics := mqtt.Topics{Prefix: "fleetwatch"}
//	topics.Telemetry("lt-0042", mqtt.ChannelLog)
//	// Returns: "fleetwatch/telemetry/lt-0042/log"
//
// The zero value uses DefaultTopicPrefix.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return t.Prefix
}

// SystemStatus returns the retained core status topic used for LWT.
//
// Example: fleetwatch/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// Telemetry returns the topic an endpoint publishes a channel on.
//
// Example: fleetwatch/telemetry/lt-0042/ip
func (t Topics) Telemetry(deviceID, channel string) string {
	return t.prefix() + "/telemetry/" + deviceID + "/" + channel
}

// AllTelemetry returns the wildcard subscription for every endpoint channel.
//
// Example: fleetwatch/telemetry/+/+
func (t Topics) AllTelemetry() string {
	return t.prefix() + "/telemetry/+/+"
}

// Event returns the topic registry events for a device are published on.
//
// Example: fleetwatch/events/lt-0042
func (t Topics) Event(deviceID string) string {
	return t.prefix() + "/events/" + deviceID
}

// AllEvents returns the wildcard subscription for every device event.
//
// Example: fleetwatch/events/+
func (t Topics) AllEvents() string {
	return t.prefix() + "/events/+"
}

// ParseTelemetry extracts the device id and channel from a telemetry topic.
// It reports false for topics outside the telemetry tree or with empty parts.
func (t Topics) ParseTelemetry(topic string) (deviceID, channel string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.prefix()+"/telemetry/")
	if !found {
		return "", "", false
	}

	deviceID, channel, found = strings.Cut(rest, "/")
	if !found || deviceID == "" || channel == "" || strings.Contains(channel, "/") {
		return "", "", false
	}
	return deviceID, channel, true
}
