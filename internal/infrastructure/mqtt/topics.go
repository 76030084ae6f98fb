package mqtt

import (
	"fmt"
	"strings"
)

// Topic scheme: tuyalink/{category}/{device_id}. Commands flow in,
// retained state flows out, dispatch events fan out to observers.
const (
	// TopicPrefix is the base for all tuyalink topics.
	TopicPrefix = "tuyalink"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "tuyalink/system"
)

// Topics provides builders for tuyalink MQTT topics. Using these helpers
// keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.DeviceState("bf1234")  // "tuyalink/state/bf1234"
type Topics struct{}

// DeviceCommand returns the command intake topic for one device.
//
// Example: tuyalink/command/bf1234
func (Topics) DeviceCommand(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// AllDeviceCommands returns the wildcard matching every command topic.
func (Topics) AllDeviceCommands() string {
	return TopicPrefix + "/command/+"
}

// DeviceState returns the retained state topic for one device. New
// subscribers immediately receive the last published state.
//
// Example: tuyalink/state/bf1234
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// AllDeviceStates returns the wildcard matching every state topic.
func (Topics) AllDeviceStates() string {
	return TopicPrefix + "/state/+"
}

// DispatchEvent returns the topic carrying every command outcome.
//
// Example: tuyalink/event/dispatch
func (Topics) DispatchEvent() string {
	return TopicPrefix + "/event/dispatch"
}

// DiscoveryEvent returns the topic carrying discovery pass summaries.
//
// Example: tuyalink/event/discovery
func (Topics) DiscoveryEvent() string {
	return TopicPrefix + "/event/discovery"
}

// SystemStatus returns the engine online/offline status topic. The
// message here is retained and doubles as the Last Will target.
//
// Example: tuyalink/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// DeviceIDFromTopic extracts the device id from a per-device topic such
// as tuyalink/command/bf1234. Returns "" if the topic has a different
// shape.
func DeviceIDFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefix {
		return ""
	}
	return parts[2]
}
