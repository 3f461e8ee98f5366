package mqtt

import "strings"

// DefaultTopicPrefix roots every topic when the configuration leaves the
// prefix empty.
const DefaultTopicPrefix = "owfs"

// Topics builds owfs-core topic names under a prefix.
//
//	t := mqtt.Topics{Prefix: "owfs"}
//	t.DeviceState("28.0000063B3E31", "temperature")
//	// owfs/state/28.0000063B3E31/temperature
type Topics struct {
	Prefix string
}

func (t Topics) root() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Status is the retained online/offline topic, also used for the LWT.
//
// Example: owfs/system/status
func (t Topics) Status() string {
	return t.root() + "/system/status"
}

// Event is where a bus event of the given kind is published. Subject is a
// device ID or a server address.
//
// Example: owfs/event/device_added/10.67C6697351FF
func (t Topics) Event(kind, subject string) string {
	return t.root() + "/event/" + kind + "/" + clean(subject)
}

// DeviceState is the retained topic holding the last value of one device
// attribute. Attribute names may contain "/" and keep it.
//
// Example: owfs/state/26.000000ABCDEF/B1-R1-A/gain
func (t Topics) DeviceState(deviceID, attribute string) string {
	return t.root() + "/state/" + clean(deviceID) + "/" + attribute
}

// ServerState is the retained online/offline topic of one bus server.
//
// Example: owfs/server/bus1:4304
func (t Topics) ServerState(addr string) string {
	return t.root() + "/server/" + clean(addr)
}

// Command is the topic a command of the given name is received on.
//
// Example: owfs/command/scan
func (t Topics) Command(name string) string {
	return t.root() + "/command/" + name
}

// AllEvents matches every event topic.
func (t Topics) AllEvents() string {
	return t.root() + "/event/#"
}

// AllDeviceStates matches every device state topic.
func (t Topics) AllDeviceStates() string {
	return t.root() + "/state/#"
}

// clean replaces characters that would split or wildcard a topic level.
func clean(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
