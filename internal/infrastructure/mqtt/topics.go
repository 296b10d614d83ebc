package mqtt

import (
	"strconv"
	"strings"
)

// Fixed topic roots owned by the daemon itself.
const (
	// TopicPrefixSystem carries the daemon's own online/offline status.
	TopicPrefixSystem = "patchbay/system"

	// TopicPrefixGraph carries graph notifications published by the daemon.
	TopicPrefixGraph = "patchbay/graph"
)

// DefaultRelayPrefix is where the JACK relay publishes unless configured otherwise.
const DefaultRelayPrefix = "patchbay/jack"

// Topics builds topic names for the relay contract:
//
//	{prefix}/port/{handle}        retained port record, empty payload = retired
//	{prefix}/event/port           {"handle":7,"registered":true}
//	{prefix}/event/connect        {"a":7,"b":9,"connected":true}
//	{prefix}/status               retained {"status":"online"}
//	{prefix}/command/connect      {"source":"a:out","destination":"b:in"}
//	{prefix}/command/disconnect   same shape
type Topics struct {
	prefix string
}

// NewTopics returns builders rooted at prefix. A trailing slash is ignored and
// an empty prefix selects DefaultRelayPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimSuffix(prefix, "/")
	if prefix == "" {
		prefix = DefaultRelayPrefix
	}
	return Topics{prefix: prefix}
}

// Prefix returns the relay prefix.
func (t Topics) Prefix() string {
	return t.prefix
}

// Port returns the retained record topic for one port handle.
func (t Topics) Port(handle uint32) string {
	return t.prefix + "/port/" + strconv.FormatUint(uint64(handle), 10)
}

// AllPorts matches every port record.
func (t Topics) AllPorts() string {
	return t.prefix + "/port/+"
}

// PortEvent is the topic for registration events.
func (t Topics) PortEvent() string {
	return t.prefix + "/event/port"
}

// ConnectEvent is the topic for connection events.
func (t Topics) ConnectEvent() string {
	return t.prefix + "/event/connect"
}

// RelayStatus is the relay's retained availability topic.
func (t Topics) RelayStatus() string {
	return t.prefix + "/status"
}

// ConnectCommand is where connect requests are sent to the relay.
func (t Topics) ConnectCommand() string {
	return t.prefix + "/command/connect"
}

// DisconnectCommand is where disconnect requests are sent to the relay.
func (t Topics) DisconnectCommand() string {
	return t.prefix + "/command/disconnect"
}

// ParsePortHandle extracts the handle from a Port topic.
func (t Topics) ParsePortHandle(topic string) (uint32, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/port/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

// GraphEvent returns the topic for one kind of graph notification,
// e.g. "patchbay/graph/port_created".
func (Topics) GraphEvent(eventType string) string {
	return TopicPrefixGraph + "/" + eventType
}

// AllGraphEvents matches every graph notification.
func (Topics) AllGraphEvents() string {
	return TopicPrefixGraph + "/#"
}

// SystemStatus returns the daemon's status topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
