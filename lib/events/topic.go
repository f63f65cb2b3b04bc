package events

import (
	"github.com/ValentinKolb/meshlink/mesh/common"
	"strings"
)

// Topic is a hierarchical, dot separated event name (e.g. "receive.text").
// A subscription to a topic also receives the events of all its sub-topics.
type Topic string

const (
	// TopicAll matches every event
	TopicAll Topic = ""

	TopicConnection            Topic = "connection"
	TopicConnectionEstablished Topic = "connection.established"
	TopicConnectionLost        Topic = "connection.lost"
	TopicConnectionClosed      Topic = "connection.closed"

	TopicReceive          Topic = "receive"
	TopicReceiveText      Topic = "receive.text"
	TopicReceivePosition  Topic = "receive.position"
	TopicReceiveUser      Topic = "receive.user"
	TopicReceiveTelemetry Topic = "receive.telemetry"
	TopicReceiveRouting   Topic = "receive.routing"
	TopicReceiveAdmin     Topic = "receive.admin"
	TopicReceiveData      Topic = "receive.data"
	TopicReceiveUnhandled Topic = "receive.unhandled"

	TopicNode        Topic = "node"
	TopicNodeUpdated Topic = "node.updated"
	TopicNodeRemoved Topic = "node.removed"
)

// TopicData returns the topic for raw packets of a port, e.g.
// "receive.data.RANGE_TEST_APP"
func TopicData(port common.PortNum) Topic {
	return TopicReceiveData + "." + Topic(port.String())
}

// Matches reports whether a subscription to t receives events published on
// topic. This is the case if both are equal, if t is TopicAll or if t is a
// parent of topic ("receive" matches "receive.text" but not "receiver").
func (t Topic) Matches(topic Topic) bool {
	if t == TopicAll || t == topic {
		return true
	}
	return strings.HasPrefix(string(topic), string(t)) && topic[len(t)] == '.'
}

// Parent returns the parent topic ("receive.data.X" -> "receive.data").
// The parent of a top level topic is TopicAll.
func (t Topic) Parent() Topic {
	if i := strings.LastIndexByte(string(t), '.'); i >= 0 {
		return t[:i]
	}
	return TopicAll
}

func (t Topic) String() string {
	if t == TopicAll {
		return "*"
	}
	return string(t)
}
