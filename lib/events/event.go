package events

import (
	"github.com/ValentinKolb/meshlink/lib/nodedb"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"time"
)

// Event is a typed payload published on exactly one topic
type Event interface {
	Topic() Topic
}

// --------------------------------------------------------------------------
// Connection Events
// --------------------------------------------------------------------------

// ConnectionEstablished is published once the config handshake completed
type ConnectionEstablished struct {
	Transport string
	Local     common.LocalNode
	Nodes     int
	At        time.Time
}

// ConnectionLost is published exactly once when a live connection dies
// without Close being called (silent device or transport failure)
type ConnectionLost struct {
	Transport string
	Err       error
	At        time.Time
}

// ConnectionClosed is published when Close ended the connection
type ConnectionClosed struct {
	Transport string
	At        time.Time
}

func (ConnectionEstablished) Topic() Topic { return TopicConnectionEstablished }
func (ConnectionLost) Topic() Topic        { return TopicConnectionLost }
func (ConnectionClosed) Topic() Topic      { return TopicConnectionClosed }

// --------------------------------------------------------------------------
// Receive Events
// --------------------------------------------------------------------------

// TextReceived carries a text message
type TextReceived struct {
	Packet *common.MeshPacket
	Text   string
}

// PositionReceived carries a position report
type PositionReceived struct {
	Packet   *common.MeshPacket
	Position *common.Position
}

// UserReceived carries the identity broadcast of a node
type UserReceived struct {
	Packet *common.MeshPacket
	User   *common.User
}

// TelemetryReceived carries device or environment metrics
type TelemetryReceived struct {
	Packet    *common.MeshPacket
	Telemetry *common.Telemetry
}

// RoutingReceived carries an ack or nak
type RoutingReceived struct {
	Packet  *common.MeshPacket
	Routing *common.Routing
}

// AdminReceived carries an admin message echoed by the device
type AdminReceived struct {
	Packet *common.MeshPacket
	Admin  *common.AdminMessage
}

// DataReceived carries a packet on a port without a dedicated event type.
// It is published on TopicData(port).
type DataReceived struct {
	Packet *common.MeshPacket
}

// UnhandledReceived carries a message with a top-level field the codec does
// not know. Message.Unhandled is always set.
type UnhandledReceived struct {
	Message *common.FromRadio
}

func (TextReceived) Topic() Topic      { return TopicReceiveText }
func (PositionReceived) Topic() Topic  { return TopicReceivePosition }
func (UserReceived) Topic() Topic      { return TopicReceiveUser }
func (TelemetryReceived) Topic() Topic { return TopicReceiveTelemetry }
func (RoutingReceived) Topic() Topic   { return TopicReceiveRouting }
func (AdminReceived) Topic() Topic     { return TopicReceiveAdmin }
func (UnhandledReceived) Topic() Topic { return TopicReceiveUnhandled }

func (e DataReceived) Topic() Topic {
	return TopicData(e.Packet.Port())
}

// --------------------------------------------------------------------------
// Node Events
// --------------------------------------------------------------------------

// NodeUpdated is published after a record of the node database changed
type NodeUpdated struct {
	Node nodedb.NodeRecord
}

// NodeRemoved is published after the device confirmed the removal of a node
type NodeRemoved struct {
	Num common.NodeNum
}

func (NodeUpdated) Topic() Topic { return TopicNodeUpdated }
func (NodeRemoved) Topic() Topic { return TopicNodeRemoved }
