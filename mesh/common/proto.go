package common

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// --------------------------------------------------------------------------
// Message Kinds
// --------------------------------------------------------------------------

// MessageKind classifies a decoded FromRadio message.
type MessageKind int

const (
	// KindUnhandled is a message with a top-level field this client does not know
	KindUnhandled MessageKind = iota
	// KindConfig covers everything the device sends during the handshake
	// (my-info, metadata, config, module config, channels, config complete)
	// plus rebooted and queue status notifications
	KindConfig
	// KindNodeInfo is a node database record
	KindNodeInfo
	// KindMeshPacket is a packet with a payload not covered by a more specific kind
	KindMeshPacket
	// KindAck is a routing packet (acknowledgement or NAK)
	KindAck
	// KindTelemetry is a packet on the telemetry port
	KindTelemetry
	// KindAdmin is a packet on the admin port
	KindAdmin
	// KindLog is a log record forwarded by the device
	KindLog
)

func (k MessageKind) String() string {
	switch k {
	case KindUnhandled:
		return "unhandled"
	case KindConfig:
		return "config"
	case KindNodeInfo:
		return "node-info"
	case KindMeshPacket:
		return "mesh-packet"
	case KindAck:
		return "ack"
	case KindTelemetry:
		return "telemetry"
	case KindAdmin:
		return "admin"
	case KindLog:
		return "log"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// FromRadioVariant is the wire field that was set in a FromRadio message.
// The values equal the protobuf field numbers.
type FromRadioVariant uint32

const (
	FromRadioNone             FromRadioVariant = 0
	FromRadioPacket           FromRadioVariant = 2
	FromRadioMyInfo           FromRadioVariant = 3
	FromRadioNodeInfo         FromRadioVariant = 4
	FromRadioConfig           FromRadioVariant = 5
	FromRadioLogRecord        FromRadioVariant = 6
	FromRadioConfigCompleteID FromRadioVariant = 7
	FromRadioRebooted         FromRadioVariant = 8
	FromRadioModuleConfig     FromRadioVariant = 9
	FromRadioChannel          FromRadioVariant = 10
	FromRadioQueueStatus      FromRadioVariant = 11
	FromRadioMetadata         FromRadioVariant = 13
)

// ToRadioVariant is the wire field that was set in a ToRadio message.
type ToRadioVariant uint32

const (
	ToRadioNone         ToRadioVariant = 0
	ToRadioPacket       ToRadioVariant = 1
	ToRadioWantConfigID ToRadioVariant = 3
	ToRadioDisconnect   ToRadioVariant = 4
	ToRadioHeartbeat    ToRadioVariant = 7
)

func (v ToRadioVariant) String() string {
	switch v {
	case ToRadioPacket:
		return "packet"
	case ToRadioWantConfigID:
		return "want-config"
	case ToRadioDisconnect:
		return "disconnect"
	case ToRadioHeartbeat:
		return "heartbeat"
	default:
		return fmt.Sprintf("variant(%d)", uint32(v))
	}
}

// --------------------------------------------------------------------------
// Envelope Messages
// --------------------------------------------------------------------------

// FromRadio is a decoded message sent by the device.
// Which fields are used depends on the Variant of the message.
type FromRadio struct {
	ID      uint32
	Variant FromRadioVariant

	Packet           *MeshPacket     // Used for: FromRadioPacket
	MyInfo           *MyNodeInfo     // Used for: FromRadioMyInfo
	NodeInfo         *NodeInfo       // Used for: FromRadioNodeInfo
	Config           *ConfigRecord   // Used for: FromRadioConfig, FromRadioModuleConfig
	LogRecord        *LogRecord      // Used for: FromRadioLogRecord
	ConfigCompleteID uint32          // Used for: FromRadioConfigCompleteID
	Rebooted         bool            // Used for: FromRadioRebooted
	Channel          *Channel        // Used for: FromRadioChannel
	QueueStatus      *QueueStatus    // Used for: FromRadioQueueStatus
	Metadata         *DeviceMetadata // Used for: FromRadioMetadata

	// Unhandled is set instead of Variant for top-level fields unknown to this client
	Unhandled *Unhandled
}

// Kind classifies the message. Packets are classified by their port.
func (m *FromRadio) Kind() MessageKind {
	if m.Unhandled != nil {
		return KindUnhandled
	}
	switch m.Variant {
	case FromRadioPacket:
		if m.Packet == nil || m.Packet.Decoded == nil {
			return KindMeshPacket
		}
		switch m.Packet.Decoded.PortNum {
		case PortRoutingApp:
			return KindAck
		case PortTelemetryApp:
			return KindTelemetry
		case PortAdminApp:
			return KindAdmin
		default:
			return KindMeshPacket
		}
	case FromRadioNodeInfo:
		return KindNodeInfo
	case FromRadioLogRecord:
		return KindLog
	case FromRadioNone:
		return KindUnhandled
	default:
		return KindConfig
	}
}

// ToRadio is a decoded message sent by the client.
// Which fields are used depends on the Variant of the message.
type ToRadio struct {
	Variant ToRadioVariant

	Packet       *MeshPacket // Used for: ToRadioPacket
	WantConfigID uint32      // Used for: ToRadioWantConfigID
	Disconnect   bool        // Used for: ToRadioDisconnect
	Heartbeat    bool        // Used for: ToRadioHeartbeat

	// Unhandled is set for top-level fields unknown to the decoder
	Unhandled *Unhandled
}

// Unhandled carries a top-level field the decoder did not recognise.
type Unhandled struct {
	Tag uint32 // protobuf field number
	Raw []byte // the complete encoded field including its tag
}

// --------------------------------------------------------------------------
// Mesh Packets
// --------------------------------------------------------------------------

// MeshPacket is a packet travelling through the mesh.
type MeshPacket struct {
	ID       uint32
	From     NodeNum
	To       NodeNum
	Channel  uint32
	HopLimit uint32
	HopStart uint32
	WantAck  bool
	Priority Priority

	// Exactly one of Decoded and Encrypted is set on a received packet
	Decoded   *Data
	Encrypted []byte

	// Receive metadata, filled in by the device
	RxTime uint32
	RxSNR  float32
	RxRSSI int32
}

// Port returns the port of the decoded payload, or PortUnknownApp.
func (p *MeshPacket) Port() PortNum {
	if p == nil || p.Decoded == nil {
		return PortUnknownApp
	}
	return p.Decoded.PortNum
}

// Hops returns how many hops the packet travelled, if known.
func (p *MeshPacket) Hops() (uint32, bool) {
	if p.HopStart == 0 || p.HopStart < p.HopLimit {
		return 0, false
	}
	return p.HopStart - p.HopLimit, true
}

// Data is the decoded application payload of a mesh packet.
type Data struct {
	PortNum      PortNum
	Payload      []byte
	WantResponse bool
	Dest         uint32
	Source       uint32
	RequestID    uint32
	ReplyID      uint32
}

// --------------------------------------------------------------------------
// Node Information
// --------------------------------------------------------------------------

// NodeInfo is one entry of the device's node database.
type NodeInfo struct {
	Num           NodeNum
	User          *User
	Position      *Position
	SNR           float32
	LastHeard     uint32 // unix seconds
	DeviceMetrics *DeviceMetrics
	Channel       uint32
	HopsAway      uint32
	HasHopsAway   bool // hops_away is optional, unset entries keep the known hop count
	IsFavorite    bool
}

// User is the identity a node announces.
type User struct {
	ID         string
	LongName   string
	ShortName  string
	MacAddr    []byte
	HwModel    uint32
	IsLicensed bool
	Role       uint32
}

// Position is a location report. Coordinates are in 1e-7 degrees.
type Position struct {
	LatitudeI  int32
	LongitudeI int32
	Altitude   int32
	Time       uint32 // unix seconds, 0 when the sender had no clock
}

// Latitude returns the latitude in degrees.
func (p *Position) Latitude() float64 { return float64(p.LatitudeI) * 1e-7 }

// Longitude returns the longitude in degrees.
func (p *Position) Longitude() float64 { return float64(p.LongitudeI) * 1e-7 }

// DeviceMetrics are the health readings of a node.
type DeviceMetrics struct {
	BatteryLevel       uint32
	Voltage            float32
	ChannelUtilization float32
	AirUtilTx          float32
	UptimeSeconds      uint32
}

// EnvironmentMetrics are sensor readings of a node.
type EnvironmentMetrics struct {
	Temperature        float32
	RelativeHumidity   float32
	BarometricPressure float32
}

// Telemetry is the payload of a packet on the telemetry port.
type Telemetry struct {
	Time               uint32
	DeviceMetrics      *DeviceMetrics
	EnvironmentMetrics *EnvironmentMetrics
}

// Routing is the payload of a packet on the routing port.
type Routing struct {
	ErrorReason RoutingError
}

// AdminMessage is the payload of a packet on the admin port.
// Only node removal is decoded, Raw always holds the full payload.
type AdminMessage struct {
	RemoveByNodenum NodeNum
	Raw             []byte
}

// --------------------------------------------------------------------------
// Handshake Records
// --------------------------------------------------------------------------

// MyNodeInfo identifies the locally attached node.
type MyNodeInfo struct {
	MyNodeNum     NodeNum
	RebootCount   uint32
	MinAppVersion uint32
}

// DeviceMetadata describes the firmware of the locally attached node.
type DeviceMetadata struct {
	FirmwareVersion    string
	DeviceStateVersion uint32
	HwModel            uint32
}

// ConfigRecord is one config or module config section as sent by the device.
// The section content is kept undecoded.
type ConfigRecord struct {
	Section uint32 // field number of the section inside Config / ModuleConfig
	Raw     []byte
}

// Channel is one channel slot of the device.
type Channel struct {
	Index uint32
	Name  string
	Role  uint32 // 0 disabled, 1 primary, 2 secondary
}

// QueueStatus reports the state of the device's transmit queue.
type QueueStatus struct {
	Res          int32
	Free         uint32
	MaxLen       uint32
	MeshPacketID uint32
}

// LogRecord is a log line forwarded by the device.
type LogRecord struct {
	Message string
	Time    uint32
	Source  string
	Level   uint32
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewTextPacket creates a text message packet to the given destination
func NewTextPacket(text string, to NodeNum, wantAck bool) (*MeshPacket, error) {
	if !utf8.ValidString(text) {
		return nil, fmt.Errorf("text is not valid utf-8")
	}
	return &MeshPacket{
		To:      to,
		WantAck: wantAck,
		Decoded: &Data{
			PortNum: PortTextMessageApp,
			Payload: []byte(text),
		},
	}, nil
}

// NewDataPacket creates a packet with an arbitrary payload on the given port
func NewDataPacket(payload []byte, port PortNum, to NodeNum, wantResponse bool) *MeshPacket {
	return &MeshPacket{
		To:      to,
		WantAck: wantResponse && to != BroadcastNum,
		Decoded: &Data{
			PortNum:      port,
			Payload:      payload,
			WantResponse: wantResponse,
		},
	}
}

// NewPacketToRadio wraps a packet into a ToRadio message
func NewPacketToRadio(p *MeshPacket) *ToRadio {
	return &ToRadio{Variant: ToRadioPacket, Packet: p}
}

// NewWantConfig creates the handshake request carrying the given nonce
func NewWantConfig(nonce uint32) *ToRadio {
	return &ToRadio{Variant: ToRadioWantConfigID, WantConfigID: nonce}
}

// NewHeartbeat creates a keepalive probe
func NewHeartbeat() *ToRadio {
	return &ToRadio{Variant: ToRadioHeartbeat, Heartbeat: true}
}

// NewDisconnect creates the message that tells the device the client is leaving
func NewDisconnect() *ToRadio {
	return &ToRadio{Variant: ToRadioDisconnect, Disconnect: true}
}

// NewPacketFromRadio wraps a packet into a FromRadio message
func NewPacketFromRadio(p *MeshPacket) *FromRadio {
	return &FromRadio{Variant: FromRadioPacket, Packet: p}
}

// NewMyInfoFromRadio creates the my-info handshake record
func NewMyInfoFromRadio(info *MyNodeInfo) *FromRadio {
	return &FromRadio{Variant: FromRadioMyInfo, MyInfo: info}
}

// NewNodeInfoFromRadio creates a node database record
func NewNodeInfoFromRadio(info *NodeInfo) *FromRadio {
	return &FromRadio{Variant: FromRadioNodeInfo, NodeInfo: info}
}

// NewMetadataFromRadio creates the device metadata handshake record
func NewMetadataFromRadio(meta *DeviceMetadata) *FromRadio {
	return &FromRadio{Variant: FromRadioMetadata, Metadata: meta}
}

// NewChannelFromRadio creates a channel handshake record
func NewChannelFromRadio(ch *Channel) *FromRadio {
	return &FromRadio{Variant: FromRadioChannel, Channel: ch}
}

// NewConfigFromRadio creates a config (module=false) or module config record
func NewConfigFromRadio(rec *ConfigRecord, module bool) *FromRadio {
	v := FromRadioConfig
	if module {
		v = FromRadioModuleConfig
	}
	return &FromRadio{Variant: v, Config: rec}
}

// NewConfigComplete creates the terminal handshake message echoing the nonce
func NewConfigComplete(nonce uint32) *FromRadio {
	return &FromRadio{Variant: FromRadioConfigCompleteID, ConfigCompleteID: nonce}
}

// NewQueueStatusFromRadio creates a queue status notification
func NewQueueStatusFromRadio(qs *QueueStatus) *FromRadio {
	return &FromRadio{Variant: FromRadioQueueStatus, QueueStatus: qs}
}

// NewAckPacket creates the routing packet a device sends in response to a
// packet with want-ack set. The routing payload is encoded by the caller
// (see codec.EncodeRouting).
func NewAckPacket(from, to NodeNum, requestID uint32, routingPayload []byte) *MeshPacket {
	return &MeshPacket{
		From:     from,
		To:       to,
		Priority: PriorityAck,
		Decoded: &Data{
			PortNum:   PortRoutingApp,
			Payload:   routingPayload,
			RequestID: requestID,
		},
	}
}

// --------------------------------------------------------------------------
// Stringers
// --------------------------------------------------------------------------

func (p *MeshPacket) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("packet %08x %s -> %s", p.ID, p.From, p.To))
	if p.Decoded != nil {
		sb.WriteString(fmt.Sprintf(" port=%s len=%d", p.Decoded.PortNum, len(p.Decoded.Payload)))
		if p.Decoded.RequestID != 0 {
			sb.WriteString(fmt.Sprintf(" request=%08x", p.Decoded.RequestID))
		}
	} else {
		sb.WriteString(fmt.Sprintf(" encrypted len=%d", len(p.Encrypted)))
	}
	if p.WantAck {
		sb.WriteString(" want-ack")
	}
	return sb.String()
}
