package sim

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/meshlink/mesh/codec"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/ValentinKolb/meshlink/mesh/framing"
	"github.com/ValentinKolb/meshlink/mesh/transport"
	"github.com/ValentinKolb/meshlink/mesh/transport/pipe"
	"github.com/ValentinKolb/meshlink/mesh/transport/tcp"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("mesh/sim")

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

// Config describes the simulated device and the mesh around it
type Config struct {
	NodeNum         common.NodeNum
	LongName        string
	ShortName       string
	FirmwareVersion string
	HwModel         uint32

	// Channels reported in the handshake
	Channels []common.Channel
	// Nodes are the remote nodes the device knows about
	Nodes []common.NodeInfo

	MaxEnvelopeSize int

	// AckDelay delays acks and responses (0 answers immediately)
	AckDelay time.Duration

	// ConsoleNoise is written before the config dump, like the debug output
	// of a real device on its serial console
	ConsoleNoise []byte

	// Responder answers packets with want-response set. nil echoes the
	// payload back from the destination node. Returning nil sends nothing.
	Responder func(pkt *common.MeshPacket) *common.MeshPacket

	// Tap receives a copy of every byte read from a client
	Tap io.Writer
}

// DefaultConfig returns a device with two remote nodes
func DefaultConfig() Config {
	return Config{
		NodeNum:         0x0badcafe,
		LongName:        "Simulated Node",
		ShortName:       "SIM",
		FirmwareVersion: "2.5.6.d55c08d",
		HwModel:         43,
		Channels: []common.Channel{
			{Index: 0, Name: "LongFast", Role: 1},
		},
		Nodes: []common.NodeInfo{
			{
				Num:         0x11111111,
				User:        &common.User{ID: "!11111111", LongName: "Hilltop Relay", ShortName: "HTR", Role: 2},
				Position:    &common.Position{LatitudeI: 475_000_000, LongitudeI: 85_000_000, Altitude: 520, Time: 1_700_000_000},
				LastHeard:   1_700_000_000,
				HopsAway:    1,
				HasHopsAway: true,
			},
			{
				Num:         0x22222222,
				User:        &common.User{ID: "!22222222", LongName: "Base Camp", ShortName: "BC"},
				HopsAway:    0,
				HasHopsAway: true,
			},
		},
		MaxEnvelopeSize: common.DefaultMaxEnvelopeSize,
	}
}

// --------------------------------------------------------------------------
// Device
// --------------------------------------------------------------------------

// Device speaks the device side of the protocol. It serves any number of
// client connections and answers the handshake, heartbeats, acks, admin
// node removal and want-response packets.
type Device struct {
	config Config
	codec  codec.ICodec

	mu       sync.Mutex
	nodes    map[common.NodeNum]*common.NodeInfo
	sessions map[*session]struct{}
	received []*common.MeshPacket

	silent  atomic.Bool
	msgID   atomic.Uint32
	packets atomic.Uint32
}

// session is one client connection
type session struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// NewDevice creates a simulated device
func NewDevice(config Config) *Device {
	if config.MaxEnvelopeSize <= 0 {
		config.MaxEnvelopeSize = common.DefaultMaxEnvelopeSize
	}
	d := &Device{
		config:   config,
		codec:    codec.NewProtoCodec(nil),
		nodes:    make(map[common.NodeNum]*common.NodeInfo),
		sessions: make(map[*session]struct{}),
	}
	for i := range config.Nodes {
		n := config.Nodes[i]
		d.nodes[n.Num] = &n
	}
	d.packets.Store(0x1000)
	return d
}

// Num returns the node number of the device
func (d *Device) Num() common.NodeNum {
	return d.config.NodeNum
}

// Pipe connects a new in-memory client transport to the device
func (d *Device) Pipe() transport.ITransport {
	t, conn := pipe.New(fmt.Sprintf("sim-%s", d.config.NodeNum))
	go d.Serve(conn)
	return t
}

// ServeTCP accepts client connections on listener until it is closed
func (d *Device) ServeTCP(listener net.Listener) error {
	return tcp.Serve(listener, func(conn net.Conn) { d.Serve(conn) })
}

// SetSilent makes the device stop answering anything (heartbeats included)
// while keeping the connections open
func (d *Device) SetSilent(silent bool) {
	d.silent.Store(silent)
}

// Received returns the packets sent by clients so far
func (d *Device) Received() []*common.MeshPacket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*common.MeshPacket(nil), d.received...)
}

// Nodes returns the node database of the device ordered by node number
func (d *Device) Nodes() []common.NodeInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]common.NodeInfo, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, *n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num < out[j].Num })
	return out
}

// Sessions returns the number of connected clients
func (d *Device) Sessions() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// Inject sends a packet heard from the mesh to all connected clients and
// returns the number of clients that received it. Packets without an id get
// one assigned.
func (d *Device) Inject(pkt *common.MeshPacket) int {
	if pkt.ID == 0 {
		pkt.ID = d.packets.Add(1)
	}
	return d.Broadcast(common.NewPacketFromRadio(pkt))
}

// Broadcast sends msg to all connected clients
func (d *Device) Broadcast(msg *common.FromRadio) int {
	d.mu.Lock()
	sessions := make([]*session, 0, len(d.sessions))
	for s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	n := 0
	for _, s := range sessions {
		if err := d.send(s, msg); err == nil {
			n++
		}
	}
	return n
}

// Reboot tells all clients the device rebooted
func (d *Device) Reboot() int {
	return d.Broadcast(&common.FromRadio{Variant: common.FromRadioRebooted, Rebooted: true})
}

// --------------------------------------------------------------------------
// Connection Handling
// --------------------------------------------------------------------------

// Serve handles one client connection until the client disconnects
func (d *Device) Serve(conn net.Conn) {
	defer conn.Close()

	s := &session{conn: conn}
	d.mu.Lock()
	d.sessions[s] = struct{}{}
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.sessions, s)
		d.mu.Unlock()
	}()

	var r io.Reader = conn
	if d.config.Tap != nil {
		r = io.TeeReader(conn, d.config.Tap)
	}

	for env, err := range framing.Envelopes(r, d.config.MaxEnvelopeSize) {
		if err != nil {
			var fe *common.FramingError
			if errors.As(err, &fe) {
				Logger.Warningf("client sent garbage: %v", fe)
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				Logger.Infof("client disconnected")
			} else {
				Logger.Errorf("error reading from client: %v", err)
			}
			return
		}

		msg, err := d.codec.DecodeToRadio(env.Payload)
		if err != nil {
			Logger.Warningf("skipping undecodable message: %v", err)
			continue
		}
		if !d.handle(s, msg) {
			Logger.Infof("client said goodbye")
			return
		}
	}
}

// handle processes one client message, it returns false when the client
// disconnects
func (d *Device) handle(s *session, msg *common.ToRadio) bool {
	switch msg.Variant {
	case common.ToRadioWantConfigID:
		if err := d.sendConfig(s, msg.WantConfigID); err != nil {
			Logger.Errorf("failed to send config: %v", err)
		}
	case common.ToRadioHeartbeat:
		if !d.silent.Load() {
			_ = d.send(s, common.NewQueueStatusFromRadio(&common.QueueStatus{Free: 16, MaxLen: 16}))
		}
	case common.ToRadioDisconnect:
		return false
	case common.ToRadioPacket:
		d.handlePacket(s, msg.Packet)
	default:
		Logger.Debugf("ignoring client message variant %d", msg.Variant)
	}
	return true
}

// sendConfig answers want_config_id with the full device state
func (d *Device) sendConfig(s *session, nonce uint32) error {
	if len(d.config.ConsoleNoise) > 0 {
		s.writeMu.Lock()
		_, err := s.conn.Write(d.config.ConsoleNoise)
		s.writeMu.Unlock()
		if err != nil {
			return err
		}
	}

	msgs := []*common.FromRadio{
		common.NewMyInfoFromRadio(&common.MyNodeInfo{MyNodeNum: d.config.NodeNum, MinAppVersion: 30200}),
		common.NewMetadataFromRadio(&common.DeviceMetadata{
			FirmwareVersion:    d.config.FirmwareVersion,
			DeviceStateVersion: 23,
			HwModel:            d.config.HwModel,
		}),
	}
	for i := range d.config.Channels {
		msgs = append(msgs, common.NewChannelFromRadio(&d.config.Channels[i]))
	}
	// device (lora) and module (telemetry) config sections
	msgs = append(msgs,
		common.NewConfigFromRadio(&common.ConfigRecord{Section: 6, Raw: []byte{0x08, 0x01}}, false),
		common.NewConfigFromRadio(&common.ConfigRecord{Section: 6, Raw: []byte{0x08, 0x84, 0x07}}, true),
	)

	msgs = append(msgs, common.NewNodeInfoFromRadio(&common.NodeInfo{
		Num: d.config.NodeNum,
		User: &common.User{
			ID:        d.config.NodeNum.String(),
			LongName:  d.config.LongName,
			ShortName: d.config.ShortName,
			HwModel:   d.config.HwModel,
		},
		LastHeard:   uint32(time.Now().Unix()),
		HasHopsAway: true,
	}))
	for _, n := range d.Nodes() {
		msgs = append(msgs, common.NewNodeInfoFromRadio(&n))
	}
	msgs = append(msgs, common.NewConfigComplete(nonce))

	for _, msg := range msgs {
		if err := d.send(s, msg); err != nil {
			return err
		}
	}
	Logger.Debugf("sent config (%d messages, nonce %08x)", len(msgs), nonce)
	return nil
}

// handlePacket acks, answers or applies a packet sent by a client
func (d *Device) handlePacket(s *session, pkt *common.MeshPacket) {
	if pkt == nil {
		return
	}
	pkt.From = d.config.NodeNum

	d.mu.Lock()
	d.received = append(d.received, pkt)
	_, known := d.nodes[pkt.To]
	d.mu.Unlock()

	if d.silent.Load() {
		return
	}

	var replies []*common.MeshPacket

	// node removal is handled by the device itself and confirmed with an echo
	if pkt.Port() == common.PortAdminApp && pkt.To == d.config.NodeNum {
		if admin, err := codec.DecodeAdmin(pkt.Decoded.Payload); err == nil && admin.RemoveByNodenum != 0 {
			d.mu.Lock()
			delete(d.nodes, admin.RemoveByNodenum)
			d.mu.Unlock()
			replies = append(replies, d.reply(pkt, d.config.NodeNum, pkt.Decoded.Payload))
		}
	} else {
		if pkt.WantAck {
			replies = append(replies, d.ack(pkt, known))
		}
		if pkt.Decoded != nil && pkt.Decoded.WantResponse && known {
			if resp := d.respond(pkt); resp != nil {
				replies = append(replies, resp)
			}
		}
	}

	if len(replies) == 0 {
		return
	}
	deliver := func() {
		for _, r := range replies {
			if err := d.send(s, common.NewPacketFromRadio(r)); err != nil {
				Logger.Debugf("failed to deliver reply: %v", err)
				return
			}
		}
	}
	if d.config.AckDelay > 0 {
		time.AfterFunc(d.config.AckDelay, deliver)
	} else {
		deliver()
	}
}

// ack builds the routing packet for pkt. Broadcasts are acked implicitly by
// the device, direct packets by their destination. Unknown destinations get
// a NO_ROUTE nak.
func (d *Device) ack(pkt *common.MeshPacket, known bool) *common.MeshPacket {
	from := pkt.To
	reason := common.RoutingNone
	switch {
	case pkt.To == common.BroadcastNum || pkt.To == d.config.NodeNum:
		from = d.config.NodeNum
	case !known:
		from = d.config.NodeNum
		reason = common.RoutingNoRoute
	}
	ack := common.NewAckPacket(from, d.config.NodeNum, pkt.ID, codec.EncodeRouting(&common.Routing{ErrorReason: reason}))
	ack.ID = d.packets.Add(1)
	return ack
}

// respond asks the responder for the answer to pkt
func (d *Device) respond(pkt *common.MeshPacket) *common.MeshPacket {
	if d.config.Responder == nil {
		return d.reply(pkt, pkt.To, pkt.Decoded.Payload)
	}
	resp := d.config.Responder(pkt)
	if resp == nil {
		return nil
	}
	if resp.ID == 0 {
		resp.ID = d.packets.Add(1)
	}
	return resp
}

// reply builds a packet from `from` answering pkt with payload on the same port
func (d *Device) reply(pkt *common.MeshPacket, from common.NodeNum, payload []byte) *common.MeshPacket {
	return &common.MeshPacket{
		ID:       d.packets.Add(1),
		From:     from,
		To:       d.config.NodeNum,
		HopStart: 3,
		HopLimit: 3,
		RxTime:   uint32(time.Now().Unix()),
		Decoded: &common.Data{
			PortNum:   pkt.Port(),
			Payload:   append([]byte(nil), payload...),
			RequestID: pkt.ID,
		},
	}
}

// send encodes, frames and writes one message to a client
func (d *Device) send(s *session, msg *common.FromRadio) error {
	if msg.ID == 0 {
		msg.ID = d.msgID.Add(1)
	}
	payload, err := d.codec.EncodeFromRadio(msg)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return framing.WriteFrame(s.conn, payload, d.config.MaxEnvelopeSize)
}
