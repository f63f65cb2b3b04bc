package sim

import (
	"bytes"
	"github.com/ValentinKolb/meshlink/mesh/codec"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/ValentinKolb/meshlink/mesh/framing"
	"iter"
	"net"
	"sync"
	"testing"
	"time"
)

// rawClient talks to a device without the client package
type rawClient struct {
	t     *testing.T
	conn  net.Conn
	codec codec.ICodec
	next  func() (framing.Envelope, error, bool)
	stop  func()
}

func newRawClient(t *testing.T, d *Device) *rawClient {
	t.Helper()
	client, device := net.Pipe()
	go d.Serve(device)

	next, stop := iter.Pull2(framing.Envelopes(client, common.DefaultMaxEnvelopeSize))
	c := &rawClient{t: t, conn: client, codec: codec.NewProtoCodec(nil), next: next, stop: stop}
	t.Cleanup(func() {
		_ = client.Close()
		stop()
	})
	return c
}

func (c *rawClient) send(msg *common.ToRadio) {
	c.t.Helper()
	payload, err := c.codec.EncodeToRadio(msg)
	if err != nil {
		c.t.Fatalf("encode: %v", err)
	}
	if err := framing.WriteFrame(c.conn, payload, common.DefaultMaxEnvelopeSize); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *rawClient) recv(timeout time.Duration) (*common.FromRadio, bool) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	env, err, ok := c.next()
	if !ok || err != nil {
		return nil, false
	}
	msg, err := c.codec.DecodeFromRadio(env.Payload)
	if err != nil {
		c.t.Fatalf("decode: %v", err)
	}
	return msg, true
}

func (c *rawClient) handshake(nonce uint32) []*common.FromRadio {
	c.t.Helper()
	c.send(common.NewWantConfig(nonce))
	var msgs []*common.FromRadio
	for {
		msg, ok := c.recv(time.Second)
		if !ok {
			c.t.Fatalf("handshake did not complete, got %d messages", len(msgs))
		}
		msgs = append(msgs, msg)
		if msg.Variant == common.FromRadioConfigCompleteID {
			return msgs
		}
	}
}

func (c *rawClient) expectPacket() *common.MeshPacket {
	c.t.Helper()
	for {
		msg, ok := c.recv(time.Second)
		if !ok {
			c.t.Fatalf("no packet received")
		}
		if msg.Variant == common.FromRadioPacket {
			return msg.Packet
		}
	}
}

func TestHandshake(t *testing.T) {
	d := NewDevice(DefaultConfig())
	c := newRawClient(t, d)

	msgs := c.handshake(0xdeadbeef)

	first := msgs[0]
	if first.Variant != common.FromRadioMyInfo || first.MyInfo.MyNodeNum != d.Num() {
		t.Errorf("first message = %+v, want my info of %s", first, d.Num())
	}
	last := msgs[len(msgs)-1]
	if last.ConfigCompleteID != 0xdeadbeef {
		t.Errorf("config complete nonce = %08x, want deadbeef", last.ConfigCompleteID)
	}

	counts := make(map[common.FromRadioVariant]int)
	ids := make(map[uint32]bool)
	for _, m := range msgs {
		counts[m.Variant]++
		if ids[m.ID] {
			t.Errorf("message id %d reused", m.ID)
		}
		ids[m.ID] = true
	}
	if got, want := counts[common.FromRadioNodeInfo], 1+len(DefaultConfig().Nodes); got != want {
		t.Errorf("node infos = %d, want %d", got, want)
	}
	for _, v := range []common.FromRadioVariant{common.FromRadioMetadata, common.FromRadioChannel, common.FromRadioConfig, common.FromRadioModuleConfig} {
		if counts[v] == 0 {
			t.Errorf("variant %d missing from config dump", v)
		}
	}
}

func TestConsoleNoiseBeforeConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsoleNoise = []byte("INFO | ??:??:?? 3 [Router] booting\r\n")
	d := NewDevice(cfg)
	c := newRawClient(t, d)

	// the deframer skips the noise, the dump still arrives
	msgs := c.handshake(7)
	if msgs[len(msgs)-1].ConfigCompleteID != 7 {
		t.Errorf("handshake failed behind console noise")
	}
}

func TestHeartbeatQueueStatus(t *testing.T) {
	d := NewDevice(DefaultConfig())
	c := newRawClient(t, d)
	c.handshake(1)

	c.send(common.NewHeartbeat())
	msg, ok := c.recv(time.Second)
	if !ok || msg.Variant != common.FromRadioQueueStatus {
		t.Fatalf("heartbeat answer = %+v, want queue status", msg)
	}
	if msg.QueueStatus.Free == 0 {
		t.Errorf("queue status reports no free slots")
	}

	d.SetSilent(true)
	c.send(common.NewHeartbeat())
	if msg, ok := c.recv(50 * time.Millisecond); ok {
		t.Errorf("silent device answered %+v", msg)
	}
}

func TestAcks(t *testing.T) {
	d := NewDevice(DefaultConfig())
	c := newRawClient(t, d)
	c.handshake(1)

	tests := []struct {
		name       string
		to         common.NodeNum
		wantFrom   common.NodeNum
		wantReason common.RoutingError
	}{
		{"broadcast", common.BroadcastNum, d.Num(), common.RoutingNone},
		{"known node", 0x11111111, 0x11111111, common.RoutingNone},
		{"unknown node", 0x99999999, d.Num(), common.RoutingNoRoute},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkt, err := common.NewTextPacket("hi", tt.to, true)
			if err != nil {
				t.Fatal(err)
			}
			pkt.ID = uint32(100 + i)
			c.send(common.NewPacketToRadio(pkt))

			ack := c.expectPacket()
			if ack.Port() != common.PortRoutingApp || ack.Decoded.RequestID != pkt.ID {
				t.Fatalf("got %s, want ack for %08x", ack, pkt.ID)
			}
			if ack.From != tt.wantFrom {
				t.Errorf("ack from %s, want %s", ack.From, tt.wantFrom)
			}
			routing, err := codec.DecodeRouting(ack.Decoded.Payload)
			if err != nil {
				t.Fatal(err)
			}
			if routing.ErrorReason != tt.wantReason {
				t.Errorf("reason = %s, want %s", routing.ErrorReason, tt.wantReason)
			}
		})
	}

	if got := len(d.Received()); got != len(tests) {
		t.Errorf("received %d packets, want %d", got, len(tests))
	}
}

func TestEchoResponse(t *testing.T) {
	d := NewDevice(DefaultConfig())
	c := newRawClient(t, d)
	c.handshake(1)

	pkt := common.NewDataPacket([]byte{1, 2, 3}, common.PortPrivateApp, 0x22222222, true)
	pkt.ID = 42
	pkt.WantAck = false
	c.send(common.NewPacketToRadio(pkt))

	resp := c.expectPacket()
	if resp.From != 0x22222222 || resp.Decoded.RequestID != 42 {
		t.Errorf("response = %s, want reply of !22222222 to 42", resp)
	}
	if !bytes.Equal(resp.Decoded.Payload, []byte{1, 2, 3}) || resp.Port() != common.PortPrivateApp {
		t.Errorf("response payload = %x on %s", resp.Decoded.Payload, resp.Port())
	}
}

func TestCustomResponder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Responder = func(pkt *common.MeshPacket) *common.MeshPacket {
		return &common.MeshPacket{
			From:    pkt.To,
			To:      pkt.From,
			Decoded: &common.Data{PortNum: pkt.Port(), Payload: []byte("pong"), RequestID: pkt.ID},
		}
	}
	d := NewDevice(cfg)
	c := newRawClient(t, d)
	c.handshake(1)

	pkt := common.NewDataPacket([]byte("ping"), common.PortPrivateApp, 0x11111111, true)
	pkt.ID = 7
	pkt.WantAck = false
	c.send(common.NewPacketToRadio(pkt))

	resp := c.expectPacket()
	if string(resp.Decoded.Payload) != "pong" || resp.ID == 0 {
		t.Errorf("response = %s payload %q", resp, resp.Decoded.Payload)
	}
}

func TestRemoveNode(t *testing.T) {
	d := NewDevice(DefaultConfig())
	c := newRawClient(t, d)
	c.handshake(1)

	pkt := common.NewDataPacket(codec.EncodeRemoveNode(0x11111111), common.PortAdminApp, d.Num(), true)
	pkt.ID = 9
	pkt.WantAck = false
	c.send(common.NewPacketToRadio(pkt))

	echo := c.expectPacket()
	if echo.From != d.Num() || echo.Port() != common.PortAdminApp || echo.Decoded.RequestID != 9 {
		t.Fatalf("echo = %s", echo)
	}
	for _, n := range d.Nodes() {
		if n.Num == 0x11111111 {
			t.Errorf("node still known after removal")
		}
	}
}

func TestInjectReachesAllSessions(t *testing.T) {
	d := NewDevice(DefaultConfig())
	a := newRawClient(t, d)
	b := newRawClient(t, d)
	a.handshake(1)
	b.handshake(2)

	pkt, _ := common.NewTextPacket("from the mesh", common.BroadcastNum, false)
	pkt.From = 0x22222222

	var wg sync.WaitGroup
	got := make([]*common.MeshPacket, 2)
	for i, c := range []*rawClient{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, ok := c.recv(time.Second)
			if ok {
				got[i] = msg.Packet
			}
		}()
	}
	// net.Pipe is unbuffered, the readers must be running before Inject
	if n := d.Inject(pkt); n != 2 {
		t.Errorf("Inject reached %d sessions, want 2", n)
	}
	wg.Wait()

	for i, p := range got {
		if p == nil || string(p.Decoded.Payload) != "from the mesh" {
			t.Errorf("session %d got %v", i, p)
		}
	}
	if pkt.ID == 0 {
		t.Errorf("Inject did not assign a packet id")
	}
}

func TestDisconnectEndsSession(t *testing.T) {
	d := NewDevice(DefaultConfig())
	c := newRawClient(t, d)
	c.handshake(1)

	if d.Sessions() != 1 {
		t.Fatalf("sessions = %d, want 1", d.Sessions())
	}
	c.send(common.NewDisconnect())

	deadline := time.Now().Add(time.Second)
	for d.Sessions() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session still open after disconnect")
		}
		time.Sleep(time.Millisecond)
	}
}
