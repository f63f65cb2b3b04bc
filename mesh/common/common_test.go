package common

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestNodeNumFormatting(t *testing.T) {
	tests := []struct {
		in   string
		want NodeNum
	}{
		{"!deadbeef", 0xdeadbeef},
		{"!00000001", 1},
		{"^all", BroadcastNum},
		{"", BroadcastNum},
		{"42", 42},
	}
	for _, tt := range tests {
		got, err := ParseNodeNum(tt.in)
		if err != nil {
			t.Errorf("ParseNodeNum(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseNodeNum(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, err := ParseNodeNum("!xyz"); err == nil {
		t.Errorf("expected error for invalid hex node id")
	}

	if s := NodeNum(0xdeadbeef).String(); s != "!deadbeef" {
		t.Errorf("String() = %q, want !deadbeef", s)
	}
	n := NodeNum(0x1234)
	back, err := ParseNodeNum(n.String())
	if err != nil || back != n {
		t.Errorf("round trip of %v failed: %v %v", n, back, err)
	}
}

func TestParsePortNum(t *testing.T) {
	p, err := ParsePortNum("text_message_app")
	if err != nil || p != PortTextMessageApp {
		t.Errorf("ParsePortNum(text_message_app) = %v, %v", p, err)
	}
	p, err = ParsePortNum("256")
	if err != nil || p != PortPrivateApp {
		t.Errorf("ParsePortNum(256) = %v, %v", p, err)
	}
	if _, err := ParsePortNum("4096"); err == nil {
		t.Errorf("expected out of range error")
	}
	if _, err := ParsePortNum("NOPE"); err == nil {
		t.Errorf("expected unknown port error")
	}
	if PortNum(300).String() != "300" {
		t.Errorf("unknown port should print its number, got %s", PortNum(300))
	}
}

func TestFromRadioKind(t *testing.T) {
	tests := []struct {
		name string
		msg  *FromRadio
		want MessageKind
	}{
		{"text", NewPacketFromRadio(&MeshPacket{Decoded: &Data{PortNum: PortTextMessageApp}}), KindMeshPacket},
		{"routing", NewPacketFromRadio(&MeshPacket{Decoded: &Data{PortNum: PortRoutingApp}}), KindAck},
		{"telemetry", NewPacketFromRadio(&MeshPacket{Decoded: &Data{PortNum: PortTelemetryApp}}), KindTelemetry},
		{"admin", NewPacketFromRadio(&MeshPacket{Decoded: &Data{PortNum: PortAdminApp}}), KindAdmin},
		{"encrypted", NewPacketFromRadio(&MeshPacket{Encrypted: []byte{1}}), KindMeshPacket},
		{"node info", NewNodeInfoFromRadio(&NodeInfo{Num: 1}), KindNodeInfo},
		{"config complete", NewConfigComplete(7), KindConfig},
		{"my info", NewMyInfoFromRadio(&MyNodeInfo{}), KindConfig},
		{"unhandled", &FromRadio{Unhandled: &Unhandled{Tag: 99}}, KindUnhandled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.msg.Kind(); got != tt.want {
				t.Errorf("Kind() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestNewTextPacket(t *testing.T) {
	p, err := NewTextPacket("hi", BroadcastNum, false)
	if err != nil {
		t.Fatalf("NewTextPacket failed: %v", err)
	}
	if p.Port() != PortTextMessageApp || string(p.Decoded.Payload) != "hi" || p.To != BroadcastNum {
		t.Errorf("unexpected packet %v", p)
	}
	if _, err := NewTextPacket(string([]byte{0xff, 0xfe}), 1, false); err == nil {
		t.Errorf("expected invalid utf-8 error")
	}
}

func TestErrorTaxonomy(t *testing.T) {
	cause := &TransportError{Op: "read", Err: errors.New("eof")}
	closed := fmt.Errorf("request failed: %w", &ConnectionClosedError{Cause: cause})

	if !errors.Is(closed, ErrConnectionClosed) {
		t.Errorf("expected ErrConnectionClosed to match")
	}
	var te *TransportError
	if !errors.As(closed, &te) || te.Op != "read" {
		t.Errorf("expected TransportError to be reachable, got %v", te)
	}
	if errors.Is(closed, ErrRequestTimeout) {
		t.Errorf("a closed connection must not look like a timeout")
	}

	timeout := &RequestTimeoutError{PacketID: 1, Timeout: time.Second}
	if !errors.Is(timeout, ErrRequestTimeout) || errors.Is(timeout, ErrConnectionClosed) {
		t.Errorf("timeout error does not match its sentinel exclusively")
	}

	if !errors.Is(&NotConnectedError{State: "ConfigHandshake"}, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected to match")
	}
}

func TestLocalNodeApply(t *testing.T) {
	var l LocalNode
	l.Apply(NewMyInfoFromRadio(&MyNodeInfo{MyNodeNum: 0x10}))
	l.Apply(NewChannelFromRadio(&Channel{Index: 0, Name: "a", Role: 1}))
	l.Apply(NewChannelFromRadio(&Channel{Index: 0, Name: "b", Role: 1}))
	l.Apply(NewConfigFromRadio(&ConfigRecord{Section: 1, Raw: []byte{1}}, false))
	l.Apply(NewConfigFromRadio(&ConfigRecord{Section: 1, Raw: []byte{2}}, true))

	if l.Num() != 0x10 {
		t.Errorf("Num() = %v", l.Num())
	}
	if len(l.Channels) != 1 || l.Channels[0].Name != "b" {
		t.Errorf("channel was not replaced: %+v", l.Channels)
	}
	if len(l.Configs) != 1 || len(l.ModuleConfigs) != 1 {
		t.Errorf("config sections not separated: %+v %+v", l.Configs, l.ModuleConfigs)
	}
	if l.Apply(NewConfigComplete(1)) {
		t.Errorf("config complete is not part of the local node")
	}

	clone := l.Clone()
	clone.Channels[0].Name = "changed"
	if l.Channels[0].Name != "b" {
		t.Errorf("Clone shares memory with the original")
	}
}

func TestConnectionConfig(t *testing.T) {
	c := ConnectionConfig{}.WithDefaults()
	if c.RequestTimeout != 300*time.Second {
		t.Errorf("default request timeout = %s", c.RequestTimeout)
	}
	if c.MaxEnvelopeSize != DefaultMaxEnvelopeSize {
		t.Errorf("default max envelope size = %d", c.MaxEnvelopeSize)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults do not validate: %v", err)
	}
	s := c.String()
	for _, section := range []string{"TRANSPORT", "LIVENESS", "LOGGING"} {
		if !strings.Contains(s, section) {
			t.Errorf("String() misses section %s", section)
		}
	}

	c.MaxEnvelopeSize = 1 << 20
	if err := c.Validate(); err == nil {
		t.Errorf("expected validation error for oversized envelope")
	}
}

func TestParseLogLevel(t *testing.T) {
	for _, lvl := range []string{"debug", "info", "warn", "warning", "error"} {
		if _, err := ParseLogLevel(lvl); err != nil {
			t.Errorf("ParseLogLevel(%q) failed: %v", lvl, err)
		}
	}
	if _, err := ParseLogLevel("loud"); err == nil {
		t.Errorf("expected error for invalid level")
	}
}

func TestLocalNodeAccessors(t *testing.T) {
	var l LocalNode
	l.Apply(NewMyInfoFromRadio(&MyNodeInfo{MyNodeNum: 0x0badcafe}))
	l.Apply(NewChannelFromRadio(&Channel{Index: 1, Name: "side", Role: 2}))
	l.Apply(NewChannelFromRadio(&Channel{Index: 0, Name: "LongFast", Role: 1}))

	// accessors work on the copies handed out by the connection
	snapshot := func() LocalNode { return l.Clone() }
	if got := snapshot().Num(); got != 0x0badcafe {
		t.Errorf("Num = %s, want !0badcafe", got)
	}
	ch, ok := snapshot().PrimaryChannel()
	if !ok || ch.Name != "LongFast" {
		t.Errorf("PrimaryChannel = %+v, %v", ch, ok)
	}
	if _, ok := (LocalNode{}).PrimaryChannel(); ok {
		t.Errorf("empty local node reported a primary channel")
	}
}
