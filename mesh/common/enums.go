package common

import (
	"fmt"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Node Numbers
// --------------------------------------------------------------------------

// NodeNum is the 32-bit address of a node in the mesh.
type NodeNum uint32

const (
	// BroadcastNum addresses every node in the mesh
	BroadcastNum NodeNum = 0xFFFFFFFF
)

// String returns the node number in the "!xxxxxxxx" notation used by the firmware.
func (n NodeNum) String() string {
	if n == BroadcastNum {
		return "^all"
	}
	return fmt.Sprintf("!%08x", uint32(n))
}

// ParseNodeNum parses "^all", "!xxxxxxxx" (hex) or a decimal node number.
func ParseNodeNum(s string) (NodeNum, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "" || s == "^all" || s == "broadcast":
		return BroadcastNum, nil
	case strings.HasPrefix(s, "!"):
		v, err := strconv.ParseUint(s[1:], 16, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid node id %q: %w", s, err)
		}
		return NodeNum(v), nil
	default:
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("invalid node number %q: %w", s, err)
		}
		return NodeNum(v), nil
	}
}

// --------------------------------------------------------------------------
// Port Numbers
// --------------------------------------------------------------------------

// PortNum selects the application that owns the payload of a packet.
type PortNum uint32

const (
	PortUnknownApp               PortNum = 0
	PortTextMessageApp           PortNum = 1
	PortRemoteHardwareApp        PortNum = 2
	PortPositionApp              PortNum = 3
	PortNodeInfoApp              PortNum = 4
	PortRoutingApp               PortNum = 5
	PortAdminApp                 PortNum = 6
	PortTextMessageCompressedApp PortNum = 7
	PortWaypointApp              PortNum = 8
	PortAudioApp                 PortNum = 9
	PortDetectionSensorApp       PortNum = 10
	PortReplyApp                 PortNum = 32
	PortIPTunnelApp              PortNum = 33
	PortPaxcounterApp            PortNum = 34
	PortSerialApp                PortNum = 64
	PortStoreForwardApp          PortNum = 65
	PortRangeTestApp             PortNum = 66
	PortTelemetryApp             PortNum = 67
	PortZPSApp                   PortNum = 68
	PortSimulatorApp             PortNum = 69
	PortTracerouteApp            PortNum = 70
	PortNeighborInfoApp          PortNum = 71
	PortAtakPlugin               PortNum = 72
	PortMapReportApp             PortNum = 73
	PortPrivateApp               PortNum = 256
	PortAtakForwarder            PortNum = 257
	PortMax                      PortNum = 511
)

var portNames = map[PortNum]string{
	PortUnknownApp:               "UNKNOWN_APP",
	PortTextMessageApp:           "TEXT_MESSAGE_APP",
	PortRemoteHardwareApp:        "REMOTE_HARDWARE_APP",
	PortPositionApp:              "POSITION_APP",
	PortNodeInfoApp:              "NODEINFO_APP",
	PortRoutingApp:               "ROUTING_APP",
	PortAdminApp:                 "ADMIN_APP",
	PortTextMessageCompressedApp: "TEXT_MESSAGE_COMPRESSED_APP",
	PortWaypointApp:              "WAYPOINT_APP",
	PortAudioApp:                 "AUDIO_APP",
	PortDetectionSensorApp:       "DETECTION_SENSOR_APP",
	PortReplyApp:                 "REPLY_APP",
	PortIPTunnelApp:              "IP_TUNNEL_APP",
	PortPaxcounterApp:            "PAXCOUNTER_APP",
	PortSerialApp:                "SERIAL_APP",
	PortStoreForwardApp:          "STORE_FORWARD_APP",
	PortRangeTestApp:             "RANGE_TEST_APP",
	PortTelemetryApp:             "TELEMETRY_APP",
	PortZPSApp:                   "ZPS_APP",
	PortSimulatorApp:             "SIMULATOR_APP",
	PortTracerouteApp:            "TRACEROUTE_APP",
	PortNeighborInfoApp:          "NEIGHBORINFO_APP",
	PortAtakPlugin:               "ATAK_PLUGIN",
	PortMapReportApp:             "MAP_REPORT_APP",
	PortPrivateApp:               "PRIVATE_APP",
	PortAtakForwarder:            "ATAK_FORWARDER",
	PortMax:                      "MAX",
}

// String returns the firmware name of the port, or its number if unknown.
func (p PortNum) String() string {
	if name, ok := portNames[p]; ok {
		return name
	}
	return strconv.FormatUint(uint64(p), 10)
}

// ParsePortNum accepts a port name (e.g. "TEXT_MESSAGE_APP", case-insensitive)
// or a decimal port number.
func ParsePortNum(s string) (PortNum, error) {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseUint(s, 10, 32); err == nil {
		if PortNum(v) > PortMax {
			return 0, fmt.Errorf("port number %d out of range", v)
		}
		return PortNum(v), nil
	}
	for port, name := range portNames {
		if strings.EqualFold(name, s) {
			return port, nil
		}
	}
	return 0, fmt.Errorf("unknown port %q", s)
}

// --------------------------------------------------------------------------
// Packet Priority
// --------------------------------------------------------------------------

// Priority is the transmit priority of a packet.
type Priority uint32

const (
	PriorityUnset      Priority = 0
	PriorityMin        Priority = 1
	PriorityBackground Priority = 10
	PriorityDefault    Priority = 64
	PriorityReliable   Priority = 70
	PriorityAck        Priority = 120
	PriorityMax        Priority = 127
)

// --------------------------------------------------------------------------
// Routing Errors
// --------------------------------------------------------------------------

// RoutingError is the reason carried by a routing (ack/nak) packet.
type RoutingError uint32

const (
	RoutingNone             RoutingError = 0
	RoutingNoRoute          RoutingError = 1
	RoutingGotNak           RoutingError = 2
	RoutingTimeout          RoutingError = 3
	RoutingNoInterface      RoutingError = 4
	RoutingMaxRetransmit    RoutingError = 5
	RoutingNoChannel        RoutingError = 6
	RoutingTooLarge         RoutingError = 7
	RoutingNoResponse       RoutingError = 8
	RoutingDutyCycleLimit   RoutingError = 9
	RoutingBadRequest       RoutingError = 32
	RoutingNotAuthorized    RoutingError = 33
	RoutingPKIFailed        RoutingError = 34
	RoutingPKIUnknownPubkey RoutingError = 35
)

// String returns the firmware name of the routing error.
func (r RoutingError) String() string {
	switch r {
	case RoutingNone:
		return "NONE"
	case RoutingNoRoute:
		return "NO_ROUTE"
	case RoutingGotNak:
		return "GOT_NAK"
	case RoutingTimeout:
		return "TIMEOUT"
	case RoutingNoInterface:
		return "NO_INTERFACE"
	case RoutingMaxRetransmit:
		return "MAX_RETRANSMIT"
	case RoutingNoChannel:
		return "NO_CHANNEL"
	case RoutingTooLarge:
		return "TOO_LARGE"
	case RoutingNoResponse:
		return "NO_RESPONSE"
	case RoutingDutyCycleLimit:
		return "DUTY_CYCLE_LIMIT"
	case RoutingBadRequest:
		return "BAD_REQUEST"
	case RoutingNotAuthorized:
		return "NOT_AUTHORIZED"
	case RoutingPKIFailed:
		return "PKI_FAILED"
	case RoutingPKIUnknownPubkey:
		return "PKI_UNKNOWN_PUBKEY"
	default:
		return "ROUTING_ERROR_" + strconv.FormatUint(uint64(r), 10)
	}
}
