package codec

import (
	"fmt"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"unicode/utf8"
)

// --------------------------------------------------------------------------
// App payloads (public helpers)
// --------------------------------------------------------------------------

// DecodePayload decodes the payload of a data packet according to its port.
// Known ports return a pointer to the matching common type (*common.Position,
// *common.User, *common.Telemetry, *common.Routing, *common.AdminMessage) or
// a string for text messages. Other ports return nil and no error, the caller
// keeps working with the raw payload.
func DecodePayload(d *common.Data) (any, error) {
	if d == nil {
		return nil, nil
	}
	switch d.PortNum {
	case common.PortTextMessageApp:
		if !utf8.Valid(d.Payload) {
			return nil, fmt.Errorf("text message: invalid utf-8")
		}
		return string(d.Payload), nil
	case common.PortPositionApp:
		return DecodePosition(d.Payload)
	case common.PortNodeInfoApp:
		return DecodeUser(d.Payload)
	case common.PortTelemetryApp:
		return DecodeTelemetry(d.Payload)
	case common.PortRoutingApp:
		return DecodeRouting(d.Payload)
	case common.PortAdminApp:
		return DecodeAdmin(d.Payload)
	default:
		return nil, nil
	}
}

// EncodePosition encodes a position payload
func EncodePosition(p *common.Position) []byte {
	var e encoder
	appendPosition(&e, p)
	return e.b
}

// DecodePosition decodes a position payload
func DecodePosition(b []byte) (*common.Position, error) {
	p := &common.Position{}
	err := forEachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			p.LatitudeI, err = f.sfixed32()
		case 2:
			p.LongitudeI, err = f.sfixed32()
		case 3:
			p.Altitude, err = f.int32()
		case 4:
			p.Time, err = f.fixed32()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("position: %w", err)
	}
	return p, nil
}

// EncodeUser encodes a user payload (the payload of the node info port)
func EncodeUser(u *common.User) []byte {
	var e encoder
	appendUser(&e, u)
	return e.b
}

// DecodeUser decodes a user payload
func DecodeUser(b []byte) (*common.User, error) {
	u := &common.User{}
	err := forEachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			u.ID, err = f.string()
		case 2:
			u.LongName, err = f.string()
		case 3:
			u.ShortName, err = f.string()
		case 4:
			u.MacAddr, err = f.bytes()
		case 5:
			u.HwModel, err = f.uint32()
		case 6:
			u.IsLicensed, err = f.bool()
		case 7:
			u.Role, err = f.uint32()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("user: %w", err)
	}
	return u, nil
}

// EncodeTelemetry encodes a telemetry payload
func EncodeTelemetry(t *common.Telemetry) []byte {
	var e encoder
	e.fixed32(1, t.Time)
	if t.DeviceMetrics != nil {
		e.message(2, func(e *encoder) { appendDeviceMetrics(e, t.DeviceMetrics) })
	}
	if t.EnvironmentMetrics != nil {
		e.message(3, func(e *encoder) {
			e.float(1, t.EnvironmentMetrics.Temperature)
			e.float(2, t.EnvironmentMetrics.RelativeHumidity)
			e.float(3, t.EnvironmentMetrics.BarometricPressure)
		})
	}
	return e.b
}

// DecodeTelemetry decodes a telemetry payload. Variants other than device and
// environment metrics are skipped.
func DecodeTelemetry(b []byte) (*common.Telemetry, error) {
	t := &common.Telemetry{}
	err := forEachField(b, func(f field) error {
		var err error
		var m []byte
		switch f.num {
		case 1:
			t.Time, err = f.fixed32()
		case 2:
			if m, err = f.message(); err == nil {
				t.DeviceMetrics, err = decodeDeviceMetrics(m)
			}
		case 3:
			if m, err = f.message(); err == nil {
				t.EnvironmentMetrics, err = decodeEnvironmentMetrics(m)
			}
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	return t, nil
}

// EncodeRouting encodes a routing payload. The error reason is always
// written, a positive ack carries an explicit NONE.
func EncodeRouting(r *common.Routing) []byte {
	var e encoder
	e.varintAlways(3, uint64(r.ErrorReason))
	return e.b
}

// DecodeRouting decodes a routing payload. Route request and reply variants
// are skipped.
func DecodeRouting(b []byte) (*common.Routing, error) {
	r := &common.Routing{}
	err := forEachField(b, func(f field) error {
		if f.num != 3 {
			return nil
		}
		v, err := f.uint32()
		r.ErrorReason = common.RoutingError(v)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}
	return r, nil
}

// EncodeRemoveNode encodes the admin request that removes a node from the
// device's node database
func EncodeRemoveNode(num common.NodeNum) []byte {
	var e encoder
	e.varintAlways(38, uint64(num))
	return e.b
}

// DecodeAdmin decodes an admin payload. Only node removal is interpreted.
func DecodeAdmin(b []byte) (*common.AdminMessage, error) {
	a := &common.AdminMessage{Raw: append([]byte(nil), b...)}
	err := forEachField(b, func(f field) error {
		if f.num != 38 {
			return nil
		}
		v, err := f.uint32()
		a.RemoveByNodenum = common.NodeNum(v)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("admin: %w", err)
	}
	return a, nil
}

// --------------------------------------------------------------------------
// Nested messages (internal)
// --------------------------------------------------------------------------

func appendPosition(e *encoder, p *common.Position) {
	e.sfixed32(1, p.LatitudeI)
	e.sfixed32(2, p.LongitudeI)
	e.int32(3, p.Altitude)
	e.fixed32(4, p.Time)
}

func appendUser(e *encoder, u *common.User) {
	e.string(1, u.ID)
	e.string(2, u.LongName)
	e.string(3, u.ShortName)
	e.bytes(4, u.MacAddr)
	e.varint(5, uint64(u.HwModel))
	e.bool(6, u.IsLicensed)
	e.varint(7, uint64(u.Role))
}

func appendDeviceMetrics(e *encoder, m *common.DeviceMetrics) {
	e.varint(1, uint64(m.BatteryLevel))
	e.float(2, m.Voltage)
	e.float(3, m.ChannelUtilization)
	e.float(4, m.AirUtilTx)
	e.varint(5, uint64(m.UptimeSeconds))
}

func decodeDeviceMetrics(b []byte) (*common.DeviceMetrics, error) {
	m := &common.DeviceMetrics{}
	err := forEachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.BatteryLevel, err = f.uint32()
		case 2:
			m.Voltage, err = f.float()
		case 3:
			m.ChannelUtilization, err = f.float()
		case 4:
			m.AirUtilTx, err = f.float()
		case 5:
			m.UptimeSeconds, err = f.uint32()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("device metrics: %w", err)
	}
	return m, nil
}

func decodeEnvironmentMetrics(b []byte) (*common.EnvironmentMetrics, error) {
	m := &common.EnvironmentMetrics{}
	err := forEachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			m.Temperature, err = f.float()
		case 2:
			m.RelativeHumidity, err = f.float()
		case 3:
			m.BarometricPressure, err = f.float()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("environment metrics: %w", err)
	}
	return m, nil
}

func appendNodeInfo(e *encoder, n *common.NodeInfo) {
	e.varint(1, uint64(n.Num))
	if n.User != nil {
		e.message(2, func(e *encoder) { appendUser(e, n.User) })
	}
	if n.Position != nil {
		e.message(3, func(e *encoder) { appendPosition(e, n.Position) })
	}
	e.float(4, n.SNR)
	e.fixed32(5, n.LastHeard)
	if n.DeviceMetrics != nil {
		e.message(6, func(e *encoder) { appendDeviceMetrics(e, n.DeviceMetrics) })
	}
	e.varint(7, uint64(n.Channel))
	if n.HasHopsAway {
		e.varintAlways(9, uint64(n.HopsAway))
	}
	e.bool(10, n.IsFavorite)
}

func decodeNodeInfo(b []byte) (*common.NodeInfo, error) {
	n := &common.NodeInfo{}
	err := forEachField(b, func(f field) error {
		var err error
		var m []byte
		switch f.num {
		case 1:
			var v uint32
			v, err = f.uint32()
			n.Num = common.NodeNum(v)
		case 2:
			if m, err = f.message(); err == nil {
				n.User, err = DecodeUser(m)
			}
		case 3:
			if m, err = f.message(); err == nil {
				n.Position, err = DecodePosition(m)
			}
		case 4:
			n.SNR, err = f.float()
		case 5:
			n.LastHeard, err = f.fixed32()
		case 6:
			if m, err = f.message(); err == nil {
				n.DeviceMetrics, err = decodeDeviceMetrics(m)
			}
		case 7:
			n.Channel, err = f.uint32()
		case 9:
			n.HopsAway, err = f.uint32()
			n.HasHopsAway = true
		case 10:
			n.IsFavorite, err = f.bool()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("node info: %w", err)
	}
	return n, nil
}
