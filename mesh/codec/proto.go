package codec

import (
	"fmt"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/lni/dragonboat/v4/logger"
	"google.golang.org/protobuf/encoding/protowire"
	"math/rand/v2"
)

var Logger = logger.GetLogger("mesh/codec")

// NewProtoCodec creates a codec for the protobuf wire format of the radio.
// ids assigns packet ids to packets without one, nil uses RandomID.
func NewProtoCodec(ids IDSource) ICodec {
	if ids == nil {
		ids = RandomID
	}
	return &protoCodecImpl{ids: ids}
}

// RandomID draws a uniformly distributed non-zero packet id
func RandomID() uint32 {
	for {
		if id := rand.Uint32(); id != 0 {
			return id
		}
	}
}

// protoCodecImpl implements ICodec using hand written protowire encoding
type protoCodecImpl struct {
	ids IDSource
}

// --------------------------------------------------------------------------
// Interface Methods (docu see codec.ICodec)
// --------------------------------------------------------------------------

func (c *protoCodecImpl) EncodeToRadio(msg *common.ToRadio) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("encode ToRadio: nil message")
	}
	var e encoder
	switch msg.Variant {
	case common.ToRadioPacket:
		if msg.Packet == nil {
			return nil, fmt.Errorf("encode ToRadio: packet variant without packet")
		}
		if msg.Packet.ID == 0 {
			msg.Packet.ID = c.ids()
		}
		e.message(1, func(e *encoder) { appendMeshPacket(e, msg.Packet) })
	case common.ToRadioWantConfigID:
		e.varintAlways(3, uint64(msg.WantConfigID))
	case common.ToRadioDisconnect:
		e.varintAlways(4, 1)
	case common.ToRadioHeartbeat:
		e.message(7, func(e *encoder) {})
	case common.ToRadioNone:
		if msg.Unhandled == nil {
			return nil, fmt.Errorf("encode ToRadio: no variant set")
		}
	default:
		return nil, fmt.Errorf("encode ToRadio: unknown variant %d", msg.Variant)
	}
	if msg.Unhandled != nil {
		e.b = append(e.b, msg.Unhandled.Raw...)
	}
	return e.b, nil
}

func (c *protoCodecImpl) DecodeToRadio(b []byte) (*common.ToRadio, error) {
	msg := &common.ToRadio{}
	var unknown *common.Unhandled
	err := forEachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var m []byte
			if m, err = f.message(); err == nil {
				msg.Packet, err = decodeMeshPacket(m)
				msg.Variant = common.ToRadioPacket
			}
		case 3:
			msg.WantConfigID, err = f.uint32()
			msg.Variant = common.ToRadioWantConfigID
		case 4:
			msg.Disconnect, err = f.bool()
			msg.Variant = common.ToRadioDisconnect
		case 7:
			err = f.expect(protowire.BytesType)
			msg.Heartbeat = true
			msg.Variant = common.ToRadioHeartbeat
		default:
			if unknown == nil {
				unknown = &common.Unhandled{Tag: uint32(f.num), Raw: append([]byte(nil), f.raw...)}
			}
		}
		return err
	})
	if err != nil {
		return nil, &common.DecodeError{Message: "ToRadio", Err: err}
	}
	if msg.Variant == common.ToRadioNone {
		msg.Unhandled = unknown
	}
	return msg, nil
}

func (c *protoCodecImpl) EncodeFromRadio(msg *common.FromRadio) ([]byte, error) {
	if msg == nil {
		return nil, fmt.Errorf("encode FromRadio: nil message")
	}
	var e encoder
	e.varint(1, uint64(msg.ID))

	missing := func(what string) error {
		return fmt.Errorf("encode FromRadio: variant %d without %s", msg.Variant, what)
	}

	switch msg.Variant {
	case common.FromRadioPacket:
		if msg.Packet == nil {
			return nil, missing("packet")
		}
		e.message(2, func(e *encoder) { appendMeshPacket(e, msg.Packet) })
	case common.FromRadioMyInfo:
		if msg.MyInfo == nil {
			return nil, missing("my info")
		}
		e.message(3, func(e *encoder) {
			e.varint(1, uint64(msg.MyInfo.MyNodeNum))
			e.varint(8, uint64(msg.MyInfo.RebootCount))
			e.varint(11, uint64(msg.MyInfo.MinAppVersion))
		})
	case common.FromRadioNodeInfo:
		if msg.NodeInfo == nil {
			return nil, missing("node info")
		}
		e.message(4, func(e *encoder) { appendNodeInfo(e, msg.NodeInfo) })
	case common.FromRadioConfig, common.FromRadioModuleConfig:
		if msg.Config == nil || msg.Config.Section == 0 {
			return nil, missing("config section")
		}
		e.message(protowire.Number(msg.Variant), func(e *encoder) {
			e.bytesAlways(protowire.Number(msg.Config.Section), msg.Config.Raw)
		})
	case common.FromRadioLogRecord:
		if msg.LogRecord == nil {
			return nil, missing("log record")
		}
		e.message(6, func(e *encoder) {
			e.string(1, msg.LogRecord.Message)
			e.fixed32(2, msg.LogRecord.Time)
			e.string(3, msg.LogRecord.Source)
			e.varint(4, uint64(msg.LogRecord.Level))
		})
	case common.FromRadioConfigCompleteID:
		e.varintAlways(7, uint64(msg.ConfigCompleteID))
	case common.FromRadioRebooted:
		e.varintAlways(8, 1)
	case common.FromRadioChannel:
		if msg.Channel == nil {
			return nil, missing("channel")
		}
		e.message(10, func(e *encoder) {
			e.varint(1, uint64(msg.Channel.Index))
			e.message(2, func(e *encoder) { e.string(3, msg.Channel.Name) })
			e.varint(3, uint64(msg.Channel.Role))
		})
	case common.FromRadioQueueStatus:
		if msg.QueueStatus == nil {
			return nil, missing("queue status")
		}
		e.message(11, func(e *encoder) {
			e.int32(1, msg.QueueStatus.Res)
			e.varint(2, uint64(msg.QueueStatus.Free))
			e.varint(3, uint64(msg.QueueStatus.MaxLen))
			e.varint(4, uint64(msg.QueueStatus.MeshPacketID))
		})
	case common.FromRadioMetadata:
		if msg.Metadata == nil {
			return nil, missing("metadata")
		}
		e.message(13, func(e *encoder) {
			e.string(1, msg.Metadata.FirmwareVersion)
			e.varint(2, uint64(msg.Metadata.DeviceStateVersion))
			e.varint(9, uint64(msg.Metadata.HwModel))
		})
	case common.FromRadioNone:
		if msg.Unhandled == nil {
			return nil, fmt.Errorf("encode FromRadio: no variant set")
		}
	default:
		return nil, fmt.Errorf("encode FromRadio: unknown variant %d", msg.Variant)
	}
	if msg.Unhandled != nil {
		e.b = append(e.b, msg.Unhandled.Raw...)
	}
	return e.b, nil
}

func (c *protoCodecImpl) DecodeFromRadio(b []byte) (*common.FromRadio, error) {
	msg := &common.FromRadio{}
	var unknown *common.Unhandled
	err := forEachField(b, func(f field) error {
		var err error
		var m []byte
		switch common.FromRadioVariant(f.num) {
		case 1:
			msg.ID, err = f.uint32()
			return err
		case common.FromRadioPacket:
			if m, err = f.message(); err == nil {
				msg.Packet, err = decodeMeshPacket(m)
			}
		case common.FromRadioMyInfo:
			if m, err = f.message(); err == nil {
				msg.MyInfo, err = decodeMyInfo(m)
			}
		case common.FromRadioNodeInfo:
			if m, err = f.message(); err == nil {
				msg.NodeInfo, err = decodeNodeInfo(m)
			}
		case common.FromRadioConfig, common.FromRadioModuleConfig:
			if m, err = f.message(); err == nil {
				msg.Config, err = decodeConfigRecord(m)
			}
		case common.FromRadioLogRecord:
			if m, err = f.message(); err == nil {
				msg.LogRecord, err = decodeLogRecord(m)
			}
		case common.FromRadioConfigCompleteID:
			msg.ConfigCompleteID, err = f.uint32()
		case common.FromRadioRebooted:
			msg.Rebooted, err = f.bool()
		case common.FromRadioChannel:
			if m, err = f.message(); err == nil {
				msg.Channel, err = decodeChannel(m)
			}
		case common.FromRadioQueueStatus:
			if m, err = f.message(); err == nil {
				msg.QueueStatus, err = decodeQueueStatus(m)
			}
		case common.FromRadioMetadata:
			if m, err = f.message(); err == nil {
				msg.Metadata, err = decodeMetadata(m)
			}
		default:
			if unknown == nil {
				unknown = &common.Unhandled{Tag: uint32(f.num), Raw: append([]byte(nil), f.raw...)}
			}
			return nil
		}
		msg.Variant = common.FromRadioVariant(f.num)
		return err
	})
	if err != nil {
		return nil, &common.DecodeError{Message: "FromRadio", Err: err}
	}
	if msg.Variant == common.FromRadioNone && unknown != nil {
		Logger.Debugf("unhandled FromRadio field %d (%d bytes)", unknown.Tag, len(unknown.Raw))
		msg.Unhandled = unknown
	}
	return msg, nil
}

// --------------------------------------------------------------------------
// Mesh packets
// --------------------------------------------------------------------------

func appendMeshPacket(e *encoder, p *common.MeshPacket) {
	e.fixed32(1, uint32(p.From))
	e.fixed32(2, uint32(p.To))
	e.varint(3, uint64(p.Channel))
	if p.Decoded != nil {
		e.message(4, func(e *encoder) { appendData(e, p.Decoded) })
	} else if len(p.Encrypted) > 0 {
		e.bytesAlways(5, p.Encrypted)
	}
	e.fixed32(6, p.ID)
	e.fixed32(7, p.RxTime)
	e.float(8, p.RxSNR)
	e.varint(9, uint64(p.HopLimit))
	e.bool(10, p.WantAck)
	e.varint(11, uint64(p.Priority))
	e.int32(12, p.RxRSSI)
	e.varint(15, uint64(p.HopStart))
}

func decodeMeshPacket(b []byte) (*common.MeshPacket, error) {
	p := &common.MeshPacket{}
	err := forEachField(b, func(f field) error {
		var err error
		var v uint32
		switch f.num {
		case 1:
			v, err = f.fixed32()
			p.From = common.NodeNum(v)
		case 2:
			v, err = f.fixed32()
			p.To = common.NodeNum(v)
		case 3:
			p.Channel, err = f.uint32()
		case 4:
			var m []byte
			if m, err = f.message(); err == nil {
				p.Decoded, err = decodeData(m)
			}
		case 5:
			p.Encrypted, err = f.bytes()
		case 6:
			p.ID, err = f.fixed32()
		case 7:
			p.RxTime, err = f.fixed32()
		case 8:
			p.RxSNR, err = f.float()
		case 9:
			p.HopLimit, err = f.uint32()
		case 10:
			p.WantAck, err = f.bool()
		case 11:
			v, err = f.uint32()
			p.Priority = common.Priority(v)
		case 12:
			p.RxRSSI, err = f.int32()
		case 15:
			p.HopStart, err = f.uint32()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("mesh packet: %w", err)
	}
	return p, nil
}

func appendData(e *encoder, d *common.Data) {
	e.varint(1, uint64(d.PortNum))
	e.bytes(2, d.Payload)
	e.bool(3, d.WantResponse)
	e.fixed32(4, d.Dest)
	e.fixed32(5, d.Source)
	e.fixed32(6, d.RequestID)
	e.fixed32(7, d.ReplyID)
}

func decodeData(b []byte) (*common.Data, error) {
	d := &common.Data{}
	err := forEachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var v uint32
			v, err = f.uint32()
			d.PortNum = common.PortNum(v)
		case 2:
			d.Payload, err = f.bytes()
		case 3:
			d.WantResponse, err = f.bool()
		case 4:
			d.Dest, err = f.fixed32()
		case 5:
			d.Source, err = f.fixed32()
		case 6:
			d.RequestID, err = f.fixed32()
		case 7:
			d.ReplyID, err = f.fixed32()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	return d, nil
}

// --------------------------------------------------------------------------
// Handshake records
// --------------------------------------------------------------------------

func decodeMyInfo(b []byte) (*common.MyNodeInfo, error) {
	info := &common.MyNodeInfo{}
	err := forEachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			var v uint32
			v, err = f.uint32()
			info.MyNodeNum = common.NodeNum(v)
		case 8:
			info.RebootCount, err = f.uint32()
		case 11:
			info.MinAppVersion, err = f.uint32()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("my info: %w", err)
	}
	return info, nil
}

func decodeMetadata(b []byte) (*common.DeviceMetadata, error) {
	meta := &common.DeviceMetadata{}
	err := forEachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			meta.FirmwareVersion, err = f.string()
		case 2:
			meta.DeviceStateVersion, err = f.uint32()
		case 9:
			meta.HwModel, err = f.uint32()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	return meta, nil
}

// decodeConfigRecord keeps the first section of a Config or ModuleConfig
// message undecoded
func decodeConfigRecord(b []byte) (*common.ConfigRecord, error) {
	rec := &common.ConfigRecord{}
	found := false
	err := forEachField(b, func(f field) error {
		if found {
			return nil
		}
		raw, err := f.bytes()
		rec.Section = uint32(f.num)
		rec.Raw = raw
		found = true
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return rec, nil
}

func decodeChannel(b []byte) (*common.Channel, error) {
	ch := &common.Channel{}
	err := forEachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			ch.Index, err = f.uint32()
		case 2:
			var m []byte
			if m, err = f.message(); err == nil {
				err = forEachField(m, func(f field) error {
					if f.num != 3 {
						return nil
					}
					var err error
					ch.Name, err = f.string()
					return err
				})
			}
		case 3:
			ch.Role, err = f.uint32()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("channel: %w", err)
	}
	return ch, nil
}

func decodeQueueStatus(b []byte) (*common.QueueStatus, error) {
	qs := &common.QueueStatus{}
	err := forEachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			qs.Res, err = f.int32()
		case 2:
			qs.Free, err = f.uint32()
		case 3:
			qs.MaxLen, err = f.uint32()
		case 4:
			qs.MeshPacketID, err = f.uint32()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("queue status: %w", err)
	}
	return qs, nil
}

func decodeLogRecord(b []byte) (*common.LogRecord, error) {
	rec := &common.LogRecord{}
	err := forEachField(b, func(f field) error {
		var err error
		switch f.num {
		case 1:
			rec.Message, err = f.string()
		case 2:
			rec.Time, err = f.fixed32()
		case 3:
			rec.Source, err = f.string()
		case 4:
			rec.Level, err = f.uint32()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("log record: %w", err)
	}
	return rec, nil
}
