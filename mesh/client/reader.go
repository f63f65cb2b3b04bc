package client

import (
	"errors"
	"fmt"
	"github.com/ValentinKolb/meshlink/lib/events"
	"github.com/ValentinKolb/meshlink/mesh/codec"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/ValentinKolb/meshlink/mesh/framing"
	"time"
)

// --------------------------------------------------------------------------
// Reader
// --------------------------------------------------------------------------

// readLoop is the only goroutine that reads the transport, writes the node
// database and publishes receive events
func (c *Connection) readLoop() {
	defer c.workers.Done()

	for env, err := range c.deframer.Envelopes(c.transport) {
		if err != nil {
			var fe *common.FramingError
			if errors.As(err, &fe) {
				Logger.Debugf("%s: %v", c.transport.Name(), fe)
				continue
			}
			// read errors are expected once the connection is closing
			select {
			case <-c.closing:
			default:
				c.shutdown(&common.TransportError{Op: "read", Err: err})
			}
			return
		}

		c.lastRx.Store(c.now().UnixNano())
		c.stats.received(len(env.Payload) + framing.HeaderSize)
		c.handleEnvelope(env.Payload)
	}
}

// handleEnvelope decodes one envelope and routes the message
func (c *Connection) handleEnvelope(payload []byte) {
	msg, err := c.codec.DecodeFromRadio(payload)
	if err != nil {
		c.stats.decodeFailed()
		Logger.Warningf("%s: skipping envelope: %v", c.transport.Name(), err)
		return
	}

	if msg.Unhandled != nil {
		c.stats.unhandledMessage()
		Logger.Debugf("unhandled message (field %d, %d bytes)", msg.Unhandled.Tag, len(msg.Unhandled.Raw))
		c.dispatcher.Publish(events.UnhandledReceived{Message: msg})
		return
	}

	switch msg.Variant {
	case common.FromRadioMyInfo, common.FromRadioMetadata, common.FromRadioConfig,
		common.FromRadioModuleConfig, common.FromRadioChannel:
		c.localMu.Lock()
		c.local.Apply(msg)
		c.localMu.Unlock()

	case common.FromRadioNodeInfo:
		if rec, ok := c.nodes.ApplyNodeInfo(msg.NodeInfo, c.now()); ok {
			c.dispatcher.Publish(events.NodeUpdated{Node: rec})
		}

	case common.FromRadioConfigCompleteID:
		c.handleConfigComplete(msg.ConfigCompleteID)

	case common.FromRadioPacket:
		c.handlePacket(msg.Packet)

	case common.FromRadioQueueStatus:
		c.handleQueueStatus(msg.QueueStatus)

	case common.FromRadioLogRecord:
		if msg.LogRecord != nil {
			Logger.Debugf("device log [%s] %s", msg.LogRecord.Source, msg.LogRecord.Message)
		}

	case common.FromRadioRebooted:
		Logger.Warningf("%s: device rebooted", c.transport.Name())
		c.shutdown(common.ErrDeviceRebooted)

	default:
		// no variant and no unknown field, nothing to hand out
		Logger.Debugf("%s: ignoring empty message %08x", c.transport.Name(), msg.ID)
	}
}

// handleConfigComplete finishes the handshake if the nonce matches
func (c *Connection) handleConfigComplete(nonce uint32) {
	if nonce != c.nonce {
		Logger.Debugf("ignoring config complete for foreign nonce %08x", nonce)
		return
	}
	if !c.sm.Transition(StateConfigHandshake, StateConnected) {
		return
	}

	c.localMu.Lock()
	c.local.Nonce = nonce
	local := c.local.Clone()
	c.localMu.Unlock()

	if ok, err := checkFirmware(c.config.MinFirmwareVersion, local.Metadata.FirmwareVersion); err != nil {
		Logger.Warningf("firmware check skipped: %v", err)
	} else if !ok {
		Logger.Warningf("firmware %s is older than %s, some messages may not decode",
			local.Metadata.FirmwareVersion, c.config.MinFirmwareVersion)
	}

	Logger.Infof("connected to %s via %s (firmware %s, %d nodes)",
		local.Num(), c.transport.Name(), local.Metadata.FirmwareVersion, c.nodes.Len())

	close(c.handshakeDone)
	c.dispatcher.Publish(events.ConnectionEstablished{
		Transport: c.transport.Name(),
		Local:     local,
		Nodes:     c.nodes.Len(),
		At:        c.now(),
	})
}

// handleQueueStatus tracks the free slots of the device's transmit queue. A
// non zero result means the device refused the packet.
func (c *Connection) handleQueueStatus(qs *common.QueueStatus) {
	if qs == nil {
		return
	}
	c.queueFree.Store(qs.Free)
	if qs.Res != 0 && qs.MeshPacketID != 0 {
		err := fmt.Errorf("device rejected packet %08x (queue result %d, %d slots free)", qs.MeshPacketID, qs.Res, qs.Free)
		if c.correlator.Fail(qs.MeshPacketID, err) {
			Logger.Warningf("device rejected packet %08x (queue result %d)", qs.MeshPacketID, qs.Res)
		}
	}
}

// handlePacket updates correlator and node database and publishes the
// packet as a typed event
func (c *Connection) handlePacket(pkt *common.MeshPacket) {
	if pkt == nil {
		return
	}
	now := c.now()

	var payload any
	if pkt.Decoded != nil {
		var err error
		if payload, err = codec.DecodePayload(pkt.Decoded); err != nil {
			c.stats.decodeFailed()
			Logger.Warningf("packet %08x on %s: %v", pkt.ID, pkt.Port(), err)
			payload = nil
		}
	}

	// complete a pending request
	routing, _ := payload.(*common.Routing)
	if pending, ok := c.correlator.Get(requestID(pkt)); ok && c.correlator.Match(pkt, routing) {
		c.stats.resolved(time.Since(pending.IssuedAt))
	}

	// everything heard from a node updates its record
	if rec, ok := c.nodes.ApplyPacket(pkt, payload, now); ok {
		c.dispatcher.Publish(events.NodeUpdated{Node: rec})
	}

	switch p := payload.(type) {
	case string:
		c.dispatcher.Publish(events.TextReceived{Packet: pkt, Text: p})
	case *common.Position:
		c.dispatcher.Publish(events.PositionReceived{Packet: pkt, Position: p})
	case *common.User:
		c.dispatcher.Publish(events.UserReceived{Packet: pkt, User: p})
	case *common.Telemetry:
		c.dispatcher.Publish(events.TelemetryReceived{Packet: pkt, Telemetry: p})
	case *common.Routing:
		c.dispatcher.Publish(events.RoutingReceived{Packet: pkt, Routing: p})
	case *common.AdminMessage:
		c.handleAdmin(pkt, p)
		c.dispatcher.Publish(events.AdminReceived{Packet: pkt, Admin: p})
	default:
		if pkt.Decoded != nil {
			c.dispatcher.Publish(events.DataReceived{Packet: pkt})
		}
	}
}

// handleAdmin applies node removals confirmed by the local device
func (c *Connection) handleAdmin(pkt *common.MeshPacket, admin *common.AdminMessage) {
	if admin.RemoveByNodenum == 0 {
		return
	}
	c.localMu.RLock()
	self := c.local.Num()
	c.localMu.RUnlock()

	if self != 0 && pkt.From != self {
		Logger.Debugf("ignoring node removal from remote node %s", pkt.From)
		return
	}
	if c.nodes.Remove(admin.RemoveByNodenum) {
		Logger.Infof("node %s removed by device", admin.RemoveByNodenum)
		c.dispatcher.Publish(events.NodeRemoved{Num: admin.RemoveByNodenum})
	}
}

func requestID(pkt *common.MeshPacket) uint32 {
	if pkt.Decoded == nil {
		return 0
	}
	return pkt.Decoded.RequestID
}
