package client

import (
	"fmt"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/ValentinKolb/meshlink/mesh/framing"
	"github.com/ValentinKolb/meshlink/mesh/transport"
	"time"
)

// --------------------------------------------------------------------------
// Writer
// --------------------------------------------------------------------------

// enqueue encodes and frames msg and hands it to the writer. Frames of
// concurrent callers never interleave on the wire.
func (c *Connection) enqueue(msg *common.ToRadio) error {
	payload, err := c.codec.EncodeToRadio(msg)
	if err != nil {
		return err
	}
	frame, err := framing.Frame(payload, c.config.MaxEnvelopeSize)
	if err != nil {
		return fmt.Errorf("%s: %w", msg.Variant, err)
	}
	if !c.outbox.Push(&outFrame{data: frame, kind: msg.Variant}) {
		return &common.NotConnectedError{State: c.State().String()}
	}
	return nil
}

// writeLoop is the only goroutine that writes to the transport
func (c *Connection) writeLoop() {
	defer c.workers.Done()
	defer close(c.writerDone)

	deadliner, _ := c.transport.(transport.IDeadliner)
	flusher, _ := c.transport.(transport.IFlusher)

	for f := range c.outbox.Recv() {
		if deadliner != nil {
			if err := deadliner.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
				Logger.Debugf("set write deadline: %v", err)
			}
		}

		_, err := c.transport.Write(f.data)
		if err == nil && flusher != nil {
			err = flusher.Flush()
		}
		if err != nil {
			select {
			case <-c.closing:
			default:
				c.shutdown(&common.TransportError{Op: "write", Err: err})
			}
			return
		}

		c.stats.sent(len(f.data))
		Logger.Debugf("sent %s (%d bytes)", f.kind, len(f.data))
	}
}
