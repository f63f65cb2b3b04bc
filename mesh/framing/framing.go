package framing

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"iter"
	"net"
)

var Logger = logger.GetLogger("mesh/framing")

const (
	// Start1 is the first byte of every envelope
	Start1 byte = 0x94
	// Start2 is the second byte of every envelope
	Start2 byte = 0xC3
	// HeaderSize is the size of marker plus length field
	HeaderSize = 4
	// readChunkSize is the size of a single read in Envelopes
	readChunkSize = 1024
)

// Envelope is one complete framed message. Payload is owned by the receiver.
type Envelope struct {
	Payload []byte
}

// --------------------------------------------------------------------------
// Outgoing
// --------------------------------------------------------------------------

// Frame prepends the envelope header to the payload. It fails with
// common.ErrEnvelopeTooLarge if the payload is larger than maxSize.
func Frame(payload []byte, maxSize int) ([]byte, error) {
	if err := checkSize(len(payload), maxSize); err != nil {
		return nil, err
	}
	out := make([]byte, HeaderSize+len(payload))
	putHeader(out[:HeaderSize], len(payload))
	copy(out[HeaderSize:], payload)
	return out, nil
}

// WriteFrame writes one envelope to w without copying the payload
func WriteFrame(w io.Writer, payload []byte, maxSize int) error {
	if err := checkSize(len(payload), maxSize); err != nil {
		return err
	}
	header := make([]byte, HeaderSize)
	putHeader(header, len(payload))

	b := net.Buffers{header, payload}
	_, err := b.WriteTo(w)
	return err
}

func checkSize(n, maxSize int) error {
	if maxSize <= 0 || maxSize > 0xFFFF {
		maxSize = 0xFFFF
	}
	if n > maxSize {
		return fmt.Errorf("payload of %d bytes exceeds %d: %w", n, maxSize, common.ErrEnvelopeTooLarge)
	}
	return nil
}

func putHeader(header []byte, n int) {
	header[0] = Start1
	header[1] = Start2
	binary.BigEndian.PutUint16(header[2:4], uint16(n))
}

// --------------------------------------------------------------------------
// Incoming
// --------------------------------------------------------------------------

// Deframer splits a byte stream into envelopes. It is not safe for concurrent
// use, a connection owns one Deframer and drives it from its reader.
type Deframer struct {
	buf     []byte
	maxSize int

	// OnNoise receives bytes that were not part of any envelope, usually
	// the debug console output of the device. The slice is only valid
	// during the call.
	OnNoise func(b []byte)

	noiseBytes   uint64
	framingError uint64
}

// NewDeframer creates a deframer that rejects payloads larger than maxSize
func NewDeframer(maxSize int) *Deframer {
	if maxSize <= 0 || maxSize > 0xFFFF {
		maxSize = common.DefaultMaxEnvelopeSize
	}
	return &Deframer{
		buf:     make([]byte, 0, 2*(HeaderSize+maxSize)),
		maxSize: maxSize,
	}
}

// Feed appends bytes read from the transport
func (d *Deframer) Feed(p []byte) {
	d.buf = append(d.buf, p...)
}

// Buffered returns the number of bytes waiting for the rest of their envelope
func (d *Deframer) Buffered() int {
	return len(d.buf)
}

// NoiseBytes returns the number of bytes seen outside of envelopes
func (d *Deframer) NoiseBytes() uint64 {
	return d.noiseBytes
}

// FramingErrors returns the number of resynchronisations
func (d *Deframer) FramingErrors() uint64 {
	return d.framingError
}

// Reset drops all buffered bytes and counters
func (d *Deframer) Reset() {
	d.buf = d.buf[:0]
	d.noiseBytes = 0
	d.framingError = 0
}

// Next returns the next complete envelope. ok is false when more bytes are
// needed. A non-nil error is always a *common.FramingError, the deframer has
// already resynchronised and Next can be called again.
func (d *Deframer) Next() (env Envelope, ok bool, err error) {
	for {
		// skip everything before the next start marker
		idx := bytes.IndexByte(d.buf, Start1)
		if idx < 0 {
			d.noise(len(d.buf))
			return Envelope{}, false, nil
		}
		if idx > 0 {
			d.noise(idx)
			continue
		}

		if len(d.buf) < 2 {
			return Envelope{}, false, nil
		}
		if d.buf[1] != Start2 {
			return Envelope{}, false, d.resync("start marker not followed by second marker byte")
		}

		if len(d.buf) < HeaderSize {
			return Envelope{}, false, nil
		}
		n := int(binary.BigEndian.Uint16(d.buf[2:4]))
		if n > d.maxSize {
			return Envelope{}, false, d.resync(fmt.Sprintf("length %d exceeds maximum %d", n, d.maxSize))
		}

		if len(d.buf) < HeaderSize+n {
			return Envelope{}, false, nil
		}

		payload := make([]byte, n)
		copy(payload, d.buf[HeaderSize:HeaderSize+n])
		d.consume(HeaderSize + n)
		return Envelope{Payload: payload}, true, nil
	}
}

// Envelopes returns a lazy sequence over the envelopes read from r.
// Framing errors are yielded with an empty envelope and iteration goes on.
// The first read error (io.EOF included) is yielded and ends the sequence.
func (d *Deframer) Envelopes(r io.Reader) iter.Seq2[Envelope, error] {
	return func(yield func(Envelope, error) bool) {
		// drain yields everything that is already buffered, it returns
		// false when the consumer stopped the iteration
		drain := func() bool {
			for {
				env, ok, err := d.Next()
				if err != nil {
					if !yield(Envelope{}, err) {
						return false
					}
					continue
				}
				if !ok {
					return true
				}
				if !yield(env, nil) {
					return false
				}
			}
		}

		chunk := make([]byte, readChunkSize)
		for {
			if !drain() {
				return
			}

			n, err := r.Read(chunk)
			if n > 0 {
				d.Feed(chunk[:n])
			}
			if err != nil {
				// envelopes completed by the final read come first
				if drain() {
					yield(Envelope{}, err)
				}
				return
			}
		}
	}
}

// Envelopes is a shortcut for NewDeframer(maxSize).Envelopes(r)
func Envelopes(r io.Reader, maxSize int) iter.Seq2[Envelope, error] {
	return NewDeframer(maxSize).Envelopes(r)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// resync drops the start marker at the head of the buffer and everything up
// to the next plausible start marker
func (d *Deframer) resync(reason string) error {
	next := bytes.IndexByte(d.buf[1:], Start1)
	discard := len(d.buf)
	if next >= 0 {
		discard = next + 1
	}
	d.consume(discard)
	d.framingError++
	Logger.Debugf("resync: %s, discarded %d bytes", reason, discard)
	return &common.FramingError{Reason: reason, Discarded: discard}
}

// noise hands the first n bytes to OnNoise and drops them
func (d *Deframer) noise(n int) {
	if n == 0 {
		return
	}
	d.noiseBytes += uint64(n)
	if d.OnNoise != nil {
		d.OnNoise(d.buf[:n])
	}
	d.consume(n)
}

// consume drops the first n bytes, reusing the buffer
func (d *Deframer) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
}
