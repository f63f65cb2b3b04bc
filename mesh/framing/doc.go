// Package framing finds envelope boundaries in the byte stream exchanged with
// the radio and builds outgoing envelopes.
//
// Wire format of one envelope:
//   - 1 byte:  start marker 0x94
//   - 1 byte:  start marker 0xC3
//   - 2 bytes: payload length (uint16, big endian)
//   - N bytes: payload (one encoded FromRadio or ToRadio message)
//
// There is no integrity trailer. The firmware relies on the transport for
// that (serial and BLE links are short, TCP has its own checksum).
//
// The package focuses on:
//   - Buffering partial reads until an envelope is complete
//   - Resynchronising after corruption without dropping the stream
//   - Treating bytes outside of envelopes as device debug output
//
// Key Components:
//
//   - Frame / WriteFrame: build an outgoing envelope and reject payloads that
//     exceed the maximum envelope size.
//
//   - Deframer: incremental parser. Feed appends bytes, Next yields complete
//     envelopes. A Deframer belongs to exactly one connection and can be
//     Reset when a new connection starts.
//
//   - Envelopes: a lazy iter.Seq2 over the envelopes of an io.Reader.
//     Framing errors (*common.FramingError) are yielded and the sequence
//     continues, the first read error ends it.
//
// The same rules apply to stream transports (serial, BLE chunks) and to
// message bounded transports (TCP), an envelope may span several reads and
// one read may contain several envelopes.
package framing
