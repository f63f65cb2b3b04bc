// Package transport defines the contract between a mesh connection and the
// byte stream that carries its envelopes.
//
// The connection only needs an ordered, reliable byte stream: ITransport is
// io.ReadWriteCloser plus Open and Name. Media with special needs expose them
// through optional capability interfaces that the connection detects with a
// type assertion:
//
//   - IWaker: the transport needs a wake preamble before the handshake
//   - IFlusher: writes are buffered and must be flushed per envelope
//   - IDeadliner: writes can be bounded with a deadline
//
// Implementations live in the sub packages:
//
//   - tcp: the network API of the device (default port 4403)
//   - pipe: an in-memory link, used by tests and the simulated device
//
// Serial and BLE drivers are not part of this module, they can be plugged in
// by implementing ITransport.
package transport
