// Package util provides generic building blocks used by the connection engine.
//
// The package contains:
//   - deadlineheap: a priority queue of keys ordered by deadline that also
//     supports key-based removal (used by the request correlator)
//   - mpsc: a lock-free Multi-Producer Single-Consumer queue (used as the
//     outbox of a connection so that a single writer owns the transport)
//   - functions: seed generation and jittered exponential backoff
//
// None of the types here know anything about the radio protocol.
package util
