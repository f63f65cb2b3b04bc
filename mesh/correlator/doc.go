// Package correlator tracks outstanding requests to the radio and matches
// the device's answers to them by packet id.
//
// A request is registered under its packet id together with a deadline and
// an expectation (ack or response). The reader of a connection offers every
// inbound packet to Match. A routing packet whose request_id equals a
// pending id acknowledges it, a routing packet carrying an error reason is a
// NAK and fails the request with *common.AckError. Requests that expect a
// response ignore positive acks and complete on the first non-routing packet
// that references them.
//
// Guarantees:
//   - Every request completes exactly once: resolved, failed, expired or
//     cancelled. The entry is removed from the pending table when it completes.
//   - Resolution only signals the waiter, it never runs caller code. The
//     reader is never blocked by a slow caller.
//   - Pending ids are unique. NextID draws uniformly from the non-zero 32-bit
//     space and draws again on collision, Register refuses duplicates.
//   - Expired requests fail with *common.RequestTimeoutError, cancelled ones
//     with the error passed to CancelAll (usually *common.ConnectionClosedError).
//
// Deadlines are kept in a heap (lib/util.DeadlineHeap) and swept by a single
// goroutine that sleeps until the earliest deadline.
//
// There is no retry at this layer. The client package layers an optional
// RetryPolicy on top.
package correlator
