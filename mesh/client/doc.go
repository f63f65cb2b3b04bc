// Package client implements a connection to a mesh radio device.
//
// A Connection ties the lower layers together:
//
//	transport bytes -> framing.Deframer -> codec -> {state machine, nodedb, correlator} -> events
//	caller -> codec -> correlator.Register -> framing.Frame -> outbox -> writer -> transport
//
// Lifecycle:
//
// Open (or Dial, which builds a TCP transport from the config) drives the
// state machine Disconnected -> Connecting -> ConfigHandshake. The client
// sends want_config_id with a random nonce, the device answers with its own
// description (my info, metadata, config, channels), one node info per known
// node and finally config_complete_id echoing the nonce. Only then the
// connection is Connected, connection.established is published and Open
// returns. Before that, every send fails with common.ErrNotConnected.
//
// A connected session is watched by a liveness loop: after IdleInterval
// without inbound data a heartbeat is sent, if the device stays silent for
// KeepaliveDeadline the connection is lost. A lost connection (silent device,
// read or write failure, device reboot) publishes connection.lost exactly
// once and ends in Disconnected. There is no reconnect in place, open a new
// connection and seed it with the old node database:
//
//	next, err := client.Open(ctx, t, cfg, client.WithSeedNodes(old.Nodes()))
//
// Close sends a disconnect to the device, rejects pending requests with
// common.ErrConnectionClosed and publishes connection.closed.
//
// Concurrency:
//
// One reader goroutine decodes inbound envelopes, applies them to the node
// database and publishes events (handlers run on it, in order). One writer
// goroutine drains a lock-free MPSC outbox so frames from concurrent senders
// never interleave. All send methods are safe for concurrent use.
//
// Requests:
//
// SendText, SendData, SendPacket and RemoveNode return a *Request. Requests
// that asked for an ack or a response are tracked by the correlator and
// complete exactly once with the ack/response, a timeout
// (common.ErrRequestTimeout, device silent) or common.ErrConnectionClosed
// (link gone). SendAndWait adds retries with exponential backoff.
package client
