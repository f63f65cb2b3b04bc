package client

import (
	"github.com/ValentinKolb/meshlink/lib/events"
	"github.com/ValentinKolb/meshlink/lib/nodedb"
	"github.com/ValentinKolb/meshlink/mesh/codec"
	"time"
)

// Option customizes a Connection created by Open or Dial
type Option func(o *options)

type options struct {
	seed       *nodedb.Snapshot
	codec      codec.ICodec
	ids        codec.IDSource
	dispatcher *events.Dispatcher
	now        func() time.Time
}

func defaultOptions() options {
	return options{
		ids: codec.RandomID,
		now: time.Now,
	}
}

// WithSeedNodes fills the node database of the new connection with the
// records of a previous one before the first message is read
func WithSeedNodes(s nodedb.Snapshot) Option {
	return func(o *options) {
		o.seed = &s
	}
}

// WithCodec replaces the protobuf codec
func WithCodec(c codec.ICodec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithIDSource sets the source of packet ids and handshake nonces. The
// source must never return 0.
func WithIDSource(ids codec.IDSource) Option {
	return func(o *options) {
		if ids != nil {
			o.ids = ids
		}
	}
}

// WithDispatcher publishes the events of the connection on d instead of a
// private dispatcher. Sharing a dispatcher keeps subscriptions alive across
// connections.
func WithDispatcher(d *events.Dispatcher) Option {
	return func(o *options) {
		o.dispatcher = d
	}
}

// WithClock overrides the clock used for last-heard times
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
