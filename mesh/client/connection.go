package client

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/meshlink/lib/events"
	"github.com/ValentinKolb/meshlink/lib/nodedb"
	"github.com/ValentinKolb/meshlink/lib/util"
	"github.com/ValentinKolb/meshlink/mesh/codec"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/ValentinKolb/meshlink/mesh/correlator"
	"github.com/ValentinKolb/meshlink/mesh/framing"
	"github.com/ValentinKolb/meshlink/mesh/transport"
	"github.com/ValentinKolb/meshlink/mesh/transport/tcp"
	"github.com/lni/dragonboat/v4/logger"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("mesh/client")

// outFrame is one framed envelope waiting in the outbox
type outFrame struct {
	data []byte
	kind common.ToRadioVariant
}

// Connection is a session with one radio device. It is created by Open or
// Dial and can not be reopened: once it reached Disconnected a new
// Connection has to be opened (optionally seeded with the node snapshot of
// this one).
type Connection struct {
	config     common.ConnectionConfig
	transport  transport.ITransport
	codec      codec.ICodec
	ids        codec.IDSource
	now        func() time.Time
	correlator *correlator.Correlator
	nodes      *nodedb.NodeDB
	dispatcher *events.Dispatcher
	deframer   *framing.Deframer
	outbox     *util.MPSC[outFrame]
	stats      *connStats

	sm    stateMachine
	nonce uint32

	localMu sync.RWMutex
	local   common.LocalNode

	// liveness bookkeeping (unix nanos)
	lastRx    atomic.Int64
	probeSent atomic.Int64
	queueFree atomic.Uint32

	handshakeDone chan struct{} // closed once config complete arrived
	closing       chan struct{} // closed when the connection starts closing
	writerDone    chan struct{}
	stopLiveness  chan struct{}
	done          chan struct{} // closed in Disconnected
	err           atomic.Pointer[error]
	workers       sync.WaitGroup
}

// --------------------------------------------------------------------------
// Factory Methods
// --------------------------------------------------------------------------

// Dial creates the transport described by config.Transport and opens a
// connection over it
func Dial(ctx context.Context, config common.ConnectionConfig, opts ...Option) (*Connection, error) {
	config = config.WithDefaults()

	var t transport.ITransport
	var err error
	switch config.Transport.Type {
	case common.TransportTCP:
		t, err = tcp.NewTCPTransport(config.Transport)
	default:
		err = fmt.Errorf("invalid transport %s", config.Transport.Type)
	}
	if err != nil {
		return nil, err
	}
	return Open(ctx, t, config, opts...)
}

// Open opens t and runs the config handshake. It returns once the device
// sent the config complete message matching the handshake nonce, at that
// point the node database holds the node dump of the device and
// connection.established was published.
//
// If the handshake does not complete within config.HandshakeTimeout (or ctx
// ends first) the transport is closed and an error is returned.
func Open(ctx context.Context, t transport.ITransport, config common.ConnectionConfig, opts ...Option) (*Connection, error) {
	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	c := newConnection(t, config, o)
	c.sm.Transition(StateDisconnected, StateConnecting)

	// open the transport
	if err := t.Open(ctx); err != nil {
		c.shutdown(err)
		<-c.done
		return nil, err
	}
	if w, ok := t.(transport.IWaker); ok {
		if err := w.Wake(ctx); err != nil {
			err = &common.TransportError{Op: "wake", Err: err}
			c.shutdown(err)
			<-c.done
			return nil, err
		}
	}

	// the nonce is fixed before the reader can see a config complete
	c.nonce = c.ids()

	// start the reader and writer
	c.sm.Transition(StateConnecting, StateConfigHandshake)
	c.lastRx.Store(c.now().UnixNano())
	c.workers.Add(2)
	go c.readLoop()
	go c.writeLoop()

	// request the config, the device answers with its full state
	if err := c.enqueue(common.NewWantConfig(c.nonce)); err != nil {
		c.abortHandshake(err)
		<-c.done
		return nil, err
	}
	Logger.Infof("requested config from %s (nonce %08x)", t.Name(), c.nonce)

	if err := c.awaitHandshake(ctx); err != nil {
		if c.abortHandshake(err) {
			<-c.done
			return nil, err
		}
		// config complete won the race against the timeout
		if c.State() != StateConnected {
			<-c.done
			return nil, c.terminalError(err)
		}
	}

	c.workers.Add(1)
	go c.livenessLoop()

	return c, nil
}

func newConnection(t transport.ITransport, config common.ConnectionConfig, o options) *Connection {
	c := &Connection{
		config:    config,
		transport: t,
		codec:     o.codec,
		ids:       o.ids,
		now:       o.now,
		correlator: correlator.New(correlator.Options{
			DefaultTimeout: config.RequestTimeout,
			IDSource:       o.ids,
		}),
		nodes:         nodedb.New(),
		dispatcher:    o.dispatcher,
		deframer:      framing.NewDeframer(config.MaxEnvelopeSize),
		outbox:        util.NewMPSC[outFrame](),
		handshakeDone: make(chan struct{}),
		closing:       make(chan struct{}),
		writerDone:    make(chan struct{}),
		stopLiveness:  make(chan struct{}),
		done:          make(chan struct{}),
	}
	if c.codec == nil {
		c.codec = codec.NewProtoCodec(o.ids)
	}
	if c.dispatcher == nil {
		c.dispatcher = events.NewDispatcher()
	}
	if o.seed != nil {
		n := c.nodes.Seed(*o.seed)
		Logger.Debugf("seeded node database with %d nodes", n)
	}

	c.deframer.OnNoise = func(b []byte) {
		Logger.Debugf("device console: %q", b)
	}
	c.sm.onChange = func(from, to ConnectionState) {
		Logger.Debugf("%s: %s -> %s", t.Name(), from, to)
	}
	c.stats = newConnStats(t.Name(), map[string]func() float64{
		gaugePending:   func() float64 { return float64(c.correlator.Len()) },
		gaugeNodes:     func() float64 { return float64(c.nodes.Len()) },
		gaugeQueueFree: func() float64 { return float64(c.queueFree.Load()) },
		gaugeConnected: func() float64 {
			if c.State() == StateConnected {
				return 1
			}
			return 0
		},
	})
	return c
}

// --------------------------------------------------------------------------
// Public API
// --------------------------------------------------------------------------

// State returns the current lifecycle state
func (c *Connection) State() ConnectionState {
	return c.sm.Current()
}

// Done returns a channel that is closed when the connection reached
// Disconnected, either by Close or because the link was lost
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that terminated the connection. It is nil while the
// connection is alive and after a regular Close.
func (c *Connection) Err() error {
	if e := c.err.Load(); e != nil {
		return *e
	}
	return nil
}

// Nodes returns a read-only snapshot of the node database
func (c *Connection) Nodes() nodedb.Snapshot {
	return c.nodes.Snapshot()
}

// LocalNode returns what the device reported about itself during the
// handshake
func (c *Connection) LocalNode() common.LocalNode {
	c.localMu.RLock()
	defer c.localMu.RUnlock()
	return c.local.Clone()
}

// Subscribe registers handler for topic, see events.Dispatcher.Subscribe.
// Handlers run on the reader goroutine and must not call Close directly.
func (c *Connection) Subscribe(topic events.Topic, handler events.Handler) *events.Subscription {
	return c.dispatcher.Subscribe(topic, handler)
}

// Dispatcher returns the dispatcher the connection publishes on (for
// events.SubscribeFunc)
func (c *Connection) Dispatcher() *events.Dispatcher {
	return c.dispatcher
}

// Transport returns the name of the transport
func (c *Connection) Transport() string {
	return c.transport.Name()
}

// Stats returns the counters of the connection
func (c *Connection) Stats() Stats {
	st := Stats{
		State:           c.State(),
		Transport:       c.transport.Name(),
		FramingErrors:   c.deframer.FramingErrors(),
		NoiseBytes:      c.deframer.NoiseBytes(),
		PendingRequests: c.correlator.Len(),
		Nodes:           c.nodes.Len(),
		QueueFree:       c.queueFree.Load(),
		LastRxTime:      time.Unix(0, c.lastRx.Load()),
	}
	st.Resolved, st.TimedOut = c.correlator.Stats()
	c.stats.fill(&st)
	return st
}

// WriteMetrics writes the metrics of the connection in the Prometheus text
// format
func (c *Connection) WriteMetrics(w io.Writer) {
	c.stats.writePrometheus(w)
}

// Close ends the connection. A connected session sends a best effort
// disconnect to the device, pending requests fail with
// common.ErrConnectionClosed and connection.closed is published. Close
// returns once the connection reached Disconnected. Calling Close again (or
// after the link was lost) is a no-op.
//
// Close must not be called from an event handler, use `go conn.Close()`.
func (c *Connection) Close() error {
	c.shutdown(nil)
	<-c.done
	return nil
}

// --------------------------------------------------------------------------
// Lifecycle
// --------------------------------------------------------------------------

// shutdown moves a live connection to Closing and tears it down. cause is
// nil for a regular Close.
func (c *Connection) shutdown(cause error) {
	prev, ok := c.sm.BeginClosing()
	if !ok {
		return
	}
	c.teardown(prev, cause)
}

// abortHandshake closes a connection that is still in the handshake. It
// returns false if the handshake completed in the meantime.
func (c *Connection) abortHandshake(cause error) bool {
	if !c.sm.Transition(StateConfigHandshake, StateClosing) {
		return false
	}
	c.teardown(StateConfigHandshake, cause)
	return true
}

// teardown releases everything owned by the connection. The workers are
// awaited in the background because teardown may run on one of them.
func (c *Connection) teardown(prev ConnectionState, cause error) {
	close(c.closing)
	if cause != nil {
		c.err.Store(&cause)
		Logger.Warningf("%s: connection terminated: %v", c.transport.Name(), cause)
	} else {
		Logger.Infof("%s: closing connection", c.transport.Name())
	}

	// reject everything that is still waiting
	n := c.correlator.CancelAll(&common.ConnectionClosedError{Cause: cause})
	if n > 0 {
		Logger.Debugf("rejected %d pending requests", n)
	}
	close(c.stopLiveness)

	// a regular close flushes the outbox and says goodbye
	if cause == nil && prev == StateConnected {
		_ = c.enqueue(common.NewDisconnect())
		c.outbox.Close()
		timer := time.NewTimer(c.config.WriteTimeout)
		select {
		case <-c.writerDone:
		case <-timer.C:
			Logger.Warningf("%s: outbox not flushed within %s", c.transport.Name(), c.config.WriteTimeout)
		}
		timer.Stop()
	}
	c.outbox.Abort()

	if err := c.transport.Close(); err != nil {
		Logger.Debugf("%s: close transport: %v", c.transport.Name(), err)
	}

	go c.finalize(prev, cause)
}

// finalize waits for the workers, publishes the terminal event and moves to
// Disconnected
func (c *Connection) finalize(prev ConnectionState, cause error) {
	c.workers.Wait()
	c.correlator.Close(&common.ConnectionClosedError{Cause: cause})

	if prev == StateConnected {
		if cause != nil {
			c.dispatcher.Publish(events.ConnectionLost{
				Transport: c.transport.Name(),
				Err:       cause,
				At:        c.now(),
			})
		} else {
			c.dispatcher.Publish(events.ConnectionClosed{
				Transport: c.transport.Name(),
				At:        c.now(),
			})
		}
	}

	c.stats.stop()
	c.sm.Transition(StateClosing, StateDisconnected)
	close(c.done)
}

// awaitHandshake blocks until config complete arrived, the connection broke,
// the handshake timed out or ctx ended
func (c *Connection) awaitHandshake(ctx context.Context) error {
	timer := time.NewTimer(c.config.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-c.handshakeDone:
		return nil
	case <-c.closing:
		return fmt.Errorf("config handshake failed: %w", c.terminalError(common.ErrConnectionClosed))
	case <-timer.C:
		return fmt.Errorf("%w after %s", common.ErrHandshakeTimeout, c.config.HandshakeTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// terminalError returns the error that ended the connection or fallback
func (c *Connection) terminalError(fallback error) error {
	if err := c.Err(); err != nil {
		return err
	}
	return fallback
}

// --------------------------------------------------------------------------
// Liveness
// --------------------------------------------------------------------------

// livenessLoop sends a heartbeat probe after IdleInterval without inbound
// data and declares the device lost if nothing arrives within
// KeepaliveDeadline after the probe
func (c *Connection) livenessLoop() {
	defer c.workers.Done()

	tick := min(c.config.IdleInterval, c.config.KeepaliveDeadline) / 4
	if tick < 5*time.Millisecond {
		tick = 5 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopLiveness:
			return
		case <-ticker.C:
		}

		now := c.now().UnixNano()
		lastRx := c.lastRx.Load()
		probe := c.probeSent.Load()

		switch {
		case probe != 0 && lastRx >= probe:
			// the device answered
			c.probeSent.Store(0)

		case probe != 0 && time.Duration(now-probe) >= c.config.KeepaliveDeadline:
			c.shutdown(fmt.Errorf("%w within %s", common.ErrKeepaliveTimeout, c.config.KeepaliveDeadline))
			return

		case probe == 0 && time.Duration(now-lastRx) >= c.config.IdleInterval:
			Logger.Debugf("%s: idle for %s, sending heartbeat", c.transport.Name(), time.Duration(now-lastRx))
			c.probeSent.Store(now)
			if err := c.enqueue(common.NewHeartbeat()); err != nil {
				return
			}
		}
	}
}
