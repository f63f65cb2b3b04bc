package correlator

import (
	"context"
	"errors"
	"github.com/ValentinKolb/meshlink/lib/util"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"sync"
	"sync/atomic"
	"time"
)

var Logger = logger.GetLogger("mesh/correlator")

// maxIDAttempts bounds the number of draws in NextID
const maxIDAttempts = 16

// ErrDuplicateID is returned by Register when the id is already pending
var ErrDuplicateID = errors.New("packet id already pending")

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Expectation tells the correlator which inbound packet completes a request
type Expectation int

const (
	// ExpectAck completes on the routing packet acknowledging the request
	ExpectAck Expectation = iota
	// ExpectResponse completes on the first non-routing packet answering the
	// request. Positive routing acks are ignored, a NAK still fails it.
	ExpectResponse
)

func (e Expectation) String() string {
	if e == ExpectResponse {
		return "response"
	}
	return "ack"
}

// Result is what a completed request resolved with
type Result struct {
	// Packet is the ack or response packet
	Packet *common.MeshPacket
	// Routing is the decoded routing payload if Packet is an ack
	Routing *common.Routing
	// RTT is the time between registration and resolution
	RTT time.Duration
}

// Pending is an outstanding request. It completes exactly once, either with a
// Result or with an error.
type Pending struct {
	ID       uint32
	IssuedAt time.Time
	Deadline time.Time
	Expect   Expectation

	done   chan struct{}
	once   sync.Once
	result Result
	err    error
}

// Done returns a channel that is closed when the request completed
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Result returns the outcome. It must only be called after Done is closed.
func (p *Pending) Result() (Result, error) {
	return p.result, p.err
}

// Wait blocks until the request completed or ctx is done. A cancelled ctx
// does not complete the request, it only stops waiting.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Timeout returns the timeout the request was registered with
func (p *Pending) Timeout() time.Duration {
	return p.Deadline.Sub(p.IssuedAt)
}

// complete stores the outcome, only the first call has an effect
func (p *Pending) complete(res Result, err error) {
	p.once.Do(func() {
		p.result = res
		p.err = err
		close(p.done)
	})
}

// --------------------------------------------------------------------------
// Correlator
// --------------------------------------------------------------------------

// Options configures a Correlator
type Options struct {
	// DefaultTimeout is used when Register is called with a timeout <= 0
	DefaultTimeout time.Duration
	// IDSource draws candidate packet ids, nil uses a seeded generator
	IDSource func() uint32
}

// Correlator matches inbound packets to outstanding requests by packet id and
// expires requests at their deadline. It is safe for concurrent use.
type Correlator struct {
	pending        *xsync.MapOf[uint32, *Pending]
	defaultTimeout time.Duration

	idMu sync.Mutex
	ids  func() uint32

	mu        sync.Mutex // protects deadlines
	deadlines *util.DeadlineHeap[uint32]
	wake      chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	sweeper  sync.WaitGroup

	closed   atomic.Bool
	closeErr atomic.Pointer[error]

	resolved atomic.Uint64
	timedOut atomic.Uint64
}

// New creates a correlator and starts its deadline sweeper
func New(opts Options) *Correlator {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = common.DefaultRequestTimeout
	}
	ids := opts.IDSource
	if ids == nil {
		ids = util.NewSeededRand().Uint32
	}

	c := &Correlator{
		pending:        xsync.NewMapOf[uint32, *Pending](),
		defaultTimeout: opts.DefaultTimeout,
		ids:            ids,
		deadlines:      util.NewDeadlineHeap[uint32](),
		wake:           make(chan struct{}, 1),
		stop:           make(chan struct{}),
	}

	c.sweeper.Add(1)
	go c.sweep()
	return c
}

// NextID draws a non-zero packet id that is not pending. It gives up with
// common.ErrIDSpaceExhausted after a bounded number of draws.
func (c *Correlator) NextID() (uint32, error) {
	c.idMu.Lock()
	defer c.idMu.Unlock()

	for i := 0; i < maxIDAttempts; i++ {
		id := c.ids()
		if id == 0 {
			continue
		}
		if _, taken := c.pending.Load(id); taken {
			Logger.Debugf("packet id %08x collides with a pending request, drawing again", id)
			continue
		}
		return id, nil
	}
	return 0, common.ErrIDSpaceExhausted
}

// Register records a pending request for id. It fails with ErrDuplicateID if
// the id is already pending, an existing entry is never overwritten.
func (c *Correlator) Register(id uint32, timeout time.Duration, expect Expectation) (*Pending, error) {
	if id == 0 {
		return nil, errors.New("packet id 0 can not be correlated")
	}
	if c.closed.Load() {
		return nil, c.closedError()
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	now := time.Now()
	p := &Pending{
		ID:       id,
		IssuedAt: now,
		Deadline: now.Add(timeout),
		Expect:   expect,
		done:     make(chan struct{}),
	}
	if _, loaded := c.pending.LoadOrStore(id, p); loaded {
		return nil, ErrDuplicateID
	}

	c.mu.Lock()
	c.deadlines.Schedule(id, p.Deadline)
	first, _, _ := c.deadlines.Peek()
	c.mu.Unlock()

	// the sweeper only needs to recompute its timer if this is the new earliest deadline
	if first == id {
		c.poke()
	}

	// CancelAll may have run between the closed check and the store
	if c.closed.Load() {
		c.finish(id, Result{}, c.closedError())
	}
	return p, nil
}

// Reserve draws a free id and registers it in one step
func (c *Correlator) Reserve(timeout time.Duration, expect Expectation) (*Pending, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id, err := c.NextID()
		if err != nil {
			return nil, err
		}
		p, err := c.Register(id, timeout, expect)
		if errors.Is(err, ErrDuplicateID) {
			// lost a race against a concurrent Register
			continue
		}
		return p, err
	}
	return nil, common.ErrIDSpaceExhausted
}

// Resolve completes the request with a result. It returns false if no such
// request is pending (already resolved, expired or never registered).
func (c *Correlator) Resolve(id uint32, res Result) bool {
	return c.finish(id, res, nil)
}

// Fail completes the request with an error
func (c *Correlator) Fail(id uint32, err error) bool {
	return c.finish(id, Result{}, err)
}

// Match offers an inbound packet to the correlator. routing is the decoded
// routing payload for packets on the routing port (nil otherwise). It returns
// true if the packet completed a pending request.
func (c *Correlator) Match(pkt *common.MeshPacket, routing *common.Routing) bool {
	if pkt == nil || pkt.Decoded == nil || pkt.Decoded.RequestID == 0 {
		return false
	}
	id := pkt.Decoded.RequestID
	p, ok := c.pending.Load(id)
	if !ok {
		return false
	}

	res := Result{Packet: pkt, Routing: routing, RTT: time.Since(p.IssuedAt)}

	if pkt.Decoded.PortNum == common.PortRoutingApp {
		if routing != nil && routing.ErrorReason != common.RoutingNone {
			return c.finish(id, res, &common.AckError{PacketID: id, Reason: routing.ErrorReason})
		}
		if p.Expect == ExpectAck {
			return c.finish(id, res, nil)
		}
		// positive ack of a request that waits for the actual response
		return false
	}

	if p.Expect == ExpectResponse {
		return c.finish(id, res, nil)
	}
	return false
}

// CancelAll fails every pending request with err and rejects further
// registrations with the same error
func (c *Correlator) CancelAll(err error) int {
	if err == nil {
		err = &common.ConnectionClosedError{}
	}
	c.closeErr.CompareAndSwap(nil, &err)
	c.closed.Store(true)

	n := 0
	c.pending.Range(func(id uint32, _ *Pending) bool {
		if c.finish(id, Result{}, err) {
			n++
		}
		return true
	})
	return n
}

// Close cancels all pending requests with err and stops the sweeper
func (c *Correlator) Close(err error) {
	c.CancelAll(err)
	c.stopOnce.Do(func() { close(c.stop) })
	c.sweeper.Wait()
}

// Len returns the number of pending requests
func (c *Correlator) Len() int {
	return c.pending.Size()
}

// Get returns the pending request for id
func (c *Correlator) Get(id uint32) (*Pending, bool) {
	return c.pending.Load(id)
}

// Stats returns the number of requests resolved successfully and the number
// of requests that timed out
func (c *Correlator) Stats() (resolved, timedOut uint64) {
	return c.resolved.Load(), c.timedOut.Load()
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// finish removes the entry and completes it. LoadAndDelete makes sure only
// one of resolve, fail, expire and cancel wins.
func (c *Correlator) finish(id uint32, res Result, err error) bool {
	p, ok := c.pending.LoadAndDelete(id)
	if !ok {
		return false
	}

	c.mu.Lock()
	c.deadlines.Remove(id)
	c.mu.Unlock()

	if err == nil {
		c.resolved.Add(1)
	}
	p.complete(res, err)
	return true
}

func (c *Correlator) closedError() error {
	if e := c.closeErr.Load(); e != nil {
		return *e
	}
	return &common.ConnectionClosedError{}
}

// poke wakes the sweeper without blocking
func (c *Correlator) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// sweep expires requests at their deadline. It sleeps until the earliest
// deadline and is woken early when an earlier one is registered.
func (c *Correlator) sweep() {
	defer c.sweeper.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		c.mu.Lock()
		_, next, ok := c.deadlines.Peek()
		c.mu.Unlock()

		wait := time.Hour
		if ok {
			wait = time.Until(next)
			if wait < 0 {
				wait = 0
			}
		}
		timer.Reset(wait)

		select {
		case <-c.stop:
			return
		case <-c.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case now := <-timer.C:
			c.expire(now)
		}
	}
}

// expire fails every request whose deadline passed
func (c *Correlator) expire(now time.Time) {
	c.mu.Lock()
	expired := c.deadlines.PopExpired(now)
	c.mu.Unlock()

	for _, id := range expired {
		p, ok := c.pending.Load(id)
		if !ok {
			continue
		}
		err := &common.RequestTimeoutError{PacketID: id, Timeout: p.Timeout()}
		if c.finish(id, Result{}, err) {
			c.timedOut.Add(1)
			Logger.Debugf("request %08x timed out after %s", id, p.Timeout())
		}
	}
}
