package client

import (
	"context"
	"errors"
	"github.com/ValentinKolb/meshlink/lib/util"
	"github.com/ValentinKolb/meshlink/mesh/codec"
	"github.com/ValentinKolb/meshlink/mesh/common"
	"github.com/ValentinKolb/meshlink/mesh/correlator"
	"time"
)

// --------------------------------------------------------------------------
// Requests
// --------------------------------------------------------------------------

// Request is a packet handed to the device. If the packet asked for an ack
// or a response the request is tracked and Wait returns the outcome.
type Request struct {
	Packet  *common.MeshPacket
	pending *correlator.Pending
}

// closedChan is returned by Done of untracked requests
var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// ID returns the packet id
func (r *Request) ID() uint32 {
	return r.Packet.ID
}

// Tracked reports whether the request waits for an ack or response
func (r *Request) Tracked() bool {
	return r.pending != nil
}

// Done returns a channel that is closed when the request completed. It is
// closed right away for untracked requests.
func (r *Request) Done() <-chan struct{} {
	if r.pending == nil {
		return closedChan
	}
	return r.pending.Done()
}

// Wait blocks until the ack or response arrived, the request timed out
// (common.ErrRequestTimeout), the connection went away
// (common.ErrConnectionClosed) or ctx ended. Untracked requests return
// common.ErrNoResponseExpected.
func (r *Request) Wait(ctx context.Context) (correlator.Result, error) {
	if r.pending == nil {
		return correlator.Result{}, common.ErrNoResponseExpected
	}
	return r.pending.Wait(ctx)
}

// --------------------------------------------------------------------------
// Retry Policy
// --------------------------------------------------------------------------

// RetryPolicy configures SendAndWait. The zero value sends once and uses the
// request timeout of the connection.
type RetryPolicy struct {
	// Attempts is the total number of sends, values < 1 mean 1
	Attempts int
	// Timeout per attempt, 0 uses the request timeout of the connection
	Timeout time.Duration
	// BaseDelay is the backoff before the second attempt, it doubles with
	// every further attempt up to MaxDelay (with +-10% jitter)
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy sends once
var DefaultRetryPolicy = RetryPolicy{Attempts: 1}

// retryable reports whether another attempt may succeed
func retryable(err error) bool {
	if errors.Is(err, common.ErrRequestTimeout) {
		return true
	}
	var nak *common.AckError
	if errors.As(err, &nak) {
		switch nak.Reason {
		case common.RoutingTimeout, common.RoutingMaxRetransmit, common.RoutingNoResponse, common.RoutingDutyCycleLimit:
			return true
		}
	}
	return false
}

// --------------------------------------------------------------------------
// Send API
// --------------------------------------------------------------------------

// SendText sends a text message to a node or to common.BroadcastNum. With
// wantAck the request completes when the mesh acknowledged the message.
func (c *Connection) SendText(text string, to common.NodeNum, wantAck bool) (*Request, error) {
	pkt, err := common.NewTextPacket(text, to, wantAck)
	if err != nil {
		return nil, err
	}
	return c.SendPacket(pkt, correlator.ExpectAck)
}

// SendData sends a raw payload on port. With wantResponse the request
// completes with the answer of the destination node.
func (c *Connection) SendData(payload []byte, port common.PortNum, to common.NodeNum, wantResponse bool) (*Request, error) {
	return c.SendPacket(common.NewDataPacket(payload, port, to, wantResponse), correlator.ExpectResponse)
}

// RemoveNode asks the device to drop a node from its node database. The
// local database follows once the device confirmed the removal.
func (c *Connection) RemoveNode(num common.NodeNum) (*Request, error) {
	self := c.LocalNode().Num()
	pkt := common.NewDataPacket(codec.EncodeRemoveNode(num), common.PortAdminApp, self, true)
	pkt.WantAck = false
	return c.SendPacket(pkt, correlator.ExpectResponse)
}

// SendPacket queues a packet for the device. The request is tracked if the
// packet sets want-ack (expect ack) or want-response (expect response). The
// packet id is assigned here unless the caller set one.
func (c *Connection) SendPacket(pkt *common.MeshPacket, expect correlator.Expectation) (*Request, error) {
	return c.send(pkt, expect, c.config.RequestTimeout)
}

// SendAndWait sends a packet and waits for its outcome, retrying timeouts
// and transient naks according to policy. Every attempt uses a fresh packet
// id.
func (c *Connection) SendAndWait(ctx context.Context, pkt *common.MeshPacket, expect correlator.Expectation, policy RetryPolicy) (correlator.Result, error) {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.Timeout <= 0 {
		policy.Timeout = c.config.RequestTimeout
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}

	var lastErr error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			delay := util.Backoff(attempt-1, policy.BaseDelay, policy.MaxDelay)
			Logger.Debugf("attempt %d/%d failed: %v, retrying in %s", attempt, policy.Attempts, lastErr, delay)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return correlator.Result{}, ctx.Err()
			}
		}

		p := *pkt
		if attempt > 0 {
			p.ID = 0
		}
		req, err := c.send(&p, expect, policy.Timeout)
		if err != nil {
			return correlator.Result{}, err
		}
		if !req.Tracked() {
			return correlator.Result{}, common.ErrNoResponseExpected
		}

		res, err := req.Wait(ctx)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return correlator.Result{}, err
		}
		lastErr = err
	}
	return correlator.Result{}, lastErr
}

// send registers the packet with the correlator (if it expects something)
// and queues it
func (c *Connection) send(pkt *common.MeshPacket, expect correlator.Expectation, timeout time.Duration) (*Request, error) {
	if pkt == nil {
		return nil, errors.New("nil packet")
	}
	if st := c.State(); st != StateConnected {
		return nil, &common.NotConnectedError{State: st.String()}
	}

	tracked := (expect == correlator.ExpectAck && pkt.WantAck) ||
		(expect == correlator.ExpectResponse && pkt.Decoded != nil && pkt.Decoded.WantResponse)

	req := &Request{Packet: pkt}
	var err error
	switch {
	case tracked && pkt.ID != 0:
		req.pending, err = c.correlator.Register(pkt.ID, timeout, expect)
	case tracked:
		if req.pending, err = c.correlator.Reserve(timeout, expect); err == nil {
			pkt.ID = req.pending.ID
		}
	case pkt.ID == 0:
		pkt.ID, err = c.correlator.NextID()
	}
	if err != nil {
		return nil, err
	}

	if err := c.enqueue(common.NewPacketToRadio(pkt)); err != nil {
		if req.pending != nil {
			c.correlator.Fail(pkt.ID, err)
		}
		return nil, err
	}
	Logger.Debugf("queued %s", pkt)
	return req, nil
}
